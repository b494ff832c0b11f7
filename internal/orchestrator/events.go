package orchestrator

import (
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/transcript"
)

type EventType string

const (
	EventListener      EventType = "listener"
	EventPartialWords  EventType = "partial_words"
	EventBatchProgress EventType = "batch_progress"
	EventTask          EventType = "task"
	EventAutoEnhance   EventType = "auto_enhance"
	EventViewNote      EventType = "view_note"
)

// Event is one notification for connected clients. Data holds the payload
// matching Type.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Data      any       `json:"data"`
}

// PartialWords is the live, not yet final, tail of a transcript.
type PartialWords struct {
	TranscriptID string                   `json:"transcript_id"`
	Words        []transcript.Word        `json:"words"`
	Hints        []transcript.SpeakerHint `json:"hints"`

	sessionID string
}

// ViewNote asks clients showing the session to switch to a note.
type ViewNote struct {
	NoteID string `json:"note_id"`
}

// Events returns the channel all manager events are published on.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// emit publishes without blocking; events are dropped when nobody keeps up.
func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
	}
}
