// Package transcript owns the persisted word/hint model of a recording and the
// reconcilers that fold streaming and batch STT output into it.
package transcript

import (
	"encoding/json"
)

// WordState marks a live guess that a later final word may supersede.
type WordState string

const (
	StateFinal   WordState = "final"
	StatePending WordState = "pending"
)

// Word is a single transcribed token. ID is unique within a transcript.
type Word struct {
	ID      string    `json:"id"`
	Text    string    `json:"text"`
	StartMs int64     `json:"start_ms"`
	EndMs   int64     `json:"end_ms"`
	Channel int       `json:"channel"`
	State   WordState `json:"state,omitempty"`
}

func (w Word) IsPending() bool { return w.State == StatePending }

// HintType discriminates the JSON carried in SpeakerHint.Value.
type HintType string

const (
	HintProviderSpeakerIndex  HintType = "provider_speaker_index"
	HintUserSpeakerAssignment HintType = "user_speaker_assignment"
)

// SpeakerHint is weak evidence tying a word to a speaker. WordID may dangle.
type SpeakerHint struct {
	ID     string   `json:"id"`
	WordID string   `json:"word_id"`
	Type   HintType `json:"type"`
	Value  string   `json:"value"`
}

// ProviderSpeakerIndex is the value of a provider_speaker_index hint.
type ProviderSpeakerIndex struct {
	Provider     string `json:"provider,omitempty"`
	Channel      *int   `json:"channel,omitempty"`
	SpeakerIndex int    `json:"speaker_index"`
}

// UserSpeakerAssignment is the value of a user_speaker_assignment hint.
type UserSpeakerAssignment struct {
	HumanID string `json:"human_id"`
}

// NewProviderHint builds a provider_speaker_index hint for wordID.
func NewProviderHint(id, wordID string, v ProviderSpeakerIndex) SpeakerHint {
	raw, _ := json.Marshal(v)
	return SpeakerHint{ID: id, WordID: wordID, Type: HintProviderSpeakerIndex, Value: string(raw)}
}

// NewUserHint builds a user_speaker_assignment hint for wordID.
func NewUserHint(id, wordID, humanID string) SpeakerHint {
	raw, _ := json.Marshal(UserSpeakerAssignment{HumanID: humanID})
	return SpeakerHint{ID: id, WordID: wordID, Type: HintUserSpeakerAssignment, Value: string(raw)}
}

// ProviderIndex decodes the hint value. ok is false for other hint types or bad JSON.
func (h SpeakerHint) ProviderIndex() (ProviderSpeakerIndex, bool) {
	var v ProviderSpeakerIndex
	if h.Type != HintProviderSpeakerIndex || json.Unmarshal([]byte(h.Value), &v) != nil {
		return v, false
	}
	return v, true
}

// UserAssignment decodes a user_speaker_assignment hint.
func (h SpeakerHint) UserAssignment() (UserSpeakerAssignment, bool) {
	var v UserSpeakerAssignment
	if h.Type != HintUserSpeakerAssignment || json.Unmarshal([]byte(h.Value), &v) != nil || v.HumanID == "" {
		return v, false
	}
	return v, true
}

// IndexHint is a provider hint addressed by position in a delta's word list.
type IndexHint struct {
	WordIndex    int  `json:"word_index"`
	SpeakerIndex int  `json:"speaker_index"`
	Channel      *int `json:"channel,omitempty"`
}

// StreamResponse is one streaming update from a live STT provider. Words with
// state "pending" are partial; the rest are final.
type StreamResponse struct {
	NewWords    []Word      `json:"new_words"`
	ReplacedIDs []string    `json:"replaced_ids"`
	Hints       []IndexHint `json:"hints"`
}

// BatchWord is a word as reported by a file transcription provider.
type BatchWord struct {
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Speaker *int   `json:"speaker,omitempty"`
}

type BatchAlternative struct {
	Transcript string      `json:"transcript"`
	Words      []BatchWord `json:"words"`
}

type BatchChannel struct {
	Alternatives []BatchAlternative `json:"alternatives"`
}

// BatchResponse is a whole-file transcription result.
type BatchResponse struct {
	Channels []BatchChannel `json:"channels"`
}
