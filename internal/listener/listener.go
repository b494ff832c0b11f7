// Package listener tracks the live recording session and fans out status
// transitions.
package listener

import (
	"sync"
)

// Status of the recording pipeline.
type Status string

const (
	Inactive   Status = "inactive"
	Active     Status = "active"
	Finalizing Status = "finalizing"
)

func (s Status) Valid() bool {
	switch s {
	case Inactive, Active, Finalizing:
		return true
	}
	return false
}

// Transition is emitted whenever status or session changes.
type Transition struct {
	Prev          Status `json:"prev"`
	Curr          Status `json:"status"`
	PrevSessionID string `json:"prev_session_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
}

// Hub holds the current listener state.
type Hub struct {
	mu        sync.Mutex
	status    Status
	sessionID string
	nextID    int
	subs      map[int]func(Transition)
}

func NewHub() *Hub {
	return &Hub{status: Inactive, subs: make(map[int]func(Transition))}
}

// State returns the current status and session id.
func (h *Hub) State() (Status, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.sessionID
}

// Set moves the hub to status for sessionID and notifies subscribers. Setting
// the same state again is a no-op.
func (h *Hub) Set(status Status, sessionID string) {
	h.mu.Lock()
	if h.status == status && h.sessionID == sessionID {
		h.mu.Unlock()
		return
	}
	t := Transition{Prev: h.status, Curr: status, PrevSessionID: h.sessionID, SessionID: sessionID}
	h.status, h.sessionID = status, sessionID
	subs := make([]func(Transition), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		fn(t)
	}
}

// Subscribe registers fn for transitions and returns its unsubscribe func.
func (h *Hub) Subscribe(fn func(Transition)) (unsubscribe func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}
