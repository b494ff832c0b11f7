package enhance

import "time"

// Phase is the lifecycle of a tracked key: a session's auto-enhance or a
// note's generation kickoff.
type Phase int

const (
	NotStarted Phase = iota
	Pending
	Generating
	Done
)

func (p Phase) String() string {
	switch p {
	case Pending:
		return "pending"
	case Generating:
		return "generating"
	case Done:
		return "done"
	default:
		return "not_started"
	}
}

// autoState is one session's auto-enhance run. epoch tells a stale retry timer
// apart from the run that replaced it.
type autoState struct {
	phase Phase
	epoch uint64
	timer *time.Timer
}

// tracker holds per-session and per-note phases. Absent keys are NotStarted.
// Callers serialize access.
type tracker struct {
	sessions map[string]*autoState
	notes    map[string]Phase
	epoch    uint64
}

func newTracker() tracker {
	return tracker{sessions: make(map[string]*autoState), notes: make(map[string]Phase)}
}

func (t *tracker) session(id string) Phase {
	if st, ok := t.sessions[id]; ok {
		return st.phase
	}
	return NotStarted
}

// beginAuto moves a NotStarted session to Pending and returns its epoch.
func (t *tracker) beginAuto(id string) (uint64, bool) {
	if t.session(id) != NotStarted {
		return 0, false
	}
	t.epoch++
	t.sessions[id] = &autoState{phase: Pending, epoch: t.epoch}
	return t.epoch, true
}

// pending reports whether epoch is still the live Pending run of id.
func (t *tracker) pending(id string, epoch uint64) bool {
	st, ok := t.sessions[id]
	return ok && st.epoch == epoch && st.phase == Pending
}

func (t *tracker) finishAuto(id string, epoch uint64) {
	if st, ok := t.sessions[id]; ok && st.epoch == epoch {
		st.phase = Done
		st.timer = nil
	}
}

// resetSession forgets a session's auto-enhance run and stops its retry.
func (t *tracker) resetSession(id string) {
	if st, ok := t.sessions[id]; ok {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(t.sessions, id)
	}
}

// claimNote marks a note Generating; it fails if the note already is.
func (t *tracker) claimNote(id string) bool {
	if t.notes[id] == Generating {
		return false
	}
	t.notes[id] = Generating
	return true
}

func (t *tracker) releaseNote(id string) {
	delete(t.notes, id)
}

func (t *tracker) stopAll() {
	for _, st := range t.sessions {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
	}
}
