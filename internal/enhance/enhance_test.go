package enhance

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/listener"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/llm"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/rowstore"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/task"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/transcript"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/workflow"
)

// fakeGen records generate calls and doubles as the task state lookup. A
// started job is reported as generating.
type fakeGen struct {
	mu      sync.Mutex
	jobs    []workflow.Job
	states  map[string]task.Status
	entered chan struct{}
	release chan struct{}
}

func newFakeGen() *fakeGen {
	return &fakeGen{states: make(map[string]task.Status)}
}

func (f *fakeGen) Generate(_ context.Context, job workflow.Job) bool {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	entered, release := f.entered, f.release
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	f.mu.Lock()
	f.states[task.EnhanceID(job.NoteID)] = task.Generating
	f.mu.Unlock()
	return true
}

func (f *fakeGen) Get(id string) task.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.states[id]; ok {
		return task.State{Status: s}
	}
	return task.State{Status: task.Idle}
}

func (f *fakeGen) calls() []workflow.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]workflow.Job(nil), f.jobs...)
}

func withModel() (llm.Model, bool) { return llm.Model{Provider: "ollama", Name: "llama3"}, true }

func addWords(t *testing.T, s rowstore.Store, sessionID, transcriptID string, n int) {
	t.Helper()
	err := s.Transaction(func(tx rowstore.Tx) error {
		existing := transcript.Words(tx, transcriptID)
		if _, ok := tx.GetRow(rowstore.Transcripts, transcriptID); !ok {
			if err := transcript.Create(tx, transcriptID, sessionID, 0); err != nil {
				return err
			}
		}
		for i := 0; i < n; i++ {
			k := len(existing)
			existing = append(existing, transcript.Word{
				ID:      fmt.Sprintf("%s-w%d", transcriptID, k),
				Text:    fmt.Sprintf("word%d", k),
				StartMs: int64(k * 100),
				EndMs:   int64(k*100 + 80),
			})
		}
		return tx.SetCell(rowstore.Transcripts, transcriptID, transcript.CellWords, transcript.EncodeWords(existing))
	})
	if err != nil {
		t.Fatalf("addWords: %v", err)
	}
}

func newService(t *testing.T, deps Deps) (*Service, *fakeGen) {
	t.Helper()
	gen := newFakeGen()
	if deps.Store == nil {
		deps.Store = rowstore.NewMemory()
	}
	if deps.Model == nil {
		deps.Model = withModel
	}
	deps.Tasks = gen
	deps.Generator = gen
	s := NewService(context.Background(), deps)
	t.Cleanup(s.Dispose)
	return s, gen
}

func TestGetEligibility(t *testing.T) {
	store := rowstore.NewMemory()
	addWords(t, store, "s1", "short", 3)
	addWords(t, store, "s1", "long", 4)

	tests := []struct {
		name     string
		has      bool
		ids      []string
		eligible bool
		reason   string
	}{
		{"no transcript", false, nil, false, ReasonNoTranscript},
		{"too short", true, []string{"short"}, false, "Transcript too short to enhance (3 of 5 words)"},
		{"summed across transcripts", true, []string{"short", "long"}, true, ""},
		{"missing transcript counts zero", true, []string{"nope"}, false, "Transcript too short to enhance (0 of 5 words)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetEligibility(tt.has, tt.ids, store, 5)
			if got.Eligible != tt.eligible || got.Reason != tt.reason {
				t.Errorf("GetEligibility() = %+v, want {%v %q}", got, tt.eligible, tt.reason)
			}
		})
	}
}

func TestEligibilityMonotonic(t *testing.T) {
	store := rowstore.NewMemory()
	addWords(t, store, "s1", "t1", 0)
	wasEligible := false
	for i := 0; i < 15; i++ {
		e := SessionEligibility(store, "s1", 5)
		if wasEligible && !e.Eligible {
			t.Fatalf("session became ineligible after adding words: %+v", e)
		}
		if e.Eligible != (i >= 5) {
			t.Errorf("with %d words eligible = %v", i, e.Eligible)
		}
		wasEligible = e.Eligible
		addWords(t, store, "s1", "t1", 1)
	}
}

func TestSessionEligibilityWithoutTranscripts(t *testing.T) {
	if e := SessionEligibility(rowstore.NewMemory(), "s1", 5); e.Eligible || e.Reason != ReasonNoTranscript {
		t.Errorf("SessionEligibility() = %+v, want %q", e, ReasonNoTranscript)
	}
}

func TestSelectStoppedSession(t *testing.T) {
	handled := func(ids ...string) func(string) bool {
		return func(id string) bool {
			for _, h := range ids {
				if h == id {
					return true
				}
			}
			return false
		}
	}
	tests := []struct {
		name    string
		prev    listener.Status
		curr    listener.Status
		prevID  string
		visible string
		handled func(string) bool
		want    string
	}{
		{"stopped in background", listener.Active, listener.Inactive, "s1", "s2", nil, "s1"},
		{"stopped while visible", listener.Active, listener.Inactive, "s1", "s1", nil, ""},
		{"already handled", listener.Active, listener.Inactive, "s1", "s2", handled("s1"), ""},
		{"other session handled", listener.Active, listener.Inactive, "s1", "s2", handled("s3"), "s1"},
		{"was not recording", listener.Inactive, listener.Inactive, "s1", "s2", nil, ""},
		{"finished finalizing", listener.Finalizing, listener.Inactive, "s1", "", nil, "s1"},
		{"entered finalizing", listener.Active, listener.Finalizing, "s1", "", nil, ""},
		{"no previous session", listener.Active, listener.Inactive, "", "s2", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectStoppedSession(tt.prev, tt.curr, tt.prevID, tt.visible, tt.handled); got != tt.want {
				t.Errorf("SelectStoppedSession() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTracker(t *testing.T) {
	tr := newTracker()
	epoch, ok := tr.beginAuto("s1")
	if !ok || tr.session("s1") != Pending || !tr.pending("s1", epoch) {
		t.Fatalf("beginAuto: ok=%v phase=%v", ok, tr.session("s1"))
	}
	if _, ok := tr.beginAuto("s1"); ok {
		t.Error("beginAuto succeeded twice")
	}
	tr.finishAuto("s1", epoch)
	if tr.session("s1") != Done || tr.pending("s1", epoch) {
		t.Errorf("after finish phase = %v", tr.session("s1"))
	}
	tr.resetSession("s1")
	fresh, ok := tr.beginAuto("s1")
	if !ok || fresh == epoch || tr.pending("s1", epoch) {
		t.Errorf("stale epoch still pending after reset")
	}

	if !tr.claimNote("n1") || tr.claimNote("n1") {
		t.Error("claimNote should succeed exactly once")
	}
	tr.releaseNote("n1")
	if !tr.claimNote("n1") {
		t.Error("claimNote failed after release")
	}
}

func TestEnhanceNoModel(t *testing.T) {
	s, gen := newService(t, Deps{Model: func() (llm.Model, bool) { return llm.Model{}, false }})
	res, err := s.Enhance(context.Background(), "s1", Options{})
	if err != nil || res.Type != NoModel {
		t.Fatalf("Enhance() = %+v, %v, want no_model", res, err)
	}
	if len(gen.calls()) != 0 {
		t.Error("generate called without a model")
	}
}

func TestEnhanceSkippedWhenIneligible(t *testing.T) {
	store := rowstore.NewMemory()
	addWords(t, store, "s1", "t1", 2)
	s, gen := newService(t, Deps{Store: store})

	res, err := s.Enhance(context.Background(), "s1", Options{})
	if err != nil || res.Type != Skipped || res.Reason == "" {
		t.Fatalf("Enhance() = %+v, %v, want skipped with reason", res, err)
	}
	if len(gen.calls()) != 0 || len(workflow.SessionNotes(store, "s1")) != 0 {
		t.Error("ineligible session generated or created a note")
	}
}

func TestEnhanceRequiresSession(t *testing.T) {
	s, _ := newService(t, Deps{})
	if _, err := s.Enhance(context.Background(), "", Options{}); err == nil {
		t.Error("Enhance(\"\") succeeded")
	}
}

func TestAutoEnhanceDedup(t *testing.T) {
	store := rowstore.NewMemory()
	addWords(t, store, "s1", "t1", 10)
	var shown []string
	s, gen := newService(t, Deps{Store: store, ShowNote: func(_, noteID string) { shown = append(shown, noteID) }})
	ctx := context.Background()

	first, err := s.Enhance(ctx, "s1", Options{IsAuto: true})
	if err != nil || first.Type != Started {
		t.Fatalf("first Enhance() = %+v, %v", first, err)
	}
	second, err := s.Enhance(ctx, "s1", Options{IsAuto: true})
	if err != nil || second.Type != Started || second.NoteID != first.NoteID {
		t.Fatalf("second Enhance() = %+v, %v, want started for %s", second, err, first.NoteID)
	}
	if n := len(gen.calls()); n != 1 {
		t.Fatalf("generate calls = %d, want 1", n)
	}

	custom, err := s.Enhance(ctx, "s1", Options{TemplateID: "custom"})
	if err != nil || custom.Type != Started {
		t.Fatalf("custom Enhance() = %+v, %v", custom, err)
	}
	if custom.NoteID == first.NoteID {
		t.Error("different template reused the note")
	}
	calls := gen.calls()
	if len(calls) != 2 || calls[1].TemplateID != "custom" || calls[1].NoteID != custom.NoteID {
		t.Errorf("generate calls = %+v, want a second call for the custom template", calls)
	}
	if len(shown) != 2 {
		t.Errorf("view switched %d times, want 2", len(shown))
	}
	if notes := workflow.SessionNotes(store, "s1"); len(notes) != 2 {
		t.Errorf("notes = %+v, want 2", notes)
	}
}

func TestEnhanceReusesNoteWhileKickoffInFlight(t *testing.T) {
	store := rowstore.NewMemory()
	addWords(t, store, "s1", "t1", 10)
	s, gen := newService(t, Deps{Store: store})
	gen.entered = make(chan struct{})
	gen.release = make(chan struct{})

	type out struct {
		res Result
		err error
	}
	firstDone := make(chan out, 1)
	go func() {
		res, err := s.Enhance(context.Background(), "s1", Options{TemplateID: "T"})
		firstDone <- out{res, err}
	}()
	<-gen.entered

	second, err := s.Enhance(context.Background(), "s1", Options{TemplateID: "T"})
	close(gen.release)
	first := <-firstDone

	if first.err != nil || err != nil {
		t.Fatalf("errors = %v, %v", first.err, err)
	}
	if first.res.Type != Started || second.Type != Started || first.res.NoteID != second.NoteID {
		t.Errorf("results = %+v, %+v, want started with the same note", first.res, second)
	}
	if n := len(gen.calls()); n != 1 {
		t.Errorf("generate calls = %d, want 1", n)
	}
}

func TestEnhanceSuccessfulNoteIsNotRegenerated(t *testing.T) {
	store := rowstore.NewMemory()
	addWords(t, store, "s1", "t1", 10)
	s, gen := newService(t, Deps{Store: store})

	res, _ := s.Enhance(context.Background(), "s1", Options{IsAuto: true})
	gen.mu.Lock()
	gen.states[task.EnhanceID(res.NoteID)] = task.Success
	gen.mu.Unlock()

	again, err := s.Enhance(context.Background(), "s1", Options{})
	if err != nil || again.Type != Started || again.NoteID != res.NoteID {
		t.Errorf("Enhance() = %+v, %v", again, err)
	}
	if n := len(gen.calls()); n != 1 {
		t.Errorf("generate calls = %d, want 1", n)
	}

	gen.mu.Lock()
	gen.states[task.EnhanceID(res.NoteID)] = task.Failed
	gen.mu.Unlock()
	if _, err := s.Enhance(context.Background(), "s1", Options{}); err != nil {
		t.Fatal(err)
	}
	if n := len(gen.calls()); n != 2 {
		t.Errorf("failed note was not regenerated: %d calls", n)
	}
}

func collect(s *Service) <-chan Event {
	ch := make(chan Event, 16)
	s.On(func(ev Event) { ch <- ev })
	return ch
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestAutoEnhanceOnStop(t *testing.T) {
	store := rowstore.NewMemory()
	addWords(t, store, "s1", "t1", 10)
	hub := listener.NewHub()
	s, gen := newService(t, Deps{Store: store, Lifecycle: hub, Visible: func() string { return "s2" }, RetryDelay: time.Millisecond})
	events := collect(s)

	hub.Set(listener.Active, "s1")
	hub.Set(listener.Finalizing, "s1")
	hub.Set(listener.Inactive, "")

	ev := next(t, events)
	if ev.Type != EventAutoStarted || ev.SessionID != "s1" || ev.NoteID == "" {
		t.Fatalf("event = %+v, want auto-enhance-started for s1", ev)
	}
	if s.AutoPhase("s1") != Done {
		t.Errorf("phase = %v, want done", s.AutoPhase("s1"))
	}
	if calls := gen.calls(); len(calls) != 1 || calls[0].NoteID != ev.NoteID {
		t.Errorf("generate calls = %+v", calls)
	}

	// A fresh recording of the same session gets a fresh opportunity.
	hub.Set(listener.Active, "s1")
	if s.AutoPhase("s1") != NotStarted {
		t.Errorf("phase after restart = %v, want not_started", s.AutoPhase("s1"))
	}
	hub.Set(listener.Inactive, "")
	if ev := next(t, events); ev.Type != EventAutoStarted || ev.NoteID == "" {
		t.Errorf("second event = %+v", ev)
	}
}

func TestAutoEnhanceSkipsVisibleSession(t *testing.T) {
	store := rowstore.NewMemory()
	addWords(t, store, "s1", "t1", 10)
	hub := listener.NewHub()
	s, gen := newService(t, Deps{Store: store, Lifecycle: hub, Visible: func() string { return "s1" }})

	hub.Set(listener.Active, "s1")
	hub.Set(listener.Inactive, "")

	if s.AutoPhase("s1") != NotStarted || len(gen.calls()) != 0 {
		t.Errorf("visible session was auto-enhanced: phase %v", s.AutoPhase("s1"))
	}
}

func TestAutoEnhanceWaitsForTranscript(t *testing.T) {
	store := rowstore.NewMemory()
	hub := listener.NewHub()
	s, _ := newService(t, Deps{Store: store, Lifecycle: hub, RetryDelay: 2 * time.Millisecond, MaxAttempts: 2000})
	events := collect(s)

	hub.Set(listener.Active, "s1")
	hub.Set(listener.Inactive, "")
	time.Sleep(10 * time.Millisecond)
	addWords(t, store, "s1", "t1", 10)

	if ev := next(t, events); ev.Type != EventAutoStarted {
		t.Errorf("event = %+v, want started once the transcript landed", ev)
	}
}

func TestAutoEnhanceGivesUp(t *testing.T) {
	hub := listener.NewHub()
	s, gen := newService(t, Deps{Lifecycle: hub, RetryDelay: time.Millisecond, MaxAttempts: 3})
	events := collect(s)

	hub.Set(listener.Active, "s1")
	hub.Set(listener.Inactive, "")

	ev := next(t, events)
	if ev.Type != EventAutoSkipped || ev.Reason != ReasonNoTranscript || ev.SessionID != "s1" {
		t.Errorf("event = %+v, want auto-enhance-skipped with reason", ev)
	}
	if len(gen.calls()) != 0 {
		t.Error("generate called for an empty session")
	}
}

func TestDisposeStopsRetries(t *testing.T) {
	store := rowstore.NewMemory()
	hub := listener.NewHub()
	s, gen := newService(t, Deps{Store: store, Lifecycle: hub, RetryDelay: 5 * time.Millisecond, MaxAttempts: 1000})
	events := collect(s)

	hub.Set(listener.Active, "s1")
	hub.Set(listener.Inactive, "")
	s.Dispose()
	hub.Set(listener.Active, "s2")
	hub.Set(listener.Inactive, "")
	if s.AutoPhase("s2") != NotStarted {
		t.Error("disposed service still watches the lifecycle")
	}

	select {
	case ev := <-events:
		t.Errorf("event after Dispose: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	if len(gen.calls()) != 0 {
		t.Error("generate called after Dispose")
	}
}

func TestOnUnsubscribe(t *testing.T) {
	hub := listener.NewHub()
	s, _ := newService(t, Deps{Lifecycle: hub, RetryDelay: time.Millisecond, MaxAttempts: 1})
	var got []Event
	var mu sync.Mutex
	unsubscribe := s.On(func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	unsubscribe()
	events := collect(s)

	hub.Set(listener.Active, "s1")
	hub.Set(listener.Inactive, "")
	next(t, events)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 0 {
		t.Errorf("unsubscribed listener got %+v", got)
	}
}
