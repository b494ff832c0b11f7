// Package task runs keyed background jobs with observable state. At most one
// run per key is in flight.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/trace"
)

// Status of a task key.
type Status string

const (
	Idle       Status = "idle"
	Generating Status = "generating"
	Success    Status = "success"
	Failed     Status = "error"
)

// Progress is reported by a running task. Delta carries streamed text.
type Progress struct {
	Step    string `json:"step"`
	Chunk   int    `json:"chunk,omitempty"`
	Total   int    `json:"total,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
	Delta   string `json:"delta,omitempty"`
}

// State is the observable state of a task key.
type State struct {
	Status    Status    `json:"status"`
	Text      string    `json:"text,omitempty"`
	Error     string    `json:"error,omitempty"`
	Progress  Progress  `json:"progress"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is published on every state or progress change.
type Event struct {
	TaskID string `json:"task_id"`
	State  State  `json:"state"`
}

// Func does the work of a task, reporting progress as it goes.
type Func func(ctx context.Context, report func(Progress)) (string, error)

// Spec describes one run. OnSuccess runs before the task is marked successful
// and is skipped when the run fails or is cancelled.
type Spec struct {
	Run       Func
	OnSuccess func(ctx context.Context, text string) error
}

type entry struct {
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner owns all task keys.
type Runner struct {
	mu     sync.Mutex
	tasks  map[string]*entry
	subs   map[int]func(Event)
	nextID int
	wg     sync.WaitGroup
}

func NewRunner() *Runner {
	return &Runner{tasks: make(map[string]*entry), subs: make(map[int]func(Event))}
}

// Get returns the state of id; unknown ids are idle.
func (r *Runner) Get(id string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.tasks[id]; ok {
		return e.state
	}
	return State{Status: Idle}
}

// Start launches spec under id unless a run is already generating, in which
// case it returns false. The run outlives ctx's cancellation but keeps its values.
func (r *Runner) Start(ctx context.Context, id string, spec Spec) bool {
	r.mu.Lock()
	if e, ok := r.tasks[id]; ok && e.state.Status == Generating {
		r.mu.Unlock()
		return false
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &entry{
		state:  State{Status: Generating, UpdatedAt: time.Now()},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.tasks[id] = e
	r.wg.Add(1)
	r.mu.Unlock()

	r.publish(id, e.state)
	go r.run(trace.WithScope(runCtx, trace.Scope{TaskID: id}), id, e, spec)
	return true
}

func (r *Runner) run(ctx context.Context, id string, e *entry, spec Spec) {
	defer r.wg.Done()
	defer close(e.done)
	defer e.cancel()

	log := trace.Logger(ctx)
	report := func(p Progress) {
		r.update(id, e, func(s *State) { s.Progress = p })
	}

	text, err := spec.Run(ctx, report)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil && spec.OnSuccess != nil {
		err = spec.OnSuccess(ctx, text)
	}

	switch {
	case errors.Is(err, context.Canceled):
		log.Info("task aborted")
		r.update(id, e, func(s *State) { *s = State{Status: Idle} })
	case err != nil:
		log.Warn("task failed", "error", err)
		r.update(id, e, func(s *State) {
			s.Status = Failed
			s.Error = err.Error()
		})
	default:
		log.Debug("task succeeded", "chars", len(text))
		r.update(id, e, func(s *State) {
			s.Status = Success
			s.Text = text
			s.Error = ""
		})
	}
}

func (r *Runner) update(id string, e *entry, fn func(*State)) {
	r.mu.Lock()
	fn(&e.state)
	e.state.UpdatedAt = time.Now()
	st := e.state
	r.mu.Unlock()
	r.publish(id, st)
}

// Cancel aborts the in-flight run of id. It reports whether one was running.
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	e, ok := r.tasks[id]
	running := ok && e.state.Status == Generating
	r.mu.Unlock()
	if !running {
		return false
	}
	e.cancel()
	return true
}

// Wait blocks until the current run of id finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context, id string) State {
	r.mu.Lock()
	e, ok := r.tasks[id]
	r.mu.Unlock()
	if !ok {
		return State{Status: Idle}
	}
	select {
	case <-e.done:
	case <-ctx.Done():
	}
	return r.Get(id)
}

// Subscribe registers fn for task events and returns its unsubscribe func.
func (r *Runner) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Shutdown cancels every running task and waits for them to exit.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	for _, e := range r.tasks {
		e.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) publish(id string, st State) {
	r.mu.Lock()
	subs := make([]func(Event), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()
	for _, fn := range subs {
		fn(Event{TaskID: id, State: st})
	}
}

// EnhanceID is the task key for a note's enhancement.
func EnhanceID(noteID string) string { return noteID + "-enhance" }

// TitleID is the task key for a session's title generation.
func TitleID(sessionID string) string { return sessionID + "-title" }
