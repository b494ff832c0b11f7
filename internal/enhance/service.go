package enhance

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/GriffinCanCode/good-listener/backend/notes/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/listener"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/rowstore"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/task"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/trace"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/workflow"
)

const (
	DefaultMinWords    = 5
	DefaultMaxAttempts = 20
	DefaultRetryDelay  = 500 * time.Millisecond
)

const reasonNoModel = "No AI model configured"

type EventType string

const (
	EventAutoStarted EventType = "auto-enhance-started"
	EventAutoSkipped EventType = "auto-enhance-skipped"
)

// Event reports the outcome of an automatic enhancement.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	NoteID    string    `json:"note_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

type ResultType string

const (
	Started ResultType = "started"
	Skipped ResultType = "skipped"
	NoModel ResultType = "no_model"
)

// Result is the outcome of Enhance.
type Result struct {
	Type   ResultType `json:"type"`
	NoteID string     `json:"note_id,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

type Options struct {
	IsAuto     bool
	TemplateID string
}

// Generator starts a note's generation. It returns false if one is already running.
type Generator interface {
	Generate(ctx context.Context, job workflow.Job) bool
}

// TaskStates looks up task state by id.
type TaskStates interface {
	Get(id string) task.State
}

// Deps are the collaborators of a Service. Lifecycle, Visible, ShowNote and
// Analytics are optional.
type Deps struct {
	Store     rowstore.Store
	Tasks     TaskStates
	Generator Generator
	Model     workflow.ModelFunc
	Lifecycle *listener.Hub
	// Visible returns the session currently open in the UI.
	Visible func() string
	// ShowNote switches the session's view to the note being generated.
	ShowNote  func(sessionID, noteID string)
	Analytics func(ctx context.Context, event string, props map[string]any)

	MinWords    int
	MaxAttempts int
	RetryDelay  time.Duration
}

// Service is the single entry point for enhancement.
type Service struct {
	deps   Deps
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       tracker
	listeners   map[int]func(Event)
	nextID      int
	unsubscribe func()
	disposed    bool
}

// NewService builds a Service and, when deps.Lifecycle is set, starts watching
// recording transitions. Automatic attempts run under ctx.
func NewService(ctx context.Context, deps Deps) *Service {
	if deps.MinWords <= 0 {
		deps.MinWords = DefaultMinWords
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = DefaultMaxAttempts
	}
	if deps.RetryDelay <= 0 {
		deps.RetryDelay = DefaultRetryDelay
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Service{
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		state:     newTracker(),
		listeners: make(map[int]func(Event)),
	}
	if deps.Lifecycle != nil {
		s.unsubscribe = deps.Lifecycle.Subscribe(s.onTransition)
	}
	return s
}

// Enhance starts generating the session's note for opts.TemplateID. A note is
// reused per (session, template); a note that is generating or already
// generated reports Started without another generation.
func (s *Service) Enhance(ctx context.Context, sessionID string, opts Options) (Result, error) {
	ctx = trace.WithScope(ctx, trace.Scope{SessionID: sessionID})
	ctx, span := trace.StartSpan(ctx, "enhance")
	span.SetAttr("auto", opts.IsAuto)
	res, err := s.enhance(ctx, sessionID, opts)
	span.SetAttr("result", string(res.Type))
	span.Finish(ctx, err)
	return res, err
}

func (s *Service) enhance(ctx context.Context, sessionID string, opts Options) (Result, error) {
	if sessionID == "" {
		return Result{}, apperrors.New(apperrors.InvalidArgument, "session id is required")
	}
	model, ok := s.deps.Model()
	if !ok {
		return Result{Type: NoModel}, nil
	}
	if e := SessionEligibility(s.deps.Store, sessionID, s.deps.MinWords); !e.Eligible {
		return Result{Type: Skipped, Reason: e.Reason}, nil
	}

	noteID, err := s.findOrCreateNote(sessionID, opts.TemplateID)
	if err != nil {
		return Result{}, err
	}
	ctx = trace.WithScope(ctx, trace.Scope{NoteID: noteID})

	s.mu.Lock()
	if busy := s.deps.Tasks.Get(task.EnhanceID(noteID)).Status; busy == task.Generating || busy == task.Success || !s.state.claimNote(noteID) {
		s.mu.Unlock()
		trace.Logger(ctx).Debug("note already generating or generated")
		return Result{Type: Started, NoteID: noteID}, nil
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.state.releaseNote(noteID)
		s.mu.Unlock()
	}()

	if s.deps.ShowNote != nil {
		s.deps.ShowNote(sessionID, noteID)
	}
	if s.deps.Analytics != nil {
		s.deps.Analytics(ctx, "note_enhance_started", map[string]any{
			"is_auto":      opts.IsAuto,
			"template_id":  opts.TemplateID,
			"llm_provider": model.Provider,
			"llm_model":    model.Name,
		})
	}
	s.deps.Generator.Generate(ctx, workflow.Job{
		SessionID:  sessionID,
		NoteID:     noteID,
		TemplateID: opts.TemplateID,
		Model:      model,
	})
	return Result{Type: Started, NoteID: noteID}, nil
}

func (s *Service) findOrCreateNote(sessionID, templateID string) (string, error) {
	var noteID string
	err := s.deps.Store.Transaction(func(tx rowstore.Tx) error {
		if id, ok := workflow.FindNote(tx, sessionID, templateID); ok {
			noteID = id
			return nil
		}
		noteID = uuid.NewString()
		return workflow.CreateNote(tx, noteID, sessionID, templateID)
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.StoreFailed, "create enhanced note").WithMetadata("session_id", sessionID)
	}
	return noteID, nil
}

func (s *Service) onTransition(t listener.Transition) {
	visible := ""
	if s.deps.Visible != nil {
		visible = s.deps.Visible()
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	if t.Curr == listener.Active && t.SessionID != "" {
		s.state.resetSession(t.SessionID)
	}
	sid := SelectStoppedSession(t.Prev, t.Curr, t.PrevSessionID, visible, func(id string) bool {
		return s.state.session(id) != NotStarted
	})
	var epoch uint64
	if sid != "" {
		epoch, _ = s.state.beginAuto(sid)
	}
	s.mu.Unlock()

	if sid != "" {
		go s.tryAutoEnhance(sid, epoch, 1)
	}
}

// tryAutoEnhance makes one automatic attempt and reschedules itself while the
// transcript is not yet eligible.
func (s *Service) tryAutoEnhance(sessionID string, epoch uint64, attempt int) {
	if !s.stillPending(sessionID, epoch) {
		return
	}
	ctx := trace.WithScope(s.ctx, trace.Scope{SessionID: sessionID})
	log := trace.Logger(ctx)

	res, err := s.Enhance(ctx, sessionID, Options{IsAuto: true})
	switch {
	case err != nil:
		log.Warn("auto-enhance failed", "attempt", attempt, "error", err)
		s.finishAuto(sessionID, epoch, Event{Type: EventAutoSkipped, SessionID: sessionID, Reason: err.Error()})
	case res.Type == Started:
		s.finishAuto(sessionID, epoch, Event{Type: EventAutoStarted, SessionID: sessionID, NoteID: res.NoteID})
	case res.Type == NoModel:
		s.finishAuto(sessionID, epoch, Event{Type: EventAutoSkipped, SessionID: sessionID, Reason: reasonNoModel})
	case attempt >= s.deps.MaxAttempts:
		log.Info("auto-enhance gave up", "attempt", attempt, "reason", res.Reason)
		s.finishAuto(sessionID, epoch, Event{Type: EventAutoSkipped, SessionID: sessionID, Reason: res.Reason})
	default:
		log.Debug("auto-enhance not yet eligible", "attempt", attempt, "reason", res.Reason)
		s.retry(sessionID, epoch, attempt+1)
	}
}

func (s *Service) stillPending(sessionID string, epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disposed && s.state.pending(sessionID, epoch)
}

func (s *Service) retry(sessionID string, epoch uint64, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || !s.state.pending(sessionID, epoch) {
		return
	}
	s.state.sessions[sessionID].timer = time.AfterFunc(s.deps.RetryDelay, func() {
		s.tryAutoEnhance(sessionID, epoch, attempt)
	})
}

func (s *Service) finishAuto(sessionID string, epoch uint64, ev Event) {
	s.mu.Lock()
	live := !s.disposed && s.state.pending(sessionID, epoch)
	if live {
		s.state.finishAuto(sessionID, epoch)
	}
	s.mu.Unlock()
	if live {
		s.emit(ev)
	}
}

// AutoPhase reports where a session's automatic enhancement stands.
func (s *Service) AutoPhase(sessionID string) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.session(sessionID)
}

// On registers fn for auto-enhance events and returns its unsubscribe func.
func (s *Service) On(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Service) emit(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Dispose stops watching the lifecycle, cancels pending retries and drops all
// listeners. The Service must not be used afterwards.
func (s *Service) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.state.stopAll()
	clear(s.listeners)
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.cancel()
}
