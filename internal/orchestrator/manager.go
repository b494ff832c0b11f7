package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/config"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/enhance"
	apperrors "github.com/GriffinCanCode/good-listener/backend/notes/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/listener"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/llm"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/orchestrator/coalesce"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/rowstore"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/segment"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/syncx"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/task"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/trace"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/transcript"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/workflow"
)

// Manager coordinates all services
type Manager struct {
	cfg      *config.Config
	store    rowstore.Store
	provider llm.Provider
	stt      transcript.BatchProvider

	hub      *listener.Hub
	tasks    *task.Runner
	batch    *transcript.BatchReconciler
	starter  *workflow.Starter
	enhancer *enhance.Service
	partials *coalesce.Coalescer[PartialWords]
	labels   segment.LabelContext

	mu   sync.Mutex
	live *recording

	visible  *syncx.RWGuard[string]
	events   chan Event
	unsubs   []func()
	stopOnce sync.Once
}

// recording is the one live capture. Its reconciler is dropped on stop.
type recording struct {
	sessionID    string
	transcriptID string
	reconciler   *transcript.Reconciler
}

// New creates a new manager. Automatic enhancement runs until ctx is done or
// Stop is called.
func New(ctx context.Context, cfg *config.Config, store rowstore.Store, provider llm.Provider) (*Manager, error) {
	stt, err := transcript.ParseBatchProvider(cfg.STTProvider)
	if err != nil {
		return nil, err
	}
	profile := stt.Info().Profile()

	m := &Manager{
		cfg:      cfg,
		store:    store,
		provider: provider,
		stt:      stt,
		hub:      listener.NewHub(),
		tasks:    task.NewRunner(),
		visible:  syncx.NewGuard(""),
		events:   make(chan Event, EventBuffer),
	}
	if profile == transcript.SpeakerPerChannel {
		m.labels.ChannelLabels = map[int]string{0: SelfChannelLabel, 1: OthersChannelLabel}
	}
	m.partials = coalesce.New(PartialMaxPending, PartialFlushDelay, m.flushPartials)

	m.batch = transcript.NewBatchReconciler(stt, store, transcript.NewStorePersister(store))
	m.batch.OnProgress(func(sessionID string, p transcript.Progress) {
		m.emit(Event{Type: EventBatchProgress, SessionID: sessionID, Data: p})
	})

	wf := workflow.New(provider, workflow.Options{
		ChunkTokenBudget:     cfg.ChunkTokenBudget,
		MaxValidationRetries: cfg.ValidationMaxRetries,
	})
	titler := &workflow.Titler{Provider: provider, Store: store, Model: m.Model}
	m.starter = &workflow.Starter{
		Workflow: wf,
		Store:    store,
		Tasks:    m.tasks,
		Labels:   m.labels,
		Profile:  profile,
		Titles:   &workflow.TitleCascade{Store: store, Tasks: m.tasks, NewTask: titler.Spec},
	}

	m.enhancer = enhance.NewService(ctx, enhance.Deps{
		Store:       store,
		Tasks:       m.tasks,
		Generator:   m.starter,
		Model:       m.Model,
		Lifecycle:   m.hub,
		Visible:     m.visible.Get,
		ShowNote:    m.showNote,
		Analytics:   m.track,
		MinWords:    cfg.MinWords,
		MaxAttempts: cfg.AutoEnhanceMaxAttempts,
		RetryDelay:  cfg.AutoEnhanceRetryDelay,
	})

	m.unsubs = append(m.unsubs,
		m.hub.Subscribe(func(t listener.Transition) {
			sid := t.SessionID
			if sid == "" {
				sid = t.PrevSessionID
			}
			m.emit(Event{Type: EventListener, SessionID: sid, Data: t})
		}),
		m.tasks.Subscribe(func(ev task.Event) {
			m.emit(Event{Type: EventTask, Data: ev})
		}),
		m.enhancer.On(func(ev enhance.Event) {
			m.emit(Event{Type: EventAutoEnhance, SessionID: ev.SessionID, Data: ev})
		}),
	)

	trace.Logger(ctx).Info("manager ready",
		"stt_provider", stt.String(),
		"llm_provider", cfg.LLMProvider,
		"llm_model", cfg.LLMModel,
	)
	return m, nil
}

// Model returns the configured model; ok is false when none is set.
func (m *Manager) Model() (llm.Model, bool) {
	if m.cfg.LLMModel == "" {
		return llm.Model{}, false
	}
	return llm.Model{Provider: m.cfg.LLMProvider, Name: m.cfg.LLMModel}, true
}

// StartRecording opens a new transcript for sessionID and marks the listener
// active. Starting the session that is already recording returns its transcript.
func (m *Manager) StartRecording(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", apperrors.New(apperrors.InvalidArgument, "session id is required")
	}
	log := trace.Logger(trace.WithScope(ctx, trace.Scope{SessionID: sessionID}))

	m.mu.Lock()
	if cur := m.live; cur != nil {
		m.mu.Unlock()
		if cur.sessionID == sessionID {
			return cur.transcriptID, nil
		}
		return "", apperrors.New(apperrors.InvalidArgument, "another session is recording").
			WithMetadata("session_id", cur.sessionID)
	}

	tid := uuid.NewString()
	err := m.store.Transaction(func(tx rowstore.Tx) error {
		if err := workflow.EnsureSession(tx, sessionID); err != nil {
			return err
		}
		return transcript.Create(tx, tid, sessionID, time.Now().UnixMilli())
	})
	if err != nil {
		m.mu.Unlock()
		return "", apperrors.Wrap(err, apperrors.StoreFailed, "create transcript")
	}

	rec := transcript.NewReconciler(m.stt.String(), transcript.NewStorePersister(m.store))
	rec.OnPartial(func(transcriptID string, p transcript.Partial) {
		m.partials.Add(transcriptID, PartialWords{TranscriptID: transcriptID, Words: p.Words, Hints: p.Hints, sessionID: sessionID})
	})
	m.live = &recording{sessionID: sessionID, transcriptID: tid, reconciler: rec}
	m.mu.Unlock()

	m.hub.Set(listener.Active, sessionID)
	log.Info("recording started", "transcript_id", tid)
	return tid, nil
}

// StopRecording finalizes the live transcript of sessionID. Deltas arriving
// afterwards are no longer persisted.
func (m *Manager) StopRecording(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	cur := m.live
	if cur == nil || (sessionID != "" && cur.sessionID != sessionID) {
		m.mu.Unlock()
		return apperrors.New(apperrors.NotFound, "session is not recording").WithMetadata("session_id", sessionID)
	}
	m.live = nil
	m.mu.Unlock()

	log := trace.Logger(trace.WithScope(ctx, trace.Scope{SessionID: cur.sessionID}))
	m.hub.Set(listener.Finalizing, cur.sessionID)
	m.partials.Flush()

	err := m.store.Transaction(func(tx rowstore.Tx) error {
		return transcript.End(tx, cur.transcriptID, time.Now().UnixMilli())
	})
	cur.reconciler.ResetTranscript()
	m.hub.Set(listener.Inactive, "")
	if err != nil {
		return apperrors.Wrap(err, apperrors.StoreFailed, "end transcript")
	}
	log.Info("recording stopped", "transcript_id", cur.transcriptID)
	return nil
}

// ListenerState returns the recording status and its session.
func (m *Manager) ListenerState() (listener.Status, string) {
	return m.hub.State()
}

// ApplyDelta folds one streaming STT response into the live transcript.
func (m *Manager) ApplyDelta(ctx context.Context, transcriptID string, resp transcript.StreamResponse) error {
	m.mu.Lock()
	cur := m.live
	m.mu.Unlock()
	if cur == nil || cur.transcriptID != transcriptID {
		return apperrors.New(apperrors.NotFound, "transcript is not recording").WithMetadata("transcript_id", transcriptID)
	}
	ctx = trace.WithScope(ctx, trace.Scope{SessionID: cur.sessionID})
	return cur.reconciler.HandleStream(ctx, transcriptID, resp)
}

// LivePartial returns the partial snapshot of the recording transcript.
func (m *Manager) LivePartial(transcriptID string) (transcript.Partial, bool) {
	m.mu.Lock()
	cur := m.live
	m.mu.Unlock()
	if cur == nil || cur.transcriptID != transcriptID {
		return transcript.Partial{}, false
	}
	return cur.reconciler.PartialWords(transcriptID), true
}

func (m *Manager) flushPartials(items map[string]PartialWords) {
	for _, p := range items {
		m.emit(Event{Type: EventPartialWords, SessionID: p.sessionID, Data: p})
	}
}

// IngestBatch stores a whole file transcription as a new transcript.
func (m *Manager) IngestBatch(ctx context.Context, sessionID string, resp transcript.BatchResponse) (string, error) {
	if err := m.ensureSession(sessionID); err != nil {
		return "", err
	}
	return m.batch.IngestBatchResult(trace.WithScope(ctx, trace.Scope{SessionID: sessionID}), sessionID, resp)
}

// IngestBatchChunk stores one progressive chunk of a file transcription.
func (m *Manager) IngestBatchChunk(ctx context.Context, sessionID string, words []transcript.Word, hints []transcript.IndexHint, percentage float64) error {
	if err := m.ensureSession(sessionID); err != nil {
		return err
	}
	return m.batch.IngestStreamedChunk(trace.WithScope(ctx, trace.Scope{SessionID: sessionID}), sessionID, words, hints, percentage)
}

// FailBatch records a provider failure on the session's import.
func (m *Manager) FailBatch(sessionID string, err error) {
	m.batch.Fail(sessionID, err)
}

func (m *Manager) BatchProgress(sessionID string) (transcript.Progress, bool) {
	return m.batch.Progress(sessionID)
}

func (m *Manager) ensureSession(sessionID string) error {
	if sessionID == "" {
		return apperrors.New(apperrors.InvalidArgument, "session id is required")
	}
	if err := m.store.Transaction(func(tx rowstore.Tx) error { return workflow.EnsureSession(tx, sessionID) }); err != nil {
		return apperrors.Wrap(err, apperrors.StoreFailed, "create session")
	}
	return nil
}

// SegmentView is a labeled speaker turn.
type SegmentView struct {
	Speaker string `json:"speaker"`
	Key     string `json:"key"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// Segments returns the session's stored transcript as labeled speaker turns.
func (m *Manager) Segments(sessionID string) []SegmentView {
	segs, mgr := m.segments(sessionID)
	out := make([]SegmentView, len(segs))
	for i, s := range segs {
		out[i] = SegmentView{
			Speaker: segment.RenderLabel(s.Key, m.labels, mgr),
			Key:     s.Key.String(),
			StartMs: s.StartMs(),
			EndMs:   s.EndMs(),
			Text:    segmentText(s),
		}
	}
	return out
}

func segmentText(s segment.Segment) string {
	parts := make([]string, len(s.Words))
	for i, w := range s.Words {
		parts[i] = strings.TrimSpace(w.Text)
	}
	return strings.Join(parts, " ")
}

// TranscriptText renders the session's transcript one "Speaker: text" line per turn.
func (m *Manager) TranscriptText(sessionID string) string {
	segs, mgr := m.segments(sessionID)
	return segment.Render(segs, m.labels, mgr)
}

func (m *Manager) segments(sessionID string) ([]segment.Segment, *segment.LabelManager) {
	sw := segment.LoadSession(m.store, sessionID)
	segs := segment.BuildSegments(sw.Words, sw.Hints, nil, segment.Options{Profile: m.stt.Info().Profile()})
	return segs, segment.FromSegments(segs, m.labels)
}

// Enhance triggers enhancement of a session's notes.
func (m *Manager) Enhance(ctx context.Context, sessionID string, opts enhance.Options) (enhance.Result, error) {
	return m.enhancer.Enhance(ctx, sessionID, opts)
}

// Notes lists the session's enhanced notes.
func (m *Manager) Notes(sessionID string) []workflow.Note {
	return workflow.SessionNotes(m.store, sessionID)
}

func (m *Manager) Task(id string) task.State {
	return m.tasks.Get(id)
}

// CancelTask aborts a running task; it returns to idle without side effects.
func (m *Manager) CancelTask(id string) bool {
	return m.tasks.Cancel(id)
}

// WaitTask blocks until the task's current run ends or ctx is done.
func (m *Manager) WaitTask(ctx context.Context, id string) task.State {
	return m.tasks.Wait(ctx, id)
}

// SetVisible records the session the UI is showing; "" for none.
func (m *Manager) SetVisible(sessionID string) {
	m.visible.Set(sessionID)
}

func (m *Manager) Visible() string {
	return m.visible.Get()
}

func (m *Manager) showNote(sessionID, noteID string) {
	m.emit(Event{Type: EventViewNote, SessionID: sessionID, Data: ViewNote{NoteID: noteID}})
}

func (m *Manager) track(ctx context.Context, event string, props map[string]any) {
	args := make([]any, 0, 2+2*len(props))
	args = append(args, "event", event)
	for k, v := range props {
		args = append(args, k, v)
	}
	trace.Logger(ctx).Info("analytics", args...)
}

// Stop stops orchestration: pending auto-enhance retries are dropped and
// running tasks are cancelled.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.enhancer.Dispose()
		for _, unsubscribe := range m.unsubs {
			unsubscribe()
		}
		m.tasks.Shutdown()
		m.partials.Stop()
	})
}
