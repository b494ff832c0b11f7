package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/enhance"
	apperrors "github.com/GriffinCanCode/good-listener/backend/notes/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/listener"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/orchestrator"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/task"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/trace"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/transcript"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/workflow"
)

// Notes is the backend the server exposes.
type Notes interface {
	ListenerState() (listener.Status, string)
	StartRecording(ctx context.Context, sessionID string) (string, error)
	StopRecording(ctx context.Context, sessionID string) error
	ApplyDelta(ctx context.Context, transcriptID string, resp transcript.StreamResponse) error
	LivePartial(transcriptID string) (transcript.Partial, bool)

	IngestBatch(ctx context.Context, sessionID string, resp transcript.BatchResponse) (string, error)
	IngestBatchChunk(ctx context.Context, sessionID string, words []transcript.Word, hints []transcript.IndexHint, percentage float64) error
	FailBatch(sessionID string, err error)
	BatchProgress(sessionID string) (transcript.Progress, bool)

	Segments(sessionID string) []orchestrator.SegmentView
	TranscriptText(sessionID string) string
	Notes(sessionID string) []workflow.Note
	Enhance(ctx context.Context, sessionID string, opts enhance.Options) (enhance.Result, error)
	Task(id string) task.State
	CancelTask(id string) bool
	SetVisible(sessionID string)

	Events() <-chan orchestrator.Event
}

// Message types.
type Message struct {
	Type string `json:"type"`
}

// ViewMessage tells the server which session the client is showing.
type ViewMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type EnhanceMessage struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	TemplateID string `json:"template_id,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`
}

type EnhanceResultMessage struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Result    enhance.Result `json:"result"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// BatchChunkRequest is one progressive chunk of a file transcription.
type BatchChunkRequest struct {
	Words      []transcript.Word      `json:"words"`
	Hints      []transcript.IndexHint `json:"hints"`
	Percentage float64                `json:"percentage"`
}

type BatchFailRequest struct {
	Error string `json:"error"`
}

type EnhanceRequest struct {
	TemplateID string `json:"template_id,omitempty"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	notes      Notes
	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New creates a new server and starts broadcasting backend events.
func New(notes Notes) *Server {
	s := &Server{
		notes:      notes,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
	}

	go s.broadcastEvents()

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/listener", s.handleListener)
	mux.HandleFunc("POST /api/view", s.handleView)

	mux.HandleFunc("POST /api/sessions/{id}/recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /api/sessions/{id}/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("POST /api/transcripts/{id}/delta", s.handleDelta)
	mux.HandleFunc("GET /api/transcripts/{id}/partial", s.handlePartial)

	mux.HandleFunc("POST /api/sessions/{id}/batch", s.handleBatch)
	mux.HandleFunc("POST /api/sessions/{id}/batch/progress", s.handleBatchChunk)
	mux.HandleFunc("POST /api/sessions/{id}/batch/fail", s.handleBatchFail)
	mux.HandleFunc("GET /api/sessions/{id}/batch/progress", s.handleBatchProgress)

	mux.HandleFunc("GET /api/sessions/{id}/segments", s.handleSegments)
	mux.HandleFunc("GET /api/sessions/{id}/transcript", s.handleTranscript)
	mux.HandleFunc("GET /api/sessions/{id}/notes", s.handleNotes)
	mux.HandleFunc("POST /api/sessions/{id}/enhance", s.handleEnhance)

	mux.HandleFunc("GET /api/tasks/{id}", s.handleTask)
	mux.HandleFunc("POST /api/tasks/{id}/cancel", s.handleTaskCancel)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, ErrorMessage{
				Type:    "error",
				Message: "rate limit exceeded",
			})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "view":
			var view ViewMessage
			if err := json.Unmarshal(msg, &view); err != nil {
				continue
			}
			s.notes.SetVisible(view.SessionID)
		case "enhance":
			var req EnhanceMessage
			if err := json.Unmarshal(msg, &req); err != nil {
				continue
			}
			ctx := baseCtx
			if tc, ok := trace.ExtractFromJSON(msg); ok {
				ctx = trace.WithContext(ctx, tc)
			} else {
				ctx, _ = trace.EnsureContext(ctx)
			}
			s.handleEnhanceMessage(ctx, conn, req)
		}
	}
}

func (s *Server) handleEnhanceMessage(ctx context.Context, conn *websocket.Conn, req EnhanceMessage) {
	res, err := s.notes.Enhance(ctx, req.SessionID, enhance.Options{TemplateID: req.TemplateID})
	if err != nil {
		trace.Logger(ctx).Error("enhance error", "session_id", req.SessionID, "error", err)
		_ = wsjson.Write(ctx, conn, errorMessage(err))
		return
	}
	_ = wsjson.Write(ctx, conn, EnhanceResultMessage{Type: "enhance_result", SessionID: req.SessionID, Result: res})
}

func (s *Server) broadcastEvents() {
	for evt := range s.notes.Events() {
		s.mu.RLock()
		for conn := range s.conns {
			go func(c *websocket.Conn, ev orchestrator.Event) {
				ctx, cancel := context.WithTimeout(context.Background(), WriteTimeout)
				defer cancel()
				_ = wsjson.Write(ctx, c, ev)
			}(conn, evt)
		}
		s.mu.RUnlock()
	}
}

func (s *Server) handleListener(w http.ResponseWriter, r *http.Request) {
	status, sid := s.notes.ListenerState()
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status), "session_id": sid})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	var req ViewMessage
	if !decode(w, r, &req) {
		return
	}
	s.notes.SetVisible(req.SessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	tid, err := s.notes.StartRecording(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recording_started", "transcript_id": tid})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if err := s.notes.StopRecording(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recording_stopped"})
}

func (s *Server) handleDelta(w http.ResponseWriter, r *http.Request) {
	var resp transcript.StreamResponse
	if !decode(w, r, &resp) {
		return
	}
	if err := s.notes.ApplyDelta(r.Context(), r.PathValue("id"), resp); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePartial(w http.ResponseWriter, r *http.Request) {
	p, ok := s.notes.LivePartial(r.PathValue("id"))
	if !ok {
		writeError(w, r, apperrors.New(apperrors.NotFound, "transcript is not recording"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var resp transcript.BatchResponse
	if !decode(w, r, &resp) {
		return
	}
	tid, err := s.notes.IngestBatch(r.Context(), r.PathValue("id"), resp)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcript_id": tid})
}

func (s *Server) handleBatchChunk(w http.ResponseWriter, r *http.Request) {
	var req BatchChunkRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.notes.IngestBatchChunk(r.Context(), r.PathValue("id"), req.Words, req.Hints, req.Percentage); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBatchFail(w http.ResponseWriter, r *http.Request) {
	var req BatchFailRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Error == "" {
		req.Error = "transcription failed"
	}
	s.notes.FailBatch(r.PathValue("id"), errors.New(req.Error))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBatchProgress(w http.ResponseWriter, r *http.Request) {
	p, ok := s.notes.BatchProgress(r.PathValue("id"))
	if !ok {
		writeError(w, r, apperrors.New(apperrors.NotFound, "no batch transcription in progress"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.notes.Segments(r.PathValue("id")))
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"text": s.notes.TranscriptText(r.PathValue("id"))})
}

func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.notes.Notes(r.PathValue("id")))
}

func (s *Server) handleEnhance(w http.ResponseWriter, r *http.Request) {
	var req EnhanceRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	res, err := s.notes.Enhance(r.Context(), r.PathValue("id"), enhance.Options{TemplateID: req.TemplateID})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.notes.Task(r.PathValue("id")))
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": s.notes.CancelTask(r.PathValue("id"))})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(v); err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.InvalidArgument, "invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorMessage(err error) ErrorMessage {
	ae := apperrors.From(err)
	return ErrorMessage{Type: "error", Code: ae.Code.String(), Message: ae.Message}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperrors.From(err)
	status := ae.HTTPStatus()
	if status >= http.StatusInternalServerError {
		trace.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorMessage(ae))
}
