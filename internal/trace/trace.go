// Package trace carries request-scoped trace identifiers through the notes
// pipeline so log lines from a delta, an enhancement run and its LLM calls
// can be correlated.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"
)

// Header keys for HTTP/WebSocket propagation.
const (
	TraceIDKey      = "x-trace-id"
	SpanIDKey       = "x-span-id"
	ParentSpanIDKey = "x-parent-span-id"
)

type ctxKey int

const (
	traceKey ctxKey = iota
	scopeKey
)

// Context holds trace identifiers for a single span.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// Scope names the domain objects a unit of work is operating on.
type Scope struct {
	SessionID string
	NoteID    string
	TaskID    string
}

func New() Context {
	return Context{TraceID: randomHex(16), SpanID: randomHex(8)}
}

// NewChild keeps the trace id and parents the new span on p.
func NewChild(p Context) Context {
	if p.TraceID == "" {
		return New()
	}
	return Context{TraceID: p.TraceID, SpanID: randomHex(8), ParentSpanID: p.SpanID}
}

func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(traceKey).(Context)
	return tc, ok
}

func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, traceKey, tc)
}

// EnsureContext returns the existing trace context or attaches a new one.
func EnsureContext(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

// WithScope merges non-empty fields of s into the scope already on ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	cur, _ := ctx.Value(scopeKey).(Scope)
	if s.SessionID != "" {
		cur.SessionID = s.SessionID
	}
	if s.NoteID != "" {
		cur.NoteID = s.NoteID
	}
	if s.TaskID != "" {
		cur.TaskID = s.TaskID
	}
	return context.WithValue(ctx, scopeKey, cur)
}

func ScopeFrom(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey).(Scope)
	return s
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Span is a timed operation within a trace.
type Span struct {
	Name      string
	Ctx       Context
	StartTime time.Time
	EndTime   time.Time
	Attrs     map[string]any
}

func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent, _ := FromContext(ctx)
	tc := NewChild(parent)
	s := &Span{
		Name:      name,
		Ctx:       tc,
		StartTime: time.Now(),
		Attrs:     make(map[string]any),
	}
	return WithContext(ctx, tc), s
}

func (s *Span) End() {
	s.EndTime = time.Now()
}

func (s *Span) SetAttr(key string, val any) {
	s.Attrs[key] = val
}

func (s *Span) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// Finish ends the span and logs it at debug, or at warn when err is non-nil.
func (s *Span) Finish(ctx context.Context, err error) {
	s.End()
	if err != nil {
		Logger(ctx).Warn("span failed", "span", s, "error", err)
		return
	}
	Logger(ctx).Debug("span done", "span", s)
}

// LogValue implements slog.LogValuer.
func (s *Span) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("name", s.Name),
		slog.String("span_id", s.Ctx.SpanID),
		slog.Duration("duration", s.Duration()),
	}
	for k, v := range s.Attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	return slog.GroupValue(attrs...)
}

// Logger returns the default logger annotated with the trace and scope on ctx.
func Logger(ctx context.Context) *slog.Logger {
	args := make([]any, 0, 10)
	if tc, ok := FromContext(ctx); ok {
		args = append(args, "trace_id", tc.TraceID, "span_id", tc.SpanID)
		if tc.ParentSpanID != "" {
			args = append(args, "parent_span_id", tc.ParentSpanID)
		}
	}
	sc := ScopeFrom(ctx)
	if sc.SessionID != "" {
		args = append(args, "session_id", sc.SessionID)
	}
	if sc.NoteID != "" {
		args = append(args, "note_id", sc.NoteID)
	}
	if sc.TaskID != "" {
		args = append(args, "task_id", sc.TaskID)
	}
	if len(args) == 0 {
		return slog.Default()
	}
	return slog.Default().With(args...)
}
