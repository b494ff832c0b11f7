package trace

import (
	"context"
	"encoding/json"
	"net/http"
)

// Middleware extracts or creates trace context for incoming HTTP requests and
// echoes the trace id back on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := Context{
			TraceID:      r.Header.Get(TraceIDKey),
			ParentSpanID: r.Header.Get(SpanIDKey),
			SpanID:       randomHex(8),
		}
		if tc.TraceID == "" {
			tc.TraceID = randomHex(16)
		}
		w.Header().Set(TraceIDKey, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

// Inject copies the trace on ctx onto an outgoing request.
func Inject(ctx context.Context, r *http.Request) {
	tc, ok := FromContext(ctx)
	if !ok {
		return
	}
	r.Header.Set(TraceIDKey, tc.TraceID)
	r.Header.Set(SpanIDKey, tc.SpanID)
	if tc.ParentSpanID != "" {
		r.Header.Set(ParentSpanIDKey, tc.ParentSpanID)
	}
}

// ExtractFromJSON reads an optional trace_id from a websocket message.
func ExtractFromJSON(data []byte) (Context, bool) {
	var msg struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.TraceID == "" {
		return New(), false
	}
	return Context{TraceID: msg.TraceID, SpanID: randomHex(8)}, true
}
