package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestErrorString(t *testing.T) {
	err := New(NotFound, "note missing").WithMetadata("note_id", "n1")
	got := err.Error()
	if !strings.HasPrefix(got, "[NOT_FOUND] note missing") {
		t.Errorf("Error() = %q", got)
	}
	if !strings.Contains(got, "note_id:n1") {
		t.Errorf("Error() = %q, want metadata", got)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := context.Canceled
	err := Wrap(cause, Cancelled, "aborted")
	if !stderrors.Is(err, context.Canceled) {
		t.Error("wrapped error should match context.Canceled")
	}
	wrapped := fmt.Errorf("outer: %w", err)
	if !IsCode(wrapped, Cancelled) {
		t.Error("IsCode should see through fmt wrapping")
	}
}

func TestGRPCStatusCarriesMetadata(t *testing.T) {
	err := Newf(LLMRateLimited, "slow down after %d calls", 3).WithMetadata("provider", "ollama")
	st := err.GRPCStatus()
	if st.Code() != codes.ResourceExhausted {
		t.Fatalf("code = %v, want ResourceExhausted", st.Code())
	}
	found := false
	for _, d := range st.Details() {
		if s, ok := d.(*structpb.Struct); ok {
			if s.Fields["provider"].GetStringValue() == "ollama" {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected provider metadata in status details")
	}
}

func TestFromGRPC(t *testing.T) {
	err := From(status.Error(codes.Unavailable, "down"))
	if err.Code != Unavailable {
		t.Errorf("code = %v, want Unavailable", err.Code)
	}
	if From(nil) != nil {
		t.Error("From(nil) should be nil")
	}
	if From(stderrors.New("plain")).Code != Unknown {
		t.Error("plain errors map to Unknown")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{New(Unavailable, "x"), true},
		{New(LLMRateLimited, "x"), true},
		{New(Timeout, "x"), true},
		{New(LLMAPIError, "x"), false},
		{stderrors.New("plain"), false},
		{fmt.Errorf("wrap: %w", New(Unavailable, "x")), true},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{InvalidArgument, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{LLMNotConfigured, http.StatusPreconditionFailed},
		{ProviderUnsupported, http.StatusNotImplemented},
		{StoreFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := New(tt.code, "").HTTPStatus(); got != tt.want {
			t.Errorf("%v.HTTPStatus() = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestCodeString(t *testing.T) {
	if Code(999).String() != "UNKNOWN" {
		t.Error("out of range code should stringify as UNKNOWN")
	}
	if ConfigInvalid.String() != "CONFIG_INVALID" {
		t.Errorf("got %q", ConfigInvalid.String())
	}
}
