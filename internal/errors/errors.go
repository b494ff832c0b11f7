// Package errors provides unified error handling with a closed set of error codes.
// Codes map onto gRPC status codes so every surface (HTTP, MCP, logs) reports them the same way.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Code identifies an error category.
type Code int

const (
	Unknown Code = iota
	Internal
	InvalidArgument
	NotFound
	Unavailable
	Timeout
	Cancelled
	LLMNotConfigured
	LLMAPIError
	LLMRateLimited
	LLMInvalidResponse
	StoreFailed
	ProviderUnsupported
	ConfigInvalid
)

var codeNames = [...]string{
	Unknown:             "UNKNOWN",
	Internal:            "INTERNAL",
	InvalidArgument:     "INVALID_ARGUMENT",
	NotFound:            "NOT_FOUND",
	Unavailable:         "UNAVAILABLE",
	Timeout:             "TIMEOUT",
	Cancelled:           "CANCELLED",
	LLMNotConfigured:    "LLM_NOT_CONFIGURED",
	LLMAPIError:         "LLM_API_ERROR",
	LLMRateLimited:      "LLM_RATE_LIMITED",
	LLMInvalidResponse:  "LLM_INVALID_RESPONSE",
	StoreFailed:         "STORE_FAILED",
	ProviderUnsupported: "PROVIDER_UNSUPPORTED",
	ConfigInvalid:       "CONFIG_INVALID",
}

func (c Code) String() string {
	if c < 0 || int(c) >= len(codeNames) {
		return codeNames[Unknown]
	}
	return codeNames[c]
}

// grpcCodeMap maps Code to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	Unknown:             codes.Unknown,
	Internal:            codes.Internal,
	InvalidArgument:     codes.InvalidArgument,
	NotFound:            codes.NotFound,
	Unavailable:         codes.Unavailable,
	Timeout:             codes.DeadlineExceeded,
	Cancelled:           codes.Canceled,
	LLMNotConfigured:    codes.FailedPrecondition,
	LLMAPIError:         codes.Internal,
	LLMRateLimited:      codes.ResourceExhausted,
	LLMInvalidResponse:  codes.Internal,
	StoreFailed:         codes.Internal,
	ProviderUnsupported: codes.Unimplemented,
	ConfigInvalid:       codes.InvalidArgument,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// GRPCStatus returns a gRPC status with the metadata attached as a Struct detail.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())
	fields := map[string]any{"code": e.Code.String(), "message": e.Message}
	for k, v := range e.Metadata {
		fields[k] = v
	}
	detail, err := structpb.NewStruct(fields)
	if err != nil {
		return st
	}
	packed, err := anypb.New(detail)
	if err != nil {
		return st
	}
	if withDetails, err := st.WithDetails(packed); err == nil {
		return withDetails
	}
	return st
}

// HTTPStatus maps the error onto an HTTP status code.
func (e *AppError) HTTPStatus() int {
	switch e.GRPCCode() {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Canceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// From extracts the AppError from an error chain. Non-app errors become UNKNOWN,
// gRPC status errors are mapped back to the closest code.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	if st, ok := status.FromError(err); ok {
		return &AppError{Code: grpcToCode(st.Code()), Message: st.Message(), Cause: err}
	}
	return &AppError{Code: Unknown, Message: err.Error(), Cause: err}
}

// grpcToCode maps gRPC codes back to our error codes (best effort).
func grpcToCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return InvalidArgument
	case codes.NotFound:
		return NotFound
	case codes.Unavailable:
		return Unavailable
	case codes.DeadlineExceeded:
		return Timeout
	case codes.Canceled:
		return Cancelled
	case codes.Internal:
		return Internal
	case codes.FailedPrecondition:
		return LLMNotConfigured
	case codes.ResourceExhausted:
		return LLMRateLimited
	case codes.Unimplemented:
		return ProviderUnsupported
	default:
		return Unknown
	}
}

// IsCode checks if an error chain carries a specific error code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case Unavailable, Timeout, LLMRateLimited:
		return true
	default:
		return false
	}
}
