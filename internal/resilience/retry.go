package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/good-listener/backend/notes/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/trace"
)

// MetaRetryAfter is the AppError metadata key for a server-requested delay, in milliseconds.
const MetaRetryAfter = "retry_after_ms"

// RetryConfig holds retry settings.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration // also caps Retry-After hints
	JitterFactor float64
	IsRetryable  func(error) bool
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  IsRetryable,
	}
}

// LLMRetryConfig returns settings for model endpoints, which rate limit and
// cold-start more often than they fail outright.
func LLMRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   LLMMaxRetries,
		BaseDelay:    LLMBaseDelay,
		MaxDelay:     LLMMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  IsRetryable,
	}
}

// IsRetryable reports transient failures. Cancellation never retries; gRPC
// statuses are classified through their mapped app code.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch apperrors.From(err).Code {
	case apperrors.Unavailable, apperrors.Timeout, apperrors.LLMRateLimited:
		return true
	default:
		return false
	}
}

// WithRetryAfter records a server-requested delay on err.
func WithRetryAfter(err *apperrors.AppError, d time.Duration) *apperrors.AppError {
	if d <= 0 {
		return err
	}
	return err.WithMetadata(MetaRetryAfter, strconv.FormatInt(d.Milliseconds(), 10))
}

// RetryAfter returns the delay recorded by WithRetryAfter.
func RetryAfter(err error) (time.Duration, bool) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return 0, false
	}
	ms, perr := strconv.ParseInt(appErr.Metadata[MetaRetryAfter], 10, 64)
	if perr != nil || ms <= 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// ParseRetryAfter reads a Retry-After header in either delta-seconds or
// HTTP-date form.
func ParseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, secs > 0
	}
	at, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	d := at.Sub(now)
	return d, d > 0
}

// Retry runs fn until it succeeds, returns a permanent error, or the attempts
// run out. The last error is returned.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= cfg.MaxRetries || !cfg.IsRetryable(err) {
			return err
		}

		wait := cfg.delay(err, attempt)
		trace.Logger(ctx).Debug("retrying", "attempt", attempt+1, "max", cfg.MaxRetries, "delay", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// delay is the jittered backoff for attempt, stretched to a server hint when
// one is longer.
func (c RetryConfig) delay(err error, attempt int) time.Duration {
	d := backoffDelay(c, attempt)
	if hint, ok := RetryAfter(err); ok && hint > d {
		d = min(hint, c.MaxDelay)
	}
	return d
}

func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	d := min(cfg.BaseDelay<<min(attempt, 6), cfg.MaxDelay)
	spread := float64(d) * cfg.JitterFactor
	return d + time.Duration(spread*(rand.Float64()-0.5))
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.JitterFactor <= 0 {
		c.JitterFactor = DefaultJitterFactor
	}
	if c.IsRetryable == nil {
		c.IsRetryable = IsRetryable
	}
	return c
}
