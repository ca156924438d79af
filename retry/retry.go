package retry

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/Keksclan/policydash/transport"
)

// Config controls the retry behaviour of [Do].
type Config struct {
	// MaxAttempts is the maximum number of times fn is called (including the
	// first attempt). Values ≤ 1 mean no retries.
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Subsequent retries use
	// exponential back-off: BaseDelay * 2^attempt.
	BaseDelay time.Duration

	// MaxDelay caps the computed back-off delay.
	MaxDelay time.Duration

	// Jitter adds randomness to the delay. A value of 0.2 means ±20 % of
	// the computed delay. Zero disables jitter.
	Jitter float64

	// RetryStatuses lists the HTTP status codes that are considered
	// retryable. An empty list means no HTTP error is retried.
	RetryStatuses []int

	// RetryTransport also retries failures that never produced a response
	// (connection refused, reset, timeouts).
	RetryTransport bool

	// OnRetry, if set, is called before sleeping ahead of each retry.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig retries gateway failures and transport errors three times.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Jitter:      0.2,
		RetryStatuses: []int{
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
		RetryTransport: true,
	}
}

// Do calls fn up to cfg.MaxAttempts times, retrying only retryable errors.
// Between attempts an exponential back-off delay (with optional jitter) is
// applied. Session expiry and context errors are never retried.
//
// The context is checked before every retry; if ctx is done the function
// returns immediately with the context error.
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)

	for i := range attempts {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		// Last attempt, or an error not worth retrying.
		if i == attempts-1 || !retryable(cfg, err) {
			return zero, err
		}

		// Wait with back-off, but respect context cancellation.
		delay := backoff(cfg, i)
		if cfg.OnRetry != nil {
			cfg.OnRetry(i+1, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	// Unreachable, but keeps the compiler happy.
	return zero, nil
}

func retryable(cfg Config, err error) bool {
	if errors.Is(err, transport.ErrSessionExpired) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if code := transport.StatusCode(err); code != 0 {
		return slices.Contains(cfg.RetryStatuses, code)
	}
	return cfg.RetryTransport
}
