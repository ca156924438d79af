package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Keksclan/policydash/transport"
)

func unavailable() error {
	return &transport.HTTPError{StatusCode: http.StatusServiceUnavailable, Message: "try again"}
}

func TestDo_RetriesOnUnavailableThenSucceeds(t *testing.T) {
	calls := 0
	cfg := Config{
		MaxAttempts:   4,
		BaseDelay:     time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		RetryStatuses: []int{http.StatusServiceUnavailable},
	}

	result, err := Do(t.Context(), cfg, func(_ context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", unavailable()
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected %q, got %q", "ok", result)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_StopsOnNonRetryableStatus(t *testing.T) {
	calls := 0
	cfg := Config{
		MaxAttempts:   5,
		BaseDelay:     time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		RetryStatuses: []int{http.StatusServiceUnavailable},
	}

	_, err := Do(t.Context(), cfg, func(_ context.Context) (string, error) {
		calls++
		return "", &transport.HTTPError{StatusCode: http.StatusBadRequest, Message: "bad request"}
	})

	if transport.StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call (no retries), got %d", calls)
	}
}

func TestDo_NeverRetriesSessionExpiry(t *testing.T) {
	calls := 0
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Millisecond

	_, err := Do(t.Context(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, transport.ErrSessionExpired
	})

	if !errors.Is(err, transport.ErrSessionExpired) {
		t.Fatalf("got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_TransportErrorsOptIn(t *testing.T) {
	refused := errors.New("connection refused")
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	calls := 0
	_, _ = Do(t.Context(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, refused
	})
	if calls != 1 {
		t.Fatalf("expected no retries without RetryTransport, got %d calls", calls)
	}

	cfg.RetryTransport = true
	calls = 0
	_, _ = Do(t.Context(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, refused
	})
	if calls != 3 {
		t.Fatalf("expected 3 calls with RetryTransport, got %d", calls)
	}
}

func TestDo_RespectsContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	cfg := Config{
		MaxAttempts:   100,
		BaseDelay:     50 * time.Millisecond,
		MaxDelay:      100 * time.Millisecond,
		RetryStatuses: []int{http.StatusServiceUnavailable},
	}

	_, err := Do(ctx, cfg, func(_ context.Context) (int, error) {
		return 0, unavailable()
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestDo_MaxAttemptsExhausted(t *testing.T) {
	calls := 0
	cfg := Config{
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		RetryStatuses: []int{http.StatusServiceUnavailable},
	}

	_, err := Do(t.Context(), cfg, func(_ context.Context) (string, error) {
		calls++
		return "", unavailable()
	})

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestBackoff_ExponentialWithCap(t *testing.T) {
	cfg := Config{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  500 * time.Millisecond,
	}

	d0 := backoff(cfg, 0) // 100ms
	d1 := backoff(cfg, 1) // 200ms
	d2 := backoff(cfg, 2) // 400ms
	d3 := backoff(cfg, 3) // 800ms → capped at 500ms

	if d0 != 100*time.Millisecond {
		t.Fatalf("attempt 0: expected 100ms, got %v", d0)
	}
	if d1 != 200*time.Millisecond {
		t.Fatalf("attempt 1: expected 200ms, got %v", d1)
	}
	if d2 != 400*time.Millisecond {
		t.Fatalf("attempt 2: expected 400ms, got %v", d2)
	}
	if d3 != 500*time.Millisecond {
		t.Fatalf("attempt 3: expected 500ms (capped), got %v", d3)
	}
}

func TestBackoff_UncappedAndJitter(t *testing.T) {
	if d := backoff(Config{BaseDelay: time.Second}, 5); d != 32*time.Second {
		t.Fatalf("uncapped attempt 5: expected 32s, got %v", d)
	}

	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: 0.5}
	for range 50 {
		d := backoff(cfg, 0)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±50%%", d)
		}
	}
}

func TestDo_OnRetryReportsAttempts(t *testing.T) {
	var attempts []int
	cfg := Config{
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		MaxDelay:      time.Millisecond,
		RetryStatuses: []int{http.StatusBadGateway},
		OnRetry: func(attempt int, err error, _ time.Duration) {
			if transport.StatusCode(err) != http.StatusBadGateway {
				t.Errorf("unexpected error passed to OnRetry: %v", err)
			}
			attempts = append(attempts, attempt)
		},
	}

	_, _ = Do(t.Context(), cfg, func(context.Context) (int, error) {
		return 0, &transport.HTTPError{StatusCode: http.StatusBadGateway, Message: "Bad Gateway"}
	})
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Fatalf("OnRetry attempts = %v, want [1 2]", attempts)
	}
}
