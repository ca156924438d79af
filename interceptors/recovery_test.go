package interceptors

import (
	"errors"
	"net/http"
	"testing"
)

func TestRecovery_Panic_ReturnsError(t *testing.T) {
	rt := Recovery()(RoundTripperFunc(func(*http.Request) (*http.Response, error) {
		panic("boom")
	}))

	resp, err := rt.RoundTrip(newRequest(t, "/documents"))
	if resp != nil {
		t.Fatalf("expected nil response, got %v", resp)
	}
	if !errors.Is(err, ErrPanic) {
		t.Fatalf("expected ErrPanic, got %v", err)
	}
}

func TestRecovery_NoPanic_PassesThrough(t *testing.T) {
	rt := Recovery()(okTransport(nil))

	resp, err := rt.RoundTrip(newRequest(t, "/documents"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
