package interceptors

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func makeTag(tag string, log *[]string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			*log = append(*log, tag+":before")
			resp, err := next.RoundTrip(r)
			*log = append(*log, tag+":after")
			return resp, err
		})
	}
}

// okTransport answers every request with 200 and body "ok".
func okTransport(log *[]string) http.RoundTripper {
	return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		if log != nil {
			*log = append(*log, "transport")
		}
		return statusResponse(r, http.StatusOK), nil
	})
}

func statusResponse(r *http.Request, code int) *http.Response {
	return &http.Response{
		StatusCode: code,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("ok")),
		Request:    r,
	}
}

func newRequest(t *testing.T, path string) *http.Request {
	t.Helper()
	return httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://backend.test"+path, nil)
}

func TestChain_Order(t *testing.T) {
	var log []string
	rt := Chain([]Middleware{
		makeTag("A", &log),
		makeTag("B", &log),
		makeTag("C", &log),
	})(okTransport(&log))

	resp, err := rt.RoundTrip(newRequest(t, "/documents"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	expected := []string{"A:before", "B:before", "C:before", "transport", "C:after", "B:after", "A:after"}
	if len(log) != len(expected) {
		t.Fatalf("log mismatch: got %v, want %v", log, expected)
	}
	for i := range expected {
		if log[i] != expected[i] {
			t.Fatalf("log[%d] = %q, want %q\nfull: %v", i, log[i], expected[i], log)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	if c := Chain(nil); c != nil {
		t.Fatal("expected nil for empty chain")
	}
}

func TestChain_Single(t *testing.T) {
	var log []string
	rt := Chain([]Middleware{makeTag("only", &log)})(okTransport(nil))
	resp, err := rt.RoundTrip(newRequest(t, "/me"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if len(log) != 2 || log[0] != "only:before" || log[1] != "only:after" {
		t.Fatalf("unexpected log: %v", log)
	}
}

func TestWrap_NoMiddlewareReturnsBase(t *testing.T) {
	base := okTransport(nil)
	if got := Wrap(base); got == nil {
		t.Fatal("expected base transport")
	}
	if got := Wrap(nil); got != http.DefaultTransport {
		t.Fatal("nil base should fall back to http.DefaultTransport")
	}
}
