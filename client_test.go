package policydash

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Keksclan/policydash/cache"
	"github.com/Keksclan/policydash/internal/fakebackend"
	"github.com/Keksclan/policydash/metrics"
	"github.com/Keksclan/policydash/session"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	client  *Client
	backend *fakebackend.Backend
	clock   *fakeClock
	url     string
}

// newTestEnv starts a fake backend and a client signed in as ana@example.com
// whose cache runs on a fake clock.
func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	backend := fakebackend.New(nil)
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	tok, err := backend.IssueToken("ana@example.com", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	clk := newFakeClock()
	base := []Option{
		WithStore(cache.NewMemory().WithClock(clk.Now)),
		WithSession(session.NewMemoryWithToken(tok)),
	}
	c, err := NewClient(srv.URL, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return &testEnv{client: c, backend: backend, clock: clk, url: srv.URL}
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting: %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// cacheOutcomes reads the cache outcome counter from the client's registry.
func cacheOutcomes(t *testing.T, c *Client, group, outcome string) float64 {
	t.Helper()
	mfs, err := c.metrics.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != DefaultMetricsNamespace+"_cache_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["group"] == group && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	if _, err := NewClient("not a url"); err == nil {
		t.Fatal("expected error for invalid base URL")
	}
}

func TestMetricsHandlerImplementsHTTPHandler(t *testing.T) {
	c, err := NewClient("http://localhost:8000")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	var h http.Handler = c.MetricsHandler()
	if h == nil {
		t.Fatal("MetricsHandler() returned nil")
	}
}

func TestCachedRequest_DocumentsScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	ttl := 120000 * time.Millisecond

	first, err := env.client.CachedRequest(ctx, "/documents", RequestOptions{}, ttl)
	if err != nil {
		t.Fatalf("t=0: %v", err)
	}
	if got := env.backend.Hits("/documents"); got != 1 {
		t.Fatalf("t=0: dispatches = %d, want 1", got)
	}

	env.clock.Advance(60000 * time.Millisecond)
	second, err := env.client.CachedRequest(ctx, "/documents", RequestOptions{}, ttl)
	if err != nil {
		t.Fatalf("t=60000: %v", err)
	}
	if got := env.backend.Hits("/documents"); got != 1 {
		t.Fatalf("t=60000: dispatches = %d, want 1", got)
	}
	if string(second) != string(first) {
		t.Fatalf("t=60000: payload changed: %s vs %s", second, first)
	}

	env.clock.Advance(61000 * time.Millisecond)
	if _, err := env.client.CachedRequest(ctx, "/documents", RequestOptions{}, ttl); err != nil {
		t.Fatalf("t=121000: %v", err)
	}
	if got := env.backend.Hits("/documents"); got != 2 {
		t.Fatalf("t=121000: dispatches = %d, want 2", got)
	}

	if hits := cacheOutcomes(t, env.client, "documents", metrics.OutcomeHit); hits != 1 {
		t.Fatalf("hit counter = %v, want 1", hits)
	}
}

func TestCachedRequest_ExpiredPayloadNotReturned(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	before, err := env.client.CachedRequest(ctx, "/tables/documents", RequestOptions{}, time.Minute)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}

	// The backend's data changes while the entry is cached.
	if _, err := env.client.AnalyzeDocument(ctx, AnalyzeInput{URL: "https://example.com/policy"}); err != nil {
		t.Fatalf("AnalyzeDocument: %v", err)
	}
	cached, err := env.client.CachedRequest(ctx, "/tables/documents", RequestOptions{}, time.Minute)
	if err != nil {
		t.Fatalf("cached call: %v", err)
	}
	if string(cached) != string(before) {
		t.Fatal("expected cached payload within ttl")
	}

	env.clock.Advance(time.Minute)
	after, err := env.client.CachedRequest(ctx, "/tables/documents", RequestOptions{}, time.Minute)
	if err != nil {
		t.Fatalf("after ttl: %v", err)
	}
	if string(after) == string(before) {
		t.Fatal("stale payload returned after ttl")
	}
	if got := env.backend.Hits("/tables/documents"); got != 2 {
		t.Fatalf("dispatches = %d, want 2", got)
	}
}

func TestCachedRequest_DeduplicatesConcurrentCalls(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	release := env.backend.Block("/documents")
	defer release()

	const callers = 5
	results := make([][]byte, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = env.client.CachedRequest(ctx, "/documents", RequestOptions{}, 0)
	}()
	eventually(t, func() bool { return env.backend.Hits("/documents") == 1 }, "leader dispatch")

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = env.client.CachedRequest(ctx, "/documents", RequestOptions{}, 0)
		}()
	}
	eventually(t, func() bool {
		return cacheOutcomes(t, env.client, "documents", metrics.OutcomeDedup) == callers-1
	}, "followers joined")

	stats, err := env.client.CacheStats(ctx)
	if err != nil {
		t.Fatalf("CacheStats: %v", err)
	}
	if stats.PendingRequests != 1 {
		t.Fatalf("PendingRequests = %d, want 1", stats.PendingRequests)
	}

	release()
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if string(results[i]) != string(results[0]) {
			t.Fatalf("caller %d got a different payload", i)
		}
	}
	if got := env.backend.Hits("/documents"); got != 1 {
		t.Fatalf("dispatches = %d, want 1", got)
	}
	stats, _ = env.client.CacheStats(ctx)
	if stats.PendingRequests != 0 {
		t.Fatalf("PendingRequests after settle = %d, want 0", stats.PendingRequests)
	}
}

func TestCachedRequest_DistinctOptionsAreDistinctEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	for _, q := range []string{"30d", "90d", "30d"} {
		opts := RequestOptions{Query: map[string]string{"range": q}}
		if _, err := env.client.CachedRequest(ctx, "/analytics/dashboard", opts, 0); err != nil {
			t.Fatalf("range %s: %v", q, err)
		}
	}
	if got := env.backend.Hits("/analytics/dashboard"); got != 2 {
		t.Fatalf("dispatches = %d, want 2", got)
	}
}

func TestClearCache_ByFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	analyticsOpts := RequestOptions{Query: map[string]string{"range": "30d"}}
	calls := []struct {
		endpoint string
		opts     RequestOptions
	}{
		{"/tables/documents", RequestOptions{}},
		{"/analytics/dashboard", analyticsOpts},
		{"/me", RequestOptions{}},
	}
	for _, call := range calls {
		if _, err := env.client.CachedRequest(ctx, call.endpoint, call.opts, 0); err != nil {
			t.Fatalf("%s: %v", call.endpoint, err)
		}
	}

	if err := env.client.ClearCache(ctx, "dashboard"); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}

	stats, err := env.client.CacheStats(ctx)
	if err != nil {
		t.Fatalf("CacheStats: %v", err)
	}
	slices.Sort(stats.Keys)
	want := []string{"/me", "/tables/documents"}
	if !slices.Equal(stats.Keys, want) || stats.Size != 2 {
		t.Fatalf("keys = %v (size %d), want %v", stats.Keys, stats.Size, want)
	}

	if err := env.client.ClearCache(ctx, ""); err != nil {
		t.Fatalf("ClearCache all: %v", err)
	}
	stats, _ = env.client.CacheStats(ctx)
	if stats.Size != 0 {
		t.Fatalf("size after clear all = %d, want 0", stats.Size)
	}
}

func TestCachedRequest_FailureNotCached(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	env.backend.FailNext("/documents", http.StatusBadGateway)

	_, err := env.client.CachedRequest(ctx, "/documents", RequestOptions{}, 0)
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 HTTPError, got %v", err)
	}
	if he.Message != "HTTP error! status: 502" {
		t.Fatalf("message = %q", he.Message)
	}

	stats, err := env.client.CacheStats(ctx)
	if err != nil {
		t.Fatalf("CacheStats: %v", err)
	}
	if stats.Size != 0 || stats.PendingRequests != 0 {
		t.Fatalf("failure left state behind: %+v", stats)
	}

	if _, err := env.client.CachedRequest(ctx, "/documents", RequestOptions{}, 0); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := env.backend.Hits("/documents"); got != 2 {
		t.Fatalf("dispatches = %d, want 2", got)
	}
}

func TestCachedRequest_ServerDetailSurfaced(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.client.Analysis(t.Context(), 999)
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 HTTPError, got %v", err)
	}
	if he.Message != "Document not found" {
		t.Fatalf("message = %q, want server detail", he.Message)
	}
}

func TestCachedRequest_UnauthorizedExpiresSession(t *testing.T) {
	var redirected []string
	env := newTestEnv(t, WithOnSessionExpired(func(path string) {
		redirected = append(redirected, path)
	}))
	ctx := t.Context()

	if _, err := env.client.CurrentUser(ctx); err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}

	env.backend.RevokeTokens()
	_, err := env.client.Documents(ctx)
	if !errors.Is(err, ErrSessionExpired) || !IsSessionExpired(err) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if tok := env.client.Session().Token(); tok != "" {
		t.Fatalf("token not cleared: %q", tok)
	}
	if _, ok := env.client.Session().User(); ok {
		t.Fatal("user not cleared")
	}
	if len(redirected) != 1 || redirected[0] != "/auth" {
		t.Fatalf("redirects = %v, want [/auth]", redirected)
	}

	stats, err := env.client.CacheStats(ctx)
	if err != nil {
		t.Fatalf("CacheStats: %v", err)
	}
	if !slices.Equal(stats.Keys, []string{"/me"}) {
		t.Fatalf("cache changed by 401: %v", stats.Keys)
	}
}

func TestCachedRequest_NoCachePolicyAlwaysDispatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	opts := RequestOptions{Method: http.MethodPost, Body: []byte(`{"document_id":1,"question":"What is it?"}`)}

	for range 2 {
		if _, err := env.client.CachedRequest(ctx, "/ask", opts, time.Hour); err != nil {
			t.Fatalf("ask: %v", err)
		}
	}
	if got := env.backend.Hits("/ask"); got != 2 {
		t.Fatalf("dispatches = %d, want 2", got)
	}
	stats, _ := env.client.CacheStats(ctx)
	if stats.Size != 0 {
		t.Fatalf("uncacheable endpoint was cached: %v", stats.Keys)
	}
}

func TestCachedRequest_WritesBypassCacheWithoutResolver(t *testing.T) {
	env := newTestEnv(t, WithResolver(nil))
	ctx := t.Context()
	opts := RequestOptions{Method: http.MethodPost, Body: []byte(`{"document_id":1,"question":"What is it?"}`)}

	for range 2 {
		if _, err := env.client.CachedRequest(ctx, "/ask", opts, time.Hour); err != nil {
			t.Fatalf("ask: %v", err)
		}
	}
	if got := env.backend.Hits("/ask"); got != 2 {
		t.Fatalf("POST /ask dispatches = %d, want 2", got)
	}
	stats, _ := env.client.CacheStats(ctx)
	if stats.Size != 0 || stats.PendingRequests != 0 {
		t.Fatalf("write request touched the cache: %+v", stats)
	}
}

func TestCachedRequest_EmptyBodyNotCached(t *testing.T) {
	rs, url := newRecordingServer(t, http.StatusOK, "")
	c, err := NewClient(url)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	for range 2 {
		payload, err := c.CachedRequest(t.Context(), "/documents", RequestOptions{}, time.Hour)
		if err != nil {
			t.Fatalf("CachedRequest: %v", err)
		}
		if string(payload) != "null" {
			t.Fatalf("payload = %q, want null", payload)
		}
	}
	if rs.Hits() != 2 {
		t.Fatalf("server hits = %d, want 2", rs.Hits())
	}
	if stats, _ := c.CacheStats(t.Context()); stats.Size != 0 {
		t.Fatalf("empty response was cached: %v", stats.Keys)
	}
}

func TestCacheable(t *testing.T) {
	for method, want := range map[string]bool{
		"":                 true,
		http.MethodGet:     true,
		"get":              true,
		http.MethodHead:    true,
		http.MethodPost:    false,
		http.MethodPut:     false,
		http.MethodPatch:   false,
		http.MethodDelete:  false,
		http.MethodOptions: false,
	} {
		if got := cacheable(method); got != want {
			t.Errorf("cacheable(%q) = %v, want %v", method, got, want)
		}
	}
}

func TestCachedRequest_PolicyTTLWhenZero(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	// /me is cached for ten minutes by the default policy.
	if _, err := env.client.CachedRequest(ctx, "/me", RequestOptions{}, 0); err != nil {
		t.Fatalf("first: %v", err)
	}
	env.clock.Advance(9 * time.Minute)
	if _, err := env.client.CachedRequest(ctx, "/me", RequestOptions{}, 0); err != nil {
		t.Fatalf("second: %v", err)
	}
	if got := env.backend.Hits("/me"); got != 1 {
		t.Fatalf("dispatches within policy ttl = %d, want 1", got)
	}
	env.clock.Advance(time.Minute)
	if _, err := env.client.CachedRequest(ctx, "/me", RequestOptions{}, 0); err != nil {
		t.Fatalf("third: %v", err)
	}
	if got := env.backend.Hits("/me"); got != 2 {
		t.Fatalf("dispatches after policy ttl = %d, want 2", got)
	}
}

func TestCachedRequest_DefaultTTLWithoutResolver(t *testing.T) {
	env := newTestEnv(t, WithResolver(nil))
	ctx := t.Context()

	if _, err := env.client.CachedRequest(ctx, "/me", RequestOptions{}, 0); err != nil {
		t.Fatalf("first: %v", err)
	}
	env.clock.Advance(cache.DefaultTTL)
	if _, err := env.client.CachedRequest(ctx, "/me", RequestOptions{}, 0); err != nil {
		t.Fatalf("second: %v", err)
	}
	if got := env.backend.Hits("/me"); got != 2 {
		t.Fatalf("dispatches = %d, want 2 after DefaultTTL", got)
	}
}

func TestCachedRequest_CancelledWaiterDoesNotCancelDispatch(t *testing.T) {
	env := newTestEnv(t)
	release := env.backend.Block("/tables/rules")
	defer release()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		_, err := env.client.CachedRequest(ctx, "/tables/rules", RequestOptions{}, 0)
		done <- err
	}()
	eventually(t, func() bool { return env.backend.Hits("/tables/rules") == 1 }, "dispatch")

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	release()
	eventually(t, func() bool {
		stats, _ := env.client.CacheStats(t.Context())
		return stats.Size == 1 && stats.PendingRequests == 0
	}, "detached dispatch cached")

	if _, err := env.client.TableRules(t.Context()); err != nil {
		t.Fatalf("TableRules: %v", err)
	}
	if got := env.backend.Hits("/tables/rules"); got != 1 {
		t.Fatalf("dispatches = %d, want 1", got)
	}
}

func TestCachedRequest_ReturnsIndependentCopies(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	first, err := env.client.CachedRequest(ctx, "/documents", RequestOptions{}, 0)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	first[0] = 'X'
	second, err := env.client.CachedRequest(ctx, "/documents", RequestOptions{}, 0)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second[0] == 'X' {
		t.Fatal("mutating a returned payload changed the cache")
	}
}

func TestPing(t *testing.T) {
	env := newTestEnv(t)
	if err := env.client.Ping(t.Context()); err != nil {
		t.Fatalf("Ping against a live backend: %v", err)
	}
	if env.client.Session().Token() == "" {
		t.Fatal("Ping must not end the session")
	}

	c, err := NewClient("http://127.0.0.1:1", WithTimeout(time.Second))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Ping(t.Context()); err == nil {
		t.Fatal("expected error for unreachable backend")
	}
}
