// Package policydash is a client for the policy-document analysis backend.
//
// Its core is a cache-aware, deduplicating request path: reads go through a
// TTL cache keyed by endpoint and options, and identical requests issued
// while one is already in flight share its result instead of hitting the
// network again. Authentication, error normalization and session expiry are
// handled by the transport package; resilience and observability are added
// as RoundTripper middleware.
//
//	c, err := policydash.NewClient("http://localhost:8000", policydash.DefaultOptions()...)
//	docs, err := c.Documents(ctx)
package policydash

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Keksclan/policydash/breaker"
	"github.com/Keksclan/policydash/cache"
	"github.com/Keksclan/policydash/contextx"
	"github.com/Keksclan/policydash/inflight"
	"github.com/Keksclan/policydash/interceptors"
	"github.com/Keksclan/policydash/internal/core"
	"github.com/Keksclan/policydash/metrics"
	"github.com/Keksclan/policydash/policy"
	"github.com/Keksclan/policydash/session"
	"github.com/Keksclan/policydash/tracing"
	"github.com/Keksclan/policydash/transport"
	"github.com/sirupsen/logrus"
)

// RequestOptions describes one backend call. See transport.RequestOptions.
type RequestOptions = transport.RequestOptions

// Errors surfaced by the client.
var (
	ErrSessionExpired = transport.ErrSessionExpired
	ErrCircuitOpen    = interceptors.ErrCircuitOpen
)

// HTTPError is a non-2xx backend response.
type HTTPError = transport.HTTPError

// Stats is a point-in-time view of the client's cache and in-flight calls.
type Stats struct {
	Size            int
	Keys            []string
	PendingRequests int
}

// Client is a cache-aware client for the analysis backend. Construct one per
// application with NewClient and share it; all methods are safe for
// concurrent use.
type Client struct {
	store      cache.Store
	inflight   *inflight.Registry
	dispatcher *transport.Dispatcher
	resolver   *policy.Resolver
	metrics    *metrics.Collector
	logger     logrus.FieldLogger
}

// NewClient creates a Client for the backend at baseURL by applying the
// supplied functional Option values. Middleware execution order is
// determined by fixed priority levels, not by the order options are passed.
//
// Example:
//
//	c, err := policydash.NewClient(baseURL,
//		policydash.WithRecovery(),
//		policydash.WithRateLimit(20, 5),
//		policydash.WithStore(boundedStore),
//	)
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}

	u, err := url.ParseRequestURI(baseURL)
	if err != nil {
		return nil, fmt.Errorf("policydash: invalid base URL %q: %w", baseURL, err)
	}

	if cfg.store == nil {
		cfg.store = cache.NewMemory()
	}
	if cfg.session == nil {
		cfg.session = session.NewMemory()
	}
	if cfg.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.logger = l
	}
	if !cfg.resolverSet {
		cfg.resolver = policy.DefaultResolver()
	}
	if cfg.namespace == "" {
		cfg.namespace = DefaultMetricsNamespace
	}

	c := &Client{
		store:    cfg.store,
		inflight: inflight.NewRegistry(),
		resolver: cfg.resolver,
		metrics:  metrics.NewCollector(cfg.namespace),
		logger:   cfg.logger,
	}

	hc := c.httpClient(&cfg, u.Path)
	c.dispatcher, err = transport.New(transport.Config{
		BaseURL:          baseURL,
		HTTPClient:       hc,
		Session:          cfg.session,
		Logger:           cfg.logger,
		AuthPath:         cfg.authPath,
		OnSessionExpired: cfg.onExpired,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// httpClient copies the configured client and wraps its transport with the
// middleware chain.
func (c *Client) httpClient(cfg *config, basePath string) *http.Client {
	hc := &http.Client{}
	if cfg.httpClient != nil {
		*hc = *cfg.httpClient
	}
	switch {
	case cfg.timeout > 0:
		hc.Timeout = cfg.timeout
	case hc.Timeout == 0:
		hc.Timeout = DefaultTimeout
	}

	mb := &cfg.middlewares
	if cfg.recovery {
		mb.Add(core.OrderRecovery, interceptors.Recovery())
	}
	if cfg.requestIDs {
		mb.Add(core.OrderRequestID, interceptors.RequestID())
	}
	if cfg.tracing != nil {
		tc := *cfg.tracing
		if tc.SpanName == nil {
			tc.SpanName = func(r *http.Request) string {
				return r.Method + " " + c.resolver.Label(trimBase(r.URL.Path, basePath))
			}
		}
		mb.Add(core.OrderTracing, tracing.Middleware(&tc))
	}
	mb.Add(core.OrderMetrics, c.metrics.Middleware(c.resolver.Label, basePath))
	if cfg.breaker != nil {
		bc := *cfg.breaker
		next := bc.OnStateChange
		bc.OnStateChange = func(from, to breaker.State) {
			c.logger.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
			if next != nil {
				next(from, to)
			}
		}
		mb.Add(core.OrderBreaker, interceptors.CircuitBreaker(breaker.New(bc)))
	}
	mb.Add(core.OrderRateLimit, interceptors.RateLimit(cfg.limiter, c.resolver, basePath))

	hc.Transport = core.BuildTransport(hc.Transport, mb)
	return hc
}

// CachedRequest returns the payload for endpoint, serving it from the cache
// while a live entry exists. Otherwise it joins an identical request already
// in flight, or dispatches a new one and caches a successful result for ttl.
// A non-positive ttl falls back to the endpoint's policy TTL, then to
// cache.DefaultTTL. Failures and empty responses are never cached, and
// methods other than GET and HEAD bypass the cache entirely.
//
// Once dispatched a request runs to completion even if ctx is cancelled, so
// other callers waiting on it still get the result; ctx only bounds how long
// this caller waits.
func (c *Client) CachedRequest(ctx context.Context, endpoint string, opts RequestOptions, ttl time.Duration) ([]byte, error) {
	if !cacheable(opts.Method) {
		return c.Request(ctx, endpoint, opts)
	}
	group, pol, _ := c.resolver.Resolve(endpoint)
	if group == "" {
		group = "other"
	}
	if pol != nil && pol.NoCache {
		return c.Request(ctx, endpoint, opts)
	}

	key := cache.DeriveKey(endpoint, opts)
	log := c.logger.WithFields(logrus.Fields{"endpoint": endpoint, "key": key})

	if payload, ok := c.lookup(ctx, key, log); ok {
		c.observe(log, group, metrics.OutcomeHit)
		return payload, nil
	}

	call, leader := c.inflight.Join(key)
	if !leader {
		c.observe(log, group, metrics.OutcomeDedup)
		return call.Wait(ctx)
	}

	dctx, id := contextx.EnsureRequestID(context.WithoutCancel(ctx))
	go c.lead(dctx, call, key, group, endpoint, opts, ttl, log.WithField("request_id", id))
	return call.Wait(ctx)
}

// lead performs the dispatch for call. The registry entry is removed before
// waiters are released so a caller arriving after settlement never joins a
// finished call.
func (c *Client) lead(ctx context.Context, call *inflight.Call, key, group, endpoint string, opts RequestOptions, ttl time.Duration, log logrus.FieldLogger) {
	var (
		payload []byte
		err     error
	)
	defer func() {
		c.inflight.Delete(key)
		call.Settle(payload, err)
	}()

	// A previous leader may have stored the entry between our lookup and Join.
	if cached, ok := c.lookup(ctx, key, log); ok {
		c.observe(log, group, metrics.OutcomeHit)
		payload = cached
		return
	}
	c.observe(log, group, metrics.OutcomeMiss)

	payload, err = c.dispatcher.Do(ctx, endpoint, opts)
	if err != nil {
		log.WithError(err).Debug("dispatch failed, not caching")
		return
	}
	if bytes.Equal(payload, nullPayload) {
		log.Debug("empty response, not caching")
		return
	}
	if serr := c.store.Set(ctx, key, payload, c.ttlFor(endpoint, ttl)); serr != nil {
		log.WithError(serr).Warn("cache store write failed")
	}
}

// nullPayload is what the dispatcher returns for an empty 2xx body.
var nullPayload = []byte("null")

// cacheable reports whether requests with method may be served from the
// cache. Writes always reach the backend whatever the endpoint policy says.
func cacheable(method string) bool {
	switch strings.ToUpper(method) {
	case "", http.MethodGet, http.MethodHead:
		return true
	}
	return false
}

func (c *Client) lookup(ctx context.Context, key string, log logrus.FieldLogger) ([]byte, bool) {
	payload, ok, err := c.store.Get(ctx, key)
	if err != nil {
		log.WithError(err).Warn("cache store read failed")
		return nil, false
	}
	return payload, ok
}

func (c *Client) observe(log logrus.FieldLogger, group, outcome string) {
	c.metrics.ObserveCache(group, outcome)
	log.WithField("outcome", outcome).Debug("cached request")
}

func (c *Client) ttlFor(endpoint string, ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return c.resolver.TTL(endpoint, cache.DefaultTTL)
}

// Request sends an uncached request. It is used for writes and for any read
// that must always hit the network.
func (c *Client) Request(ctx context.Context, endpoint string, opts RequestOptions) ([]byte, error) {
	return c.dispatcher.Do(ctx, endpoint, opts)
}

// ClearCache removes every cached entry when filter is empty, otherwise
// every entry whose key contains filter.
func (c *Client) ClearCache(ctx context.Context, filter string) error {
	if err := c.store.Clear(ctx, filter); err != nil {
		return fmt.Errorf("policydash: clear cache %q: %w", filter, err)
	}
	c.logger.WithField("filter", filter).Debug("cache cleared")
	return nil
}

// CacheStats reports the cached keys and the number of requests in flight.
func (c *Client) CacheStats(ctx context.Context) (Stats, error) {
	keys, err := c.store.Keys(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("policydash: cache stats: %w", err)
	}
	return Stats{
		Size:            len(keys),
		Keys:            keys,
		PendingRequests: c.inflight.Len(),
	}, nil
}

// Session returns the credential store the client authenticates with.
func (c *Client) Session() session.Store {
	return c.dispatcher.Session()
}

// MetricsHandler returns an http.Handler that serves the client's
// Prometheus metrics.
func (c *Client) MetricsHandler() http.Handler {
	return c.metrics.Handler()
}

// Close releases resources held by the cache store, if it holds any.
func (c *Client) Close() error {
	switch s := c.store.(type) {
	case interface{ Close() error }:
		return s.Close()
	case interface{ Close() }:
		s.Close()
	}
	return nil
}

// IsSessionExpired reports whether err is the result of a 401 that ended the
// session.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

func trimBase(path, base string) string {
	return strings.TrimPrefix(path, strings.TrimRight(base, "/"))
}

// Ping checks that the backend answers HTTP at all. Any status code counts
// as reachable; only transport failures are errors. The request is sent
// without credentials and bypasses the cache.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.dispatcher.Do(ctx, "/", RequestOptions{
		Method:           http.MethodGet,
		Anonymous:        true,
		KeepSessionOn401: true,
	})
	var he *HTTPError
	if err == nil || errors.As(err, &he) || errors.Is(err, transport.ErrInvalidResponse) {
		return nil
	}
	return err
}
