package policydash

import (
	"net/http"
	"time"

	"github.com/Keksclan/policydash/breaker"
	"github.com/Keksclan/policydash/cache"
	"github.com/Keksclan/policydash/policy"
	"github.com/Keksclan/policydash/ratelimit"
	"github.com/Keksclan/policydash/session"
	"github.com/Keksclan/policydash/tracing"
	"github.com/sirupsen/logrus"
)

// Option configures a Client.
type Option func(*config)

// WithStore replaces the default in-memory cache store.
func WithStore(s cache.Store) Option {
	return func(c *config) {
		c.store = s
	}
}

// WithSession sets the credential store the client reads the bearer token
// from and clears on session expiry.
func WithSession(s session.Store) Option {
	return func(c *config) {
		c.session = s
	}
}

// WithLogger sets the logger. Cache outcomes are logged at debug level and
// session expiry at warn level. Without a logger the client is silent.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithHTTPClient sets the HTTP client used for backend calls. The client is
// copied; its Transport is wrapped by the configured middlewares.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// WithTimeout bounds each backend request. It overrides the timeout of a
// client passed with WithHTTPClient.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithResolver sets the endpoint policy resolver used to pick cache TTLs,
// mark endpoints uncacheable, apply per-group rate limits and label metrics.
// A nil resolver disables endpoint policies entirely.
func WithResolver(r *policy.Resolver) Option {
	return func(c *config) {
		c.resolver = r
		c.resolverSet = true
	}
}

// WithAuthPath sets the path handed to the session-expiry hook.
func WithAuthPath(path string) Option {
	return func(c *config) {
		c.authPath = path
	}
}

// WithOnSessionExpired registers fn to run after a 401 has cleared the
// session. It receives the configured auth path.
func WithOnSessionExpired(fn func(authPath string)) Option {
	return func(c *config) {
		c.onExpired = fn
	}
}

// WithRecovery converts panics raised inside the transport into errors
// instead of crashing the process.
func WithRecovery() Option {
	return func(c *config) {
		c.recovery = true
	}
}

// WithRequestIDs stamps every backend request with an X-Request-ID header.
func WithRequestIDs() Option {
	return func(c *config) {
		c.requestIDs = true
	}
}

// WithRateLimit paces all backend requests to rps per second with the given
// burst. Endpoint groups with their own RateLimit policy use that instead.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *config) {
		c.limiter = ratelimit.NewLimiter(rps, burst)
	}
}

// WithCircuitBreaker stops dispatching while the backend keeps failing.
// Calls made while the circuit is open fail with ErrCircuitOpen.
func WithCircuitBreaker(cfg breaker.Config) Option {
	return func(c *config) {
		c.breaker = &cfg
	}
}

// WithTracing creates an OpenTelemetry client span for every backend
// request and propagates the trace context in its headers.
func WithTracing(cfg tracing.TracingConfig) Option {
	return func(c *config) {
		c.tracing = &cfg
	}
}

// WithMetricsNamespace overrides DefaultMetricsNamespace.
func WithMetricsNamespace(ns string) Option {
	return func(c *config) {
		c.namespace = ns
	}
}

// WithTransportMiddleware adds a custom RoundTripper middleware at the given
// order. Built-in middlewares sit at 100 (recovery), 200 (request ID),
// 300 (tracing), 400 (metrics), 500 (circuit breaker) and 600 (rate limit).
func WithTransportMiddleware(order int, mw func(http.RoundTripper) http.RoundTripper) Option {
	return func(c *config) {
		c.middlewares.Add(order, mw)
	}
}
