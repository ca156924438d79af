// Package metrics exposes Prometheus instrumentation for the client: cache
// outcomes per endpoint group and backend request counts and latency.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache outcomes recorded by ObserveCache.
const (
	OutcomeHit   = "hit"
	OutcomeMiss  = "miss"
	OutcomeDedup = "dedup"
)

// Collector owns a private registry so several clients in one process do
// not collide on metric names.
type Collector struct {
	registry *prometheus.Registry

	cacheOutcomes *prometheus.CounterVec
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// NewCollector creates a Collector whose metric names start with namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cacheOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache-aware requests by endpoint group and outcome (hit, miss, dedup).",
		}, []string{"group", "outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Requests sent to the backend by endpoint group and status code.",
		}, []string{"group", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Backend request latency by endpoint group.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"group"}),
	}
	c.registry.MustRegister(c.cacheOutcomes, c.requests, c.duration)
	return c
}

// ObserveCache counts one cache-aware request outcome.
func (c *Collector) ObserveCache(group, outcome string) {
	c.cacheOutcomes.WithLabelValues(group, outcome).Inc()
}

// Registry returns the collector's registry, for callers that want to add
// their own collectors or gather directly.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// Middleware returns a RoundTripper wrapper that records every backend
// request. label maps an endpoint path (basePath stripped) to its group;
// a nil label puts everything under "other". Transport failures are
// counted with code "error".
func (c *Collector) Middleware(label func(endpoint string) string, basePath string) func(http.RoundTripper) http.RoundTripper {
	base := strings.TrimRight(basePath, "/")
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			group := "other"
			if label != nil {
				group = label(strings.TrimPrefix(r.URL.Path, base))
			}

			start := time.Now()
			resp, err := next.RoundTrip(r)
			c.duration.WithLabelValues(group).Observe(time.Since(start).Seconds())

			code := "error"
			if err == nil {
				code = strconv.Itoa(resp.StatusCode)
			}
			c.requests.WithLabelValues(group, code).Inc()
			return resp, err
		})
	}
}
