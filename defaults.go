package policydash

import "time"

// DefaultTimeout bounds every backend request when no other timeout is
// configured. Dispatches outlive their caller's context, so some bound is
// always applied.
const DefaultTimeout = 30 * time.Second

// DefaultMetricsNamespace prefixes the client's Prometheus metrics.
const DefaultMetricsNamespace = "policydash"

// DashboardFamily is the cache filter covering the analytics dashboard. It
// is cleared whenever a new document is analysed.
const DashboardFamily = "dashboard"

// DefaultOptions returns the recommended set of options for production use:
// panic recovery and request IDs on every backend call.
func DefaultOptions() []Option {
	return []Option{
		WithRecovery(),
		WithRequestIDs(),
	}
}
