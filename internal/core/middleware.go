package core

import (
	"cmp"
	"net/http"
	"slices"
)

// Fixed positions of the built-in transport middlewares. Lower values run
// first, i.e. sit further from the network.
const (
	OrderRecovery  = 100
	OrderRequestID = 200
	OrderTracing   = 300
	OrderMetrics   = 400
	OrderBreaker   = 500
	OrderRateLimit = 600
)

// middleware represents a single RoundTripper wrapper with a deterministic
// execution order. Lower Order values run first.
type middleware struct {
	Wrap  func(http.RoundTripper) http.RoundTripper
	Order int
}

// MiddlewareBuilder collects middleware entries and produces a sorted slice
// ready for chaining.
type MiddlewareBuilder struct {
	entries []middleware
}

// Add registers a middleware with the given order. A nil wrap is ignored.
func (b *MiddlewareBuilder) Add(order int, wrap func(http.RoundTripper) http.RoundTripper) {
	if wrap == nil {
		return
	}
	b.entries = append(b.entries, middleware{Wrap: wrap, Order: order})
}

// Len reports how many middlewares have been added.
func (b *MiddlewareBuilder) Len() int {
	return len(b.entries)
}

// Build sorts the collected middleware by Order (stable) and returns them
// outermost first.
func (b *MiddlewareBuilder) Build() []func(http.RoundTripper) http.RoundTripper {
	slices.SortStableFunc(b.entries, func(a, c middleware) int {
		return cmp.Compare(a.Order, c.Order)
	})

	out := make([]func(http.RoundTripper) http.RoundTripper, 0, len(b.entries))
	for _, m := range b.entries {
		out = append(out, m.Wrap)
	}
	return out
}
