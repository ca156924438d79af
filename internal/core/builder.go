package core

import "net/http"

// BuildTransport wraps base with the sorted middlewares so that the first
// one is outermost. A nil base means http.DefaultTransport. This keeps the
// wiring logic isolated from the public API surface.
func BuildTransport(base http.RoundTripper, b *MiddlewareBuilder) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if b == nil {
		return base
	}
	mws := b.Build()
	rt := base
	for i := len(mws) - 1; i >= 0; i-- {
		rt = mws[i](rt)
	}
	return rt
}
