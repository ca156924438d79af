// Package interceptors provides http.RoundTripper middleware wrapped around
// every backend request: panic recovery, request IDs, rate limiting and
// circuit breaking.
package interceptors

import "net/http"

// Middleware wraps a RoundTripper with pre/post behavior.
type Middleware func(http.RoundTripper) http.RoundTripper

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Chain composes multiple middlewares into a single one. Middlewares execute
// in the order they appear in the slice, i.e. Chain(A, B)(rt) => A(B(rt)).
func Chain(mw []Middleware) Middleware {
	switch len(mw) {
	case 0:
		return nil
	case 1:
		return mw[0]
	}

	return func(next http.RoundTripper) http.RoundTripper {
		for i := len(mw) - 1; i >= 0; i-- {
			next = mw[i](next)
		}
		return next
	}
}

// Wrap applies the middleware chain to rt. A nil rt means
// http.DefaultTransport.
func Wrap(rt http.RoundTripper, mw ...Middleware) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	if c := Chain(mw); c != nil {
		return c(rt)
	}
	return rt
}
