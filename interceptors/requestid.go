package interceptors

import (
	"net/http"

	"github.com/Keksclan/policydash/contextx"
)

// RequestID returns a middleware that stamps every outgoing request with an
// X-Request-ID header taken from the request context, generating one when
// the context has none. An explicit header on the request is kept.
func RequestID() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if r.Header.Get(contextx.RequestIDHeader) != "" {
				return next.RoundTrip(r)
			}
			ctx, id := contextx.EnsureRequestID(r.Context())
			r = r.Clone(ctx)
			r.Header.Set(contextx.RequestIDHeader, id)
			return next.RoundTrip(r)
		})
	}
}
