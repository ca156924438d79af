package interceptors

import (
	"net/http"

	"github.com/Keksclan/policydash/breaker"
)

// ErrCircuitOpen is returned without contacting the backend while the
// breaker is open.
var ErrCircuitOpen = breaker.ErrOpen

// CircuitBreaker returns a middleware that fails fast while b rejects
// requests. Outcomes are classified by the breaker's IsFailure.
func CircuitBreaker(b *breaker.Breaker) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			done, err := b.Allow()
			if err != nil {
				return nil, err
			}
			resp, err := next.RoundTrip(r)
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			done(status, err)
			return resp, err
		})
	}
}
