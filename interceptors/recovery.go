package interceptors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrPanic is wrapped by the error returned when a RoundTripper panics.
var ErrPanic = errors.New("transport panic")

// Recovery returns a middleware that turns a panic inside the wrapped
// RoundTripper into an error instead of crashing the process.
func Recovery() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (resp *http.Response, err error) {
			defer func() {
				if p := recover(); p != nil {
					resp = nil
					err = fmt.Errorf("%w: %v", ErrPanic, p)
				}
			}()
			return next.RoundTrip(r)
		})
	}
}
