package interceptors

import (
	"net/http"
	"strings"

	"github.com/Keksclan/policydash/policy"
	"github.com/Keksclan/policydash/ratelimit"
)

// RateLimit returns a middleware that waits for a token before each request.
// Endpoints whose group has a RateLimit rule use that group's bucket; all
// others use global, which may be nil. basePath is stripped from the URL
// path before resolving, for backends mounted below the host root. A request
// whose context ends while waiting fails with the context error.
func RateLimit(global *ratelimit.Limiter, r *policy.Resolver, basePath string) Middleware {
	set := ratelimit.NewSet(global)
	base := strings.TrimRight(basePath, "/")

	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			var rule *policy.RateLimitRule
			name, pol, ok := r.Resolve(strings.TrimPrefix(req.URL.Path, base))
			if ok && pol != nil {
				rule = pol.RateLimit
			}
			if l := set.For(name, rule); l != nil {
				if err := l.Wait(req.Context()); err != nil {
					return nil, err
				}
			}
			return next.RoundTrip(req)
		})
	}
}
