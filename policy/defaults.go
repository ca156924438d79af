package policy

import "time"

// DefaultResolver returns the cache policy of the analysis backend's read
// endpoints. Write endpoints are marked NoCache.
func DefaultResolver() *Resolver {
	return NewResolver(
		Group("documents").Exact("/documents").Policy(Policy{TTL: 2 * time.Minute}),
		Group("analysis").Template("/analysis/{id}").Policy(Policy{TTL: 5 * time.Minute}),
		Group("me").Exact("/me").Policy(Policy{TTL: 10 * time.Minute}),
		Group("dashboard").Exact("/analytics/dashboard").Policy(Policy{TTL: 5 * time.Minute}),
		Group("tables").Prefix("/tables/").Policy(Policy{TTL: 5 * time.Minute}),
		Group("auth").
			Exact("/token").
			Exact("/register").
			Policy(Policy{NoCache: true}),
		Group("analyze").Exact("/analyze").Policy(Policy{NoCache: true}),
		Group("ask").Exact("/ask").Policy(Policy{NoCache: true}),
		Group("merge").Exact("/merge-analysis").Policy(Policy{NoCache: true}),
	)
}
