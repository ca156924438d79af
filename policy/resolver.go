package policy

import (
	"slices"
	"strings"
	"time"
)

type entry struct {
	group  string
	policy *Policy
	rule   rule
}

// Resolver maps an endpoint path to the most specific group. It is
// immutable after construction and safe for concurrent use.
type Resolver struct {
	entries []entry // ordered by kind, then registration
}

// NewResolver flattens the groups' rules into priority order.
func NewResolver(groups ...*GroupBuilder) *Resolver {
	var entries []entry
	for _, g := range groups {
		for _, r := range g.rules {
			entries = append(entries, entry{group: g.name, policy: g.policy, rule: r})
		}
	}
	slices.SortStableFunc(entries, func(a, b entry) int {
		return int(a.rule.kind) - int(b.rule.kind)
	})
	return &Resolver{entries: entries}
}

// Resolve finds the group for endpoint, ignoring any query string.
//
// Exact rules beat templates, which beat prefixes, which beat regexes.
// Among matches of the same kind the most specific wins; ties go to the
// group registered first. ok is false when nothing matches.
func (res *Resolver) Resolve(endpoint string) (group string, pol *Policy, ok bool) {
	if res == nil {
		return "", nil, false
	}
	path, _, _ := strings.Cut(endpoint, "?")

	best := -1
	var kind matchKind
	for _, e := range res.entries {
		if ok && e.rule.kind != kind {
			break
		}
		matched, score := e.rule.match(path)
		if !matched || score <= best {
			continue
		}
		group, pol, ok = e.group, e.policy, true
		kind, best = e.rule.kind, score
	}
	return group, pol, ok
}

// TTL returns the cache lifetime configured for endpoint, or fallback when
// no group with a TTL matches.
func (res *Resolver) TTL(endpoint string, fallback time.Duration) time.Duration {
	if _, pol, ok := res.Resolve(endpoint); ok && pol != nil && pol.TTL > 0 {
		return pol.TTL
	}
	return fallback
}

// Label returns the group name for endpoint, or "other".
func (res *Resolver) Label(endpoint string) string {
	if name, _, ok := res.Resolve(endpoint); ok {
		return name
	}
	return "other"
}
