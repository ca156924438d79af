// Package policy maps backend endpoints to request policies: how long their
// responses are cached and how fast they may be called.
package policy

import (
	"regexp"
	"strings"
	"time"
)

// RateLimitRule describes a client-side rate limit for a group of endpoints.
type RateLimitRule struct {
	// Rate is the maximum number of requests allowed within Window.
	Rate   int
	Window time.Duration
}

// Policy holds the settings that apply to a matched endpoint group.
type Policy struct {
	// TTL is the cache lifetime used when a caller does not pass one.
	TTL time.Duration
	// NoCache marks endpoints whose responses must never be cached.
	NoCache   bool
	RateLimit *RateLimitRule
}

// matchKind orders rules; lower kinds win.
type matchKind int

const (
	kindExact matchKind = iota
	kindTemplate
	kindPrefix
	kindRegex
)

type rule struct {
	kind     matchKind
	pattern  string
	segments []string // template only
	re       *regexp.Regexp
}

// GroupBuilder collects the rules of one endpoint group and its policy.
type GroupBuilder struct {
	name   string
	rules  []rule
	policy *Policy
}

// Group starts a new endpoint group. The name doubles as a low-cardinality
// label for metrics and tracing.
func Group(name string) *GroupBuilder {
	return &GroupBuilder{name: name}
}

// Exact matches pattern only.
func (g *GroupBuilder) Exact(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindExact, pattern: pattern})
	return g
}

// Template matches paths with the same segments as pattern, where a
// segment written as {name} matches any non-empty segment, e.g.
// "/analysis/{id}".
func (g *GroupBuilder) Template(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{
		kind:     kindTemplate,
		pattern:  pattern,
		segments: strings.Split(strings.Trim(pattern, "/"), "/"),
	})
	return g
}

// Prefix matches every path starting with pattern.
func (g *GroupBuilder) Prefix(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindPrefix, pattern: pattern})
	return g
}

// Regex matches paths containing a match of pattern. An invalid pattern
// panics.
func (g *GroupBuilder) Regex(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindRegex, pattern: pattern, re: regexp.MustCompile(pattern)})
	return g
}

// Policy attaches p to the group.
func (g *GroupBuilder) Policy(p Policy) *GroupBuilder {
	g.policy = &p
	return g
}
