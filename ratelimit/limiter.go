// Package ratelimit paces outgoing backend requests with token buckets from
// golang.org/x/time/rate: one optional client-wide bucket plus one per
// endpoint group that declares a policy.RateLimitRule.
package ratelimit

import (
	"context"
	"sync"

	"github.com/Keksclan/policydash/policy"
	"golang.org/x/time/rate"
)

// Limiter is a single token bucket.
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter permits rps requests per second with bursts of up to burst.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

// FromRule permits rl.Rate requests per rl.Window, all of which may be
// spent at once.
func FromRule(rl *policy.RateLimitRule) *Limiter {
	return NewLimiter(float64(rl.Rate)/rl.Window.Seconds(), rl.Rate)
}

// Allow takes a token if one is available now.
func (l *Limiter) Allow() bool {
	return l.lim.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.lim.Wait(ctx)
}

// Set hands out the limiter for an endpoint group. Groups with a rule get
// their own bucket, created on first use; every other request shares the
// fallback, which may be nil for no limit.
type Set struct {
	fallback *Limiter

	mu     sync.Mutex
	groups map[string]*Limiter
}

// NewSet creates a Set around fallback.
func NewSet(fallback *Limiter) *Set {
	return &Set{fallback: fallback, groups: make(map[string]*Limiter)}
}

// For returns the limiter for group. A nil rule selects the fallback. The
// first rule seen for a group fixes its bucket.
func (s *Set) For(group string, rule *policy.RateLimitRule) *Limiter {
	if rule == nil || rule.Rate <= 0 || rule.Window <= 0 {
		return s.fallback
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.groups[group]
	if !ok {
		l = FromRule(rule)
		s.groups[group] = l
	}
	return l
}
