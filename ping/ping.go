// Package ping checks that the client's dependencies are reachable: the
// analysis backend and, when configured, a shared cache. It backs the CLI's
// ping command and is suitable for readiness checks.
package ping

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pinger is anything that can be probed for reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Target names a Pinger.
type Target struct {
	Name   string
	Pinger Pinger
}

// Result is the outcome of probing one target.
type Result struct {
	Name    string
	Latency time.Duration
	Err     error
}

// OK reports whether the target answered.
func (r Result) OK() bool { return r.Err == nil }

// Run probes every target concurrently, each bounded by timeout, and returns
// the results in target order. A failing target does not stop the others.
func Run(ctx context.Context, timeout time.Duration, targets ...Target) []Result {
	results := make([]Result, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := t.Pinger.Ping(pctx)
			results[i] = Result{Name: t.Name, Latency: time.Since(start), Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Healthy reports whether every result is OK.
func Healthy(results []Result) bool {
	for _, r := range results {
		if !r.OK() {
			return false
		}
	}
	return true
}
