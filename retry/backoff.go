// Package retry provides a generic retry helper with exponential backoff and
// jitter for backend calls. Nothing in policydash retries on its own; this
// is for callers that want a user-initiated retry with pacing.
package retry

import (
	"math/rand/v2"
	"time"
)

// backoff returns the pause before retry number attempt (0-based): BaseDelay
// doubled per attempt, capped at MaxDelay when set, then spread by ±Jitter.
func backoff(cfg Config, attempt int) time.Duration {
	d := cfg.BaseDelay
	for range attempt {
		if cfg.MaxDelay > 0 && d >= cfg.MaxDelay {
			break
		}
		d *= 2
	}
	if cfg.MaxDelay > 0 {
		d = min(d, cfg.MaxDelay)
	}
	if cfg.Jitter > 0 && d > 0 {
		spread := float64(d) * cfg.Jitter
		d += time.Duration(spread * (2*rand.Float64() - 1))
	}
	return max(d, 0)
}
