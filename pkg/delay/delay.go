// Package delay holds the timing helpers used on the scheduler's execution
// path: a context-aware sleep and a uniform random number helper.
package delay

import (
	"context"
	"math/rand/v2"
	"time"
)

// Wait blocks for d. It returns nil immediately, without arming a timer,
// when d is zero or negative. If ctx ends first, Wait returns ctx.Err().
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Random returns a uniformly distributed value in [lo, hi].
// The bounds may be given in either order.
func Random(lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo + rand.Float64()*(hi-lo)
}

// Jitter spreads d by ±frac (0.2 = 20%). The result is never negative.
func Jitter(d time.Duration, frac float64) time.Duration {
	if d <= 0 || frac <= 0 {
		return d
	}
	out := time.Duration(float64(d) * (1 + Random(-frac, frac)))
	if out < 0 {
		return 0
	}
	return out
}
