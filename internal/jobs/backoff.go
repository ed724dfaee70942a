package jobs

import (
	"math"
	"math/rand"
	"time"
)

// backoffWithJitter returns the delay before a failed job becomes claimable
// again: exponential in the attempt number, capped at max, with half-window
// jitter so retrying jobs do not stampede.
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
