// Package retry holds the backoff policy for transient provider failures.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// maxJitter spreads concurrent retries apart so workers do not hammer the
// provider in lockstep after a shared outage.
const maxJitter = 250 * time.Millisecond

// Backoff returns the delay before retry number attempt (1-based):
// base * 2^(attempt-1) plus up to 250ms of jitter, capped at max before
// jitter is added.
func Backoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	shift := attempt - 1
	if shift > 32 {
		shift = 32
	}
	delay := base << shift
	if delay > max || delay <= 0 {
		delay = max
	}

	return delay + time.Duration(rand.Int63n(int64(maxJitter)))
}

// Sleep waits for d but wakes early on context cancellation, so a shutdown
// never stalls behind a backoff timer.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
