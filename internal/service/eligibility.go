// internal/service/eligibility.go
package service

import (
	"time"

	"github.com/gatherly/invites-backend/internal/model"
)

// DefaultStaleWindow is how long an enqueued-but-unsent job is trusted to
// still be in flight before a re-enqueue is considered safe.
const DefaultStaleWindow = 10 * time.Minute

// ShouldEnqueue decides whether a new send job may be appended for the
// guest. It never allows a resend once the provider has accepted a message,
// and it avoids double-enqueueing a job that is still plausibly in flight.
func ShouldEnqueue(g *model.Guest, now time.Time, staleWindow time.Duration) bool {
	if g.ProviderMessageID != nil {
		return false
	}

	switch g.Status {
	case model.StatusFailed:
		// failed sends are never in flight; always retryable
		return true
	case model.StatusPending:
		if g.SendEnqueuedAt == nil {
			return true
		}
		// an enqueue older than the stale window is treated as lost
		return g.SendEnqueuedAt.Before(now.Add(-staleWindow))
	default:
		return false
	}
}
