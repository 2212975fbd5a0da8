// internal/service/worker.go
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/gatherly/invites-backend/internal/broadcast"
	"github.com/gatherly/invites-backend/internal/model"
	"github.com/gatherly/invites-backend/internal/ratelimit"
	"github.com/gatherly/invites-backend/internal/retry"
	"github.com/gatherly/invites-backend/internal/stream"
	"github.com/gatherly/invites-backend/internal/transport"
)

// GuestStore defines the guest mutations the worker needs
type GuestStore interface {
	ApplyStatus(guestID int, newStatus model.Status) (*model.StatusTransition, error)
	MarkSent(guestID int, providerMessageID string) (*model.StatusTransition, error)
	IncrementSendAttempts(guestID int) error
	RecordSendError(guestID int, message string) error
	CountByStatus(eventID int) (map[model.Status]int, error)
}

// OutboxConsumer is the slice of the stream client the worker needs
type OutboxConsumer interface {
	Read(ctx context.Context, newOnly bool) ([]stream.Entry, error)
	AutoClaim(ctx context.Context, cursor string) (string, []stream.Entry, error)
	Ack(ctx context.Context, entryID string) error
	MoveToDLQ(ctx context.Context, e stream.Entry, failure stream.Failure) error
}

// Worker runs the send loop: claim entries, throttle, dispatch to the
// provider, retry transient failures with backoff, dead-letter permanent
// ones. Multiple Workers run concurrently, coordinated only through the
// stream's claim protocol and the shared rate limiter.
type Worker struct {
	Outbox    OutboxConsumer
	Guests    GuestStore
	Transport transport.Sender
	Broadcast broadcast.Broadcaster
	Limiter   *ratelimit.TokenBucket
	Log       *zap.SugaredLogger

	MaxRetries    int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	PollIdleSleep time.Duration

	claimCursor string
}

// WorkerConfig provides configuration options for the Worker.
type WorkerConfig struct {
	Outbox    OutboxConsumer
	Guests    GuestStore
	Transport transport.Sender
	Broadcast broadcast.Broadcaster
	Limiter   *ratelimit.TokenBucket
	Log       *zap.SugaredLogger

	MaxRetries    int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	PollIdleSleep time.Duration
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 10 * time.Second
	}
	if cfg.PollIdleSleep <= 0 {
		cfg.PollIdleSleep = 2 * time.Second
	}
	return &Worker{
		Outbox:        cfg.Outbox,
		Guests:        cfg.Guests,
		Transport:     cfg.Transport,
		Broadcast:     cfg.Broadcast,
		Limiter:       cfg.Limiter,
		Log:           cfg.Log,
		MaxRetries:    cfg.MaxRetries,
		BackoffBase:   cfg.BackoffBase,
		BackoffMax:    cfg.BackoffMax,
		PollIdleSleep: cfg.PollIdleSleep,
	}
}

// Run consumes until the context is cancelled. On startup it drains this
// consumer's own unacknowledged backlog first (entries delivered before a
// restart), then polls for new work, sweeping idle claims from dead
// consumers whenever the stream is quiet.
func (w *Worker) Run(ctx context.Context) {
	w.drainBacklog(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		entries, err := w.Outbox.Read(ctx, true)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.Log.Errorw("stream read failed", "err", err)
			_ = retry.Sleep(ctx, w.PollIdleSleep)
			continue
		}

		if len(entries) == 0 {
			w.sweepIdleClaims(ctx)
			_ = retry.Sleep(ctx, w.PollIdleSleep)
			continue
		}

		for _, e := range entries {
			w.Process(ctx, e)
		}
	}
}

func (w *Worker) drainBacklog(ctx context.Context) {
	var lastFirst string
	for {
		entries, err := w.Outbox.Read(ctx, false)
		if err != nil || len(entries) == 0 {
			return
		}
		// an entry that refuses to ack (dead-letter stream down) would
		// otherwise spin this loop forever
		if entries[0].ID == lastFirst {
			return
		}
		lastFirst = entries[0].ID
		for _, e := range entries {
			w.Process(ctx, e)
		}
	}
}

// sweepIdleClaims recovers entries claimed by a consumer that died mid-send.
// The cursor persists across sweeps so long pending lists are paged through
// incrementally.
func (w *Worker) sweepIdleClaims(ctx context.Context) {
	cursor, entries, err := w.Outbox.AutoClaim(ctx, w.claimCursor)
	if err != nil {
		if ctx.Err() == nil {
			w.Log.Errorw("auto-claim failed", "err", err)
		}
		return
	}
	w.claimCursor = cursor

	if len(entries) > 0 {
		w.Log.Infow("recovered orphaned entries", "count", len(entries))
	}
	for _, e := range entries {
		w.Process(ctx, e)
	}
}

// Process drives one claimed entry to a terminal outcome: acked on success,
// acked plus dead-lettered on permanent failure. A cancelled context leaves
// the entry claimed-but-unacked for another instance to auto-claim.
func (w *Worker) Process(ctx context.Context, e stream.Entry) {
	if err := e.Meta.Validate(); err != nil {
		w.Log.Warnw("malformed entry", "entry_id", e.ID, "err", err)
		w.deadLetter(ctx, e, stream.Failure{Error: err.Error(), Attempt: 0})
		return
	}

	if e.Meta.Kind == stream.KindInvite {
		if err := w.Guests.IncrementSendAttempts(e.Meta.GuestID); err != nil {
			w.Log.Errorw("attempt counter update failed", "guest_id", e.Meta.GuestID, "err", err)
		}
	}

	attempt := 1
	for {
		if err := w.Limiter.Wait(ctx); err != nil {
			return // shutting down; entry stays claimed for auto-claim
		}

		res, sendErr := w.Transport.Send(ctx, e.Payload)
		if sendErr == nil && res.OK {
			if w.succeed(ctx, e, res) {
				return
			}
			// provider accepted but the response had no message id; a
			// retry would double-send, so treat it as permanent
			sendErr = errNoMessageID
		}

		errMsg := "send failed"
		if sendErr != nil {
			errMsg = sendErr.Error()
		}
		if e.Meta.Kind == stream.KindInvite {
			if err := w.Guests.RecordSendError(e.Meta.GuestID, errMsg); err != nil {
				w.Log.Errorw("record send error failed", "guest_id", e.Meta.GuestID, "err", err)
			}
		}

		if sendErr != errNoMessageID && transport.Retryable(res.Status) && attempt < w.MaxRetries {
			delay := retry.Backoff(w.BackoffBase, attempt, w.BackoffMax)
			w.Log.Warnw("transient send failure, backing off",
				"entry_id", e.ID, "status", res.Status, "attempt", attempt, "delay", delay)
			if retry.Sleep(ctx, delay) != nil {
				return
			}
			attempt++
			continue
		}

		w.fail(ctx, e, errMsg, res.Status, attempt)
		return
	}
}

// succeed finalizes a delivered entry. Returns false when the provider
// response carried no message id.
func (w *Worker) succeed(ctx context.Context, e stream.Entry, res transport.SendResult) bool {
	providerID, err := transport.ExtractMessageID(res.Data)
	if err != nil {
		w.Log.Errorw("message id extraction failed", "entry_id", e.ID, "err", err)
		return false
	}

	if e.Meta.Kind == stream.KindInvite {
		tr, err := w.Guests.MarkSent(e.Meta.GuestID, providerID)
		if err != nil {
			w.Log.Errorw("mark sent failed", "guest_id", e.Meta.GuestID, "err", err)
		} else if tr != nil {
			w.broadcastTransition(*tr)
		}
	}

	if err := w.Outbox.Ack(ctx, e.ID); err != nil {
		w.Log.Errorw("ack failed", "entry_id", e.ID, "err", err)
	}
	w.Log.Infow("message sent", "entry_id", e.ID, "guest_id", e.Meta.GuestID, "provider_id", providerID)
	return true
}

// fail finalizes a permanently failed entry: guest marked failed,
// dead-letter copy written, original entry acknowledged away.
func (w *Worker) fail(ctx context.Context, e stream.Entry, errMsg string, status, attempt int) {
	if e.Meta.Kind == stream.KindInvite {
		tr, err := w.Guests.ApplyStatus(e.Meta.GuestID, model.StatusFailed)
		if err != nil {
			w.Log.Errorw("mark failed failed", "guest_id", e.Meta.GuestID, "err", err)
		} else if tr != nil {
			w.broadcastTransition(*tr)
		}
	}

	w.deadLetter(ctx, e, stream.Failure{Error: errMsg, HTTPStatus: status, Attempt: attempt})
	w.Log.Warnw("message dead-lettered",
		"entry_id", e.ID, "guest_id", e.Meta.GuestID, "status", status, "attempts", attempt)
}

func (w *Worker) deadLetter(ctx context.Context, e stream.Entry, failure stream.Failure) {
	if err := w.Outbox.MoveToDLQ(ctx, e, failure); err != nil {
		w.Log.Errorw("dead-letter append failed", "entry_id", e.ID, "err", err)
		// leave the entry unacked so it is retried after auto-claim
		return
	}
	if err := w.Outbox.Ack(ctx, e.ID); err != nil {
		w.Log.Errorw("ack failed", "entry_id", e.ID, "err", err)
	}
}

// broadcastTransition runs strictly after the state mutation committed and
// can fail independently of it.
func (w *Worker) broadcastTransition(tr model.StatusTransition) {
	w.Broadcast.Publish(tr.EventID, broadcast.KindGuestUpdate, tr)

	counts, err := w.Guests.CountByStatus(tr.EventID)
	if err != nil {
		w.Log.Debugw("counter read for broadcast failed", "event_id", tr.EventID, "err", err)
		return
	}
	w.Broadcast.Publish(tr.EventID, broadcast.KindCountersUpdate, counts)
}

var errNoMessageID = errors.New("provider response missing message id")
