package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherly/invites-backend/internal/broadcast"
	"github.com/gatherly/invites-backend/internal/model"
	"github.com/gatherly/invites-backend/internal/ratelimit"
	"github.com/gatherly/invites-backend/internal/stream"
	"github.com/gatherly/invites-backend/internal/transport"
)

func inviteEntry(id string, guestID int) stream.Entry {
	return stream.Entry{
		ID:      id,
		Payload: []byte(`{"messaging_product":"whatsapp","to":"254712345678","type":"text","text":{"body":"hi"}}`),
		Meta:    stream.Meta{Kind: stream.KindInvite, GuestID: guestID, EventID: 1},
	}
}

func newTestWorker(outbox *fakeOutbox, guests *fakeGuests, sender *fakeTransport, caster *recBroadcast) *Worker {
	return NewWorker(WorkerConfig{
		Outbox:        outbox,
		Guests:        guests,
		Transport:     sender,
		Broadcast:     caster,
		Limiter:       ratelimit.NewTokenBucket(1000, 10),
		Log:           testLogger(),
		MaxRetries:    3,
		BackoffBase:   time.Millisecond,
		BackoffMax:    5 * time.Millisecond,
		PollIdleSleep: time.Millisecond,
	})
}

func TestProcessSuccess(t *testing.T) {
	guests := newFakeGuests(&model.Guest{ID: 7, EventID: 1, Status: model.StatusPending, Phone: "254712345678"})
	outbox := &fakeOutbox{}
	sender := &fakeTransport{script: []transport.SendResult{okResult("wamid.abc")}}
	caster := &recBroadcast{}

	w := newTestWorker(outbox, guests, sender, caster)
	w.Process(context.Background(), inviteEntry("1-0", 7))

	g := guests.get(7)
	assert.Equal(t, model.StatusSent, g.Status)
	require.NotNil(t, g.ProviderMessageID)
	assert.Equal(t, "wamid.abc", *g.ProviderMessageID)
	assert.Nil(t, g.LastSendError)
	assert.Nil(t, g.SendEnqueuedAt)
	assert.Equal(t, 1, g.SendAttempts)

	assert.Equal(t, []string{"1-0"}, outbox.acked)
	assert.Empty(t, outbox.dlq)
	assert.Contains(t, caster.kinds(), broadcast.KindGuestUpdate)
	assert.Contains(t, caster.kinds(), broadcast.KindCountersUpdate)
}

func TestProcessTransientFailureThenSuccess(t *testing.T) {
	guests := newFakeGuests(&model.Guest{ID: 7, EventID: 1, Status: model.StatusPending})
	outbox := &fakeOutbox{}
	// maxRetries is 3: two 500s then success must end in sent, no DLQ
	sender := &fakeTransport{script: []transport.SendResult{
		errResult(500), errResult(500), okResult("wamid.retry"),
	}}

	w := newTestWorker(outbox, guests, sender, &recBroadcast{})
	w.Process(context.Background(), inviteEntry("1-0", 7))

	g := guests.get(7)
	assert.Equal(t, model.StatusSent, g.Status)
	assert.Equal(t, 3, sender.callCount())
	assert.Equal(t, []string{"1-0"}, outbox.acked)
	assert.Empty(t, outbox.dlq)
}

func TestProcessRetriesExhausted(t *testing.T) {
	guests := newFakeGuests(&model.Guest{ID: 7, EventID: 1, Status: model.StatusPending})
	outbox := &fakeOutbox{}
	sender := &fakeTransport{script: []transport.SendResult{errResult(500)}}

	w := newTestWorker(outbox, guests, sender, &recBroadcast{})
	w.Process(context.Background(), inviteEntry("1-0", 7))

	g := guests.get(7)
	assert.Equal(t, model.StatusFailed, g.Status)
	require.NotNil(t, g.LastSendError)
	assert.Equal(t, 3, sender.callCount())

	// entry is dead-lettered AND acknowledged away from the live stream
	require.Len(t, outbox.dlq, 1)
	assert.Equal(t, 500, outbox.dlq[0].Failure.HTTPStatus)
	assert.Equal(t, 3, outbox.dlq[0].Failure.Attempt)
	assert.Equal(t, []string{"1-0"}, outbox.acked)
}

func TestProcessNonRetryableFailsImmediately(t *testing.T) {
	guests := newFakeGuests(&model.Guest{ID: 7, EventID: 1, Status: model.StatusPending})
	outbox := &fakeOutbox{}
	sender := &fakeTransport{script: []transport.SendResult{errResult(401)}}

	w := newTestWorker(outbox, guests, sender, &recBroadcast{})
	w.BackoffBase = time.Second // a backoff sleep would blow the deadline below

	start := time.Now()
	w.Process(context.Background(), inviteEntry("1-0", 7))
	elapsed := time.Since(start)

	assert.Equal(t, 1, sender.callCount())
	assert.Less(t, elapsed, 500*time.Millisecond, "401 must not back off")
	assert.Equal(t, model.StatusFailed, guests.get(7).Status)
	require.Len(t, outbox.dlq, 1)
	assert.Equal(t, 401, outbox.dlq[0].Failure.HTTPStatus)
	assert.Equal(t, 1, outbox.dlq[0].Failure.Attempt)
	assert.Equal(t, []string{"1-0"}, outbox.acked)
}

func TestProcessMalformedMetaDeadLetters(t *testing.T) {
	guests := newFakeGuests(&model.Guest{ID: 7, EventID: 1, Status: model.StatusPending})
	outbox := &fakeOutbox{}
	sender := &fakeTransport{script: []transport.SendResult{okResult("x")}}

	w := newTestWorker(outbox, guests, sender, &recBroadcast{})
	w.Process(context.Background(), stream.Entry{
		ID:      "1-0",
		Payload: []byte(`{}`),
		Meta:    stream.Meta{Kind: "mystery"},
	})

	assert.Equal(t, 0, sender.callCount())
	require.Len(t, outbox.dlq, 1)
	assert.Equal(t, []string{"1-0"}, outbox.acked)
	// guest untouched
	assert.Equal(t, model.StatusPending, guests.get(7).Status)
}

func TestProcessFollowupSkipsGuestMutations(t *testing.T) {
	guests := newFakeGuests(&model.Guest{ID: 7, EventID: 1, Status: model.StatusConfirmed})
	outbox := &fakeOutbox{}
	sender := &fakeTransport{script: []transport.SendResult{okResult("wamid.fu")}}

	w := newTestWorker(outbox, guests, sender, &recBroadcast{})
	w.Process(context.Background(), stream.Entry{
		ID:      "2-0",
		Payload: []byte(`{"messaging_product":"whatsapp","to":"254712345678","type":"text","text":{"body":"ty"}}`),
		Meta:    stream.Meta{Kind: stream.KindFollowup, GuestID: 7, EventID: 1},
	})

	g := guests.get(7)
	assert.Equal(t, model.StatusConfirmed, g.Status)
	assert.Equal(t, 0, g.SendAttempts)
	assert.Nil(t, g.ProviderMessageID)
	assert.Equal(t, []string{"2-0"}, outbox.acked)
}

func TestRunDrainsAndStops(t *testing.T) {
	guests := newFakeGuests(&model.Guest{ID: 7, EventID: 1, Status: model.StatusPending})
	outbox := &fakeOutbox{pending: []stream.Entry{inviteEntry("1-0", 7)}}
	sender := &fakeTransport{script: []transport.SendResult{okResult("wamid.run")}}

	w := newTestWorker(outbox, guests, sender, &recBroadcast{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return guests.get(7).Status == model.StatusSent
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
