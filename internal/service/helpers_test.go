package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gatherly/invites-backend/internal/broadcast"
	"github.com/gatherly/invites-backend/internal/model"
	"github.com/gatherly/invites-backend/internal/stream"
	"github.com/gatherly/invites-backend/internal/transport"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// fakeGuests is an in-memory guest store applying the same guarded
// transition rule the SQL repository encodes.
type fakeGuests struct {
	mu     sync.Mutex
	guests map[int]*model.Guest
}

func newFakeGuests(guests ...*model.Guest) *fakeGuests {
	m := map[int]*model.Guest{}
	for _, g := range guests {
		m[g.ID] = g
	}
	return &fakeGuests{guests: m}
}

func (f *fakeGuests) get(id int) *model.Guest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.guests[id]
}

func (f *fakeGuests) ApplyStatus(guestID int, newStatus model.Status) (*model.StatusTransition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.guests[guestID]
	if !ok {
		return nil, fmt.Errorf("no guest %d", guestID)
	}
	for _, s := range model.AllowedSources(newStatus) {
		if g.Status == s {
			old := g.Status
			g.Status = newStatus
			return &model.StatusTransition{
				GuestID:   guestID,
				EventID:   g.EventID,
				OldStatus: old,
				NewStatus: newStatus,
				At:        time.Now(),
			}, nil
		}
	}
	return nil, nil
}

func (f *fakeGuests) MarkSent(guestID int, providerMessageID string) (*model.StatusTransition, error) {
	tr, err := f.ApplyStatus(guestID, model.StatusSent)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.guests[guestID]
	if g.ProviderMessageID == nil {
		id := providerMessageID
		g.ProviderMessageID = &id
	}
	if tr != nil {
		g.LastSendError = nil
		g.SendEnqueuedAt = nil
	}
	return tr, nil
}

func (f *fakeGuests) IncrementSendAttempts(guestID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.guests[guestID]; ok {
		g.SendAttempts++
	}
	return nil
}

func (f *fakeGuests) RecordSendError(guestID int, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.guests[guestID]; ok {
		g.LastSendError = &message
	}
	return nil
}

func (f *fakeGuests) FindByReply(providerMessageID, phoneSuffix string) (*model.Guest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.guests {
		if g.ProviderMessageID != nil && *g.ProviderMessageID == providerMessageID &&
			strings.HasSuffix(g.Phone, phoneSuffix) {
			return g, nil
		}
	}
	return nil, nil
}

func (f *fakeGuests) FindByProviderMessageID(providerMessageID string) (*model.Guest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.guests {
		if g.ProviderMessageID != nil && *g.ProviderMessageID == providerMessageID {
			return g, nil
		}
	}
	return nil, nil
}

func (f *fakeGuests) CountByStatus(eventID int) (map[model.Status]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[model.Status]int{}
	for _, g := range f.guests {
		if g.EventID == eventID {
			counts[g.Status]++
		}
	}
	return counts, nil
}

// fakeEvents serves a fixed set of events.
type fakeEvents struct {
	events map[int]*model.Event
}

func (f *fakeEvents) GetByID(id int) (*model.Event, error) { return f.events[id], nil }
func (f *fakeEvents) Create(ev *model.Event) error         { return nil }

// dlqRecord pairs a dead-lettered entry with its failure context.
type dlqRecord struct {
	Entry   stream.Entry
	Failure stream.Failure
}

// fakeOutbox records acks and dead-letter moves; Read/AutoClaim serve a
// scripted entry list once.
type fakeOutbox struct {
	mu      sync.Mutex
	pending []stream.Entry
	acked   []string
	dlq     []dlqRecord
}

func (f *fakeOutbox) Read(ctx context.Context, newOnly bool) ([]stream.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !newOnly {
		return nil, nil
	}
	out := f.pending
	f.pending = nil
	return out, nil
}

func (f *fakeOutbox) AutoClaim(ctx context.Context, cursor string) (string, []stream.Entry, error) {
	return "0-0", nil, nil
}

func (f *fakeOutbox) Ack(ctx context.Context, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, entryID)
	return nil
}

func (f *fakeOutbox) MoveToDLQ(ctx context.Context, e stream.Entry, failure stream.Failure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dlq = append(f.dlq, dlqRecord{Entry: e, Failure: failure})
	return nil
}

// fakeTransport replays a scripted sequence of results, then repeats the
// last one. It records every payload it was asked to send.
type fakeTransport struct {
	mu     sync.Mutex
	script []transport.SendResult
	calls  []json.RawMessage
}

func okResult(messageID string) transport.SendResult {
	data, _ := json.Marshal(map[string]any{
		"messages": []map[string]string{{"id": messageID}},
	})
	return transport.SendResult{OK: true, Status: 200, Data: data}
}

func errResult(status int) transport.SendResult {
	return transport.SendResult{OK: false, Status: status, Data: []byte(`{}`)}
}

func (f *fakeTransport) Send(ctx context.Context, payload json.RawMessage) (transport.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, payload)

	idx := len(f.calls) - 1
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	res := f.script[idx]
	if !res.OK {
		return res, fmt.Errorf("provider returned %d", res.Status)
	}
	return res, nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// publishRecord is one captured broadcast.
type publishRecord struct {
	EventID int
	Kind    broadcast.Kind
	Payload any
}

type recBroadcast struct {
	mu   sync.Mutex
	msgs []publishRecord
}

func (r *recBroadcast) Publish(eventID int, kind broadcast.Kind, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, publishRecord{EventID: eventID, Kind: kind, Payload: payload})
}

func (r *recBroadcast) kinds() []broadcast.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]broadcast.Kind, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Kind
	}
	return out
}
