// Package stream implements the durable outbox for invite sends on top of
// Redis Streams. A consumer group gives at-least-once delivery with
// competing consumers; auto-claim recovers entries left behind by a crashed
// worker; permanently failed entries are copied to a dead-letter stream for
// operator inspection.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options fixes the stream topology and per-consumer identity for one
// Outbox client.
type Options struct {
	Stream         string
	DLQStream      string
	Group          string
	Consumer       string
	ReadCount      int64
	IdleClaimAfter time.Duration
	AutoClaimBatch int64
}

// Outbox is the stream client. Construct one per consumer identity and pass
// it by reference; it owns no background goroutines.
type Outbox struct {
	rdb  *redis.Client
	opts Options
}

func NewOutbox(rdb *redis.Client, opts Options) *Outbox {
	if opts.ReadCount <= 0 {
		opts.ReadCount = 10
	}
	if opts.AutoClaimBatch <= 0 {
		opts.AutoClaimBatch = 20
	}
	if opts.IdleClaimAfter <= 0 {
		opts.IdleClaimAfter = time.Minute
	}
	return &Outbox{rdb: rdb, opts: opts}
}

// EnsureGroup idempotently creates the consumer group at the tail of the
// stream, creating the stream itself if absent.
func (o *Outbox) EnsureGroup(ctx context.Context) error {
	err := o.rdb.XGroupCreateMkStream(ctx, o.opts.Stream, o.opts.Group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", o.opts.Group, o.opts.Stream, err)
	}
	return nil
}

// Add validates the metadata and appends one entry.
func (o *Outbox) Add(ctx context.Context, payload json.RawMessage, meta Meta) (string, error) {
	if err := meta.Validate(); err != nil {
		return "", err
	}
	values, err := entryValues(payload, meta)
	if err != nil {
		return "", err
	}
	id, err := o.rdb.XAdd(ctx, &redis.XAddArgs{Stream: o.opts.Stream, Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", o.opts.Stream, err)
	}
	return id, nil
}

// AddBatch appends all jobs in a single transactional pipeline: either the
// whole batch reaches the stream in submission order or none of it does.
// Entries are still claimed and processed independently afterwards.
func (o *Outbox) AddBatch(ctx context.Context, jobs []Job) ([]string, error) {
	for i, j := range jobs {
		if err := j.Meta.Validate(); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
	}

	pipe := o.rdb.TxPipeline()
	cmds := make([]*redis.StringCmd, len(jobs))
	for i, j := range jobs {
		values, err := entryValues(j.Payload, j.Meta)
		if err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
		cmds[i] = pipe.XAdd(ctx, &redis.XAddArgs{Stream: o.opts.Stream, Values: values})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("batch xadd %s: %w", o.opts.Stream, err)
	}

	ids := make([]string, len(jobs))
	for i, cmd := range cmds {
		ids[i] = cmd.Val()
	}
	return ids, nil
}

// Read claims up to ReadCount entries for this consumer. With newOnly set it
// reads entries never delivered to anyone (">"); otherwise it re-reads this
// consumer's own unacknowledged backlog ("0"), which a restarted worker does
// once before consuming new work.
func (o *Outbox) Read(ctx context.Context, newOnly bool) ([]Entry, error) {
	cursor := ">"
	if !newOnly {
		cursor = "0"
	}

	streams, err := o.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    o.opts.Group,
		Consumer: o.opts.Consumer,
		Streams:  []string{o.opts.Stream, cursor},
		Count:    o.opts.ReadCount,
		Block:    -1, // poll, never block; the worker owns the idle sleep
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", o.opts.Stream, err)
	}

	var entries []Entry
	for _, s := range streams {
		for _, msg := range s.Messages {
			entries = append(entries, parseEntry(msg))
		}
	}
	return entries, nil
}

// AutoClaim sweeps entries claimed by any consumer but idle past the
// threshold, reassigning them to this consumer. The returned cursor feeds
// the next sweep; "0-0" restarts from the head.
func (o *Outbox) AutoClaim(ctx context.Context, cursor string) (string, []Entry, error) {
	if cursor == "" {
		cursor = "0-0"
	}

	msgs, next, err := o.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   o.opts.Stream,
		Group:    o.opts.Group,
		Consumer: o.opts.Consumer,
		MinIdle:  o.opts.IdleClaimAfter,
		Start:    cursor,
		Count:    o.opts.AutoClaimBatch,
	}).Result()
	if err == redis.Nil {
		return "0-0", nil, nil
	}
	if err != nil {
		return cursor, nil, fmt.Errorf("xautoclaim %s: %w", o.opts.Stream, err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, parseEntry(msg))
	}
	return next, entries, nil
}

// Ack acknowledges the entry and deletes it from the live stream. Processing
// is complete; the guest row and, on failure, the dead-letter stream hold
// the durable record.
func (o *Outbox) Ack(ctx context.Context, entryID string) error {
	pipe := o.rdb.TxPipeline()
	pipe.XAck(ctx, o.opts.Stream, o.opts.Group, entryID)
	pipe.XDel(ctx, o.opts.Stream, entryID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack %s: %w", entryID, err)
	}
	return nil
}

// MoveToDLQ appends a copy of the entry to the dead-letter stream with its
// failure context. The caller still acks the original entry afterwards.
func (o *Outbox) MoveToDLQ(ctx context.Context, e Entry, failure Failure) error {
	metaJSON, err := json.Marshal(e.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	// the payload may be empty here; a malformed entry must still reach
	// the dead-letter stream or it would be redelivered forever
	values := map[string]interface{}{
		"payload": string(e.Payload),
		"meta":    string(metaJSON),
	}
	values["origin_id"] = e.ID
	values["error"] = failure.Error
	values["http_status"] = failure.HTTPStatus
	values["attempt"] = failure.Attempt
	values["failed_at"] = time.Now().UTC().Format(time.RFC3339)

	if err := o.rdb.XAdd(ctx, &redis.XAddArgs{Stream: o.opts.DLQStream, Values: values}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", o.opts.DLQStream, err)
	}
	return nil
}

func entryValues(payload json.RawMessage, meta Meta) (map[string]interface{}, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal meta: %w", err)
	}
	return map[string]interface{}{
		"payload": string(payload),
		"meta":    string(metaJSON),
	}, nil
}

// parseEntry decodes one raw stream message. A malformed meta leaves
// Meta.Kind empty; the worker detects that via Validate and dead-letters
// the entry rather than dropping it silently.
func parseEntry(msg redis.XMessage) Entry {
	e := Entry{ID: msg.ID}
	if p, ok := msg.Values["payload"].(string); ok {
		e.Payload = json.RawMessage(p)
	}
	if m, ok := msg.Values["meta"].(string); ok {
		_ = json.Unmarshal([]byte(m), &e.Meta)
	}
	return e
}
