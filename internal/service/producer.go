// internal/service/producer.go
package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	appErrors "github.com/gatherly/invites-backend/internal/errors"
	"github.com/gatherly/invites-backend/internal/stream"
)

// OutboxAppender is the slice of the stream client the producer needs.
type OutboxAppender interface {
	Add(ctx context.Context, payload json.RawMessage, meta stream.Meta) (string, error)
	AddBatch(ctx context.Context, jobs []stream.Job) ([]string, error)
}

// Producer validates send requests and appends them to the outbox stream.
// It never touches the guest store; the caller stamps enqueue bookkeeping
// after a successful append.
type Producer struct {
	Outbox OutboxAppender
	Log    *zap.SugaredLogger
}

func NewProducer(outbox OutboxAppender, log *zap.SugaredLogger) *Producer {
	return &Producer{Outbox: outbox, Log: log}
}

// EnqueueOne validates and appends a single send job.
func (p *Producer) EnqueueOne(ctx context.Context, payload json.RawMessage, meta stream.Meta) (string, error) {
	if err := ValidatePayload(payload); err != nil {
		return "", err
	}
	id, err := p.Outbox.Add(ctx, payload, meta)
	if err != nil {
		return "", err
	}
	p.Log.Debugw("enqueued send job", "entry_id", id, "kind", meta.Kind, "guest_id", meta.GuestID)
	return id, nil
}

// EnqueueBatch validates every job up front and appends them atomically:
// one malformed job rejects the whole batch before anything reaches the
// stream.
func (p *Producer) EnqueueBatch(ctx context.Context, jobs []stream.Job) ([]string, error) {
	for _, j := range jobs {
		if err := ValidatePayload(j.Payload); err != nil {
			return nil, err
		}
	}
	ids, err := p.Outbox.AddBatch(ctx, jobs)
	if err != nil {
		return nil, err
	}
	p.Log.Infow("enqueued send batch", "count", len(ids))
	return ids, nil
}

// ValidatePayload rejects transport bodies that are not well-formed provider
// messages, so garbage never enters the stream.
func ValidatePayload(payload json.RawMessage) error {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(payload, &body); err != nil {
		return appErrors.NewValidation("payload", "not a JSON object")
	}

	var product string
	if err := json.Unmarshal(body["messaging_product"], &product); err != nil || product != "whatsapp" {
		return appErrors.NewValidation("messaging_product", "must be \"whatsapp\"")
	}

	var to string
	if err := json.Unmarshal(body["to"], &to); err != nil || to == "" {
		return appErrors.NewValidation("to", "recipient is required")
	}

	var msgType string
	if err := json.Unmarshal(body["type"], &msgType); err != nil || msgType == "" {
		return appErrors.NewValidation("type", "must be a non-empty string")
	}
	if _, ok := body[msgType]; !ok {
		// every message type carries a same-named object field
		return appErrors.NewValidation("payload", "missing "+msgType+" body")
	}

	return nil
}
