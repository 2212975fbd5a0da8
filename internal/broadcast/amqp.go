package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// AMQPBroadcaster publishes dashboard messages to a topic exchange with one
// routing key per event ("event.<id>"). Dashboard consumers bind a
// transient queue to the keys they watch.
type AMQPBroadcaster struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
	log      *zap.SugaredLogger
}

func NewAMQPBroadcaster(conn *amqp.Connection, exchange string, log *zap.SugaredLogger) (*AMQPBroadcaster, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-delete
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPBroadcaster{ch: ch, exchange: exchange, log: log}, nil
}

// Publish sends one message on the event's topic. Errors are logged and
// dropped; there is no delivery guarantee here and callers never see a
// failure.
func (b *AMQPBroadcaster) Publish(eventID int, kind Kind, payload any) {
	body, err := json.Marshal(map[string]any{
		"kind": kind,
		"data": payload,
		"at":   time.Now().UTC(),
	})
	if err != nil {
		b.log.Warnw("broadcast marshal failed", "event_id", eventID, "kind", kind, "err", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	err = b.ch.Publish(
		b.exchange,
		fmt.Sprintf("event.%d", eventID),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		b.log.Warnw("broadcast publish failed", "event_id", eventID, "kind", kind, "err", err)
	}
}

func (b *AMQPBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch.Close()
}
