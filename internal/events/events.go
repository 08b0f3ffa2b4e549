// Package events publishes order lifecycle notifications to a message
// broker. Publishing is best-effort: a broker failure is logged and never
// fails the request that triggered it.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// OrderStatusChannel carries order status change events.
const OrderStatusChannel = "orders.status"

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// OrderEvent describes a change to an order's payment status.
type OrderEvent struct {
	OrderID    int64     `json:"order_id"`
	Status     string    `json:"status"`
	PrevStatus string    `json:"prev_status,omitempty"`
	EpaycoRef  string    `json:"epayco_ref,omitempty"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits order events to a backend. A nil Publisher is valid and
// drops all events, so callers never need to branch on configuration.
type Publisher struct {
	backend Backend
}

// NewPublisher constructs a Publisher for the provided backend.
func NewPublisher(backend Backend) *Publisher {
	return &Publisher{backend: backend}
}

// PublishOrderStatus emits an order status event. Errors are logged only.
func (p *Publisher) PublishOrderStatus(ctx context.Context, event OrderEvent) {
	if p == nil || p.backend == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("events: marshal order event: %v", err)
		return
	}
	attrs := map[string]string{"status": event.Status, "source": event.Source}
	if _, err := p.backend.Publish(ctx, OrderStatusChannel, data, attrs); err != nil {
		log.Printf("events: publish order %d status %q: %v", event.OrderID, event.Status, err)
	}
}

// Close closes the underlying backend.
func (p *Publisher) Close() error {
	if p == nil || p.backend == nil {
		return nil
	}
	return p.backend.Close()
}
