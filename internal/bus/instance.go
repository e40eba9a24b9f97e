package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Cross-instance event types.
const (
	EventMessageDelivered = "chat.message.delivered"
	EventSessionKick      = "session.kick"
	EventPresenceChanged  = "presence.changed"
)

const routingPrefix = "instance."

// Event is the cross-instance envelope. Every event carries the id of the
// instance that produced it so receivers can drop their own echoes.
type Event struct {
	Type             string `json:"type"`
	OriginInstanceID string `json:"originInstanceId"`
	UserID           string `json:"userId,omitempty"`
	SessionID        string `json:"sessionId,omitempty"`
	MessageID        string `json:"messageId,omitempty"`
	RecipientID      string `json:"recipientId,omitempty"`
	Status           string `json:"status,omitempty"`
	CloseCode        int    `json:"closeCode,omitempty"`
	Reason           string `json:"reason,omitempty"`
	Online           bool   `json:"online,omitempty"`
}

// Handler reacts to a remote-instance event.
type Handler func(Event)

// InstanceBus fans cross-instance events out to local handlers while filtering
// out events this instance published itself. It is handed to components as a
// constructor argument, never reached through a global.
type InstanceBus struct {
	instanceID string
	publisher  Publisher

	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewInstanceBus builds the bus for this instance.
func NewInstanceBus(instanceID string, publisher Publisher) *InstanceBus {
	return &InstanceBus{
		instanceID: instanceID,
		publisher:  publisher,
		handlers:   make(map[string][]Handler),
	}
}

// InstanceID returns the identifier stamped onto published events.
func (b *InstanceBus) InstanceID() string {
	return b.instanceID
}

// Publish stamps the origin instance id and sends the event to the exchange.
func (b *InstanceBus) Publish(ctx context.Context, ev Event) error {
	ev.OriginInstanceID = b.instanceID
	return b.publisher.Publish(ctx, routingPrefix+ev.Type, ev)
}

// On registers a handler for an event type.
func (b *InstanceBus) On(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Dispatch delivers a received event to local handlers. Self-origin events are
// dropped so an instance never duplicates side effects it already applied
// locally.
func (b *InstanceBus) Dispatch(ev Event) {
	if ev.OriginInstanceID == b.instanceID {
		return
	}

	b.mu.RLock()
	handlers := b.handlers[ev.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Consume binds an exclusive queue to the exchange and feeds incoming events
// into Dispatch until the context is cancelled. Call it in its own goroutine.
func Consume(ctx context.Context, amqpURL, exchange string, b *InstanceBus) error {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queue.Name, routingPrefix+"#", exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	log.Printf("instance bus consuming exchange=%s queue=%s", exchange, queue.Name)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("amqp deliveries channel closed")
			}
			var ev Event
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				log.Printf("instance bus: dropping malformed event: %v", err)
				continue
			}
			b.Dispatch(ev)
		}
	}
}
