// Package queue abstracts the delivery queue between the outbox poller and
// the channel dispatchers. Semantics are at-least-once: a message may be
// redelivered after a consumer crash, so handlers must be idempotent.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMessageRequired indicates a nil or empty message was passed to Send.
	ErrMessageRequired = errors.New("queue message is required")

	// ErrQueueRequired indicates a component was built without a queue.
	ErrQueueRequired = errors.New("queue is required")

	// ErrReceiverRequired indicates the consumer was built without a receiver.
	ErrReceiverRequired = errors.New("queue receiver is required")

	// ErrHandlerRequired indicates the consumer was built without a handler.
	ErrHandlerRequired = errors.New("queue handler is required")

	// ErrMalformedMessage indicates a message body that cannot be decoded.
	// Such messages are dead-lettered, never requeued.
	ErrMalformedMessage = errors.New("malformed queue message")

	// ErrReceiptRequired indicates an empty receipt on Ack or Nack.
	ErrReceiptRequired = errors.New("delivery receipt is required")
)

// Message is an outbound queue message.
type Message struct {
	// ID is the producer-side identifier, carried in the envelope so
	// consumers can deduplicate redeliveries.
	ID string

	// Body is the serialized envelope.
	Body []byte

	// Attributes are transport headers.
	Attributes map[string]string
}

// Delivery is one received message awaiting Ack or Nack.
type Delivery struct {
	// TransportID is the broker's identifier for the delivery.
	TransportID string

	// Receipt is the opaque handle used to Ack or Nack this delivery.
	Receipt string

	// Body is the serialized envelope.
	Body []byte

	// Attributes are transport headers.
	Attributes map[string]string

	// Redelivered reports whether the broker has delivered this message
	// before.
	Redelivered bool
}

// Queue sends messages to the delivery queue.
type Queue interface {
	// Send publishes a message and returns the transport identifier.
	Send(ctx context.Context, message *Message) (string, error)

	// SendWithDelay publishes a message that becomes visible to consumers
	// only after the delay elapses.
	SendWithDelay(ctx context.Context, message *Message, delay time.Duration) (string, error)

	// IsHealthy reports whether the transport currently accepts publishes.
	IsHealthy(ctx context.Context) bool
}

// Receiver receives messages from the delivery queue. Deliveries stay
// invisible to other consumers until acked, nacked, or their visibility
// window lapses.
type Receiver interface {
	// Receive returns up to max deliveries, waiting up to wait for the first
	// one. An empty slice with a nil error means the wait elapsed idle.
	Receive(ctx context.Context, max int, wait time.Duration) ([]*Delivery, error)

	// Ack removes a delivery from the queue after successful handling.
	Ack(ctx context.Context, receipt string) error

	// Nack returns a delivery to the broker. With requeue the message is
	// redelivered; without it the message goes to the dead-letter queue.
	Nack(ctx context.Context, receipt string, requeue bool) error
}
