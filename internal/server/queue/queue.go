package queue

import (
	"context"
	"errors"
	"time"
)

// ErrStaleReceipt is returned when a delivery's receipt no longer owns the
// message, typically because its visibility timeout expired and another
// consumer received it.
var ErrStaleReceipt = errors.New("stale receipt")

// Delivery is one received copy of a message. Message is nil when the body
// could not be decoded; DecodeErr then says why.
type Delivery struct {
	ID        string
	Message   Message
	DecodeErr error
	Body      []byte
	// Attempt counts receives of this message, starting at 1.
	Attempt   int

	receipt string
}

// Queue is the at-least-once transport. Delivery order is not guaranteed and
// the same message may be received more than once.
type Queue interface {
	Enqueue(ctx context.Context, m Message) error
	// Receive waits up to the transport's poll time for at most max messages.
	// An empty result with a nil error means nothing arrived.
	Receive(ctx context.Context, max int) ([]*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	ExtendVisibility(ctx context.Context, d *Delivery, timeout time.Duration) error
	// DeadLetter parks the message for inspection and removes it from the
	// live queue.
	DeadLetter(ctx context.Context, d *Delivery, reason string) error
}

func newDelivery(transportID string, body []byte, attempt int, receipt string) *Delivery {
	id, msg, err := Decode(body)
	if id == "" {
		id = transportID
	}
	return &Delivery{ID: id, Message: msg, DecodeErr: err, Body: body, Attempt: attempt, receipt: receipt}
}
