package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const memoryPollInterval = 5 * time.Millisecond

// DeadLetter is a message parked by Memory.DeadLetter.
type DeadLetter struct {
	ID      string
	Body    []byte
	Reason  string
	Attempt int
}

type memoryMessage struct {
	id             string
	body           []byte
	receives       int
	receipt        string
	invisibleUntil time.Time
}

// Memory is an in-process queue with SQS semantics: received messages are
// hidden for the visibility timeout and come back if not acked in time.
type Memory struct {
	mu         sync.Mutex
	now        func() time.Time
	visibility time.Duration
	wait       time.Duration
	messages   []*memoryMessage
	dead       []DeadLetter
	sent       int
}

func NewMemory(visibility, wait time.Duration) *Memory {
	return &Memory{now: time.Now, visibility: visibility, wait: wait}
}

// SetClock replaces the time source. Tests use it to expire visibility.
func (q *Memory) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *Memory) Enqueue(_ context.Context, m Message) error {
	id, body, err := Encode(m)
	if err != nil {
		return err
	}
	q.EnqueueRaw(id, body)
	return nil
}

// EnqueueRaw puts an arbitrary body on the queue, bypassing Encode.
func (q *Memory) EnqueueRaw(id string, body []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, &memoryMessage{id: id, body: body})
	q.sent++
}

func (q *Memory) Receive(ctx context.Context, max int) ([]*Delivery, error) {
	if max <= 0 {
		max = 1
	}

	deadline := time.NewTimer(q.wait)
	defer deadline.Stop()
	tick := time.NewTicker(memoryPollInterval)
	defer tick.Stop()

	for {
		if res := q.take(max); len(res) > 0 {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-tick.C:
		}
	}
}

func (q *Memory) take(max int) []*Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var res []*Delivery
	for _, m := range q.messages {
		if len(res) == max {
			break
		}
		if now.Before(m.invisibleUntil) {
			continue
		}
		m.receives++
		m.receipt = uuid.NewString()
		m.invisibleUntil = now.Add(q.visibility)
		res = append(res, newDelivery(m.id, m.body, m.receives, m.receipt))
	}
	return res
}

func (q *Memory) find(d *Delivery) (int, error) {
	for i, m := range q.messages {
		if m.receipt == d.receipt {
			return i, nil
		}
	}
	return -1, ErrStaleReceipt
}

func (q *Memory) Ack(_ context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	i, err := q.find(d)
	if err != nil {
		return err
	}
	q.messages = append(q.messages[:i], q.messages[i+1:]...)
	return nil
}

func (q *Memory) ExtendVisibility(_ context.Context, d *Delivery, timeout time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	i, err := q.find(d)
	if err != nil {
		return err
	}
	q.messages[i].invisibleUntil = q.now().Add(timeout)
	return nil
}

func (q *Memory) DeadLetter(_ context.Context, d *Delivery, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	i, err := q.find(d)
	if err != nil {
		return err
	}
	m := q.messages[i]
	q.dead = append(q.dead, DeadLetter{ID: d.ID, Body: m.body, Reason: reason, Attempt: d.Attempt})
	q.messages = append(q.messages[:i], q.messages[i+1:]...)
	return nil
}

// Len reports messages not yet acked or dead-lettered, visible or not.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Sent reports how many messages were ever enqueued.
func (q *Memory) Sent() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sent
}

func (q *Memory) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}
