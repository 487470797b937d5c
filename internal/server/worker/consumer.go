// Package worker consumes the processing queue. Any number of consumers may
// run against the same queue; they share no state and rely on the registry's
// atomic status append for correctness.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/outofsight/internal/logging"
	"github.com/dmitrijs2005/outofsight/internal/server/queue"
)

const receiveBackoff = time.Second

// MessageHandler processes one delivery. Abandon runs after the delivery has
// been dead-lettered.
type MessageHandler interface {
	Handle(ctx context.Context, d *queue.Delivery) error
	Abandon(ctx context.Context, d *queue.Delivery)
}

type Options struct {
	Workers           int
	BatchSize         int
	MaxAttempts       int
	VisibilityTimeout time.Duration
}

type Consumer struct {
	queue   queue.Queue
	handler MessageHandler
	opts    Options
	logger  logging.Logger
}

func NewConsumer(q queue.Queue, h MessageHandler, opts Options, l logging.Logger) *Consumer {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 30 * time.Second
	}
	return &Consumer{queue: q, handler: h, opts: opts, logger: l.With("module", "consumer")}
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has finished the message in hand.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info(ctx, "consumer started", "workers", c.opts.Workers)

	var wg sync.WaitGroup
	for i := 0; i < c.opts.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.loop(ctx, c.logger.With("worker", id))
		}(i)
	}
	wg.Wait()

	c.logger.Info(context.Background(), "consumer stopped")
}

func (c *Consumer) loop(ctx context.Context, log logging.Logger) {
	for ctx.Err() == nil {
		ds, err := c.queue.Receive(ctx, c.opts.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error(ctx, "receive", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveBackoff):
			}
			continue
		}

		for _, d := range ds {
			if ctx.Err() != nil {
				// Left for redelivery after the visibility timeout.
				return
			}
			// A started message runs to completion even during shutdown.
			c.Process(context.WithoutCancel(ctx), d)
		}
	}
}

// Process handles one delivery and settles it: ack on success, dead-letter
// on a permanent error or when attempts are used up, otherwise leave it for
// redelivery.
func (c *Consumer) Process(ctx context.Context, d *queue.Delivery) {
	log := c.logger.With("message_id", d.ID, "attempt", d.Attempt)
	if d.Message != nil {
		log = log.With("kind", string(d.Message.Kind()), "file_id", d.Message.FileRef())
	}

	stop := c.heartbeat(ctx, d, log)
	err := c.handler.Handle(ctx, d)
	stop()

	switch {
	case err == nil:
		if err := c.queue.Ack(ctx, d); err != nil {
			log.Warn(ctx, "ack failed, message will be redelivered", "error", err)
			return
		}
		log.Debug(ctx, "message done")

	case IsPermanent(err):
		c.deadLetter(ctx, d, "permanent: "+err.Error(), log)

	case d.Attempt >= c.opts.MaxAttempts:
		c.deadLetter(ctx, d, "attempts exhausted: "+err.Error(), log)

	default:
		log.Warn(ctx, "handler failed, message will be redelivered", "error", err)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, d *queue.Delivery, reason string, log logging.Logger) {
	if err := c.queue.DeadLetter(ctx, d, reason); err != nil {
		log.Error(ctx, "dead-letter failed", "reason", reason, "error", err)
		return
	}
	log.Error(ctx, "message dead-lettered", "reason", reason)
	c.handler.Abandon(ctx, d)
}

// heartbeat keeps d invisible while its handler runs.
func (c *Consumer) heartbeat(ctx context.Context, d *queue.Delivery, log logging.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.opts.VisibilityTimeout / 2)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.queue.ExtendVisibility(ctx, d, c.opts.VisibilityTimeout); err != nil {
					log.Warn(ctx, "extend visibility", "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
