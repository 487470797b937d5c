package worker

import (
	"context"
	"time"

	"github.com/dmitrijs2005/outofsight/internal/logging"
	"github.com/dmitrijs2005/outofsight/internal/server/lifecycle"
	"github.com/dmitrijs2005/outofsight/internal/server/models"
	"github.com/dmitrijs2005/outofsight/internal/server/queue"
	"github.com/dmitrijs2005/outofsight/internal/server/registry"
)

const (
	reconcileBatch           = 100
	defaultReconcileInterval = time.Minute
)

// Reconciler periodically re-enqueues files stuck in "uploaded" because the
// processing message never made it onto the queue.
type Reconciler struct {
	reg        registry.Registry
	queue      queue.Queue
	machine    *lifecycle.Machine
	interval   time.Duration
	staleAfter time.Duration
	logger     logging.Logger
	now        func() time.Time
	done       chan struct{}
}

func NewReconciler(reg registry.Registry, q queue.Queue, interval, staleAfter time.Duration, l logging.Logger) *Reconciler {
	l = l.With("module", "reconciler")
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	if staleAfter < 0 {
		staleAfter = 0
	}
	return &Reconciler{
		reg:        reg,
		queue:      q,
		machine:    lifecycle.NewMachine(reg, l),
		interval:   interval,
		staleAfter: staleAfter,
		logger:     l,
		now:        time.Now,
		done:       make(chan struct{}),
	}
}

// Start runs a sweep immediately and then every interval until ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info(ctx, "reconciler started", "interval", r.interval, "stale_after", r.staleAfter)

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.RunOnce(ctx)

		for {
			select {
			case <-ticker.C:
				r.RunOnce(ctx)
			case <-ctx.Done():
				r.logger.Info(context.Background(), "reconciler stopping")
				return
			}
		}
	}()
}

// Wait blocks until the loop started by Start has returned.
func (r *Reconciler) Wait() {
	<-r.done
}

// RunOnce sweeps one batch and reports how many files were re-queued.
func (r *Reconciler) RunOnce(ctx context.Context) int {
	stale, err := r.reg.ListStale(ctx, models.StatusUploaded, r.now().Add(-r.staleAfter), reconcileBatch)
	if err != nil {
		r.logger.Error(ctx, "list stale files", "error", err)
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	var requeued, failed int
	for _, f := range stale {
		log := r.logger.With("file_id", f.ID)

		err := r.queue.Enqueue(ctx, &queue.StatusUpdate{
			FileID:   f.ID,
			UserID:   f.UserID,
			Location: f.Location,
			FileType: f.FileType,
			Target:   models.StatusProcessing,
		})
		if err != nil {
			log.Error(ctx, "re-enqueue", "error", err)
			failed++
			continue
		}

		if _, err := r.machine.Apply(ctx, f.ID, models.StatusQueued); err != nil {
			log.Warn(ctx, "record queued", "error", err)
		}
		requeued++
	}

	r.logger.Info(ctx, "reconcile cycle complete", "requeued", requeued, "failed", failed, "total_stale", len(stale))
	return requeued
}
