package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/outofsight/internal/logging"
	"github.com/dmitrijs2005/outofsight/internal/server/lifecycle"
	"github.com/dmitrijs2005/outofsight/internal/server/models"
	"github.com/dmitrijs2005/outofsight/internal/server/notify"
	"github.com/dmitrijs2005/outofsight/internal/server/processing"
	"github.com/dmitrijs2005/outofsight/internal/server/queue"
	"github.com/dmitrijs2005/outofsight/internal/server/registry"
)

// Checker runs the work between "processing" and a terminal status.
type Checker interface {
	Process(ctx context.Context, f *models.File) (processing.Outcome, error)
}

type Notifier interface {
	Notify(ctx context.Context, event models.Event, to notify.Recipient, c notify.Context)
}

// Handler resolves a delivery to the code for its message variant.
type Handler struct {
	reg      registry.Store
	machine  *lifecycle.Machine
	checker  Checker
	queue    queue.Queue
	notifier Notifier
	logger   logging.Logger
	now      func() time.Time
}

func NewHandler(reg registry.Store, checker Checker, q queue.Queue, n Notifier, l logging.Logger) *Handler {
	l = l.With("module", "handler")
	return &Handler{
		reg:      reg,
		machine:  lifecycle.NewMachine(reg, l),
		checker:  checker,
		queue:    q,
		notifier: n,
		logger:   l,
		now:      time.Now,
	}
}

func (h *Handler) Handle(ctx context.Context, d *queue.Delivery) error {
	if d.DecodeErr != nil {
		return Permanent(d.DecodeErr)
	}

	switch m := d.Message.(type) {
	case *queue.StatusUpdate:
		return h.statusUpdate(ctx, m)
	case *queue.Notification:
		h.notification(ctx, m)
		return nil
	default:
		return Permanent(fmt.Errorf("%w: %T", queue.ErrUnknownKind, d.Message))
	}
}

// Abandon is called once a delivery has been dead-lettered. A status update
// that can no longer make progress takes its file to "failed" when that is
// still a legal move.
func (h *Handler) Abandon(ctx context.Context, d *queue.Delivery) {
	m, ok := d.Message.(*queue.StatusUpdate)
	if !ok || m.Target == models.StatusFailed {
		return
	}

	log := h.logger.With("file_id", m.FileID)
	res, err := h.machine.Apply(ctx, m.FileID, models.StatusFailed)
	if err != nil {
		log.Warn(ctx, "could not fail abandoned file", "error", err)
		return
	}
	if res.Inserted {
		h.notifyOutcome(ctx, m.FileID, models.StatusFailed)
	}
}

func (h *Handler) statusUpdate(ctx context.Context, m *queue.StatusUpdate) error {
	res, err := h.machine.Apply(ctx, m.FileID, m.Target)
	if err != nil {
		return err
	}

	switch m.Target {
	case models.StatusProcessing:
		if !res.Inserted {
			// Redelivered: the check only needs to run again if the previous
			// attempt died before handing on the verdict.
			latest, err := h.reg.LatestStatus(ctx, m.FileID)
			if err != nil {
				return err
			}
			if latest != models.StatusProcessing {
				return nil
			}
		}
		return h.process(ctx, m)

	case models.StatusProcessed, models.StatusFailed:
		if res.Inserted {
			h.notifyOutcome(ctx, m.FileID, m.Target)
		}
	}
	return nil
}

func (h *Handler) process(ctx context.Context, m *queue.StatusUpdate) error {
	file, err := h.reg.GetFile(ctx, m.FileID)
	if err != nil {
		return err
	}

	out, err := h.checker.Process(ctx, file)
	if err != nil {
		return err
	}

	next := models.StatusProcessed
	if !out.OK {
		next = models.StatusFailed
		h.logger.Warn(ctx, "file rejected", "file_id", file.ID, "reason", out.Reason)
	}

	return h.queue.Enqueue(ctx, &queue.StatusUpdate{
		FileID:   file.ID,
		UserID:   file.UserID,
		Location: file.Location,
		FileType: file.FileType,
		Target:   next,
	})
}

// notifyOutcome queues the user-facing message for a terminal status. It is
// best-effort: nothing here fails the delivery.
func (h *Handler) notifyOutcome(ctx context.Context, fileID string, status models.Status) {
	log := h.logger.With("file_id", fileID)

	event, ok := models.EventForStatus(status)
	if !ok {
		return
	}

	file, err := h.reg.GetFile(ctx, fileID)
	if err != nil {
		log.Error(ctx, "load file for notification", "error", err)
		return
	}
	user, err := h.reg.GetUser(ctx, file.UserID)
	if err != nil {
		log.Error(ctx, "load owner for notification", "error", err)
		return
	}
	if user.Disabled {
		return
	}

	err = h.queue.Enqueue(ctx, &queue.Notification{
		Event:    event,
		UserID:   user.ID,
		Email:    user.Email,
		Nickname: user.Nickname,
		FileID:   file.ID,
		Filename: file.Filename,
		IssuedAt: h.now(),
	})
	if err != nil {
		log.Error(ctx, "enqueue notification", "event", string(event), "error", err)
	}
}

func (h *Handler) notification(ctx context.Context, m *queue.Notification) {
	h.notifier.Notify(ctx, m.Event,
		notify.Recipient{Email: m.Email, Nickname: m.Nickname},
		notify.Context{
			FileID:     m.FileID,
			Filename:   m.Filename,
			ConfirmURL: m.ConfirmURL,
			IssuedAt:   m.IssuedAt,
			ExpiresAt:  m.ExpiresAt,
		})
}
