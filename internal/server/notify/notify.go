// Package notify tells users about their account and their files. Delivery
// is best-effort: Notify logs failures and never returns them, so a mail
// outage cannot hold back a status transition.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/outofsight/internal/logging"
	"github.com/dmitrijs2005/outofsight/internal/server/models"
)

var ErrUnknownEvent = errors.New("unknown notification event")

// Mailer sends one email.
type Mailer interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

type Recipient struct {
	Email    string
	Nickname string
}

// Context carries the event-specific template values.
type Context struct {
	FileID     string
	Filename   string
	ConfirmURL string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

type templateData struct {
	Recipient
	Context
}

type Dispatcher struct {
	mailer Mailer
	logger logging.Logger
	now    func() time.Time
}

func NewDispatcher(m Mailer, l logging.Logger) *Dispatcher {
	return &Dispatcher{mailer: m, logger: l.With("module", "notify"), now: time.Now}
}

// Render builds subject and body for event.
func Render(event models.Event, to Recipient, c Context) (subject, body string, err error) {
	msg, ok := messages[event]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}

	data := templateData{Recipient: to, Context: c}

	var sb, bb bytes.Buffer
	if err := msg.subject.Execute(&sb, data); err != nil {
		return "", "", err
	}
	if err := msg.body.Execute(&bb, data); err != nil {
		return "", "", err
	}
	return sb.String(), bb.String(), nil
}

// Notify renders and sends. Errors are logged.
func (d *Dispatcher) Notify(ctx context.Context, event models.Event, to Recipient, c Context) {
	log := d.logger.With("event", string(event), "file_id", c.FileID)

	if to.Email == "" {
		log.Warn(ctx, "notification without recipient dropped")
		return
	}

	if !c.ExpiresAt.IsZero() && !d.now().Before(c.ExpiresAt) {
		log.Warn(ctx, "notification expired before delivery", "expires_at", c.ExpiresAt)
		return
	}

	subject, body, err := Render(event, to, c)
	if err != nil {
		log.Error(ctx, "render notification", "error", err)
		return
	}

	if err := d.mailer.Send(ctx, to.Email, subject, body); err != nil {
		log.Error(ctx, "send notification", "error", err)
		return
	}

	log.Info(ctx, "notification sent")
}
