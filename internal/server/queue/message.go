// Package queue carries work between the ingest path and the workers. A
// message is one of a closed set of variants; the wire form is a JSON envelope
// tagged with the variant's kind.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/outofsight/internal/server/models"
	"github.com/google/uuid"
)

var (
	ErrUnknownKind = errors.New("unknown message kind")
	ErrMalformed   = errors.New("malformed message")
)

// Kind tags a message variant on the wire.
type Kind string

const (
	KindStatusUpdate Kind = "status_update"
	KindNotification Kind = "notification"
)

// Message is implemented only by *StatusUpdate and *Notification.
type Message interface {
	Kind() Kind
	// FileRef is the file the message concerns, empty when there is none.
	FileRef() string
	sealed()
}

// StatusUpdate asks a worker to move a file to Target. It carries enough to
// find the ciphertext without a registry lookup.
type StatusUpdate struct {
	FileID   string        `json:"file_id"`
	UserID   string        `json:"user_id"`
	Location string        `json:"location"`
	FileType string        `json:"file_type"`
	Target   models.Status `json:"target"`
}

func (*StatusUpdate) Kind() Kind        { return KindStatusUpdate }
func (m *StatusUpdate) FileRef() string { return m.FileID }
func (*StatusUpdate) sealed()           {}

// Notification asks a worker to tell a user about Event. Confirmation
// messages carry a token whose expiry is fixed at issuance.
type Notification struct {
	Event      models.Event `json:"event"`
	UserID     string       `json:"user_id"`
	Email      string       `json:"email"`
	Nickname   string       `json:"nickname"`
	FileID     string       `json:"file_id,omitempty"`
	Filename   string       `json:"filename,omitempty"`
	ConfirmURL string       `json:"confirm_url,omitempty"`
	Token      string       `json:"token,omitempty"`
	IssuedAt   time.Time    `json:"issued_at"`
	ExpiresAt  time.Time    `json:"expires_at,omitempty"`
}

func (*Notification) Kind() Kind        { return KindNotification }
func (m *Notification) FileRef() string { return m.FileID }
func (*Notification) sealed()           {}

type envelope struct {
	ID           string        `json:"id"`
	Kind         Kind          `json:"kind"`
	StatusUpdate *StatusUpdate `json:"status_update,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

// Encode wraps m in an envelope with a fresh message id.
func Encode(m Message) (id string, body []byte, err error) {
	env := envelope{ID: uuid.NewString(), Kind: m.Kind()}
	switch v := m.(type) {
	case *StatusUpdate:
		env.StatusUpdate = v
	case *Notification:
		env.Notification = v
	default:
		return "", nil, fmt.Errorf("%w: %T", ErrUnknownKind, m)
	}

	body, err = json.Marshal(env)
	if err != nil {
		return "", nil, err
	}
	return env.ID, body, nil
}

// Decode parses an envelope. Unknown kinds yield ErrUnknownKind, anything
// else that does not parse yields ErrMalformed.
func Decode(body []byte) (id string, m Message, err error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Kind {
	case KindStatusUpdate:
		if env.StatusUpdate == nil || env.StatusUpdate.FileID == "" {
			return env.ID, nil, fmt.Errorf("%w: empty status update", ErrMalformed)
		}
		return env.ID, env.StatusUpdate, nil
	case KindNotification:
		if env.Notification == nil {
			return env.ID, nil, fmt.Errorf("%w: empty notification", ErrMalformed)
		}
		return env.ID, env.Notification, nil
	default:
		return env.ID, nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
}
