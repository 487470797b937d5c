package worker

import (
	"errors"

	"github.com/dmitrijs2005/outofsight/internal/common"
	"github.com/dmitrijs2005/outofsight/internal/cryptox"
	"github.com/dmitrijs2005/outofsight/internal/server/lifecycle"
	"github.com/dmitrijs2005/outofsight/internal/server/queue"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as one redelivery cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether a handler error should send the message
// straight to the dead-letter queue. Transitions that arrived early are
// transient: the missing predecessor may still be recorded.
func IsPermanent(err error) bool {
	var pe *permanentError
	switch {
	case errors.As(err, &pe):
		return true
	case errors.Is(err, queue.ErrMalformed), errors.Is(err, queue.ErrUnknownKind):
		return true
	case errors.Is(err, cryptox.ErrKeyDerivation), errors.Is(err, cryptox.ErrWrap),
		errors.Is(err, cryptox.ErrUnwrap), errors.Is(err, cryptox.ErrIntegrity):
		return true
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		return !lifecycle.IsEarly(err)
	case errors.Is(err, common.ErrorNotFound), errors.Is(err, common.ErrorValidation):
		return true
	default:
		return false
	}
}
