// Package lifecycle enforces the file status state machine:
//
//	uploaded -> queued -> processing -> processed
//	                \           \
//	                 +-> failed  +-> failed
//
// Re-recording a status the file already has is a successful no-op, which is
// what makes redelivered queue messages harmless.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/outofsight/internal/server/models"
)

// ErrIllegalTransition is matched by every *TransitionError.
var ErrIllegalTransition = errors.New("illegal status transition")

// TransitionError describes a rejected transition. Early is set when To is
// still reachable from From in more than one step, meaning the request most
// likely overtook its predecessor in the queue and may succeed later.
type TransitionError struct {
	FileID string
	From   models.Status
	To     models.Status
	Early  bool
}

func (e *TransitionError) Error() string {
	if e.Early {
		return fmt.Sprintf("file %s: %s -> %s arrived early", e.FileID, e.From, e.To)
	}
	return fmt.Sprintf("file %s: illegal transition %s -> %s", e.FileID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

var successors = map[models.Status][]models.Status{
	models.StatusUploaded:   {models.StatusQueued},
	models.StatusQueued:     {models.StatusProcessing, models.StatusFailed},
	models.StatusProcessing: {models.StatusProcessed, models.StatusFailed},
}

// CanTransition reports whether to is a direct successor of from.
func CanTransition(from, to models.Status) bool {
	for _, s := range successors[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Successor returns the next status on the success path, or StatusUnknown
// for terminal statuses.
func Successor(s models.Status) models.Status {
	next := successors[s]
	if len(next) == 0 {
		return models.StatusUnknown
	}
	return next[0]
}

// Reachable reports whether to can be reached from from in one or more steps.
func Reachable(from, to models.Status) bool {
	seen := map[models.Status]bool{from: true}
	queue := []models.Status{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range successors[cur] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// Check returns nil when from -> to is legal and a *TransitionError otherwise.
func Check(fileID string, from, to models.Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return &TransitionError{
		FileID: fileID,
		From:   from,
		To:     to,
		Early:  Reachable(from, to),
	}
}

// IsEarly reports whether err is a transition rejected only because it came
// before its predecessor.
func IsEarly(err error) bool {
	var te *TransitionError
	return errors.As(err, &te) && te.Early
}
