package rundown

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrJournalClosed      = errors.New("journal closed for editing")
	ErrNoDestination      = errors.New("no drop destination")
	ErrSamePosition       = errors.New("dropped at the same position")
	ErrUnresolvedEndpoint = errors.New("unresolved move endpoint")
	ErrLocked             = errors.New("segment locked by another session")
	ErrDuplicateOperation = errors.New("operation already in flight")
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmptyClipboard     = errors.New("clipboard is empty")
)

// RejectedError is a validation rejection with a user-facing reason. It is
// reported inline to the user and never escalates past the caller.
type RejectedError struct {
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return e.Err.Error()
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Rejected wraps a sentinel with the human-readable reason a drop or edit was
// refused.
func Rejected(err error, reason string) *RejectedError {
	return &RejectedError{Reason: reason, Err: err}
}

// BatchError aggregates the failures of a concurrent batch of persistence
// calls. Members that succeeded are not rolled back.
type BatchError struct {
	Errs []error
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("batch persistence failed (%d of batch): %s", len(e.Errs), strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() []error {
	return e.Errs
}
