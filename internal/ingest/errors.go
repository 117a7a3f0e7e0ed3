package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageFailed wraps object store failures
	ErrStorageFailed = errors.New("storing original upload failed")
	// ErrPersistenceFailed wraps failures to save a finalized receipt. The review is kept for a retry.
	ErrPersistenceFailed = errors.New("saving receipt failed")
	// ErrBusy is returned when a cycle is asked to process while extraction is running
	ErrBusy = errors.New("upload is already being processed")
	// ErrInvalidState is returned for operations the current stage does not allow
	ErrInvalidState = errors.New("operation not allowed in the current stage")
	// ErrCycleNotFound is returned by Manager.Get for unknown or finished cycles
	ErrCycleNotFound = errors.New("upload not found")
)

// ValidationError is a problem with user input. Message is safe to show the user.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func validationError(err error, format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...), Err: err}
}
