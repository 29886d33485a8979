package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a rejected field value. Not retried.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a task that is absent or owned by someone else.
	ErrNotFound = errors.New("task not found")
	// ErrAuthorization marks a missing, invalid or expired credential.
	ErrAuthorization = errors.New("not authorized")
	// ErrTransport marks an unreachable server or a broken channel.
	ErrTransport = errors.New("transport failure")
	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// ValidationError describes which field was rejected and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError names the task that could not be found in the caller's scope.
type NotFoundError struct {
	TaskID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.TaskID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Kind returns the short name of the error family err belongs to.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAuthorization):
		return "authorization"
	case errors.Is(err, ErrTransport):
		return "transport"
	}
	return "internal"
}

// ErrorFromKind rebuilds a sentinel-wrapping error from a kind name and
// message, as received over the wire.
func ErrorFromKind(kind, message string) error {
	switch kind {
	case "validation":
		return &ValidationError{Reason: message}
	case "not_found":
		return fmt.Errorf("%w: %s", ErrNotFound, message)
	case "authorization":
		return fmt.Errorf("%w: %s", ErrAuthorization, message)
	case "transport":
		return fmt.Errorf("%w: %s", ErrTransport, message)
	}
	return errors.New(message)
}
