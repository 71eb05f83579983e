// Package apperr defines the error taxonomy shared by the store, the
// consistency protocol and the domain services.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrInvalidInput  = errors.New("invalid input")
	ErrDuplicate     = errors.New("duplicate identifier")
	ErrUnindexedFile = errors.New("unindexed file exists")
	ErrTransport     = errors.New("transport error")
	ErrInvalidState  = errors.New("invalid state")
)

// ConflictError reports a version-token mismatch at the store.
type ConflictError struct {
	Path            string
	ExpectedVersion string
}

func (e *ConflictError) Error() string {
	if e.ExpectedVersion == "" {
		return fmt.Sprintf("conflict: %s already exists", e.Path)
	}
	return fmt.Sprintf("conflict: %s was modified concurrently", e.Path)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TransportError wraps a network or server-side failure talking to the store.
// Status is the HTTP status code when one was received, 0 otherwise.
type TransportError struct {
	Op     string
	Path   string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.Path, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether re-running the same operation may succeed
// without any change to the input.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrTransport)
}

// UserMessage renders err as a short message suitable for a UI or tool result.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if Retryable(err) {
		return err.Error() + ". Check your connection and try again."
	}
	return err.Error()
}
