package txlog

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreClosed is returned once the store has been shut down.
	ErrStoreClosed = errors.New("transaction log closed")
	// ErrOutOfOrder is returned when a restored transaction does not advance
	// the log head.
	ErrOutOfOrder = errors.New("transaction id out of order")
	// ErrBlobsDisabled is returned when a blob-backed change is committed to a
	// store that was not configured for blobs.
	ErrBlobsDisabled = errors.New("blob changes are not enabled")
)

// Error wraps a sentinel error with additional context
type Error struct {
	err     error  // The underlying sentinel error
	context string // Additional error context
}

// Error satisfies the error interface
func (e *Error) Error() string {
	if e.context == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %s", e.err.Error(), e.context)
}

// Unwrap implements the errors.Unwrap interface for compatibility with errors.Is/As
func (e *Error) Unwrap() error {
	return e.err
}

// newError creates a new log error with context
func newError(err error, format string, args ...interface{}) *Error {
	return &Error{
		err:     err,
		context: fmt.Sprintf(format, args...),
	}
}
