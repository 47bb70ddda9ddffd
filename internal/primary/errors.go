package primary

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolNegotiation is returned when a replica's requested protocol
	// identifier is unparseable or below the required minimum. The rejection
	// is permanent; the replica is never retried.
	ErrProtocolNegotiation = errors.New("unsupported replica protocol")
	// ErrBadResumeID is returned when a replica's resume position is not an
	// 8-byte transaction id.
	ErrBadResumeID = errors.New("malformed resume id")
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

// newError creates a new primary error with context
func newError(err error, format string, args ...interface{}) *Error {
	return &Error{
		err:     err,
		context: fmt.Sprintf(format, args...),
	}
}
