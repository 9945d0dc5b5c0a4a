package persistence

import (
	"errors"
	"fmt"
)

// Error reports a failed storage request. StatusCode is 0 when no HTTP
// response was received.
type Error struct {
	Op         string // "load", "save", "broadcast", "history" or "upload"
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("PERSISTENCE_ERROR: %s (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("PERSISTENCE_ERROR: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsPersistenceError reports whether err is (or wraps) a persistence Error.
func IsPersistenceError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

// IsUnauthorized reports whether err is a persistence Error for a 401.
func IsUnauthorized(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.StatusCode == 401
	}
	return false
}
