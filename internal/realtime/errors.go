package realtime

import (
	"errors"
	"fmt"
)

// TransportError reports a dial, read or write failure on the channel.
// It feeds the reconnect state machine and never aborts the session.
type TransportError struct {
	Op      string // "dial", "read" or "send"
	Attempt int    // reconnect attempt in progress; 0 for the initial connection
	Err     error
}

func (e *TransportError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("TRANSPORT_ERROR: %s (attempt %d): %v", e.Op, e.Attempt, e.Err)
	}
	return fmt.Sprintf("TRANSPORT_ERROR: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
