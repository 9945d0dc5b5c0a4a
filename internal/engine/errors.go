package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is an error surfaced by a session operation.
//
// None of these end the session: load and save failures are logged and
// reported to the caller that asked, and the next mutation retries
// naturally through the debounce cycle.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeStopped means the session loop is not running.
	ErrCodeStopped RuntimeErrorCode = "SESSION_STOPPED"

	// ErrCodeLoadFailed means the persistence load request failed.
	ErrCodeLoadFailed RuntimeErrorCode = "LOAD_FAILED"

	// ErrCodeSaveFailed means the persistence save request failed.
	ErrCodeSaveFailed RuntimeErrorCode = "SAVE_FAILED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsStopped reports whether err means the session has stopped.
func IsStopped(err error) bool {
	return hasCode(err, ErrCodeStopped)
}

// IsLoadError reports whether err is a failed load.
func IsLoadError(err error) bool {
	return hasCode(err, ErrCodeLoadFailed)
}

// IsSaveError reports whether err is a failed save.
func IsSaveError(err error) bool {
	return hasCode(err, ErrCodeSaveFailed)
}

func errStopped() *RuntimeError {
	return &RuntimeError{Code: ErrCodeStopped, Message: "sync session is not running"}
}

func newLoadError(err error) *RuntimeError {
	return &RuntimeError{Code: ErrCodeLoadFailed, Message: "load canvas", Err: err}
}

func newSaveError(err error) *RuntimeError {
	return &RuntimeError{Code: ErrCodeSaveFailed, Message: "save canvas", Err: err}
}
