package canvas

import "errors"

var (
	// ErrElementNotFound is returned by Update for an unknown id.
	// Callers treat it as a non-fatal no-op.
	ErrElementNotFound = errors.New("element not found")

	// ErrInvalidElement is returned for an unknown kind or a negative scale.
	ErrInvalidElement = errors.New("invalid element")
)

// IsNotFound reports whether err is (or wraps) ErrElementNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrElementNotFound)
}
