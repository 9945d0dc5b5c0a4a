package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeError(t *testing.T) {
	cause := errors.New("connection reset")
	err := newSaveError(cause)

	assert.Equal(t, "SAVE_FAILED: save canvas: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsSaveError(err))
	assert.False(t, IsLoadError(err))

	wrapped := fmt.Errorf("flush: %w", newLoadError(cause))
	assert.True(t, IsLoadError(wrapped))

	assert.Equal(t, "SESSION_STOPPED: sync session is not running", errStopped().Error())
	assert.True(t, IsStopped(errStopped()))
	assert.False(t, IsStopped(cause))
}
