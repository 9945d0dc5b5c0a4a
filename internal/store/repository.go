package store

import (
	"context"
	"errors"

	"github.com/roach88/canvassync/internal/canvas"
)

// DefaultHistoryLimit caps History when the caller passes 0.
const DefaultHistoryLimit = 50

// ErrEmptyCanvasID is returned for a blank canvas id.
var ErrEmptyCanvasID = errors.New("canvas id is required")

// Repository is durable canvas storage.
type Repository interface {
	// Load returns the current snapshot. An unknown canvas loads as an
	// empty element list with a zero LastUpdated.
	Load(ctx context.Context, canvasID string) (canvas.Snapshot, error)

	// Save replaces the current snapshot and returns the new revision.
	Save(ctx context.Context, canvasID string, snap canvas.Snapshot) (int64, error)

	// History returns saved snapshots, newest first, at most limit.
	History(ctx context.Context, canvasID string, limit int) ([]canvas.Snapshot, error)

	Close() error
}

func historyLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}
