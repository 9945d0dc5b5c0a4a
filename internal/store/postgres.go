package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/canvassync/internal/canvas"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS canvases (
    id           TEXT PRIMARY KEY,
    elements     JSONB NOT NULL DEFAULT '[]'::jsonb,
    author       TEXT NOT NULL DEFAULT '',
    last_updated TIMESTAMPTZ NOT NULL,
    revision     BIGINT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS canvas_history (
    canvas_id     TEXT NOT NULL REFERENCES canvases(id) ON DELETE CASCADE,
    revision      BIGINT NOT NULL,
    elements      JSONB NOT NULL,
    elements_hash TEXT NOT NULL,
    author        TEXT NOT NULL DEFAULT '',
    saved_at      TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (canvas_id, revision)
);

CREATE INDEX IF NOT EXISTS idx_canvas_history_hash
    ON canvas_history(canvas_id, elements_hash);
`

// Postgres stores canvases in PostgreSQL through a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// OpenPostgres connects to databaseURL and ensures the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	p := &Postgres{pool: pool, now: time.Now}
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// EnsureSchema creates the canvas tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close releases every pooled connection.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Load(ctx context.Context, canvasID string) (canvas.Snapshot, error) {
	if canvasID == "" {
		return canvas.Snapshot{}, ErrEmptyCanvasID
	}

	var (
		elementsJSON string
		author       string
		updated      time.Time
	)
	err := p.pool.QueryRow(ctx,
		`SELECT elements::text, author, last_updated FROM canvases WHERE id = $1`,
		canvasID,
	).Scan(&elementsJSON, &author, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return canvas.Snapshot{Elements: []canvas.Element{}}, nil
	}
	if err != nil {
		return canvas.Snapshot{}, fmt.Errorf("load canvas %s: %w", canvasID, err)
	}

	elements, err := unmarshalElements(elementsJSON)
	if err != nil {
		return canvas.Snapshot{}, fmt.Errorf("load canvas %s: %w", canvasID, err)
	}
	return canvas.Snapshot{Elements: elements, LastUpdated: updated.UTC(), UserID: author}, nil
}

func (p *Postgres) Save(ctx context.Context, canvasID string, snap canvas.Snapshot) (int64, error) {
	if canvasID == "" {
		return 0, ErrEmptyCanvasID
	}

	elementsJSON, err := marshalElements(snap.Elements)
	if err != nil {
		return 0, err
	}
	hash, err := snap.Hash()
	if err != nil {
		return 0, err
	}
	at := snap.LastUpdated
	if at.IsZero() {
		at = p.now()
	}
	at = at.UTC().Truncate(time.Millisecond)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	var revision int64
	err = tx.QueryRow(ctx, `
		INSERT INTO canvases (id, elements, author, last_updated, revision)
		VALUES ($1, $2::jsonb, $3, $4, 1)
		ON CONFLICT (id) DO UPDATE SET
			elements = EXCLUDED.elements,
			author = EXCLUDED.author,
			last_updated = EXCLUDED.last_updated,
			revision = canvases.revision + 1
		RETURNING revision`,
		canvasID, elementsJSON, snap.UserID, at,
	).Scan(&revision)
	if err != nil {
		return 0, fmt.Errorf("save canvas %s: %w", canvasID, err)
	}

	var lastHash string
	err = tx.QueryRow(ctx, `
		SELECT elements_hash FROM canvas_history
		WHERE canvas_id = $1
		ORDER BY revision DESC
		LIMIT 1`,
		canvasID,
	).Scan(&lastHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("read history head %s: %w", canvasID, err)
	}

	if lastHash != hash {
		_, err = tx.Exec(ctx, `
			INSERT INTO canvas_history (canvas_id, revision, elements, elements_hash, author, saved_at)
			VALUES ($1, $2, $3::jsonb, $4, $5, $6)`,
			canvasID, revision, elementsJSON, hash, snap.UserID, at,
		)
		if err != nil {
			return 0, fmt.Errorf("append history %s: %w", canvasID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit save %s: %w", canvasID, err)
	}
	return revision, nil
}

func (p *Postgres) History(ctx context.Context, canvasID string, limit int) ([]canvas.Snapshot, error) {
	if canvasID == "" {
		return nil, ErrEmptyCanvasID
	}

	rows, err := p.pool.Query(ctx, `
		SELECT elements::text, author, saved_at FROM canvas_history
		WHERE canvas_id = $1
		ORDER BY revision DESC
		LIMIT $2`,
		canvasID, historyLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", canvasID, err)
	}
	defer rows.Close()

	history := []canvas.Snapshot{}
	for rows.Next() {
		var (
			elementsJSON string
			author       string
			saved        time.Time
		)
		if err := rows.Scan(&elementsJSON, &author, &saved); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		elements, err := unmarshalElements(elementsJSON)
		if err != nil {
			return nil, err
		}
		history = append(history, canvas.Snapshot{Elements: elements, LastUpdated: saved.UTC(), UserID: author})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return history, nil
}

var (
	_ Repository = (*SQLite)(nil)
	_ Repository = (*Postgres)(nil)
)
