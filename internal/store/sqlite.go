package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/canvassync/internal/canvas"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on canvas_history(canvas_id, elements_hash)
const currentSchemaVersion = 1

// SQLite stores canvases in a single SQLite file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the current snapshot of canvasID.
func (s *SQLite) Load(ctx context.Context, canvasID string) (canvas.Snapshot, error) {
	if canvasID == "" {
		return canvas.Snapshot{}, ErrEmptyCanvasID
	}

	var (
		elementsJSON string
		author       string
		updatedMS    int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT elements, author, last_updated FROM canvases WHERE id = ?`,
		canvasID,
	).Scan(&elementsJSON, &author, &updatedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return canvas.Snapshot{Elements: []canvas.Element{}}, nil
	}
	if err != nil {
		return canvas.Snapshot{}, fmt.Errorf("load canvas %s: %w", canvasID, err)
	}

	elements, err := unmarshalElements(elementsJSON)
	if err != nil {
		return canvas.Snapshot{}, fmt.Errorf("load canvas %s: %w", canvasID, err)
	}
	return canvas.Snapshot{
		Elements:    elements,
		LastUpdated: time.UnixMilli(updatedMS).UTC(),
		UserID:      author,
	}, nil
}

// Save replaces the current snapshot of canvasID. snap.LastUpdated
// defaults to now; snap.UserID is recorded as the author.
func (s *SQLite) Save(ctx context.Context, canvasID string, snap canvas.Snapshot) (int64, error) {
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
		at = s.now()
	}
	atMS := at.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	var revision int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO canvases (id, elements, author, last_updated, revision)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			elements = excluded.elements,
			author = excluded.author,
			last_updated = excluded.last_updated,
			revision = canvases.revision + 1
		RETURNING revision`,
		canvasID, elementsJSON, snap.UserID, atMS,
	).Scan(&revision)
	if err != nil {
		return 0, fmt.Errorf("save canvas %s: %w", canvasID, err)
	}

	var lastHash string
	err = tx.QueryRowContext(ctx, `
		SELECT elements_hash FROM canvas_history
		WHERE canvas_id = ?
		ORDER BY revision DESC
		LIMIT 1`,
		canvasID,
	).Scan(&lastHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read history head %s: %w", canvasID, err)
	}

	if lastHash != hash {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO canvas_history (canvas_id, revision, elements, elements_hash, author, saved_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			canvasID, revision, elementsJSON, hash, snap.UserID, atMS,
		)
		if err != nil {
			return 0, fmt.Errorf("append history %s: %w", canvasID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit save %s: %w", canvasID, err)
	}
	return revision, nil
}

// History returns saved snapshots of canvasID, newest first.
func (s *SQLite) History(ctx context.Context, canvasID string, limit int) ([]canvas.Snapshot, error) {
	if canvasID == "" {
		return nil, ErrEmptyCanvasID
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT elements, author, saved_at FROM canvas_history
		WHERE canvas_id = ?
		ORDER BY revision DESC
		LIMIT ?`,
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
			savedMS      int64
		)
		if err := rows.Scan(&elementsJSON, &author, &savedMS); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		elements, err := unmarshalElements(elementsJSON)
		if err != nil {
			return nil, err
		}
		history = append(history, canvas.Snapshot{
			Elements:    elements,
			LastUpdated: time.UnixMilli(savedMS).UTC(),
			UserID:      author,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return history, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes history by content hash for dedupe lookups.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_canvas_history_hash
		ON canvas_history(canvas_id, elements_hash)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLite) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
