// Package store provides durable canvas storage for the hub.
//
// Each canvas has one current row (elements, author, last update,
// revision) plus an append-only history of saved snapshots. A save whose
// elements hash matches the latest history entry bumps the revision but
// does not add history, so idle autosaves do not flood it.
//
// # Backends
//
//   - SQLite (default): single file, WAL mode, one writer connection.
//   - Postgres: pgxpool, JSONB element lists, for multi-instance hubs.
//
// # SQLite Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: History rows cascade with their canvas
//
// Timestamps are stored as Unix milliseconds (SQLite) or TIMESTAMPTZ
// (Postgres) and always returned in UTC.
package store
