package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"canvases", "canvas_history"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &SQLite{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPragmas(t *testing.T) {
	s := openTemp(t)

	tests := []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.want); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestSchema_Columns(t *testing.T) {
	s := openTemp(t)

	tests := map[string][]string{
		"canvases":       {"id", "elements", "author", "last_updated", "revision"},
		"canvas_history": {"canvas_id", "revision", "elements", "elements_hash", "author", "saved_at"},
	}
	for table, want := range tests {
		columns := getTableColumns(t, s.db, table)
		for _, col := range want {
			if !contains(columns, col) {
				t.Errorf("%s missing column %q, got %v", table, col, columns)
			}
		}
	}
}

func TestSchema_HistoryCascadesWithCanvas(t *testing.T) {
	s := openTemp(t)

	if _, err := s.db.Exec(`INSERT INTO canvases (id, last_updated) VALUES ('c1', 0)`); err != nil {
		t.Fatalf("insert canvas: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO canvas_history (canvas_id, revision, elements, elements_hash, saved_at)
		VALUES ('c1', 1, '[]', 'h', 0)`); err != nil {
		t.Fatalf("insert history: %v", err)
	}
	if _, err := s.db.Exec(`DELETE FROM canvases WHERE id = 'c1'`); err != nil {
		t.Fatalf("delete canvas: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM canvas_history`).Scan(&count); err != nil {
		t.Fatalf("count history: %v", err)
	}
	if count != 0 {
		t.Errorf("history rows = %d after canvas delete, want 0", count)
	}
}

func TestSchema_HistoryRequiresCanvas(t *testing.T) {
	s := openTemp(t)

	_, err := s.db.Exec(`INSERT INTO canvas_history (canvas_id, revision, elements, elements_hash, saved_at)
		VALUES ('missing', 1, '[]', 'h', 0)`)
	if err == nil {
		t.Error("expected foreign key violation, got nil")
	}
}

func TestMigration_SchemaVersion(t *testing.T) {
	s := openTemp(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Schema without migrations simulates a pre-migration file.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	if indexes := getTableIndexes(t, db, "canvas_history"); contains(indexes, "idx_canvas_history_hash") {
		t.Fatalf("hash index present before migration: %v", indexes)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d after migration", version, currentSchemaVersion)
	}

	indexes := getTableIndexes(t, s.db, "canvas_history")
	if !contains(indexes, "idx_canvas_history_hash") {
		t.Errorf("expected idx_canvas_history_hash after migration, got %v", indexes)
	}
}

func TestSQLite_Repository(t *testing.T) {
	testRepository(t, func(t *testing.T) Repository {
		return openTemp(t)
	})
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s1.Save(bg(), "c1", snapshotOf("u1", stroke("a", "v1"))); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	snap, err := s2.Load(bg(), "c1")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(snap.Elements) != 1 || snap.Elements[0].Content != "v1" {
		t.Errorf("Load() after reopen = %+v", snap.Elements)
	}
}

// Helper functions

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
