package storage

import (
	"database/sql"
	"testing"
)

// openTestDB opens a fresh migrated database in a temp directory.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestNewAndMigrate(t *testing.T) {
	db := openTestDB(t)

	// Migrate must be idempotent
	if err := Migrate(db); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	tables := []string{"sessions", "documents", "chunks", "messages", "citations", "route_books", "route_sections"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}
}

func TestNewInvalidPath(t *testing.T) {
	_, err := New("/nonexistent-dir/sub/test.db")
	if err == nil {
		t.Error("New() with invalid path expected error, got nil")
	}
}
