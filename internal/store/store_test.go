package store

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew(t *testing.T) {
	s := newTestStore(t)

	if s.DB() == nil {
		t.Fatal("DB() returned nil")
	}
	if err := s.DB().Ping(); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestMigrations(t *testing.T) {
	s := newTestStore(t)

	tables := []string{"templates", "template_keypoints", "settings"}
	for _, table := range tables {
		var name string
		err := s.DB().QueryRow(
			`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`,
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not created: %v", table, err)
		}
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	s := newTestStore(t)

	var enabled int
	if err := s.DB().QueryRow(`PRAGMA foreign_keys`).Scan(&enabled); err != nil {
		t.Fatalf("PRAGMA foreign_keys query error = %v", err)
	}
	if enabled != 1 {
		t.Error("foreign keys should be enabled")
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s1, err := New(dbPath)
	if err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	s1.Close()

	// Reopening the same file must not fail on existing tables.
	s2, err := New(dbPath)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	s2.Close()
}
