package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

var exampleMigration = Migration{
	Version:     1,
	Description: "Add example test table",
	Up: `
		CREATE TABLE IF NOT EXISTS test_table (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		)
	`,
	Down: `
		DROP TABLE IF EXISTS test_table
	`,
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "migrations.db")+"?_foreign_keys=ON")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteMigrations(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	manager := NewManager()
	manager.Register(exampleMigration)

	if err := manager.ApplySQLite(ctx, db); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	version, err := CurrentVersion(ctx, db)
	if err != nil {
		t.Fatalf("failed to read version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected version 1, got %d", version)
	}

	if _, err := db.Exec("INSERT INTO test_table (id, name) VALUES (1, 'test')"); err != nil {
		t.Fatalf("test table not created: %v", err)
	}

	// Re-applying is a no-op
	if err := manager.ApplySQLite(ctx, db); err != nil {
		t.Fatalf("re-apply failed: %v", err)
	}

	if err := manager.RollbackSQLite(ctx, db); err != nil {
		t.Fatalf("failed to rollback migration: %v", err)
	}

	version, err = CurrentVersion(ctx, db)
	if err != nil {
		t.Fatalf("failed to read version: %v", err)
	}
	if version != 0 {
		t.Errorf("expected version 0 after rollback, got %d", version)
	}

	if _, err := db.Exec("INSERT INTO test_table (id, name) VALUES (1, 'test')"); err == nil {
		t.Error("test table should have been dropped")
	}

	if err := manager.RollbackSQLite(ctx, db); err == nil {
		t.Error("expected error rolling back an empty history")
	}
}

func TestMigrationsApplyInVersionOrder(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	manager := NewManager()
	manager.Register(Migration{
		Version:     2,
		Description: "Add column",
		Up:          `ALTER TABLE test_table ADD COLUMN extra TEXT`,
		Down:        `SELECT 1`,
	})
	manager.Register(exampleMigration)

	if err := manager.ApplySQLite(ctx, db); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}
	if _, err := db.Exec("INSERT INTO test_table (id, name, extra) VALUES (1, 'a', 'b')"); err != nil {
		t.Fatalf("expected both migrations applied: %v", err)
	}
}

func TestValidateRejectsDuplicates(t *testing.T) {
	manager := NewManager()
	manager.Register(exampleMigration)
	manager.Register(exampleMigration)
	if err := manager.Validate(); err == nil {
		t.Fatal("expected duplicate version error")
	}

	manager = NewManager()
	manager.Register(Migration{Version: 0, Description: "bad"})
	if err := manager.Validate(); err == nil {
		t.Fatal("expected invalid version error")
	}
}
