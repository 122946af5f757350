package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// Migration represents a single database migration
type Migration struct {
	Version     int
	Description string
	Up          string // SQL to apply the migration
	Down        string // SQL to revert the migration
}

// Manager handles database migrations
type Manager struct {
	migrations []Migration
}

// NewManager creates a new migration manager
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a migration to the manager
func (m *Manager) Register(migration Migration) {
	m.migrations = append(m.migrations, migration)
}

// Validate rejects non-positive or duplicate versions.
func (m *Manager) Validate() error {
	seen := make(map[int]bool, len(m.migrations))
	for _, mig := range m.migrations {
		if mig.Version <= 0 {
			return fmt.Errorf("migration %q has invalid version %d", mig.Description, mig.Version)
		}
		if seen[mig.Version] {
			return fmt.Errorf("duplicate migration version %d", mig.Version)
		}
		seen[mig.Version] = true
	}
	return nil
}

func (m *Manager) sorted() []Migration {
	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// ApplySQLite applies all pending migrations, each in its own transaction.
func (m *Manager) ApplySQLite(ctx context.Context, db *sql.DB) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := createVersionTable(ctx, db); err != nil {
		return fmt.Errorf("failed to create version table: %w", err)
	}

	current, err := CurrentVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, migration := range m.sorted() {
		if migration.Version <= current {
			continue
		}
		if err := apply(ctx, db, migration); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
	}
	return nil
}

// RollbackSQLite reverts the most recently applied migration.
func (m *Manager) RollbackSQLite(ctx context.Context, db *sql.DB) error {
	current, err := CurrentVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	if current == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	for _, migration := range m.sorted() {
		if migration.Version == current {
			if err := rollback(ctx, db, migration); err != nil {
				return fmt.Errorf("failed to rollback migration %d: %w", migration.Version, err)
			}
			return nil
		}
	}
	return fmt.Errorf("migration %d not found", current)
}

// CurrentVersion returns the highest applied version, 0 for a fresh database.
func CurrentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func createVersionTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func apply(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)",
		migration.Version, migration.Description, time.Now(),
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

func rollback(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to execute rollback SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}
	return tx.Commit()
}
