package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/steveyegge/vigil/internal/storage/migrations"
)

// ErrNotFound is returned when a pattern or detection does not exist.
var ErrNotFound = errors.New("not found")

// Tuning holds the confidence arithmetic of the store.
type Tuning struct {
	// SeedConfidence is the confidence of a newly learned pattern
	SeedConfidence float64
	// DetectionIncrement is added each time a known pattern is seen again
	DetectionIncrement float64
	// FixIncrement is added on each successful fix
	FixIncrement float64
}

// DefaultTuning returns the standard confidence arithmetic.
func DefaultTuning() Tuning {
	return Tuning{
		SeedConfidence:     0.5,
		DetectionIncrement: 0.05,
		FixIncrement:       0.1,
	}
}

// Validate checks that every value is a usable confidence delta.
func (t Tuning) Validate() error {
	if t.SeedConfidence < 0 || t.SeedConfidence > 1 {
		return fmt.Errorf("seed confidence must be between 0 and 1 (got %f)", t.SeedConfidence)
	}
	if t.DetectionIncrement < 0 || t.DetectionIncrement > 1 {
		return fmt.Errorf("detection increment must be between 0 and 1 (got %f)", t.DetectionIncrement)
	}
	if t.FixIncrement < 0 || t.FixIncrement > 1 {
		return fmt.Errorf("fix increment must be between 0 and 1 (got %f)", t.FixIncrement)
	}
	return nil
}

// SQLiteStore is the pattern store backed by a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	tuning Tuning
}

// New opens (creating if needed) the store at path and brings its schema up to date.
func New(path string, tuning Tuning) (*SQLiteStore, error) {
	if err := tuning.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuning: %w", err)
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// WAL lets readers proceed while the watcher pipeline writes
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	manager := migrations.NewManager()
	for _, m := range schemaMigrations {
		manager.Register(m)
	}
	if err := manager.ApplySQLite(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, tuning: tuning}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Tuning returns the confidence arithmetic in effect.
func (s *SQLiteStore) Tuning() Tuning {
	return s.tuning
}

func encodeMetadata(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(raw string) map[string]interface{} {
	if raw == "" || raw == "{}" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return map[string]interface{}{"raw": raw}
	}
	return m
}
