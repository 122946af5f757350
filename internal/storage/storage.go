package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/steveyegge/vigil/internal/storage/sqlite"
	"github.com/steveyegge/vigil/internal/types"
)

// ErrNotFound is returned when a pattern or detection does not exist.
var ErrNotFound = sqlite.ErrNotFound

// Store is the persistent memory of learned defect patterns.
type Store interface {
	// Patterns
	Learn(ctx context.Context, req types.LearnRequest) (*types.LearnResult, error)
	GetPattern(ctx context.Context, id int64) (*types.Pattern, error)
	GetPatternByHash(ctx context.Context, hash string) (*types.Pattern, error)
	FindCandidates(ctx context.Context, ext string, minConfidence float64) ([]*types.Pattern, error)
	ListCandidates(ctx context.Context, minConfidence float64) ([]*types.Pattern, error)

	// Detections
	RecordDetection(ctx context.Context, patternID int64, filePath string, line int) (int64, error)
	MarkDetectionFixed(ctx context.Context, detectionID int64, successful bool) error
	ListDetections(ctx context.Context, filter types.DetectionFilter) ([]*types.Detection, error)

	// Fix log
	RecordFixOutcome(ctx context.Context, outcome types.FixOutcome) (int64, error)
	ListFixes(ctx context.Context, limit int) ([]*types.AppliedFix, error)

	Analytics(ctx context.Context) (*types.Analytics, error)
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path
	// Default: ".vigil/patterns.db"
	// Special value ":memory:" creates an in-memory database (useful for tests)
	Path string

	Tuning sqlite.Tuning
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path:   ".vigil/patterns.db",
		Tuning: sqlite.DefaultTuning(),
	}
}

// NewStorage opens the SQLite pattern store.
func NewStorage(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	if cfg.Tuning == (sqlite.Tuning{}) {
		cfg.Tuning = sqlite.DefaultTuning()
	}
	return sqlite.New(cfg.Path, cfg.Tuning)
}

// builtinPatterns are representative snippets for each heuristic category.
// They carry no extension and so apply to every watched file.
var builtinPatterns = []types.LearnRequest{
	{Snippet: `eval(input)`, Category: types.CategoryDynamicEval, Severity: types.SeverityCritical, FixStrategy: "dynamic-eval"},
	{Snippet: `db.query("SELECT * FROM users WHERE id = " + id)`, Category: types.CategoryInjectionRisk, Severity: types.SeverityCritical, FixStrategy: "sql-warning"},
	{Snippet: `element.innerHTML = html`, Category: types.CategoryMarkupInjection, Severity: types.SeverityHigh, FixStrategy: "markup-sink"},
	{Snippet: `for (const a of items) { for (const b of items) { } }`, Category: types.CategoryQuadraticLoop, Severity: types.SeverityMedium, FixStrategy: "loop-comment"},
	{Snippet: `user.profile.name`, Category: types.CategoryNullDereference, Severity: types.SeverityMedium, FixStrategy: "safe-navigation"},
	{Snippet: `const data = fetchData()`, Category: types.CategoryMissingAsyncWait, Severity: types.SeverityHigh, FixStrategy: "insert-await"},
}

// Seed inserts the built-in patterns that are not yet present and returns how
// many were added. Existing rows are left alone so reseeding never inflates counts.
func Seed(ctx context.Context, store Store) (int, error) {
	added := 0
	for _, req := range builtinPatterns {
		hash := types.PatternHash(req.Snippet, req.Category)
		if _, err := store.GetPatternByHash(ctx, hash); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return added, fmt.Errorf("failed to check builtin pattern %s: %w", req.Category, err)
		}

		req.Metadata = map[string]interface{}{"builtin": true}
		if _, err := store.Learn(ctx, req); err != nil {
			return added, fmt.Errorf("failed to seed %s: %w", req.Category, err)
		}
		added++
	}
	return added, nil
}
