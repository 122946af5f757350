package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/vigil/internal/types"
)

const patternColumns = `id, hash, category, severity, snippet, fix_strategy, confidence,
	detection_count, fix_count, success_rate, language, extension, metadata, created_at, last_seen`

// Learn records a snippet as a defect pattern. A first sighting inserts a row
// with the seed confidence; later sightings of the same hash bump the detection
// count and confidence. The upsert is a single statement, so concurrent callers
// racing on one hash never lose an increment.
func (s *SQLiteStore) Learn(ctx context.Context, req types.LearnRequest) (*types.LearnResult, error) {
	normalized := types.NormalizeSnippet(req.Snippet)
	if normalized == "" {
		return nil, fmt.Errorf("snippet is required")
	}
	category := req.Category
	if category == "" {
		category = types.CategoryGeneric
	}
	if !category.IsValid() {
		return nil, fmt.Errorf("invalid category: %s", category)
	}
	severity := req.Severity
	if !severity.IsValid() {
		severity = types.SeverityMedium
	}
	metadata, err := encodeMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var id int64
	var detections int
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO patterns (hash, category, severity, snippet, normalized, fix_strategy,
			confidence, detection_count, fix_count, success_rate, language, extension,
			metadata, created_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, 0, 0, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			detection_count = patterns.detection_count + 1,
			confidence = MIN(patterns.confidence + ?, 1.0),
			success_rate = CAST(patterns.fix_count AS REAL) / (patterns.detection_count + 1),
			last_seen = excluded.last_seen
		RETURNING id, detection_count
	`,
		types.PatternHash(req.Snippet, category), string(category), string(severity),
		req.Snippet, normalized, req.FixStrategy, s.tuning.SeedConfidence,
		req.Language, strings.ToLower(req.Extension), metadata, now, now,
		s.tuning.DetectionIncrement,
	).Scan(&id, &detections)
	if err != nil {
		return nil, fmt.Errorf("failed to learn pattern: %w", err)
	}

	return &types.LearnResult{PatternID: id, IsNew: detections == 1}, nil
}

// GetPattern retrieves a pattern by ID.
func (s *SQLiteStore) GetPattern(ctx context.Context, id int64) (*types.Pattern, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pattern %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern %d: %w", id, err)
	}
	return p, nil
}

// GetPatternByHash retrieves a pattern by its identity hash.
func (s *SQLiteStore) GetPatternByHash(ctx context.Context, hash string) (*types.Pattern, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM patterns WHERE hash = ?`, hash)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pattern %s: %w", hash, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern %s: %w", hash, err)
	}
	return p, nil
}

// FindCandidates returns patterns for one file extension at or above
// minConfidence, most trusted first. Patterns stored without an extension
// apply to every file.
func (s *SQLiteStore) FindCandidates(ctx context.Context, ext string, minConfidence float64) ([]*types.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+patternColumns+` FROM patterns
		WHERE (extension = ? OR extension = '') AND confidence >= ?
		ORDER BY confidence DESC, detection_count DESC
	`, strings.ToLower(ext), minConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates for %s: %w", ext, err)
	}
	defer func() { _ = rows.Close() }()
	return scanPatterns(rows)
}

// ListCandidates is FindCandidates across every extension.
func (s *SQLiteStore) ListCandidates(ctx context.Context, minConfidence float64) ([]*types.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+patternColumns+` FROM patterns
		WHERE confidence >= ?
		ORDER BY confidence DESC, detection_count DESC
	`, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanPatterns(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPattern(row rowScanner) (*types.Pattern, error) {
	var p types.Pattern
	var category, severity, metadata string
	if err := row.Scan(&p.ID, &p.Hash, &category, &severity, &p.Snippet, &p.FixStrategy,
		&p.Confidence, &p.DetectionCount, &p.FixCount, &p.SuccessRate, &p.Language,
		&p.Extension, &metadata, &p.CreatedAt, &p.LastSeen); err != nil {
		return nil, err
	}
	p.Category = types.IssueCategory(category)
	p.Severity = types.Severity(severity)
	p.Metadata = decodeMetadata(metadata)
	return &p, nil
}

func scanPatterns(rows *sql.Rows) ([]*types.Pattern, error) {
	var patterns []*types.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patterns: %w", err)
	}
	return patterns, nil
}
