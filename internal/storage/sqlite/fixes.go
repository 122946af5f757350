package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/steveyegge/vigil/internal/types"
)

// RecordFixOutcome appends to the fix log. A successful fix against a known
// pattern also bumps its fix count, success rate and confidence atomically
// with the log entry.
func (s *SQLiteStore) RecordFixOutcome(ctx context.Context, outcome types.FixOutcome) (int64, error) {
	metadata, err := encodeMetadata(outcome.Metadata)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if outcome.PatternID != nil && outcome.Success {
		res, err := tx.ExecContext(ctx, `
			UPDATE patterns SET
				fix_count = fix_count + 1,
				success_rate = CASE WHEN detection_count > 0
					THEN CAST(fix_count + 1 AS REAL) / detection_count
					ELSE 0 END,
				confidence = MIN(confidence + ?, 1.0)
			WHERE id = ?
		`, s.tuning.FixIncrement, *outcome.PatternID)
		if err != nil {
			return 0, fmt.Errorf("failed to update pattern %d: %w", *outcome.PatternID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, fmt.Errorf("pattern %d: %w", *outcome.PatternID, ErrNotFound)
		}
	}

	var patternID sql.NullInt64
	if outcome.PatternID != nil {
		patternID = sql.NullInt64{Int64: *outcome.PatternID, Valid: true}
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO fixes_applied (pattern_id, file_path, issue_description, fix_description,
			before_code, after_code, success, metadata, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, patternID, outcome.FilePath, outcome.IssueDescription, outcome.FixDescription,
		outcome.Before, outcome.After, outcome.Success, metadata, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to record fix: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get fix id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit fix: %w", err)
	}
	return id, nil
}

// ListFixes returns the most recent fix log entries.
func (s *SQLiteStore) ListFixes(ctx context.Context, limit int) ([]*types.AppliedFix, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pattern_id, file_path, issue_description, fix_description,
			before_code, after_code, success, metadata, applied_at
		FROM fixes_applied ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fixes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.AppliedFix
	for rows.Next() {
		var f types.AppliedFix
		var patternID sql.NullInt64
		var metadata string
		if err := rows.Scan(&f.ID, &patternID, &f.FilePath, &f.IssueDescription, &f.FixDescription,
			&f.Before, &f.After, &f.Success, &metadata, &f.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fix: %w", err)
		}
		if patternID.Valid {
			id := patternID.Int64
			f.PatternID = &id
		}
		f.Metadata = decodeMetadata(metadata)
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fixes: %w", err)
	}
	return out, nil
}
