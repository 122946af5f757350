package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/vigil/internal/types"
)

// RecordDetection logs one sighting of an existing pattern and applies the
// repeat-detection confidence nudge in the same transaction.
func (s *SQLiteStore) RecordDetection(ctx context.Context, patternID int64, filePath string, line int) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		UPDATE patterns SET
			detection_count = detection_count + 1,
			confidence = MIN(confidence + ?, 1.0),
			success_rate = CAST(fix_count AS REAL) / (detection_count + 1),
			last_seen = ?
		WHERE id = ?
	`, s.tuning.DetectionIncrement, now, patternID)
	if err != nil {
		return 0, fmt.Errorf("failed to update pattern %d: %w", patternID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("pattern %d: %w", patternID, ErrNotFound)
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO detections (pattern_id, file_path, line, detected_at)
		VALUES (?, ?, ?, ?)
	`, patternID, filePath, line, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert detection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get detection id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit detection: %w", err)
	}
	return id, nil
}

// MarkDetectionFixed records the outcome of a fix attempt on a detection.
func (s *SQLiteStore) MarkDetectionFixed(ctx context.Context, detectionID int64, successful bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE detections SET fixed = 1, fix_successful = ? WHERE id = ?
	`, successful, detectionID)
	if err != nil {
		return fmt.Errorf("failed to mark detection %d fixed: %w", detectionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("detection %d: %w", detectionID, ErrNotFound)
	}
	return nil
}

// ListDetections returns detections newest first.
func (s *SQLiteStore) ListDetections(ctx context.Context, filter types.DetectionFilter) ([]*types.Detection, error) {
	var where []string
	var args []interface{}
	if filter.PatternID != 0 {
		where = append(where, "pattern_id = ?")
		args = append(args, filter.PatternID)
	}
	if filter.FilePath != "" {
		where = append(where, "file_path = ?")
		args = append(args, filter.FilePath)
	}
	if filter.Unfixed {
		where = append(where, "fixed = 0")
	}
	if !filter.Since.IsZero() {
		where = append(where, "detected_at >= ?")
		args = append(args, filter.Since)
	}

	query := `SELECT id, pattern_id, file_path, line, detected_at, fixed, fix_successful FROM detections`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Detection
	for rows.Next() {
		var d types.Detection
		var successful sql.NullBool
		if err := rows.Scan(&d.ID, &d.PatternID, &d.FilePath, &d.Line, &d.DetectedAt, &d.Fixed, &successful); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		if successful.Valid {
			v := successful.Bool
			d.FixSuccessful = &v
		}
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate detections: %w", err)
	}
	return out, nil
}
