package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/vigil/internal/types"
)

const topPatternLimit = 10

// Analytics summarizes what the store has learned.
func (s *SQLiteStore) Analytics(ctx context.Context) (*types.Analytics, error) {
	a := &types.Analytics{GeneratedAt: time.Now()}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(detection_count), 0) FROM patterns
	`).Scan(&a.TotalPatterns, &a.TotalDetections); err != nil {
		return nil, fmt.Errorf("failed to count patterns: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*), AVG(confidence) FROM patterns
		GROUP BY category ORDER BY COUNT(*) DESC, category
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to group patterns: %w", err)
	}
	for rows.Next() {
		var cs types.CategoryStats
		var category string
		if err := rows.Scan(&category, &cs.Count, &cs.AvgConfidence); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan category stats: %w", err)
		}
		cs.Category = types.IssueCategory(category)
		a.ByCategory = append(a.ByCategory, cs)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to iterate category stats: %w", err)
	}
	_ = rows.Close()

	topRows, err := s.db.QueryContext(ctx, `
		SELECT `+patternColumns+` FROM patterns
		ORDER BY detection_count DESC, confidence DESC LIMIT ?
	`, topPatternLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top patterns: %w", err)
	}
	a.TopPatterns, err = scanPatterns(topRows)
	_ = topRows.Close()
	if err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(success), 0) FROM fixes_applied
	`).Scan(&a.Fixes.Total, &a.Fixes.Successful); err != nil {
		return nil, fmt.Errorf("failed to count fixes: %w", err)
	}
	if a.Fixes.Total > 0 {
		a.Fixes.SuccessPercent = float64(a.Fixes.Successful) / float64(a.Fixes.Total) * 100
	}

	return a, nil
}
