package types

import "time"

// LearnRequest asks the pattern store to record a code snippet as a known defect.
type LearnRequest struct {
	Snippet     string                 `json:"snippet"`
	Category    IssueCategory          `json:"category"`
	Severity    Severity               `json:"severity"`
	FixStrategy string                 `json:"fix_strategy,omitempty"`
	Language    string                 `json:"language,omitempty"`
	Extension   string                 `json:"extension,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// LearnResult reports the pattern a snippet resolved to.
type LearnResult struct {
	PatternID int64 `json:"pattern_id"`
	IsNew     bool  `json:"is_new"`
}

// FixOutcome is the input for recording an attempted fix.
// PatternID is nil for fixes that cannot be tied to a stored pattern.
type FixOutcome struct {
	PatternID        *int64                 `json:"pattern_id,omitempty"`
	FilePath         string                 `json:"file_path"`
	IssueDescription string                 `json:"issue_description"`
	FixDescription   string                 `json:"fix_description"`
	Before           string                 `json:"before"`
	After            string                 `json:"after"`
	Success          bool                   `json:"success"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// DetectionFilter narrows ListDetections.
type DetectionFilter struct {
	PatternID int64
	FilePath  string
	Unfixed   bool
	Since     time.Time
	Limit     int
}

// CategoryStats summarizes the patterns in one category.
type CategoryStats struct {
	Category      IssueCategory `json:"category"`
	Count         int           `json:"count"`
	AvgConfidence float64       `json:"avg_confidence"`
}

// FixStats summarizes the fix log.
type FixStats struct {
	Total          int     `json:"total"`
	Successful     int     `json:"successful"`
	SuccessPercent float64 `json:"success_percent"`
}

// Analytics is the learning report over the whole store.
type Analytics struct {
	TotalPatterns   int             `json:"total_patterns"`
	TotalDetections int             `json:"total_detections"`
	ByCategory      []CategoryStats `json:"by_category"`
	TopPatterns     []*Pattern      `json:"top_patterns"`
	Fixes           FixStats        `json:"fixes"`
	GeneratedAt     time.Time       `json:"generated_at"`
}
