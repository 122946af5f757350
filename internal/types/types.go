package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// IssueCategory identifies a family of defects the matcher and fix engine understand.
type IssueCategory string

const (
	CategoryInjectionRisk    IssueCategory = "injection-risk"
	CategoryDynamicEval      IssueCategory = "unsafe-dynamic-eval"
	CategoryMarkupInjection  IssueCategory = "markup-injection"
	CategoryQuadraticLoop    IssueCategory = "quadratic-loop"
	CategoryNullDereference  IssueCategory = "null-dereference"
	CategoryMissingAsyncWait IssueCategory = "missing-async-wait"
	CategoryGeneric          IssueCategory = "generic"
)

// AllCategories lists every category, heuristic categories first.
var AllCategories = []IssueCategory{
	CategoryInjectionRisk,
	CategoryDynamicEval,
	CategoryMarkupInjection,
	CategoryQuadraticLoop,
	CategoryNullDereference,
	CategoryMissingAsyncWait,
	CategoryGeneric,
}

// IsValid checks if the category value is valid
func (c IssueCategory) IsValid() bool {
	switch c {
	case CategoryInjectionRisk, CategoryDynamicEval, CategoryMarkupInjection,
		CategoryQuadraticLoop, CategoryNullDereference, CategoryMissingAsyncWait, CategoryGeneric:
		return true
	}
	return false
}

// IsSecurity reports whether the category is a security concern.
func (c IssueCategory) IsSecurity() bool {
	switch c {
	case CategoryInjectionRisk, CategoryDynamicEval, CategoryMarkupInjection:
		return true
	}
	return false
}

// IsPerformance reports whether the category is a performance concern.
func (c IssueCategory) IsPerformance() bool {
	return c == CategoryQuadraticLoop
}

// ParseCategory converts a stored string into a category.
func ParseCategory(s string) (IssueCategory, error) {
	c := IssueCategory(strings.TrimSpace(strings.ToLower(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("invalid issue category: %q", s)
	}
	return c, nil
}

// Severity is the urgency of a finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities; higher is more urgent. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// ParseSeverity is lenient: model output uses synonyms and odd casing.
// Anything unrecognized becomes medium.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "blocker", "severe":
		return SeverityCritical
	case "high", "major", "error":
		return SeverityHigh
	case "low", "minor", "info", "trivial":
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// FindingSource records which detector produced a finding.
type FindingSource string

const (
	SourcePattern FindingSource = "pattern"
	SourceAI      FindingSource = "ai"
)

// Pattern is a learned defect signature. Patterns are never deleted.
type Pattern struct {
	ID             int64                  `json:"id"`
	Hash           string                 `json:"hash"`
	Category       IssueCategory          `json:"category"`
	Severity       Severity               `json:"severity"`
	Snippet        string                 `json:"snippet"`
	FixStrategy    string                 `json:"fix_strategy,omitempty"`
	Confidence     float64                `json:"confidence"`
	DetectionCount int                    `json:"detection_count"`
	FixCount       int                    `json:"fix_count"`
	SuccessRate    float64                `json:"success_rate"`
	Language       string                 `json:"language,omitempty"`
	Extension      string                 `json:"extension,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	LastSeen       time.Time              `json:"last_seen"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks if the pattern has valid field values
func (p *Pattern) Validate() error {
	if strings.TrimSpace(p.Snippet) == "" {
		return fmt.Errorf("snippet is required")
	}
	if !p.Category.IsValid() {
		return fmt.Errorf("invalid category: %s", p.Category)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1 (got %f)", p.Confidence)
	}
	if p.DetectionCount < 0 || p.FixCount < 0 {
		return fmt.Errorf("counts cannot be negative")
	}
	return nil
}

// Detection is one occurrence of a pattern in a file.
type Detection struct {
	ID            int64     `json:"id"`
	PatternID     int64     `json:"pattern_id"`
	FilePath      string    `json:"file_path"`
	Line          int       `json:"line"`
	DetectedAt    time.Time `json:"detected_at"`
	Fixed         bool      `json:"fixed"`
	FixSuccessful *bool     `json:"fix_successful,omitempty"`
}

// AppliedFix is the audit record of an attempted fix.
type AppliedFix struct {
	ID               int64                  `json:"id"`
	PatternID        *int64                 `json:"pattern_id,omitempty"`
	FilePath         string                 `json:"file_path"`
	IssueDescription string                 `json:"issue_description"`
	FixDescription   string                 `json:"fix_description"`
	Before           string                 `json:"before"`
	After            string                 `json:"after"`
	Success          bool                   `json:"success"`
	AppliedAt        time.Time              `json:"applied_at"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Finding is a single problem reported by either detector.
// Line is 1-based; 0 means the location is unknown.
type Finding struct {
	Category    IssueCategory          `json:"category"`
	Severity    Severity               `json:"severity"`
	Confidence  float64                `json:"confidence"`
	Line        int                    `json:"line"`
	Description string                 `json:"description"`
	Suggestion  string                 `json:"suggestion,omitempty"`
	PatternID   int64                  `json:"pattern_id,omitempty"`
	DetectionID int64                  `json:"detection_id,omitempty"`
	FixStrategy string                 `json:"fix_strategy,omitempty"`
	Source      FindingSource          `json:"source"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// IsSecurity reports whether the finding concerns security.
func (f Finding) IsSecurity() bool {
	return f.Category.IsSecurity()
}

var (
	lineCommentRegex  = regexp.MustCompile(`//[^\n]*`)
	blockCommentRegex = regexp.MustCompile(`(?s)/\*.*?\*/`)
	whitespaceRegex   = regexp.MustCompile(`\s+`)
)

// NormalizeSnippet strips comments and collapses whitespace so that
// cosmetically different copies of the same code hash identically.
func NormalizeSnippet(code string) string {
	s := blockCommentRegex.ReplaceAllString(code, "")
	s = lineCommentRegex.ReplaceAllString(s, "")
	s = whitespaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// PatternHash is the identity of a pattern: the first 16 hex chars of
// sha256(normalized snippet + ":" + category).
func PatternHash(snippet string, category IssueCategory) string {
	sum := sha256.Sum256([]byte(NormalizeSnippet(snippet) + ":" + string(category)))
	return hex.EncodeToString(sum[:])[:16]
}

// ClassifyIssue maps free-form issue text (usually model output) to a category.
func ClassifyIssue(text string) IssueCategory {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "eval"):
		return CategoryDynamicEval
	case strings.Contains(t, "sql"),
		strings.Contains(t, "query") && strings.Contains(t, "concatenat"):
		return CategoryInjectionRisk
	case strings.Contains(t, "innerhtml"), strings.Contains(t, "outerhtml"),
		strings.Contains(t, "xss"), strings.Contains(t, "cross-site"),
		strings.Contains(t, "document.write"):
		return CategoryMarkupInjection
	case strings.Contains(t, "injection"):
		return CategoryInjectionRisk
	case strings.Contains(t, "nested loop"), strings.Contains(t, "o(n^2)"),
		strings.Contains(t, "o(n²)"), strings.Contains(t, "quadratic"):
		return CategoryQuadraticLoop
	case strings.Contains(t, "null"), strings.Contains(t, "undefined"),
		strings.Contains(t, "optional chaining"):
		return CategoryNullDereference
	case strings.Contains(t, "await"), strings.Contains(t, "promise"),
		strings.Contains(t, "async"):
		return CategoryMissingAsyncWait
	}
	return CategoryGeneric
}

var extLanguages = map[string]string{
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".cjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".py":   "python",
	".go":   "go",
	".rb":   "ruby",
	".java": "java",
	".sql":  "sql",
	".sh":   "shell",
	".css":  "css",
	".html": "html",
	".json": "json",
	".md":   "markdown",
	".yaml": "yaml",
	".yml":  "yaml",
}

// LanguageForPath guesses the language from the file extension.
func LanguageForPath(path string) string {
	if lang, ok := extLanguages[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "unknown"
}
