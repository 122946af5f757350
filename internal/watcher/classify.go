package watcher

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/steveyegge/vigil/internal/types"
)

// Complexity is a coarse structural complexity bucket.
type Complexity string

const (
	ComplexityLow      Complexity = "low"
	ComplexityMedium   Complexity = "medium"
	ComplexityHigh     Complexity = "high"
	ComplexityVeryHigh Complexity = "very-high"
)

// Magnitude describes how much a file changed relative to its last known state.
type Magnitude string

const (
	MagnitudeInitial    Magnitude = "initial"
	MagnitudeMajor      Magnitude = "major"
	MagnitudeModerate   Magnitude = "moderate"
	MagnitudeMinor      Magnitude = "minor"
	MagnitudeFormatting Magnitude = "formatting"
)

// Priority orders work for the deep analyzer.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank orders priorities; higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	}
	return 0
}

// TypeTest is the file type for anything that looks like a test.
const TypeTest = "test"

// FileInfo is the File Tracking Entry kept per watched path.
type FileInfo struct {
	Type            string     `json:"type"`
	Extension       string     `json:"extension"`
	Size            int64      `json:"size"`
	Lines           int        `json:"lines"`
	IsEmpty         bool       `json:"is_empty"`
	HasSmell        bool       `json:"has_smell"`
	Complexity      Complexity `json:"complexity"`
	ComplexityScore int        `json:"complexity_score"`
}

var (
	functionRegex    = regexp.MustCompile(`\bfunction\b|=>|\bdef\s+\w+|\bfunc\b`)
	classRegex       = regexp.MustCompile(`\bclass\s+\w+`)
	conditionalRegex = regexp.MustCompile(`\b(if|for|while|switch|case|catch)\b`)
)

var smellMarkers = []string{
	"console.error",
	"throw new Error",
	"catch (",
	"// TODO",
	"// FIXME",
	"// BUG",
	"debugger",
}

var smellExtensions = map[string]bool{
	".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true, ".cjs": true,
	".py": true, ".go": true, ".rb": true, ".java": true,
}

// Inspect computes the tracking entry for a file's content.
func Inspect(relPath string, size int64, content string) FileInfo {
	ext := strings.ToLower(filepath.Ext(relPath))
	info := FileInfo{
		Type:      fileType(relPath),
		Extension: ext,
		Size:      size,
		IsEmpty:   strings.TrimSpace(content) == "",
	}
	if content != "" {
		info.Lines = strings.Count(content, "\n") + 1
		if strings.HasSuffix(content, "\n") {
			info.Lines--
		}
	}
	if smellExtensions[ext] {
		for _, marker := range smellMarkers {
			if strings.Contains(content, marker) {
				info.HasSmell = true
				break
			}
		}
	}
	info.ComplexityScore = complexityScore(content)
	info.Complexity = bucket(info.ComplexityScore)
	return info
}

func fileType(relPath string) string {
	lower := strings.ToLower(filepath.ToSlash(relPath))
	if strings.Contains(lower, "test") || strings.Contains(lower, "spec") {
		return TypeTest
	}
	return types.LanguageForPath(relPath)
}

func complexityScore(content string) int {
	return len(functionRegex.FindAllStringIndex(content, -1)) +
		2*len(classRegex.FindAllStringIndex(content, -1)) +
		len(conditionalRegex.FindAllStringIndex(content, -1))
}

func bucket(score int) Complexity {
	switch {
	case score > 50:
		return ComplexityVeryHigh
	case score > 30:
		return ComplexityHigh
	case score > 15:
		return ComplexityMedium
	}
	return ComplexityLow
}

// MagnitudeOf compares a new entry with the previous one (nil when untracked).
func MagnitudeOf(prev *FileInfo, cur FileInfo) Magnitude {
	if prev == nil {
		return MagnitudeInitial
	}
	delta := cur.Lines - prev.Lines
	if delta < 0 {
		delta = -delta
	}
	switch {
	case delta > 50:
		return MagnitudeMajor
	case delta > 10:
		return MagnitudeModerate
	case cur.Size == prev.Size:
		return MagnitudeFormatting
	}
	return MagnitudeMinor
}

// ShouldEscalate reports whether a change warrants deep analysis.
func ShouldEscalate(info FileInfo, mag Magnitude) bool {
	return mag == MagnitudeMajor ||
		info.Complexity == ComplexityHigh || info.Complexity == ComplexityVeryHigh ||
		info.HasSmell ||
		info.Type == TypeTest
}

// PriorityOf weighs the change signals into a priority bucket.
func PriorityOf(info FileInfo, mag Magnitude) Priority {
	score := 0
	switch mag {
	case MagnitudeMajor:
		score += 10
	case MagnitudeModerate:
		score += 5
	}
	if info.HasSmell {
		score += 15
	}
	switch info.Complexity {
	case ComplexityVeryHigh:
		score += 10
	case ComplexityHigh:
		score += 5
	}
	if info.Type == TypeTest {
		score += 8
	}

	switch {
	case score >= 20:
		return PriorityCritical
	case score >= 10:
		return PriorityHigh
	case score >= 5:
		return PriorityMedium
	}
	return PriorityLow
}
