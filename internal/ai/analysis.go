package ai

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/vigil/internal/types"
)

// ManualReviewSummary is the summary of an analysis that could not be
// obtained or understood.
const ManualReviewSummary = "manual review required"

// aiConfidence is the confidence attached to model findings. Pattern
// findings carry the learned confidence of their pattern instead.
const aiConfidence = 0.6

// LineNumber accepts 12, "12" or "L12" from model output. Anything else is 0.
type LineNumber int

func (n *LineNumber) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*n = LineNumber(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimPrefix(strings.TrimSpace(strings.ToUpper(s)), "L")
		if i, err := strconv.Atoi(strings.SplitN(s, "-", 2)[0]); err == nil {
			*n = LineNumber(i)
		}
	}
	return nil
}

// Issue is one item from any of the model's review buckets. Buckets name
// their fields differently, so every variant is accepted.
type Issue struct {
	Severity string     `json:"severity,omitempty"`
	Impact   string     `json:"impact,omitempty"`
	Type     string     `json:"type,omitempty"`
	Line     LineNumber `json:"line,omitempty"`

	Description string `json:"description,omitempty"`
	Issue       string `json:"issue,omitempty"`
	Problem     string `json:"problem,omitempty"`
	Current     string `json:"current,omitempty"`

	Suggestion string `json:"suggestion,omitempty"`
	Fix        string `json:"fix,omitempty"`
	Solution   string `json:"solution,omitempty"`
	Suggested  string `json:"suggested,omitempty"`
}

// Text is the problem statement, whichever field carried it.
func (i Issue) Text() string {
	return firstNonEmpty(i.Description, i.Issue, i.Problem, i.Current)
}

// Remedy is the proposed fix, whichever field carried it.
func (i Issue) Remedy() string {
	return firstNonEmpty(i.Suggestion, i.Fix, i.Solution, i.Suggested)
}

// Level is the stated severity or impact.
func (i Issue) Level() string {
	return firstNonEmpty(i.Severity, i.Impact)
}

// TestSuggestion is a missing test the model proposes.
type TestSuggestion struct {
	Function string `json:"function"`
	Reason   string `json:"reason"`
	TestCase string `json:"testCase"`
}

// Analysis is the deep analyzer's review of one file.
type Analysis struct {
	Path         string           `json:"path"`
	Bugs         []Issue          `json:"bugs"`
	Security     []Issue          `json:"security"`
	Performance  []Issue          `json:"performance"`
	Improvements []Issue          `json:"improvements"`
	Tests        []TestSuggestion `json:"tests"`
	Summary      string           `json:"summary"`

	Model      string        `json:"model,omitempty"`
	Degraded   bool          `json:"degraded,omitempty"`
	Cached     bool          `json:"cached,omitempty"`
	Truncated  bool          `json:"truncated,omitempty"`
	Duration   time.Duration `json:"duration"`
	AnalyzedAt time.Time     `json:"analyzed_at"`
}

// modelResponse is the JSON contract the prompt asks for.
type modelResponse struct {
	Bugs         []Issue          `json:"bugs"`
	Security     []Issue          `json:"security"`
	Performance  []Issue          `json:"performance"`
	Improvements []Issue          `json:"improvements"`
	Tests        []TestSuggestion `json:"tests"`
	Summary      string           `json:"summary"`
}

func manualReview(path string) *Analysis {
	a := &Analysis{
		Path:       path,
		Summary:    ManualReviewSummary,
		Degraded:   true,
		AnalyzedAt: time.Now(),
	}
	a.fillEmpty()
	return a
}

// fillEmpty replaces missing buckets with empty ones so they encode as [].
func (a *Analysis) fillEmpty() {
	if a.Bugs == nil {
		a.Bugs = []Issue{}
	}
	if a.Security == nil {
		a.Security = []Issue{}
	}
	if a.Performance == nil {
		a.Performance = []Issue{}
	}
	if a.Improvements == nil {
		a.Improvements = []Issue{}
	}
	if a.Tests == nil {
		a.Tests = []TestSuggestion{}
	}
}

// IssueCount is the number of problems found, excluding test suggestions.
func (a *Analysis) IssueCount() int {
	return len(a.Bugs) + len(a.Security) + len(a.Performance) + len(a.Improvements)
}

// Findings converts the review into the common finding type. The category
// comes from the issue text; the bucket only decides the default severity.
func (a *Analysis) Findings() []types.Finding {
	var out []types.Finding
	add := func(bucket string, issues []Issue, defaultSeverity types.Severity) {
		for _, is := range issues {
			text := is.Text()
			if text == "" {
				continue
			}
			severity := defaultSeverity
			if lvl := is.Level(); lvl != "" {
				severity = types.ParseSeverity(lvl)
			}
			out = append(out, types.Finding{
				Category:    types.ClassifyIssue(text + " " + is.Remedy()),
				Severity:    severity,
				Confidence:  aiConfidence,
				Line:        int(is.Line),
				Description: text,
				Suggestion:  is.Remedy(),
				Source:      types.SourceAI,
				Metadata:    map[string]interface{}{"bucket": bucket},
			})
		}
	}
	add("security", a.Security, types.SeverityHigh)
	add("bugs", a.Bugs, types.SeverityMedium)
	add("performance", a.Performance, types.SeverityMedium)
	add("improvements", a.Improvements, types.SeverityLow)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
