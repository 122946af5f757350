// Package report exports findings as SARIF 2.1.0 so they can be uploaded to
// code scanning dashboards.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/steveyegge/vigil/internal/agent"
	"github.com/steveyegge/vigil/internal/storage"
	"github.com/steveyegge/vigil/internal/types"
)

const (
	toolName = "vigil"
	toolURI  = "https://github.com/steveyegge/vigil"
)

var ruleDescriptions = map[types.IssueCategory]string{
	types.CategoryInjectionRisk:    "Query or command built by string concatenation with untrusted input",
	types.CategoryDynamicEval:      "Dynamic code evaluation",
	types.CategoryMarkupInjection:  "Unescaped assignment to HTML markup",
	types.CategoryQuadraticLoop:    "Nested loop over the same collection",
	types.CategoryNullDereference:  "Deep property access without a null check",
	types.CategoryMissingAsyncWait: "Asynchronous call whose result is not awaited",
	types.CategoryGeneric:          "Code quality issue",
}

// Entry is one finding at a path relative to the watch root.
type Entry struct {
	Path    string
	Finding types.Finding
}

// FromReports flattens on-demand analysis reports.
func FromReports(reports []*agent.FileReport) []Entry {
	var out []Entry
	for _, r := range reports {
		if r == nil {
			continue
		}
		for _, f := range r.Findings {
			out = append(out, Entry{Path: r.Path, Finding: f})
		}
	}
	return out
}

// FromDetections rebuilds findings from the detections recorded in the
// pattern store. Detections of deleted patterns are skipped.
func FromDetections(ctx context.Context, store storage.Store, filter types.DetectionFilter) ([]Entry, error) {
	detections, err := store.ListDetections(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}
	patterns := make(map[int64]*types.Pattern)
	var out []Entry
	for _, d := range detections {
		p, ok := patterns[d.PatternID]
		if !ok {
			p, err = store.GetPattern(ctx, d.PatternID)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("failed to get pattern %d: %w", d.PatternID, err)
			}
			patterns[d.PatternID] = p
		}
		if p == nil {
			continue
		}
		out = append(out, Entry{Path: d.FilePath, Finding: types.Finding{
			Category:    p.Category,
			Severity:    p.Severity,
			Confidence:  p.Confidence,
			Line:        d.Line,
			Description: describe(p.Category),
			PatternID:   p.ID,
			DetectionID: d.ID,
			FixStrategy: p.FixStrategy,
			Source:      types.SourcePattern,
		}})
	}
	return out, nil
}

// Build assembles a single-run SARIF report. Rules are keyed by category and
// results are ordered by path then line.
func Build(entries []Entry, version string) (*sarif.Report, error) {
	rep, err := sarif.New(sarif.Version210)
	if err != nil {
		return nil, fmt.Errorf("failed to create SARIF report: %w", err)
	}
	run := sarif.NewRunWithInformationURI(toolName, toolURI)
	if version != "" {
		run.Tool.Driver.Version = &version
	}

	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Path != sorted[j].Path {
			return sorted[i].Path < sorted[j].Path
		}
		return sorted[i].Finding.Line < sorted[j].Finding.Line
	})

	rules := make(map[string]bool)
	for _, e := range sorted {
		f := e.Finding
		id := ruleID(f.Category)
		if !rules[id] {
			rules[id] = true
			run.AddRule(id).
				WithDescription(describe(f.Category)).
				WithDefaultConfiguration(&sarif.ReportingConfiguration{Level: level(f.Severity)})
		}

		message := f.Description
		if message == "" {
			message = describe(f.Category)
		}
		region := sarif.NewRegion()
		if f.Line > 0 {
			region = region.WithStartLine(f.Line)
		}
		location := sarif.NewLocation().WithPhysicalLocation(
			sarif.NewPhysicalLocation().
				WithArtifactLocation(sarif.NewArtifactLocation().WithUri(filepath.ToSlash(e.Path))).
				WithRegion(region),
		)
		result := sarif.NewRuleResult(id).
			WithMessage(sarif.NewTextMessage(message)).
			WithLevel(level(f.Severity)).
			WithLocations([]*sarif.Location{location})

		props := sarif.Properties{
			"severity":   string(f.Severity),
			"confidence": f.Confidence,
			"source":     string(f.Source),
		}
		if f.Suggestion != "" {
			props["suggestion"] = f.Suggestion
		}
		if f.PatternID != 0 {
			props["pattern_id"] = f.PatternID
		}
		result.Properties = props
		run.AddResult(result)
	}
	rep.AddRun(run)
	return rep, nil
}

// Write encodes rep to w, indented when pretty is set.
func Write(w io.Writer, rep *sarif.Report, pretty bool) error {
	if pretty {
		return rep.PrettyWrite(w)
	}
	return rep.Write(w)
}

func ruleID(c types.IssueCategory) string {
	if c == "" {
		c = types.CategoryGeneric
	}
	return toolName + "/" + string(c)
}

func describe(c types.IssueCategory) string {
	if d, ok := ruleDescriptions[c]; ok {
		return d
	}
	return ruleDescriptions[types.CategoryGeneric]
}

func level(s types.Severity) string {
	switch s {
	case types.SeverityCritical, types.SeverityHigh:
		return "error"
	case types.SeverityMedium:
		return "warning"
	case types.SeverityLow:
		return "note"
	default:
		return "none"
	}
}
