package repl

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fatih/color"

	"github.com/steveyegge/vigil/internal/agent"
	"github.com/steveyegge/vigil/internal/cost"
	"github.com/steveyegge/vigil/internal/types"
)

// RenderStats prints the agent overview.
func RenderStats(w io.Writer, s *agent.Stats) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	state := red("stopped")
	if s.Running {
		state = green("running")
	}
	fmt.Fprintf(w, "\n%s\n", cyan("Agent Status"))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  State         %s (up %s)\n", state, s.Uptime.Round(time.Second))
	fmt.Fprintf(w, "  Root          %s\n", s.Root)
	fmt.Fprintf(w, "  Files         %d monitored, %d changes, %d deleted\n", s.FilesMonitored, s.ChangesDetected, s.FilesDeleted)
	fmt.Fprintf(w, "  Analyses      %d pattern, %d deep (%d escalated, %d skipped)\n",
		s.PatternAnalyses, s.DeepAnalyses, s.Escalations, s.ShortCircuits)
	fmt.Fprintf(w, "  Issues        %s found, %d notifications\n", yellow(s.IssuesFound), s.NotificationsSent)
	fmt.Fprintf(w, "  Fixes         %d applied (%d automatic, %d dry run)\n", s.FixesApplied, s.AutoFixes, s.DryRuns)
	fmt.Fprintf(w, "  Commits       %d committed, %d rejected, state %s\n", s.Batch.Commits, s.Batch.Rejected, s.Batch.State)
	if s.Batch.LastHash != "" {
		fmt.Fprintf(w, "  Last commit   %s\n", shortHash(s.Batch.LastHash))
	}
	if s.Analyzer != nil {
		fmt.Fprintf(w, "  Model queue   %d queued, %d cached, %d dropped\n", s.Analyzer.Queued, s.Analyzer.CacheSize, s.Analyzer.Dropped)
		if b := s.Analyzer.Budget; b != nil {
			usage := fmt.Sprintf("%d tokens ($%.2f) this hour, %s", b.HourlyTokensUsed, b.HourlyCostUsed, b.Status)
			if b.Status == cost.BudgetExceeded {
				usage = red(usage)
			}
			fmt.Fprintf(w, "  Budget        %s\n", usage)
		}
	}
	fmt.Fprintln(w)
}

// RenderReport prints the findings of an on-demand analysis, numbered so the
// fix command can refer to them.
func RenderReport(w io.Writer, r *agent.FileReport) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "\n%s %s\n", cyan("Analysis:"), filepath.ToSlash(r.Path))
	if r.Deep != nil {
		note := r.Deep.Model
		if r.Deep.Cached {
			note += ", cached"
		}
		if r.Deep.Degraded {
			note += ", degraded"
		}
		fmt.Fprintf(w, "%s %s\n", gray("Model:"), note)
		if r.Deep.Summary != "" {
			fmt.Fprintf(w, "%s %s\n", gray("Summary:"), r.Deep.Summary)
		}
	}
	fmt.Fprintln(w)

	if len(r.Findings) == 0 {
		fmt.Fprintf(w, "  %s No issues found.\n\n", green("✓"))
		return
	}
	for i, f := range r.Findings {
		fmt.Fprintf(w, "%2d. [%s] line %d: %s %s\n", i+1, severityColor(f.Severity)(string(f.Severity)),
			f.Line, f.Description, gray(fmt.Sprintf("(%s, %.0f%%)", f.Source, f.Confidence*100)))
		if f.Suggestion != "" {
			fmt.Fprintf(w, "    fix: %s\n", f.Suggestion)
		}
	}
	fmt.Fprintln(w)
}

func severityColor(s types.Severity) func(a ...interface{}) string {
	switch s {
	case types.SeverityCritical:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case types.SeverityHigh:
		return color.New(color.FgRed).SprintFunc()
	case types.SeverityMedium:
		return color.New(color.FgYellow).SprintFunc()
	}
	return color.New(color.FgGreen).SprintFunc()
}
