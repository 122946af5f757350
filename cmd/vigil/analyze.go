package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/vigil/internal/agent"
	"github.com/steveyegge/vigil/internal/repl"
	"github.com/steveyegge/vigil/internal/types"
)

var (
	analyzeNoAI bool
	analyzeJSON bool
	fixDryRun   bool
	fixCategory string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <path>",
	Short: "Run pattern and deep analysis on one file now",
	Long: `Analyze a file immediately with both tiers, regardless of auto_analyze
and the escalation threshold. Uses the running agent when there is one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		ctrl, done, err := controller(ctx, analyzeNoAI)
		if err != nil {
			return err
		}
		defer done()

		report, err := ctrl.Analyze(ctx, args[0])
		if err != nil {
			return err
		}
		if analyzeJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		repl.RenderReport(os.Stdout, report)
		return nil
	},
}

var fixCmd = &cobra.Command{
	Use:   "fix <path> <line>",
	Short: "Apply a fix for the finding on a line",
	Long: `Analyze the file, pick the finding on the given line and apply its fix.

Under a running agent the fix joins the current commit batch. Without one the
file is changed in place and left for you to commit.

Example:
  vigil fix src/app.js 42 --dry-run
  vigil fix src/app.js 42 --category markup-injection`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		line, err := strconv.Atoi(args[1])
		if err != nil || line < 1 {
			return fmt.Errorf("invalid line %q", args[1])
		}

		ctrl, done, err := controller(ctx, true)
		if err != nil {
			return err
		}
		defer done()

		report, err := ctrl.Analyze(ctx, args[0])
		if err != nil {
			return err
		}
		finding, err := pickFinding(report, line, types.IssueCategory(fixCategory))
		if err != nil {
			return err
		}

		res, err := ctrl.Fix(ctx, report.Path, *finding, fixDryRun)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("fix not applied: %s", res.Reason)
		}

		green := color.New(color.FgGreen).SprintFunc()
		verb := "Applied"
		if res.DryRun {
			verb = "Would apply"
		}
		fmt.Printf("%s %s %s fix to %s:%d\n\n", green("✓"), verb, res.Strategy, report.Path, line)
		fmt.Print(res.Diff)
		return nil
	},
}

// pickFinding selects the finding on line, preferring pattern findings and
// then the most severe.
func pickFinding(report *agent.FileReport, line int, category types.IssueCategory) (*types.Finding, error) {
	var best *types.Finding
	for i := range report.Findings {
		f := &report.Findings[i]
		if f.Line != line || (category != "" && f.Category != category) {
			continue
		}
		if best == nil ||
			(f.Source == types.SourcePattern && best.Source != types.SourcePattern) ||
			(f.Source == best.Source && f.Severity.Rank() > best.Severity.Rank()) {
			best = f
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no finding on %s:%d", report.Path, line)
	}
	return best, nil
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeNoAI, "no-ai", false, "Pattern matching only (ignored when an agent is running)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the report as JSON")
	fixCmd.Flags().BoolVarP(&fixDryRun, "dry-run", "n", false, "Show the diff without writing")
	fixCmd.Flags().StringVar(&fixCategory, "category", "", "Only consider findings of this category")
	rootCmd.AddCommand(analyzeCmd, fixCmd)
}
