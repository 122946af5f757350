package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/agent"
	"github.com/steveyegge/vigil/internal/config"
	"github.com/steveyegge/vigil/internal/repl"
	"github.com/steveyegge/vigil/internal/types"
	"github.com/steveyegge/vigil/internal/watcher"
)

var (
	scanDeep   bool
	scanJSON   bool
	scanFailOn string
)

var scanCmd = &cobra.Command{
	Use:   "scan [paths...]",
	Short: "Run the pattern matcher over the whole project once",
	Long: `Analyze every watched file (or just the given paths) and exit.

Detections are recorded in the pattern store, as they are while watching.
Fixes are never applied. With --fail-on the command exits non-zero when any
finding is at or above the given severity, for use in CI.

Example:
  vigil scan
  vigil scan --deep src/payments.js
  vigil scan --fail-on high`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		var threshold types.Severity
		if scanFailOn != "" {
			threshold = types.Severity(scanFailOn)
			if !threshold.IsValid() {
				return fmt.Errorf("invalid --fail-on severity %q", scanFailOn)
			}
		}

		reports, err := scanTree(ctx, cfg, scanDeep, args)
		if err != nil {
			return err
		}

		if scanJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(reports); err != nil {
				return err
			}
		} else {
			printScan(reports)
		}

		if threshold != "" {
			if n := countAtLeast(reports, threshold); n > 0 {
				return fmt.Errorf("%d finding(s) at or above %s severity", n, threshold)
			}
		}
		return nil
	},
}

// scanTree analyzes paths, or every watched file when paths is empty, with a
// short-lived agent. Auto-fix is always off.
func scanTree(ctx context.Context, c *config.Config, deep bool, paths []string) ([]*agent.FileReport, error) {
	c = c.Clone()
	c.Fix.AutoFix = false

	a, err := agent.New(ctx, c, agent.Deps{DisableAI: !deep, Logger: logger})
	if err != nil {
		return nil, err
	}
	defer func() { _ = a.Close() }()

	if len(paths) == 0 {
		paths, err = watcher.Files(watcher.Config{
			Root:        a.Root(),
			WatchGlobs:  c.Watch.WatchGlobs,
			IgnoreGlobs: c.Watch.IgnoreGlobs,
			MaxFileSize: c.Watch.MaxFileSize,
		})
		if err != nil {
			return nil, err
		}
	}

	reports := make([]*agent.FileReport, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		r, err := a.AnalyzeFile(ctx, p)
		if err != nil {
			logger.Warn("skipping file", zap.String("path", p), zap.Error(err))
			continue
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func printScan(reports []*agent.FileReport) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	total, files := 0, 0
	for _, r := range reports {
		if len(r.Findings) == 0 {
			continue
		}
		files++
		total += len(r.Findings)
		repl.RenderReport(os.Stdout, r)
	}
	if total == 0 {
		fmt.Printf("%s Scanned %d file(s), no issues found\n", green("✓"), len(reports))
		return
	}
	fmt.Printf("%s Scanned %d file(s): %d issue(s) in %d file(s)\n", yellow("⚠"), len(reports), total, files)
}

func countAtLeast(reports []*agent.FileReport, min types.Severity) int {
	n := 0
	for _, r := range reports {
		for _, f := range r.Findings {
			if f.Severity.Rank() >= min.Rank() {
				n++
			}
		}
	}
	return n
}

func init() {
	scanCmd.Flags().BoolVar(&scanDeep, "deep", false, "Also run the language model on every file")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print reports as JSON")
	scanCmd.Flags().StringVar(&scanFailOn, "fail-on", "", "Exit non-zero on findings at or above this severity (low, medium, high, critical)")
	rootCmd.AddCommand(scanCmd)
}
