package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/vigil/internal/report"
	"github.com/steveyegge/vigil/internal/types"
)

var (
	reportOutput    string
	reportFromStore bool
	reportDeep      bool
	reportCompact   bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export findings as SARIF",
	Long: `Write a SARIF 2.1.0 report for code scanning dashboards.

By default the project is scanned afresh. With --from-store the report lists
the unfixed detections already recorded in the pattern store instead.

Example:
  vigil report -o vigil.sarif
  vigil report --from-store > detections.sarif`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		var entries []report.Entry
		if reportFromStore {
			var err error
			entries, err = storedEntries(ctx)
			if err != nil {
				return err
			}
		} else {
			reports, err := scanTree(ctx, cfg, reportDeep, nil)
			if err != nil {
				return err
			}
			entries = report.FromReports(reports)
		}

		rep, err := report.Build(entries, version)
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		toFile := reportOutput != "" && reportOutput != "-"
		if toFile {
			f, err := os.Create(reportOutput)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", reportOutput, err)
			}
			defer f.Close()
			w = f
		}
		if err := report.Write(w, rep, !reportCompact); err != nil {
			return fmt.Errorf("failed to write SARIF report: %w", err)
		}
		if toFile {
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Fprintf(os.Stderr, "%s Wrote %d result(s) to %s\n", green("✓"), len(entries), reportOutput)
		}
		return nil
	},
}

func storedEntries(ctx context.Context) ([]report.Entry, error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open pattern store: %w", err)
	}
	defer func() { _ = store.Close() }()
	return report.FromDetections(ctx, store, types.DetectionFilter{Unfixed: true})
}

func init() {
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Output file (default stdout)")
	reportCmd.Flags().BoolVar(&reportFromStore, "from-store", false, "Report recorded unfixed detections instead of scanning")
	reportCmd.Flags().BoolVar(&reportDeep, "deep", false, "Include language model findings when scanning")
	reportCmd.Flags().BoolVar(&reportCompact, "compact", false, "Write SARIF without indentation")
	rootCmd.AddCommand(reportCmd)
}
