package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/vigil/internal/agent"
	"github.com/steveyegge/vigil/internal/control"
	"github.com/steveyegge/vigil/internal/repl"
	"github.com/steveyegge/vigil/internal/types"
)

var (
	statsJSON        bool
	patternsMinConf  float64
	patternsCategory string
	patternsJSON     bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show counters of the running agent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireAgent()
		if err != nil {
			return err
		}
		s, err := repl.NewRemote(client).Stats(context.Background())
		if err != nil {
			return err
		}
		if statsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}
		repl.RenderStats(os.Stdout, s)
		return nil
	},
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Show learned patterns and learning analytics",
	Long: `List the patterns in the store, most confident first, followed by a
per-category summary and the fix success rate.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		analytics, patterns, err := loadPatterns(ctx)
		if err != nil {
			return err
		}

		if patternsCategory != "" {
			filtered := patterns[:0]
			for _, p := range patterns {
				if string(p.Category) == patternsCategory {
					filtered = append(filtered, p)
				}
			}
			patterns = filtered
		}

		if patternsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Patterns  []*types.Pattern `json:"patterns"`
				Analytics *types.Analytics `json:"analytics"`
			}{patterns, analytics})
		}
		printPatterns(patterns, analytics)
		return nil
	},
}

// loadPatterns asks the running agent for analytics when there is one, and
// reads the store directly for the pattern list.
func loadPatterns(ctx context.Context) (*types.Analytics, []*types.Pattern, error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open pattern store (run 'vigil init' first?): %w", err)
	}
	defer func() { _ = store.Close() }()

	patterns, err := store.ListCandidates(ctx, patternsMinConf)
	if err != nil {
		return nil, nil, err
	}

	var analytics *types.Analytics
	if client := dialAgent(); client != nil {
		analytics, err = remoteAnalytics(client)
	} else {
		analytics, err = store.Analytics(ctx)
	}
	if err != nil {
		return nil, nil, err
	}
	return analytics, patterns, nil
}

func remoteAnalytics(client *control.Client) (*types.Analytics, error) {
	resp, err := client.Analytics()
	if err != nil {
		return nil, err
	}
	var a types.Analytics
	if err := resp.Decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

func printPatterns(patterns []*types.Pattern, a *types.Analytics) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("Patterns"))
	if len(patterns) == 0 {
		fmt.Printf("  %s\n\n", gray("No patterns above the confidence floor"))
	} else {
		fmt.Printf("  %-5s %-20s %-9s %-5s %-6s %-6s %s\n", "ID", "CATEGORY", "SEVERITY", "CONF", "SEEN", "FIXED", "SNIPPET")
		for _, p := range patterns {
			fmt.Printf("  %-5d %-20s %-9s %-5.2f %-6d %-6d %s\n",
				p.ID, p.Category, p.Severity, p.Confidence, p.DetectionCount, p.FixCount, truncate(p.Snippet, 40))
		}
		fmt.Println()
	}

	fmt.Printf("%s\n\n", cyan("Learning"))
	fmt.Printf("  Patterns:   %d\n", a.TotalPatterns)
	fmt.Printf("  Detections: %d\n", a.TotalDetections)
	fmt.Printf("  Fixes:      %d of %d successful (%.0f%%)\n", a.Fixes.Successful, a.Fixes.Total, a.Fixes.SuccessPercent)
	for _, c := range a.ByCategory {
		fmt.Printf("  %-20s %d pattern(s), avg confidence %.2f\n", c.Category, c.Count, c.AvgConfidence)
	}
	fmt.Println()
}

// truncate shortens s to maxLen runes with an ellipsis.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

var (
	configJSON bool
	setUpdate  agent.Update
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the running agent's settings",
	Long: `Without flags, print the effective configuration (from the running agent
when there is one). With flags, change those settings on the running agent.
Changes last until the agent stops; edit .vigil/config.yaml to keep them.

Example:
  vigil config
  vigil config --auto-fix --auto-fix-min-confidence 0.9
  vigil config --notify-on-performance=false`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		u := changedUpdate(cmd)
		client := dialAgent()
		if !u.IsEmpty() && client == nil {
			_, err := requireAgent()
			return err
		}

		local := cfg.Clone()
		if local.Inference.APIKey != "" {
			local.Inference.APIKey = "redacted"
		}
		var out interface{} = local
		if client != nil {
			resp, err := client.Config(&u)
			if err != nil {
				return err
			}
			var remote map[string]interface{}
			if err := resp.Decode(&remote); err != nil {
				return err
			}
			out = remote
		}
		if !u.IsEmpty() {
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s Settings updated\n", green("✓"))
			if !configJSON {
				return nil
			}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// changedUpdate keeps only the flags given on the command line.
func changedUpdate(cmd *cobra.Command) agent.Update {
	var u agent.Update
	f := cmd.Flags()
	if f.Changed("auto-analyze") {
		u.AutoAnalyze = setUpdate.AutoAnalyze
	}
	if f.Changed("notify-on-bugs") {
		u.NotifyOnBugs = setUpdate.NotifyOnBugs
	}
	if f.Changed("notify-on-security") {
		u.NotifyOnSecurity = setUpdate.NotifyOnSecurity
	}
	if f.Changed("notify-on-performance") {
		u.NotifyOnPerformance = setUpdate.NotifyOnPerformance
	}
	if f.Changed("dry-run") {
		u.DryRun = setUpdate.DryRun
	}
	if f.Changed("auto-fix") {
		u.AutoFix = setUpdate.AutoFix
	}
	if f.Changed("auto-fix-min-confidence") {
		u.AutoFixMinConfidence = setUpdate.AutoFixMinConfidence
	}
	if f.Changed("escalation-threshold") {
		u.EscalationThreshold = setUpdate.EscalationThreshold
	}
	return u
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print stats as JSON")
	patternsCmd.Flags().Float64Var(&patternsMinConf, "min-confidence", 0, "Hide patterns below this confidence")
	patternsCmd.Flags().StringVar(&patternsCategory, "category", "", "Only show this category")
	patternsCmd.Flags().BoolVar(&patternsJSON, "json", false, "Print patterns and analytics as JSON")

	setUpdate = agent.Update{
		AutoAnalyze:          new(bool),
		NotifyOnBugs:         new(bool),
		NotifyOnSecurity:     new(bool),
		NotifyOnPerformance:  new(bool),
		DryRun:               new(bool),
		AutoFix:              new(bool),
		AutoFixMinConfidence: new(float64),
		EscalationThreshold:  new(float64),
	}
	f := configCmd.Flags()
	f.BoolVar(&configJSON, "json", false, "Print the configuration after an update")
	f.BoolVar(setUpdate.AutoAnalyze, "auto-analyze", true, "Run the matcher on every change")
	f.BoolVar(setUpdate.NotifyOnBugs, "notify-on-bugs", true, "Notify on high-severity bugs")
	f.BoolVar(setUpdate.NotifyOnSecurity, "notify-on-security", true, "Notify on any security finding")
	f.BoolVar(setUpdate.NotifyOnPerformance, "notify-on-performance", false, "Notify on performance findings")
	f.BoolVar(setUpdate.DryRun, "dry-run", false, "Compute fixes without writing")
	f.BoolVar(setUpdate.AutoFix, "auto-fix", false, "Apply confident pattern fixes automatically")
	f.Float64Var(setUpdate.AutoFixMinConfidence, "auto-fix-min-confidence", 0.8, "Confidence required for auto-fix")
	f.Float64Var(setUpdate.EscalationThreshold, "escalation-threshold", 0.7, "Pattern confidence that skips deep analysis")

	rootCmd.AddCommand(statsCmd, patternsCmd, configCmd)
}
