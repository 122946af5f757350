// Package repl is the interactive approval console: it shows agent activity
// as it happens and lets the user review, approve or reject commit batches.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/steveyegge/vigil/internal/agent"
	"github.com/steveyegge/vigil/internal/batch"
	"github.com/steveyegge/vigil/internal/events"
)

// REPL represents the interactive shell
type REPL struct {
	ctrl        Controller
	out         io.Writer
	events      <-chan *events.Event
	historyFile string
	rl          *readline.Instance
	ctx         context.Context
	commands    map[string]CommandHandler

	mu   sync.Mutex
	last *agent.FileReport
}

// CommandHandler handles a specific command
type CommandHandler func(args []string) error

// Config holds REPL configuration
type Config struct {
	Controller Controller
	// Out defaults to stdout. Run replaces it with the readline writer so
	// that event lines do not clobber the prompt.
	Out io.Writer
	// Events, when set, are printed as they arrive.
	Events      <-chan *events.Event
	HistoryFile string
}

// New creates a new REPL instance
func New(cfg *Config) (*REPL, error) {
	if cfg.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	r := &REPL{
		ctrl:        cfg.Controller,
		out:         out,
		events:      cfg.Events,
		historyFile: cfg.HistoryFile,
		ctx:         context.Background(),
		commands:    make(map[string]CommandHandler),
	}

	// Register built-in commands
	r.registerCommands()

	return r, nil
}

// Run starts the REPL loop
func (r *REPL) Run(ctx context.Context) error {
	r.ctx = ctx

	cyan := color.New(color.FgCyan).SprintFunc()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("vigil> "),
		HistoryFile:       r.historyFile,
		AutoComplete:      r.completer(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	r.rl = rl
	r.out = rl.Stdout()

	done := make(chan struct{})
	var wg sync.WaitGroup
	if r.events != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.printEvents(ctx, done)
		}()
	}
	defer wg.Wait()
	defer close(done)

	// Print welcome message
	r.printWelcome()

	// Closing readline unblocks Readline when the context ends
	go func() {
		select {
		case <-ctx.Done():
			rl.Close()
		case <-done:
		}
	}()

	// Main loop
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				// Ctrl+C - just show prompt again
				continue
			} else if err == io.EOF || ctx.Err() != nil {
				fmt.Fprintln(r.out, "\nGoodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := r.processInput(line); err != nil {
			if err == io.EOF {
				// Exit command - graceful shutdown
				return nil
			}
			red := color.New(color.FgRed).SprintFunc()
			fmt.Fprintf(r.out, "%s %v\n", red("Error:"), err)
		}
	}
}

func (r *REPL) printEvents(ctx context.Context, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case e, ok := <-r.events:
			if !ok {
				return
			}
			fmt.Fprintln(r.out, FormatEvent(e))
		}
	}
}

// processInput processes a single line of input
func (r *REPL) processInput(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	command := strings.TrimPrefix(strings.ToLower(parts[0]), "/")
	args := parts[1:]

	if handler, ok := r.commands[command]; ok {
		return handler(args)
	}

	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Fprintf(r.out, "%s Unknown command %q. Use 'help' for available commands.\n", yellow("Note:"), parts[0])
	return nil
}

// registerCommands registers all built-in commands
func (r *REPL) registerCommands() {
	r.commands["help"] = r.cmdHelp
	r.commands["?"] = r.cmdHelp
	r.commands["exit"] = r.cmdExit
	r.commands["quit"] = r.cmdExit
	r.commands["status"] = r.cmdStatus
	r.commands["pending"] = r.cmdPending
	r.commands["approve"] = r.cmdApprove
	r.commands["reject"] = r.cmdReject
	r.commands["analyze"] = r.cmdAnalyze
	r.commands["findings"] = r.cmdFindings
	r.commands["fix"] = r.cmdFix
}

func (r *REPL) completer() readline.AutoCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("status"),
		readline.PcItem("pending"),
		readline.PcItem("approve"),
		readline.PcItem("reject"),
		readline.PcItem("analyze", readline.PcItemDynamic(r.reportPaths)),
		readline.PcItem("findings"),
		readline.PcItem("fix", readline.PcItem("--dry-run")),
		readline.PcItem("exit"),
	)
}

func (r *REPL) reportPaths(string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil
	}
	return []string{r.last.Path}
}

// printWelcome prints the welcome message
func (r *REPL) printWelcome() {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n", cyan("vigil approval console"))
	fmt.Fprintln(r.out, "Fixes are batched into commits that wait here for your approval.")
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "Type 'help' for available commands, 'exit' to quit")
	fmt.Fprintln(r.out)
}

// cmdHelp shows help information
func (r *REPL) cmdHelp(args []string) error {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n\n", cyan("Available Commands:"))

	commands := []struct {
		name string
		desc string
	}{
		{"status", "Show agent counters"},
		{"pending", "Show the commit awaiting approval"},
		{"approve", "Commit the pending batch"},
		{"reject", "Discard the pending batch (files keep their fixes)"},
		{"analyze <path>", "Run pattern and deep analysis on a file"},
		{"findings", "Show the findings of the last analysis"},
		{"fix <n> [--dry-run]", "Apply a fix for finding n of the last analysis"},
		{"help, ?", "Show this help message"},
		{"exit, quit", "Exit the console"},
	}
	for _, cmd := range commands {
		fmt.Fprintf(r.out, "  %-22s %s\n", green(cmd.name), cmd.desc)
	}
	fmt.Fprintln(r.out)
	return nil
}

// cmdExit exits the REPL
func (r *REPL) cmdExit(args []string) error {
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "\n%s Goodbye!\n", green("✓"))
	return io.EOF // Signal to exit the loop
}

func (r *REPL) cmdStatus(args []string) error {
	s, err := r.ctrl.Stats(r.ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	RenderStats(r.out, s)
	return nil
}

func (r *REPL) cmdPending(args []string) error {
	b, err := r.ctrl.Pending(r.ctx)
	if err != nil {
		return fmt.Errorf("failed to get pending commit: %w", err)
	}
	RenderBatch(r.out, b)
	return nil
}

func (r *REPL) cmdApprove(args []string) error {
	res, err := r.ctrl.Approve(r.ctx)
	if err != nil {
		if errors.Is(err, batch.ErrNoPendingBatch) {
			RenderBatch(r.out, nil)
			return nil
		}
		return fmt.Errorf("approve failed: %w", err)
	}
	RenderCommit(r.out, res)
	return nil
}

func (r *REPL) cmdReject(args []string) error {
	b, err := r.ctrl.Reject(r.ctx)
	if err != nil {
		if errors.Is(err, batch.ErrNoPendingBatch) {
			RenderBatch(r.out, nil)
			return nil
		}
		return fmt.Errorf("reject failed: %w", err)
	}
	RenderRejected(r.out, b)
	return nil
}

func (r *REPL) cmdAnalyze(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: analyze <path>")
	}
	report, err := r.ctrl.Analyze(r.ctx, args[0])
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	r.mu.Lock()
	r.last = report
	r.mu.Unlock()
	RenderReport(r.out, report)
	return nil
}

func (r *REPL) cmdFindings(args []string) error {
	r.mu.Lock()
	report := r.last
	r.mu.Unlock()
	if report == nil {
		return fmt.Errorf("no analysis yet; run 'analyze <path>' first")
	}
	RenderReport(r.out, report)
	return nil
}

func (r *REPL) cmdFix(args []string) error {
	dryRun := false
	var rest []string
	for _, a := range args {
		if a == "--dry-run" || a == "-n" {
			dryRun = true
			continue
		}
		rest = append(rest, a)
	}
	if len(rest) != 1 {
		return fmt.Errorf("usage: fix <n> [--dry-run]")
	}

	r.mu.Lock()
	report := r.last
	r.mu.Unlock()
	if report == nil {
		return fmt.Errorf("no analysis yet; run 'analyze <path>' first")
	}
	n, err := strconv.Atoi(rest[0])
	if err != nil || n < 1 || n > len(report.Findings) {
		return fmt.Errorf("finding must be between 1 and %d", len(report.Findings))
	}

	res, err := r.ctrl.Fix(r.ctx, report.Path, report.Findings[n-1], dryRun)
	if err != nil {
		return fmt.Errorf("fix failed: %w", err)
	}

	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	if !res.Success {
		fmt.Fprintf(r.out, "\n%s Not applied: %s\n\n", yellow("✗"), res.Reason)
		return nil
	}
	verb := "Applied"
	if res.DryRun {
		verb = "Would apply"
	}
	fmt.Fprintf(r.out, "\n%s %s %s fix to line %d\n", green("✓"), verb, res.Strategy, res.Finding.Line)
	if res.Diff != "" {
		fmt.Fprintln(r.out)
		fmt.Fprint(r.out, res.Diff)
	}
	fmt.Fprintln(r.out)
	return nil
}
