package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/agent"
	"github.com/steveyegge/vigil/internal/control"
	"github.com/steveyegge/vigil/internal/events"
	"github.com/steveyegge/vigil/internal/repl"
	"github.com/steveyegge/vigil/internal/storage"
)

var (
	watchInteractive bool
	watchNoAI        bool
	watchQuiet       bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the project and analyze changes as they happen",
	Long: `Start the agent in the foreground.

The agent will:
1. Index the files matching watch_globs under the root
2. Run the pattern matcher on every saved change
3. Escalate large or complex changes to the language model
4. Apply fixes (automatically when auto_fix is on) and batch them into commits
5. Wait for 'vigil approve' or 'vigil reject' on each batch

Events are appended to .vigil/events.jsonl. Other vigil commands talk to the
agent over .vigil/control.sock. Stop with Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stateDir := cfg.StatePath("")
		lockPath, err := storage.AcquireAgentLock(stateDir, cfg.RootPath, version)
		if err != nil {
			return err
		}
		defer func() {
			if err := storage.ReleaseAgentLock(lockPath); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to release agent lock: %v\n", err)
			}
		}()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := agent.New(ctx, cfg, agent.Deps{DisableAI: watchNoAI, Logger: logger})
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Warn("error closing agent", zap.Error(err))
			}
		}()

		// Subscribe before Start so the ready event is recorded.
		sink, err := events.OpenFileSink(cfg.StatePath("events.jsonl"))
		if err != nil {
			return err
		}
		defer sink.Close()
		sinkSub := a.Subscribe()
		sinkDone := make(chan struct{})
		go func() {
			defer close(sinkDone)
			// Runs until the subscription closes so shutdown events are kept
			if err := sink.Drain(context.Background(), sinkSub); err != nil {
				logger.Warn("event log stopped", zap.Error(err))
			}
		}()
		defer func() {
			sinkSub.Close()
			<-sinkDone
		}()

		displaySub := a.Subscribe(displayedEvents...)
		defer displaySub.Close()

		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("failed to start agent: %w", err)
		}

		srv, err := control.NewServer(cfg.SocketPath(), control.NewAgentHandler(a), logger)
		if err != nil {
			return err
		}
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = srv.Stop() }()

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		stats := a.Stats()
		fmt.Printf("%s Watching %s (version %s)\n", green("✓"), cyan(a.Root()), cyan(version))
		fmt.Printf("  Files: %d  Patterns: %d\n", stats.FilesMonitored, stats.Matcher.IndexedCount)
		if stats.Analyzer == nil {
			fmt.Printf("  Deep analysis: disabled\n")
		}
		if cfg.Fix.DryRun {
			fmt.Printf("  Fixes: dry run\n")
		}

		if watchInteractive {
			r, err := repl.New(&repl.Config{
				Controller:  repl.NewLocal(a),
				Events:      displaySub.C,
				HistoryFile: cfg.StatePath("history"),
			})
			if err != nil {
				return err
			}
			if err := r.Run(ctx); err != nil {
				return err
			}
		} else {
			fmt.Printf("  Press Ctrl+C to stop\n\n")
			printEvents(ctx, displaySub.C)
		}

		fmt.Println("\nShutting down...")
		stopped := make(chan struct{})
		go func() {
			a.Stop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(30 * time.Second):
			fmt.Fprintf(os.Stderr, "Warning: timed out waiting for the agent to stop\n")
		}
		fmt.Printf("%s Agent stopped\n", green("✓"))
		return nil
	},
}

// displayedEvents skips file:changed, which fires on every save.
var displayedEvents = []events.EventType{
	events.EventTypeReady,
	events.EventTypeNotification,
	events.EventTypeFixApplied,
	events.EventTypeCommitPending,
	events.EventTypeCommitCreated,
	events.EventTypeCommitRejected,
	events.EventTypeCommitError,
}

func printEvents(ctx context.Context, ch <-chan *events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if watchQuiet && e.Severity == events.SeverityInfo {
				continue
			}
			fmt.Println(repl.FormatEvent(e))
			if e.Type == events.EventTypeNotification {
				if n, err := e.GetNotificationData(); err == nil && n.Message != "" {
					fmt.Println(n.Message)
				}
			}
		}
	}
}

func init() {
	watchCmd.Flags().BoolVarP(&watchInteractive, "interactive", "i", false, "Open the approval console while watching")
	watchCmd.Flags().BoolVar(&watchNoAI, "no-ai", false, "Pattern matching only; never call the model")
	watchCmd.Flags().BoolVarP(&watchQuiet, "quiet", "q", false, "Only print warnings and errors")
	rootCmd.AddCommand(watchCmd)
}
