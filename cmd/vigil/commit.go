package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/vigil/internal/batch"
	"github.com/steveyegge/vigil/internal/repl"
)

var pendingJSON bool

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Show the commit batch awaiting approval",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireAgent()
		if err != nil {
			return err
		}
		b, err := repl.NewRemote(client).Pending(context.Background())
		if err != nil {
			return err
		}
		if pendingJSON {
			return json.NewEncoder(os.Stdout).Encode(b)
		}
		repl.RenderBatch(os.Stdout, b)
		return nil
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Commit the pending batch",
	Long: `Stage exactly the files the pending batch touched and commit them with
the generated message. If the files already match HEAD nothing is committed.
A failed commit keeps the batch pending so it can be retried.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireAgent()
		if err != nil {
			return err
		}
		res, err := repl.NewRemote(client).Approve(context.Background())
		if errors.Is(err, batch.ErrNoPendingBatch) {
			repl.RenderBatch(os.Stdout, nil)
			return nil
		}
		if err != nil {
			return err
		}
		repl.RenderCommit(os.Stdout, res)
		return nil
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject",
	Short: "Discard the pending batch without committing",
	Long: `Reject the pending batch. The fixes stay in the working tree; only the
commit is abandoned.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireAgent()
		if err != nil {
			return err
		}
		b, err := repl.NewRemote(client).Reject(context.Background())
		if errors.Is(err, batch.ErrNoPendingBatch) {
			repl.RenderBatch(os.Stdout, nil)
			return nil
		}
		if err != nil {
			return err
		}
		repl.RenderRejected(os.Stdout, b)
		return nil
	},
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Open the approval console against the running agent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireAgent()
		if err != nil {
			return err
		}
		r, err := repl.New(&repl.Config{
			Controller:  repl.NewRemote(client),
			HistoryFile: cfg.StatePath("history"),
		})
		if err != nil {
			return err
		}
		return r.Run(context.Background())
	},
}

func init() {
	pendingCmd.Flags().BoolVar(&pendingJSON, "json", false, "Print the batch as JSON")
	rootCmd.AddCommand(pendingCmd, approveCmd, rejectCmd, consoleCmd)
}
