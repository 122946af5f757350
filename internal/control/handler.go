package control

import (
	"context"
	"fmt"

	"github.com/steveyegge/vigil/internal/agent"
	"github.com/steveyegge/vigil/internal/batch"
	"github.com/steveyegge/vigil/internal/config"
	"github.com/steveyegge/vigil/internal/fix"
	"github.com/steveyegge/vigil/internal/types"
)

// Agent is the subset of *agent.Agent the control socket drives.
type Agent interface {
	Stats() agent.Stats
	PendingCommit() *batch.Batch
	ApproveCommit(ctx context.Context) (*batch.CommitResult, error)
	RejectCommit() (*batch.Batch, error)
	AnalyzeFile(ctx context.Context, path string) (*agent.FileReport, error)
	ApplyFix(ctx context.Context, path string, finding types.Finding, dryRun bool) (*fix.Result, error)
	Config() *config.Config
	UpdateConfig(u agent.Update) (*config.Config, error)
	Analytics(ctx context.Context) (*types.Analytics, error)
}

// PendingData is the result of the pending command.
type PendingData struct {
	Batch *batch.Batch `json:"batch"`
	State batch.State  `json:"state"`
}

// NewAgentHandler routes commands to a.
func NewAgentHandler(a Agent) Handler {
	return func(ctx context.Context, cmd Command) (interface{}, error) {
		switch cmd.Type {
		case CommandStats:
			return a.Stats(), nil
		case CommandPending:
			return PendingData{Batch: a.PendingCommit(), State: a.Stats().Batch.State}, nil
		case CommandApprove:
			return a.ApproveCommit(ctx)
		case CommandReject:
			return a.RejectCommit()
		case CommandAnalyze:
			if cmd.Path == "" {
				return nil, fmt.Errorf("analyze requires a path")
			}
			return a.AnalyzeFile(ctx, cmd.Path)
		case CommandFix:
			if cmd.Path == "" || cmd.Finding == nil {
				return nil, fmt.Errorf("fix requires a path and a finding")
			}
			return a.ApplyFix(ctx, cmd.Path, *cmd.Finding, cmd.DryRun)
		case CommandConfig:
			if cmd.Update == nil || cmd.Update.IsEmpty() {
				return redact(a.Config()), nil
			}
			cfg, err := a.UpdateConfig(*cmd.Update)
			if err != nil {
				return nil, err
			}
			return redact(cfg), nil
		case CommandAnalytics:
			return a.Analytics(ctx)
		}
		return nil, fmt.Errorf("unknown command %q", cmd.Type)
	}
}

// redact clears the API key before the config leaves the process.
func redact(cfg *config.Config) *config.Config {
	if cfg == nil {
		return nil
	}
	out := cfg.Clone()
	if out.Inference.APIKey != "" {
		out.Inference.APIKey = "redacted"
	}
	return out
}
