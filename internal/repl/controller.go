package repl

import (
	"context"

	"github.com/steveyegge/vigil/internal/agent"
	"github.com/steveyegge/vigil/internal/batch"
	"github.com/steveyegge/vigil/internal/control"
	"github.com/steveyegge/vigil/internal/fix"
	"github.com/steveyegge/vigil/internal/types"
)

// Controller is what the console drives. It is satisfied in-process by an
// agent and across processes by the control socket.
type Controller interface {
	Stats(ctx context.Context) (*agent.Stats, error)
	Pending(ctx context.Context) (*batch.Batch, error)
	Approve(ctx context.Context) (*batch.CommitResult, error)
	Reject(ctx context.Context) (*batch.Batch, error)
	Analyze(ctx context.Context, path string) (*agent.FileReport, error)
	Fix(ctx context.Context, path string, finding types.Finding, dryRun bool) (*fix.Result, error)
}

type local struct {
	a control.Agent
}

// NewLocal drives an agent running in the same process.
func NewLocal(a control.Agent) Controller {
	return &local{a: a}
}

func (l *local) Stats(ctx context.Context) (*agent.Stats, error) {
	s := l.a.Stats()
	return &s, nil
}

func (l *local) Pending(ctx context.Context) (*batch.Batch, error) {
	return l.a.PendingCommit(), nil
}

func (l *local) Approve(ctx context.Context) (*batch.CommitResult, error) {
	return l.a.ApproveCommit(ctx)
}

func (l *local) Reject(ctx context.Context) (*batch.Batch, error) {
	return l.a.RejectCommit()
}

func (l *local) Analyze(ctx context.Context, path string) (*agent.FileReport, error) {
	return l.a.AnalyzeFile(ctx, path)
}

func (l *local) Fix(ctx context.Context, path string, finding types.Finding, dryRun bool) (*fix.Result, error) {
	return l.a.ApplyFix(ctx, path, finding, dryRun)
}

type remote struct {
	c *control.Client
}

// NewRemote drives an agent over its control socket.
func NewRemote(c *control.Client) Controller {
	return &remote{c: c}
}

func decode[T any](resp *control.Response, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	var out T
	if err := resp.Decode(&out); err != nil {
		// Restore the sentinel so callers can match it across the socket
		if err.Error() == batch.ErrNoPendingBatch.Error() {
			return nil, batch.ErrNoPendingBatch
		}
		return nil, err
	}
	return &out, nil
}

func (r *remote) Stats(ctx context.Context) (*agent.Stats, error) {
	return decode[agent.Stats](r.c.Stats())
}

func (r *remote) Pending(ctx context.Context) (*batch.Batch, error) {
	p, err := decode[control.PendingData](r.c.Pending())
	if err != nil {
		return nil, err
	}
	return p.Batch, nil
}

func (r *remote) Approve(ctx context.Context) (*batch.CommitResult, error) {
	return decode[batch.CommitResult](r.c.Approve())
}

func (r *remote) Reject(ctx context.Context) (*batch.Batch, error) {
	return decode[batch.Batch](r.c.Reject())
}

func (r *remote) Analyze(ctx context.Context, path string) (*agent.FileReport, error) {
	return decode[agent.FileReport](r.c.Analyze(path))
}

func (r *remote) Fix(ctx context.Context, path string, finding types.Finding, dryRun bool) (*fix.Result, error) {
	return decode[fix.Result](r.c.Fix(path, finding, dryRun))
}
