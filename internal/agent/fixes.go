package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/batch"
	"github.com/steveyegge/vigil/internal/events"
	"github.com/steveyegge/vigil/internal/fix"
	"github.com/steveyegge/vigil/internal/types"
)

// ApplyFix fixes one finding in path. Written fixes join the commit batch;
// dry runs (requested here or configured) only report the diff.
func (a *Agent) ApplyFix(ctx context.Context, path string, finding types.Finding, dryRun bool) (*fix.Result, error) {
	return a.applyFix(ctx, path, finding, dryRun, false)
}

func (a *Agent) applyFix(ctx context.Context, path string, finding types.Finding, dryRun, automatic bool) (*fix.Result, error) {
	rel, _, err := a.resolve(path)
	if err != nil {
		return nil, err
	}
	cfg := a.settings()
	result, err := a.fixer.ApplyFix(ctx, rel, finding, fix.Options{DryRun: dryRun || cfg.Fix.DryRun})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return result, nil
	}

	a.count(func(c *counters) {
		if result.DryRun {
			c.dryRuns++
			return
		}
		c.fixesApplied++
		if automatic {
			c.autoFixes++
		}
	})
	change := result.Changes[0]
	a.publish(events.NewFixAppliedEvent(events.FixAppliedData{
		FilePath:    rel,
		Line:        change.Line,
		Strategy:    string(result.Strategy),
		Description: change.Description,
		DryRun:      result.DryRun,
		Diff:        result.Diff,
		PatternID:   result.PatternID,
		Automatic:   automatic,
	}))

	if result.DryRun {
		return result, nil
	}
	if result.PatternID != finding.PatternID {
		// a new pattern was learned from this fix
		a.matcher.Invalidate()
	}
	if err := a.batcher.Register(batch.Fix{
		FilePath:    rel,
		Line:        change.Line,
		Category:    finding.Category,
		Severity:    finding.Severity,
		Description: finding.Description,
		Change:      change.Description,
		Strategy:    string(result.Strategy),
		AppliedAt:   result.AppliedAt,
	}); err != nil {
		a.log.Warn("fix applied but not batched", zap.String("path", rel), zap.Error(err))
	}
	return result, nil
}

// autoFix applies pattern fixes that clear the confidence bar.
func (a *Agent) autoFix(ctx context.Context, path string, findings []types.Finding, minConfidence float64) {
	for _, f := range byLineDesc(findings) {
		if f.Source != types.SourcePattern || f.Confidence < minConfidence {
			continue
		}
		result, err := a.applyFix(ctx, path, f, false, true)
		if err != nil {
			a.log.Warn("auto-fix failed", zap.String("path", path), zap.Int("line", f.Line), zap.Error(err))
			continue
		}
		if !result.Success {
			a.log.Debug("auto-fix skipped",
				zap.String("path", path), zap.Int("line", f.Line), zap.String("reason", result.Reason))
		}
	}
}

// PendingCommit returns the batch awaiting approval, or nil.
func (a *Agent) PendingCommit() *batch.Batch {
	return a.batcher.Pending()
}

// ApproveCommit commits the pending batch.
func (a *Agent) ApproveCommit(ctx context.Context) (*batch.CommitResult, error) {
	return a.batcher.Approve(ctx)
}

// RejectCommit discards the pending batch without committing.
func (a *Agent) RejectCommit() (*batch.Batch, error) {
	rejected := a.batcher.Reject()
	if rejected == nil {
		return nil, batch.ErrNoPendingBatch
	}
	return rejected, nil
}

// Analytics summarizes what the pattern store has learned.
func (a *Agent) Analytics(ctx context.Context) (*types.Analytics, error) {
	out, err := a.store.Analytics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute analytics: %w", err)
	}
	return out, nil
}

// commitEvents publishes batch lifecycle callbacks.
type commitEvents struct {
	a *Agent
}

func commitData(b *batch.Batch) events.CommitData {
	return events.CommitData{
		BatchID: b.ID,
		Message: b.Message,
		Files:   b.Files,
		Fixes:   len(b.Fixes),
	}
}

func (c commitEvents) BatchPending(b *batch.Batch) {
	c.a.publish(events.NewCommitEvent(events.EventTypeCommitPending, commitData(b)))
}

func (c commitEvents) BatchCommitted(r *batch.CommitResult) {
	data := commitData(r.Batch)
	data.Hash = r.Hash
	data.NoOp = r.NoOp
	c.a.publish(events.NewCommitEvent(events.EventTypeCommitCreated, data))
}

func (c commitEvents) BatchRejected(b *batch.Batch) {
	c.a.publish(events.NewCommitEvent(events.EventTypeCommitRejected, commitData(b)))
}

func (c commitEvents) BatchDiscarded(b *batch.Batch, reason string) {
	data := commitData(b)
	data.Error = reason
	c.a.publish(events.NewCommitEvent(events.EventTypeCommitError, data))
}

func (c commitEvents) CommitFailed(b *batch.Batch, err error) {
	data := commitData(b)
	data.Error = err.Error()
	c.a.publish(events.NewCommitEvent(events.EventTypeCommitError, data))
}
