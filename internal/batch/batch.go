// Package batch groups applied fixes into commits. Fixes accumulate until a
// quiet window passes without new registrations, then wait for an explicit
// approval before anything is committed.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/git"
	"github.com/steveyegge/vigil/internal/types"
)

// DefaultQuietWindow is how long registrations must pause before a batch is
// proposed.
const DefaultQuietWindow = 5 * time.Second

var (
	// ErrNoPendingBatch is returned by Approve when nothing awaits approval.
	ErrNoPendingBatch = errors.New("no pending fixes")

	// ErrCommitInProgress is returned when Approve or Reject races an
	// approval that is still committing.
	ErrCommitInProgress = errors.New("commit already in progress")

	// ErrStopped is returned by Register after Stop.
	ErrStopped = errors.New("batcher stopped")
)

// State of the batcher.
type State string

const (
	StateIdle            State = "idle"
	StateAccumulating    State = "accumulating"
	StatePendingApproval State = "pending_approval"
)

// Fix is one applied fix as the batcher sees it.
type Fix struct {
	FilePath    string              `json:"file_path"`
	Line        int                 `json:"line"`
	Category    types.IssueCategory `json:"category"`
	Severity    types.Severity      `json:"severity"`
	Description string              `json:"description"`
	Change      string              `json:"change,omitempty"`
	Strategy    string              `json:"strategy,omitempty"`
	AppliedAt   time.Time           `json:"applied_at"`
}

// Batch is a group of fixes proposed as one commit.
type Batch struct {
	ID        string    `json:"id"`
	Fixes     []Fix     `json:"fixes"`
	Files     []string  `json:"files"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (b *Batch) clone() *Batch {
	if b == nil {
		return nil
	}
	out := *b
	out.Fixes = append([]Fix(nil), b.Fixes...)
	out.Files = append([]string(nil), b.Files...)
	return &out
}

// CommitResult describes an approved batch.
type CommitResult struct {
	Batch *Batch `json:"batch"`
	Hash  string `json:"hash,omitempty"`
	// NoOp is set when the files already matched HEAD.
	NoOp        bool      `json:"no_op"`
	CommittedAt time.Time `json:"committed_at"`
}

// Stats counts batcher activity.
type Stats struct {
	State          State     `json:"state"`
	Registered     int64     `json:"registered"`
	Proposed       int64     `json:"proposed"`
	Commits        int64     `json:"commits"`
	NoOps          int64     `json:"no_ops"`
	Rejected       int64     `json:"rejected"`
	Discarded      int64     `json:"discarded"`
	Failed         int64     `json:"failed"`
	FixesCommitted int64     `json:"fixes_committed"`
	PendingFixes   int       `json:"pending_fixes"`
	QueuedFixes    int       `json:"queued_fixes"`
	LastHash       string    `json:"last_hash,omitempty"`
	LastCommitAt   time.Time `json:"last_commit_at,omitempty"`
}

// Listener receives batch lifecycle callbacks. Callbacks run outside the
// batcher's lock and may call back into it.
type Listener interface {
	BatchPending(b *Batch)
	BatchCommitted(r *CommitResult)
	BatchRejected(b *Batch)
	BatchDiscarded(b *Batch, reason string)
	CommitFailed(b *Batch, err error)
}

// NopListener ignores every callback. Embed it to implement a subset.
type NopListener struct{}

func (NopListener) BatchPending(*Batch)           {}
func (NopListener) BatchCommitted(*CommitResult)  {}
func (NopListener) BatchRejected(*Batch)          {}
func (NopListener) BatchDiscarded(*Batch, string) {}
func (NopListener) CommitFailed(*Batch, error)    {}

// Config configures a Batcher.
type Config struct {
	QuietWindow time.Duration
	AuthorName  string
	AuthorEmail string
	Logger      *zap.Logger
}

// Batcher implements the accumulate / approve cycle.
type Batcher struct {
	cfg      Config
	vcs      git.VCS
	listener Listener
	log      *zap.Logger

	mu sync.Mutex
	// next accumulates registrations until the quiet window passes
	next []Fix
	// queued holds a ready batch waiting behind pending
	queued     *Batch
	pending    *Batch
	committing bool
	timer      *time.Timer
	gen        uint64
	stopped    bool
	stats      Stats

	fires sync.WaitGroup
}

// New creates a Batcher. listener may be nil.
func New(cfg Config, vcs git.VCS, listener Listener) *Batcher {
	if cfg.QuietWindow <= 0 {
		cfg.QuietWindow = DefaultQuietWindow
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if listener == nil {
		listener = NopListener{}
	}
	return &Batcher{
		cfg:      cfg,
		vcs:      vcs,
		listener: listener,
		log:      log.Named("batch"),
	}
}

// Register adds a fix and restarts the quiet window.
func (b *Batcher) Register(fix Fix) error {
	if fix.FilePath == "" {
		return fmt.Errorf("fix has no file path")
	}
	if fix.AppliedAt.IsZero() {
		fix.AppliedAt = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return ErrStopped
	}
	b.next = append(b.next, fix)
	b.stats.Registered++
	b.resetTimerLocked()

	b.log.Debug("fix registered",
		zap.String("file", fix.FilePath),
		zap.Int("line", fix.Line),
		zap.Int("accumulated", len(b.next)))
	return nil
}

func (b *Batcher) resetTimerLocked() {
	b.stopTimerLocked()
	b.gen++
	gen := b.gen
	b.fires.Add(1)
	b.timer = time.AfterFunc(b.cfg.QuietWindow, func() {
		defer b.fires.Done()
		b.windowExpired(gen)
	})
}

func (b *Batcher) stopTimerLocked() {
	if b.timer != nil && b.timer.Stop() {
		// the callback will never run
		b.fires.Done()
	}
	b.timer = nil
}

func (b *Batcher) windowExpired(gen uint64) {
	b.mu.Lock()
	if gen != b.gen || b.stopped || len(b.next) == 0 {
		b.mu.Unlock()
		return
	}
	fixes := b.next
	b.next = nil
	b.timer = nil
	b.mu.Unlock()

	batch := newBatch(fixes)

	if !b.vcs.IsRepo(context.Background()) {
		b.mu.Lock()
		b.stats.Discarded++
		b.mu.Unlock()
		b.log.Warn("not a git repository; discarding pending fixes", zap.Int("fixes", len(fixes)))
		b.listener.BatchDiscarded(batch, "not a git repository")
		return
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stats.Proposed++
	if b.pending != nil {
		if b.queued != nil {
			batch = newBatch(append(b.queued.Fixes, fixes...))
		}
		b.queued = batch
		b.mu.Unlock()
		b.log.Info("batch queued behind pending approval", zap.Int("fixes", len(batch.Fixes)))
		return
	}
	b.pending = batch
	b.mu.Unlock()

	b.log.Info("batch awaiting approval",
		zap.String("batch", batch.ID),
		zap.Int("fixes", len(batch.Fixes)),
		zap.Int("files", len(batch.Files)))
	b.listener.BatchPending(batch.clone())
}

func newBatch(fixes []Fix) *Batch {
	return &Batch{
		ID:        uuid.New().String(),
		Fixes:     fixes,
		Files:     uniqueFiles(fixes),
		Message:   BuildMessage(fixes),
		CreatedAt: time.Now(),
	}
}

// Pending returns a copy of the batch awaiting approval, or nil.
func (b *Batcher) Pending() *Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending.clone()
}

// State reports the batcher state.
func (b *Batcher) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Batcher) stateLocked() State {
	switch {
	case b.pending != nil:
		return StatePendingApproval
	case len(b.next) > 0:
		return StateAccumulating
	default:
		return StateIdle
	}
}

// Approve commits the pending batch, staging exactly its files. When the
// files already match HEAD the result is a successful no-op. On any other
// failure the batch stays pending so the approval can be retried.
func (b *Batcher) Approve(ctx context.Context) (*CommitResult, error) {
	b.mu.Lock()
	if b.pending == nil {
		b.mu.Unlock()
		return nil, ErrNoPendingBatch
	}
	if b.committing {
		b.mu.Unlock()
		return nil, ErrCommitInProgress
	}
	b.committing = true
	batch := b.pending
	b.mu.Unlock()

	hash, err := b.vcs.Commit(ctx, git.CommitOptions{
		Paths:       batch.Files,
		Message:     batch.Message,
		AuthorName:  b.cfg.AuthorName,
		AuthorEmail: b.cfg.AuthorEmail,
	})
	noop := errors.Is(err, git.ErrNothingToCommit)

	b.mu.Lock()
	b.committing = false
	if err != nil && !noop {
		b.stats.Failed++
		b.mu.Unlock()
		b.log.Error("commit failed", zap.String("batch", batch.ID), zap.Error(err))
		b.listener.CommitFailed(batch.clone(), err)
		return nil, fmt.Errorf("failed to commit batch %s: %w", batch.ID, err)
	}

	result := &CommitResult{Batch: batch.clone(), Hash: hash, NoOp: noop, CommittedAt: time.Now()}
	if noop {
		b.stats.NoOps++
	} else {
		b.stats.Commits++
		b.stats.FixesCommitted += int64(len(batch.Fixes))
		b.stats.LastHash = hash
		b.stats.LastCommitAt = result.CommittedAt
	}
	promoted := b.resolveLocked()
	b.mu.Unlock()

	if noop {
		b.log.Info("nothing to commit; batch resolved", zap.String("batch", batch.ID))
	} else {
		b.log.Info("batch committed", zap.String("batch", batch.ID), zap.String("hash", hash))
	}
	b.listener.BatchCommitted(result)
	if promoted != nil {
		b.listener.BatchPending(promoted)
	}
	return result, nil
}

// Reject drops the pending batch without committing. The fixes stay on disk.
// It returns the rejected batch, or nil when nothing was pending.
func (b *Batcher) Reject() *Batch {
	b.mu.Lock()
	if b.pending == nil || b.committing {
		b.mu.Unlock()
		return nil
	}
	batch := b.pending
	b.stats.Rejected++
	promoted := b.resolveLocked()
	b.mu.Unlock()

	b.log.Info("batch rejected", zap.String("batch", batch.ID), zap.Int("fixes", len(batch.Fixes)))
	b.listener.BatchRejected(batch.clone())
	if promoted != nil {
		b.listener.BatchPending(promoted)
	}
	return batch.clone()
}

// resolveLocked clears the pending batch and promotes a queued one.
func (b *Batcher) resolveLocked() *Batch {
	b.pending = nil
	if b.queued == nil {
		return nil
	}
	b.pending = b.queued
	b.queued = nil
	return b.pending.clone()
}

// Stats returns a snapshot of the counters.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.State = b.stateLocked()
	if b.pending != nil {
		s.PendingFixes = len(b.pending.Fixes)
	}
	s.QueuedFixes = len(b.next)
	if b.queued != nil {
		s.QueuedFixes += len(b.queued.Fixes)
	}
	return s
}

// Stop cancels the quiet window and waits for an expiring window to finish.
// A batch already pending stays available for Approve or Reject.
func (b *Batcher) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.stopTimerLocked()
	b.mu.Unlock()
	b.fires.Wait()
}
