package batch

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/steveyegge/vigil/internal/git"
	"github.com/steveyegge/vigil/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const window = 30 * time.Millisecond

type fakeVCS struct {
	mu      sync.Mutex
	notRepo bool
	err     error
	commits []git.CommitOptions
}

func (f *fakeVCS) Name() string { return "fake" }

func (f *fakeVCS) IsRepo(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.notRepo
}

func (f *fakeVCS) Commit(ctx context.Context, opts git.CommitOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.commits = append(f.commits, opts)
	return "deadbeef", nil
}

func (f *fakeVCS) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// recorder forwards callbacks onto channels.
type recorder struct {
	pending   chan *Batch
	committed chan *CommitResult
	rejected  chan *Batch
	discarded chan string
	failed    chan error
}

func newRecorder() *recorder {
	return &recorder{
		pending:   make(chan *Batch, 10),
		committed: make(chan *CommitResult, 10),
		rejected:  make(chan *Batch, 10),
		discarded: make(chan string, 10),
		failed:    make(chan error, 10),
	}
}

func (r *recorder) BatchPending(b *Batch)               { r.pending <- b }
func (r *recorder) BatchCommitted(c *CommitResult)      { r.committed <- c }
func (r *recorder) BatchRejected(b *Batch)              { r.rejected <- b }
func (r *recorder) BatchDiscarded(b *Batch, why string) { r.discarded <- why }
func (r *recorder) CommitFailed(b *Batch, err error)    { r.failed <- err }

func waitPending(t *testing.T, r *recorder) *Batch {
	t.Helper()
	select {
	case b := <-r.pending:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pending batch")
		return nil
	}
}

func fixAt(path string, line int, category types.IssueCategory, desc string) Fix {
	return Fix{FilePath: path, Line: line, Category: category, Description: desc, Change: desc}
}

func TestQuietWindowProposesOneBatch(t *testing.T) {
	vcs := &fakeVCS{}
	rec := newRecorder()
	b := New(Config{QuietWindow: window}, vcs, rec)
	defer b.Stop()

	assert.Equal(t, StateIdle, b.State())
	require.NoError(t, b.Register(fixAt("a.js", 1, types.CategoryDynamicEval, "eval usage")))
	assert.Equal(t, StateAccumulating, b.State())
	require.NoError(t, b.Register(fixAt("b.js", 2, types.CategoryNullDereference, "possible null")))
	require.NoError(t, b.Register(fixAt("a.js", 9, types.CategoryQuadraticLoop, "nested loop")))

	batch := waitPending(t, rec)
	assert.Len(t, batch.Fixes, 3)
	assert.Equal(t, []string{"a.js", "b.js"}, batch.Files)
	assert.Equal(t, StatePendingApproval, b.State())

	select {
	case extra := <-rec.pending:
		t.Fatalf("unexpected second batch %v", extra.ID)
	case <-time.After(3 * window):
	}
}

func TestRegistrationResetsQuietWindow(t *testing.T) {
	rec := newRecorder()
	b := New(Config{QuietWindow: 80 * time.Millisecond}, &fakeVCS{}, rec)
	defer b.Stop()

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, b.Register(fixAt("a.js", i+1, types.CategoryGeneric, "tidy")))
		time.Sleep(40 * time.Millisecond)
	}
	batch := waitPending(t, rec)
	assert.Len(t, batch.Fixes, 4)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestApproveCommitsExactlyTouchedFiles(t *testing.T) {
	vcs := &fakeVCS{}
	rec := newRecorder()
	b := New(Config{QuietWindow: window, AuthorName: "vigil", AuthorEmail: "v@example.com"}, vcs, rec)
	defer b.Stop()

	require.NoError(t, b.Register(fixAt("src/x.js", 3, types.CategoryInjectionRisk, "SQL built by concatenation")))
	require.NoError(t, b.Register(fixAt("src/y.js", 4, types.CategoryGeneric, "rename variable")))
	waitPending(t, rec)

	res, err := b.Approve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", res.Hash)
	assert.False(t, res.NoOp)

	require.Len(t, vcs.commits, 1)
	assert.Equal(t, []string{"src/x.js", "src/y.js"}, vcs.commits[0].Paths)
	assert.Equal(t, "vigil", vcs.commits[0].AuthorName)
	assert.True(t, strings.HasPrefix(vcs.commits[0].Message, "Fix security vulnerabilities\n"))

	assert.Equal(t, StateIdle, b.State())
	assert.Nil(t, b.Pending())
	<-rec.committed

	stats := b.Stats()
	assert.EqualValues(t, 1, stats.Commits)
	assert.EqualValues(t, 2, stats.FixesCommitted)
	assert.Equal(t, "deadbeef", stats.LastHash)
}

func TestApproveWithoutPendingBatch(t *testing.T) {
	b := New(Config{QuietWindow: window}, &fakeVCS{}, nil)
	defer b.Stop()

	_, err := b.Approve(context.Background())
	assert.ErrorIs(t, err, ErrNoPendingBatch)
	assert.Nil(t, b.Reject())
}

func TestNothingToCommitIsSuccess(t *testing.T) {
	vcs := &fakeVCS{err: git.ErrNothingToCommit}
	rec := newRecorder()
	b := New(Config{QuietWindow: window}, vcs, rec)
	defer b.Stop()

	require.NoError(t, b.Register(fixAt("a.js", 1, types.CategoryGeneric, "tidy")))
	waitPending(t, rec)

	res, err := b.Approve(context.Background())
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Empty(t, res.Hash)
	assert.Equal(t, StateIdle, b.State())
	assert.EqualValues(t, 1, b.Stats().NoOps)
	assert.EqualValues(t, 0, b.Stats().Commits)
}

func TestCommitFailureRetainsBatch(t *testing.T) {
	vcs := &fakeVCS{err: errors.New("index.lock exists")}
	rec := newRecorder()
	b := New(Config{QuietWindow: window}, vcs, rec)
	defer b.Stop()

	require.NoError(t, b.Register(fixAt("a.js", 1, types.CategoryGeneric, "tidy")))
	pending := waitPending(t, rec)

	_, err := b.Approve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index.lock")
	assert.Contains(t, (<-rec.failed).Error(), "index.lock")

	assert.Equal(t, StatePendingApproval, b.State())
	assert.Equal(t, pending.ID, b.Pending().ID)
	assert.EqualValues(t, 1, b.Stats().Failed)

	// retry succeeds once the problem clears
	vcs.setErr(nil)
	res, err := b.Approve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pending.ID, res.Batch.ID)
}

func TestRejectLeavesNoCommit(t *testing.T) {
	vcs := &fakeVCS{}
	rec := newRecorder()
	b := New(Config{QuietWindow: window}, vcs, rec)
	defer b.Stop()

	require.NoError(t, b.Register(fixAt("a.js", 1, types.CategoryGeneric, "tidy")))
	pending := waitPending(t, rec)

	rejected := b.Reject()
	require.NotNil(t, rejected)
	assert.Equal(t, pending.ID, rejected.ID)
	assert.Equal(t, pending.ID, (<-rec.rejected).ID)
	assert.Empty(t, vcs.commits)
	assert.Equal(t, StateIdle, b.State())
	assert.EqualValues(t, 1, b.Stats().Rejected)
}

func TestRegistrationsDuringApprovalQueueNextBatch(t *testing.T) {
	vcs := &fakeVCS{}
	rec := newRecorder()
	b := New(Config{QuietWindow: window}, vcs, rec)
	defer b.Stop()

	require.NoError(t, b.Register(fixAt("a.js", 1, types.CategoryGeneric, "first")))
	first := waitPending(t, rec)

	require.NoError(t, b.Register(fixAt("b.js", 1, types.CategoryGeneric, "second")))
	require.NoError(t, b.Register(fixAt("c.js", 1, types.CategoryGeneric, "third")))

	// the next batch waits behind the pending one
	require.Eventually(t, func() bool { return b.Stats().QueuedFixes == 2 && b.Stats().Proposed == 2 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, first.ID, b.Pending().ID)
	select {
	case <-rec.pending:
		t.Fatal("queued batch must not be proposed while another is pending")
	default:
	}

	_, err := b.Approve(context.Background())
	require.NoError(t, err)

	second := waitPending(t, rec)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, []string{"b.js", "c.js"}, second.Files)
	assert.Equal(t, StatePendingApproval, b.State())

	require.NotNil(t, b.Reject())
	assert.Equal(t, StateIdle, b.State())
	assert.Len(t, vcs.commits, 1)
}

func TestNotARepositoryDiscardsBatch(t *testing.T) {
	vcs := &fakeVCS{notRepo: true}
	rec := newRecorder()
	b := New(Config{QuietWindow: window}, vcs, rec)
	defer b.Stop()

	require.NoError(t, b.Register(fixAt("a.js", 1, types.CategoryGeneric, "tidy")))
	select {
	case why := <-rec.discarded:
		assert.Equal(t, "not a git repository", why)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for discard")
	}
	assert.Equal(t, StateIdle, b.State())
	assert.Nil(t, b.Pending())
	assert.EqualValues(t, 1, b.Stats().Discarded)
}

func TestStopCancelsWindow(t *testing.T) {
	rec := newRecorder()
	b := New(Config{QuietWindow: window}, &fakeVCS{}, rec)

	require.NoError(t, b.Register(fixAt("a.js", 1, types.CategoryGeneric, "tidy")))
	b.Stop()

	assert.ErrorIs(t, b.Register(fixAt("a.js", 2, types.CategoryGeneric, "tidy")), ErrStopped)
	select {
	case <-rec.pending:
		t.Fatal("stopped batcher proposed a batch")
	case <-time.After(3 * window):
	}
	require.Error(t, b.Register(Fix{}))
}

func TestApproveCommitsToRealRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.name", "Test User")
	runGit(t, dir, "config", "user.email", "test@example.com")
	write(t, dir, "app.js", "const data = eval(raw);\n")
	write(t, dir, "notes.txt", "draft\n")
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "initial")

	ctx := context.Background()
	vcs, err := git.New(ctx, git.Config{Backend: git.BackendCLI, WorkingDir: dir})
	require.NoError(t, err)

	rec := newRecorder()
	b := New(Config{QuietWindow: window}, vcs, rec)
	defer b.Stop()

	write(t, dir, "app.js", "const data = JSON.parse(raw);\n")
	write(t, dir, "notes.txt", "unrelated edit\n")
	require.NoError(t, b.Register(Fix{
		FilePath:    "app.js",
		Line:        1,
		Category:    types.CategoryDynamicEval,
		Description: "eval() executes arbitrary code",
		Change:      "Replaced eval() with JSON.parse()",
	}))
	waitPending(t, rec)

	res, err := b.Approve(ctx)
	require.NoError(t, err)
	assert.Equal(t, runGit(t, dir, "rev-parse", "HEAD"), res.Hash)
	assert.Equal(t, "app.js", runGit(t, dir, "show", "--name-only", "--format=", "HEAD"))
	assert.Equal(t, "Fix security vulnerabilities", runGit(t, dir, "log", "-1", "--format=%s"))
	assert.Contains(t, runGit(t, dir, "log", "-1", "--format=%b"), "app.js:1 - Replaced eval() with JSON.parse()")
	assert.Contains(t, runGit(t, dir, "status", "--porcelain"), "notes.txt")
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
