package repl

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/vigil/internal/agent"
	"github.com/steveyegge/vigil/internal/batch"
	"github.com/steveyegge/vigil/internal/events"
	"github.com/steveyegge/vigil/internal/fix"
	"github.com/steveyegge/vigil/internal/types"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

type fakeController struct {
	pending    *batch.Batch
	commits    int
	fixes      []types.Finding
	dryRuns    []bool
	approveErr error
}

func (f *fakeController) Stats(ctx context.Context) (*agent.Stats, error) {
	return &agent.Stats{Running: true, Root: "/repo", IssuesFound: 7, FixesApplied: 2,
		Batch: batch.Stats{State: batch.StateIdle, Commits: 1, LastHash: "0123456789abcdef"}}, nil
}

func (f *fakeController) Pending(ctx context.Context) (*batch.Batch, error) {
	return f.pending, nil
}

func (f *fakeController) Approve(ctx context.Context) (*batch.CommitResult, error) {
	if f.approveErr != nil {
		return nil, f.approveErr
	}
	if f.pending == nil {
		return nil, batch.ErrNoPendingBatch
	}
	f.commits++
	b := f.pending
	f.pending = nil
	return &batch.CommitResult{Batch: b, Hash: "deadbeefcafe"}, nil
}

func (f *fakeController) Reject(ctx context.Context) (*batch.Batch, error) {
	if f.pending == nil {
		return nil, batch.ErrNoPendingBatch
	}
	b := f.pending
	f.pending = nil
	return b, nil
}

func (f *fakeController) Analyze(ctx context.Context, path string) (*agent.FileReport, error) {
	return &agent.FileReport{Path: path, Findings: []types.Finding{
		{Line: 3, Severity: types.SeverityCritical, Category: types.CategoryDynamicEval,
			Description: "eval of dynamic input", Suggestion: "parse instead", Confidence: 0.9, Source: types.SourcePattern},
		{Line: 9, Severity: types.SeverityLow, Description: "long function", Confidence: 0.6, Source: types.SourceAI},
	}}, nil
}

func (f *fakeController) Fix(ctx context.Context, path string, finding types.Finding, dryRun bool) (*fix.Result, error) {
	f.fixes = append(f.fixes, finding)
	f.dryRuns = append(f.dryRuns, dryRun)
	if finding.Line == 9 {
		return &fix.Result{Success: false, Reason: "no fix strategy for generic finding"}, nil
	}
	return &fix.Result{Success: true, Strategy: "comment-out", Finding: finding, DryRun: dryRun,
		Diff: "--- a/app.js\n+++ b/app.js\n"}, nil
}

func newTestREPL(t *testing.T, ctrl Controller) (*REPL, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	r, err := New(&Config{Controller: ctrl, Out: &out})
	require.NoError(t, err)
	return r, &out
}

func TestNewRequiresController(t *testing.T) {
	_, err := New(&Config{})
	assert.Error(t, err)
}

func TestApprovalFlow(t *testing.T) {
	ctrl := &fakeController{pending: &batch.Batch{
		ID:      "b-1",
		Files:   []string{"src/app.js"},
		Fixes:   []batch.Fix{{FilePath: "src/app.js", Line: 3}},
		Message: "Fix security vulnerabilities\n\nApplied 1 automated fix across 1 file:",
	}}
	r, out := newTestREPL(t, ctrl)

	require.NoError(t, r.processInput("pending"))
	assert.Contains(t, out.String(), "Pending Commit")
	assert.Contains(t, out.String(), "src/app.js")
	assert.Contains(t, out.String(), "  Fix security vulnerabilities\n")

	out.Reset()
	require.NoError(t, r.processInput("/approve"))
	assert.Contains(t, out.String(), "Committed deadbeef (1 file(s))")
	assert.Equal(t, 1, ctrl.commits)

	out.Reset()
	require.NoError(t, r.processInput("approve"))
	assert.Contains(t, out.String(), "No commit awaiting approval")
}

func TestReject(t *testing.T) {
	ctrl := &fakeController{pending: &batch.Batch{Fixes: make([]batch.Fix, 2)}}
	r, out := newTestREPL(t, ctrl)

	require.NoError(t, r.processInput("reject"))
	assert.Contains(t, out.String(), "Rejected 2 fix(es)")
	assert.Nil(t, ctrl.pending)
	assert.Zero(t, ctrl.commits)
}

func TestApproveFailureIsReported(t *testing.T) {
	r, _ := newTestREPL(t, &fakeController{approveErr: errors.New("index.lock exists")})
	err := r.processInput("approve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index.lock exists")
}

func TestAnalyzeThenFix(t *testing.T) {
	ctrl := &fakeController{}
	r, out := newTestREPL(t, ctrl)

	require.Error(t, r.processInput("fix 1"), "fix before analyze")

	require.NoError(t, r.processInput("analyze src/app.js"))
	assert.Contains(t, out.String(), " 1. [critical] line 3: eval of dynamic input (pattern, 90%)")
	assert.Contains(t, out.String(), "    fix: parse instead")
	assert.Contains(t, out.String(), " 2. [low] line 9: long function (ai, 60%)")

	out.Reset()
	require.NoError(t, r.processInput("fix 1 --dry-run"))
	assert.Contains(t, out.String(), "Would apply comment-out fix to line 3")
	assert.Contains(t, out.String(), "+++ b/app.js")

	out.Reset()
	require.NoError(t, r.processInput("fix 2"))
	assert.Contains(t, out.String(), "Not applied: no fix strategy")

	require.Len(t, ctrl.fixes, 2)
	assert.Equal(t, []bool{true, false}, ctrl.dryRuns)

	tests := []string{"fix", "fix 0", "fix 3", "fix x", "analyze"}
	for _, in := range tests {
		if err := r.processInput(in); err == nil {
			t.Fatalf("processInput(%q) succeeded, want usage error", in)
		}
	}
}

func TestStatusAndHelp(t *testing.T) {
	r, out := newTestREPL(t, &fakeController{})

	require.NoError(t, r.processInput("status"))
	assert.Contains(t, out.String(), "Agent Status")
	assert.Contains(t, out.String(), "Last commit   01234567")

	out.Reset()
	require.NoError(t, r.processInput("?"))
	assert.Contains(t, out.String(), "approve")

	out.Reset()
	require.NoError(t, r.processInput("bogus"))
	assert.Contains(t, out.String(), `Unknown command "bogus"`)

	assert.Equal(t, io.EOF, r.processInput("quit"))
}

func TestFormatEvent(t *testing.T) {
	e := &events.Event{
		Type:      events.EventTypeCommitPending,
		Severity:  events.SeverityInfo,
		Message:   "2 fixes across 1 file awaiting approval",
		Timestamp: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
	}
	got := FormatEvent(e)
	if !strings.HasPrefix(got, "15:04:05 commit:pending") {
		t.Fatalf("FormatEvent = %q", got)
	}
	if !strings.HasSuffix(got, "awaiting approval") {
		t.Fatalf("FormatEvent = %q", got)
	}
}
