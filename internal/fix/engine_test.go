package fix

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/vigil/internal/storage"
	"github.com/steveyegge/vigil/internal/types"
)

const evalSource = "function load(raw) {\n  return eval(raw);\n}\n"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewStorage(context.Background(), &storage.Config{Path: filepath.Join(t.TempDir(), "patterns.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestEngine(t *testing.T, root string, store storage.Store) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Root = root
	return New(cfg, store)
}

func evalFinding() types.Finding {
	return types.Finding{
		Category:    types.CategoryDynamicEval,
		Severity:    types.SeverityCritical,
		Line:        2,
		Description: "Security: eval() usage detected - potential code injection",
		Suggestion:  "Replace eval() with JSON.parse() or safer alternative",
		Source:      types.SourcePattern,
	}
}

func TestApplyFixWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "src/load.js", evalSource)
	e := newTestEngine(t, dir, nil)

	res, err := e.ApplyFix(context.Background(), "src/load.js", evalFinding(), Options{})
	require.NoError(t, err)
	require.True(t, res.Success, res.Reason)
	assert.Equal(t, StrategyDynamicEval, res.Strategy)
	assert.False(t, res.DryRun)

	want := "function load(raw) {\n  return JSON.parse(raw);\n}\n"
	assert.Equal(t, want, res.NewContent)
	assert.Equal(t, want, readFile(t, path))

	require.Len(t, res.Changes, 1)
	assert.Equal(t, Change{
		Line:        2,
		Old:         "return eval(raw);",
		New:         "return JSON.parse(raw);",
		Description: "Replaced eval() with JSON.parse()",
	}, res.Changes[0])
	assert.Contains(t, res.Diff, "-  return eval(raw);")
	assert.Contains(t, res.Diff, "+  return JSON.parse(raw);")
	assert.Contains(t, res.Diff, "a/src/load.js")

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Join(dir, "src"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestApplyFixDryRunDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "load.js", evalSource)
	store := newTestStore(t)
	e := newTestEngine(t, dir, store)

	res, err := e.ApplyFix(context.Background(), "load.js", evalFinding(), Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.DryRun)
	assert.Contains(t, res.NewContent, "JSON.parse(raw)")
	assert.Equal(t, evalSource, readFile(t, path))

	fixes, err := store.ListFixes(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, fixes, "dry runs are not learned")
	assert.Equal(t, int64(1), e.Stats().DryRuns)
}

func TestApplyFixConfigDryRun(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "load.js", evalSource)
	cfg := DefaultConfig()
	cfg.Root = dir
	cfg.DryRun = true
	e := New(cfg, nil)

	res, err := e.ApplyFix(context.Background(), path, evalFinding(), Options{})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, evalSource, readFile(t, path))
}

func TestApplyFixFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "load.js", evalSource)
	e := newTestEngine(t, dir, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		finding types.Finding
		reason  string
	}{
		{"line past end", func() types.Finding { f := evalFinding(); f.Line = 4; return f }(), "out of range"},
		{"line zero", func() types.Finding { f := evalFinding(); f.Line = 0; return f }(), "out of range"},
		{"pattern absent", func() types.Finding { f := evalFinding(); f.Line = 1; return f }(), "no eval() call"},
		{"no strategy", types.Finding{Category: types.CategoryGeneric, Line: 1, Suggestion: "hm"}, "no fix strategy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.ApplyFix(ctx, "load.js", tt.finding, Options{})
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Contains(t, res.Reason, tt.reason)
			assert.Empty(t, res.NewContent)
		})
	}
	assert.Equal(t, evalSource, readFile(t, filepath.Join(dir, "load.js")))

	stats := e.Stats()
	assert.Equal(t, int64(4), stats.Attempts)
	assert.Equal(t, int64(4), stats.Failed)
}

func TestApplyFixMissingFile(t *testing.T) {
	e := newTestEngine(t, t.TempDir(), nil)
	_, err := e.ApplyFix(context.Background(), "nope.js", evalFinding(), Options{})
	assert.Error(t, err)
}

func TestApplyFixDoesNotRepeatComments(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "q.js", "function q(id) {\n  return db.query(\"SELECT * FROM t WHERE id = \" + id);\n}\n")
	e := newTestEngine(t, dir, nil)
	finding := types.Finding{Category: types.CategoryInjectionRisk, Severity: types.SeverityCritical, Line: 2}

	res, err := e.ApplyFix(context.Background(), "q.js", finding, Options{})
	require.NoError(t, err)
	require.True(t, res.Success, res.Reason)
	assert.Contains(t, readFile(t, path), "  // SECURITY: use parameterized queries")

	// the flagged statement moved down one line
	finding.Line = 3
	res, err = e.ApplyFix(context.Background(), "q.js", finding, Options{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "already annotated")
}

func TestApplyFixRefusesToGuardAssignmentTarget(t *testing.T) {
	dir := t.TempDir()
	src := "function rename(user) {\n  user.profile.name = \"x\";\n}\n"
	path := writeFile(t, dir, "rename.js", src)
	e := newTestEngine(t, dir, nil)
	finding := types.Finding{Category: types.CategoryNullDereference, Severity: types.SeverityMedium, Line: 2}

	res, err := e.ApplyFix(context.Background(), "rename.js", finding, Options{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "property chain is an assignment target", res.Reason)
	assert.Equal(t, src, readFile(t, path))
}

func TestApplyFixPreservesMode(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "run.js", evalSource)
	require.NoError(t, os.Chmod(path, 0755))
	e := newTestEngine(t, dir, nil)

	res, err := e.ApplyFix(context.Background(), "run.js", evalFinding(), Options{})
	require.NoError(t, err)
	require.True(t, res.Success)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestApplyFixLearnsFromPatternFinding(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "load.js", evalSource)
	store := newTestStore(t)

	learned, err := store.Learn(ctx, types.LearnRequest{
		Snippet: "eval(input)", Category: types.CategoryDynamicEval, Severity: types.SeverityCritical,
	})
	require.NoError(t, err)
	detectionID, err := store.RecordDetection(ctx, learned.PatternID, "load.js", 2)
	require.NoError(t, err)

	finding := evalFinding()
	finding.PatternID = learned.PatternID
	finding.DetectionID = detectionID

	e := newTestEngine(t, dir, store)
	res, err := e.ApplyFix(ctx, "load.js", finding, Options{})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, learned.PatternID, res.PatternID)

	p, err := store.GetPattern(ctx, learned.PatternID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.FixCount)
	assert.Greater(t, p.Confidence, 0.5)

	fixes, err := store.ListFixes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	require.NotNil(t, fixes[0].PatternID)
	assert.Equal(t, learned.PatternID, *fixes[0].PatternID)
	assert.Equal(t, "return eval(raw);", fixes[0].Before)
	assert.Equal(t, "return JSON.parse(raw);", fixes[0].After)
	assert.True(t, fixes[0].Success)

	detections, err := store.ListDetections(ctx, types.DetectionFilter{PatternID: learned.PatternID})
	require.NoError(t, err)
	require.Len(t, detections, 1)
	assert.True(t, detections[0].Fixed)
	require.NotNil(t, detections[0].FixSuccessful)
	assert.True(t, *detections[0].FixSuccessful)
}

func TestApplyFixLearnsNewPatternFromModelFinding(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "user.js", "function name(user) {\n  return user.profile.name;\n}\n")
	store := newTestStore(t)
	e := newTestEngine(t, dir, store)

	finding := types.Finding{
		Category:    types.CategoryNullDereference,
		Severity:    types.SeverityHigh,
		Line:        2,
		Description: "Possible null reference on user.profile",
		Suggestion:  "Add optional chaining",
		Source:      types.SourceAI,
	}
	res, err := e.ApplyFix(ctx, "user.js", finding, Options{})
	require.NoError(t, err)
	require.True(t, res.Success, res.Reason)
	require.NotZero(t, res.PatternID)

	p, err := store.GetPattern(ctx, res.PatternID)
	require.NoError(t, err)
	assert.Equal(t, types.CategoryNullDereference, p.Category)
	assert.Equal(t, "return user.profile.name;", p.Snippet)
	assert.Equal(t, string(StrategySafeNavigation), p.FixStrategy)
	assert.Equal(t, "javascript", p.Language)
	assert.Equal(t, ".js", p.Extension)
	assert.Equal(t, 1, p.DetectionCount)
	assert.Equal(t, 1, p.FixCount)
	assert.InDelta(t, 1.0, p.SuccessRate, 1e-9)
}

func TestApplyFixSerializesSameFile(t *testing.T) {
	dir := t.TempDir()
	var content string
	for i := 0; i < 20; i++ {
		content += "el.innerHTML = v;\n"
	}
	path := writeFile(t, dir, "view.js", content)
	e := newTestEngine(t, dir, nil)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(line int) {
			defer wg.Done()
			res, err := e.ApplyFix(context.Background(), "view.js", types.Finding{
				Category: types.CategoryMarkupInjection, Line: line,
			}, Options{})
			assert.NoError(t, err)
			assert.True(t, res.Success)
		}(i)
	}
	wg.Wait()

	var want string
	for i := 0; i < 20; i++ {
		want += "el.textContent = v;\n"
	}
	assert.Equal(t, want, readFile(t, path))
	assert.Equal(t, int64(20), e.Stats().ByStrategy[StrategyMarkupSink])
}
