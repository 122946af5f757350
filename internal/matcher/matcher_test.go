package matcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/vigil/internal/storage"
	"github.com/steveyegge/vigil/internal/types"
)

type fakeSource struct {
	mu       sync.Mutex
	patterns []*types.Pattern
	err      error
	calls    int
}

func (f *fakeSource) ListCandidates(ctx context.Context, minConfidence float64) ([]*types.Pattern, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []*types.Pattern
	for _, p := range f.patterns {
		if p.Confidence >= minConfidence {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestMatcher(t *testing.T, src PatternSource) *Matcher {
	t.Helper()
	m, err := New(src, DefaultConfig())
	require.NoError(t, err)
	return m
}

func seededMatcher(t *testing.T) *Matcher {
	t.Helper()
	ctx := context.Background()
	store, err := storage.NewStorage(ctx, &storage.Config{Path: filepath.Join(t.TempDir(), "patterns.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	added, err := storage.Seed(ctx, store)
	require.NoError(t, err)
	require.Equal(t, 6, added)
	return newTestMatcher(t, store)
}

func TestAnalyzeWithBuiltinPatterns(t *testing.T) {
	m := seededMatcher(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		path     string
		content  string
		category types.IssueCategory
		line     int
		severity types.Severity
	}{
		{
			name:     "eval call",
			path:     "src/a.js",
			content:  "const x = eval(userInput);\n",
			category: types.CategoryDynamicEval,
			line:     1,
			severity: types.SeverityCritical,
		},
		{
			name:     "markup sink",
			path:     "src/view.ts",
			content:  "function render(el) {\n  el.innerHTML = userHtml;\n}\n",
			category: types.CategoryMarkupInjection,
			line:     2,
			severity: types.SeverityHigh,
		},
		{
			name:     "python nested loop",
			path:     "tools/pairs.py",
			content:  "for a in xs:\n    for b in ys:\n        print(a, b)\n",
			category: types.CategoryQuadraticLoop,
			line:     2,
			severity: types.SeverityMedium,
		},
		{
			name: "unawaited async call",
			path: "src/load.js",
			content: "async function fetchData() {\n  return 1;\n}\n" +
				"function run() {\n  const data = fetchData();\n  console.log(data);\n}\n",
			category: types.CategoryMissingAsyncWait,
			line:     5,
			severity: types.SeverityHigh,
		},
		{
			name:     "sql concatenation",
			path:     "src/repo.js",
			content:  "const q = \"SELECT * FROM users WHERE id = \" + id;\n",
			category: types.CategoryInjectionRisk,
			line:     1,
			severity: types.SeverityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := m.Analyze(ctx, tt.content, tt.path)
			require.True(t, result.Matched)

			var found *types.Finding
			for i := range result.Findings {
				if result.Findings[i].Category == tt.category {
					found = &result.Findings[i]
				}
			}
			if found == nil {
				t.Fatalf("expected %s finding, got %+v", tt.category, result.Findings)
			}
			assert.Equal(t, tt.line, found.Line)
			assert.Equal(t, tt.severity, found.Severity)
			assert.Equal(t, types.SourcePattern, found.Source)
			assert.NotZero(t, found.PatternID)
			assert.NotEmpty(t, found.FixStrategy)
			assert.NotEmpty(t, found.Suggestion)
			assert.InDelta(t, 0.5, found.Confidence, 1e-9)
		})
	}
}

func TestAnalyzeCleanFile(t *testing.T) {
	m := seededMatcher(t)
	result := m.Analyze(context.Background(), "const total = a + b;\nconsole.log(total);\n", "src/sum.js")
	assert.False(t, result.Matched)
	assert.Empty(t, result.Findings)
	assert.Equal(t, 6, result.PatternsChecked)
}

func TestAnalyzeDedupesSameCategoryAndLine(t *testing.T) {
	src := &fakeSource{patterns: []*types.Pattern{
		{ID: 1, Category: types.CategoryDynamicEval, Severity: types.SeverityHigh, Snippet: "eval(a)", Confidence: 0.9, Extension: ".js"},
		{ID: 2, Category: types.CategoryDynamicEval, Severity: types.SeverityCritical, Snippet: "eval(b)", Confidence: 0.6, Extension: ".js"},
	}}
	m := newTestMatcher(t, src)

	result := m.Analyze(context.Background(), "eval(code)\n", "x.js")
	require.Len(t, result.Findings, 1)
	assert.Equal(t, int64(1), result.Findings[0].PatternID)
	assert.InDelta(t, 0.9, result.Findings[0].Confidence, 1e-9)
}

func TestAnalyzeScopesByExtension(t *testing.T) {
	src := &fakeSource{patterns: []*types.Pattern{
		{ID: 1, Category: types.CategoryDynamicEval, Snippet: "eval(a)", Confidence: 0.8, Extension: ".py"},
	}}
	m := newTestMatcher(t, src)

	assert.False(t, m.Analyze(context.Background(), "eval(code)\n", "x.js").Matched)
	assert.True(t, m.Analyze(context.Background(), "eval(code)\n", "x.py").Matched)
}

func TestAnalyzeGenericSimilarity(t *testing.T) {
	src := &fakeSource{patterns: []*types.Pattern{
		{ID: 7, Category: types.CategoryGeneric, Snippet: "if (retries > 3) { throw new Error('boom') }", Confidence: 0.7},
	}}
	m := newTestMatcher(t, src)

	content := "let retries = 0;\nif (retries > 4) { throw new Error('boom') }\n"
	result := m.Analyze(context.Background(), content, "retry.js")
	require.Len(t, result.Findings, 1)
	f := result.Findings[0]
	assert.Equal(t, 2, f.Line)
	assert.Equal(t, types.CategoryGeneric, f.Category)
	assert.Greater(t, f.Metadata["similarity"].(float64), 0.9)

	result = m.Analyze(context.Background(), "totally unrelated\n", "other.js")
	assert.False(t, result.Matched)
}

func TestRefreshRespectsInterval(t *testing.T) {
	src := &fakeSource{patterns: []*types.Pattern{
		{ID: 1, Category: types.CategoryDynamicEval, Snippet: "eval(a)", Confidence: 0.8},
	}}
	m := newTestMatcher(t, src)
	clock := time.Now()
	m.now = func() time.Time { return clock }

	ctx := context.Background()
	m.Analyze(ctx, "eval(x)", "a.js")
	m.Analyze(ctx, "eval(x)", "a.js")
	assert.Equal(t, 1, src.callCount())

	clock = clock.Add(2 * time.Minute)
	m.Analyze(ctx, "eval(x)", "a.js")
	assert.Equal(t, 2, src.callCount())

	m.Invalidate()
	m.Analyze(ctx, "eval(x)", "a.js")
	assert.Equal(t, 3, src.callCount())
}

func TestRefreshFailureKeepsStaleIndex(t *testing.T) {
	src := &fakeSource{patterns: []*types.Pattern{
		{ID: 1, Category: types.CategoryDynamicEval, Snippet: "eval(a)", Confidence: 0.8},
	}}
	m := newTestMatcher(t, src)
	ctx := context.Background()
	require.True(t, m.Analyze(ctx, "eval(x)", "a.js").Matched)

	src.mu.Lock()
	src.err = errors.New("database is locked")
	src.mu.Unlock()
	m.Invalidate()

	assert.True(t, m.Analyze(ctx, "eval(x)", "a.js").Matched)
	assert.Equal(t, int64(2), m.Stats().Matches)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.SimilarityThreshold = 1
	_, err = New(&fakeSource{}, cfg)
	assert.Error(t, err)
}

func TestAverageConfidenceAndSeverity(t *testing.T) {
	assert.Zero(t, AverageConfidence(nil))
	assert.Equal(t, types.Severity(""), HighestSeverity(nil))

	findings := []types.Finding{
		{Confidence: 0.5, Severity: types.SeverityLow},
		{Confidence: 0.9, Severity: types.SeverityCritical},
		{Confidence: 0.7, Severity: types.SeverityMedium},
	}
	assert.InDelta(t, 0.7, AverageConfidence(findings), 1e-9)
	assert.Equal(t, types.SeverityCritical, HighestSeverity(findings))
}

func TestHeuristics(t *testing.T) {
	tests := []struct {
		name     string
		category types.IssueCategory
		path     string
		content  string
		want     bool
	}{
		{"eval in comment ignored", types.CategoryDynamicEval, "a.js", "// eval(x)\n", false},
		{"evaluate is not eval", types.CategoryDynamicEval, "a.js", "evaluate(x)\n", false},
		{"innerHTML comparison ignored", types.CategoryMarkupInjection, "a.js", "if (el.innerHTML == '') {}\n", false},
		{"document.write", types.CategoryMarkupInjection, "a.html", "document.write(x)\n", true},
		{"single loop", types.CategoryQuadraticLoop, "a.js", "for (let i = 0; i < n; i++) {\n  sum += i;\n}\n", false},
		{"sibling loops", types.CategoryQuadraticLoop, "a.js", "for (const a of x) {\n}\nfor (const b of y) {\n}\n", false},
		{"nested forEach", types.CategoryQuadraticLoop, "a.js", "items.forEach(a => {\n  others.forEach(b => use(a, b));\n});\n", true},
		{"go nested range", types.CategoryQuadraticLoop, "a.go", "for _, a := range xs {\n\tfor _, b := range ys {\n\t}\n}\n", true},
		{"guarded chain", types.CategoryNullDereference, "a.js", "const n = user?.profile?.name;\n", false},
		{"unguarded chain", types.CategoryNullDereference, "a.js", "const n = user.profile.name;\n", true},
		{"chain in string", types.CategoryNullDereference, "a.js", "const s = 'a.b.c';\n", false},
		{"safe prefix", types.CategoryNullDereference, "a.js", "const v = process.env.PORT;\n", false},
		{"null deref wrong language", types.CategoryNullDereference, "a.py", "x = user.profile.name\n", false},
		{"chain assigned to", types.CategoryNullDereference, "a.js", "user.profile.name = \"x\";\n", false},
		{"chain compound assigned", types.CategoryNullDereference, "a.js", "stats.totals.count += 1;\n", false},
		{"chain incremented", types.CategoryNullDereference, "a.js", "stats.totals.count++;\n", false},
		{"chain compared", types.CategoryNullDereference, "a.js", "const same = user.profile.name == other;\n", true},
		{"awaited later", types.CategoryMissingAsyncWait, "a.js",
			"async function load() {}\nfunction run() {\n  const p = load();\n  doOther();\n  return await p;\n}\n", false},
		{"returned promise", types.CategoryMissingAsyncWait, "a.js",
			"const load = async () => 1;\nfunction run() {\n  return load();\n}\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := detect(tt.category, splitLines(tt.content), tt.path)
			if got != tt.want {
				t.Errorf("detect(%s, %q) = %v, want %v", tt.category, tt.content, got, tt.want)
			}
		})
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("abc", "abc"))
	assert.Equal(t, 1.0, similarity("", ""))
	assert.InDelta(t, 0.75, similarity("abcd", "abcx"), 1e-9)
	assert.Zero(t, similarity("abc", "xyz"))
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return append(lines, s[start:])
}
