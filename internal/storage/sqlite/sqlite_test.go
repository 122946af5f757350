package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/vigil/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "patterns.db"), DefaultTuning())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func learnEval(t *testing.T, store *SQLiteStore, snippet string) *types.LearnResult {
	t.Helper()
	res, err := store.Learn(context.Background(), types.LearnRequest{
		Snippet:   snippet,
		Category:  types.CategoryDynamicEval,
		Severity:  types.SeverityCritical,
		Extension: ".js",
	})
	require.NoError(t, err)
	return res
}

func TestLearnSeedsAndReinforces(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := learnEval(t, store, "eval(userInput)")
	assert.True(t, first.IsNew)

	p, err := store.GetPattern(ctx, first.PatternID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p.Confidence, 1e-9)
	assert.Equal(t, 1, p.DetectionCount)
	assert.Equal(t, 0, p.FixCount)
	assert.Equal(t, types.CategoryDynamicEval, p.Category)

	// whitespace and comments normalize to the same hash
	second := learnEval(t, store, "eval(  userInput ) // again")
	assert.False(t, second.IsNew)
	assert.Equal(t, first.PatternID, second.PatternID)

	p, err = store.GetPattern(ctx, first.PatternID)
	require.NoError(t, err)
	assert.InDelta(t, 0.55, p.Confidence, 1e-9)
	assert.Equal(t, 2, p.DetectionCount)
}

func TestLearnConfidenceIsCapped(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var id int64
	for i := 0; i < 25; i++ {
		id = learnEval(t, store, "eval(x)").PatternID
	}
	p, err := store.GetPattern(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, p.Confidence, 1e-9)
	assert.Equal(t, 25, p.DetectionCount)
}

func TestLearnRejectsEmptySnippet(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Learn(context.Background(), types.LearnRequest{Snippet: " // only a comment "})
	assert.Error(t, err)
}

func TestLearnConcurrentSameHash(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Learn(ctx, types.LearnRequest{Snippet: "eval(race)", Category: types.CategoryDynamicEval})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	p, err := store.GetPatternByHash(ctx, types.PatternHash("eval(race)", types.CategoryDynamicEval))
	require.NoError(t, err)
	assert.Equal(t, workers, p.DetectionCount)
}

func TestRecordFixOutcome(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := learnEval(t, store, "eval(data)").PatternID

	t.Run("success updates pattern", func(t *testing.T) {
		_, err := store.RecordFixOutcome(ctx, types.FixOutcome{
			PatternID: &id, FilePath: "a.js", Before: "eval(data)", After: "JSON.parse(data)", Success: true,
		})
		require.NoError(t, err)

		p, err := store.GetPattern(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, p.FixCount)
		assert.InDelta(t, 1.0, p.SuccessRate, 1e-9)
		assert.InDelta(t, 0.6, p.Confidence, 1e-9)
	})

	t.Run("failure only logs", func(t *testing.T) {
		_, err := store.RecordFixOutcome(ctx, types.FixOutcome{PatternID: &id, FilePath: "a.js", Success: false})
		require.NoError(t, err)

		p, err := store.GetPattern(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, p.FixCount)
		assert.InDelta(t, 0.6, p.Confidence, 1e-9)
	})

	t.Run("ungrounded fix is logged without pattern", func(t *testing.T) {
		_, err := store.RecordFixOutcome(ctx, types.FixOutcome{FilePath: "b.js", Success: true})
		require.NoError(t, err)

		fixes, err := store.ListFixes(ctx, 10)
		require.NoError(t, err)
		require.Len(t, fixes, 3)
		assert.Nil(t, fixes[0].PatternID)
		require.NotNil(t, fixes[2].PatternID)
		assert.Equal(t, id, *fixes[2].PatternID)
	})

	t.Run("unknown pattern", func(t *testing.T) {
		missing := int64(9999)
		_, err := store.RecordFixOutcome(ctx, types.FixOutcome{PatternID: &missing, Success: true})
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestSuccessRateTracksDetections(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := learnEval(t, store, "eval(a)").PatternID

	_, err := store.RecordDetection(ctx, id, "x.js", 3)
	require.NoError(t, err)
	_, err = store.RecordFixOutcome(ctx, types.FixOutcome{PatternID: &id, Success: true})
	require.NoError(t, err)

	p, err := store.GetPattern(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, p.DetectionCount)
	assert.InDelta(t, 0.5, p.SuccessRate, 1e-9)
}

func TestDetections(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := learnEval(t, store, "eval(b)").PatternID

	d1, err := store.RecordDetection(ctx, id, "src/a.js", 4)
	require.NoError(t, err)
	_, err = store.RecordDetection(ctx, id, "src/b.js", 9)
	require.NoError(t, err)

	p, err := store.GetPattern(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, p.DetectionCount)
	assert.InDelta(t, 0.6, p.Confidence, 1e-9)

	require.NoError(t, store.MarkDetectionFixed(ctx, d1, true))

	unfixed, err := store.ListDetections(ctx, types.DetectionFilter{Unfixed: true})
	require.NoError(t, err)
	require.Len(t, unfixed, 1)
	assert.Equal(t, "src/b.js", unfixed[0].FilePath)

	byFile, err := store.ListDetections(ctx, types.DetectionFilter{FilePath: "src/a.js"})
	require.NoError(t, err)
	require.Len(t, byFile, 1)
	require.NotNil(t, byFile[0].FixSuccessful)
	assert.True(t, *byFile[0].FixSuccessful)

	_, err = store.RecordDetection(ctx, 4242, "x.js", 1)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(store.MarkDetectionFixed(ctx, 4242, true), ErrNotFound))
}

func TestFindCandidates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	low := learnEval(t, store, "eval(low)").PatternID
	high := learnEval(t, store, "eval(high)").PatternID
	learnEval(t, store, "eval(high)")
	_, err := store.Learn(ctx, types.LearnRequest{Snippet: "x = y", Category: types.CategoryGeneric, Extension: ".py"})
	require.NoError(t, err)
	anyExt, err := store.Learn(ctx, types.LearnRequest{Snippet: "el.innerHTML = v", Category: types.CategoryMarkupInjection})
	require.NoError(t, err)

	candidates, err := store.FindCandidates(ctx, ".JS", 0.5)
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	assert.Equal(t, high, candidates[0].ID, "highest confidence first")

	ids := []int64{candidates[1].ID, candidates[2].ID}
	assert.Contains(t, ids, low)
	assert.Contains(t, ids, anyExt.PatternID)

	strict, err := store.FindCandidates(ctx, ".js", 0.52)
	require.NoError(t, err)
	require.Len(t, strict, 1)

	all, err := store.ListCandidates(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestAnalytics(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id := learnEval(t, store, "eval(1)").PatternID
	learnEval(t, store, "eval(1)")
	learnEval(t, store, "eval(2)")
	_, err := store.Learn(ctx, types.LearnRequest{Snippet: "a.b.c", Category: types.CategoryNullDereference})
	require.NoError(t, err)

	_, err = store.RecordFixOutcome(ctx, types.FixOutcome{PatternID: &id, Success: true})
	require.NoError(t, err)
	_, err = store.RecordFixOutcome(ctx, types.FixOutcome{PatternID: &id, Success: false})
	require.NoError(t, err)

	a, err := store.Analytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, a.TotalPatterns)
	assert.Equal(t, 4, a.TotalDetections)
	require.Len(t, a.ByCategory, 2)
	assert.Equal(t, types.CategoryDynamicEval, a.ByCategory[0].Category)
	assert.Equal(t, 2, a.ByCategory[0].Count)
	require.NotEmpty(t, a.TopPatterns)
	assert.Equal(t, id, a.TopPatterns[0].ID)
	assert.Equal(t, 2, a.Fixes.Total)
	assert.Equal(t, 1, a.Fixes.Successful)
	assert.InDelta(t, 50.0, a.Fixes.SuccessPercent, 1e-9)
}

func TestNewRejectsBadTuning(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "x.db"), Tuning{SeedConfidence: 2})
	assert.Error(t, err)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "patterns.db")

	store, err := New(path, DefaultTuning())
	require.NoError(t, err)
	res, err := store.Learn(ctx, types.LearnRequest{Snippet: "eval(z)", Category: types.CategoryDynamicEval})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = New(path, DefaultTuning())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	p, err := store.GetPattern(ctx, res.PatternID)
	require.NoError(t, err)
	assert.Equal(t, "eval(z)", p.Snippet)
}
