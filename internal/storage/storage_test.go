package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/vigil/internal/types"
)

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := NewStorage(ctx, &Config{Path: filepath.Join(t.TempDir(), "p.db")})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	added, err := Seed(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, len(builtinPatterns), added)

	added, err = Seed(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	a, err := store.Analytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(builtinPatterns), a.TotalPatterns)
	assert.Equal(t, len(builtinPatterns), a.TotalDetections, "reseeding must not inflate counts")

	// seeded patterns carry no extension, so any file sees them
	candidates, err := store.FindCandidates(ctx, ".tsx", 0.5)
	require.NoError(t, err)
	assert.Len(t, candidates, len(builtinPatterns))

	p, err := store.GetPatternByHash(ctx, types.PatternHash("eval(input)", types.CategoryDynamicEval))
	require.NoError(t, err)
	assert.Equal(t, true, p.Metadata["builtin"])
}

func TestNotFoundIsShared(t *testing.T) {
	ctx := context.Background()
	store, err := NewStorage(ctx, &Config{Path: filepath.Join(t.TempDir(), "p.db")})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, err = store.GetPattern(ctx, 1)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAgentLock(t *testing.T) {
	dir := t.TempDir()

	lockPath, err := AcquireAgentLock(dir, "/repo", "test")
	require.NoError(t, err)
	assert.FileExists(t, lockPath)

	lock, err := ReadAgentLock(lockPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), lock.PID)
	assert.Equal(t, "/repo", lock.RootPath)

	// our own PID is alive, so a second acquire must fail
	_, err = AcquireAgentLock(dir, "/repo", "test")
	assert.True(t, errors.Is(err, ErrLocked))

	require.NoError(t, ReleaseAgentLock(lockPath))
	assert.NoFileExists(t, lockPath)
	assert.NoError(t, ReleaseAgentLock(lockPath))
	assert.NoError(t, ReleaseAgentLock(""))
}

func TestAgentLockReplacesStale(t *testing.T) {
	dir := t.TempDir()
	hostname, err := os.Hostname()
	require.NoError(t, err)

	stale := `{"holder":"vigil-watch","pid":0,"hostname":"` + hostname + `"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, LockFileName), []byte(stale), 0644))

	lockPath, err := AcquireAgentLock(dir, "/repo", "test")
	require.NoError(t, err)
	defer func() { _ = ReleaseAgentLock(lockPath) }()

	lock, err := ReadAgentLock(lockPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), lock.PID)
}
