package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func startWatcher(t *testing.T, root string) (*Watcher, int) {
	t.Helper()
	w, err := New(Config{
		Root:        root,
		WatchGlobs:  []string{"**/*.js", "**/*.py"},
		IgnoreGlobs: []string{"**/node_modules/**", "**/*.min.js"},
		Debounce:    100 * time.Millisecond,
	})
	require.NoError(t, err)
	n, err := w.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	return w, n
}

func nextEvent(t *testing.T, w *Watcher) ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-w.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
	return ChangeEvent{}
}

func expectQuiet(t *testing.T, w *Watcher, d time.Duration) {
	t.Helper()
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event: %s %s", ev.Kind, ev.Path)
	case <-time.After(d):
	}
}

func lines(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("const x = 1;\n")
	}
	return b.String()
}

func TestStartIndexesExistingFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.js"), lines(3))
	writeFile(t, filepath.Join(root, "notes.txt"), "hello")
	writeFile(t, filepath.Join(root, "node_modules", "lib.js"), lines(1))
	writeFile(t, filepath.Join(root, "dist", "app.min.js"), lines(1))

	w, n := startWatcher(t, root)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, w.Stats().FilesWatched)

	info, ok := w.Tracked("a.js")
	require.True(t, ok)
	assert.Equal(t, 3, info.Lines)
	assert.Equal(t, "javascript", info.Type)
}

func TestChangeAgainstIndexedEntry(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.js")
	writeFile(t, path, lines(3))
	w, _ := startWatcher(t, root)

	writeFile(t, path, lines(70))
	ev := nextEvent(t, w)

	assert.Equal(t, KindChanged, ev.Kind)
	assert.Equal(t, "a.js", ev.Path)
	require.NotNil(t, ev.Previous)
	assert.Equal(t, 3, ev.Previous.Lines)
	assert.Equal(t, 70, ev.Info.Lines)
	assert.Equal(t, MagnitudeMajor, ev.Magnitude)
	assert.True(t, ev.Escalate)
	assert.Equal(t, PriorityHigh, ev.Priority)
	assert.Equal(t, lines(70), ev.Content)
}

func TestDebounceCoalescesWrites(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.js")
	writeFile(t, path, lines(1))
	w, _ := startWatcher(t, root)

	for i := 2; i <= 6; i++ {
		writeFile(t, path, lines(i))
		time.Sleep(10 * time.Millisecond)
	}

	ev := nextEvent(t, w)
	assert.Equal(t, 6, ev.Info.Lines)
	expectQuiet(t, w, 300*time.Millisecond)
	assert.Equal(t, int64(1), w.Stats().Changes)
}

func TestIndependentPathsDebounceSeparately(t *testing.T) {
	root := t.TempDir()
	w, _ := startWatcher(t, root)

	writeFile(t, filepath.Join(root, "a.js"), lines(1))
	writeFile(t, filepath.Join(root, "b.py"), "x = 1\n")

	seen := map[string]bool{}
	seen[nextEvent(t, w).Path] = true
	seen[nextEvent(t, w).Path] = true
	assert.Equal(t, map[string]bool{"a.js": true, "b.py": true}, seen)
}

func TestNewDirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	w, _ := startWatcher(t, root)

	writeFile(t, filepath.Join(root, "src", "deep", "b.js"), lines(2))
	ev := nextEvent(t, w)
	assert.Equal(t, "src/deep/b.js", ev.Path)
	assert.Equal(t, MagnitudeInitial, ev.Magnitude)
	assert.Nil(t, ev.Previous)
}

func TestIgnoredAndUnmatchedPathsAreSilent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0755))
	w, _ := startWatcher(t, root)

	writeFile(t, filepath.Join(root, "node_modules", "x.js"), lines(1))
	writeFile(t, filepath.Join(root, "README.txt"), "docs")
	writeFile(t, filepath.Join(root, "bundle.min.js"), lines(1))
	expectQuiet(t, w, 400*time.Millisecond)
}

func TestRemoveEmitsDeleted(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gone.js")
	writeFile(t, path, lines(4))
	w, _ := startWatcher(t, root)

	require.NoError(t, os.Remove(path))
	ev := nextEvent(t, w)
	assert.Equal(t, KindDeleted, ev.Kind)
	assert.Equal(t, "gone.js", ev.Path)
	require.NotNil(t, ev.Previous)
	assert.Equal(t, 4, ev.Previous.Lines)

	_, ok := w.Tracked("gone.js")
	assert.False(t, ok)
	assert.Equal(t, int64(1), w.Stats().Deletes)
}

func TestStopClosesEvents(t *testing.T) {
	root := t.TempDir()
	w, err := New(Config{Root: root, Debounce: time.Hour})
	require.NoError(t, err)
	_, err = w.Start(context.Background())
	require.NoError(t, err)

	writeFile(t, filepath.Join(root, "pending.js"), "x")
	time.Sleep(50 * time.Millisecond)

	w.Stop()
	w.Stop()
	for range w.Events() {
	}

	_, err = w.Start(context.Background())
	assert.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Root: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	_, err = New(Config{Root: t.TempDir(), WatchGlobs: []string{"[unclosed"}})
	assert.Error(t, err)
}

func TestInspect(t *testing.T) {
	info := Inspect("src/util.js", 20, "function a() {\n  debugger;\n}\n")
	assert.Equal(t, "javascript", info.Type)
	assert.Equal(t, ".js", info.Extension)
	assert.Equal(t, 3, info.Lines)
	assert.True(t, info.HasSmell)
	assert.Equal(t, ComplexityLow, info.Complexity)

	info = Inspect("README.md", 10, "// TODO write docs\n")
	assert.False(t, info.HasSmell, "smells only apply to code")

	info = Inspect("src/__tests__/cart.js", 0, "")
	assert.Equal(t, TypeTest, info.Type)
	assert.True(t, info.IsEmpty)
	assert.Zero(t, info.Lines)

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("if (a) { b(); }\n")
	}
	assert.Equal(t, ComplexityHigh, Inspect("x.js", 1, b.String()).Complexity)
	for i := 0; i < 20; i++ {
		b.WriteString("if (a) { b(); }\n")
	}
	assert.Equal(t, ComplexityVeryHigh, Inspect("x.js", 1, b.String()).Complexity)
}

func TestMagnitudeOf(t *testing.T) {
	prev := &FileInfo{Lines: 100, Size: 1000}
	tests := []struct {
		name string
		prev *FileInfo
		cur  FileInfo
		want Magnitude
	}{
		{"untracked", nil, FileInfo{Lines: 5}, MagnitudeInitial},
		{"major growth", prev, FileInfo{Lines: 151, Size: 2000}, MagnitudeMajor},
		{"major shrink", prev, FileInfo{Lines: 49, Size: 500}, MagnitudeMajor},
		{"moderate", prev, FileInfo{Lines: 111, Size: 1100}, MagnitudeModerate},
		{"formatting", prev, FileInfo{Lines: 101, Size: 1000}, MagnitudeFormatting},
		{"minor", prev, FileInfo{Lines: 102, Size: 1010}, MagnitudeMinor},
	}
	for _, tt := range tests {
		if got := MagnitudeOf(tt.prev, tt.cur); got != tt.want {
			t.Errorf("%s: MagnitudeOf = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestPriorityAndEscalation(t *testing.T) {
	tests := []struct {
		name     string
		info     FileInfo
		mag      Magnitude
		priority Priority
		escalate bool
	}{
		{"quiet minor edit", FileInfo{Complexity: ComplexityLow}, MagnitudeMinor, PriorityLow, false},
		{"major edit", FileInfo{Complexity: ComplexityLow}, MagnitudeMajor, PriorityHigh, true},
		{"moderate edit", FileInfo{Complexity: ComplexityMedium}, MagnitudeModerate, PriorityMedium, false},
		{"smell", FileInfo{HasSmell: true}, MagnitudeMinor, PriorityHigh, true},
		{"smell and major", FileInfo{HasSmell: true}, MagnitudeMajor, PriorityCritical, true},
		{"test file", FileInfo{Type: TypeTest}, MagnitudeModerate, PriorityHigh, true},
		{"high complexity", FileInfo{Complexity: ComplexityHigh}, MagnitudeMinor, PriorityMedium, true},
		{"very high complexity", FileInfo{Complexity: ComplexityVeryHigh}, MagnitudeModerate, PriorityHigh, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.priority, PriorityOf(tt.info, tt.mag))
			assert.Equal(t, tt.escalate, ShouldEscalate(tt.info, tt.mag))
		})
	}
	assert.Greater(t, PriorityCritical.Rank(), PriorityHigh.Rank())
	assert.Greater(t, PriorityMedium.Rank(), PriorityLow.Rank())
}

func TestFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "app.js"), "x\n")
	writeFile(t, filepath.Join(root, "src", "util.py"), "y\n")
	writeFile(t, filepath.Join(root, "src", "big.js"), strings.Repeat("z", 2048))
	writeFile(t, filepath.Join(root, "dist", "app.min.js"), "x\n")
	writeFile(t, filepath.Join(root, "node_modules", "lib", "index.js"), "x\n")
	writeFile(t, filepath.Join(root, "README.md"), "# readme\n")

	files, err := Files(Config{
		Root:        root,
		WatchGlobs:  []string{"**/*.js", "**/*.py"},
		IgnoreGlobs: []string{"**/node_modules/**", "**/*.min.js"},
		MaxFileSize: 1024,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"app.js", "src/util.py"}, files)

	_, err = Files(Config{Root: root, WatchGlobs: []string{"[bad"}})
	assert.Error(t, err)
}
