// Package watcher turns filesystem activity under a root directory into
// debounced, classified change events.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/logging"
)

// EventKind distinguishes content changes from removals.
type EventKind string

const (
	KindChanged EventKind = "changed"
	KindDeleted EventKind = "deleted"
)

// ChangeEvent is emitted once per settled change to a watched file.
type ChangeEvent struct {
	Kind      EventKind `json:"kind"`
	Path      string    `json:"path"`
	FullPath  string    `json:"full_path"`
	Info      FileInfo  `json:"info"`
	Previous  *FileInfo `json:"previous,omitempty"`
	Magnitude Magnitude `json:"magnitude,omitempty"`
	Escalate  bool      `json:"escalate"`
	Priority  Priority  `json:"priority,omitempty"`
	Content   string    `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds watcher configuration.
type Config struct {
	Root        string
	WatchGlobs  []string
	IgnoreGlobs []string
	Debounce    time.Duration
	// MaxFileSize skips files larger than this many bytes (0 = no limit)
	MaxFileSize int64
	// BufferSize is the capacity of the Events channel
	BufferSize int
	Logger     *zap.Logger
}

// Stats are cumulative watcher counters.
type Stats struct {
	FilesWatched int       `json:"files_watched"`
	Changes      int64     `json:"changes"`
	Deletes      int64     `json:"deletes"`
	Escalated    int64     `json:"escalated"`
	Skipped      int64     `json:"skipped"`
	Errors       int64     `json:"errors"`
	LastEvent    time.Time `json:"last_event,omitempty"`
	LastPath     string    `json:"last_path,omitempty"`
}

type pending struct {
	timer *time.Timer
	gen   uint64
}

// Watcher watches a directory tree and emits ChangeEvents.
type Watcher struct {
	cfg     Config
	root    string
	log     *zap.Logger
	filter  filter
	fsw     *fsnotify.Watcher
	events  chan ChangeEvent

	mu      sync.Mutex
	tracked map[string]FileInfo
	timers  map[string]*pending
	gen     uint64
	stats   Stats
	running bool
	stopped bool

	inFlight sync.WaitGroup

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a watcher. Globs are validated here so a bad pattern fails
// before anything is watched.
func New(cfg Config) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	if fi, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("root directory: %w", err)
	} else if !fi.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if len(cfg.WatchGlobs) == 0 {
		cfg.WatchGlobs = []string{"**"}
	}

	flt, err := newFilter(cfg.WatchGlobs, cfg.IgnoreGlobs)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		cfg:     cfg,
		root:    root,
		log:     logging.OrNop(cfg.Logger),
		filter:  flt,
		fsw:     fsw,
		events:  make(chan ChangeEvent, cfg.BufferSize),
		tracked: make(map[string]FileInfo),
		timers:  make(map[string]*pending),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Root returns the absolute watch root.
func (w *Watcher) Root() string {
	return w.root
}

// Events returns the change stream. It is closed by Stop.
func (w *Watcher) Events() <-chan ChangeEvent {
	return w.events
}

// Start indexes existing files, registers every non-ignored directory and
// begins delivering events. It returns the number of files indexed.
func (w *Watcher) Start(ctx context.Context) (int, error) {
	w.mu.Lock()
	if w.running || w.stopped {
		w.mu.Unlock()
		return 0, fmt.Errorf("watcher already started")
	}
	w.running = true
	w.mu.Unlock()

	indexed, err := w.addTree(w.root, false)
	if err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return 0, err
	}

	w.log.Info("watching directory", zap.String("root", w.root), zap.Int("files", indexed))
	go w.run(ctx)
	return indexed, nil
}

// Stop ends the event loop, cancels pending debounce timers and closes the
// Events channel. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	wasRunning := w.running
	w.stopped = true
	w.running = false
	for path, p := range w.timers {
		p.timer.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	close(w.stopCh)
	if wasRunning {
		<-w.doneCh
	}
	w.inFlight.Wait()

	if err := w.fsw.Close(); err != nil {
		w.log.Warn("error closing fsnotify watcher", zap.Error(err))
	}
	close(w.events)
	w.log.Debug("watcher stopped")
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.FilesWatched = len(w.tracked)
	return s
}

// Tracked returns the current tracking entry for a relative path.
func (w *Watcher) Tracked(rel string) (FileInfo, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	info, ok := w.tracked[filepath.ToSlash(rel)]
	return info, ok
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("fsnotify error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, ok := w.rel(ev.Name)
	if !ok {
		return
	}

	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.forget(rel, ev.Name)

	case ev.Op&fsnotify.Create != 0:
		fi, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if fi.IsDir() {
			if w.ignored(rel, true) {
				return
			}
			// files may land in a new directory before it is watched
			if _, err := w.addTree(ev.Name, true); err != nil {
				w.log.Warn("failed to watch new directory", zap.String("path", rel), zap.Error(err))
			}
			return
		}
		if w.matches(rel) {
			w.schedule(rel, ev.Name)
		}

	case ev.Op&fsnotify.Write != 0:
		if w.matches(rel) {
			w.schedule(rel, ev.Name)
		}
	}
}

// addTree registers dir and all non-ignored subdirectories. Matching files
// are indexed, or scheduled for processing when the tree is new.
func (w *Watcher) addTree(dir string, schedule bool) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			w.log.Debug("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		rel, ok := w.rel(path)
		if !ok {
			return nil
		}
		if d.IsDir() {
			if rel != "" && w.ignored(rel, true) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("watching %s: %w", path, err)
			}
			return nil
		}
		if !w.matches(rel) {
			return nil
		}
		if schedule {
			w.schedule(rel, path)
			return nil
		}
		if info, _, ok := w.inspect(rel, path); ok {
			w.mu.Lock()
			w.tracked[rel] = info
			w.mu.Unlock()
			count++
		}
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("walking %s: %w", dir, err)
	}
	return count, nil
}

func (w *Watcher) rel(path string) (string, bool) {
	r, err := filepath.Rel(w.root, path)
	if err != nil || r == ".." || (len(r) > 2 && r[:3] == ".."+string(filepath.Separator)) {
		return "", false
	}
	if r == "." {
		return "", true
	}
	return filepath.ToSlash(r), true
}

func (w *Watcher) ignored(rel string, isDir bool) bool {
	return w.filter.ignored(rel, isDir)
}

func (w *Watcher) matches(rel string) bool {
	return w.filter.matches(rel)
}

// schedule (re)arms the path's debounce timer. A timer that already fired
// carries an old generation and is ignored.
func (w *Watcher) schedule(rel, full string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if p, ok := w.timers[rel]; ok {
		p.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.timers[rel] = &pending{
		gen:   gen,
		timer: time.AfterFunc(w.cfg.Debounce, func() { w.fire(rel, full, gen) }),
	}
}

func (w *Watcher) fire(rel, full string, gen uint64) {
	w.mu.Lock()
	p, ok := w.timers[rel]
	if w.stopped || !ok || p.gen != gen {
		w.mu.Unlock()
		return
	}
	delete(w.timers, rel)
	w.inFlight.Add(1)
	w.mu.Unlock()
	defer w.inFlight.Done()

	w.process(rel, full)
}

func (w *Watcher) process(rel, full string) {
	info, content, ok := w.inspect(rel, full)
	if !ok {
		return
	}

	w.mu.Lock()
	var prev *FileInfo
	if old, ok := w.tracked[rel]; ok {
		prev = &old
	}
	w.tracked[rel] = info
	w.mu.Unlock()

	mag := MagnitudeOf(prev, info)
	ev := ChangeEvent{
		Kind:      KindChanged,
		Path:      rel,
		FullPath:  full,
		Info:      info,
		Previous:  prev,
		Magnitude: mag,
		Escalate:  ShouldEscalate(info, mag),
		Priority:  PriorityOf(info, mag),
		Content:   content,
		Timestamp: time.Now(),
	}

	w.mu.Lock()
	w.stats.Changes++
	if ev.Escalate {
		w.stats.Escalated++
	}
	w.stats.LastEvent = ev.Timestamp
	w.stats.LastPath = rel
	w.mu.Unlock()

	w.log.Debug("file changed",
		zap.String("path", rel),
		zap.String("magnitude", string(mag)),
		zap.String("priority", string(ev.Priority)),
		zap.Bool("escalate", ev.Escalate))
	w.emit(ev)
}

// inspect stats and reads a file into a tracking entry. Files that vanished,
// are too large or cannot be read report false.
func (w *Watcher) inspect(rel, full string) (FileInfo, string, bool) {
	fi, err := os.Stat(full)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.countError(rel, err)
		}
		return FileInfo{}, "", false
	}
	if fi.IsDir() {
		return FileInfo{}, "", false
	}
	if w.cfg.MaxFileSize > 0 && fi.Size() > w.cfg.MaxFileSize {
		w.log.Debug("skipping large file", zap.String("path", rel), zap.Int64("size", fi.Size()))
		w.mu.Lock()
		w.stats.Skipped++
		w.mu.Unlock()
		return FileInfo{}, "", false
	}
	data, err := os.ReadFile(full)
	if err != nil {
		w.countError(rel, err)
		return FileInfo{}, "", false
	}
	content := string(data)
	return Inspect(rel, int64(len(data)), content), content, true
}

func (w *Watcher) forget(rel, full string) {
	w.mu.Lock()
	p, hadTimer := w.timers[rel]
	if hadTimer {
		p.timer.Stop()
		delete(w.timers, rel)
	}
	old, wasTracked := w.tracked[rel]
	delete(w.tracked, rel)
	if wasTracked || hadTimer {
		w.stats.Deletes++
		w.stats.LastEvent = time.Now()
		w.stats.LastPath = rel
	}
	w.mu.Unlock()

	if !wasTracked && !hadTimer {
		return
	}
	ev := ChangeEvent{
		Kind:      KindDeleted,
		Path:      rel,
		FullPath:  full,
		Timestamp: time.Now(),
	}
	if wasTracked {
		ev.Previous = &old
	}
	w.log.Debug("file removed", zap.String("path", rel))
	w.emit(ev)
}

func (w *Watcher) emit(ev ChangeEvent) {
	select {
	case w.events <- ev:
	case <-w.stopCh:
	}
}

func (w *Watcher) countError(rel string, err error) {
	w.log.Warn("failed to process file", zap.String("path", rel), zap.Error(err))
	w.mu.Lock()
	w.stats.Errors++
	w.mu.Unlock()
}
