// Package fix applies single-line source transforms for findings and feeds
// successful fixes back into the pattern store.
package fix

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/storage"
	"github.com/steveyegge/vigil/internal/types"
)

// Config configures the fix engine.
type Config struct {
	// Root resolves relative file paths.
	Root string
	// DryRun computes fixes without writing. Options.DryRun can also force it per call.
	DryRun bool
	// Learn records successful fixes in the pattern store.
	Learn  bool
	Logger *zap.Logger
}

// DefaultConfig returns a config that writes fixes and learns from them.
func DefaultConfig() Config {
	return Config{Root: ".", Learn: true}
}

// Options are per-call overrides.
type Options struct {
	DryRun bool
}

// Result is the outcome of one ApplyFix call. A fix that does not apply is
// reported with Success=false and a Reason, never as an error.
type Result struct {
	Success    bool          `json:"success"`
	FilePath   string        `json:"file_path"`
	Strategy   Strategy      `json:"strategy"`
	Finding    types.Finding `json:"finding"`
	Changes    []Change      `json:"changes,omitempty"`
	NewContent string        `json:"-"`
	Diff       string        `json:"diff,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	DryRun     bool          `json:"dry_run"`
	PatternID  int64         `json:"pattern_id,omitempty"`
	AppliedAt  time.Time     `json:"applied_at"`
}

// Stats counts fix attempts.
type Stats struct {
	Attempts   int64              `json:"attempts"`
	Successful int64              `json:"successful"`
	Failed     int64              `json:"failed"`
	DryRuns    int64              `json:"dry_runs"`
	ByStrategy map[Strategy]int64 `json:"by_strategy"`
}

// Engine applies fixes. Fixes to the same file are serialized.
type Engine struct {
	cfg   Config
	store storage.Store
	log   *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// New creates an engine. store may be nil, in which case nothing is learned.
func New(cfg Config, store storage.Store) *Engine {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:   cfg,
		store: store,
		log:   log.Named("fix"),
		locks: make(map[string]*sync.Mutex),
		stats: Stats{ByStrategy: make(map[Strategy]int64)},
	}
}

func (e *Engine) lockFor(path string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, ok := e.locks[path]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[path] = mu
	}
	return mu
}

func (e *Engine) resolve(filePath string) string {
	if filepath.IsAbs(filePath) {
		return filepath.Clean(filePath)
	}
	return filepath.Join(e.cfg.Root, filePath)
}

// ApplyFix transforms the finding's line in filePath. The returned error is
// reserved for I/O failures; inapplicable fixes come back as Success=false.
func (e *Engine) ApplyFix(ctx context.Context, filePath string, finding types.Finding, opts Options) (*Result, error) {
	full := e.resolve(filePath)
	mu := e.lockFor(full)
	mu.Lock()
	defer mu.Unlock()

	dryRun := e.cfg.DryRun || opts.DryRun
	result := &Result{
		FilePath:  filePath,
		Finding:   finding,
		DryRun:    dryRun,
		PatternID: finding.PatternID,
		AppliedAt: time.Now(),
	}

	info, err := os.Stat(full)
	if err != nil {
		e.count(result)
		return nil, fmt.Errorf("failed to stat %s: %w", filePath, err)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		e.count(result)
		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	content := string(data)

	result.Strategy = SelectStrategy(finding)
	apply, ok := transforms[result.Strategy]
	if !ok {
		result.Reason = fmt.Sprintf("no fix strategy for %s finding", finding.Category)
		return e.fail(result), nil
	}

	lines := strings.Split(content, "\n")
	count := len(lines)
	if strings.HasSuffix(content, "\n") {
		count--
	}
	if finding.Line < 1 || finding.Line > count {
		result.Reason = fmt.Sprintf("line %d is out of range (file has %d lines)", finding.Line, count)
		return e.fail(result), nil
	}

	idx := finding.Line - 1
	original := lines[idx]
	ed := apply(original, finding, syntaxFor(filePath))
	if ed.reason != "" {
		result.Reason = ed.reason
		return e.fail(result), nil
	}
	if annotated(lines, idx, ed) {
		result.Reason = "line is already annotated"
		return e.fail(result), nil
	}

	updated := make([]string, 0, len(lines)+len(ed.replacement)-1)
	updated = append(updated, lines[:idx]...)
	updated = append(updated, ed.replacement...)
	updated = append(updated, lines[idx+1:]...)
	newContent := strings.Join(updated, "\n")

	result.Changes = []Change{{
		Line:        finding.Line,
		Old:         strings.TrimSpace(original),
		New:         strings.TrimSpace(strings.Join(ed.replacement, "\n")),
		Description: ed.description,
	}}
	result.NewContent = newContent
	result.Diff = unifiedDiff(filePath, content, newContent)

	if !dryRun {
		if err := writeAtomic(full, []byte(newContent), info.Mode().Perm()); err != nil {
			e.count(result)
			return nil, fmt.Errorf("failed to write %s: %w", filePath, err)
		}
	}
	result.Success = true
	e.count(result)

	e.log.Info("fix applied",
		zap.String("file", filePath),
		zap.Int("line", finding.Line),
		zap.String("strategy", string(result.Strategy)),
		zap.Bool("dry_run", dryRun))

	if !dryRun && e.cfg.Learn && e.store != nil {
		e.learn(ctx, result, original)
	}
	return result, nil
}

// annotated reports whether a comment-inserting edit would repeat the comment
// already above the line.
func annotated(lines []string, idx int, ed edit) bool {
	if idx == 0 || len(ed.replacement) != 2 || ed.replacement[1] != lines[idx] {
		return false
	}
	return strings.TrimSpace(lines[idx-1]) == strings.TrimSpace(ed.replacement[0])
}

func (e *Engine) fail(result *Result) *Result {
	e.log.Debug("fix not applicable",
		zap.String("file", result.FilePath),
		zap.Int("line", result.Finding.Line),
		zap.String("reason", result.Reason))
	e.count(result)
	return result
}

func (e *Engine) count(result *Result) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.Attempts++
	if !result.Success {
		e.stats.Failed++
		return
	}
	e.stats.Successful++
	e.stats.ByStrategy[result.Strategy]++
	if result.DryRun {
		e.stats.DryRuns++
	}
}

// learn closes the feedback loop. Failures are logged; the fix stands.
func (e *Engine) learn(ctx context.Context, result *Result, before string) {
	f := result.Finding
	ext := strings.ToLower(filepath.Ext(result.FilePath))

	patternID := f.PatternID
	if patternID == 0 {
		category := f.Category
		if !category.IsValid() {
			category = types.CategoryGeneric
		}
		severity := f.Severity
		if !severity.IsValid() {
			severity = types.SeverityMedium
		}
		learned, err := e.store.Learn(ctx, types.LearnRequest{
			Snippet:     strings.TrimSpace(before),
			Category:    category,
			Severity:    severity,
			FixStrategy: string(result.Strategy),
			Language:    languageOf(ext),
			Extension:   ext,
			Metadata: map[string]interface{}{
				"file":       result.FilePath,
				"line":       f.Line,
				"source":     string(f.Source),
				"suggestion": f.Suggestion,
			},
		})
		if err != nil {
			e.log.Warn("failed to learn pattern from fix", zap.String("file", result.FilePath), zap.Error(err))
			return
		}
		patternID = learned.PatternID
		result.PatternID = patternID
		e.log.Debug("learned pattern from fix", zap.Int64("pattern_id", patternID), zap.Bool("new", learned.IsNew))
	}

	change := result.Changes[0]
	_, err := e.store.RecordFixOutcome(ctx, types.FixOutcome{
		PatternID:        &patternID,
		FilePath:         result.FilePath,
		IssueDescription: f.Description,
		FixDescription:   change.Description,
		Before:           change.Old,
		After:            change.New,
		Success:          true,
		Metadata: map[string]interface{}{
			"strategy": string(result.Strategy),
			"category": string(f.Category),
			"severity": string(f.Severity),
		},
	})
	if err != nil {
		e.log.Warn("failed to record fix outcome", zap.Int64("pattern_id", patternID), zap.Error(err))
	}

	if f.DetectionID != 0 {
		if err := e.store.MarkDetectionFixed(ctx, f.DetectionID, true); err != nil {
			e.log.Warn("failed to mark detection fixed", zap.Int64("detection_id", f.DetectionID), zap.Error(err))
		}
	}
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	out := e.stats
	out.ByStrategy = make(map[Strategy]int64, len(e.stats.ByStrategy))
	for k, v := range e.stats.ByStrategy {
		out.ByStrategy[k] = v
	}
	return out
}

func unifiedDiff(path, before, after string) string {
	edits := myers.ComputeEdits(span.URIFromPath(path), before, after)
	return fmt.Sprint(gotextdiff.ToUnified("a/"+filepath.ToSlash(path), "b/"+filepath.ToSlash(path), before, edits))
}

// writeAtomic writes via a temp file in the same directory and renames it
// over path, so readers never observe a half-written file.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".vigil-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("setting file mode: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath) // Clean up on error (best effort)
		return fmt.Errorf("committing file: %w", err)
	}
	return nil
}
