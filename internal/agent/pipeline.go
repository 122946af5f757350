package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/ai"
	"github.com/steveyegge/vigil/internal/events"
	"github.com/steveyegge/vigil/internal/matcher"
	"github.com/steveyegge/vigil/internal/types"
	"github.com/steveyegge/vigil/internal/watcher"
)

// FileReport is the result of a manual AnalyzeFile.
type FileReport struct {
	Path     string          `json:"path"`
	Pattern  *matcher.Result `json:"pattern"`
	Deep     *ai.Analysis    `json:"deep,omitempty"`
	Findings []types.Finding `json:"findings"`
}

func (a *Agent) consumeChanges(ctx context.Context, changes <-chan watcher.ChangeEvent) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-changes:
			if !ok {
				return
			}
			a.safely("change", ev.Path, func() { a.handleChange(ctx, ev) })
		}
	}
}

func (a *Agent) consumeAnalyses(ctx context.Context, results <-chan ai.Result) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-results:
			if !ok {
				return
			}
			a.safely("analysis", r.Event.Path, func() {
				a.handleDeepAnalysis(r.Event.Path, r.Analysis, r.Event.Priority)
			})
		}
	}
}

// safely keeps a failure on one file from taking the pipeline down.
func (a *Agent) safely(stage, path string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("pipeline stage panicked",
				zap.String("stage", stage),
				zap.String("path", path),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	fn()
}

func (a *Agent) handleChange(ctx context.Context, ev watcher.ChangeEvent) {
	data := events.FileChangedData{
		FilePath:   ev.Path,
		Magnitude:  string(ev.Magnitude),
		Priority:   string(ev.Priority),
		Escalate:   ev.Escalate,
		Lines:      ev.Info.Lines,
		FileType:   ev.Info.Type,
		Complexity: string(ev.Info.Complexity),
	}
	if ev.Kind == watcher.KindDeleted {
		a.count(func(c *counters) { c.deletes++ })
		a.publish(events.NewFileChangedEvent(data, true))
		return
	}
	a.count(func(c *counters) { c.changes++ })
	a.publish(events.NewFileChangedEvent(data, false))

	cfg := a.settings()
	if !cfg.AutoAnalyze || ev.Info.IsEmpty {
		return
	}

	result := a.runPatterns(ctx, ev.Path, ev.Content)

	if !ev.Escalate || a.analyzer == nil {
		return
	}
	if result.Matched && matcher.AverageConfidence(result.Findings) >= cfg.Matcher.EscalationThreshold {
		a.count(func(c *counters) { c.shortCircuits++ })
		a.log.Debug("pattern confidence high, skipping deep analysis",
			zap.String("path", ev.Path),
			zap.Float64("confidence", matcher.AverageConfidence(result.Findings)))
		return
	}
	if a.analyzer.Enqueue(ev) {
		a.count(func(c *counters) { c.escalations++ })
	}
}

// runPatterns runs the fast matcher, records detections and handles the
// findings. It returns the matcher result with detection IDs filled in.
func (a *Agent) runPatterns(ctx context.Context, path, content string) *matcher.Result {
	result := a.matcher.Analyze(ctx, content, path)
	a.count(func(c *counters) { c.patternAnalyses++ })
	if !result.Matched {
		return result
	}

	for i := range result.Findings {
		f := &result.Findings[i]
		if f.PatternID == 0 {
			continue
		}
		id, err := a.store.RecordDetection(ctx, f.PatternID, path, f.Line)
		if err != nil {
			a.log.Warn("failed to record detection",
				zap.String("path", path), zap.Int64("pattern_id", f.PatternID), zap.Error(err))
			continue
		}
		f.DetectionID = id
	}
	a.handlePatternMatch(ctx, path, result)
	return result
}

func (a *Agent) handlePatternMatch(ctx context.Context, path string, result *matcher.Result) {
	findings := result.Findings
	a.count(func(c *counters) { c.issuesFound += int64(len(findings)) })
	cfg := a.settings()

	a.publish(events.NewAnalysisCompleteEvent(events.AnalysisCompleteData{
		FilePath:  path,
		Source:    string(types.SourcePattern),
		Findings:  findingData(findings),
		Summary:   fmt.Sprintf("Quick analysis found %d known pattern(s)", len(findings)),
		Duration:  result.Elapsed,
		Escalated: matcher.AverageConfidence(findings) < cfg.Matcher.EscalationThreshold,
	}))

	priority := patternPriority(findings)
	if reason := patternNotifyReason(priority, findings); reason != "" {
		a.notify(path, types.SourcePattern, priority, bucketFindings(findings), "", reason)
	}

	if cfg.Fix.AutoFix {
		a.autoFix(ctx, path, findings, cfg.Fix.AutoFixMinConfidence)
	}
}

func (a *Agent) handleDeepAnalysis(path string, analysis *ai.Analysis, priority watcher.Priority) {
	if analysis == nil {
		return
	}
	findings := analysis.Findings()
	a.count(func(c *counters) {
		c.deepAnalyses++
		c.issuesFound += int64(len(analysis.Bugs) + len(analysis.Security) + len(analysis.Performance))
	})

	a.publish(events.NewAnalysisCompleteEvent(events.AnalysisCompleteData{
		FilePath: path,
		Source:   string(types.SourceAI),
		Findings: findingData(findings),
		Summary:  analysis.Summary,
		Model:    analysis.Model,
		Cached:   analysis.Cached,
		Degraded: analysis.Degraded,
		Duration: analysis.Duration,
	}))

	b := bucketFindings(findings)
	if reason := deepNotifyReason(a.settings(), b); reason != "" {
		if priority == "" {
			priority = watcher.PriorityMedium
		}
		a.notify(path, types.SourceAI, string(priority), b, analysis.Summary, reason)
	}
}

// AnalyzeFile runs both tiers on one file immediately, regardless of
// auto_analyze and of the escalation short-circuit.
func (a *Agent) AnalyzeFile(ctx context.Context, path string) (*FileReport, error) {
	rel, full, err := a.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rel, err)
	}
	content := string(data)
	a.log.Info("manual analysis requested", zap.String("path", rel))

	report := &FileReport{Path: rel}
	report.Pattern = a.runPatterns(ctx, rel, content)
	report.Findings = append(report.Findings, report.Pattern.Findings...)

	if a.analyzer != nil {
		report.Deep = a.analyzer.AnalyzeNow(ctx, rel, content)
		a.handleDeepAnalysis(rel, report.Deep, watcher.PriorityHigh)
		report.Findings = append(report.Findings, report.Deep.Findings()...)
	}
	return report, nil
}

// resolve maps a path given relative to the root (or absolute inside it) to
// its slash-separated relative form and absolute form.
func (a *Agent) resolve(path string) (string, string, error) {
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(a.root, path)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(a.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%s is outside %s", path, a.root)
	}
	return filepath.ToSlash(rel), full, nil
}

func findingData(findings []types.Finding) []events.FindingData {
	out := make([]events.FindingData, 0, len(findings))
	for _, f := range findings {
		out = append(out, events.FindingData{
			Category:    string(f.Category),
			Severity:    string(f.Severity),
			Confidence:  f.Confidence,
			Line:        f.Line,
			Description: f.Description,
			Suggestion:  f.Suggestion,
			Source:      string(f.Source),
			PatternID:   f.PatternID,
		})
	}
	return out
}

// byLineDesc orders findings bottom-up so that inserting lines for one fix
// leaves the line numbers of the remaining findings valid.
func byLineDesc(findings []types.Finding) []types.Finding {
	out := append([]types.Finding(nil), findings...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Line > out[j].Line })
	return out
}

// uptime is zero when the agent is not running.
func (a *Agent) uptime() time.Duration {
	if !a.running {
		return 0
	}
	return time.Since(a.startedAt)
}
