package agent

import (
	"time"

	"github.com/steveyegge/vigil/internal/ai"
	"github.com/steveyegge/vigil/internal/batch"
	"github.com/steveyegge/vigil/internal/fix"
	"github.com/steveyegge/vigil/internal/matcher"
	"github.com/steveyegge/vigil/internal/watcher"
)

// Stats aggregates the agent's counters with those of its components.
type Stats struct {
	Running           bool          `json:"running"`
	Uptime            time.Duration `json:"uptime"`
	Root              string        `json:"root"`
	FilesMonitored    int           `json:"files_monitored"`
	ChangesDetected   int64         `json:"changes_detected"`
	FilesDeleted      int64         `json:"files_deleted"`
	PatternAnalyses   int64         `json:"pattern_analyses"`
	DeepAnalyses      int64         `json:"deep_analyses"`
	Escalations       int64         `json:"escalations"`
	ShortCircuits     int64         `json:"short_circuits"`
	IssuesFound       int64         `json:"issues_found"`
	NotificationsSent int64         `json:"notifications_sent"`
	FixesApplied      int64         `json:"fixes_applied"`
	AutoFixes         int64         `json:"auto_fixes"`
	DryRuns           int64         `json:"dry_runs"`
	EventsPublished   int64         `json:"events_published"`
	EventsDropped     int64         `json:"events_dropped"`

	Watcher  *watcher.Stats `json:"watcher,omitempty"`
	Matcher  matcher.Stats  `json:"matcher"`
	Analyzer *ai.Stats      `json:"analyzer,omitempty"`
	Fix      fix.Stats      `json:"fix"`
	Batch    batch.Stats    `json:"batch"`
}

// Stats returns a snapshot of every counter.
func (a *Agent) Stats() Stats {
	a.mu.Lock()
	c := a.counters
	s := Stats{
		Running:           a.running,
		Uptime:            a.uptime(),
		Root:              a.root,
		ChangesDetected:   c.changes,
		FilesDeleted:      c.deletes,
		PatternAnalyses:   c.patternAnalyses,
		DeepAnalyses:      c.deepAnalyses,
		Escalations:       c.escalations,
		ShortCircuits:     c.shortCircuits,
		IssuesFound:       c.issuesFound,
		NotificationsSent: c.notificationsSent,
		FixesApplied:      c.fixesApplied,
		AutoFixes:         c.autoFixes,
		DryRuns:           c.dryRuns,
	}
	w := a.watcher
	a.mu.Unlock()

	if w != nil {
		ws := w.Stats()
		s.Watcher = &ws
		s.FilesMonitored = ws.FilesWatched
	}
	if a.analyzer != nil {
		as := a.analyzer.Stats()
		s.Analyzer = &as
	}
	s.Matcher = a.matcher.Stats()
	s.Fix = a.fixer.Stats()
	s.Batch = a.batcher.Stats()
	s.EventsPublished = a.bus.Published()
	s.EventsDropped = a.bus.Dropped()
	return s
}
