// Package events defines the notifications vigil publishes while it works
// and the bus that fans them out to subscribers.
package events

import (
	"time"
)

// EventType identifies what happened.
type EventType string

const (
	// EventTypeReady is published once the watcher is running
	EventTypeReady EventType = "ready"
	// EventTypeFileChanged is published for each settled file change
	EventTypeFileChanged EventType = "file:changed"
	// EventTypeFileDeleted is published when a watched file is removed or renamed away
	EventTypeFileDeleted EventType = "file:deleted"
	// EventTypeAnalysisComplete is published after pattern matching or deep analysis of a file
	EventTypeAnalysisComplete EventType = "analysis:complete"
	// EventTypeNotification is published for findings that warrant attention
	EventTypeNotification EventType = "notification"
	// EventTypeFixApplied is published after a fix is written (or previewed in dry-run)
	EventTypeFixApplied EventType = "fix:applied"
	// EventTypeCommitPending is published when a batch awaits approval
	EventTypeCommitPending EventType = "commit:pending"
	// EventTypeCommitCreated is published after an approved batch is committed
	EventTypeCommitCreated EventType = "commit:created"
	// EventTypeCommitRejected is published when a pending batch is rejected
	EventTypeCommitRejected EventType = "commit:rejected"
	// EventTypeCommitError is published when committing or proposing a batch fails
	EventTypeCommitError EventType = "commit:error"
)

// AllTypes lists every event type in publication order of a typical session.
var AllTypes = []EventType{
	EventTypeReady,
	EventTypeFileChanged,
	EventTypeFileDeleted,
	EventTypeAnalysisComplete,
	EventTypeNotification,
	EventTypeFixApplied,
	EventTypeCommitPending,
	EventTypeCommitCreated,
	EventTypeCommitRejected,
	EventTypeCommitError,
}

// IsValid reports whether t is a known event type.
func (t EventType) IsValid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// EventSeverity represents the severity level of an event.
type EventSeverity string

const (
	// SeverityInfo indicates informational events
	SeverityInfo EventSeverity = "info"
	// SeverityWarning indicates potentially problematic events
	SeverityWarning EventSeverity = "warning"
	// SeverityError indicates error events
	SeverityError EventSeverity = "error"
	// SeverityCritical indicates critical events requiring immediate attention
	SeverityCritical EventSeverity = "critical"
)

// Event is one published notification.
type Event struct {
	// ID is the unique identifier for this event
	ID string `json:"id"`
	// Type is the type of event
	Type EventType `json:"type"`
	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`
	// Severity is the severity level of this event
	Severity EventSeverity `json:"severity"`
	// Message is a human-readable description of the event
	Message string `json:"message"`
	// Data contains structured, type-specific data (must be JSON-serializable)
	Data map[string]interface{} `json:"data"`
}

// ReadyData contains structured data for ready events.
type ReadyData struct {
	RootPath     string `json:"root_path"`
	FilesWatched int    `json:"files_watched"`
	Patterns     int    `json:"patterns"`
	// Backend is the inference backend, empty when deep analysis is off
	Backend string `json:"backend,omitempty"`
	DryRun  bool   `json:"dry_run"`
}

// FileChangedData contains structured data for file change and delete events.
type FileChangedData struct {
	FilePath   string `json:"file_path"`
	Magnitude  string `json:"magnitude,omitempty"`
	Priority   string `json:"priority,omitempty"`
	Escalate   bool   `json:"escalate"`
	Lines      int    `json:"lines"`
	FileType   string `json:"file_type,omitempty"`
	Complexity string `json:"complexity,omitempty"`
}

// FindingData is the wire form of a single finding.
type FindingData struct {
	Category    string  `json:"category"`
	Severity    string  `json:"severity"`
	Confidence  float64 `json:"confidence"`
	Line        int     `json:"line"`
	Description string  `json:"description"`
	Suggestion  string  `json:"suggestion,omitempty"`
	Source      string  `json:"source"`
	PatternID   int64   `json:"pattern_id,omitempty"`
}

// AnalysisCompleteData contains structured data for analysis events.
type AnalysisCompleteData struct {
	FilePath string `json:"file_path"`
	// Source is "pattern" for the fast matcher and "ai" for deep analysis
	Source   string        `json:"source"`
	Findings []FindingData `json:"findings"`
	Summary  string        `json:"summary,omitempty"`
	Model    string        `json:"model,omitempty"`
	Cached   bool          `json:"cached,omitempty"`
	Degraded bool          `json:"degraded,omitempty"`
	Duration time.Duration `json:"duration"`
	// Escalated is set when pattern results were not confident enough to skip deep analysis
	Escalated bool `json:"escalated,omitempty"`
}

// NotificationData contains structured data for notification events.
type NotificationData struct {
	FilePath string `json:"file_path"`
	// Source is "pattern" or "ai"
	Source   string `json:"source"`
	Priority string `json:"priority"`
	Title    string `json:"title"`
	// Message is the rendered alert body
	Message  string        `json:"message"`
	Findings []FindingData `json:"findings"`
	// Reason names the rule that triggered the notification
	Reason string `json:"reason"`
}

// FixAppliedData contains structured data for fix events.
type FixAppliedData struct {
	FilePath    string `json:"file_path"`
	Line        int    `json:"line"`
	Strategy    string `json:"strategy"`
	Description string `json:"description"`
	DryRun      bool   `json:"dry_run"`
	Diff        string `json:"diff,omitempty"`
	PatternID   int64  `json:"pattern_id,omitempty"`
	// Automatic is set when the fix was applied by auto-fix rather than on request
	Automatic bool `json:"automatic"`
}

// CommitData contains structured data for commit lifecycle events.
type CommitData struct {
	BatchID string   `json:"batch_id"`
	Message string   `json:"message,omitempty"`
	Files   []string `json:"files"`
	Fixes   int      `json:"fixes"`
	Hash    string   `json:"hash,omitempty"`
	NoOp    bool     `json:"no_op,omitempty"`
	Error   string   `json:"error,omitempty"`
}
