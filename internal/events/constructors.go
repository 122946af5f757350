package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New creates an event with structured data. data may be nil, a map, or any
// JSON-serializable struct.
func New(eventType EventType, severity EventSeverity, message string, data interface{}) (*Event, error) {
	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Severity:  severity,
		Message:   message,
	}
	if err := event.SetData(data); err != nil {
		return nil, fmt.Errorf("failed to build %s event: %w", eventType, err)
	}
	return event, nil
}

// NewSimpleEvent creates an event with no structured data.
func NewSimpleEvent(eventType EventType, severity EventSeverity, message string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Severity:  severity,
		Message:   message,
		Data:      make(map[string]interface{}),
	}
}

// NewReadyEvent creates a ready event.
func NewReadyEvent(data ReadyData) (*Event, error) {
	msg := fmt.Sprintf("watching %s (%d files, %d patterns)", data.RootPath, data.FilesWatched, data.Patterns)
	return New(EventTypeReady, SeverityInfo, msg, data)
}

// NewFileChangedEvent creates a file change event. deleted selects file:deleted.
func NewFileChangedEvent(data FileChangedData, deleted bool) (*Event, error) {
	if deleted {
		return New(EventTypeFileDeleted, SeverityInfo, data.FilePath+" deleted", data)
	}
	msg := fmt.Sprintf("%s changed (%s)", data.FilePath, data.Magnitude)
	return New(EventTypeFileChanged, SeverityInfo, msg, data)
}

// NewAnalysisCompleteEvent creates an analysis event.
func NewAnalysisCompleteEvent(data AnalysisCompleteData) (*Event, error) {
	severity := SeverityInfo
	if len(data.Findings) > 0 {
		severity = SeverityWarning
	}
	msg := fmt.Sprintf("%s analysis of %s: %d finding(s)", data.Source, data.FilePath, len(data.Findings))
	return New(EventTypeAnalysisComplete, severity, msg, data)
}

// NewNotificationEvent creates a notification event.
func NewNotificationEvent(data NotificationData) (*Event, error) {
	severity := SeverityWarning
	if data.Priority == "critical" {
		severity = SeverityCritical
	}
	return New(EventTypeNotification, severity, data.Title, data)
}

// NewFixAppliedEvent creates a fix event.
func NewFixAppliedEvent(data FixAppliedData) (*Event, error) {
	msg := fmt.Sprintf("fixed %s:%d (%s)", data.FilePath, data.Line, data.Strategy)
	if data.DryRun {
		msg = "dry run: " + msg
	}
	return New(EventTypeFixApplied, SeverityInfo, msg, data)
}

// NewCommitEvent creates a commit lifecycle event. eventType must be one of
// the commit:* types.
func NewCommitEvent(eventType EventType, data CommitData) (*Event, error) {
	var (
		severity = SeverityInfo
		msg      string
	)
	switch eventType {
	case EventTypeCommitPending:
		msg = fmt.Sprintf("%d fix(es) across %d file(s) awaiting approval", data.Fixes, len(data.Files))
	case EventTypeCommitCreated:
		msg = "committed " + data.Hash
		if data.NoOp {
			msg = "nothing to commit"
		}
	case EventTypeCommitRejected:
		msg = fmt.Sprintf("rejected %d fix(es)", data.Fixes)
	case EventTypeCommitError:
		severity = SeverityError
		msg = "commit failed: " + data.Error
	default:
		return nil, fmt.Errorf("%s is not a commit event", eventType)
	}
	return New(eventType, severity, msg, data)
}
