package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeIsValid(t *testing.T) {
	tests := []struct {
		name     string
		et       EventType
		expected bool
	}{
		{"ready", EventTypeReady, true},
		{"file changed", "file:changed", true},
		{"commit error", EventTypeCommitError, true},
		{"underscore form", "file_changed", false},
		{"empty string", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.et.IsValid(); got != tt.expected {
				t.Errorf("EventType(%q).IsValid() = %v, expected %v", tt.et, got, tt.expected)
			}
		})
	}
}

func TestEventJSONShape(t *testing.T) {
	e, err := NewAnalysisCompleteEvent(AnalysisCompleteData{
		FilePath: "src/app.js",
		Source:   "pattern",
		Findings: []FindingData{{Category: "unsafe-dynamic-eval", Severity: "critical", Line: 4, Source: "pattern"}},
	})
	require.NoError(t, err)
	assert.Equal(t, SeverityWarning, e.Severity)
	assert.NotEmpty(t, e.ID)

	raw, err := json.Marshal(e)
	require.NoError(t, err)
	var generic map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Equal(t, "analysis:complete", generic["type"])
	data := generic["data"].(map[string]interface{})
	assert.Equal(t, "src/app.js", data["file_path"])
	assert.Len(t, data["findings"], 1)

	back, err := e.GetAnalysisCompleteData()
	require.NoError(t, err)
	assert.Equal(t, 4, back.Findings[0].Line)
}

func TestNewCommitEvent(t *testing.T) {
	tests := []struct {
		et       EventType
		data     CommitData
		severity EventSeverity
		message  string
	}{
		{EventTypeCommitPending, CommitData{Fixes: 3, Files: []string{"a", "b"}}, SeverityInfo, "3 fix(es) across 2 file(s) awaiting approval"},
		{EventTypeCommitCreated, CommitData{Hash: "abc123"}, SeverityInfo, "committed abc123"},
		{EventTypeCommitCreated, CommitData{NoOp: true}, SeverityInfo, "nothing to commit"},
		{EventTypeCommitRejected, CommitData{Fixes: 2}, SeverityInfo, "rejected 2 fix(es)"},
		{EventTypeCommitError, CommitData{Error: "locked"}, SeverityError, "commit failed: locked"},
	}
	for _, tt := range tests {
		e, err := NewCommitEvent(tt.et, tt.data)
		if err != nil {
			t.Fatalf("NewCommitEvent(%s): %v", tt.et, err)
		}
		if e.Severity != tt.severity || e.Message != tt.message {
			t.Errorf("%s: got (%s, %q), want (%s, %q)", tt.et, e.Severity, e.Message, tt.severity, tt.message)
		}
	}

	if _, err := NewCommitEvent(EventTypeReady, CommitData{}); err == nil {
		t.Error("expected error for non-commit type")
	}
}

func TestSetData(t *testing.T) {
	e := NewSimpleEvent(EventTypeNotification, SeverityWarning, "n")
	require.NoError(t, e.SetData(map[string]interface{}{"k": "v"}))
	assert.Equal(t, "v", e.Data["k"])
	require.NoError(t, e.SetData(nil))
	assert.Empty(t, e.Data)
	require.Error(t, e.SetData(make(chan int)))

	n, err := NewNotificationEvent(NotificationData{Title: "eval", Priority: "critical"})
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, n.Severity)
}
