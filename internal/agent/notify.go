package agent

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/config"
	"github.com/steveyegge/vigil/internal/events"
	"github.com/steveyegge/vigil/internal/types"
)

// Notification rule names, reported in NotificationData.Reason.
const (
	ReasonCriticalSecurity = "critical-security"
	ReasonHighBugs         = "high-severity-bugs"
	ReasonSecurity         = "security"
	ReasonPerformance      = "performance"
	ReasonCriticalPattern  = "critical-pattern"
	ReasonHighSecurity     = "high-security-pattern"
)

// buckets groups findings the way alerts present them.
type buckets struct {
	security    []types.Finding
	bugs        []types.Finding
	performance []types.Finding
}

func (b buckets) all() []types.Finding {
	out := make([]types.Finding, 0, len(b.security)+len(b.bugs)+len(b.performance))
	out = append(out, b.security...)
	out = append(out, b.bugs...)
	return append(out, b.performance...)
}

// bucketFindings sorts findings by the bucket the model reported them in,
// falling back to the category. Improvements are not alert-worthy.
func bucketFindings(findings []types.Finding) buckets {
	var b buckets
	for _, f := range findings {
		bucket, _ := f.Metadata["bucket"].(string)
		switch {
		case bucket == "security" || (bucket == "" && f.Category.IsSecurity()):
			b.security = append(b.security, f)
		case bucket == "performance" || (bucket == "" && f.Category.IsPerformance()):
			b.performance = append(b.performance, f)
		case bucket == "bugs" || bucket == "":
			b.bugs = append(b.bugs, f)
		}
	}
	return b
}

// deepNotifyReason applies the notification rules for model analyses and
// returns the first rule that fires, or "".
func deepNotifyReason(cfg config.Config, b buckets) string {
	for _, f := range b.security {
		if f.Severity == types.SeverityCritical {
			return ReasonCriticalSecurity
		}
	}
	if cfg.Notify.OnBugs {
		for _, f := range b.bugs {
			if f.Severity.Rank() >= types.SeverityHigh.Rank() {
				return ReasonHighBugs
			}
		}
	}
	if cfg.Notify.OnSecurity && len(b.security) > 0 {
		return ReasonSecurity
	}
	if cfg.Notify.OnPerformance && len(b.performance) > 0 {
		return ReasonPerformance
	}
	return ""
}

// patternPriority is critical or high when any finding is, else medium.
func patternPriority(findings []types.Finding) string {
	priority := "medium"
	for _, f := range findings {
		switch f.Severity {
		case types.SeverityCritical:
			return "critical"
		case types.SeverityHigh:
			priority = "high"
		}
	}
	return priority
}

// patternNotifyReason: pattern matches alert when critical, or high with a
// security finding among them.
func patternNotifyReason(priority string, findings []types.Finding) string {
	if priority == "critical" {
		return ReasonCriticalPattern
	}
	if priority == "high" {
		for _, f := range findings {
			if f.IsSecurity() {
				return ReasonHighSecurity
			}
		}
	}
	return ""
}

func (a *Agent) notify(path string, source types.FindingSource, priority string, b buckets, summary, reason string) {
	findings := b.all()
	title := fmt.Sprintf("%s: %d issue(s) in %s", strings.ToUpper(priority), len(findings), path)
	a.count(func(c *counters) { c.notificationsSent++ })
	a.log.Warn("proactive alert",
		zap.String("path", path),
		zap.String("priority", priority),
		zap.String("reason", reason),
		zap.Int("issues", len(findings)))

	a.publish(events.NewNotificationEvent(events.NotificationData{
		FilePath: path,
		Source:   string(source),
		Priority: priority,
		Title:    title,
		Message:  renderAlert(b, summary),
		Findings: findingData(findings),
		Reason:   reason,
	}))
}

// renderAlert formats the alert body: up to three security issues and bugs
// and two performance issues, then the summary.
func renderAlert(b buckets, summary string) string {
	var sb strings.Builder
	section := func(title string, list []types.Finding, limit int) {
		if len(list) == 0 {
			return
		}
		fmt.Fprintf(&sb, "%s (%d)\n", title, len(list))
		for i, f := range list {
			if i == limit {
				break
			}
			fmt.Fprintf(&sb, "  [%s] line %d: %s\n", strings.ToUpper(string(f.Severity)), f.Line, f.Description)
			if f.Suggestion != "" {
				fmt.Fprintf(&sb, "    fix: %s\n", f.Suggestion)
			}
		}
		sb.WriteString("\n")
	}
	section("Security Issues", b.security, 3)
	section("Bugs", b.bugs, 3)
	section("Performance Issues", b.performance, 2)
	if summary != "" {
		sb.WriteString(summary)
	}
	return strings.TrimRight(sb.String(), "\n")
}
