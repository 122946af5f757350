package agent

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/config"
)

// Update is a partial configuration change. Nil fields are left alone.
// Only settings the running pipeline reads per event can be changed.
type Update struct {
	AutoAnalyze          *bool    `json:"auto_analyze,omitempty"`
	NotifyOnBugs         *bool    `json:"notify_on_bugs,omitempty"`
	NotifyOnSecurity     *bool    `json:"notify_on_security,omitempty"`
	NotifyOnPerformance  *bool    `json:"notify_on_performance,omitempty"`
	DryRun               *bool    `json:"dry_run,omitempty"`
	AutoFix              *bool    `json:"auto_fix,omitempty"`
	AutoFixMinConfidence *float64 `json:"auto_fix_min_confidence,omitempty"`
	EscalationThreshold  *float64 `json:"escalation_threshold,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u Update) IsEmpty() bool {
	return u == Update{}
}

func (u Update) apply(c *config.Config) {
	if u.AutoAnalyze != nil {
		c.AutoAnalyze = *u.AutoAnalyze
	}
	if u.NotifyOnBugs != nil {
		c.Notify.OnBugs = *u.NotifyOnBugs
	}
	if u.NotifyOnSecurity != nil {
		c.Notify.OnSecurity = *u.NotifyOnSecurity
	}
	if u.NotifyOnPerformance != nil {
		c.Notify.OnPerformance = *u.NotifyOnPerformance
	}
	if u.DryRun != nil {
		c.Fix.DryRun = *u.DryRun
	}
	if u.AutoFix != nil {
		c.Fix.AutoFix = *u.AutoFix
	}
	if u.AutoFixMinConfidence != nil {
		c.Fix.AutoFixMinConfidence = *u.AutoFixMinConfidence
	}
	if u.EscalationThreshold != nil {
		c.Matcher.EscalationThreshold = *u.EscalationThreshold
	}
}

// settings returns a snapshot of the current configuration. The slices are
// shared and must not be modified.
func (a *Agent) settings() config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return *a.cfg
}

// Config returns a copy of the current configuration.
func (a *Agent) Config() *config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg.Clone()
}

// UpdateConfig applies u and returns the resulting configuration. An update
// that fails validation changes nothing.
func (a *Agent) UpdateConfig(u Update) (*config.Config, error) {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()

	next := a.cfg.Clone()
	u.apply(next)
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration update: %w", err)
	}
	a.cfg = next

	a.log.Info("configuration updated",
		zap.Bool("auto_analyze", next.AutoAnalyze),
		zap.Bool("notify_on_bugs", next.Notify.OnBugs),
		zap.Bool("notify_on_security", next.Notify.OnSecurity),
		zap.Bool("notify_on_performance", next.Notify.OnPerformance),
		zap.Bool("dry_run", next.Fix.DryRun),
		zap.Bool("auto_fix", next.Fix.AutoFix))
	return next.Clone(), nil
}
