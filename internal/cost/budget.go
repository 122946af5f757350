// Package cost tracks token spend of the deep analyzer against an hourly
// budget and persists the counters so restarts do not reset them.
package cost

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrBudgetExceeded is returned by Allow once a limit is reached.
var ErrBudgetExceeded = errors.New("cost budget exceeded")

// BudgetStatus represents the current budget state
type BudgetStatus int

const (
	// BudgetHealthy indicates usage is under the alert threshold
	BudgetHealthy BudgetStatus = iota
	// BudgetWarning indicates usage crossed the alert threshold
	BudgetWarning
	// BudgetExceeded indicates a limit has been reached
	BudgetExceeded
)

func (s BudgetStatus) String() string {
	switch s {
	case BudgetHealthy:
		return "healthy"
	case BudgetWarning:
		return "warning"
	case BudgetExceeded:
		return "exceeded"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText renders the status by name in JSON output.
func (s BudgetStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names written by MarshalText.
func (s *BudgetStatus) UnmarshalText(text []byte) error {
	for _, v := range []BudgetStatus{BudgetHealthy, BudgetWarning, BudgetExceeded} {
		if string(text) == v.String() {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown budget status %q", text)
}

// BudgetState is the persisted tracking state.
type BudgetState struct {
	HourlyTokensUsed int64     `json:"hourly_tokens_used"`
	HourlyCostUsed   float64   `json:"hourly_cost_used"`
	WindowStartTime  time.Time `json:"window_start_time"`

	// FileTokensUsed is per-file usage within the current window.
	FileTokensUsed map[string]int64 `json:"file_tokens_used"`

	TotalTokensUsed int64     `json:"total_tokens_used"`
	TotalCostUsed   float64   `json:"total_cost_used"`
	Calls           int64     `json:"calls"`
	LastUpdated     time.Time `json:"last_updated"`
}

// BudgetStats is a snapshot for status output.
type BudgetStats struct {
	Status           BudgetStatus `json:"status"`
	Enabled          bool         `json:"enabled"`
	HourlyTokensUsed int64        `json:"hourly_tokens_used"`
	HourlyCostUsed   float64      `json:"hourly_cost_used"`
	MaxTokensPerHour int64        `json:"max_tokens_per_hour"`
	MaxCostPerHour   float64      `json:"max_cost_per_hour"`
	TotalTokensUsed  int64        `json:"total_tokens_used"`
	TotalCostUsed    float64      `json:"total_cost_used"`
	Calls            int64        `json:"calls"`
	Denied           int64        `json:"denied"`
	WindowStartTime  time.Time    `json:"window_start_time"`
	ResetsAt         time.Time    `json:"resets_at"`
}

// Tracker records usage and answers whether another call fits the budget.
type Tracker struct {
	config Config
	log    *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	state  *BudgetState
	denied int64

	// one log line per status change per window
	lastLogged BudgetStatus
}

// NewTracker creates a tracker, loading persisted state when cfg.StatePath exists.
func NewTracker(cfg *Config, log *zap.Logger) (*Tracker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	t := &Tracker{
		config: *cfg,
		log:    log.Named("cost"),
		now:    time.Now,
	}
	t.state = t.freshState()

	if cfg.StatePath != "" {
		if err := t.loadState(); err != nil {
			t.log.Warn("failed to load cost state, starting fresh", zap.String("path", cfg.StatePath), zap.Error(err))
			t.state = t.freshState()
		} else {
			t.log.Debug("loaded cost state",
				zap.Int64("hourly_tokens", t.state.HourlyTokensUsed),
				zap.Float64("total_cost", t.state.TotalCostUsed))
		}
	}

	t.mu.Lock()
	t.checkAndResetWindow()
	t.mu.Unlock()
	return t, nil
}

func (t *Tracker) freshState() *BudgetState {
	now := t.now()
	return &BudgetState{
		WindowStartTime: now,
		FileTokensUsed:  make(map[string]int64),
		LastUpdated:     now,
	}
}

// RecordUsage adds one call's tokens and returns the resulting status.
func (t *Tracker) RecordUsage(path string, inputTokens, outputTokens int64) BudgetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkAndResetWindow()

	total := inputTokens + outputTokens
	cost := t.calculateCost(inputTokens, outputTokens)
	t.state.HourlyTokensUsed += total
	t.state.HourlyCostUsed += cost
	t.state.TotalTokensUsed += total
	t.state.TotalCostUsed += cost
	t.state.Calls++
	t.state.LastUpdated = t.now()
	if path != "" {
		t.state.FileTokensUsed[path] += total
	}

	if err := t.persistState(); err != nil {
		t.log.Warn("failed to persist cost state", zap.Error(err))
	}

	status := t.statusLocked()
	t.logTransition(status)
	return status
}

// CheckBudget returns the current status without recording usage.
func (t *Tracker) CheckBudget() BudgetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkAndResetWindow()
	return t.statusLocked()
}

// CanProceed reports whether another call for path fits the budget and,
// when it does not, which limit was hit.
func (t *Tracker) CanProceed(path string) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.config.Enabled {
		return true, ""
	}
	t.checkAndResetWindow()

	if t.tokenLimitExceeded() {
		return false, fmt.Sprintf("hourly token budget exceeded (%d/%d tokens used)",
			t.state.HourlyTokensUsed, t.config.MaxTokensPerHour)
	}
	if t.costLimitExceeded() {
		return false, fmt.Sprintf("hourly cost budget exceeded ($%.2f/$%.2f used)",
			t.state.HourlyCostUsed, t.config.MaxCostPerHour)
	}
	if path != "" && t.config.MaxTokensPerFile > 0 && t.state.FileTokensUsed[path] >= t.config.MaxTokensPerFile {
		return false, fmt.Sprintf("per-file token budget exceeded for %s (%d/%d tokens used)",
			path, t.state.FileTokensUsed[path], t.config.MaxTokensPerFile)
	}
	return true, ""
}

// Allow is CanProceed as an error, counting denials.
func (t *Tracker) Allow(path string) error {
	ok, reason := t.CanProceed(path)
	if ok {
		return nil
	}
	t.mu.Lock()
	t.denied++
	t.mu.Unlock()
	return fmt.Errorf("%w: %s", ErrBudgetExceeded, reason)
}

// Stats returns current budget statistics.
func (t *Tracker) Stats() BudgetStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkAndResetWindow()
	return BudgetStats{
		Status:           t.statusLocked(),
		Enabled:          t.config.Enabled,
		HourlyTokensUsed: t.state.HourlyTokensUsed,
		HourlyCostUsed:   t.state.HourlyCostUsed,
		MaxTokensPerHour: t.config.MaxTokensPerHour,
		MaxCostPerHour:   t.config.MaxCostPerHour,
		TotalTokensUsed:  t.state.TotalTokensUsed,
		TotalCostUsed:    t.state.TotalCostUsed,
		Calls:            t.state.Calls,
		Denied:           t.denied,
		WindowStartTime:  t.state.WindowStartTime,
		ResetsAt:         t.state.WindowStartTime.Add(t.config.ResetInterval),
	}
}

func (t *Tracker) statusLocked() BudgetStatus {
	if !t.config.Enabled {
		return BudgetHealthy
	}
	if t.tokenLimitExceeded() || t.costLimitExceeded() {
		return BudgetExceeded
	}
	if t.config.MaxTokensPerHour > 0 &&
		float64(t.state.HourlyTokensUsed)/float64(t.config.MaxTokensPerHour) >= t.config.AlertThreshold {
		return BudgetWarning
	}
	if t.config.MaxCostPerHour > 0 && t.state.HourlyCostUsed/t.config.MaxCostPerHour >= t.config.AlertThreshold {
		return BudgetWarning
	}
	return BudgetHealthy
}

func (t *Tracker) tokenLimitExceeded() bool {
	return t.config.MaxTokensPerHour > 0 && t.state.HourlyTokensUsed >= t.config.MaxTokensPerHour
}

func (t *Tracker) costLimitExceeded() bool {
	return t.config.MaxCostPerHour > 0 && t.state.HourlyCostUsed >= t.config.MaxCostPerHour
}

// calculateCost returns USD for the given token usage
func (t *Tracker) calculateCost(inputTokens, outputTokens int64) float64 {
	inputCost := float64(inputTokens) * t.config.InputTokenCost / 1_000_000
	outputCost := float64(outputTokens) * t.config.OutputTokenCost / 1_000_000
	return inputCost + outputCost
}

// checkAndResetWindow must be called with mu held.
func (t *Tracker) checkAndResetWindow() {
	now := t.now()
	if now.Sub(t.state.WindowStartTime) < t.config.ResetInterval {
		return
	}
	t.state.HourlyTokensUsed = 0
	t.state.HourlyCostUsed = 0
	t.state.FileTokensUsed = make(map[string]int64)
	t.state.WindowStartTime = now
	t.lastLogged = BudgetHealthy
}

func (t *Tracker) logTransition(status BudgetStatus) {
	if status == t.lastLogged {
		return
	}
	t.lastLogged = status
	switch status {
	case BudgetWarning:
		t.log.Warn("cost budget warning",
			zap.Int64("hourly_tokens", t.state.HourlyTokensUsed),
			zap.Int64("max_tokens", t.config.MaxTokensPerHour),
			zap.Float64("hourly_cost", t.state.HourlyCostUsed))
	case BudgetExceeded:
		resetsIn := t.state.WindowStartTime.Add(t.config.ResetInterval).Sub(t.now())
		t.log.Warn("cost budget exceeded, pausing deep analysis until reset",
			zap.Int64("hourly_tokens", t.state.HourlyTokensUsed),
			zap.Float64("hourly_cost", t.state.HourlyCostUsed),
			zap.Duration("resets_in", resetsIn.Round(time.Minute)))
	}
}

func (t *Tracker) persistState() error {
	if t.config.StatePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.config.StatePath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(t.config.StatePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

func (t *Tracker) loadState() error {
	data, err := os.ReadFile(t.config.StatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var state BudgetState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if state.FileTokensUsed == nil {
		state.FileTokensUsed = make(map[string]int64)
	}
	t.state = &state
	return nil
}
