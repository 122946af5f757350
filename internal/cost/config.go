package cost

import (
	"fmt"
	"time"
)

// Config holds cost budgeting configuration
type Config struct {
	// MaxTokensPerHour is the maximum number of tokens (input + output) allowed per window
	// 0 = unlimited
	MaxTokensPerHour int64 `json:"max_tokens_per_hour"`

	// MaxTokensPerFile caps the tokens spent on one file per window
	// 0 = unlimited
	MaxTokensPerFile int64 `json:"max_tokens_per_file"`

	// MaxCostPerHour is the maximum cost in USD allowed per window
	// 0.0 = unlimited (use token limits instead)
	MaxCostPerHour float64 `json:"max_cost_per_hour"`

	// AlertThreshold is the fraction of budget usage that moves the status to warning
	AlertThreshold float64 `json:"alert_threshold"`

	// ResetInterval is how often the hourly counters reset
	ResetInterval time.Duration `json:"reset_interval"`

	// StatePath is where budget state is persisted across restarts. Empty disables persistence.
	StatePath string `json:"state_path"`

	// Enabled controls whether budgeting is active. A disabled tracker still counts usage.
	Enabled bool `json:"enabled"`

	// InputTokenCost and OutputTokenCost are USD per 1M tokens.
	InputTokenCost  float64 `json:"input_token_cost"`
	OutputTokenCost float64 `json:"output_token_cost"`
}

// DefaultConfig returns default cost budgeting configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:          true,
		MaxTokensPerHour: 100000,
		MaxTokensPerFile: 20000,
		MaxCostPerHour:   1.50,
		AlertThreshold:   0.80,
		ResetInterval:    time.Hour,
		InputTokenCost:   3.00,
		OutputTokenCost:  15.00,
	}
}

// Validate checks that the configuration has safe and reasonable values
func (c *Config) Validate() error {
	if c.MaxTokensPerHour < 0 {
		return fmt.Errorf("max_tokens_per_hour must be non-negative, got %d", c.MaxTokensPerHour)
	}
	if c.MaxTokensPerFile < 0 {
		return fmt.Errorf("max_tokens_per_file must be non-negative, got %d", c.MaxTokensPerFile)
	}
	if c.MaxCostPerHour < 0 {
		return fmt.Errorf("max_cost_per_hour must be non-negative, got %.2f", c.MaxCostPerHour)
	}
	if c.AlertThreshold <= 0 || c.AlertThreshold > 1.0 {
		return fmt.Errorf("alert_threshold must be between 0 and 1, got %.2f", c.AlertThreshold)
	}
	if c.ResetInterval <= 0 {
		return fmt.Errorf("reset_interval must be positive, got %v", c.ResetInterval)
	}
	if c.InputTokenCost < 0 {
		return fmt.Errorf("input_token_cost must be non-negative, got %.2f", c.InputTokenCost)
	}
	if c.OutputTokenCost < 0 {
		return fmt.Errorf("output_token_cost must be non-negative, got %.2f", c.OutputTokenCost)
	}
	return nil
}
