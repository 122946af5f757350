// Package config loads and validates the vigil configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// StateDirName is the per-project state directory.
	StateDirName = ".vigil"
	// FileName is the config file inside the state directory.
	FileName = "config.yaml"
)

// Inference backends.
const (
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
	BackendOllama    = "ollama"
)

// VCS adapters.
const (
	VCSGitCLI = "git"
	VCSGoGit  = "go-git"
)

// Config is the full agent configuration.
type Config struct {
	// RootPath is the tree to watch. Relative paths resolve against the working directory.
	RootPath string `yaml:"root_path"`

	// StateDir holds the pattern database, control socket and lock.
	// Default: <root_path>/.vigil
	StateDir string `yaml:"state_dir,omitempty"`

	// AutoAnalyze runs the analysis pipeline on every qualifying change.
	AutoAnalyze bool `yaml:"auto_analyze"`

	Watch     WatchConfig     `yaml:"watch"`
	Matcher   MatcherConfig   `yaml:"matcher"`
	Patterns  PatternConfig   `yaml:"patterns"`
	Inference InferenceConfig `yaml:"inference"`
	Notify    NotifyConfig    `yaml:"notify"`
	Fix       FixConfig       `yaml:"fix"`
	Commit    CommitConfig    `yaml:"commit"`
	Log       LogConfig       `yaml:"log"`
}

// WatchConfig configures the change watcher.
type WatchConfig struct {
	// WatchGlobs select files to watch; matched against "./<relative path>".
	WatchGlobs []string `yaml:"watch_globs"`
	// IgnoreGlobs exclude files and whole directories.
	IgnoreGlobs []string `yaml:"ignore_globs"`
	// Debounce is the per-file quiet period. Default: 500ms
	Debounce Duration `yaml:"debounce"`
	// MaxFileSize skips larger files. Default: 1 MiB
	MaxFileSize int64 `yaml:"max_file_size"`
}

// MatcherConfig configures the fast pattern matcher.
type MatcherConfig struct {
	// MinConfidence is the floor for patterns loaded into the index. Default: 0.5
	MinConfidence float64 `yaml:"min_confidence"`
	// SimilarityThreshold gates generic snippet matches. Default: 0.7
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// EscalationThreshold is the average confidence at or above which deep
	// analysis is skipped. Default: 0.7
	EscalationThreshold float64 `yaml:"escalation_threshold"`
	// RefreshInterval bounds index staleness. Default: 60s
	RefreshInterval Duration `yaml:"refresh_interval"`
}

// PatternConfig configures the pattern store.
type PatternConfig struct {
	// DBPath defaults to <state_dir>/patterns.db
	DBPath             string  `yaml:"db_path,omitempty"`
	SeedConfidence     float64 `yaml:"seed_confidence"`
	DetectionIncrement float64 `yaml:"detection_increment"`
	FixIncrement       float64 `yaml:"fix_increment"`
	// SeedPatterns inserts the built-in heuristic patterns on startup.
	SeedPatterns bool `yaml:"seed_patterns"`
}

// InferenceConfig configures the deep analyzer and its backend.
type InferenceConfig struct {
	Backend       string `yaml:"backend"`
	PrimaryModel  string `yaml:"primary_model"`
	FallbackModel string `yaml:"fallback_model"`
	BaseURL       string `yaml:"base_url,omitempty"`
	// APIKey is never written to disk; it comes from the environment.
	APIKey string `yaml:"-"`

	RequestTimeout  Duration `yaml:"request_timeout"`
	MaxContextLines int      `yaml:"max_context_lines"`
	CacheTTL        Duration `yaml:"cache_ttl"`
	InterItemDelay  Duration `yaml:"inter_item_delay"`
	QueueSize       int      `yaml:"queue_size"`
	Temperature     float64  `yaml:"temperature"`
	TopP            float64  `yaml:"top_p"`
	MaxTokens       int      `yaml:"max_tokens"`

	Budget BudgetConfig `yaml:"budget"`
}

// BudgetConfig caps deep analysis spend per hour. Zero limits are unlimited.
type BudgetConfig struct {
	Enabled          bool    `yaml:"enabled"`
	MaxTokensPerHour int64   `yaml:"max_tokens_per_hour"`
	MaxTokensPerFile int64   `yaml:"max_tokens_per_file"`
	MaxCostPerHour   float64 `yaml:"max_cost_per_hour"`
	AlertThreshold   float64 `yaml:"alert_threshold"`
	// InputTokenCost and OutputTokenCost are USD per million tokens.
	InputTokenCost  float64 `yaml:"input_token_cost"`
	OutputTokenCost float64 `yaml:"output_token_cost"`
}

// NotifyConfig selects which analysis results raise notifications.
type NotifyConfig struct {
	OnBugs        bool `yaml:"on_bugs"`
	OnSecurity    bool `yaml:"on_security"`
	OnPerformance bool `yaml:"on_performance"`
}

// FixConfig configures the fix engine.
type FixConfig struct {
	// DryRun computes fixes without writing files.
	DryRun bool `yaml:"dry_run"`
	// AutoFix applies pattern fixes without a manual request.
	AutoFix bool `yaml:"auto_fix"`
	// AutoFixMinConfidence gates AutoFix per finding. Default: 0.8
	AutoFixMinConfidence float64 `yaml:"auto_fix_min_confidence"`
}

// CommitConfig configures the commit batcher.
type CommitConfig struct {
	// QuietWindow closes a batch after no new fixes for this long. Default: 5s
	QuietWindow Duration `yaml:"quiet_window"`
	// VCS selects the adapter: "git" (CLI) or "go-git".
	VCS         string `yaml:"vcs"`
	AuthorName  string `yaml:"author_name,omitempty"`
	AuthorEmail string `yaml:"author_email,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the default configuration rooted at the working directory.
func Default() *Config {
	return &Config{
		RootPath:    ".",
		AutoAnalyze: true,
		Watch: WatchConfig{
			WatchGlobs: []string{
				"**/*.{js,jsx,ts,tsx,mjs,cjs,py,go,rb,java,sql,sh,css,html,json,md,yaml,yml}",
			},
			IgnoreGlobs: []string{
				"**/node_modules/**",
				"**/.git/**",
				"**/dist/**",
				"**/build/**",
				"**/.next/**",
				"**/coverage/**",
				"**/memory/**",
				"**/" + StateDirName + "/**",
				"**/*.log",
				"**/.DS_Store",
			},
			Debounce:    Duration(500 * time.Millisecond),
			MaxFileSize: 1 << 20,
		},
		Matcher: MatcherConfig{
			MinConfidence:       0.5,
			SimilarityThreshold: 0.7,
			EscalationThreshold: 0.7,
			RefreshInterval:     Duration(60 * time.Second),
		},
		Patterns: PatternConfig{
			SeedConfidence:     0.5,
			DetectionIncrement: 0.05,
			FixIncrement:       0.1,
			SeedPatterns:       true,
		},
		Inference: InferenceConfig{
			Backend:         BackendAnthropic,
			RequestTimeout:  Duration(30 * time.Second),
			MaxContextLines: 100,
			CacheTTL:        Duration(5 * time.Minute),
			InterItemDelay:  Duration(time.Second),
			QueueSize:       64,
			Temperature:     0.3,
			TopP:            0.9,
			MaxTokens:       1000,
			Budget: BudgetConfig{
				Enabled:          true,
				MaxTokensPerHour: 100000,
				MaxTokensPerFile: 20000,
				MaxCostPerHour:   1.50,
				AlertThreshold:   0.8,
				InputTokenCost:   3.00,
				OutputTokenCost:  15.00,
			},
		},
		Notify: NotifyConfig{
			OnBugs:        true,
			OnSecurity:    true,
			OnPerformance: false,
		},
		Fix: FixConfig{
			AutoFixMinConfidence: 0.8,
		},
		Commit: CommitConfig{
			QuietWindow: Duration(5 * time.Second),
			VCS:         VCSGitCLI,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultModels returns the primary and fallback models for a backend.
func DefaultModels(backend string) (primary, fallback string) {
	switch backend {
	case BackendOpenAI:
		return "gpt-4o", "gpt-4o-mini"
	case BackendOllama:
		return "codellama", "mistral"
	default:
		return "claude-sonnet-4-5-20250929", "claude-3-5-haiku-20241022"
	}
}

// Load reads a config file over the defaults, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.finish(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

func (c *Config) finish() error {
	if err := c.ApplyEnv(); err != nil {
		return err
	}
	c.applyModelDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) applyModelDefaults() {
	primary, fallback := DefaultModels(c.Inference.Backend)
	if c.Inference.PrimaryModel == "" {
		c.Inference.PrimaryModel = primary
	}
	if c.Inference.FallbackModel == "" {
		c.Inference.FallbackModel = fallback
	}
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration has valid values
func (c *Config) Validate() error {
	if c.RootPath == "" {
		return fmt.Errorf("root_path is required")
	}
	if c.Watch.Debounce.D() <= 0 {
		return fmt.Errorf("watch.debounce must be positive (got %s)", c.Watch.Debounce)
	}
	if len(c.Watch.WatchGlobs) == 0 {
		return fmt.Errorf("watch.watch_globs must not be empty")
	}
	for name, v := range map[string]float64{
		"matcher.min_confidence":        c.Matcher.MinConfidence,
		"matcher.similarity_threshold":  c.Matcher.SimilarityThreshold,
		"matcher.escalation_threshold":  c.Matcher.EscalationThreshold,
		"patterns.seed_confidence":      c.Patterns.SeedConfidence,
		"patterns.detection_increment":  c.Patterns.DetectionIncrement,
		"patterns.fix_increment":        c.Patterns.FixIncrement,
		"fix.auto_fix_min_confidence":   c.Fix.AutoFixMinConfidence,
		"inference.top_p":               c.Inference.TopP,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1 (got %f)", name, v)
		}
	}
	switch c.Inference.Backend {
	case BackendAnthropic, BackendOpenAI, BackendOllama:
	default:
		return fmt.Errorf("inference.backend must be one of %s, %s, %s (got %q)",
			BackendAnthropic, BackendOpenAI, BackendOllama, c.Inference.Backend)
	}
	if c.Inference.RequestTimeout.D() <= 0 {
		return fmt.Errorf("inference.request_timeout must be positive")
	}
	if c.Inference.MaxContextLines < 10 {
		return fmt.Errorf("inference.max_context_lines must be at least 10 (got %d)", c.Inference.MaxContextLines)
	}
	if c.Inference.QueueSize < 1 {
		return fmt.Errorf("inference.queue_size must be at least 1 (got %d)", c.Inference.QueueSize)
	}
	if c.Inference.InterItemDelay.D() < 0 || c.Inference.CacheTTL.D() < 0 {
		return fmt.Errorf("inference durations cannot be negative")
	}
	b := c.Inference.Budget
	if b.MaxTokensPerHour < 0 || b.MaxTokensPerFile < 0 || b.MaxCostPerHour < 0 ||
		b.InputTokenCost < 0 || b.OutputTokenCost < 0 {
		return fmt.Errorf("inference.budget limits and prices cannot be negative")
	}
	if b.AlertThreshold <= 0 || b.AlertThreshold > 1 {
		return fmt.Errorf("inference.budget.alert_threshold must be in (0, 1] (got %f)", b.AlertThreshold)
	}
	if c.Commit.QuietWindow.D() <= 0 {
		return fmt.Errorf("commit.quiet_window must be positive (got %s)", c.Commit.QuietWindow)
	}
	switch c.Commit.VCS {
	case VCSGitCLI, VCSGoGit:
	default:
		return fmt.Errorf("commit.vcs must be %q or %q (got %q)", VCSGitCLI, VCSGoGit, c.Commit.VCS)
	}
	return nil
}

// AbsRoot returns the absolute watch root.
func (c *Config) AbsRoot() (string, error) {
	root, err := filepath.Abs(c.RootPath)
	if err != nil {
		return "", fmt.Errorf("resolving root path: %w", err)
	}
	return root, nil
}

// StatePath returns a path inside the state directory.
func (c *Config) StatePath(name string) string {
	dir := c.StateDir
	if dir == "" {
		dir = filepath.Join(c.RootPath, StateDirName)
	}
	return filepath.Join(dir, name)
}

// DBPath returns the pattern database location.
func (c *Config) DBPath() string {
	if c.Patterns.DBPath != "" {
		return c.Patterns.DBPath
	}
	return c.StatePath("patterns.db")
}

// SocketPath returns the control socket location.
func (c *Config) SocketPath() string {
	return c.StatePath("control.sock")
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Watch.WatchGlobs = append([]string(nil), c.Watch.WatchGlobs...)
	cp.Watch.IgnoreGlobs = append([]string(nil), c.Watch.IgnoreGlobs...)
	return &cp
}
