// Package agent wires the watcher, both analysis tiers, the fix engine and
// the commit batcher into one pipeline and publishes what happens on an
// event bus.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/ai"
	"github.com/steveyegge/vigil/internal/batch"
	"github.com/steveyegge/vigil/internal/config"
	"github.com/steveyegge/vigil/internal/cost"
	"github.com/steveyegge/vigil/internal/events"
	"github.com/steveyegge/vigil/internal/fix"
	"github.com/steveyegge/vigil/internal/git"
	"github.com/steveyegge/vigil/internal/matcher"
	"github.com/steveyegge/vigil/internal/storage"
	"github.com/steveyegge/vigil/internal/storage/sqlite"
	"github.com/steveyegge/vigil/internal/watcher"
)

// Deps are the collaborators an Agent uses. Every field is optional.
type Deps struct {
	// Store defaults to the SQLite store at cfg.DBPath(). A store the agent
	// opens itself is closed by Close.
	Store storage.Store
	// Completer defaults to the configured inference backend. When none can
	// be built the agent runs pattern matching only.
	Completer ai.Completer
	// DisableAI forces pattern-only operation.
	DisableAI bool
	// VCS defaults to the configured adapter rooted at the watch root.
	VCS    git.VCS
	Bus    *events.Bus
	Logger *zap.Logger
}

// Agent is the proactive monitor.
type Agent struct {
	root      string
	store     storage.Store
	ownsStore bool
	matcher   *matcher.Matcher
	analyzer  *ai.Analyzer
	fixer     *fix.Engine
	batcher   *batch.Batcher
	vcs       git.VCS
	bus       *events.Bus
	log       *zap.Logger

	cfgMu sync.RWMutex
	cfg   *config.Config

	mu        sync.Mutex
	watcher   *watcher.Watcher
	running   bool
	stopped   bool
	closed    bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	counters  counters
}

type counters struct {
	changes           int64
	deletes           int64
	patternAnalyses   int64
	deepAnalyses      int64
	escalations       int64
	shortCircuits     int64
	issuesFound       int64
	notificationsSent int64
	fixesApplied      int64
	autoFixes         int64
	dryRuns           int64
}

// New builds an agent from cfg. cfg is copied; use UpdateConfig to change
// it later.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = cfg.Clone()
	root, err := cfg.AbsRoot()
	if err != nil {
		return nil, err
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	a := &Agent{
		root: root,
		cfg:  cfg,
		log:  log,
		bus:  deps.Bus,
	}
	if a.bus == nil {
		a.bus = events.NewBus(0, log)
	}

	a.store = deps.Store
	if a.store == nil {
		a.store, err = storage.NewStorage(ctx, &storage.Config{
			Path: cfg.DBPath(),
			Tuning: sqlite.Tuning{
				SeedConfidence:     cfg.Patterns.SeedConfidence,
				DetectionIncrement: cfg.Patterns.DetectionIncrement,
				FixIncrement:       cfg.Patterns.FixIncrement,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open pattern store: %w", err)
		}
		a.ownsStore = true
	}
	if cfg.Patterns.SeedPatterns {
		added, err := storage.Seed(ctx, a.store)
		if err != nil {
			a.closeStore()
			return nil, fmt.Errorf("failed to seed patterns: %w", err)
		}
		if added > 0 {
			log.Info("seeded built-in patterns", zap.Int("added", added))
		}
	}

	a.matcher, err = matcher.New(a.store, matcher.Config{
		MinConfidence:       cfg.Matcher.MinConfidence,
		SimilarityThreshold: cfg.Matcher.SimilarityThreshold,
		RefreshInterval:     cfg.Matcher.RefreshInterval.D(),
		Logger:              log.Named("matcher"),
	})
	if err != nil {
		a.closeStore()
		return nil, fmt.Errorf("failed to create matcher: %w", err)
	}

	if !deps.DisableAI {
		a.analyzer = a.buildAnalyzer(cfg, deps.Completer)
	}

	a.fixer = fix.New(fix.Config{Root: root, Learn: true, Logger: log}, a.store)

	a.vcs = deps.VCS
	if a.vcs == nil {
		a.vcs = a.buildVCS(ctx, cfg)
	}
	a.batcher = batch.New(batch.Config{
		QuietWindow: cfg.Commit.QuietWindow.D(),
		AuthorName:  cfg.Commit.AuthorName,
		AuthorEmail: cfg.Commit.AuthorEmail,
		Logger:      log,
	}, a.vcs, commitEvents{a})

	return a, nil
}

func (a *Agent) buildAnalyzer(cfg *config.Config, completer ai.Completer) *ai.Analyzer {
	inf := cfg.Inference
	if completer == nil {
		var err error
		completer, err = ai.NewCompleter(ai.BackendConfig{
			Backend: inf.Backend,
			APIKey:  inf.APIKey,
			BaseURL: inf.BaseURL,
			Timeout: inf.RequestTimeout.D(),
			Logger:  a.log,
		})
		if err != nil {
			a.log.Warn("deep analysis disabled", zap.String("backend", inf.Backend), zap.Error(err))
			return nil
		}
	}
	acfg := ai.DefaultConfig()
	acfg.PrimaryModel = inf.PrimaryModel
	acfg.FallbackModel = inf.FallbackModel
	acfg.RequestTimeout = inf.RequestTimeout.D()
	acfg.MaxContextLines = inf.MaxContextLines
	acfg.CacheTTL = inf.CacheTTL.D()
	acfg.InterItemDelay = inf.InterItemDelay.D()
	acfg.QueueSize = inf.QueueSize
	acfg.Temperature = inf.Temperature
	acfg.TopP = inf.TopP
	acfg.MaxTokens = inf.MaxTokens
	acfg.Logger = a.log.Named("ai")

	budget, err := cost.NewTracker(&cost.Config{
		Enabled:          inf.Budget.Enabled,
		MaxTokensPerHour: inf.Budget.MaxTokensPerHour,
		MaxTokensPerFile: inf.Budget.MaxTokensPerFile,
		MaxCostPerHour:   inf.Budget.MaxCostPerHour,
		AlertThreshold:   inf.Budget.AlertThreshold,
		ResetInterval:    time.Hour,
		StatePath:        cfg.StatePath("cost_state.json"),
		InputTokenCost:   inf.Budget.InputTokenCost,
		OutputTokenCost:  inf.Budget.OutputTokenCost,
	}, a.log)
	if err != nil {
		a.log.Warn("cost budget disabled", zap.Error(err))
	} else {
		acfg.Budget = budget
	}

	analyzer, err := ai.NewAnalyzer(acfg, completer)
	if err != nil {
		a.log.Warn("deep analysis disabled", zap.Error(err))
		return nil
	}
	return analyzer
}

// buildVCS falls back to go-git when the git binary is unavailable.
func (a *Agent) buildVCS(ctx context.Context, cfg *config.Config) git.VCS {
	vcs, err := git.New(ctx, git.Config{Backend: git.Backend(cfg.Commit.VCS), WorkingDir: a.root})
	if err == nil {
		return vcs
	}
	a.log.Warn("falling back to go-git", zap.String("vcs", cfg.Commit.VCS), zap.Error(err))
	return git.NewGoGit(a.root)
}

// Start begins watching. The agent runs until Stop or ctx is cancelled.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("agent is already running")
	}
	if a.stopped || a.closed {
		return fmt.Errorf("agent cannot be restarted")
	}
	cfg := a.settings()

	w, err := watcher.New(watcher.Config{
		Root:        a.root,
		WatchGlobs:  cfg.Watch.WatchGlobs,
		IgnoreGlobs: cfg.Watch.IgnoreGlobs,
		Debounce:    cfg.Watch.Debounce.D(),
		MaxFileSize: cfg.Watch.MaxFileSize,
		Logger:      a.log.Named("watcher"),
	})
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	if a.analyzer != nil {
		if err := a.analyzer.Start(ctx); err != nil {
			cancel()
			w.Stop()
			return fmt.Errorf("failed to start analyzer: %w", err)
		}
	}
	if err := a.matcher.Refresh(ctx); err != nil {
		a.log.Warn("initial pattern load failed", zap.Error(err))
	}

	indexed, err := w.Start(ctx)
	if err != nil {
		cancel()
		if a.analyzer != nil {
			a.analyzer.Stop()
		}
		w.Stop()
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	a.watcher = w
	a.cancel = cancel
	a.running = true
	a.startedAt = time.Now()

	a.wg.Add(1)
	go a.consumeChanges(ctx, w.Events())
	if a.analyzer != nil {
		a.wg.Add(1)
		go a.consumeAnalyses(ctx, a.analyzer.Results())
	}

	backend := ""
	if a.analyzer != nil {
		backend = cfg.Inference.Backend
	}
	a.publish(events.NewReadyEvent(events.ReadyData{
		RootPath:     a.root,
		FilesWatched: indexed,
		Patterns:     a.matcher.Stats().IndexedCount,
		Backend:      backend,
		DryRun:       cfg.Fix.DryRun,
	}))
	a.log.Info("agent started",
		zap.String("root", a.root),
		zap.Int("files", indexed),
		zap.Bool("deep_analysis", a.analyzer != nil),
		zap.Bool("auto_analyze", cfg.AutoAnalyze))
	return nil
}

// Stop ends watching and waits for the pipeline to drain. A commit batch
// already awaiting approval can still be approved or rejected.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.stopped = true
	cancel, w := a.cancel, a.watcher
	a.mu.Unlock()

	cancel()
	w.Stop()
	if a.analyzer != nil {
		a.analyzer.Stop()
	}
	a.wg.Wait()
	a.batcher.Stop()
	a.log.Info("agent stopped")
}

// Close stops the agent and releases the event bus and any store it opened.
func (a *Agent) Close() error {
	a.Stop()
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.batcher.Stop()
	a.bus.Close()
	return a.closeStore()
}

func (a *Agent) closeStore() error {
	if !a.ownsStore {
		return nil
	}
	return a.store.Close()
}

// Subscribe returns a subscription to the agent's events. With no types it
// receives everything.
func (a *Agent) Subscribe(types ...events.EventType) *events.Subscription {
	return a.bus.Subscribe(types...)
}

// Root is the absolute watch root.
func (a *Agent) Root() string {
	return a.root
}

// Store is the pattern store the agent learns into.
func (a *Agent) Store() storage.Store {
	return a.store
}

func (a *Agent) publish(e *events.Event, err error) {
	if err != nil {
		a.log.Warn("failed to build event", zap.Error(err))
		return
	}
	a.bus.Publish(e)
}

func (a *Agent) count(fn func(c *counters)) {
	a.mu.Lock()
	fn(&a.counters)
	a.mu.Unlock()
}
