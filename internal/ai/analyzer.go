package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/steveyegge/vigil/internal/cost"
	"github.com/steveyegge/vigil/internal/watcher"
)

// Config holds deep analyzer configuration.
type Config struct {
	PrimaryModel    string
	FallbackModel   string
	RequestTimeout  time.Duration // Per-attempt timeout (default: 30s)
	MaxContextLines int           // Longer files are truncated (default: 100)
	CacheTTL        time.Duration // 0 disables caching
	CacheSize       int           // LRU bound (default: 512)
	InterItemDelay  time.Duration // Minimum spacing between queued analyses
	QueueSize       int           // Default: 64
	Temperature     float64
	TopP            float64
	MaxTokens       int // Default: 1000
	SweepInterval   time.Duration
	Breaker         BreakerConfig
	// Budget, when set, is consulted before every analysis and charged after it.
	Budget *cost.Tracker
	Logger *zap.Logger
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:  30 * time.Second,
		MaxContextLines: 100,
		CacheTTL:        5 * time.Minute,
		CacheSize:       512,
		InterItemDelay:  time.Second,
		QueueSize:       64,
		Temperature:     0.3,
		TopP:            0.9,
		MaxTokens:       1000,
		SweepInterval:   time.Minute,
		Breaker:         DefaultBreakerConfig(),
	}
}

// Result pairs a queued change with its analysis.
type Result struct {
	Event    watcher.ChangeEvent
	Analysis *Analysis
}

// Stats are cumulative analyzer counters.
type Stats struct {
	Analyses          int64  `json:"analyses"`
	CacheHits         int64  `json:"cache_hits"`
	Degraded          int64  `json:"degraded"`
	FallbackUsed      int64  `json:"fallback_used"`
	Dropped           int64  `json:"dropped"`
	Queued            int    `json:"queued"`
	CacheSize         int    `json:"cache_size"`
	Processing        bool   `json:"processing"`
	BugsDetected      int64  `json:"bugs_detected"`
	SecurityIssues    int64  `json:"security_issues"`
	PerformanceIssues int64  `json:"performance_issues"`
	SuggestionsGiven  int64  `json:"suggestions_given"`
	BudgetDenied      int64  `json:"budget_denied"`
	InputTokens       int64  `json:"input_tokens"`
	OutputTokens      int64  `json:"output_tokens"`
	CircuitState      string `json:"circuit_state"`

	Budget *cost.BudgetStats `json:"budget,omitempty"`
}

// Analyzer runs deep analyses one at a time, from its queue or on demand.
type Analyzer struct {
	cfg       Config
	completer Completer
	log       *zap.Logger
	breaker   *CircuitBreaker
	cache     *analysisCache
	sem       *semaphore.Weighted
	limiter   *rate.Limiter

	mu      sync.Mutex
	queue   *priorityQueue
	stats   Stats
	started bool
	stopped bool

	signal  chan struct{}
	results chan Result
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewAnalyzer creates an analyzer backed by completer.
func NewAnalyzer(cfg Config, completer Completer) (*Analyzer, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if cfg.PrimaryModel == "" {
		return nil, fmt.Errorf("primary model is required")
	}
	def := DefaultConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxContextLines <= 0 {
		cfg.MaxContextLines = def.MaxContextLines
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.InterItemDelay > 0 {
		limit = rate.Every(cfg.InterItemDelay)
	}

	return &Analyzer{
		cfg:       cfg,
		completer: completer,
		log:       log,
		breaker:   NewCircuitBreaker(cfg.Breaker, log),
		cache:     newAnalysisCache(cfg.CacheSize, cfg.CacheTTL),
		sem:       semaphore.NewWeighted(1),
		limiter:   rate.NewLimiter(limit, 1),
		queue:     newPriorityQueue(cfg.QueueSize),
		signal:    make(chan struct{}, 1),
		results:   make(chan Result, cfg.QueueSize),
	}, nil
}

// Results delivers analyses of queued changes. Closed by Stop.
func (a *Analyzer) Results() <-chan Result {
	return a.results
}

// Start launches the queue worker and the cache sweeper.
func (a *Analyzer) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.stopped {
		return fmt.Errorf("analyzer already started")
	}
	a.started = true

	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(2)
	go a.worker(ctx)
	go a.sweeper(ctx)
	a.log.Info("deep analyzer started",
		zap.String("backend", a.completer.Backend()),
		zap.String("model", a.cfg.PrimaryModel),
		zap.String("fallback", a.cfg.FallbackModel))
	return nil
}

// Stop cancels in-flight work, waits for the worker and closes Results.
func (a *Analyzer) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
	close(a.results)
}

// Enqueue schedules a change for analysis and returns immediately. It
// reports false when the change was rejected by a full queue or a stopped
// analyzer.
func (a *Analyzer) Enqueue(ev watcher.ChangeEvent) bool {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return false
	}
	dropped := a.queue.Push(job{event: ev})
	queued := a.queue.Len()
	if dropped != nil {
		a.stats.Dropped++
	}
	a.mu.Unlock()

	if dropped != nil {
		a.log.Warn("analysis queue full, dropped lowest priority change",
			zap.String("path", dropped.event.Path),
			zap.String("priority", string(dropped.event.Priority)))
	}
	a.log.Debug("analysis queued", zap.String("path", ev.Path), zap.Int("pending", queued))

	select {
	case a.signal <- struct{}{}:
	default:
	}
	return dropped == nil || dropped.event.Path != ev.Path
}

// AnalyzeNow analyzes content synchronously, sharing the single in-flight
// slot with the queue worker. It never returns nil; failures degrade to a
// manual-review analysis.
func (a *Analyzer) AnalyzeNow(ctx context.Context, path, content string) *Analysis {
	info := watcher.Inspect(path, int64(len(content)), content)
	return a.analyze(ctx, path, content, info, "manual")
}

func (a *Analyzer) worker(ctx context.Context) {
	defer a.wg.Done()
	for {
		j, ok := a.next(ctx)
		if !ok {
			return
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return
		}

		ev := j.event
		analysis := a.analyze(ctx, ev.Path, ev.Content, ev.Info, string(ev.Magnitude))
		if ctx.Err() != nil {
			return
		}
		select {
		case a.results <- Result{Event: ev, Analysis: analysis}:
		case <-ctx.Done():
			return
		}
	}
}

func (a *Analyzer) next(ctx context.Context) (job, bool) {
	for {
		a.mu.Lock()
		j, ok := a.queue.Pop()
		a.mu.Unlock()
		if ok {
			return j, true
		}
		select {
		case <-a.signal:
		case <-ctx.Done():
			return job{}, false
		}
	}
}

func (a *Analyzer) sweeper(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.cache.Sweep(); n > 0 {
				a.log.Debug("expired cached analyses", zap.Int("removed", n))
			}
		}
	}
}

func (a *Analyzer) analyze(ctx context.Context, path, content string, info watcher.FileInfo, change string) *Analysis {
	key := cacheKey(path, info.Size, info.Lines)
	if cached, ok := a.cache.Get(key); ok {
		a.mu.Lock()
		a.stats.CacheHits++
		a.mu.Unlock()
		cp := *cached
		cp.Cached = true
		return &cp
	}

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return manualReview(path)
	}
	defer a.sem.Release(1)
	a.setProcessing(true)
	defer a.setProcessing(false)

	start := time.Now()
	truncated, cut := truncateContent(content, a.cfg.MaxContextLines)
	prompt := buildAnalysisPrompt(PromptInput{
		Path:       path,
		Extension:  info.Extension,
		FileType:   info.Type,
		Complexity: string(info.Complexity),
		Change:     change,
		Content:    truncated,
	})

	text, model, err := a.complete(ctx, path, prompt)
	if err != nil {
		a.log.Warn("deep analysis failed", zap.String("path", path), zap.Error(err))
		a.record(nil)
		return manualReview(path)
	}

	resp, err := ParseJSON[modelResponse](text, a.log)
	if err != nil {
		a.log.Warn("could not parse analysis response",
			zap.String("path", path), zap.String("model", model), zap.Error(err),
			zap.String("preview", preview(text, 200)))
		a.record(nil)
		analysis := manualReview(path)
		analysis.Model = model
		return analysis
	}

	analysis := &Analysis{
		Path:         path,
		Bugs:         resp.Bugs,
		Security:     resp.Security,
		Performance:  resp.Performance,
		Improvements: resp.Improvements,
		Tests:        resp.Tests,
		Summary:      strings.TrimSpace(resp.Summary),
		Model:        model,
		Truncated:    cut,
		Duration:     time.Since(start),
		AnalyzedAt:   time.Now(),
	}
	if analysis.Summary == "" {
		analysis.Summary = "analysis complete"
	}
	analysis.fillEmpty()
	a.cache.Put(key, analysis)
	a.record(analysis)

	a.log.Info("deep analysis complete",
		zap.String("path", path),
		zap.String("model", model),
		zap.Int("issues", analysis.IssueCount()),
		zap.Duration("duration", analysis.Duration))
	return analysis
}

// complete tries the primary model, then the fallback model once.
func (a *Analyzer) complete(ctx context.Context, path, prompt string) (string, string, error) {
	models := []string{a.cfg.PrimaryModel}
	if a.cfg.FallbackModel != "" && a.cfg.FallbackModel != a.cfg.PrimaryModel {
		models = append(models, a.cfg.FallbackModel)
	}
	if a.cfg.Budget != nil {
		if err := a.cfg.Budget.Allow(path); err != nil {
			a.mu.Lock()
			a.stats.BudgetDenied++
			a.mu.Unlock()
			return "", models[0], err
		}
	}

	// one breaker check per request; the fallback retry always runs
	if err := a.breaker.Allow(); err != nil {
		return "", models[0], err
	}

	var lastErr error
	for i, model := range models {
		attemptCtx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
		resp, err := a.completer.Complete(attemptCtx, CompletionRequest{
			Model:       model,
			System:      systemPrompt,
			Prompt:      prompt,
			MaxTokens:   a.cfg.MaxTokens,
			Temperature: a.cfg.Temperature,
			TopP:        a.cfg.TopP,
		})
		cancel()
		if err == nil && resp == nil {
			err = fmt.Errorf("%s returned no completion", a.completer.Backend())
		}
		if err == nil {
			a.breaker.RecordSuccess()
			a.charge(path, prompt, resp)
			if i > 0 {
				a.mu.Lock()
				a.stats.FallbackUsed++
				a.mu.Unlock()
			}
			return resp.Text, model, nil
		}

		lastErr = err
		if isRetriableError(err) {
			a.breaker.RecordFailure()
		}
		if ctx.Err() != nil {
			return "", model, ctx.Err()
		}
		if i+1 < len(models) {
			a.log.Warn("primary model failed, using fallback",
				zap.String("model", model), zap.String("fallback", models[i+1]), zap.Error(err))
		}
	}
	return "", "", fmt.Errorf("all models failed: %w", lastErr)
}

// charge records a call's token usage, estimating it at four characters per
// token when the backend reports none.
func (a *Analyzer) charge(path, prompt string, resp *Completion) {
	in, out := resp.InputTokens, resp.OutputTokens
	if in == 0 && out == 0 {
		in = int64(len(systemPrompt)+len(prompt)+3) / 4
		out = int64(len(resp.Text)+3) / 4
	}
	a.mu.Lock()
	a.stats.InputTokens += in
	a.stats.OutputTokens += out
	a.mu.Unlock()
	if a.cfg.Budget != nil {
		a.cfg.Budget.RecordUsage(path, in, out)
	}
}

func (a *Analyzer) record(analysis *Analysis) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Analyses++
	if analysis == nil {
		a.stats.Degraded++
		return
	}
	a.stats.BugsDetected += int64(len(analysis.Bugs))
	a.stats.SecurityIssues += int64(len(analysis.Security))
	a.stats.PerformanceIssues += int64(len(analysis.Performance))
	a.stats.SuggestionsGiven += int64(len(analysis.Improvements))
}

func (a *Analyzer) setProcessing(v bool) {
	a.mu.Lock()
	a.stats.Processing = v
	a.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (a *Analyzer) Stats() Stats {
	a.mu.Lock()
	s := a.stats
	s.Queued = a.queue.Len()
	a.mu.Unlock()
	s.CacheSize = a.cache.Len()
	s.CircuitState = a.breaker.State().String()
	if a.cfg.Budget != nil {
		b := a.cfg.Budget.Stats()
		s.Budget = &b
	}
	return s
}
