// Package matcher is the fast, local first pass over changed files. It checks
// content against the learned patterns in the store using per-category
// heuristics and snippet similarity, without any network access.
package matcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/logging"
	"github.com/steveyegge/vigil/internal/types"
)

// PatternSource supplies candidate patterns. storage.Store satisfies it.
type PatternSource interface {
	ListCandidates(ctx context.Context, minConfidence float64) ([]*types.Pattern, error)
}

// Config holds matcher configuration.
type Config struct {
	// MinConfidence is the floor for patterns loaded into the index
	MinConfidence float64
	// SimilarityThreshold gates generic snippet matches (exclusive)
	SimilarityThreshold float64
	// RefreshInterval bounds how stale the index may get
	RefreshInterval time.Duration
	// MaxSimilarityLines caps how much of a file similarity matching scans
	MaxSimilarityLines int
	Logger             *zap.Logger
}

// DefaultConfig returns the default matcher configuration.
func DefaultConfig() Config {
	return Config{
		MinConfidence:       0.5,
		SimilarityThreshold: 0.7,
		RefreshInterval:     60 * time.Second,
		MaxSimilarityLines:  2000,
	}
}

// Result is the outcome of one Analyze call.
type Result struct {
	Matched         bool            `json:"matched"`
	Findings        []types.Finding `json:"findings"`
	Elapsed         time.Duration   `json:"elapsed"`
	PatternsChecked int             `json:"patterns_checked"`
}

// Stats are cumulative matcher counters.
type Stats struct {
	Analyses      int64         `json:"analyses"`
	Matches       int64         `json:"matches"`
	Findings      int64         `json:"findings"`
	IndexedCount  int           `json:"indexed_patterns"`
	LastRefresh   time.Time     `json:"last_refresh"`
	TotalDuration time.Duration `json:"total_duration"`
}

// Matcher holds an extension-keyed index of candidate patterns.
type Matcher struct {
	source PatternSource
	cfg    Config
	log    *zap.Logger

	mu       sync.RWMutex
	byExt    map[string][]*types.Pattern
	indexed  int
	loadedAt time.Time

	statsMu sync.Mutex
	stats   Stats

	now func() time.Time
}

// New creates a matcher over source.
func New(source PatternSource, cfg Config) (*Matcher, error) {
	if source == nil {
		return nil, fmt.Errorf("pattern source is required")
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold >= 1 {
		return nil, fmt.Errorf("similarity threshold must be in (0,1) (got %f)", cfg.SimilarityThreshold)
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultConfig().RefreshInterval
	}
	if cfg.MaxSimilarityLines <= 0 {
		cfg.MaxSimilarityLines = DefaultConfig().MaxSimilarityLines
	}
	return &Matcher{
		source: source,
		cfg:    cfg,
		log:    logging.OrNop(cfg.Logger),
		byExt:  map[string][]*types.Pattern{},
		now:    time.Now,
	}, nil
}

// Refresh reloads the index from the store.
func (m *Matcher) Refresh(ctx context.Context) error {
	patterns, err := m.source.ListCandidates(ctx, m.cfg.MinConfidence)
	if err != nil {
		return fmt.Errorf("failed to load patterns: %w", err)
	}

	byExt := make(map[string][]*types.Pattern)
	for _, p := range patterns {
		ext := strings.ToLower(p.Extension)
		byExt[ext] = append(byExt[ext], p)
	}

	m.mu.Lock()
	m.byExt = byExt
	m.indexed = len(patterns)
	m.loadedAt = m.now()
	m.mu.Unlock()

	m.statsMu.Lock()
	m.stats.IndexedCount = len(patterns)
	m.stats.LastRefresh = m.loadedAt
	m.statsMu.Unlock()

	m.log.Debug("pattern index refreshed", zap.Int("patterns", len(patterns)), zap.Int("extensions", len(byExt)))
	return nil
}

// Invalidate forces a reload on the next Analyze.
func (m *Matcher) Invalidate() {
	m.mu.Lock()
	m.loadedAt = time.Time{}
	m.mu.Unlock()
}

func (m *Matcher) ensureFresh(ctx context.Context) {
	m.mu.RLock()
	stale := m.loadedAt.IsZero() || m.now().Sub(m.loadedAt) > m.cfg.RefreshInterval
	m.mu.RUnlock()
	if !stale {
		return
	}
	if err := m.Refresh(ctx); err != nil {
		// keep serving the previous index
		m.log.Warn("pattern index refresh failed", zap.Error(err))
	}
}

// candidates merges extension-specific and extension-agnostic patterns,
// keeping the store's confidence ordering.
func (m *Matcher) candidates(ext string) []*types.Pattern {
	m.mu.RLock()
	defer m.mu.RUnlock()
	specific, generic := m.byExt[ext], m.byExt[""]
	out := make([]*types.Pattern, 0, len(specific)+len(generic))
	i, j := 0, 0
	for i < len(specific) || j < len(generic) {
		switch {
		case j >= len(generic):
			out = append(out, specific[i])
			i++
		case i >= len(specific):
			out = append(out, generic[j])
			j++
		case specific[i].Confidence >= generic[j].Confidence:
			out = append(out, specific[i])
			i++
		default:
			out = append(out, generic[j])
			j++
		}
	}
	return out
}

// Analyze checks content against every candidate pattern for the file's
// extension and returns one finding per matched pattern. Two patterns that
// flag the same category on the same line collapse into the more trusted one.
func (m *Matcher) Analyze(ctx context.Context, content, filePath string) *Result {
	start := time.Now()
	m.ensureFresh(ctx)

	ext := strings.ToLower(filepath.Ext(filePath))
	candidates := m.candidates(ext)
	lines := strings.Split(content, "\n")

	result := &Result{PatternsChecked: len(candidates)}
	seen := make(map[string]bool)
	for _, p := range candidates {
		if ctx.Err() != nil {
			break
		}
		f, ok := m.match(p, lines, filePath)
		if !ok {
			continue
		}
		key := fmt.Sprintf("%s:%d", f.Category, f.Line)
		if seen[key] {
			continue
		}
		seen[key] = true
		result.Findings = append(result.Findings, f)
	}
	result.Matched = len(result.Findings) > 0
	result.Elapsed = time.Since(start)

	m.statsMu.Lock()
	m.stats.Analyses++
	m.stats.Findings += int64(len(result.Findings))
	if result.Matched {
		m.stats.Matches++
	}
	m.stats.TotalDuration += result.Elapsed
	m.statsMu.Unlock()

	return result
}

func (m *Matcher) match(p *types.Pattern, lines []string, filePath string) (types.Finding, bool) {
	if p.Category == types.CategoryGeneric || !p.Category.IsValid() {
		h, score, ok := similarWindow(lines, p.Snippet, m.cfg.SimilarityThreshold, m.cfg.MaxSimilarityLines)
		if !ok {
			return types.Finding{}, false
		}
		f := newFinding(p, h)
		f.Metadata["similarity"] = score
		return f, true
	}

	h, ok := detect(p.Category, lines, filePath)
	if !ok {
		return types.Finding{}, false
	}
	return newFinding(p, h), true
}

func newFinding(p *types.Pattern, h hit) types.Finding {
	severity := p.Severity
	if !severity.IsValid() {
		severity = types.SeverityMedium
	}
	return types.Finding{
		Category:    p.Category,
		Severity:    severity,
		Confidence:  p.Confidence,
		Line:        h.line,
		Description: describe(p),
		Suggestion:  suggest(p),
		PatternID:   p.ID,
		FixStrategy: p.FixStrategy,
		Source:      types.SourcePattern,
		Metadata:    map[string]interface{}{"snippet": h.snippet},
	}
}

func describe(p *types.Pattern) string {
	switch p.Category {
	case types.CategoryDynamicEval:
		return "Security: eval() usage detected - potential code injection"
	case types.CategoryInjectionRisk:
		return "Security: Potential SQL injection vulnerability"
	case types.CategoryMarkupInjection:
		return "Security: Potential XSS vulnerability via innerHTML"
	case types.CategoryQuadraticLoop:
		return "Performance: Nested loops detected - O(n²) complexity"
	case types.CategoryNullDereference:
		return "Bug: Potential null/undefined reference"
	case types.CategoryMissingAsyncWait:
		return "Bug: Async function called without await"
	}
	snippet := types.NormalizeSnippet(p.Snippet)
	if len(snippet) > 60 {
		snippet = snippet[:60] + "..."
	}
	return fmt.Sprintf("Similar to known issue pattern: %s", snippet)
}

func suggest(p *types.Pattern) string {
	switch p.Category {
	case types.CategoryDynamicEval:
		return "Replace eval() with JSON.parse() or safer alternative"
	case types.CategoryInjectionRisk:
		return "Use parameterized queries instead of string concatenation"
	case types.CategoryMarkupInjection:
		return "Replace innerHTML with textContent or use sanitization"
	case types.CategoryQuadraticLoop:
		return "Consider using Map/Set for O(1) lookups"
	case types.CategoryNullDereference:
		return "Add optional chaining (?.) or null check"
	case types.CategoryMissingAsyncWait:
		return "Add await keyword before async function call"
	}
	if s, ok := p.Metadata["suggestion"].(string); ok && s != "" {
		return s
	}
	return "Review against previously fixed occurrences of this pattern"
}

// AverageConfidence is the mean confidence of findings, 0 when empty.
func AverageConfidence(findings []types.Finding) float64 {
	if len(findings) == 0 {
		return 0
	}
	var sum float64
	for _, f := range findings {
		sum += f.Confidence
	}
	return sum / float64(len(findings))
}

// HighestSeverity returns the most urgent severity among findings.
func HighestSeverity(findings []types.Finding) types.Severity {
	best := types.Severity("")
	for _, f := range findings {
		if f.Severity.Rank() > best.Rank() {
			best = f.Severity
		}
	}
	return best
}

// Stats returns a snapshot of the counters.
func (m *Matcher) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}
