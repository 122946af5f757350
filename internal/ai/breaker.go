package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, requests pass through
	CircuitOpen                         // Too many failures, fail fast
	CircuitHalfOpen                     // Probing for recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned when the inference backend is being skipped
// after repeated failures.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures the backend circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // Failures before opening (default: 5)
	SuccessThreshold int           // Half-open successes before closing (default: 2)
	OpenTimeout      time.Duration // How long to stay open (default: 30s)
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// CircuitBreaker stops hammering a backend that keeps failing. While open,
// analyses degrade to "manual review required" without a network round trip.
type CircuitBreaker struct {
	mu sync.Mutex

	state           CircuitState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	cfg             BreakerConfig
	log             *zap.Logger
	now             func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(cfg BreakerConfig, log *zap.Logger) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CircuitBreaker{state: CircuitClosed, cfg: cfg, log: log, now: time.Now}
}

// Allow returns ErrCircuitOpen while the circuit is open and the open
// timeout has not elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return nil
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) > cb.cfg.OpenTimeout {
			cb.transition(CircuitHalfOpen)
			return nil
		}
	}
	return ErrCircuitOpen
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.transition(CircuitClosed)
		}
	}
}

// RecordFailure records a failed request
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = cb.now()
	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transition(CircuitOpen)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// must be called with lock held
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.successCount = 0
	if to == CircuitClosed {
		cb.failureCount = 0
	}
	cb.log.Info("circuit breaker state transition",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int("failures", cb.failureCount))
}

// isRetriableError reports whether err looks transient. Only transient
// failures count against the breaker; an auth error will not heal by waiting.
func isRetriableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"connection refused", "connection reset", "timeout", "temporary failure", "network", "eof",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}
