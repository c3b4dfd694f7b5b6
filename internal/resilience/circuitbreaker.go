// Package resilience guards calls to remote decision providers with a
// circuit breaker and a token bucket rate limiter.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"replay-trader/internal/errors"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"    // calls pass through
	CircuitOpen     CircuitState = "OPEN"      // calls fail fast
	CircuitHalfOpen CircuitState = "HALF_OPEN" // probing after the cooldown
)

// ErrCircuitOpen is returned without calling through while the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that close it again.
	SuccessThreshold int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	Now      func() time.Time
	Logger   zerolog.Logger
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Cooldown:         time.Minute,
		Logger:           zerolog.Nop(),
	}
}

// CircuitBreaker stops calling a failing dependency for a cooldown period.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig

	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	openedAt        time.Time
	lastStateChange time.Time

	totalCalls    int64
	totalFailures int64
	totalRejected int64
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	cb := &CircuitBreaker{
		name:   name,
		config: config,
		state:  CircuitClosed,
	}
	cb.lastStateChange = config.Now()
	return cb
}

// Call runs fn unless the circuit is open. A canceled ctx is not counted
// as a failure of the dependency; a missed deadline is.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := cb.allow(); err != nil {
		return zero, err
	}

	v, err := fn()
	switch {
	case err == nil:
		cb.recordSuccess()
		return v, nil
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return zero, err
	default:
		cb.recordFailure()
		return zero, err
	}
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++
	if cb.state == CircuitOpen {
		if cb.config.Now().Sub(cb.openedAt) < cb.config.Cooldown {
			cb.totalRejected++
			return errors.Wrapf(ErrCircuitOpen, "%s: retry after %s", cb.name, cb.openedAt.Add(cb.config.Cooldown).Format(time.RFC3339))
		}
		cb.transitionTo(CircuitHalfOpen)
	}
	return nil
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
		}
	case CircuitClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFailures++
	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	}
}

func (cb *CircuitBreaker) transitionTo(state CircuitState) {
	now := cb.config.Now()
	if state == CircuitOpen {
		cb.openedAt = now
	}
	cb.config.Logger.Info().
		Str("breaker", cb.name).
		Str("from", string(cb.state)).
		Str("to", string(state)).
		Msg("circuit state changed")
	cb.state = state
	cb.lastStateChange = now
	cb.failures = 0
	cb.successes = 0
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats returns circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		Name:            cb.name,
		State:           cb.state,
		TotalCalls:      cb.totalCalls,
		TotalFailures:   cb.totalFailures,
		TotalRejected:   cb.totalRejected,
		CurrentFailures: cb.failures,
		LastStateChange: cb.lastStateChange,
	}
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitClosed {
		cb.transitionTo(CircuitClosed)
	}
	cb.failures = 0
}

// CircuitBreakerStats holds circuit breaker statistics.
type CircuitBreakerStats struct {
	Name            string       `json:"name"`
	State           CircuitState `json:"state"`
	TotalCalls      int64        `json:"total_calls"`
	TotalFailures   int64        `json:"total_failures"`
	TotalRejected   int64        `json:"total_rejected"`
	CurrentFailures int          `json:"current_failures"`
	LastStateChange time.Time    `json:"last_state_change"`
}

// FailureRate returns failed calls over attempted calls in percent.
func (s CircuitBreakerStats) FailureRate() float64 {
	attempted := s.TotalCalls - s.TotalRejected
	if attempted <= 0 {
		return 0
	}
	return float64(s.TotalFailures) / float64(attempted) * 100
}
