package agents

import (
	"context"

	"replay-trader/internal/errors"
	"replay-trader/internal/logging"
	"replay-trader/internal/resilience"
)

// GuardedProvider throttles a remote provider and stops calling it while it
// keeps failing. Either guard may be nil.
type GuardedProvider struct {
	next    Provider
	limiter *resilience.RateLimiter
	breaker *resilience.CircuitBreaker
}

// NewGuardedProvider wraps next.
func NewGuardedProvider(next Provider, limiter *resilience.RateLimiter, breaker *resilience.CircuitBreaker) *GuardedProvider {
	return &GuardedProvider{next: next, limiter: limiter, breaker: breaker}
}

// Decide implements Provider.
func (g *GuardedProvider) Decide(ctx context.Context, req Request) (Payload, error) {
	if g.limiter != nil && !g.limiter.Allow() {
		logger := logging.FromContext(ctx)
		logger.Debug().Int("cycle", req.CycleNumber).Msg("Provider throttled, waiting for a token")
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if g.breaker == nil {
		return g.next.Decide(ctx, req)
	}

	payload, err := resilience.Call(ctx, g.breaker, func() (Payload, error) {
		return g.next.Decide(ctx, req)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		logger := logging.FromContext(ctx)
		logger.Warn().
			Str("breaker", g.breaker.Name()).
			Int("cycle", req.CycleNumber).
			Msg("Provider skipped, circuit open")
		return nil, errors.NewProviderError(req.Agent.ID, req.CycleNumber, ReasonCircuitOpen, err)
	}
	return payload, err
}

// Breaker returns the circuit breaker, or nil.
func (g *GuardedProvider) Breaker() *resilience.CircuitBreaker {
	return g.breaker
}
