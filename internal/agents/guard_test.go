package agents

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replay-trader/internal/errors"
	"replay-trader/internal/models"
	"replay-trader/internal/resilience"
)

func TestGuardedProviderOpensCircuit(t *testing.T) {
	var calls atomic.Int32
	flaky := ProviderFunc(func(context.Context, Request) (Payload, error) {
		calls.Add(1)
		return nil, errors.New("502 bad gateway")
	})
	g := NewGuardedProvider(flaky, nil, resilience.NewCircuitBreaker("openai", resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         time.Hour,
	}))

	ft := newFakeTime()
	s := newTestScheduler(g, nil, ft, "alpha")
	for i := 0; i < 3; i++ {
		require.True(t, s.RunCycleOnce(context.Background()))
	}

	assert.Equal(t, int32(2), calls.Load())
	st := s.State()
	assert.Equal(t, 3, st.FailureCount)
	assert.Contains(t, st.Agents[0].LastError, ReasonCircuitOpen)
	assert.Equal(t, resilience.CircuitOpen, g.Breaker().State())
}

func TestGuardedProviderPassesThrough(t *testing.T) {
	g := NewGuardedProvider(holdProvider(), resilience.NewRateLimiter(1000, 5), nil)
	payload, err := g.Decide(context.Background(), Request{Agent: models.AgentConfig{ID: "alpha"}, CycleNumber: 7})
	require.NoError(t, err)
	raw, err := DecodePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, "hold", raw.Action)
	assert.Equal(t, "cycle 7", raw.Reasoning)
}

func TestGuardedProviderHonorsContext(t *testing.T) {
	limiter := resilience.NewRateLimiter(0.001, 1)
	require.True(t, limiter.Allow())
	g := NewGuardedProvider(holdProvider(), limiter, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Decide(ctx, Request{Agent: models.AgentConfig{ID: "alpha"}})
	assert.ErrorIs(t, err, context.Canceled)
}
