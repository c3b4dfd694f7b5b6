package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replay-trader/internal/agents"
	"replay-trader/internal/config"
	"replay-trader/internal/models"
	"replay-trader/internal/store"
)

func testApp(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("REPLAY_DATA_DIR", "")
	t.Setenv("REPLAY_FRAMES_PATH", "")
	t.Setenv("OPENAI_API_KEY", "")
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	return cfg
}

func execute(t *testing.T, ctx context.Context, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(cfg, zerolog.Nop())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestBacktestThenInspect(t *testing.T) {
	ctx := context.Background()
	cfg := testApp(t)

	out, err := execute(t, ctx, cfg, "backtest", "--demo", "--json")
	require.NoError(t, err)

	var summary struct {
		Bars   int                     `json:"bars"`
		Cycles int                     `json:"cycles"`
		Agents []*models.AgentSnapshot `json:"agents"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 360, summary.Bars)
	assert.Equal(t, 24, summary.Cycles)
	require.Len(t, summary.Agents, 2)
	for _, s := range summary.Agents {
		assert.Equal(t, 24, s.Stats.Decisions)
		assert.Equal(t, 24, s.Stats.LastCycleNumber)
	}

	out, err = execute(t, ctx, cfg, "status", "--json")
	require.NoError(t, err)
	var snaps []*models.AgentSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snaps))
	require.Len(t, snaps, 2)
	assert.Equal(t, "rsi-1", snaps[0].AgentID)
	assert.Equal(t, "sma-1", snaps[1].AgentID)

	out, err = execute(t, ctx, cfg, "decisions", "--json", "--agent", "sma-1", "--limit", "5")
	require.NoError(t, err)
	var decisions []models.Decision
	require.NoError(t, json.Unmarshal([]byte(out), &decisions))
	require.Len(t, decisions, 5)
	assert.Equal(t, 24, decisions[0].CycleNumber)

	out, err = execute(t, ctx, cfg, "decisions", "--json", "--stats")
	require.NoError(t, err)
	var stats store.DecisionStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 48, stats.TotalDecisions)

	out, err = execute(t, ctx, cfg, "snapshot", "sma-1")
	require.NoError(t, err)
	assert.Contains(t, out, "SMA crossover (sma-1)")
	assert.Contains(t, out, "Open lots")

	_, err = execute(t, ctx, cfg, "snapshot", "nobody")
	assert.Error(t, err)
}

func TestBacktestResumesCycles(t *testing.T) {
	ctx := context.Background()
	cfg := testApp(t)

	_, err := execute(t, ctx, cfg, "backtest", "--demo", "--json")
	require.NoError(t, err)
	out, err := execute(t, ctx, cfg, "backtest", "--demo", "--json")
	require.NoError(t, err)

	var summary struct {
		Agents []*models.AgentSnapshot `json:"agents"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	require.NotEmpty(t, summary.Agents)
	assert.Equal(t, 48, summary.Agents[0].Stats.LastCycleNumber)
}

func TestResetRequiresConfirmation(t *testing.T) {
	ctx := context.Background()
	cfg := testApp(t)

	_, err := execute(t, ctx, cfg, "backtest", "--demo", "--json")
	require.NoError(t, err)

	_, err = execute(t, ctx, cfg, "reset")
	assert.Error(t, err)

	out, err := execute(t, ctx, cfg, "reset", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared")

	out, err = execute(t, ctx, cfg, "decisions", "--json")
	require.NoError(t, err)
	var decisions []models.Decision
	require.NoError(t, json.Unmarshal([]byte(out), &decisions))
	assert.Empty(t, decisions)

	out, err = execute(t, ctx, cfg, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No saved agent state")
}

func TestBacktestWithoutFrames(t *testing.T) {
	cfg := testApp(t)
	_, err := execute(t, context.Background(), cfg, "backtest")
	assert.ErrorContains(t, err, "no frames file")
}

func TestRunStopsWithContext(t *testing.T) {
	cfg := testApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := execute(t, ctx, cfg, "run", "--demo", "--quiet", "--json")
	require.NoError(t, err)
	var status struct {
		Replay models.ReplayStatus `json:"replay"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, 119, status.Replay.Cursor)
}

func TestConfigCommands(t *testing.T) {
	ctx := context.Background()
	cfg := testApp(t)
	cfg.Provider.APIKey = "sk-secret-value"

	out, err := execute(t, ctx, cfg, "config", "show", "--json")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-secret-value")
	assert.Equal(t, "sk-secret-value", cfg.Provider.APIKey)

	out, err = execute(t, ctx, cfg, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, "config.toml")

	out, err = execute(t, ctx, cfg, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "valid")

	out, err = execute(t, ctx, cfg, "version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

func TestProviderRegistry(t *testing.T) {
	cfg := testApp(t)
	app := &App{Config: cfg, Logger: zerolog.Nop()}

	reg, ok := app.newProvider().(agents.Registry)
	require.True(t, ok)
	assert.IsType(t, &agents.RuleProvider{}, reg[""])
	assert.NotContains(t, reg, agents.StrategyLLM)

	cfg.Provider.APIKey = "sk-test"
	cfg.Provider.Kind = "openai"
	reg = app.newProvider().(agents.Registry)
	assert.IsType(t, &agents.GuardedProvider{}, reg[agents.StrategyLLM])
	assert.IsType(t, &agents.GuardedProvider{}, reg[""])
	assert.IsType(t, &agents.RuleProvider{}, reg[agents.StrategySMACrossover])
}

func TestBacktestReport(t *testing.T) {
	cfg := testApp(t)
	out, err := execute(t, context.Background(), cfg, "backtest", "--demo", "--report", "--json")
	require.NoError(t, err)

	var result struct {
		Reports []struct {
			AgentID string `json:"agent_id"`
		} `json:"reports"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Len(t, result.Reports, 2)

	out, err = execute(t, context.Background(), cfg, "backtest", "--demo", "--report")
	require.NoError(t, err)
	assert.Contains(t, out, "Sharpe")
	assert.Contains(t, out, "Equity")
}
