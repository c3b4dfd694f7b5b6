package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replay-trader/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0o644))
	return dir
}

func TestLoadCreatesTemplate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fresh")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.FileExists(t, Path(dir))

	assert.Equal(t, 1.0, cfg.Replay.Speed)
	assert.Equal(t, 120, cfg.Replay.WarmupBars)
	assert.Equal(t, time.Second, cfg.Replay.TickInterval)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.ProviderTimeout)
	assert.Equal(t, 0.003, cfg.Ledger.CommissionRate)
	assert.Equal(t, "rules", cfg.Provider.Kind)
	assert.Equal(t, 10, cfg.Provider.Rules.ShortPeriod)
	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, "sma-1", cfg.Agents[0].ID)
	assert.Equal(t, 100, cfg.Agents[0].LotSize)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "data", "decisions.db"), cfg.Archive.Path)
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	dir := writeConfig(t, `
data_dir = "/var/lib/replay"

[replay]
speed = 60.0
cadence = "timer"

[[agents]]
id = "solo"
symbols = ["600000.SH"]
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 60.0, cfg.Replay.Speed)
	assert.Equal(t, "timer", cfg.Replay.Cadence)
	assert.Equal(t, 15, cfg.Replay.CycleBars)
	assert.Equal(t, 15000, cfg.Scheduler.CycleMs)
	assert.Equal(t, "/var/lib/replay/decisions.db", cfg.Archive.Path)
	require.Len(t, cfg.Agents, 1)
	assert.Equal(t, []string{"600000.SH"}, cfg.Agents[0].Symbols)
}

func TestEnvOverrides(t *testing.T) {
	dir := writeConfig(t, "[provider]\nkind = \"openai\"\n")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("REPLAY_SPEED", "240")
	t.Setenv("REPLAY_FRAMES_PATH", "/tmp/frames.json")
	t.Setenv("REPLAY_DATA_DIR", "/tmp/replay-data")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)
	assert.Equal(t, 240.0, cfg.Replay.Speed)
	assert.Equal(t, "/tmp/frames.json", cfg.Replay.FramesPath)
	assert.Equal(t, "/tmp/replay-data", cfg.DataDir)
	assert.Equal(t, "/tmp/replay-data/decisions.db", cfg.Archive.Path)
	assert.Equal(t, "/tmp/replay-data/agents", cfg.SnapshotDir())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"negative speed", func(c *Config) { c.Replay.Speed = -1 }, false},
		{"bad cadence", func(c *Config) { c.Replay.Cadence = "hourly" }, false},
		{"commission too high", func(c *Config) { c.Ledger.CommissionRate = 0.5 }, false},
		{"openai without key", func(c *Config) { c.Provider.Kind = "openai"; c.Provider.APIKey = "" }, false},
		{"unknown provider", func(c *Config) { c.Provider.Kind = "oracle" }, false},
		{"empty agent id", func(c *Config) { c.Agents[0].ID = "" }, false},
		{"duplicate agent id", func(c *Config) { c.Agents = append(c.Agents, c.Agents[0]) }, false},
		{"negative lot size", func(c *Config) { c.Agents[0].LotSize = -100 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", "")
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, errors.ErrConfigInvalid)
		})
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := writeConfig(t, "[replay\nspeed = ")
	_, err := Load(dir)
	assert.Error(t, err)
}
