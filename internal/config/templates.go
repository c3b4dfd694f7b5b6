package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Replay Trader Configuration

# Where agent snapshots and the decision archive live.
# Defaults to <config dir>/data
# data_dir = ""

[replay]
# Canonical frame batch (JSON). Can be overridden with REPLAY_FRAMES_PATH.
frames_path = ""
# Virtual bars replayed per real minute (0.1 - 1000)
speed = 1.0
# Bars already visible when the replay starts
warmup_bars = 120
# Wrap around at the end of the timeline
loop = false
# What triggers a decision cycle: "bars" or "timer"
cadence = "bars"
# Bars between cycles in "bars" cadence
cycle_bars = 15
# Wall-clock tick of the live replay loop
tick_interval = "1s"
# Frames per symbol shown to the provider
history_bars = 120
# Stamp decisions with bar time instead of wall-clock time
virtual_time = true

[scheduler]
# Cycle period in "timer" cadence (3000 - 120000)
cycle_ms = 15000
# Per-agent provider deadline
provider_timeout = "30s"
# Decisions kept per agent in memory
history_limit = 120

[ledger]
# Commission charged on notional, both sides
commission_rate = 0.003
journal_days = 30
recent_actions = 30
closed_positions = 500
equity_points = 5000

[provider]
# "rules" (offline indicators) or "openai"
kind = "rules"
model = "gpt-4o-mini"
# OpenAI-compatible endpoint; empty uses the default
base_url = ""
# Prefer OPENAI_API_KEY in the environment or .env
api_key = ""
# Recent closes per symbol included in the prompt
bars = 30
# Requests per second sent to the model (0 = unlimited)
rate_limit = 2.0
burst = 4
# Consecutive failures that pause model calls for the cooldown
failure_threshold = 5
cooldown = "1m"

[provider.rules]
short_period = 10
long_period = 20
rsi_period = 14
oversold = 30.0
overbought = 70.0
position_pct = 0.2

[archive]
# SQLite archive of decisions and closed positions
enabled = true
# path = ""

[logging]
level = "info"
console = true
file = false
max_size = 100
max_backups = 7
max_age = 30

[[agents]]
id = "sma-1"
name = "SMA crossover"
strategy = "sma_crossover"
initial_balance = 100000.0
lot_size = 100

[[agents]]
id = "rsi-1"
name = "RSI mean reversion"
strategy = "rsi_oversold"
initial_balance = 100000.0
lot_size = 100
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, FileName+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}

// Template returns the default configuration file contents.
func Template() string {
	return configTemplate
}
