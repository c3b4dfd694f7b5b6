// Package config provides configuration management for the replay trader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"replay-trader/internal/errors"
	"replay-trader/internal/logging"
	"replay-trader/internal/models"
)

// FileName is the configuration file name without extension.
const FileName = "config"

// Config holds all application configuration.
type Config struct {
	DataDir   string               `mapstructure:"data_dir"`
	Replay    ReplayConfig         `mapstructure:"replay"`
	Scheduler SchedulerConfig      `mapstructure:"scheduler"`
	Ledger    LedgerConfig         `mapstructure:"ledger"`
	Provider  ProviderConfig       `mapstructure:"provider"`
	Archive   ArchiveConfig        `mapstructure:"archive"`
	Logging   logging.LogConfig    `mapstructure:"logging"`
	Agents    []models.AgentConfig `mapstructure:"agents"`

	// ConfigDir is where the file was read from.
	ConfigDir string `mapstructure:"-"`
}

// ReplayConfig holds replay clock configuration.
type ReplayConfig struct {
	FramesPath   string        `mapstructure:"frames_path"`
	Speed        float64       `mapstructure:"speed"` // bars per real minute
	WarmupBars   int           `mapstructure:"warmup_bars"`
	Loop         bool          `mapstructure:"loop"`
	Cadence      string        `mapstructure:"cadence"` // "bars" or "timer"
	CycleBars    int           `mapstructure:"cycle_bars"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	HistoryBars  int           `mapstructure:"history_bars"`
	VirtualTime  bool          `mapstructure:"virtual_time"`
}

// SchedulerConfig holds decision scheduler configuration.
type SchedulerConfig struct {
	CycleMs         int           `mapstructure:"cycle_ms"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	HistoryLimit    int           `mapstructure:"history_limit"`
}

// LedgerConfig holds portfolio ledger configuration.
type LedgerConfig struct {
	CommissionRate  float64 `mapstructure:"commission_rate"`
	JournalDays     int     `mapstructure:"journal_days"`
	RecentActions   int     `mapstructure:"recent_actions"`
	ClosedPositions int     `mapstructure:"closed_positions"`
	EquityPoints    int     `mapstructure:"equity_points"`
}

// ProviderConfig selects and configures the decision provider.
type ProviderConfig struct {
	Kind    string      `mapstructure:"kind"` // "rules" or "openai"
	Model   string      `mapstructure:"model"`
	BaseURL string      `mapstructure:"base_url"`
	APIKey  string      `mapstructure:"api_key"`
	Bars    int         `mapstructure:"bars"` // closes per symbol in the prompt
	Rules   RulesConfig `mapstructure:"rules"`

	// Guards of the remote provider
	RateLimit        float64       `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	Burst            int           `mapstructure:"burst"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// RulesConfig configures the offline indicator provider.
type RulesConfig struct {
	ShortPeriod int     `mapstructure:"short_period"`
	LongPeriod  int     `mapstructure:"long_period"`
	RSIPeriod   int     `mapstructure:"rsi_period"`
	Oversold    float64 `mapstructure:"oversold"`
	Overbought  float64 `mapstructure:"overbought"`
	PositionPct float64 `mapstructure:"position_pct"`
}

// ArchiveConfig holds decision archive configuration.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // defaults to <data_dir>/decisions.db
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/replay-trader"
	}
	return filepath.Join(home, ".config", "replay-trader")
}

// Path returns the configuration file path inside configDir.
func Path(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, FileName+".toml")
}

// Load loads configuration from the specified directory. If configDir is
// empty the default directory is used. A missing file is created from the
// template and then read.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := newViper(configDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}
	cfg.ConfigDir = configDir
	cfg.applyDefaults()

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is read.
func Default() *Config {
	v := newViper(DefaultConfigDir())
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	cfg.ConfigDir = DefaultConfigDir()
	cfg.applyDefaults()
	applyEnvOverrides(cfg)
	return cfg
}

func newViper(configDir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(FileName)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	v.SetDefault("replay.speed", 1.0)
	v.SetDefault("replay.warmup_bars", 120)
	v.SetDefault("replay.loop", false)
	v.SetDefault("replay.cadence", "bars")
	v.SetDefault("replay.cycle_bars", 15)
	v.SetDefault("replay.tick_interval", "1s")
	v.SetDefault("replay.history_bars", 120)
	v.SetDefault("replay.virtual_time", true)

	v.SetDefault("scheduler.cycle_ms", 15000)
	v.SetDefault("scheduler.provider_timeout", "30s")
	v.SetDefault("scheduler.history_limit", 120)

	v.SetDefault("ledger.commission_rate", 0.003)
	v.SetDefault("ledger.journal_days", 30)
	v.SetDefault("ledger.recent_actions", 30)
	v.SetDefault("ledger.closed_positions", 500)
	v.SetDefault("ledger.equity_points", 5000)

	v.SetDefault("provider.kind", "rules")
	v.SetDefault("provider.model", "gpt-4o-mini")
	v.SetDefault("provider.bars", 30)
	v.SetDefault("provider.rate_limit", 2.0)
	v.SetDefault("provider.burst", 4)
	v.SetDefault("provider.failure_threshold", 5)
	v.SetDefault("provider.cooldown", "1m")

	v.SetDefault("archive.enabled", true)

	def := logging.DefaultLogConfig()
	v.SetDefault("logging.level", def.Level)
	v.SetDefault("logging.console", def.Console)
	v.SetDefault("logging.file", false)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "replay.log"))
	v.SetDefault("logging.max_size", def.MaxSize)
	v.SetDefault("logging.max_backups", def.MaxBackups)
	v.SetDefault("logging.max_age", def.MaxAge)
	return v
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = filepath.Join(c.ConfigDir, "data")
	}
	if c.Archive.Path == "" {
		c.Archive.Path = filepath.Join(c.DataDir, "decisions.db")
	}
	if len(c.Agents) == 0 {
		c.Agents = []models.AgentConfig{{ID: "agent-1", Name: "SMA crossover", InitialBalance: 100000, Strategy: "sma_crossover"}}
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("REPLAY_SPEED"); v != "" {
		if speed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Replay.Speed = speed
		}
	}
	if v := os.Getenv("REPLAY_FRAMES_PATH"); v != "" {
		cfg.Replay.FramesPath = v
	}
	if v := os.Getenv("REPLAY_DATA_DIR"); v != "" {
		if filepath.Dir(cfg.Archive.Path) == cfg.DataDir {
			cfg.Archive.Path = filepath.Join(v, filepath.Base(cfg.Archive.Path))
		}
		cfg.DataDir = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Replay.Speed < 0 {
		return invalid("replay.speed", c.Replay.Speed, "must be non-negative")
	}
	if c.Replay.WarmupBars < 0 {
		return invalid("replay.warmup_bars", c.Replay.WarmupBars, "must be non-negative")
	}
	if c.Replay.Cadence != "" && c.Replay.Cadence != "bars" && c.Replay.Cadence != "timer" {
		return invalid("replay.cadence", c.Replay.Cadence, "must be 'bars' or 'timer'")
	}
	if c.Ledger.CommissionRate < 0 || c.Ledger.CommissionRate >= 0.1 {
		return invalid("ledger.commission_rate", c.Ledger.CommissionRate, "must be in [0, 0.1)")
	}

	switch strings.ToLower(c.Provider.Kind) {
	case "rules", "":
	case "openai":
		if c.Provider.APIKey == "" {
			return invalid("provider.api_key", "", "required for the openai provider (or set OPENAI_API_KEY)")
		}
	default:
		return invalid("provider.kind", c.Provider.Kind, "must be 'rules' or 'openai'")
	}

	if c.Provider.RateLimit < 0 {
		return invalid("provider.rate_limit", c.Provider.RateLimit, "must be non-negative")
	}

	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		field := fmt.Sprintf("agents[%d]", i)
		if a.ID == "" {
			return invalid(field+".id", a.ID, "must not be empty")
		}
		if seen[a.ID] {
			return invalid(field+".id", a.ID, "duplicate agent id")
		}
		seen[a.ID] = true
		if a.InitialBalance < 0 {
			return invalid(field+".initial_balance", a.InitialBalance, "must be non-negative")
		}
		if a.LotSize < 0 {
			return invalid(field+".lot_size", a.LotSize, "must be non-negative")
		}
	}
	return nil
}

func invalid(field string, value interface{}, message string) error {
	return errors.Wrap(errors.ErrConfigInvalid, errors.NewValidationError(field, value, message).Error())
}

// SnapshotDir returns the directory holding the agent documents.
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.DataDir, "agents")
}

// EnsureDataDir creates the data directory.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return errors.NewPersistenceError("mkdir", c.DataDir, err)
	}
	return nil
}
