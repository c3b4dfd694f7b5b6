// Package cli provides the command-line interface for the replay trader.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"replay-trader/internal/config"
	"replay-trader/internal/models"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-06-01"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "replay-trader",
		Short: "Replay Trader - deterministic market replay for trading agents",
		Long: `Replay Trader replays historical minute bars at a controllable speed,
lets independent trading agents decide on what they can see so far and books
every decision into an exact FIFO lot ledger per agent.

Agent state survives restarts. Use 'replay-trader backtest --demo' to try it
on generated bars.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dir, _ := cmd.Flags().GetString("config"); dir != "" && dir != app.Config.ConfigDir {
				loaded, err := config.Load(dir)
				if err != nil {
					return err
				}
				app.Config = loaded
			}

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/replay-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addReplayCommands(rootCmd, app)

	return rootCmd
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Replay Trader v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redacted(app.Config))
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			path := config.Path(app.Config.ConfigDir)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": path})
			} else {
				output.Println(path)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

// redacted returns a copy of cfg without secrets.
func redacted(cfg *config.Config) *config.Config {
	c := *cfg
	if c.Provider.APIKey != "" {
		c.Provider.APIKey = "****"
	}
	return &c
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Replay")
	output.Printf("  Frames:          %s\n", orDash(cfg.Replay.FramesPath))
	output.Printf("  Speed:           %.1f bars/min\n", cfg.Replay.Speed)
	output.Printf("  Warmup bars:     %d\n", cfg.Replay.WarmupBars)
	output.Printf("  Loop:            %v\n", cfg.Replay.Loop)
	output.Printf("  Cadence:         %s\n", cfg.Replay.Cadence)
	if cfg.Replay.Cadence == "timer" {
		output.Printf("  Cycle:           %d ms\n", cfg.Scheduler.CycleMs)
	} else {
		output.Printf("  Cycle:           every %d bars\n", cfg.Replay.CycleBars)
	}
	output.Println()

	output.Bold("Ledger")
	output.Printf("  Commission:      %.3f%%\n", cfg.Ledger.CommissionRate*100)
	output.Printf("  Journal days:    %d\n", cfg.Ledger.JournalDays)
	output.Printf("  Closed kept:     %d\n", cfg.Ledger.ClosedPositions)
	output.Printf("  Equity points:   %d\n", cfg.Ledger.EquityPoints)
	output.Println()

	output.Bold("Provider")
	output.Printf("  Kind:            %s\n", cfg.Provider.Kind)
	if cfg.Provider.Kind == "openai" {
		output.Printf("  Model:           %s\n", cfg.Provider.Model)
		output.Printf("  API key:         %s\n", maskKey(cfg.Provider.APIKey))
	}
	output.Println()

	output.Bold("Storage")
	output.Printf("  Data dir:        %s\n", cfg.DataDir)
	output.Printf("  Archive:         %v (%s)\n", cfg.Archive.Enabled, cfg.Archive.Path)
	output.Println()

	output.Bold("Agents")
	for _, a := range cfg.Agents {
		output.Printf("  %-16s %s, %s\n", a.ID, orDash(a.Strategy), symbolsOf(a))
	}
	return nil
}

func symbolsOf(a models.AgentConfig) string {
	if len(a.Symbols) == 0 {
		return "all symbols"
	}
	return TruncateString(joinSymbols(a.Symbols), 40)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		if key == "" {
			return "-"
		}
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
