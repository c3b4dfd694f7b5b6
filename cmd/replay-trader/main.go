package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"replay-trader/internal/cli"
	"replay-trader/internal/config"
	"replay-trader/internal/logging"
)

func main() {
	// A missing .env is fine; the environment is used as is.
	_ = godotenv.Load()

	configDir := configFlag(os.Args[1:])
	cfg, err := config.Load(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v; using defaults\n", err)
		cfg = config.Default()
		if configDir != "" {
			cfg.ConfigDir = configDir
		}
	}

	logger := logging.NewLoggerWithConfig(cfg.Logging)
	if err := cli.NewRootCmd(cfg, logger).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// configFlag finds --config before cobra parses the command line, since the
// logger has to exist first.
func configFlag(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "--":
			return ""
		case arg == "--config" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(arg, "--config="):
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return ""
}
