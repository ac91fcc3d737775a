package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"nifty-options-engine/internal/cli"
	"nifty-options-engine/internal/config"
	"nifty-options-engine/internal/logging"
	"nifty-options-engine/internal/tracing"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	cfg, err := config.Load(configDirFromArgs(os.Args[1:]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	logger := logging.NewLoggerWithConfig(cfg.Logging)

	shutdown, err := tracing.Init(cfg.Tracing, cli.Version)
	if err != nil {
		logger.Warn().Err(err).Msg("Tracing disabled")
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Warn().Err(err).Msg("Tracing shutdown failed")
			}
		}()
	}

	rootCmd := cli.NewRootCmd(cfg, logger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// configDirFromArgs finds --config before cobra parses flags, since the
// configuration is needed to build the command tree.
func configDirFromArgs(args []string) string {
	for i, a := range args {
		switch {
		case a == "--config" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}
