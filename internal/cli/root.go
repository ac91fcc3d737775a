// Package cli provides the command-line interface for the options engine.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"nifty-options-engine/internal/config"
	"nifty-options-engine/internal/logging"
	"nifty-options-engine/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-10-17"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	store store.DataStore
}

// Store opens the SQLite store on first use.
func (a *App) Store() (store.DataStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := store.NewSQLiteStore(a.Config.Store.Path)
	if err != nil {
		return nil, err
	}
	a.store = s
	return s, nil
}

// Close releases the store if it was opened.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "niftyengine",
		Short: "NIFTY options decision and risk engine",
		Long: `niftyengine steps a NIFTY weekly options position through option-chain
snapshots: it scores market bias, picks a strike, manages the stop and exits.

Paper mode simulates fills at snapshot prices. Live mode routes orders to
Zerodha Kite Connect and only opens new positions while armed.

Use 'niftyengine help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/nifty-options-engine)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addAuthCommands(rootCmd, app)
	rootCmd.AddCommand(newRunCmd(app))
	addQueryCommands(rootCmd, app)

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
				output.Printf("niftyengine v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the engine configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]any{
					"engine":  app.Config.Engine,
					"bias":    app.Config.Bias,
					"trading": app.Config.Trading,
					"feed":    app.Config.Feed,
					"store":   app.Config.Store,
					"metrics": app.Config.Metrics,
				})
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.Config.Path()})
			} else {
				output.Println(app.Config.Path())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	e := cfg.Engine
	output.Bold("Engine")
	output.Printf("  Mode:             %s\n", e.Mode)
	output.Printf("  Exit style:       %s\n", e.ExitStyle)
	output.Printf("  Target:           %.0f%%\n", e.TargetPct)
	output.Printf("  Quantity:         %d\n", e.Quantity)
	output.Printf("  Product:          %s on %s\n", e.Product, e.Exchange)
	output.Printf("  Max trades/day:   %d\n", e.MaxTradesPerDay)
	output.Printf("  Direction:        %s\n", e.Direction)
	output.Printf("  Armed:            %v\n", e.LiveArmed)
	output.Println()

	output.Bold("Bias")
	output.Printf("  Window:           %s\n", cfg.Bias.Window)
	output.Printf("  Strike width:     %d\n", cfg.Bias.StrikeWidth)
	output.Printf("  Min score:        %.1f\n", cfg.Bias.MinScore)
	output.Println()

	output.Bold("Trading")
	output.Printf("  Mode:             %s\n", cfg.Trading.Mode)
	output.Printf("  Broker:           %s\n", cfg.Trading.Broker)
	output.Printf("  Fill confirm:     %s\n", cfg.Trading.FillConfirmDelay)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Enabled:          %v\n", cfg.Store.Enabled)
	output.Printf("  Path:             %s\n", cfg.Store.Path)
	output.Printf("  Retention:        %s\n", cfg.Feed.Retention)
	output.Println()

	output.Bold("Observability")
	output.Printf("  Metrics:          %v (%s)\n", cfg.Metrics.Enabled, cfg.Metrics.Addr)
	output.Printf("  Tracing:          %v\n", cfg.Tracing.Enabled)
	output.Printf("  Audit:            %v\n", cfg.Audit.Enabled)
}
