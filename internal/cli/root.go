package cli

import (
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ths-trader/internal/config"
	"ths-trader/internal/logging"
	"ths-trader/internal/market"
	"ths-trader/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-08-01"
)

// App holds the application dependencies.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Store    store.DataStore
	Sessions *market.SessionManager
}

// NewRootCmd creates the root command for the CLI. configDir overrides the
// default state directory; the SQLite database lives alongside the config
// so an alternate --config directory carries its own state.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger, configDir string) *cobra.Command {
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Sessions: market.NewSessionManager(cfg.Session),
	}

	if configDir == "" {
		configDir = config.DefaultConfigDir()
	}
	dbPath := filepath.Join(configDir, "trader.db")
	dataStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to initialize store, some features may be unavailable")
	} else {
		app.Store = dataStore
		logger.Debug().Str("path", dbPath).Msg("SQLite store initialized")
	}

	rootCmd := &cobra.Command{
		Use:   "ths-trader",
		Short: "THS Trader - automated A-share position management CLI",
		Long: `THS Trader evaluates held A-share positions against external model
scores and market data, applies a layered risk rule cascade, and executes
approved orders one at a time through the THS desktop terminal.

Use 'ths-trader help <command>' for more information about a command.`,
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
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/ths-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newStatsCmd(app))
	rootCmd.AddCommand(newSessionCmd(app))
	rootCmd.AddCommand(newCacheCmd(app))
	rootCmd.AddCommand(newTasksCmd(app))

	return rootCmd
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
				output.Printf("THS Trader v%s\n", Version)
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
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
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

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Decision Configuration")
	output.Printf("  Stop Loss:        %.1f%%\n", cfg.Decision.StopLossRatio*100)
	output.Printf("  Stop Profit:      %.1f%%\n", cfg.Decision.StopProfitRatio*100)
	output.Printf("  Buy Amount:       %.0f\n", cfg.Decision.BuyAmount)
	output.Printf("  Blacklist:        %v\n", cfg.Decision.Blacklist)
	output.Println()

	output.Bold("Risk Configuration")
	output.Printf("  Max Daily Trades: %d\n", cfg.Risk.MaxDailyTrades)
	output.Printf("  Daily Loss Limit: %.1f%%\n", cfg.Risk.DailyLossLimit*100)
	output.Printf("  Trade Amount:     %.0f - %.0f\n", cfg.Risk.MinTradeAmount, cfg.Risk.MaxSingleTradeAmount)
	output.Printf("  Max Position:     %.0f%%\n", cfg.Risk.MaxPositionRatio*100)
	output.Printf("  Trade Interval:   %s\n", cfg.Risk.MinTradeInterval)
	output.Println()

	output.Bold("Executor Configuration")
	output.Printf("  Queue Capacity:   %d\n", cfg.Executor.QueueCapacity)
	output.Printf("  Task Timeout:     %s\n", cfg.Executor.TaskTimeout)
	output.Printf("  Order Interval:   %s\n", cfg.Executor.OrderInterval)
	output.Println()

	output.Bold("Backend Configuration")
	output.Printf("  Mode:             %s\n", cfg.Backend.Mode)
	output.Printf("  Bridge Command:   %s\n", cfg.Backend.BridgeCommand)

	return nil
}
