package cli

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ths-trader/internal/backend"
	"ths-trader/internal/decision"
	errs "ths-trader/internal/errors"
	"ths-trader/internal/executor"
	"ths-trader/internal/market"
	"ths-trader/internal/notify"
	"ths-trader/internal/risk"
	"ths-trader/internal/trading"
)

func newRunCmd(app *App) *cobra.Command {
	var (
		auto     bool
		interval time.Duration
		testMode bool
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an evaluation pass over held positions",
		Long: `Evaluate every held position against current quotes and model scores,
risk-check the resulting signals, and execute approved orders.

A single pass runs by default; --auto repeats at the configured interval
until interrupted. --test uses synthetic market data and --dry-run stubs
the execution backend so no real orders are placed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			pipeline, exec, err := buildPipeline(app, output, testMode, dryRun)
			if err != nil {
				return err
			}
			defer exec.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if auto {
				if err := pipeline.RunAuto(ctx, interval); err != nil && ctx.Err() == nil {
					return err
				}
				printExecutorStats(output, exec)
				return nil
			}

			summary, err := pipeline.RunOnce(ctx)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(summary)
			}
			printExecutorStats(output, exec)
			return nil
		},
	}

	cmd.Flags().BoolVar(&auto, "auto", false, "repeat evaluation passes until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "delay between passes in auto mode")
	cmd.Flags().BoolVar(&testMode, "test", false, "use synthetic market data providers")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "stub the execution backend, no real orders")

	return cmd
}

// buildPipeline wires the full decision → risk → execution stack for a
// run. The executor is started and must be closed by the caller.
func buildPipeline(app *App, output *Output, testMode, dryRun bool) (*trading.Pipeline, *executor.Executor, error) {
	if app.Store == nil {
		return nil, nil, errs.Wrap(errs.ErrPersistenceFailure, "data store unavailable, cannot run")
	}

	cfg := app.Config
	logger := app.Logger

	var (
		quotes    market.QuoteProvider
		scores    market.ScoreProvider
		positions market.PositionProvider
	)
	if testMode {
		synthetic := market.NewSyntheticProvider()
		quotes, scores, positions = synthetic, synthetic, synthetic
		output.Warning("⚠ Test mode: synthetic market data")
	} else {
		bridge, err := market.NewBridgeProvider(cfg.Backend, logger)
		if err != nil {
			return nil, nil, err
		}
		quotes = market.NewCachedQuoteProvider(bridge, app.Store, app.Sessions, cfg.Cache, logger)
		scores = market.NewCachedScoreProvider(bridge, app.Store, app.Sessions, cfg.Cache, logger)
		positions = bridge
	}

	riskCfg := cfg.Risk
	if testMode || dryRun {
		riskCfg.EnforceTradingTime = false
	}
	riskMgr, err := risk.NewManager(&riskCfg, app.Store, app.Sessions, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing risk manager: %w", err)
	}
	riskMgr.SetBlacklist(cfg.Decision.Blacklist)

	var be backend.Backend
	if dryRun {
		be = backend.NewDryRunBackend(cfg.Backend.ConfirmDelay)
		output.Warning("⚠ Dry run: orders will not reach the terminal")
	} else {
		be, err = backend.New(&cfg.Backend, logger)
		if err != nil {
			return nil, nil, err
		}
	}

	exec := executor.New(&cfg.Executor, be, logger)
	exec.Start()

	engine := decision.NewEngine(&cfg.Decision, blacklistFunc(cfg.Decision.Blacklist), logger)

	pipeline := trading.NewPipeline(
		cfg, engine, riskMgr, exec,
		quotes, scores, positions,
		notify.NewTerminalNotifier(), app.Store,
		logger, dryRun,
	)
	return pipeline, exec, nil
}

// blacklistFunc builds the decision engine's exclusion predicate from
// the configured blacklist.
func blacklistFunc(codes []string) decision.ExclusionFunc {
	if len(codes) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return func(code string) bool {
		_, ok := set[code]
		return ok
	}
}

func printExecutorStats(output *Output, exec *executor.Executor) {
	stats := exec.Stats()
	output.Println()
	output.Bold("Executor")
	output.Printf("  Submitted: %d  Completed: %d  Failed: %d  Timed out: %d  Cancelled: %d\n",
		stats.Submitted, stats.Completed, stats.Failed, stats.TimedOut, stats.Cancelled)
	output.Printf("  Queue depth: %d  Uptime: %s\n", stats.QueueDepth, stats.Uptime.Round(time.Second))
}
