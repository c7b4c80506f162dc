package cli

import (
	"time"

	"github.com/spf13/cobra"

	errs "ths-trader/internal/errors"
	"ths-trader/internal/models"
	"ths-trader/internal/store"
)

func newStatsCmd(app *App) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show daily trading statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return errs.Wrap(errs.ErrPersistenceFailure, "data store unavailable")
			}

			day := date
			if day == "" {
				day = time.Now().Format("2006-01-02")
			}

			ctx := cmd.Context()
			stats, err := app.Store.GetDailyStats(ctx, day)
			if errs.Is(err, errs.ErrDataNotFound) {
				stats = &models.DailyStats{Date: day}
			} else if err != nil {
				return err
			}

			trades, err := app.Store.GetTrades(ctx, store.TradeFilter{Date: day})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"stats":  stats,
					"trades": trades,
				})
			}

			output.Bold("Daily Statistics (%s)", stats.Date)
			output.Printf("  Trades:       %d\n", stats.TradeCount)
			output.Printf("  Realized P&L: %s\n", output.FormatPnL(stats.RealizedPnL))
			if stats.CircuitBreakerTripped {
				output.Error("  Circuit breaker: TRIPPED")
			} else {
				output.Success("  Circuit breaker: normal")
			}

			if len(trades) > 0 {
				output.Println()
				table := NewTable(output, "TIME", "CODE", "NAME", "ACTION", "QTY", "PRICE", "P&L", "MODE")
				for _, tr := range trades {
					mode := "live"
					if tr.DryRun {
						mode = "dry-run"
					}
					table.AddRow(
						tr.Timestamp.Format("15:04:05"),
						tr.Code,
						tr.Name,
						string(tr.Action),
						formatInt(tr.Quantity),
						formatPrice(tr.Price),
						output.FormatPnL(tr.RealizedPnL),
						mode,
					)
				}
				table.Render()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "trading day to report (default today, 2006-01-02)")
	cmd.AddCommand(newResetBreakerCmd(app))
	return cmd
}

func newResetBreakerCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-breaker",
		Short: "Manually reset today's circuit breaker",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return errs.Wrap(errs.ErrPersistenceFailure, "data store unavailable")
			}

			ctx := cmd.Context()
			day := time.Now().Format("2006-01-02")

			stats, err := app.Store.GetDailyStats(ctx, day)
			if errs.Is(err, errs.ErrDataNotFound) {
				output.Info("No activity recorded today, nothing to reset")
				return nil
			}
			if err != nil {
				return err
			}
			if !stats.CircuitBreakerTripped {
				output.Info("Circuit breaker is not tripped")
				return nil
			}

			stats.CircuitBreakerTripped = false
			if err := app.Store.SaveDailyStats(ctx, stats); err != nil {
				return err
			}

			app.Logger.Warn().Str("date", day).Msg("circuit breaker manually reset")
			output.Success("✓ Circuit breaker reset for %s", day)
			return nil
		},
	}
}
