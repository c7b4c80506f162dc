package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newSessionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show the current market session",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			now := time.Now()

			info := app.Sessions.SessionAt(now)
			nextOpen := app.Sessions.NextOpen(now)
			lastClose := app.Sessions.LastTradingClose(now)

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"stage":              string(info.Stage),
					"description":        info.Description,
					"trading":            info.Trading,
					"next_open":          nextOpen,
					"last_trading_close": lastClose,
				})
			}

			output.Bold("Market Session")
			output.Printf("  Stage:       %s\n", output.StageStatus(info.Trading, info.Stage.String()))
			output.Printf("  Description: %s\n", info.Description)
			output.Printf("  Trading:     %v\n", info.Trading)
			if !info.Trading {
				output.Printf("  Next open:   %s\n", nextOpen.Format("2006-01-02 15:04"))
			}
			if !lastClose.IsZero() {
				output.Printf("  Last close:  %s\n", lastClose.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func formatInt(n int) string {
	return strconv.Itoa(n)
}

func formatPrice(p float64) string {
	return fmt.Sprintf("%.2f", p)
}
