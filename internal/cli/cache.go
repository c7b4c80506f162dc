package cli

import (
	"github.com/spf13/cobra"

	errs "ths-trader/internal/errors"
)

func newCacheCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Market data cache maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache contents summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return errs.Wrap(errs.ErrPersistenceFailure, "data store unavailable")
			}

			stats, err := app.Store.CacheStats(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(stats)
			}

			output.Bold("Market Cache")
			output.Printf("  Entries: %d  (expired: %d)\n", stats.Entries, stats.Expired)
			for category, count := range stats.Categories {
				output.Printf("  %-10s %d\n", category, count)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear-expired",
		Short: "Remove expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return errs.Wrap(errs.ErrPersistenceFailure, "data store unavailable")
			}

			removed, err := app.Store.CacheClearExpired(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]int64{"removed": removed})
			}
			output.Success("✓ Removed %d expired entries", removed)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear-category <name>",
		Short: "Remove all cache entries in a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return errs.Wrap(errs.ErrPersistenceFailure, "data store unavailable")
			}

			removed, err := app.Store.CacheClearCategory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]int64{"removed": removed})
			}
			output.Success("✓ Removed %d entries from category %q", removed, args[0])
			return nil
		},
	})

	return cmd
}
