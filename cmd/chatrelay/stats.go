package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phrazzld/chatrelay/internal/pipeline"
	"github.com/phrazzld/chatrelay/internal/store"
)

func newStatsCmd(c *cli) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the persisted pipeline statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newStoreApplication(ctx, c.config, c.logger)
			if err != nil {
				return err
			}
			defer app.cleanup(ctx)

			if reset {
				if err := app.store.Delete(ctx, store.KeyStatistics); err != nil {
					return fmt.Errorf("failed to reset statistics: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "statistics reset")
				return nil
			}

			var stats pipeline.Statistics
			if err := store.GetJSON(ctx, app.store, store.KeyStatistics, &stats); err != nil && !store.IsNotFound(err) {
				return fmt.Errorf("failed to read statistics: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "delete the persisted statistics")
	return cmd
}
