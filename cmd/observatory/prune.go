package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/observatory/internal/logger"
)

var pruneOlderThan time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete observations and archived responses past retention",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		retention := cfg.Storage.Retention
		if pruneOlderThan > 0 {
			retention = pruneOlderThan
		}
		obs, resp, err := a.prune(ctx, time.Now().Add(-retention))
		if err != nil {
			return err
		}
		cmd.Printf("Pruned %d observations and %d responses older than %v\n", obs, resp, retention)
		return nil
	},
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "retention override (default storage.retention)")
	rootCmd.AddCommand(pruneCmd)
}

func (a *app) prune(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	obs, resp, err := a.store.Prune(ctx, cutoff)
	if err != nil {
		return 0, 0, err
	}
	logger.Info("Pruned %d observations and %d responses before %s", obs, resp, cutoff.Format(time.RFC3339))
	return obs, resp, nil
}
