package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cachePruneOlderThan int

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the lookup caches",
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache sizes and today's geocoder quota usage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		day := time.Now().UTC().Format("2006-01-02")
		stats, err := st.CacheStats(ctx, day)
		if err != nil {
			return eris.Wrap(err, "cache status")
		}

		fmt.Fprintf(os.Stdout, "geocode cache:   %d entries\n", stats.Geocodes)
		fmt.Fprintf(os.Stdout, "district cache:  %d entries\n", stats.Districts)
		fmt.Fprintf(os.Stdout, "boundaries:      %d districts\n", stats.Boundaries)
		fmt.Fprintf(os.Stdout, "quota used (%s): %d / %d\n", day, stats.QuotaToday, cfg.Corrector.DailyQuota)
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete cache entries older than a cutoff",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		olderThan := cachePruneOlderThan
		if olderThan <= 0 {
			olderThan = cfg.Districts.CacheTTLDays
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		removed, err := st.PruneCaches(ctx, olderThan)
		if err != nil {
			return eris.Wrap(err, "cache prune")
		}

		zap.L().Info("caches pruned",
			zap.Int("removed", removed),
			zap.Int("older_than_days", olderThan),
		)
		return nil
	},
}

func init() {
	cachePruneCmd.Flags().IntVar(&cachePruneOlderThan, "older-than", 0, "prune entries older than this many days (default: cache TTL)")

	cacheCmd.AddCommand(cacheStatusCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}
