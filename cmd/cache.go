package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/site-analyzer/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the scrape and answer caches",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired cache entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCacheStore(cmd, "prune", store.Store.DeleteExpired)
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cache entry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCacheStore(cmd, "clear", store.Store.ClearCache)
	},
}

func init() {
	cacheCmd.AddCommand(cachePruneCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func withCacheStore(cmd *cobra.Command, action string, op func(store.Store, context.Context) (int, error)) error {
	ctx := cmd.Context()
	if err := cfg.Validate("cache"); err != nil {
		return err
	}
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	n, err := op(st, ctx)
	if err != nil {
		return eris.Wrapf(err, "cache %s", action)
	}
	zap.L().Info("cache: done", zap.String("action", action), zap.Int("entries", n))
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries.\n", n)
	return nil
}
