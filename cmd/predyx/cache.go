package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	cachepkg "github.com/predyx-ai/predyx/pkg/cache/sqlite"
	"github.com/predyx-ai/predyx/pkg/config"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the durable prediction cache tier",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show durable cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openDurableTier(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Entries: %d\nHits:    %d\nMisses:  %d\n", stats.Entries, stats.Hits, stats.Misses)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear durable cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openDurableTier(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if err := c.Clear(context.Background(), expiredOnly); err != nil {
				return err
			}
			if expiredOnly {
				fmt.Println("Expired cache entries cleared.")
			} else {
				fmt.Println("All cache entries cleared.")
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "predyx.yaml", "path to config file")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

func openDurableTier(configPath string) (*cachepkg.Tier, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	dbPath := cfg.Cache.L3.DBPath
	if dbPath == "" {
		dbPath = cfg.DBPath
	}
	return cachepkg.New(dbPath, cfg.Cache.L3.TTL)
}
