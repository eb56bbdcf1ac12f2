package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the local cache",
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cached boundary count and prune expired result pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		count, err := st.BoundaryCount(ctx)
		if err != nil {
			return err
		}
		pruned, err := st.DeleteExpiredResults(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Cached boundaries: %d (TTL %dh)\n", count, cfg.Cache.BoundaryTTLHours)
		fmt.Printf("Expired result pages pruned: %d\n", pruned)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all cached boundaries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		removed, err := st.ClearBoundaries(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Boundary cache cleared (%d removed).\n", removed)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatusCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
