package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flockfinder/flockfinder/internal/wigle"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Check API credentials and usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		client := wigle.NewClient(wigle.ClientConfig{
			BaseURL:           cfg.WiGLE.BaseURL,
			Token:             cfg.WiGLE.Token,
			RequestsPerSecond: cfg.WiGLE.RequestsPerSecond,
		})

		if err := client.CheckAuth(ctx); err != nil {
			return err
		}

		status, err := client.Quota(ctx)
		if err != nil {
			return err
		}

		fmt.Println("Credentials OK.")
		fmt.Printf("Queries yesterday:  %d\n", status.DailyQueries)
		fmt.Printf("Queries last month: %d\n", status.MonthlyQueries)
		if remaining := client.Budget().Remaining(); remaining >= 0 {
			fmt.Printf("Requests remaining: %d\n", remaining)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(quotaCmd)
}
