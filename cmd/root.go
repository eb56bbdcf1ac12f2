package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flockfinder/flockfinder/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "flockfinder",
	Short: "Locate ALPR surveillance cameras via WiFi observation data",
	Long:  "Correlates known surveillance-device WiFi signatures against the WiGLE observation database across a chosen geographic area and exports the matches for mapping.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
