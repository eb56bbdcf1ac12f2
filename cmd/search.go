package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flockfinder/flockfinder/internal/export"
)

var (
	searchAreas   []string
	searchFormats []string
	searchOutDir  string
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search for surveillance devices in the given areas",
	Long:  "Resolves each area to query units, searches the observation API, classifies and deduplicates the results, and writes the requested export files.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		names := searchFormats
		if len(names) == 0 {
			names = cfg.Export.Formats
		}
		formats, err := export.ParseFormats(names)
		if err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		units, areaFailures, err := e.Resolver.Resolve(ctx, searchAreas...)
		if err != nil {
			return err
		}
		for _, f := range areaFailures {
			fmt.Printf("warning: area %s skipped: %s\n", f.AreaID, f.Error)
		}

		result, err := e.Orchestrator.Run(ctx, units, searchAreas)
		if err != nil {
			return err
		}

		outDir := searchOutDir
		if outDir == "" {
			outDir = cfg.Export.Dir
		}
		paths, err := export.WriteAll(result, outDir, formats)
		if err != nil {
			return err
		}

		fmt.Printf("Devices found: %d (from %d observations, %d matched before dedup)\n",
			result.Stats.Deduplicated, result.Stats.RawObservations, result.Stats.Matched)
		fmt.Printf("Units: %d requested, %d completed, %d failed, %d skipped\n",
			result.Stats.UnitsRequested, result.Stats.UnitsCompleted,
			result.Stats.UnitsFailed, result.Stats.UnitsSkipped)
		if result.Stats.Malformed > 0 {
			fmt.Printf("Malformed observations dropped: %d\n", result.Stats.Malformed)
		}
		for _, p := range paths {
			fmt.Printf("Wrote %s\n", p)
		}

		if remaining := e.WiGLE.Budget().Remaining(); remaining >= 0 {
			zap.L().Info("request budget after run", zap.Int("remaining", remaining))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringSliceVar(&searchAreas, "areas", nil, "area identifiers (e.g. tx-collin, us-tx, 75024 registry areas)")
	searchCmd.Flags().StringSliceVar(&searchFormats, "formats", nil, "export formats: json,csv,kml,shp,xlsx (default from config)")
	searchCmd.Flags().StringVar(&searchOutDir, "out", "", "output directory (default from config)")
	_ = searchCmd.MarkFlagRequired("areas")
	rootCmd.AddCommand(searchCmd)
}
