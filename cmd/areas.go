package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flockfinder/flockfinder/internal/registry"
)

var areasCmd = &cobra.Command{
	Use:   "areas",
	Short: "List searchable areas",
	Long:  "Lists the static registry areas. Dynamic areas use OpenStreetMap identifiers: us-<state> for a state, us-<state>/<county> for a county.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		reg, err := registry.Load(cfg.Data.RegistryDir)
		if err != nil {
			return err
		}

		areas := reg.Areas()
		if len(areas) == 0 {
			fmt.Println("No registry areas found. Dynamic areas (us-tx, us-tx/collin) are always available.")
		} else {
			fmt.Printf("%-24s %-28s %s\n", "ID", "NAME", "ZIP CODES")
			for _, a := range areas {
				fmt.Printf("%-24s %-28s %d\n", a.ID, a.DisplayName, len(a.ZIPCodes))
			}
			fmt.Printf("\n%d areas. Dynamic areas use us-<state> or us-<state>/<county>.\n", len(areas))
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		cached, err := st.BoundaryCount(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Cached dynamic boundaries: %d\n", cached)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(areasCmd)
}
