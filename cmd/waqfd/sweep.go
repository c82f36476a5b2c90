package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/waqf-engine/api"
)

func sweepCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "apply stored expiration preferences to every matured tranche once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := api.NewSweeper(a.service, a.store, a.cnf.SweepInterval()).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
