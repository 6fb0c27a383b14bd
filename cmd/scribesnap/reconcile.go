package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Mark interrupted work items as failed",
	Long: `Run one reconciliation pass: work items left in "processing" for longer
than reconcile.stale_after are marked failed so clients stop waiting on them.

serve runs the same pass periodically when reconcile.enabled is true.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, _, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer closeApp(a)

		n, err := a.Reconcile(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %d work items\n", n)
		return nil
	},
}
