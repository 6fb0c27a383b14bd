package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Long: `Create or upgrade the work item table in the configured database.

serve migrates automatically unless database.auto_migrate is false.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, _, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer closeApp(a)

		items, err := a.OpenStore(ctx)
		if err != nil {
			return err
		}
		if err := items.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	},
}
