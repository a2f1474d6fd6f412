package main

import (
	"fmt"

	"github.com/safar/grocery-store/internal/config"
	"github.com/safar/grocery-store/internal/database"
	"github.com/spf13/cobra"
)

// api migrate up|down
var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or roll back the database schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(database.MigrateUp), string(database.MigrateDown)},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadDatabase()
		direction := database.MigrateDirection(args[0])

		if err := database.Migrate(cfg.URL, direction); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "migrations %s complete\n", direction)
		return nil
	},
}
