package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/selivandex/lp-advisor/internal/adapters/database"
)

func newMigrateCmd() *cobra.Command {
	var down, version bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := database.New(cmd.Context(), &cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			switch {
			case version:
				v, dirty, err := db.MigrationVersion()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
				return nil
			case down:
				return db.RollbackMigration()
			}
			return db.RunMigrations()
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "Roll back the last migration")
	cmd.Flags().BoolVar(&version, "version", false, "Print the applied version and exit")
	return cmd
}
