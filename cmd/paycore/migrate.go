package main

import (
	"fmt"

	"github.com/smallbiznis/paycore/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func migrateCmd() *cobra.Command {
	var statusOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply every embedded migration that has not run yet.

Examples:
  paycore migrate
  paycore migrate --status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var conn *gorm.DB
			app := fx.New(infra(), fx.NopLogger, fx.Populate(&conn))
			if err := app.Err(); err != nil {
				return err
			}
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			if !statusOnly {
				if err := migration.RunMigrations(sqlDB); err != nil {
					return err
				}
			}
			version, dirty, err := migration.Version(sqlDB)
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
	cmd.Flags().BoolVar(&statusOnly, "status", false, "print the schema version without migrating")
	return cmd
}
