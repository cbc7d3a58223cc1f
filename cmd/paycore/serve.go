package main

import (
	"github.com/smallbiznis/paycore/internal/migration"
	"github.com/smallbiznis/paycore/internal/scheduler"
	"github.com/smallbiznis/paycore/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd() *cobra.Command {
	var withScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and webhook receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []fx.Option{
				infra(),
				migration.Module,
				core(withScheduler),
				server.Module,
			}
			if withScheduler {
				opts = append(opts, fx.Invoke(scheduler.Start))
			}
			app := fx.New(opts...)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
	cmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "also run background jobs in this process")
	return cmd
}

func schedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the outbox relay, reconciliation and period-end jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				infra(),
				core(true),
				fx.Invoke(scheduler.Start),
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}
