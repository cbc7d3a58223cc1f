package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/smallbiznis/paycore/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func reconcileCmd() *cobra.Command {
	var (
		once     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Verify PROCESSING payment intents against their provider",
		Long: `Poll the provider for every payment intent stuck in PROCESSING past the
reconciliation threshold and apply the reported status.

Examples:
  paycore reconcile --once
  paycore reconcile --interval 1m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				sched *scheduler.Scheduler
				log   *zap.Logger
			)
			app := fx.New(infra(), core(true), fx.NopLogger, fx.Populate(&sched, &log))
			if err := app.Err(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = app.Stop(stopCtx)
			}()

			if once {
				return sched.RunJob(ctx, scheduler.JobReconcileProcessing)
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				if err := sched.RunJob(ctx, scheduler.JobReconcileProcessing); err != nil {
					log.Warn("reconcile run failed", zap.Error(err))
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single reconciliation pass and exit")
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "time between passes when not running once")
	return cmd
}
