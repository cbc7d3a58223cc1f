package main

import (
	"fmt"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paycore/internal/clock"
	"github.com/smallbiznis/paycore/internal/config"
	"github.com/smallbiznis/paycore/internal/events"
	"github.com/smallbiznis/paycore/internal/lock"
	"github.com/smallbiznis/paycore/internal/observability"
	"github.com/smallbiznis/paycore/internal/payment"
	"github.com/smallbiznis/paycore/internal/scheduler"
	"github.com/smallbiznis/paycore/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var Version = "dev"

var nodeID int64

func main() {
	rootCmd := &cobra.Command{
		Use:     "paycore",
		Short:   "paycore - multi-provider payment orchestration",
		Version: Version,
	}
	rootCmd.PersistentFlags().Int64Var(&nodeID, "node-id", 1, "snowflake node id for ledger and outbox ids")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(schedulerCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// infra is the base every command builds on.
func infra() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
	)
}

// core adds the payment services and, for background work, the scheduler.
func core(withScheduler bool) fx.Option {
	opts := []fx.Option{
		events.Module,
		payment.Module,
	}
	if withScheduler {
		opts = append(opts, lock.Module, scheduler.Module)
	}
	return fx.Options(opts...)
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(nodeID)
}
