package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paycore/internal/clock"
	"github.com/smallbiznis/paycore/internal/config"
	"github.com/smallbiznis/paycore/internal/events"
	"github.com/smallbiznis/paycore/internal/lock"
	"github.com/smallbiznis/paycore/internal/observability"
	"github.com/smallbiznis/paycore/internal/payment"
	"github.com/smallbiznis/paycore/internal/scheduler"
	"github.com/smallbiznis/paycore/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by scheduler
		events.Module,
		payment.Module,
		lock.Module,
		scheduler.Module,

		// No server module!
		fx.Invoke(scheduler.Start),
	)
	app.Run()
}

// RegisterSnowflake uses a node id apart from the API so both processes
// can write ledger and outbox rows.
func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
