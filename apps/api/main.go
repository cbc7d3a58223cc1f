package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paycore/internal/clock"
	"github.com/smallbiznis/paycore/internal/config"
	"github.com/smallbiznis/paycore/internal/events"
	"github.com/smallbiznis/paycore/internal/migration"
	"github.com/smallbiznis/paycore/internal/observability"
	"github.com/smallbiznis/paycore/internal/payment"
	"github.com/smallbiznis/paycore/internal/server"
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
		migration.Module,

		// Payment core: adapters, orchestrator, webhook ledger, outbox writer
		events.Module,
		payment.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
