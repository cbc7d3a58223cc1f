package events

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paycore/internal/clock"
	"github.com/smallbiznis/paycore/internal/config"
	obsmetrics "github.com/smallbiznis/paycore/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("events",
	fx.Provide(provideOutbox),
	fx.Provide(providePublisher),
	fx.Provide(provideRelay),
)

func provideOutbox(db *gorm.DB, genID *snowflake.Node, c clock.Clock) *Outbox {
	return NewOutbox(db, genID, c)
}

// providePublisher picks Kafka when brokers are configured and the log
// publisher otherwise.
func providePublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Publisher {
	if !cfg.Kafka.Enabled() {
		log.Info("kafka not configured, outbox events go to the log")
		return NewLogPublisher(log)
	}
	publisher := NewKafkaPublisher(NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})
	return publisher
}

type relayParams struct {
	fx.In

	DB        *gorm.DB
	Publisher Publisher
	Clock     clock.Clock
	Log       *zap.Logger
	Metrics   *obsmetrics.SchedulerMetrics `optional:"true"`
	Config    RelayConfig                  `optional:"true"`
}

func provideRelay(p relayParams) *Relay {
	return NewRelay(p.DB, p.Publisher, p.Clock, p.Log, p.Metrics, p.Config)
}
