package events

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/paycore/internal/clock"
	obsmetrics "github.com/smallbiznis/paycore/internal/observability/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type RelayConfig struct {
	BatchSize   int
	MaxAttempts int
	RetryDelay  time.Duration
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		BatchSize:   100,
		MaxAttempts: 10,
		RetryDelay:  30 * time.Second,
	}
}

func (c RelayConfig) withDefaults() RelayConfig {
	defaults := DefaultRelayConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaults.RetryDelay
	}
	return c
}

// Relay moves committed outbox rows to the publisher. Messages that exhaust
// MaxAttempts stay in the table for operators.
type Relay struct {
	db        *gorm.DB
	publisher Publisher
	clock     clock.Clock
	log       *zap.Logger
	metrics   *obsmetrics.SchedulerMetrics
	cfg       RelayConfig
}

func NewRelay(db *gorm.DB, publisher Publisher, c clock.Clock, log *zap.Logger, metrics *obsmetrics.SchedulerMetrics, cfg RelayConfig) *Relay {
	if c == nil {
		c = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		db:        db,
		publisher: publisher,
		clock:     c,
		log:       log.Named("outbox.relay"),
		metrics:   metrics,
		cfg:       cfg.withDefaults(),
	}
}

// RunOnce publishes one batch and returns how many messages went out. A
// publish failure reschedules the whole batch with linear backoff.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	var (
		published  int
		publishErr error
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.clock.Now()
		batch, err := ClaimDue(ctx, tx, now, r.cfg.MaxAttempts, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		publishErr = r.publisher.Publish(ctx, batch)
		for _, msg := range batch {
			if publishErr == nil {
				if err := MarkPublished(ctx, tx, msg.ID, now); err != nil {
					return err
				}
				published++
				continue
			}

			attempts := msg.Attempts + 1
			if attempts >= r.cfg.MaxAttempts {
				r.log.Warn("outbox message exhausted attempts",
					zap.String("event_id", msg.ID.String()),
					zap.String("event_type", msg.EventType),
					zap.Int("attempts", attempts),
				)
				r.metrics.IncOutboxExhausted(msg.EventType)
			}
			next := now.Add(time.Duration(attempts) * r.cfg.RetryDelay)
			if err := Reschedule(ctx, tx, msg.ID, next, publishErr.Error()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if pending, err := CountPending(ctx, r.db, r.cfg.MaxAttempts); err == nil {
		r.metrics.SetOutboxPending(pending)
	}

	if publishErr != nil {
		return 0, fmt.Errorf("publish outbox batch: %w", publishErr)
	}
	if published > 0 {
		r.log.Debug("outbox batch published", zap.Int("count", published))
	}
	return published, nil
}
