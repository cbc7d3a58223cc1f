package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paycore/internal/clock"
	"github.com/smallbiznis/paycore/internal/config"
	"github.com/smallbiznis/paycore/internal/events"
	"github.com/smallbiznis/paycore/internal/lock"
	obsmetrics "github.com/smallbiznis/paycore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	paymentservice "github.com/smallbiznis/paycore/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobOutboxRelay            = "outbox_relay"
	JobReconcileProcessing    = "reconcile_processing"
	JobPeriodEndCancellations = "period_end_cancellations"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Payments *paymentservice.Service
	Repo     paymentdomain.Repository
	Relay    *events.Relay
	Policy   *config.PolicyHolder
	Locker   *lock.Locker                 `optional:"true"`
	Metrics  *obsmetrics.SchedulerMetrics `optional:"true"`
	Config   Config                       `optional:"true"`
}

type Scheduler struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	payments *paymentservice.Service
	repo     paymentdomain.Repository
	relay    *events.Relay
	policy   *config.PolicyHolder
	locker   *lock.Locker
	metrics  *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Payments == nil || p.Repo == nil || p.Relay == nil || p.Policy == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:       p.DB,
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		payments: p.Payments,
		repo:     p.Repo,
		relay:    p.Relay,
		policy:   p.Policy,
		locker:   p.Locker,
		metrics:  p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.beginRun(ctx, name, batchSize)
	log := s.logger(ctx).With(zap.String("job", name))

	// The lease outlives the job deadline so a slow run is not doubled.
	err := s.locker.WithLock(ctx, name, timeout+5*time.Second, func(ctx context.Context) error {
		s.metrics.IncJobRun(name)
		return fn(ctx)
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		log.Debug("job skipped, lease held elsewhere")
		return nil
	}
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil && run.failed == 0 {
		run.failed = 1
	}
	s.finishRun(ctx, run)
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job one time and joins their errors.
func (s *Scheduler) RunOnce(parent context.Context) error {
	jobs := []struct {
		Name      string
		BatchSize int
		Run       func(context.Context) error
	}{
		{JobOutboxRelay, s.cfg.BatchSize, s.OutboxRelayJob},
		{JobReconcileProcessing, s.cfg.BatchSize, s.ReconcileProcessingJob},
		{JobPeriodEndCancellations, s.cfg.BatchSize, s.PeriodEndCancellationsJob},
	}

	var err error
	for _, job := range jobs {
		if !s.cfg.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.BatchSize, s.cfg.JobTimeout, job.Run))
	}
	return err
}

// RunJob runs one named job, for the CLI.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	var fn func(context.Context) error
	switch name {
	case JobOutboxRelay:
		fn = s.OutboxRelayJob
	case JobReconcileProcessing:
		fn = s.ReconcileProcessingJob
	case JobPeriodEndCancellations:
		fn = s.PeriodEndCancellationsJob
	default:
		return fmt.Errorf("unknown job %q", name)
	}
	return s.runJob(ctx, name, s.cfg.BatchSize, s.cfg.JobTimeout, fn)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)

	for {
		if runLag := time.Since(nextRun); runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
