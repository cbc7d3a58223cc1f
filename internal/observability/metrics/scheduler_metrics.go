package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"gorm.io/gorm"
)

// Job error reasons. The set is closed so the reason label stays bounded.
const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonProviderUnavailable  = "provider_unavailable"
	ReasonProviderRejected     = "provider_rejected"
	ReasonInvalidState         = "invalid_state"
	ReasonUnknown              = "unknown"
)

// Reconcile results recorded per provider.
const (
	ReconcileSettled   = "settled"
	ReconcileUnchanged = "unchanged"
	ReconcileFailed    = "failed"
)

// SchedulerMetrics covers the background jobs: the outbox relay, the
// PROCESSING reconciliation sweep and period-end cancellations.
type SchedulerMetrics struct {
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobTimeouts     *prometheus.CounterVec
	jobErrors       *prometheus.CounterVec
	batchProcessed  *prometheus.CounterVec
	reconcileResult *prometheus.CounterVec
	outboxExhausted *prometheus.CounterVec
	outboxPending   prometheus.Gauge
	runLoopLag      prometheus.Histogram
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// SchedulerWithConfig returns the process-wide collectors on the default
// registry.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = NewSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// NewSchedulerMetrics registers a fresh set of collectors on reg. Tests pass
// a private registry.
func NewSchedulerMetrics(reg prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := constLabelsFor(cfg)
	counter := func(name, help string, keys ...string) *prometheus.CounterVec {
		c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help, ConstLabels: labels}, keys)
		reg.MustRegister(c)
		return c
	}

	m := &SchedulerMetrics{
		jobRuns:         counter("paycore_scheduler_job_runs_total", "Scheduler job runs that held the lease.", "job"),
		jobTimeouts:     counter("paycore_scheduler_job_timeouts_total", "Scheduler job runs that hit their deadline.", "job"),
		jobErrors:       counter("paycore_scheduler_job_errors_total", "Scheduler job failures by reason.", "job", "reason"),
		batchProcessed:  counter("paycore_scheduler_batch_processed_total", "Rows a job handled, by resource.", "job", "resource"),
		reconcileResult: counter("paycore_reconcile_results_total", "PROCESSING intents polled by provider and result.", "provider", "result"),
		outboxExhausted: counter("paycore_outbox_exhausted_total", "Outbox messages that used every publish attempt.", "event_type"),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "paycore_scheduler_job_duration_seconds",
			Help:        "Scheduler job latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 15, 30, 60, 120},
			ConstLabels: labels,
		}, []string{"job"}),
		outboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "paycore_outbox_pending",
			Help:        "Outbox messages still eligible for publishing.",
			ConstLabels: labels,
		}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "paycore_scheduler_runloop_lag_seconds",
			Help:        "Delay of a tick past its scheduled time.",
			Buckets:     []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(m.jobDuration, m.outboxPending, m.runLoopLag)
	return m
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m != nil {
		m.jobRuns.WithLabelValues(job).Inc()
	}
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m != nil {
		m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
	}
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m != nil {
		m.jobTimeouts.WithLabelValues(job).Inc()
	}
}

func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m != nil && err != nil {
		m.jobErrors.WithLabelValues(job, ClassifyJobError(err)).Inc()
	}
}

func (m *SchedulerMetrics) AddBatchProcessed(job, resource string, n int) {
	if m != nil && n > 0 {
		m.batchProcessed.WithLabelValues(job, resource).Add(float64(n))
	}
}

// ObserveReconcile counts one provider poll. result is one of the
// Reconcile* constants.
func (m *SchedulerMetrics) ObserveReconcile(provider, result string) {
	if m != nil {
		m.reconcileResult.WithLabelValues(provider, result).Inc()
	}
}

func (m *SchedulerMetrics) IncOutboxExhausted(eventType string) {
	if m != nil {
		m.outboxExhausted.WithLabelValues(eventType).Inc()
	}
}

func (m *SchedulerMetrics) SetOutboxPending(n int64) {
	if m != nil {
		m.outboxPending.Set(float64(n))
	}
}

func (m *SchedulerMetrics) ObserveRunLoopLag(d time.Duration) {
	if m != nil {
		m.runLoopLag.Observe(max(d, 0).Seconds())
	}
}

// ClassifyJobError maps a job or item error to one of the Reason constants.
// Provider failures split on whether a later poll can succeed.
func ClassifyJobError(err error) string {
	var (
		perr   *paymentdomain.ProviderError
		verr   *paymentdomain.ValidationError
		pgErr  *pgconn.PgError
		pgCode string
	)
	if errors.As(err, &pgErr) {
		pgCode = pgErr.Code
	}
	switch {
	case err == nil:
		return ReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ReasonDeadlineExceeded
	case pgCode == "55P03":
		return ReasonDBLockTimeout
	case pgCode == "40001":
		return ReasonSerializationFailure
	case pgCode == "23505", errors.Is(err, gorm.ErrDuplicatedKey):
		return ReasonUniqueViolation
	case errors.As(err, &perr) && perr.Retryable:
		return ReasonProviderUnavailable
	case perr != nil:
		return ReasonProviderRejected
	case errors.As(err, &verr):
		return ReasonInvalidState
	default:
		return ReasonUnknown
	}
}
