package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifyJobError(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"deadline":        {context.DeadlineExceeded, ReasonDeadlineExceeded},
		"lock timeout":    {&pgconn.PgError{Code: "55P03"}, ReasonDBLockTimeout},
		"serialization":   {fmt.Errorf("claim: %w", &pgconn.PgError{Code: "40001"}), ReasonSerializationFailure},
		"unique":          {gorm.ErrDuplicatedKey, ReasonUniqueViolation},
		"provider down":   {fmt.Errorf("verify: %w", &paymentdomain.ProviderError{Code: "http_503", Retryable: true}), ReasonProviderUnavailable},
		"provider refuse": {&paymentdomain.ProviderError{Code: "resource_missing"}, ReasonProviderRejected},
		"invalid state":   {paymentdomain.NewValidationError("status", "intent_terminal", "terminal"), ReasonInvalidState},
		"unknown":         {errors.New("boom"), ReasonUnknown},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyJobError(tc.err))
		})
	}
}

func TestSchedulerCounters(t *testing.T) {
	m := NewSchedulerMetrics(prometheus.NewRegistry(), Config{ServiceName: "paycore", Environment: "test"})

	m.AddBatchProcessed("outbox_relay", "outbox_messages", 3)
	m.AddBatchProcessed("outbox_relay", "outbox_messages", 0)
	m.IncJobError("reconcile_processing", context.DeadlineExceeded)
	m.IncJobError("reconcile_processing", nil)
	m.ObserveReconcile("card", ReconcileSettled)
	m.ObserveReconcile("card", ReconcileUnchanged)
	m.ObserveReconcile("card", ReconcileUnchanged)
	m.IncOutboxExhausted("refund.updated")
	m.SetOutboxPending(7)
	m.ObserveRunLoopLag(-time.Second)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.batchProcessed.WithLabelValues("outbox_relay", "outbox_messages")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobErrors.WithLabelValues("reconcile_processing", ReasonDeadlineExceeded)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconcileResult.WithLabelValues("card", ReconcileUnchanged)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outboxExhausted.WithLabelValues("refund.updated")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.outboxPending))
}

func TestNilSchedulerMetricsIsSafe(t *testing.T) {
	var m *SchedulerMetrics
	m.IncJobRun("outbox_relay")
	m.ObserveReconcile("card", ReconcileFailed)
	m.SetOutboxPending(1)
}

func TestWebhookMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newWebhookMetrics(registry, Config{Environment: "test"})

	metrics.ObserveDelivery("CARD", "APPLIED", 5*time.Millisecond)
	metrics.ObserveDelivery("CARD", "DUPLICATE", time.Millisecond)
	metrics.ObserveDelivery("CARD", "DUPLICATE", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.deliveries.WithLabelValues("CARD", "DUPLICATE")))
}
