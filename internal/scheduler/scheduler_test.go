package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/paycore/internal/clock"
	"github.com/smallbiznis/paycore/internal/config"
	"github.com/smallbiznis/paycore/internal/events"
	obsmetrics "github.com/smallbiznis/paycore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/smallbiznis/paycore/internal/payment/ledger"
	"github.com/smallbiznis/paycore/internal/payment/paymenttest"
	paymentrepo "github.com/smallbiznis/paycore/internal/payment/repository"
	paymentservice "github.com/smallbiznis/paycore/internal/payment/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []events.Message
}

func (p *recordingPublisher) Publish(_ context.Context, messages []events.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, messages...)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.messages))
	for _, msg := range p.messages {
		out = append(out, msg.EventType)
	}
	return out
}

type fixture struct {
	sched     *Scheduler
	db        *gorm.DB
	clock     *clock.FakeClock
	adapter   *paymenttest.MockAdapter
	publisher *recordingPublisher
	registry  *prometheus.Registry
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	db := paymenttest.NewDB(t, &events.Message{})
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	adapter := paymenttest.NewMockAdapter(paymentdomain.ProviderMobileMoney, paymentdomain.Capabilities{})
	repo := paymentrepo.Provide()
	outbox := events.NewOutbox(db, node, clk)
	policy := config.NewStaticPolicyHolder(config.DefaultPaymentPolicy())

	payments := paymentservice.NewService(paymentservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Repo:     repo,
		Registry: adapter.Registry(),
		Ledger:   ledger.New(ledger.Params{DB: db, GenID: node, Clock: clk}),
		Outbox:   outbox,
		Policy:   policy,
		Clock:    clk,
	})

	registry := prometheus.NewRegistry()
	metrics := obsmetrics.NewSchedulerMetrics(registry, obsmetrics.Config{ServiceName: "paycore", Environment: "test"})
	publisher := &recordingPublisher{}
	relay := events.NewRelay(db, publisher, clk, zap.NewNop(), metrics, events.RelayConfig{BatchSize: 2})

	sched, err := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Payments: payments,
		Repo:     repo,
		Relay:    relay,
		Policy:   policy,
		Metrics:  metrics,
		Config:   cfg,
	})
	require.NoError(t, err)
	return &fixture{sched: sched, db: db, clock: clk, adapter: adapter, publisher: publisher, registry: registry}
}

func (f *fixture) seedIntent(t *testing.T, reference string, age time.Duration) *paymentdomain.PaymentIntent {
	t.Helper()
	intent := paymenttest.SeedIntent(t, f.db, paymentdomain.ProviderMobileMoney, paymentdomain.IntentStatusProcessing, 5000, "NGN", reference)
	updated := f.clock.Now().Add(-age)
	require.NoError(t, f.db.Model(&paymentdomain.PaymentIntent{}).Where("id = ?", intent.ID).Update("updated_at", updated).Error)
	return intent
}

func (f *fixture) status(t *testing.T, id string) paymentdomain.IntentStatus {
	t.Helper()
	var intent paymentdomain.PaymentIntent
	require.NoError(t, f.db.Where("id = ?", id).Take(&intent).Error)
	return intent.Status
}

// counterSum adds up every series of a counter family carrying label=value.
func counterSum(families []*dto.MetricFamily, name, label, value string) float64 {
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, pair := range m.GetLabel() {
				if pair.GetName() == label && pair.GetValue() == value {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	f := newFixture(t, Config{})

	err := f.sched.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	expected := `
# HELP paycore_scheduler_job_timeouts_total Scheduler job runs that hit their deadline.
# TYPE paycore_scheduler_job_timeouts_total counter
paycore_scheduler_job_timeouts_total{env="test",job="timeout_job",service="paycore"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "paycore_scheduler_job_timeouts_total"))

	families, err := f.registry.Gather()
	require.NoError(t, err)
	errorsTotal := counterSum(families, "paycore_scheduler_job_errors_total", "reason", obsmetrics.ReasonDeadlineExceeded)
	assert.Equal(t, float64(1), errorsTotal)
}

func TestRunJobWrapsErrorsWithJobName(t *testing.T) {
	f := newFixture(t, Config{})
	boom := errors.New("boom")

	err := f.sched.runJob(context.Background(), "failing_job", 1, time.Second, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing_job")
}

func TestReconcileProcessingJob(t *testing.T) {
	f := newFixture(t, Config{})
	stale := f.seedIntent(t, "ref_stale", time.Hour)
	fresh := f.seedIntent(t, "ref_fresh", time.Minute)
	failing := f.seedIntent(t, "ref_down", 2*time.Hour)

	f.adapter.On("VerifyIntent", mock.Anything, "ref_stale").
		Return(&paymentdomain.ProviderStatus{Status: paymentdomain.IntentStatusSucceeded, Amount: 5000, Currency: "NGN"}, nil)
	f.adapter.On("VerifyIntent", mock.Anything, "ref_down").
		Return(nil, &paymentdomain.ProviderError{Provider: paymentdomain.ProviderMobileMoney, Code: "provider_unavailable", Retryable: true})

	err := f.sched.RunJob(context.Background(), JobReconcileProcessing)
	require.Error(t, err)
	assert.Equal(t, "provider_unavailable", paymentdomain.ErrorCode(err))

	assert.Equal(t, paymentdomain.IntentStatusSucceeded, f.status(t, stale.ID))
	assert.Equal(t, paymentdomain.IntentStatusProcessing, f.status(t, fresh.ID))
	assert.Equal(t, paymentdomain.IntentStatusProcessing, f.status(t, failing.ID))
	f.adapter.AssertNotCalled(t, "VerifyIntent", mock.Anything, "ref_fresh")

	families, err := f.registry.Gather()
	require.NoError(t, err)
	assert.Equal(t, float64(1), counterSum(families, "paycore_reconcile_results_total", "result", obsmetrics.ReconcileSettled))
	assert.Equal(t, float64(1), counterSum(families, "paycore_reconcile_results_total", "result", obsmetrics.ReconcileFailed))
	reason := counterSum(families, "paycore_scheduler_job_errors_total", "reason", obsmetrics.ReasonProviderUnavailable)
	assert.Equal(t, float64(1), reason)
}

func TestReconcileProcessingJobRotatesThroughUnchangedIntents(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 2})
	oldest := f.seedIntent(t, "ref_a", 3*time.Hour)
	f.seedIntent(t, "ref_b", 2*time.Hour)
	f.seedIntent(t, "ref_c", time.Hour)
	f.adapter.On("VerifyIntent", mock.Anything, mock.Anything).
		Return(&paymentdomain.ProviderStatus{Status: paymentdomain.IntentStatusProcessing}, nil)

	require.NoError(t, f.sched.RunJob(context.Background(), JobReconcileProcessing))
	f.adapter.AssertCalled(t, "VerifyIntent", mock.Anything, "ref_a")
	f.adapter.AssertCalled(t, "VerifyIntent", mock.Anything, "ref_b")
	f.adapter.AssertNotCalled(t, "VerifyIntent", mock.Anything, "ref_c")

	require.NoError(t, f.sched.RunJob(context.Background(), JobReconcileProcessing))
	f.adapter.AssertCalled(t, "VerifyIntent", mock.Anything, "ref_c")
	f.adapter.AssertNumberOfCalls(t, "VerifyIntent", 3)

	var stored paymentdomain.PaymentIntent
	require.NoError(t, f.db.Where("id = ?", oldest.ID).Take(&stored).Error)
	assert.Equal(t, paymentdomain.IntentStatusProcessing, stored.Status)
	require.NotNil(t, stored.LastReconciledAt)
	assert.True(t, f.clock.Now().Equal(*stored.LastReconciledAt))
}

func TestRunOnceRelaysOutboxAndFinalizesCancellations(t *testing.T) {
	f := newFixture(t, Config{})
	stale := f.seedIntent(t, "ref_stale", time.Hour)
	f.adapter.On("VerifyIntent", mock.Anything, "ref_stale").
		Return(&paymentdomain.ProviderStatus{Status: paymentdomain.IntentStatusFailed, FailureCode: "insufficient_funds"}, nil)

	periodEnd := f.clock.Now().Add(-time.Hour)
	ref := "SUB_abc"
	sub := &paymentdomain.Subscription{
		ID: uuid.NewString(), WorkspaceID: "ws_1", CustomerID: "cus_1", PlanID: "PLN_basic",
		Provider: paymentdomain.ProviderMobileMoney, ProviderSubscriptionID: &ref,
		Status: paymentdomain.SubscriptionStatusActive, CurrentPeriodEnd: &periodEnd, CancelAtPeriodEnd: true,
		CreatedAt: f.clock.Now(), UpdatedAt: f.clock.Now(),
	}
	require.NoError(t, f.db.Create(sub).Error)
	f.adapter.On("CancelSubscription", mock.Anything, "SUB_abc", false).Return(nil)

	// The relay runs first, so this tick publishes nothing the later jobs
	// wrote; the next tick picks those up.
	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Empty(t, f.publisher.types())
	assert.Equal(t, paymentdomain.IntentStatusFailed, f.status(t, stale.ID))

	var cancelled paymentdomain.Subscription
	require.NoError(t, f.db.Where("id = ?", sub.ID).Take(&cancelled).Error)
	assert.Equal(t, paymentdomain.SubscriptionStatusCancelled, cancelled.Status)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.ElementsMatch(t, []string{events.EventPaymentIntentFailed, events.EventSubscriptionCancelled}, f.publisher.types())

	var pending int64
	require.NoError(t, f.db.Model(&events.Message{}).Where("published_at IS NULL").Count(&pending).Error)
	assert.Zero(t, pending)
}

func TestEnabledJobsFilter(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{JobOutboxRelay}})
	stale := f.seedIntent(t, "ref_stale", time.Hour)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, paymentdomain.IntentStatusProcessing, f.status(t, stale.ID))
	f.adapter.AssertNotCalled(t, "VerifyIntent", mock.Anything, mock.Anything)
}

func TestRunJobRejectsUnknownName(t *testing.T) {
	f := newFixture(t, Config{})
	assert.Error(t, f.sched.RunJob(context.Background(), "rollup"))
}
