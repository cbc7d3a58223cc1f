package scheduler

import (
	"context"
	"errors"

	obsmetrics "github.com/smallbiznis/paycore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"go.uber.org/zap"
)

// OutboxRelayJob drains committed outbox rows until a batch comes back
// empty or the per-tick batch budget is spent.
func (s *Scheduler) OutboxRelayJob(ctx context.Context) error {
	run := runFrom(ctx)
	for range s.cfg.MaxRelayBatches {
		published, err := s.relay.RunOnce(ctx)
		if err != nil {
			return err
		}
		run.done(published)
		s.metrics.AddBatchProcessed(JobOutboxRelay, "outbox_messages", published)
		if published == 0 {
			return nil
		}
	}
	return nil
}

// ReconcileProcessingJob polls the provider for intents that have sat in
// PROCESSING past the reconciliation threshold. Each intent goes through
// the same guarded transition path as a webhook.
func (s *Scheduler) ReconcileProcessingJob(ctx context.Context) error {
	run := runFrom(ctx)
	cutoff := s.clock.Now().Add(-s.policy.Get().ReconcileAfter)
	intents, err := s.repo.ListIntentsDueForReconcile(ctx, s.db, paymentdomain.IntentStatusProcessing, cutoff, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var jobErr error
	for _, intent := range intents {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		provider := intent.Provider.Slug()
		updated, err := s.payments.ReconcileIntent(ctx, intent.ID)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			run.count(obsmetrics.ReconcileFailed)
			s.metrics.ObserveReconcile(provider, obsmetrics.ReconcileFailed)
			s.itemFailed(ctx, "reconcile intent failed", err,
				zap.String("payment_intent_id", intent.ID),
				zap.String("provider", provider),
			)
			continue
		}
		run.done(1)
		result := obsmetrics.ReconcileUnchanged
		if updated.Status != intent.Status {
			result = obsmetrics.ReconcileSettled
		}
		run.count(result)
		s.metrics.ObserveReconcile(provider, result)
		if result == obsmetrics.ReconcileSettled {
			s.logger(ctx).Info("intent reconciled",
				zap.String("payment_intent_id", intent.ID),
				zap.String("from", string(intent.Status)),
				zap.String("to", string(updated.Status)),
			)
		}
	}
	s.metrics.AddBatchProcessed(JobReconcileProcessing, "payment_intents", len(intents))
	return jobErr
}

// PeriodEndCancellationsJob cancels flagged subscriptions whose current
// period has ended.
func (s *Scheduler) PeriodEndCancellationsJob(ctx context.Context) error {
	run := runFrom(ctx)
	subs, err := s.repo.ListPeriodEndCancellations(ctx, s.db, s.clock.Now(), s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var jobErr error
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		if _, err := s.payments.FinalizePeriodEndCancellation(ctx, sub.ID); err != nil {
			jobErr = errors.Join(jobErr, err)
			s.itemFailed(ctx, "period end cancellation failed", err,
				zap.String("subscription_id", sub.ID),
				zap.String("provider", sub.Provider.Slug()),
			)
			continue
		}
		run.done(1)
	}
	s.metrics.AddBatchProcessed(JobPeriodEndCancellations, "subscriptions", len(subs))
	return jobErr
}
