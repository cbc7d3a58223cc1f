package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/paycore/internal/events"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sourceAPI       = "api"
	sourceReconcile = "reconcile"
	sourceScheduler = "scheduler"
	// SourceWebhook tags transitions driven by provider callbacks.
	SourceWebhook = "webhook"
)

// maxCASAttempts bounds reload-and-retry when a concurrent writer moved the
// row first. Status only moves forward, so two retries always settle.
const maxCASAttempts = 3

// StatusReport is a provider's view of an intent, from a synchronous call
// or a webhook.
type StatusReport struct {
	Status         paymentdomain.IntentStatus
	Amount         int64
	Currency       string
	FailureCode    string
	FailureMessage string
}

// ApplyIntentStatus moves intent toward report.Status inside tx. It
// returns false when the intent was already there or further along. A
// success reporting a different amount or currency is not recorded as a
// success or a failure: the intent keeps its status and is flagged for
// review, since the provider may hold funds the orchestrator must return.
func (s *Service) ApplyIntentStatus(ctx context.Context, tx *gorm.DB, intent *paymentdomain.PaymentIntent, report StatusReport, source string) (bool, error) {
	if report.Status == paymentdomain.IntentStatusSucceeded && mismatched(intent, report) {
		return false, s.flagMismatch(ctx, tx, intent, report, source)
	}

	for range maxCASAttempts {
		switch paymentdomain.DecideIntentTransition(intent.Status, report.Status) {
		case paymentdomain.TransitionNoop:
			return false, nil
		case paymentdomain.TransitionConflict:
			s.stateConflict(ctx, "payment_intent", intent.ID, string(intent.Status), string(report.Status), source)
			return false, nil
		}

		from := intent.Status
		now := s.clock.Now()
		ok, err := s.repo.CompareAndSetIntentStatus(ctx, tx, paymentdomain.IntentStatusUpdate{
			ID:             intent.ID,
			From:           from,
			To:             report.Status,
			FailureCode:    report.FailureCode,
			FailureMessage: report.FailureMessage,
			UpdatedAt:      now,
		})
		if err != nil {
			return false, err
		}
		if !ok {
			if err := s.reloadIntent(ctx, tx, intent); err != nil {
				return false, err
			}
			continue
		}

		intent.Status = report.Status
		intent.FailureCode = report.FailureCode
		intent.FailureMessage = report.FailureMessage
		intent.UpdatedAt = now
		s.obsMetrics.RecordIntentTransition(ctx, intent.Provider.Slug(), string(from), string(intent.Status), intent.Currency, intent.Amount)
		s.log.Info("payment intent transitioned",
			zap.String("payment_intent_id", intent.ID),
			zap.String("from", string(from)),
			zap.String("to", string(intent.Status)),
			zap.String("source", source),
		)
		if err := s.publishIntent(ctx, tx, intent, source); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (s *Service) flagMismatch(ctx context.Context, tx *gorm.DB, intent *paymentdomain.PaymentIntent, report StatusReport, source string) error {
	s.log.Error("provider amount mismatch",
		zap.String("payment_intent_id", intent.ID),
		zap.Int64("expected_amount", intent.Amount),
		zap.Int64("reported_amount", report.Amount),
		zap.String("expected_currency", intent.Currency),
		zap.String("reported_currency", report.Currency),
		zap.String("source", source),
	)
	if intent.Status.Terminal() || intent.ReviewRequired {
		return nil
	}
	message := fmt.Sprintf("provider reported %d %s", report.Amount, strings.ToUpper(report.Currency))
	return s.flagIntent(ctx, tx, intent, "", paymentdomain.FailureAmountMismatch, message, source)
}

// flagIntent raises review_required without moving the intent and emits
// payment_intent.review_required. A non-empty reference is stored when the
// intent has none.
func (s *Service) flagIntent(ctx context.Context, tx *gorm.DB, intent *paymentdomain.PaymentIntent, reference, code, message, source string) error {
	now := s.clock.Now()
	update := paymentdomain.IntentStatusUpdate{
		ID:             intent.ID,
		From:           intent.Status,
		To:             intent.Status,
		Reference:      reference,
		FailureCode:    code,
		FailureMessage: message,
		UpdatedAt:      now,
	}
	ok, err := s.repo.FlagIntentForReview(ctx, tx, update)
	if err != nil || !ok {
		return err
	}
	s.obsMetrics.RecordReviewFlag(ctx, intent.Provider.Slug(), code)
	intent.ReviewRequired = true
	intent.FailureCode = code
	intent.FailureMessage = message
	intent.UpdatedAt = now
	if reference != "" && intent.ProviderReferenceID == nil {
		ref := reference
		intent.ProviderReferenceID = &ref
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		AggregateType: events.AggregatePaymentIntent,
		AggregateID:   intent.ID,
		Type:          events.EventPaymentIntentReviewRequired,
		DedupeKey:     dedupeKey(events.AggregatePaymentIntent, intent.ID, "review"),
		Payload: events.IntentPayload{
			PaymentIntentID:     intent.ID,
			WorkspaceID:         intent.WorkspaceID,
			Provider:            string(intent.Provider),
			ProviderReferenceID: intent.Reference(),
			Status:              string(intent.Status),
			Amount:              intent.Amount,
			Currency:            intent.Currency,
			FailureCode:         intent.FailureCode,
			Source:              source,
		}.ToMap(),
	})
}

func mismatched(intent *paymentdomain.PaymentIntent, report StatusReport) bool {
	if report.Amount != 0 && report.Amount != intent.Amount {
		return true
	}
	currency := strings.ToUpper(strings.TrimSpace(report.Currency))
	return currency != "" && currency != intent.Currency
}

func (s *Service) publishIntent(ctx context.Context, tx *gorm.DB, intent *paymentdomain.PaymentIntent, source string) error {
	var eventType string
	switch intent.Status {
	case paymentdomain.IntentStatusProcessing:
		eventType = events.EventPaymentIntentProcessing
	case paymentdomain.IntentStatusSucceeded:
		eventType = events.EventPaymentIntentSucceeded
	case paymentdomain.IntentStatusFailed:
		eventType = events.EventPaymentIntentFailed
	case paymentdomain.IntentStatusCancelled:
		eventType = events.EventPaymentIntentCancelled
	default:
		return nil
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		AggregateType: events.AggregatePaymentIntent,
		AggregateID:   intent.ID,
		Type:          eventType,
		DedupeKey:     dedupeKey(events.AggregatePaymentIntent, intent.ID, string(intent.Status)),
		Payload: events.IntentPayload{
			PaymentIntentID:     intent.ID,
			WorkspaceID:         intent.WorkspaceID,
			Provider:            string(intent.Provider),
			ProviderReferenceID: intent.Reference(),
			Status:              string(intent.Status),
			Amount:              intent.Amount,
			Currency:            intent.Currency,
			FailureCode:         intent.FailureCode,
			Source:              source,
		}.ToMap(),
	})
}

func decideRefundTransition(from, to paymentdomain.RefundStatus) paymentdomain.TransitionDecision {
	if from == to {
		return paymentdomain.TransitionNoop
	}
	if from.Terminal() {
		return paymentdomain.TransitionConflict
	}
	if to == paymentdomain.RefundStatusPending {
		return paymentdomain.TransitionNoop
	}
	return paymentdomain.TransitionApply
}

// ApplyRefundStatus moves a refund to a later status inside tx. reference,
// when set, fills the provider refund id if it is still blank.
func (s *Service) ApplyRefundStatus(ctx context.Context, tx *gorm.DB, refund *paymentdomain.Refund, to paymentdomain.RefundStatus, reference, failureCode, source string) (bool, error) {
	for range maxCASAttempts {
		switch decideRefundTransition(refund.Status, to) {
		case paymentdomain.TransitionNoop:
			return false, nil
		case paymentdomain.TransitionConflict:
			s.stateConflict(ctx, "refund", refund.ID, string(refund.Status), string(to), source)
			return false, nil
		}

		now := s.clock.Now()
		ok, err := s.repo.UpdateRefund(ctx, tx, paymentdomain.RefundUpdate{
			ID:          refund.ID,
			From:        []paymentdomain.RefundStatus{refund.Status},
			To:          to,
			Reference:   reference,
			FailureCode: failureCode,
			UpdatedAt:   now,
		})
		if err != nil {
			return false, err
		}
		if !ok {
			var fresh paymentdomain.Refund
			if err := tx.WithContext(ctx).Where("id = ?", refund.ID).Take(&fresh).Error; err != nil {
				return false, err
			}
			*refund = fresh
			continue
		}

		refund.Status = to
		refund.FailureCode = failureCode
		refund.UpdatedAt = now
		if reference != "" && refund.ProviderRefundID == nil {
			ref := reference
			refund.ProviderRefundID = &ref
		}
		s.obsMetrics.RecordRefund(ctx, refund.Provider.Slug(), string(to))
		if err := s.publishRefund(ctx, tx, refund); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (s *Service) publishRefund(ctx context.Context, tx *gorm.DB, refund *paymentdomain.Refund) error {
	eventType := events.EventRefundCreated
	switch refund.Status {
	case paymentdomain.RefundStatusSucceeded:
		eventType = events.EventRefundSucceeded
	case paymentdomain.RefundStatusFailed:
		eventType = events.EventRefundFailed
	case paymentdomain.RefundStatusProcessing:
		return nil
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		AggregateType: events.AggregateRefund,
		AggregateID:   refund.ID,
		Type:          eventType,
		DedupeKey:     dedupeKey(events.AggregateRefund, refund.ID, string(refund.Status)),
		Payload: events.RefundPayload{
			RefundID:        refund.ID,
			PaymentIntentID: refund.PaymentIntentID,
			Provider:        string(refund.Provider),
			Status:          string(refund.Status),
			Amount:          refund.Amount,
			Currency:        refund.Currency,
			FailureCode:     refund.FailureCode,
		}.ToMap(),
	})
}

// flagRefund raises review_required on a refund, keeping its status and
// reservation. A known provider reference is stored so later provider
// events still resolve the refund.
func (s *Service) flagRefund(ctx context.Context, tx *gorm.DB, refund *paymentdomain.Refund, reference, code string) error {
	now := s.clock.Now()
	ok, err := s.repo.FlagRefundForReview(ctx, tx, paymentdomain.RefundUpdate{
		ID:          refund.ID,
		From:        []paymentdomain.RefundStatus{refund.Status},
		Reference:   reference,
		FailureCode: code,
		UpdatedAt:   now,
	})
	if err != nil || !ok {
		return err
	}
	s.obsMetrics.RecordReviewFlag(ctx, refund.Provider.Slug(), code)
	refund.ReviewRequired = true
	refund.FailureCode = code
	refund.UpdatedAt = now
	if reference != "" && refund.ProviderRefundID == nil {
		ref := reference
		refund.ProviderRefundID = &ref
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		AggregateType: events.AggregateRefund,
		AggregateID:   refund.ID,
		Type:          events.EventRefundReviewRequired,
		DedupeKey:     dedupeKey(events.AggregateRefund, refund.ID, "review"),
		Payload: events.RefundPayload{
			RefundID:        refund.ID,
			PaymentIntentID: refund.PaymentIntentID,
			Provider:        string(refund.Provider),
			Status:          string(refund.Status),
			Amount:          refund.Amount,
			Currency:        refund.Currency,
			FailureCode:     refund.FailureCode,
		}.ToMap(),
	})
}

// SubscriptionChange is a requested subscription state plus the period the
// provider reported, if any.
type SubscriptionChange struct {
	Status      paymentdomain.SubscriptionStatus
	PeriodStart *time.Time
	PeriodEnd   *time.Time
}

// ApplySubscriptionStatus moves a subscription inside tx. Cancelling clears
// cancel_at_period_end and stamps cancelled_at.
func (s *Service) ApplySubscriptionStatus(ctx context.Context, tx *gorm.DB, sub *paymentdomain.Subscription, change SubscriptionChange, source string) (bool, error) {
	for range maxCASAttempts {
		switch paymentdomain.DecideSubscriptionTransition(sub.Status, change.Status) {
		case paymentdomain.TransitionNoop:
			if change.PeriodStart == nil && change.PeriodEnd == nil {
				return false, nil
			}
			return s.refreshPeriod(ctx, tx, sub, change)
		case paymentdomain.TransitionConflict:
			s.stateConflict(ctx, "subscription", sub.ID, string(sub.Status), string(change.Status), source)
			return false, nil
		}

		now := s.clock.Now()
		update := paymentdomain.SubscriptionUpdate{
			ID:                 sub.ID,
			From:               sub.Status,
			To:                 change.Status,
			CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
			CurrentPeriodStart: change.PeriodStart,
			CurrentPeriodEnd:   change.PeriodEnd,
			UpdatedAt:          now,
		}
		if change.Status == paymentdomain.SubscriptionStatusCancelled {
			update.CancelAtPeriodEnd = false
			update.CancelledAt = &now
		}
		ok, err := s.repo.CompareAndSetSubscription(ctx, tx, update)
		if err != nil {
			return false, err
		}
		if !ok {
			if err := s.reloadSubscription(ctx, tx, sub); err != nil {
				return false, err
			}
			continue
		}

		from := sub.Status
		applySubscriptionUpdate(sub, update)
		s.log.Info("subscription transitioned",
			zap.String("subscription_id", sub.ID),
			zap.String("from", string(from)),
			zap.String("to", string(sub.Status)),
			zap.String("source", source),
		)
		if err := s.publishSubscription(ctx, tx, sub); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (s *Service) refreshPeriod(ctx context.Context, tx *gorm.DB, sub *paymentdomain.Subscription, change SubscriptionChange) (bool, error) {
	if sub.Status == paymentdomain.SubscriptionStatusCancelled {
		return false, nil
	}
	update := paymentdomain.SubscriptionUpdate{
		ID:                 sub.ID,
		From:               sub.Status,
		To:                 sub.Status,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodStart: change.PeriodStart,
		CurrentPeriodEnd:   change.PeriodEnd,
		UpdatedAt:          s.clock.Now(),
	}
	ok, err := s.repo.CompareAndSetSubscription(ctx, tx, update)
	if err != nil || !ok {
		return false, err
	}
	applySubscriptionUpdate(sub, update)
	return false, nil
}

func applySubscriptionUpdate(sub *paymentdomain.Subscription, update paymentdomain.SubscriptionUpdate) {
	sub.Status = update.To
	sub.CancelAtPeriodEnd = update.CancelAtPeriodEnd
	if update.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = update.CurrentPeriodStart
	}
	if update.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = update.CurrentPeriodEnd
	}
	if update.CancelledAt != nil {
		sub.CancelledAt = update.CancelledAt
	}
	sub.UpdatedAt = update.UpdatedAt
}

func (s *Service) publishSubscription(ctx context.Context, tx *gorm.DB, sub *paymentdomain.Subscription) error {
	eventType := events.EventSubscriptionUpdated
	if sub.Status == paymentdomain.SubscriptionStatusCancelled {
		eventType = events.EventSubscriptionCancelled
	}
	flag := "0"
	if sub.CancelAtPeriodEnd {
		flag = "1"
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		AggregateType: events.AggregateSubscription,
		AggregateID:   sub.ID,
		Type:          eventType,
		DedupeKey:     dedupeKey(events.AggregateSubscription, sub.ID, string(sub.Status)+":"+flag+":"+sub.UpdatedAt.Format(time.RFC3339Nano)),
		Payload: events.SubscriptionPayload{
			SubscriptionID:    sub.ID,
			WorkspaceID:       sub.WorkspaceID,
			Provider:          string(sub.Provider),
			Status:            string(sub.Status),
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		}.ToMap(),
	})
}

func (s *Service) reloadSubscription(ctx context.Context, tx *gorm.DB, sub *paymentdomain.Subscription) error {
	fresh, err := s.repo.FindSubscription(ctx, tx, sub.ID)
	if err != nil {
		return err
	}
	if fresh == nil {
		return paymentdomain.ErrNotFound
	}
	*sub = *fresh
	return nil
}

// stateConflict reports an attempted move out of a terminal state. The
// attempt is dropped; the stored state wins.
func (s *Service) stateConflict(ctx context.Context, entity, id, from, to, source string) {
	err := &paymentdomain.StateConflictError{Entity: entity, ID: id, From: from, To: to}
	s.log.Error("state conflict ignored",
		zap.String("entity", entity),
		zap.String("id", id),
		zap.String("source", source),
		zap.Error(err),
	)
	s.obsMetrics.RecordStateConflict(ctx, entity, source)
}

func dedupeKey(aggregate, id, suffix string) string {
	return aggregate + ":" + id + ":" + suffix
}
