package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	obsmetrics "github.com/smallbiznis/paycore/internal/observability/metrics"
	"github.com/smallbiznis/paycore/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/smallbiznis/paycore/internal/payment/ledger"
	paymentservice "github.com/smallbiznis/paycore/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	PaymentSvc *paymentservice.Service
	Adapters   *adapters.Registry
	Ledger     *ledger.Ledger
	Repo       paymentdomain.Repository
	Metrics    *obsmetrics.WebhookMetrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	paymentSvc *paymentservice.Service
	adapters   *adapters.Registry
	ledger     *ledger.Ledger
	repo       paymentdomain.Repository
	metrics    *obsmetrics.WebhookMetrics
}

var _ paymentdomain.WebhookHandler = (*Service)(nil)

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		paymentSvc: p.PaymentSvc,
		adapters:   p.Adapters,
		ledger:     p.Ledger,
		repo:       p.Repo,
		metrics:    p.Metrics,
	}
}

// errDuplicate rolls back the ledger transaction of an already recorded event.
var errDuplicate = errors.New("duplicate_event")

// effect is what applying one event did to canonical state.
type effect struct {
	outcome paymentdomain.WebhookOutcome
	changed bool
	review  bool
	reason  string
}

// HandleWebhook authenticates, deduplicates and applies one provider
// callback. Signature failures and events that could not be durably
// queued return an error; every other outcome is acknowledged so the
// provider stops redelivering, with problems left on the review queue.
func (s *Service) HandleWebhook(ctx context.Context, provider paymentdomain.Provider, payload []byte, headers http.Header) (*paymentdomain.WebhookResult, error) {
	started := time.Now()
	result := &paymentdomain.WebhookResult{Provider: provider}
	defer func() {
		if result.Outcome != "" {
			s.metrics.ObserveDelivery(provider.Slug(), string(result.Outcome), time.Since(started))
		}
	}()

	adapter, err := s.adapters.For(provider)
	if err != nil {
		return nil, err
	}
	digest := ledger.PayloadDigest(payload)

	if !adapter.VerifyWebhookSignature(payload, headers) {
		result.Outcome = paymentdomain.OutcomeRejectedInvalidSignature
		s.recordDelivery(ctx, nil, provider, "", digest, effect{outcome: result.Outcome})
		s.log.Warn("webhook signature rejected", zap.String("provider", provider.Slug()))
		return result, &paymentdomain.SignatureError{Provider: provider}
	}

	evt, err := adapter.ParseWebhookEvent(payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			result.Outcome = paymentdomain.OutcomeIgnoredUnsupported
			s.recordDelivery(ctx, nil, provider, "", digest, effect{outcome: result.Outcome})
			return result, nil
		}
		s.log.Error("signed webhook could not be parsed", zap.String("provider", provider.Slug()), zap.Error(err))
		if qerr := s.queueForReview(ctx, provider, "", digest, err); qerr != nil {
			return nil, qerr
		}
		result.Outcome = paymentdomain.OutcomeQueuedForReview
		result.ReviewRequired = true
		return result, nil
	}
	result.EventID = evt.EventID
	result.EventType = evt.EventType

	var applied effect
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := &paymentdomain.WebhookEvent{
			Provider:            provider,
			ProviderEventID:     evt.EventID,
			EventType:           evt.EventType,
			ProviderReferenceID: evt.ProviderReferenceID,
			Outcome:             paymentdomain.OutcomeApplied,
			Payload:             datatypes.JSON(payload),
		}
		inserted, err := s.ledger.Record(ctx, tx, record)
		if err != nil {
			return err
		}
		if !inserted {
			return errDuplicate
		}

		applied, err = s.apply(ctx, tx, provider, evt)
		if err != nil {
			return err
		}
		if err := s.ledger.Resolve(ctx, tx, record.ID, applied.outcome, applied.review, applied.reason); err != nil {
			return err
		}
		return s.ledger.RecordDelivery(ctx, tx, s.delivery(provider, evt.EventID, digest, applied))
	})

	switch {
	case errors.Is(err, errDuplicate):
		result.Outcome = paymentdomain.OutcomeIgnoredDuplicate
		s.recordDelivery(ctx, nil, provider, evt.EventID, digest, effect{outcome: result.Outcome})
		s.log.Debug("duplicate webhook ignored",
			zap.String("provider", provider.Slug()),
			zap.String("event_id", evt.EventID),
		)
		return result, nil
	case err != nil:
		s.log.Error("webhook processing failed",
			zap.String("provider", provider.Slug()),
			zap.String("event_id", evt.EventID),
			zap.String("event_type", string(evt.EventType)),
			zap.Error(err),
		)
		if qerr := s.queueForReview(ctx, provider, evt.EventID, digest, err); qerr != nil {
			return nil, qerr
		}
		result.Outcome = paymentdomain.OutcomeQueuedForReview
		result.ReviewRequired = true
		return result, nil
	}

	result.Outcome = applied.outcome
	result.ReviewRequired = applied.review
	result.TransitionNoop = applied.outcome == paymentdomain.OutcomeApplied && !applied.changed
	s.log.Info("webhook handled",
		zap.String("provider", provider.Slug()),
		zap.String("event_id", evt.EventID),
		zap.String("event_type", string(evt.EventType)),
		zap.String("outcome", string(applied.outcome)),
		zap.Bool("changed", applied.changed),
	)
	return result, nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, provider paymentdomain.Provider, evt *paymentdomain.NormalizedEvent) (effect, error) {
	switch evt.EventType {
	case paymentdomain.EventIntentSucceeded, paymentdomain.EventIntentFailed:
		return s.applyIntent(ctx, tx, provider, evt)
	case paymentdomain.EventSubscriptionActivated, paymentdomain.EventSubscriptionCancelled:
		return s.applySubscription(ctx, tx, provider, evt)
	case paymentdomain.EventRefundCompleted:
		return s.applyRefund(ctx, tx, provider, evt)
	case paymentdomain.EventInvoicePaid, paymentdomain.EventInvoicePaymentFailed:
		return s.applyInvoice(ctx, tx, provider, evt)
	default:
		return effect{outcome: paymentdomain.OutcomeIgnoredUnsupported}, nil
	}
}

func (s *Service) applyIntent(ctx context.Context, tx *gorm.DB, provider paymentdomain.Provider, evt *paymentdomain.NormalizedEvent) (effect, error) {
	intent, err := lookup(ctx, tx, provider, evt.ProviderReferenceID, s.repo.FindIntentByReference)
	if err != nil || intent == nil {
		return s.unknown(provider, evt, err)
	}

	to := paymentdomain.IntentStatusSucceeded
	if evt.EventType == paymentdomain.EventIntentFailed {
		to = paymentdomain.IntentStatusFailed
	}
	changed, err := s.paymentSvc.ApplyIntentStatus(ctx, tx, intent, paymentservice.StatusReport{
		Status:      to,
		Amount:      evt.Amount,
		Currency:    evt.Currency,
		FailureCode: evt.FailureCode,
	}, paymentservice.SourceWebhook)
	if err != nil {
		return effect{}, err
	}
	applied := effect{outcome: paymentdomain.OutcomeApplied, changed: changed}
	if intent.ReviewRequired && !intent.Status.Terminal() {
		applied.review = true
		applied.reason = intent.FailureMessage
	}
	return applied, nil
}

func (s *Service) applySubscription(ctx context.Context, tx *gorm.DB, provider paymentdomain.Provider, evt *paymentdomain.NormalizedEvent) (effect, error) {
	sub, err := lookup(ctx, tx, provider, evt.ProviderReferenceID, s.repo.FindSubscriptionByReference)
	if err != nil || sub == nil {
		return s.unknown(provider, evt, err)
	}

	change := paymentservice.SubscriptionChange{
		Status:      paymentdomain.SubscriptionStatusActive,
		PeriodStart: evt.PeriodStart,
		PeriodEnd:   evt.PeriodEnd,
	}
	if evt.EventType == paymentdomain.EventSubscriptionCancelled {
		change = paymentservice.SubscriptionChange{Status: paymentdomain.SubscriptionStatusCancelled}
	}
	changed, err := s.paymentSvc.ApplySubscriptionStatus(ctx, tx, sub, change, paymentservice.SourceWebhook)
	if err != nil {
		return effect{}, err
	}
	return effect{outcome: paymentdomain.OutcomeApplied, changed: changed}, nil
}

func (s *Service) applyRefund(ctx context.Context, tx *gorm.DB, provider paymentdomain.Provider, evt *paymentdomain.NormalizedEvent) (effect, error) {
	refund, err := lookup(ctx, tx, provider, evt.ProviderReferenceID, s.repo.FindRefundByReference)
	if err != nil || refund == nil {
		return s.unknown(provider, evt, err)
	}
	changed, err := s.paymentSvc.ApplyRefundStatus(ctx, tx, refund, paymentdomain.RefundStatusSucceeded, "", "", paymentservice.SourceWebhook)
	if err != nil {
		return effect{}, err
	}
	return effect{outcome: paymentdomain.OutcomeApplied, changed: changed}, nil
}

// applyInvoice stores the invoice even when its subscription is unknown;
// only an event with no invoice id at all is an orphan.
func (s *Service) applyInvoice(ctx context.Context, tx *gorm.DB, provider paymentdomain.Provider, evt *paymentdomain.NormalizedEvent) (effect, error) {
	if strings.TrimSpace(evt.ProviderReferenceID) == "" {
		return s.unknown(provider, evt, nil)
	}
	var sub *paymentdomain.Subscription
	if ref := strings.TrimSpace(evt.ProviderSubscription); ref != "" {
		found, err := s.repo.FindSubscriptionByReference(ctx, tx, provider, ref)
		if err != nil {
			return effect{}, err
		}
		sub = found
	}
	_, written, err := s.paymentSvc.RecordInvoice(ctx, tx, provider, evt, sub)
	if err != nil {
		return effect{}, err
	}
	return effect{outcome: paymentdomain.OutcomeApplied, changed: written}, nil
}

// lookup resolves a canonical record by provider reference. A blank
// reference never matches.
func lookup[T any](ctx context.Context, tx *gorm.DB, provider paymentdomain.Provider, reference string, find func(context.Context, *gorm.DB, paymentdomain.Provider, string) (*T, error)) (*T, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, nil
	}
	return find(ctx, tx, provider, reference)
}

func (s *Service) unknown(provider paymentdomain.Provider, evt *paymentdomain.NormalizedEvent, err error) (effect, error) {
	if err != nil {
		return effect{}, err
	}
	orphan := &paymentdomain.UnknownReferenceError{Provider: provider, Reference: evt.ProviderReferenceID}
	s.log.Warn("webhook references unknown record",
		zap.String("provider", provider.Slug()),
		zap.String("event_id", evt.EventID),
		zap.String("event_type", string(evt.EventType)),
		zap.Error(orphan),
	)
	return effect{
		outcome: paymentdomain.OutcomeRejectedUnknownReference,
		review:  true,
		reason:  orphan.Error(),
	}, nil
}

func (s *Service) delivery(provider paymentdomain.Provider, eventID, digest string, e effect) *paymentdomain.WebhookDelivery {
	return &paymentdomain.WebhookDelivery{
		Provider:        provider,
		ProviderEventID: eventID,
		Outcome:         e.outcome,
		PayloadSHA256:   digest,
		ReviewRequired:  e.review,
		ErrorReason:     e.reason,
	}
}

// queueForReview persists a review-flagged delivery for an event that could
// not be applied. When that row cannot be written the event is not stored
// anywhere, so the caller must let the provider redeliver.
func (s *Service) queueForReview(ctx context.Context, provider paymentdomain.Provider, eventID, digest string, cause error) error {
	e := effect{outcome: paymentdomain.OutcomeQueuedForReview, review: true, reason: cause.Error()}
	if err := s.ledger.RecordDelivery(ctx, nil, s.delivery(provider, eventID, digest, e)); err != nil {
		s.log.Error("failed to queue webhook for review",
			zap.String("provider", provider.Slug()),
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", paymentdomain.ErrWebhookNotRecorded, errors.Join(cause, err))
	}
	return nil
}

// recordDelivery writes a trail row outside any ledger transaction. A
// failure here is logged, never returned: the delivery outcome stands.
func (s *Service) recordDelivery(ctx context.Context, conn *gorm.DB, provider paymentdomain.Provider, eventID, digest string, e effect) {
	if err := s.ledger.RecordDelivery(ctx, conn, s.delivery(provider, eventID, digest, e)); err != nil {
		s.log.Error("failed to record webhook delivery",
			zap.String("provider", provider.Slug()),
			zap.String("event_id", eventID),
			zap.String("outcome", string(e.outcome)),
			zap.Error(err),
		)
	}
}
