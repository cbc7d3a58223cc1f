package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/paycore/internal/clock"
	"github.com/smallbiznis/paycore/internal/config"
	"github.com/smallbiznis/paycore/internal/events"
	obsmetrics "github.com/smallbiznis/paycore/internal/observability/metrics"
	"github.com/smallbiznis/paycore/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/smallbiznis/paycore/internal/payment/ledger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       paymentdomain.Repository
	Registry   *adapters.Registry
	Ledger     *ledger.Ledger
	Outbox     *events.Outbox
	Policy     *config.PolicyHolder
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       paymentdomain.Repository
	registry   *adapters.Registry
	ledger     *ledger.Ledger
	outbox     *events.Outbox
	policy     *config.PolicyHolder
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

var _ paymentdomain.Service = (*Service)(nil)

func NewService(p Params) *Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		repo:       p.Repo,
		registry:   p.Registry,
		ledger:     p.Ledger,
		outbox:     p.Outbox,
		policy:     p.Policy,
		clock:      c,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreatePaymentIntent(ctx context.Context, req paymentdomain.CreatePaymentIntentRequest) (*paymentdomain.PaymentIntent, error) {
	workspaceID := strings.TrimSpace(req.WorkspaceID)
	if workspaceID == "" {
		return nil, paymentdomain.NewValidationError("workspace_id", "required", "workspace_id is required")
	}
	if req.Amount <= 0 {
		return nil, paymentdomain.NewValidationError("amount", "invalid_amount", "amount must be a positive integer in minor units")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !s.policy.Get().SupportsCurrency(currency) {
		return nil, paymentdomain.NewValidationError("currency", "unsupported_currency", "currency is not enabled")
	}
	adapter, err := s.registry.For(req.Provider)
	if err != nil {
		return nil, err
	}
	customer, err := s.loadCustomer(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	intent := &paymentdomain.PaymentIntent{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		CustomerID:  customer.ID,
		Amount:      req.Amount,
		Currency:    currency,
		Provider:    req.Provider,
		Status:      paymentdomain.IntentStatusPending,
		Metadata:    toJSONMap(req.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertIntent(ctx, s.db, intent); err != nil {
		return nil, err
	}

	customerRef := ""
	if ref, err := s.repo.FindCustomerProviderRef(ctx, s.db, customer.ID, req.Provider); err != nil {
		return nil, err
	} else if ref != nil {
		customerRef = ref.ProviderCustomerID
	}

	handle, err := withRetry(ctx, s, req.Provider, "create_intent", func() (*paymentdomain.ProviderIntentHandle, error) {
		return adapter.CreateIntent(ctx, paymentdomain.CreateIntentRequest{
			Amount:         intent.Amount,
			Currency:       intent.Currency,
			CustomerRef:    customerRef,
			Email:          customer.Email,
			Metadata:       req.Metadata,
			IdempotencyKey: intent.ID,
			Reference:      intent.ID,
		})
	})
	if err != nil {
		s.failCreation(ctx, intent, err)
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		assigned, err := s.repo.AssignIntentReference(ctx, tx, paymentdomain.IntentReferenceUpdate{
			ID:           intent.ID,
			Reference:    handle.ReferenceID,
			RedirectURL:  handle.RedirectURL,
			ClientSecret: handle.ClientSecret,
			Status:       paymentdomain.IntentStatusProcessing,
			UpdatedAt:    s.clock.Now(),
		})
		if err != nil {
			return err
		}
		if !assigned {
			return s.reloadIntent(ctx, tx, intent)
		}

		from := intent.Status
		ref := handle.ReferenceID
		intent.ProviderReferenceID = &ref
		intent.RedirectURL = handle.RedirectURL
		intent.ClientSecret = handle.ClientSecret
		intent.Status = paymentdomain.IntentStatusProcessing
		intent.UpdatedAt = s.clock.Now()
		s.obsMetrics.RecordIntentTransition(ctx, intent.Provider.Slug(), string(from), string(intent.Status), intent.Currency, intent.Amount)
		if err := s.publishIntent(ctx, tx, intent, sourceAPI); err != nil {
			return err
		}

		if handle.Status.Terminal() {
			_, err := s.ApplyIntentStatus(ctx, tx, intent, StatusReport{Status: handle.Status}, sourceAPI)
			return err
		}
		return nil
	})
	if err != nil {
		s.intentNotRecorded(ctx, intent, handle, err)
		return nil, err
	}

	s.log.Info("payment intent created",
		zap.String("payment_intent_id", intent.ID),
		zap.String("provider", intent.Provider.Slug()),
		zap.String("provider_reference_id", intent.Reference()),
		zap.String("status", string(intent.Status)),
	)
	return intent, nil
}

// failCreation marks a PENDING intent FAILED after the provider refused or
// could not be reached. The original error is what the caller sees.
// intentNotRecorded flags an intent the provider created whose reference
// could not be stored. The intent keeps its status and gains the provider
// reference so later provider events still resolve it.
func (s *Service) intentNotRecorded(ctx context.Context, intent *paymentdomain.PaymentIntent, handle *paymentdomain.ProviderIntentHandle, cause error) {
	s.log.Error("payment intent created by provider but not recorded",
		zap.String("payment_intent_id", intent.ID),
		zap.String("provider", intent.Provider.Slug()),
		zap.String("provider_reference_id", handle.ReferenceID),
		zap.String("provider_status", string(handle.Status)),
		zap.Error(cause),
	)

	ctx = context.WithoutCancel(ctx)
	message := fmt.Sprintf("provider reference %s not recorded", handle.ReferenceID)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var fresh paymentdomain.PaymentIntent
		if err := tx.Where("id = ?", intent.ID).Take(&fresh).Error; err != nil {
			return err
		}
		return s.flagIntent(ctx, tx, &fresh, handle.ReferenceID, paymentdomain.FailureNotRecorded, message, sourceAPI)
	})
	if err != nil {
		s.log.Error("failed to flag unrecorded payment intent",
			zap.String("payment_intent_id", intent.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) failCreation(ctx context.Context, intent *paymentdomain.PaymentIntent, cause error) {
	code := paymentdomain.ErrorCode(cause)
	if code == "" {
		code = "provider_error"
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.ApplyIntentStatus(ctx, tx, intent, StatusReport{
			Status:         paymentdomain.IntentStatusFailed,
			FailureCode:    code,
			FailureMessage: cause.Error(),
		}, sourceAPI)
		return err
	})
	if err != nil {
		s.log.Error("failed to mark intent failed",
			zap.String("payment_intent_id", intent.ID),
			zap.Error(err),
		)
	}
	s.log.Warn("payment intent creation failed",
		zap.String("payment_intent_id", intent.ID),
		zap.String("provider", intent.Provider.Slug()),
		zap.String("code", code),
		zap.Error(cause),
	)
}

func (s *Service) ConfirmPaymentIntent(ctx context.Context, req paymentdomain.ConfirmPaymentIntentRequest) (*paymentdomain.PaymentIntent, error) {
	intent, err := s.GetPaymentIntent(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if intent.Status.Terminal() {
		return nil, paymentdomain.NewValidationError("id", "intent_terminal", "payment intent is already "+strings.ToLower(string(intent.Status)))
	}
	reference := intent.Reference()
	if reference == "" {
		return nil, paymentdomain.NewValidationError("id", "intent_not_ready", "payment intent has no provider reference yet")
	}
	adapter, err := s.registry.For(intent.Provider)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	status, err := adapter.ConfirmIntent(ctx, reference, strings.TrimSpace(req.PaymentMethodRef))
	s.recordCall(ctx, intent.Provider, "confirm_intent", err, time.Since(started))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	if err := s.applyProviderStatus(ctx, intent, status, sourceAPI); err != nil {
		return nil, err
	}
	return intent, nil
}

func (s *Service) GetPaymentIntent(ctx context.Context, id string) (*paymentdomain.PaymentIntent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, paymentdomain.ErrNotFound
	}
	intent, err := s.repo.FindIntent(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, paymentdomain.ErrNotFound
	}
	return intent, nil
}

// CancelPaymentIntent voids an unpaid intent. When the provider reports the
// charge was already captured, the adapter refunds it in full instead; the
// refund is recorded and the intent settles as SUCCEEDED.
func (s *Service) CancelPaymentIntent(ctx context.Context, id, reason string) (*paymentdomain.PaymentIntent, error) {
	intent, err := s.GetPaymentIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	if intent.Status == paymentdomain.IntentStatusCancelled {
		return intent, nil
	}
	if intent.Status.Terminal() {
		return nil, paymentdomain.NewValidationError("id", "intent_terminal", "payment intent is already "+strings.ToLower(string(intent.Status)))
	}

	reference := intent.Reference()
	if reference == "" {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			_, err := s.ApplyIntentStatus(ctx, tx, intent, StatusReport{
				Status:      paymentdomain.IntentStatusCancelled,
				FailureCode: "cancelled",
			}, sourceAPI)
			return err
		})
		if err != nil {
			return nil, err
		}
		return intent, nil
	}

	adapter, err := s.registry.For(intent.Provider)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	handle, err := adapter.CancelOrRefund(ctx, paymentdomain.CancelOrRefundRequest{
		ProviderReferenceID: reference,
		Currency:            intent.Currency,
		Reason:              reason,
		IdempotencyKey:      "cancel_" + intent.ID,
	})
	s.recordCall(ctx, intent.Provider, "cancel_intent", err, time.Since(started))
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if handle.Kind == paymentdomain.RefundKindCancellation {
			_, err := s.ApplyIntentStatus(ctx, tx, intent, StatusReport{
				Status:         paymentdomain.IntentStatusCancelled,
				FailureCode:    "cancelled",
				FailureMessage: reason,
			}, sourceAPI)
			return err
		}

		s.log.Warn("cancel converted to full refund",
			zap.String("payment_intent_id", intent.ID),
			zap.String("provider_refund_id", handle.RefundID),
		)
		if _, err := s.ApplyIntentStatus(ctx, tx, intent, StatusReport{Status: paymentdomain.IntentStatusSucceeded}, sourceAPI); err != nil {
			return err
		}
		_, err := s.insertProviderRefund(ctx, tx, intent, intent.Amount, reason, handle)
		return err
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// ReconcileIntent polls the provider for an intent still PROCESSING and
// applies the reported status through the same guarded transition. Every
// poll, answered or not, stamps last_reconciled_at so the next sweep moves
// on to intents checked less recently.
func (s *Service) ReconcileIntent(ctx context.Context, id string) (*paymentdomain.PaymentIntent, error) {
	intent, err := s.GetPaymentIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	if intent.Status != paymentdomain.IntentStatusProcessing || intent.Reference() == "" {
		return intent, nil
	}
	adapter, err := s.registry.For(intent.Provider)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	status, err := adapter.VerifyIntent(ctx, intent.Reference())
	s.recordCall(ctx, intent.Provider, "verify_intent", err, time.Since(started))
	checked := s.clock.Now()
	if err != nil {
		if markErr := s.repo.MarkIntentReconciled(ctx, s.db, intent.ID, checked); markErr != nil {
			s.log.Error("failed to stamp reconcile attempt",
				zap.String("payment_intent_id", intent.ID),
				zap.Error(markErr),
			)
		}
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.applyProviderStatusTx(ctx, tx, intent, status, sourceReconcile); err != nil {
			return err
		}
		return s.repo.MarkIntentReconciled(ctx, tx, intent.ID, checked)
	})
	if err != nil {
		return nil, err
	}
	intent.LastReconciledAt = &checked
	return intent, nil
}

func (s *Service) applyProviderStatus(ctx context.Context, intent *paymentdomain.PaymentIntent, status *paymentdomain.ProviderStatus, source string) error {
	if status == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.applyProviderStatusTx(ctx, tx, intent, status, source)
	})
}

func (s *Service) applyProviderStatusTx(ctx context.Context, tx *gorm.DB, intent *paymentdomain.PaymentIntent, status *paymentdomain.ProviderStatus, source string) error {
	if status == nil {
		return nil
	}
	_, err := s.ApplyIntentStatus(ctx, tx, intent, StatusReport{
		Status:         status.Status,
		Amount:         status.Amount,
		Currency:       status.Currency,
		FailureCode:    status.FailureCode,
		FailureMessage: status.FailureReason,
	}, source)
	return err
}

func (s *Service) GetAnalyticsSummary(ctx context.Context, workspaceID string) (*paymentdomain.AnalyticsSummary, error) {
	workspaceID = strings.TrimSpace(workspaceID)

	intents, err := s.repo.SummarizeIntents(ctx, s.db, workspaceID)
	if err != nil {
		return nil, err
	}
	volume, err := s.repo.SummarizeVolume(ctx, s.db, workspaceID)
	if err != nil {
		return nil, err
	}
	outcomes, err := s.ledger.CountOutcomes(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := s.ledger.CountPendingReviews(ctx)
	if err != nil {
		return nil, err
	}

	return &paymentdomain.AnalyticsSummary{
		WorkspaceID:     workspaceID,
		GeneratedAt:     s.clock.Now(),
		Intents:         intents,
		Volume:          volume,
		WebhookOutcomes: outcomes,
		PendingReviews:  pending,
	}, nil
}

func (s *Service) loadCustomer(ctx context.Context, id string) (*paymentdomain.Customer, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, paymentdomain.NewValidationError("customer_id", "required", "customer_id is required")
	}
	customer, err := s.repo.FindCustomer(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, paymentdomain.ErrNotFound
	}
	return customer, nil
}

func (s *Service) reloadIntent(ctx context.Context, tx *gorm.DB, intent *paymentdomain.PaymentIntent) error {
	fresh, err := s.repo.FindIntent(ctx, tx, intent.ID)
	if err != nil {
		return err
	}
	if fresh == nil {
		return paymentdomain.ErrNotFound
	}
	*intent = *fresh
	return nil
}

func (s *Service) recordCall(ctx context.Context, provider paymentdomain.Provider, operation string, err error, elapsed time.Duration) {
	result := obsmetrics.CallOK
	switch {
	case err == nil:
	case paymentdomain.IsRetryable(err):
		result = obsmetrics.CallRetryable
	default:
		result = obsmetrics.CallFailed
	}
	s.obsMetrics.RecordProviderCall(ctx, provider.Slug(), operation, result, elapsed)
}

func toJSONMap(in map[string]string) datatypes.JSONMap {
	if len(in) == 0 {
		return nil
	}
	out := make(datatypes.JSONMap, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
