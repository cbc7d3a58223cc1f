package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/paycore/internal/events"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) CreateSubscription(ctx context.Context, req paymentdomain.CreateSubscriptionInput) (*paymentdomain.Subscription, error) {
	workspaceID := strings.TrimSpace(req.WorkspaceID)
	if workspaceID == "" {
		return nil, paymentdomain.NewValidationError("workspace_id", "required", "workspace_id is required")
	}
	planID := strings.TrimSpace(req.PlanID)
	if planID == "" {
		return nil, paymentdomain.NewValidationError("plan_id", "required", "plan_id is required")
	}
	if req.TrialDays != nil && *req.TrialDays < 0 {
		return nil, paymentdomain.NewValidationError("trial_days", "invalid_trial_days", "trial_days must not be negative")
	}
	adapter, err := s.registry.For(req.Provider)
	if err != nil {
		return nil, err
	}
	trialing := req.TrialDays != nil && *req.TrialDays > 0
	if trialing && !adapter.Capabilities().Trials {
		return nil, paymentdomain.NewValidationError("trial_days", "trial_not_supported", "provider does not support trials")
	}
	customer, err := s.loadCustomer(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}
	providerCustomerID, err := s.ensureProviderCustomer(ctx, customer, req.Provider, adapter)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	handle, err := withRetry(ctx, s, req.Provider, "create_subscription", func() (*paymentdomain.ProviderSubscriptionHandle, error) {
		return adapter.CreateSubscription(ctx, paymentdomain.CreateSubscriptionRequest{
			CustomerRef:    providerCustomerID,
			Email:          customer.Email,
			PlanRef:        planID,
			TrialDays:      req.TrialDays,
			IdempotencyKey: id,
			Reference:      id,
		})
	})
	if err != nil {
		return nil, err
	}

	status := handle.Status
	if status == "" {
		status = paymentdomain.SubscriptionStatusIncomplete
	}
	now := s.clock.Now()
	reference := handle.SubscriptionID
	sub := &paymentdomain.Subscription{
		ID:                     id,
		WorkspaceID:            workspaceID,
		CustomerID:             customer.ID,
		PlanID:                 planID,
		Provider:               req.Provider,
		ProviderSubscriptionID: &reference,
		Status:                 status,
		RedirectURL:            handle.RedirectURL,
		CurrentPeriodStart:     handle.CurrentPeriodStart,
		CurrentPeriodEnd:       handle.CurrentPeriodEnd,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertSubscription(ctx, tx, sub); err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			AggregateType: events.AggregateSubscription,
			AggregateID:   sub.ID,
			Type:          events.EventSubscriptionCreated,
			DedupeKey:     dedupeKey(events.AggregateSubscription, sub.ID, "created"),
			Payload: events.SubscriptionPayload{
				SubscriptionID: sub.ID,
				WorkspaceID:    sub.WorkspaceID,
				Provider:       string(sub.Provider),
				Status:         string(sub.Status),
			}.ToMap(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription created",
		zap.String("subscription_id", sub.ID),
		zap.String("provider", sub.Provider.Slug()),
		zap.String("provider_subscription_id", reference),
		zap.String("status", string(sub.Status)),
	)
	return sub, nil
}

// CancelSubscription cancels now, or flags the subscription to end with its
// current period. Providers without native period-end cancellation only get
// the flag; the scheduler finalizes them once the period is over.
func (s *Service) CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) (*paymentdomain.Subscription, error) {
	sub, err := s.getSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == paymentdomain.SubscriptionStatusCancelled {
		return sub, nil
	}
	if atPeriodEnd && sub.CancelAtPeriodEnd {
		return sub, nil
	}
	adapter, err := s.registry.For(sub.Provider)
	if err != nil {
		return nil, err
	}

	if !atPeriodEnd {
		if err := s.cancelAtProvider(ctx, sub, adapter, false); err != nil {
			return nil, err
		}
		if err := s.markCancelled(ctx, sub, sourceAPI); err != nil {
			return nil, err
		}
		return sub, nil
	}

	if adapter.Capabilities().CancelAtPeriodEnd {
		if err := s.cancelAtProvider(ctx, sub, adapter, true); err != nil {
			return nil, err
		}
	} else if sub.CurrentPeriodEnd == nil {
		return nil, paymentdomain.NewValidationError("at_period_end", "period_end_unknown", "subscription has no current period to end with")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for range maxCASAttempts {
			update := paymentdomain.SubscriptionUpdate{
				ID:                sub.ID,
				From:              sub.Status,
				To:                sub.Status,
				CancelAtPeriodEnd: true,
				UpdatedAt:         s.clock.Now(),
			}
			ok, err := s.repo.CompareAndSetSubscription(ctx, tx, update)
			if err != nil {
				return err
			}
			if ok {
				applySubscriptionUpdate(sub, update)
				return s.publishSubscription(ctx, tx, sub)
			}
			if err := s.reloadSubscription(ctx, tx, sub); err != nil {
				return err
			}
			if sub.Status == paymentdomain.SubscriptionStatusCancelled {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// FinalizePeriodEndCancellation cancels a flagged subscription whose period
// has ended. Subscriptions that are no longer flagged are returned as is.
func (s *Service) FinalizePeriodEndCancellation(ctx context.Context, id string) (*paymentdomain.Subscription, error) {
	sub, err := s.getSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == paymentdomain.SubscriptionStatusCancelled || !sub.CancelAtPeriodEnd {
		return sub, nil
	}
	if sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.After(s.clock.Now()) {
		return nil, paymentdomain.NewValidationError("id", "period_not_ended", "subscription period has not ended")
	}
	adapter, err := s.registry.For(sub.Provider)
	if err != nil {
		return nil, err
	}
	if err := s.cancelAtProvider(ctx, sub, adapter, false); err != nil {
		return nil, err
	}
	if err := s.markCancelled(ctx, sub, sourceScheduler); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) ListInvoices(ctx context.Context, subscriptionID string) ([]paymentdomain.Invoice, error) {
	sub, err := s.getSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListInvoices(ctx, s.db, sub.ID)
}

func (s *Service) cancelAtProvider(ctx context.Context, sub *paymentdomain.Subscription, adapter paymentdomain.Adapter, atPeriodEnd bool) error {
	reference := sub.Reference()
	if reference == "" {
		return nil
	}
	started := time.Now()
	err := adapter.CancelSubscription(ctx, reference, atPeriodEnd)
	s.recordCall(ctx, sub.Provider, "cancel_subscription", err, time.Since(started))
	return err
}

func (s *Service) markCancelled(ctx context.Context, sub *paymentdomain.Subscription, source string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.ApplySubscriptionStatus(ctx, tx, sub, SubscriptionChange{Status: paymentdomain.SubscriptionStatusCancelled}, source)
		return err
	})
}

func (s *Service) getSubscription(ctx context.Context, id string) (*paymentdomain.Subscription, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, paymentdomain.ErrNotFound
	}
	sub, err := s.repo.FindSubscription(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, paymentdomain.ErrNotFound
	}
	return sub, nil
}

// RecordInvoice upserts a provider invoice inside tx and moves the linked
// subscription: a failed payment makes it PAST_DUE, a paid invoice brings a
// PAST_DUE subscription back to ACTIVE. An event for an invoice that is
// already final changes nothing and reports false.
func (s *Service) RecordInvoice(ctx context.Context, tx *gorm.DB, provider paymentdomain.Provider, evt *paymentdomain.NormalizedEvent, sub *paymentdomain.Subscription) (*paymentdomain.Invoice, bool, error) {
	status := paymentdomain.InvoiceStatusOpen
	if evt.EventType == paymentdomain.EventInvoicePaid {
		status = paymentdomain.InvoiceStatusPaid
	}
	now := s.clock.Now()
	reference := evt.ProviderReferenceID
	invoice := &paymentdomain.Invoice{
		ID:                uuid.NewString(),
		Provider:          provider,
		ProviderInvoiceID: &reference,
		Amount:            evt.Amount,
		Currency:          strings.ToUpper(evt.Currency),
		Status:            status,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if sub != nil {
		subID := sub.ID
		invoice.SubscriptionID = &subID
	}
	written, err := s.repo.UpsertInvoice(ctx, tx, invoice)
	if err != nil {
		return nil, false, err
	}
	if !written {
		stored, err := s.repo.FindInvoiceByReference(ctx, tx, provider, reference)
		if err != nil {
			return nil, false, err
		}
		s.log.Info("invoice already final, event ignored",
			zap.String("provider", provider.Slug()),
			zap.String("provider_invoice_id", reference),
			zap.String("event_type", string(evt.EventType)),
		)
		return stored, false, nil
	}

	payload := events.InvoicePayload{
		InvoiceID: reference,
		Provider:  string(provider),
		Status:    string(status),
		Amount:    invoice.Amount,
		Currency:  invoice.Currency,
	}
	if sub != nil {
		payload.SubscriptionID = sub.ID
	}
	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		AggregateType: events.AggregateInvoice,
		AggregateID:   reference,
		Type:          events.EventInvoiceUpdated,
		DedupeKey:     dedupeKey(events.AggregateInvoice, provider.Slug()+":"+reference, string(status)),
		Payload:       payload.ToMap(),
	}); err != nil {
		return nil, false, err
	}

	if sub == nil {
		return invoice, true, nil
	}
	switch {
	case evt.EventType == paymentdomain.EventInvoicePaymentFailed:
		_, err = s.ApplySubscriptionStatus(ctx, tx, sub, SubscriptionChange{Status: paymentdomain.SubscriptionStatusPastDue}, SourceWebhook)
	case sub.Status == paymentdomain.SubscriptionStatusPastDue:
		_, err = s.ApplySubscriptionStatus(ctx, tx, sub, SubscriptionChange{Status: paymentdomain.SubscriptionStatusActive}, SourceWebhook)
	}
	if err != nil {
		return nil, false, err
	}
	return invoice, true, nil
}
