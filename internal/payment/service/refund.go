package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateRefund reserves the amount against the intent under a row lock,
// then asks the provider. A provider failure marks the refund FAILED,
// which releases the reservation.
func (s *Service) CreateRefund(ctx context.Context, req paymentdomain.CreateRefundRequest) (*paymentdomain.Refund, error) {
	intentID := strings.TrimSpace(req.PaymentIntentID)
	if intentID == "" {
		return nil, paymentdomain.NewValidationError("payment_intent_id", "required", "payment_intent_id is required")
	}
	if req.Amount != nil && *req.Amount <= 0 {
		return nil, paymentdomain.NewValidationError("amount", "invalid_amount", "amount must be a positive integer in minor units")
	}

	var (
		intent *paymentdomain.PaymentIntent
		refund *paymentdomain.Refund
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		intent, err = s.repo.FindIntentForUpdate(ctx, tx, intentID)
		if err != nil {
			return err
		}
		if intent == nil {
			return paymentdomain.ErrNotFound
		}
		if intent.Status != paymentdomain.IntentStatusSucceeded {
			return paymentdomain.NewValidationError("payment_intent_id", "intent_not_succeeded", "only succeeded payment intents can be refunded")
		}

		refunded, err := s.repo.SumActiveRefunds(ctx, tx, intent.ID)
		if err != nil {
			return err
		}
		remaining := intent.Amount - refunded
		amount := remaining
		if req.Amount != nil {
			amount = *req.Amount
		}
		if amount <= 0 || amount > remaining {
			return paymentdomain.NewValidationError("amount", "refund_exceeds_amount", "refund exceeds the refundable amount")
		}

		now := s.clock.Now()
		refund = &paymentdomain.Refund{
			ID:              uuid.NewString(),
			PaymentIntentID: intent.ID,
			Provider:        intent.Provider,
			Amount:          amount,
			Currency:        intent.Currency,
			Reason:          strings.TrimSpace(req.Reason),
			Status:          paymentdomain.RefundStatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.repo.InsertRefund(ctx, tx, refund); err != nil {
			return err
		}
		return s.publishRefund(ctx, tx, refund)
	})
	if err != nil {
		return nil, err
	}

	adapter, err := s.registry.For(intent.Provider)
	if err != nil {
		s.failRefund(ctx, refund, paymentdomain.ErrorCode(err))
		return nil, err
	}

	amount := refund.Amount
	started := time.Now()
	handle, err := adapter.CancelOrRefund(ctx, paymentdomain.CancelOrRefundRequest{
		ProviderReferenceID: intent.Reference(),
		Amount:              &amount,
		Currency:            refund.Currency,
		Reason:              refund.Reason,
		IdempotencyKey:      refund.ID,
	})
	s.recordCall(ctx, intent.Provider, "refund", err, time.Since(started))
	if err != nil {
		code := paymentdomain.ErrorCode(err)
		if code == "" {
			code = "provider_error"
		}
		s.failRefund(ctx, refund, code)
		return nil, err
	}

	status := handle.Status
	if status == "" || status == paymentdomain.RefundStatusPending {
		status = paymentdomain.RefundStatusProcessing
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.ApplyRefundStatus(ctx, tx, refund, status, handle.RefundID, "", sourceAPI)
		return err
	})
	if err != nil {
		return s.refundNotRecorded(ctx, refund, handle, err)
	}

	s.log.Info("refund created",
		zap.String("refund_id", refund.ID),
		zap.String("payment_intent_id", intent.ID),
		zap.Int64("amount", refund.Amount),
		zap.String("status", string(refund.Status)),
	)
	return refund, nil
}

// refundNotRecorded handles a refund the provider accepted whose result
// could not be stored. The refund stays PENDING with its reservation and
// is flagged for review. Once flagged it is returned without an error so
// the caller does not ask the provider to refund again.
func (s *Service) refundNotRecorded(ctx context.Context, refund *paymentdomain.Refund, handle *paymentdomain.ProviderRefundHandle, cause error) (*paymentdomain.Refund, error) {
	s.log.Error("refund accepted by provider but not recorded",
		zap.String("refund_id", refund.ID),
		zap.String("payment_intent_id", refund.PaymentIntentID),
		zap.String("provider_refund_id", handle.RefundID),
		zap.String("provider_status", string(handle.Status)),
		zap.Error(cause),
	)

	ctx = context.WithoutCancel(ctx)
	var fresh paymentdomain.Refund
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", refund.ID).Take(&fresh).Error; err != nil {
			return err
		}
		return s.flagRefund(ctx, tx, &fresh, handle.RefundID, paymentdomain.FailureNotRecorded)
	})
	if err != nil {
		s.log.Error("failed to flag unrecorded refund",
			zap.String("refund_id", refund.ID),
			zap.Error(err),
		)
		return nil, errors.Join(cause, err)
	}
	return &fresh, nil
}

func (s *Service) failRefund(ctx context.Context, refund *paymentdomain.Refund, code string) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.ApplyRefundStatus(ctx, tx, refund, paymentdomain.RefundStatusFailed, "", code, sourceAPI)
		return err
	})
	if err != nil {
		s.log.Error("failed to release refund reservation",
			zap.String("refund_id", refund.ID),
			zap.Error(err),
		)
	}
}

// insertProviderRefund records a refund the provider already issued.
func (s *Service) insertProviderRefund(ctx context.Context, tx *gorm.DB, intent *paymentdomain.PaymentIntent, amount int64, reason string, handle *paymentdomain.ProviderRefundHandle) (*paymentdomain.Refund, error) {
	status := handle.Status
	if status == "" || status == paymentdomain.RefundStatusPending {
		status = paymentdomain.RefundStatusProcessing
	}
	now := s.clock.Now()
	refund := &paymentdomain.Refund{
		ID:              uuid.NewString(),
		PaymentIntentID: intent.ID,
		Provider:        intent.Provider,
		Amount:          amount,
		Currency:        intent.Currency,
		Reason:          reason,
		Status:          status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if handle.RefundID != "" {
		ref := handle.RefundID
		refund.ProviderRefundID = &ref
	}
	if err := s.repo.InsertRefund(ctx, tx, refund); err != nil {
		return nil, err
	}
	s.obsMetrics.RecordRefund(ctx, refund.Provider.Slug(), string(refund.Status))
	if err := s.publishRefund(ctx, tx, refund); err != nil {
		return nil, err
	}
	return refund, nil
}
