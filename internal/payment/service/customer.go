package service

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) CreateCustomer(ctx context.Context, req paymentdomain.CreateCustomerRequest) (*paymentdomain.Customer, error) {
	workspaceID := strings.TrimSpace(req.WorkspaceID)
	if workspaceID == "" {
		return nil, paymentdomain.NewValidationError("workspace_id", "required", "workspace_id is required")
	}
	email := strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, paymentdomain.NewValidationError("email", "invalid_email", "email is invalid")
	}

	now := s.clock.Now()
	customer := &paymentdomain.Customer{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Email:       strings.ToLower(email),
		Name:        strings.TrimSpace(req.Name),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertCustomer(ctx, s.db, customer); err != nil {
		return nil, err
	}
	return customer, nil
}

// AddPaymentMethod attaches a tokenized method to the customer at the
// provider, creating the provider customer on first use.
func (s *Service) AddPaymentMethod(ctx context.Context, req paymentdomain.AddPaymentMethodRequest) (*paymentdomain.PaymentMethod, error) {
	methodRef := strings.TrimSpace(req.PaymentMethodRef)
	if methodRef == "" {
		return nil, paymentdomain.NewValidationError("payment_method", "required", "payment_method is required")
	}
	adapter, err := s.registry.For(req.Provider)
	if err != nil {
		return nil, err
	}
	customer, err := s.loadCustomer(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}

	providerCustomerID, err := s.ensureProviderCustomer(ctx, customer, req.Provider, adapter)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	err = adapter.AttachPaymentMethod(ctx, providerCustomerID, methodRef)
	s.recordCall(ctx, req.Provider, "attach_payment_method", err, time.Since(started))
	if err != nil {
		return nil, err
	}

	method := &paymentdomain.PaymentMethod{
		ID:                      uuid.NewString(),
		CustomerID:              customer.ID,
		Provider:                req.Provider,
		ProviderPaymentMethodID: methodRef,
		IsDefault:               req.MakeDefault,
		CreatedAt:               s.clock.Now(),
	}
	if err := s.repo.InsertPaymentMethod(ctx, s.db, method); err != nil {
		return nil, err
	}
	return method, nil
}

// ensureProviderCustomer returns the provider-side customer id, creating and
// storing it when missing. Two concurrent first uses may both call the
// provider; the first stored ref wins.
func (s *Service) ensureProviderCustomer(ctx context.Context, customer *paymentdomain.Customer, provider paymentdomain.Provider, adapter paymentdomain.Adapter) (string, error) {
	ref, err := s.repo.FindCustomerProviderRef(ctx, s.db, customer.ID, provider)
	if err != nil {
		return "", err
	}
	if ref != nil {
		return ref.ProviderCustomerID, nil
	}

	providerCustomerID, err := withRetry(ctx, s, provider, "create_customer", func() (string, error) {
		return adapter.CreateCustomer(ctx, customer.Email, customer.Name)
	})
	if err != nil {
		return "", err
	}

	var stored string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertCustomerProviderRef(ctx, tx, &paymentdomain.CustomerProviderRef{
			ID:                 uuid.NewString(),
			CustomerID:         customer.ID,
			Provider:           provider,
			ProviderCustomerID: providerCustomerID,
			CreatedAt:          s.clock.Now(),
		})
		if err != nil {
			return err
		}
		if inserted {
			stored = providerCustomerID
			return nil
		}
		existing, err := s.repo.FindCustomerProviderRef(ctx, tx, customer.ID, provider)
		if err != nil {
			return err
		}
		if existing == nil {
			return paymentdomain.ErrNotFound
		}
		stored = existing.ProviderCustomerID
		return nil
	})
	if err != nil {
		return "", err
	}
	if stored != providerCustomerID {
		s.log.Warn("discarded duplicate provider customer",
			zap.String("customer_id", customer.ID),
			zap.String("provider", provider.Slug()),
			zap.String("provider_customer_id", providerCustomerID),
		)
	}
	return stored, nil
}
