package paymenttest

import (
	"context"
	"net/http"

	"github.com/smallbiznis/paycore/internal/payment/adapters"
	"github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/stretchr/testify/mock"
)

// MockAdapter is a testify double for domain.Adapter. Signature checks
// compare the X-Test-Signature header against Secret.
type MockAdapter struct {
	mock.Mock

	Kind   domain.Provider
	Caps   domain.Capabilities
	Secret string
}

var _ domain.Adapter = (*MockAdapter)(nil)

func NewMockAdapter(provider domain.Provider, caps domain.Capabilities) *MockAdapter {
	return &MockAdapter{Kind: provider, Caps: caps, Secret: "whsec_test"}
}

// Registry binds the adapter to its own provider slot.
func (m *MockAdapter) Registry() *adapters.Registry {
	switch m.Kind {
	case domain.ProviderCard:
		return adapters.NewRegistry(m, nil, nil)
	case domain.ProviderMobileMoney:
		return adapters.NewRegistry(nil, m, nil)
	default:
		return adapters.NewRegistry(nil, nil, m)
	}
}

func (m *MockAdapter) Provider() domain.Provider { return m.Kind }

func (m *MockAdapter) Capabilities() domain.Capabilities { return m.Caps }

func (m *MockAdapter) CreateIntent(ctx context.Context, req domain.CreateIntentRequest) (*domain.ProviderIntentHandle, error) {
	args := m.Called(ctx, req)
	handle, _ := args.Get(0).(*domain.ProviderIntentHandle)
	return handle, args.Error(1)
}

func (m *MockAdapter) ConfirmIntent(ctx context.Context, providerReferenceID, paymentMethodRef string) (*domain.ProviderStatus, error) {
	args := m.Called(ctx, providerReferenceID, paymentMethodRef)
	status, _ := args.Get(0).(*domain.ProviderStatus)
	return status, args.Error(1)
}

func (m *MockAdapter) VerifyIntent(ctx context.Context, providerReferenceID string) (*domain.ProviderStatus, error) {
	args := m.Called(ctx, providerReferenceID)
	status, _ := args.Get(0).(*domain.ProviderStatus)
	return status, args.Error(1)
}

func (m *MockAdapter) CancelOrRefund(ctx context.Context, req domain.CancelOrRefundRequest) (*domain.ProviderRefundHandle, error) {
	args := m.Called(ctx, req)
	handle, _ := args.Get(0).(*domain.ProviderRefundHandle)
	return handle, args.Error(1)
}

func (m *MockAdapter) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.ProviderSubscriptionHandle, error) {
	args := m.Called(ctx, req)
	handle, _ := args.Get(0).(*domain.ProviderSubscriptionHandle)
	return handle, args.Error(1)
}

func (m *MockAdapter) CancelSubscription(ctx context.Context, providerSubscriptionID string, atPeriodEnd bool) error {
	return m.Called(ctx, providerSubscriptionID, atPeriodEnd).Error(0)
}

func (m *MockAdapter) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	args := m.Called(ctx, email, name)
	return args.String(0), args.Error(1)
}

func (m *MockAdapter) AttachPaymentMethod(ctx context.Context, providerCustomerID, paymentMethodRef string) error {
	return m.Called(ctx, providerCustomerID, paymentMethodRef).Error(0)
}

func (m *MockAdapter) VerifyWebhookSignature(_ []byte, headers http.Header) bool {
	return headers.Get("X-Test-Signature") == m.Secret
}

func (m *MockAdapter) ParseWebhookEvent(payload []byte) (*domain.NormalizedEvent, error) {
	args := m.Called(payload)
	evt, _ := args.Get(0).(*domain.NormalizedEvent)
	return evt, args.Error(1)
}
