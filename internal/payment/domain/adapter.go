package domain

import (
	"context"
	"net/http"
	"time"
)

// Adapter translates the internal payment vocabulary into one external
// processor's API and webhook format. Implementations hold no mutable
// state and are safe for concurrent use.
type Adapter interface {
	Provider() Provider
	Capabilities() Capabilities

	CreateIntent(ctx context.Context, req CreateIntentRequest) (*ProviderIntentHandle, error)
	// ConfirmIntent causes the provider to attempt the charge. Providers
	// without an explicit confirm step degrade to VerifyIntent.
	ConfirmIntent(ctx context.Context, providerReferenceID, paymentMethodRef string) (*ProviderStatus, error)
	VerifyIntent(ctx context.Context, providerReferenceID string) (*ProviderStatus, error)
	CancelOrRefund(ctx context.Context, req CancelOrRefundRequest) (*ProviderRefundHandle, error)

	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*ProviderSubscriptionHandle, error)
	CancelSubscription(ctx context.Context, providerSubscriptionID string, atPeriodEnd bool) error

	CreateCustomer(ctx context.Context, email, name string) (string, error)
	AttachPaymentMethod(ctx context.Context, providerCustomerID, paymentMethodRef string) error

	// VerifyWebhookSignature must not perform I/O.
	VerifyWebhookSignature(payload []byte, headers http.Header) bool
	// ParseWebhookEvent returns ErrEventIgnored for event types outside
	// the normalized set.
	ParseWebhookEvent(payload []byte) (*NormalizedEvent, error)
}

// Capabilities describes optional provider behaviour the orchestrator
// branches on.
type Capabilities struct {
	ExplicitConfirm   bool
	CancelAtPeriodEnd bool
	Trials            bool
}

type CreateIntentRequest struct {
	Amount         int64
	Currency       string
	CustomerRef    string
	Email          string
	Metadata       map[string]string
	IdempotencyKey string
	// Reference is the merchant reference for providers that let the
	// caller choose it. Providers that assign their own ignore it.
	Reference string
}

type ProviderIntentHandle struct {
	ReferenceID  string
	Status       IntentStatus
	RedirectURL  string
	ClientSecret string
}

type ProviderStatus struct {
	ReferenceID   string
	Status        IntentStatus
	Amount        int64
	Currency      string
	FailureCode   string
	FailureReason string
}

type RefundKind string

const (
	RefundKindRefund       RefundKind = "REFUND"
	RefundKindCancellation RefundKind = "CANCELLATION"
)

type CancelOrRefundRequest struct {
	ProviderReferenceID string
	// Amount nil means the full remaining amount.
	Amount         *int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

type ProviderRefundHandle struct {
	Kind     RefundKind
	RefundID string
	Status   RefundStatus
}

type CreateSubscriptionRequest struct {
	CustomerRef    string
	Email          string
	PlanRef        string
	TrialDays      *int
	IdempotencyKey string
	Reference      string
}

type ProviderSubscriptionHandle struct {
	SubscriptionID     string
	Status             SubscriptionStatus
	RedirectURL        string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
}

// NormalizedEvent is a webhook translated into the provider-neutral
// taxonomy.
type NormalizedEvent struct {
	EventID             string
	EventType           EventType
	ProviderReferenceID string
	// Fields below are populated when the provider reports them.
	Amount               int64
	Currency             string
	FailureCode          string
	ProviderSubscription string
	PeriodStart          *time.Time
	PeriodEnd            *time.Time
	OccurredAt           time.Time
}
