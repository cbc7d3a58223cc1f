package domain

import (
	"context"
	"time"
)

// Service is the provider-agnostic payment surface exposed to the HTTP and
// CLI layers. Every method returns canonical records, never provider
// response shapes.
type Service interface {
	CreatePaymentIntent(ctx context.Context, req CreatePaymentIntentRequest) (*PaymentIntent, error)
	ConfirmPaymentIntent(ctx context.Context, req ConfirmPaymentIntentRequest) (*PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id, reason string) (*PaymentIntent, error)
	CreateRefund(ctx context.Context, req CreateRefundRequest) (*Refund, error)
	CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*Customer, error)
	AddPaymentMethod(ctx context.Context, req AddPaymentMethodRequest) (*PaymentMethod, error)
	CreateSubscription(ctx context.Context, req CreateSubscriptionInput) (*Subscription, error)
	CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) (*Subscription, error)
	ListInvoices(ctx context.Context, subscriptionID string) ([]Invoice, error)
	GetAnalyticsSummary(ctx context.Context, workspaceID string) (*AnalyticsSummary, error)

	// ReconcileIntent polls the provider for a PROCESSING intent and
	// applies whatever status it reports.
	ReconcileIntent(ctx context.Context, id string) (*PaymentIntent, error)
	// FinalizePeriodEndCancellation cancels, at the provider, a
	// subscription whose period ended while flagged cancel-at-period-end.
	FinalizePeriodEndCancellation(ctx context.Context, id string) (*Subscription, error)
}

type CreatePaymentIntentRequest struct {
	WorkspaceID string            `json:"workspace_id"`
	CustomerID  string            `json:"customer_id"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Provider    Provider          `json:"provider"`
	Metadata    map[string]string `json:"metadata"`
}

type ConfirmPaymentIntentRequest struct {
	ID               string `json:"id"`
	PaymentMethodRef string `json:"payment_method"`
}

type CreateRefundRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
	Amount          *int64 `json:"amount"`
	Reason          string `json:"reason"`
}

type CreateCustomerRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
}

type AddPaymentMethodRequest struct {
	CustomerID       string   `json:"customer_id"`
	Provider         Provider `json:"provider"`
	PaymentMethodRef string   `json:"payment_method"`
	MakeDefault      bool     `json:"default"`
}

type CreateSubscriptionInput struct {
	WorkspaceID string   `json:"workspace_id"`
	CustomerID  string   `json:"customer_id"`
	PlanID      string   `json:"plan_id"`
	Provider    Provider `json:"provider"`
	TrialDays   *int     `json:"trial_days"`
}

// AnalyticsSummary aggregates canonical records for dashboards.
type AnalyticsSummary struct {
	WorkspaceID     string                `json:"workspace_id"`
	GeneratedAt     time.Time             `json:"generated_at"`
	Intents         []IntentStatusBucket  `json:"intents"`
	Volume          []CurrencyVolume      `json:"volume"`
	WebhookOutcomes []WebhookOutcomeCount `json:"webhook_outcomes"`
	PendingReviews  int64                 `json:"pending_reviews"`
}

type IntentStatusBucket struct {
	Provider Provider     `json:"provider"`
	Status   IntentStatus `json:"status"`
	Count    int64        `json:"count"`
	Amount   int64        `json:"amount"`
}

type CurrencyVolume struct {
	Currency  string `json:"currency"`
	Succeeded int64  `json:"succeeded"`
	Refunded  int64  `json:"refunded"`
}

type WebhookOutcomeCount struct {
	Provider Provider       `json:"provider"`
	Outcome  WebhookOutcome `json:"outcome"`
	Count    int64          `json:"count"`
}
