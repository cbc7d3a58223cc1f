package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PaymentIntent is one attempt to collect money. Rows are never deleted.
type PaymentIntent struct {
	ID                  string            `json:"id" gorm:"primaryKey;type:text"`
	WorkspaceID         string            `json:"workspace_id" gorm:"type:text;not null;index"`
	CustomerID          string            `json:"customer_id" gorm:"type:text;not null;index"`
	Amount              int64             `json:"amount" gorm:"not null"`
	Currency            string            `json:"currency" gorm:"type:text;not null"`
	Provider            Provider          `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_intents_provider_ref,priority:1"`
	ProviderReferenceID *string           `json:"provider_reference_id" gorm:"type:text;uniqueIndex:ux_payment_intents_provider_ref,priority:2"`
	Status              IntentStatus      `json:"status" gorm:"type:text;not null;index"`
	Metadata            datatypes.JSONMap `json:"metadata,omitempty"`
	RedirectURL         string            `json:"redirect_url,omitempty" gorm:"type:text"`
	ClientSecret        string            `json:"client_secret,omitempty" gorm:"type:text"`
	FailureCode         string            `json:"failure_code,omitempty" gorm:"type:text"`
	FailureMessage      string            `json:"failure_message,omitempty" gorm:"type:text"`
	// ReviewRequired marks an intent the provider reported inconsistently,
	// such as a success for a different amount. It stays PROCESSING.
	ReviewRequired   bool       `json:"review_required" gorm:"not null;default:false"`
	LastReconciledAt *time.Time `json:"last_reconciled_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time  `json:"updated_at" gorm:"not null"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }

// Reference returns the provider reference or "" while it is unassigned.
func (p *PaymentIntent) Reference() string {
	if p == nil || p.ProviderReferenceID == nil {
		return ""
	}
	return *p.ProviderReferenceID
}

type Customer struct {
	ID          string    `json:"id" gorm:"primaryKey;type:text"`
	WorkspaceID string    `json:"workspace_id" gorm:"type:text;not null;index"`
	Email       string    `json:"email" gorm:"type:text;not null"`
	Name        string    `json:"name" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"not null"`

	ProviderRefs []CustomerProviderRef `json:"provider_refs,omitempty" gorm:"-"`
}

func (Customer) TableName() string { return "customers" }

// CustomerProviderRef maps a customer to one provider-side customer id.
type CustomerProviderRef struct {
	ID                 string    `json:"id" gorm:"primaryKey;type:text"`
	CustomerID         string    `json:"customer_id" gorm:"type:text;not null;uniqueIndex:ux_customer_provider_refs,priority:1"`
	Provider           Provider  `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_customer_provider_refs,priority:2"`
	ProviderCustomerID string    `json:"provider_customer_id" gorm:"type:text;not null"`
	CreatedAt          time.Time `json:"created_at" gorm:"not null"`
}

func (CustomerProviderRef) TableName() string { return "customer_provider_refs" }

type PaymentMethod struct {
	ID                      string    `json:"id" gorm:"primaryKey;type:text"`
	CustomerID              string    `json:"customer_id" gorm:"type:text;not null;index"`
	Provider                Provider  `json:"provider" gorm:"type:text;not null"`
	ProviderPaymentMethodID string    `json:"provider_payment_method_id" gorm:"type:text;not null"`
	IsDefault               bool      `json:"is_default" gorm:"not null;default:false"`
	CreatedAt               time.Time `json:"created_at" gorm:"not null"`
}

func (PaymentMethod) TableName() string { return "payment_methods" }

type Subscription struct {
	ID                     string             `json:"id" gorm:"primaryKey;type:text"`
	WorkspaceID            string             `json:"workspace_id" gorm:"type:text;not null;index"`
	CustomerID             string             `json:"customer_id" gorm:"type:text;not null;index"`
	PlanID                 string             `json:"plan_id" gorm:"type:text;not null"`
	Provider               Provider           `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_subscriptions_provider_ref,priority:1"`
	ProviderSubscriptionID *string            `json:"provider_subscription_id" gorm:"type:text;uniqueIndex:ux_subscriptions_provider_ref,priority:2"`
	Status                 SubscriptionStatus `json:"status" gorm:"type:text;not null;index"`
	RedirectURL            string             `json:"redirect_url,omitempty" gorm:"type:text"`
	CurrentPeriodStart     *time.Time         `json:"current_period_start"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end" gorm:"not null;default:false"`
	CancelledAt            *time.Time         `json:"cancelled_at"`
	CreatedAt              time.Time          `json:"created_at" gorm:"not null"`
	UpdatedAt              time.Time          `json:"updated_at" gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }

func (s *Subscription) Reference() string {
	if s == nil || s.ProviderSubscriptionID == nil {
		return ""
	}
	return *s.ProviderSubscriptionID
}

type Invoice struct {
	ID                string        `json:"id" gorm:"primaryKey;type:text"`
	SubscriptionID    *string       `json:"subscription_id" gorm:"type:text;index"`
	Provider          Provider      `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_invoices_provider_ref,priority:1"`
	ProviderInvoiceID *string       `json:"provider_invoice_id" gorm:"type:text;uniqueIndex:ux_invoices_provider_ref,priority:2"`
	Amount            int64         `json:"amount" gorm:"not null"`
	Currency          string        `json:"currency" gorm:"type:text;not null"`
	Status            InvoiceStatus `json:"status" gorm:"type:text;not null"`
	CreatedAt         time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time     `json:"updated_at" gorm:"not null"`
}

func (Invoice) TableName() string { return "invoices" }

type Refund struct {
	ID               string       `json:"id" gorm:"primaryKey;type:text"`
	PaymentIntentID  string       `json:"payment_intent_id" gorm:"type:text;not null;index"`
	Provider         Provider     `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_refunds_provider_ref,priority:1"`
	ProviderRefundID *string      `json:"provider_refund_id" gorm:"type:text;uniqueIndex:ux_refunds_provider_ref,priority:2"`
	Amount           int64        `json:"amount" gorm:"not null"`
	Currency         string       `json:"currency" gorm:"type:text;not null"`
	Reason           string       `json:"reason,omitempty" gorm:"type:text"`
	Status           RefundStatus `json:"status" gorm:"type:text;not null"`
	FailureCode      string       `json:"failure_code,omitempty" gorm:"type:text"`
	// ReviewRequired marks a refund the provider accepted but whose
	// outcome could not be stored.
	ReviewRequired bool      `json:"review_required" gorm:"not null;default:false"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"not null"`
}

func (Refund) TableName() string { return "refunds" }

// WebhookEvent is the idempotency ledger row. (provider, provider_event_id)
// is unique.
type WebhookEvent struct {
	ID                  snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider            Provider       `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_webhook_events_provider_event,priority:1"`
	ProviderEventID     string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_webhook_events_provider_event,priority:2"`
	EventType           EventType      `json:"event_type" gorm:"type:text;not null"`
	ProviderReferenceID string         `json:"provider_reference_id" gorm:"type:text"`
	Outcome             WebhookOutcome `json:"outcome" gorm:"type:text;not null"`
	ReviewRequired      bool           `json:"review_required" gorm:"not null;default:false"`
	ErrorReason         string         `json:"error_reason,omitempty" gorm:"type:text"`
	Payload             datatypes.JSON `json:"payload"`
	ReceivedAt          time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt         *time.Time     `json:"processed_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// WebhookDelivery is the append-only trail of every HTTP delivery,
// including duplicates and rejected signatures.
type WebhookDelivery struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        Provider       `json:"provider" gorm:"type:text;not null;index:ix_webhook_deliveries_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;index:ix_webhook_deliveries_event,priority:2"`
	Outcome         WebhookOutcome `json:"outcome" gorm:"type:text;not null"`
	PayloadSHA256   string         `json:"payload_sha256" gorm:"column:payload_sha256;type:text;not null"`
	ReviewRequired  bool           `json:"review_required" gorm:"not null;default:false"`
	ErrorReason     string         `json:"error_reason,omitempty" gorm:"type:text"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
}

func (WebhookDelivery) TableName() string { return "webhook_deliveries" }
