package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository persists canonical payment records. Every method takes the
// handle to run on so callers can compose calls inside one transaction.
// Finders return (nil, nil) when no row matches.
type Repository interface {
	InsertIntent(ctx context.Context, db *gorm.DB, intent *PaymentIntent) error
	FindIntent(ctx context.Context, db *gorm.DB, id string) (*PaymentIntent, error)
	FindIntentForUpdate(ctx context.Context, db *gorm.DB, id string) (*PaymentIntent, error)
	FindIntentByReference(ctx context.Context, db *gorm.DB, provider Provider, reference string) (*PaymentIntent, error)
	AssignIntentReference(ctx context.Context, db *gorm.DB, update IntentReferenceUpdate) (bool, error)
	CompareAndSetIntentStatus(ctx context.Context, db *gorm.DB, update IntentStatusUpdate) (bool, error)
	ListIntentsDueForReconcile(ctx context.Context, db *gorm.DB, status IntentStatus, before time.Time, limit int) ([]PaymentIntent, error)
	MarkIntentReconciled(ctx context.Context, db *gorm.DB, id string, at time.Time) error
	FlagIntentForReview(ctx context.Context, db *gorm.DB, update IntentStatusUpdate) (bool, error)

	InsertRefund(ctx context.Context, db *gorm.DB, refund *Refund) error
	FindRefundByReference(ctx context.Context, db *gorm.DB, provider Provider, reference string) (*Refund, error)
	UpdateRefund(ctx context.Context, db *gorm.DB, update RefundUpdate) (bool, error)
	FlagRefundForReview(ctx context.Context, db *gorm.DB, update RefundUpdate) (bool, error)
	SumActiveRefunds(ctx context.Context, db *gorm.DB, intentID string) (int64, error)

	InsertCustomer(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindCustomer(ctx context.Context, db *gorm.DB, id string) (*Customer, error)
	FindCustomerProviderRef(ctx context.Context, db *gorm.DB, customerID string, provider Provider) (*CustomerProviderRef, error)
	InsertCustomerProviderRef(ctx context.Context, db *gorm.DB, ref *CustomerProviderRef) (bool, error)
	InsertPaymentMethod(ctx context.Context, db *gorm.DB, method *PaymentMethod) error

	InsertSubscription(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindSubscription(ctx context.Context, db *gorm.DB, id string) (*Subscription, error)
	FindSubscriptionByReference(ctx context.Context, db *gorm.DB, provider Provider, reference string) (*Subscription, error)
	CompareAndSetSubscription(ctx context.Context, db *gorm.DB, update SubscriptionUpdate) (bool, error)
	ListPeriodEndCancellations(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)

	UpsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) (bool, error)
	FindInvoiceByReference(ctx context.Context, db *gorm.DB, provider Provider, reference string) (*Invoice, error)
	ListInvoices(ctx context.Context, db *gorm.DB, subscriptionID string) ([]Invoice, error)

	SummarizeIntents(ctx context.Context, db *gorm.DB, workspaceID string) ([]IntentStatusBucket, error)
	SummarizeVolume(ctx context.Context, db *gorm.DB, workspaceID string) ([]CurrencyVolume, error)
}

type IntentReferenceUpdate struct {
	ID           string
	Reference    string
	RedirectURL  string
	ClientSecret string
	Status       IntentStatus
	UpdatedAt    time.Time
}

// IntentStatusUpdate is applied only while the row still holds From.
type IntentStatusUpdate struct {
	ID             string
	From           IntentStatus
	To             IntentStatus
	Reference      string
	FailureCode    string
	FailureMessage string
	UpdatedAt      time.Time
}

type RefundUpdate struct {
	ID          string
	From        []RefundStatus
	To          RefundStatus
	Reference   string
	FailureCode string
	UpdatedAt   time.Time
}

type SubscriptionUpdate struct {
	ID                 string
	From               SubscriptionStatus
	To                 SubscriptionStatus
	CancelAtPeriodEnd  bool
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelledAt        *time.Time
	UpdatedAt          time.Time
}
