package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/paycore/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertIntent(ctx context.Context, db *gorm.DB, intent *domain.PaymentIntent) error {
	return db.WithContext(ctx).Create(intent).Error
}

func (r *repo) FindIntent(ctx context.Context, db *gorm.DB, id string) (*domain.PaymentIntent, error) {
	var item domain.PaymentIntent
	return first(db.WithContext(ctx).Where("id = ?", id), &item)
}

// FindIntentForUpdate locks the row until the surrounding transaction ends.
func (r *repo) FindIntentForUpdate(ctx context.Context, db *gorm.DB, id string) (*domain.PaymentIntent, error) {
	var item domain.PaymentIntent
	return first(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id), &item)
}

func (r *repo) FindIntentByReference(ctx context.Context, db *gorm.DB, provider domain.Provider, reference string) (*domain.PaymentIntent, error) {
	var item domain.PaymentIntent
	return first(db.WithContext(ctx).Where("provider = ? AND provider_reference_id = ?", provider, reference), &item)
}

// AssignIntentReference sets the provider reference once, while the intent
// is still PENDING.
func (r *repo) AssignIntentReference(ctx context.Context, db *gorm.DB, update domain.IntentReferenceUpdate) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_intents
		 SET provider_reference_id = ?, redirect_url = ?, client_secret = ?, status = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND provider_reference_id IS NULL`,
		update.Reference,
		update.RedirectURL,
		update.ClientSecret,
		update.Status,
		update.UpdatedAt,
		update.ID,
		domain.IntentStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) CompareAndSetIntentStatus(ctx context.Context, db *gorm.DB, update domain.IntentStatusUpdate) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_intents
		 SET status = ?, failure_code = ?, failure_message = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		update.To,
		update.FailureCode,
		update.FailureMessage,
		update.UpdatedAt,
		update.ID,
		update.From,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListIntentsDueForReconcile returns intents in status that nothing has
// touched or polled since before. Least recently checked come first, so a
// batch of intents the provider keeps reporting unchanged cannot hide the
// rest.
func (r *repo) ListIntentsDueForReconcile(ctx context.Context, db *gorm.DB, status domain.IntentStatus, before time.Time, limit int) ([]domain.PaymentIntent, error) {
	var items []domain.PaymentIntent
	err := db.WithContext(ctx).
		Where("status = ? AND COALESCE(last_reconciled_at, updated_at) < ?", status, before).
		Order("COALESCE(last_reconciled_at, updated_at) ASC").
		Order("id ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkIntentReconciled(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_intents SET last_reconciled_at = ? WHERE id = ?`,
		at,
		id,
	).Error
}

// FlagIntentForReview sets review_required and the reason while the intent
// still holds status. The status itself does not move.
func (r *repo) FlagIntentForReview(ctx context.Context, db *gorm.DB, update domain.IntentStatusUpdate) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_intents
		 SET review_required = ?, provider_reference_id = COALESCE(NULLIF(?, ''), provider_reference_id),
		     failure_code = ?, failure_message = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		true,
		update.Reference,
		update.FailureCode,
		update.FailureMessage,
		update.UpdatedAt,
		update.ID,
		update.From,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertRefund(ctx context.Context, db *gorm.DB, refund *domain.Refund) error {
	return db.WithContext(ctx).Create(refund).Error
}

func (r *repo) FindRefundByReference(ctx context.Context, db *gorm.DB, provider domain.Provider, reference string) (*domain.Refund, error) {
	var item domain.Refund
	return first(db.WithContext(ctx).Where("provider = ? AND provider_refund_id = ?", provider, reference), &item)
}

// UpdateRefund moves a refund out of any status in From. An empty Reference
// keeps the stored one.
func (r *repo) UpdateRefund(ctx context.Context, db *gorm.DB, update domain.RefundUpdate) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE refunds
		 SET status = ?, provider_refund_id = COALESCE(NULLIF(?, ''), provider_refund_id), failure_code = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		update.To,
		update.Reference,
		update.FailureCode,
		update.UpdatedAt,
		update.ID,
		update.From,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FlagRefundForReview keeps the status and reservation, stores the
// provider reference when known and raises review_required.
func (r *repo) FlagRefundForReview(ctx context.Context, db *gorm.DB, update domain.RefundUpdate) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE refunds
		 SET review_required = ?, provider_refund_id = COALESCE(NULLIF(?, ''), provider_refund_id), failure_code = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		true,
		update.Reference,
		update.FailureCode,
		update.UpdatedAt,
		update.ID,
		update.From,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SumActiveRefunds totals every refund that still reserves part of the
// intent amount.
func (r *repo) SumActiveRefunds(ctx context.Context, db *gorm.DB, intentID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0)
		 FROM refunds
		 WHERE payment_intent_id = ? AND status <> ?`,
		intentID,
		domain.RefundStatusFailed,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) InsertCustomer(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Create(customer).Error
}

func (r *repo) FindCustomer(ctx context.Context, db *gorm.DB, id string) (*domain.Customer, error) {
	var item domain.Customer
	found, err := first(db.WithContext(ctx).Where("id = ?", id), &item)
	if err != nil || found == nil {
		return nil, err
	}
	var refs []domain.CustomerProviderRef
	if err := db.WithContext(ctx).Where("customer_id = ?", id).Order("provider ASC").Find(&refs).Error; err != nil {
		return nil, err
	}
	found.ProviderRefs = refs
	return found, nil
}

func (r *repo) FindCustomerProviderRef(ctx context.Context, db *gorm.DB, customerID string, provider domain.Provider) (*domain.CustomerProviderRef, error) {
	var item domain.CustomerProviderRef
	return first(db.WithContext(ctx).Where("customer_id = ? AND provider = ?", customerID, provider), &item)
}

// InsertCustomerProviderRef reports false when the customer already has a
// ref for the provider.
func (r *repo) InsertCustomerProviderRef(ctx context.Context, db *gorm.DB, ref *domain.CustomerProviderRef) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "customer_id"}, {Name: "provider"}},
			DoNothing: true,
		}).
		Create(ref)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertPaymentMethod(ctx context.Context, db *gorm.DB, method *domain.PaymentMethod) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if method.IsDefault {
			if err := tx.Exec(
				`UPDATE payment_methods SET is_default = ? WHERE customer_id = ? AND provider = ?`,
				false,
				method.CustomerID,
				method.Provider,
			).Error; err != nil {
				return err
			}
		}
		return tx.Create(method).Error
	})
}

func (r *repo) InsertSubscription(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Create(subscription).Error
}

func (r *repo) FindSubscription(ctx context.Context, db *gorm.DB, id string) (*domain.Subscription, error) {
	var item domain.Subscription
	return first(db.WithContext(ctx).Where("id = ?", id), &item)
}

func (r *repo) FindSubscriptionByReference(ctx context.Context, db *gorm.DB, provider domain.Provider, reference string) (*domain.Subscription, error) {
	var item domain.Subscription
	return first(db.WithContext(ctx).Where("provider = ? AND provider_subscription_id = ?", provider, reference), &item)
}

// CompareAndSetSubscription writes the update while the row still holds
// From. Nil period and cancellation times keep the stored values.
func (r *repo) CompareAndSetSubscription(ctx context.Context, db *gorm.DB, update domain.SubscriptionUpdate) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?,
			cancel_at_period_end = ?,
			current_period_start = COALESCE(?, current_period_start),
			current_period_end = COALESCE(?, current_period_end),
			cancelled_at = COALESCE(?, cancelled_at),
			updated_at = ?
		 WHERE id = ? AND status = ?`,
		update.To,
		update.CancelAtPeriodEnd,
		update.CurrentPeriodStart,
		update.CurrentPeriodEnd,
		update.CancelledAt,
		update.UpdatedAt,
		update.ID,
		update.From,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListPeriodEndCancellations(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Subscription, error) {
	var items []domain.Subscription
	err := db.WithContext(ctx).
		Where("cancel_at_period_end = ? AND status <> ? AND current_period_end IS NOT NULL AND current_period_end <= ?",
			true, domain.SubscriptionStatusCancelled, now).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpsertInvoice keeps one row per provider invoice, refreshing its amount
// and status on every delivery. A stored PAID, VOID or UNCOLLECTIBLE
// invoice is final; the upsert then reports false and writes nothing.
func (r *repo) UpsertInvoice(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_invoice_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"amount", "currency", "status", "updated_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "invoices.status NOT IN ?", Vars: []any{finalInvoiceStatuses}},
			}},
		}).
		Create(invoice)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

var finalInvoiceStatuses = []domain.InvoiceStatus{
	domain.InvoiceStatusPaid,
	domain.InvoiceStatusVoid,
	domain.InvoiceStatusUncollectible,
}

func (r *repo) FindInvoiceByReference(ctx context.Context, db *gorm.DB, provider domain.Provider, reference string) (*domain.Invoice, error) {
	var item domain.Invoice
	return first(db.WithContext(ctx).Where("provider = ? AND provider_invoice_id = ?", provider, reference), &item)
}

func (r *repo) ListInvoices(ctx context.Context, db *gorm.DB, subscriptionID string) ([]domain.Invoice, error) {
	var items []domain.Invoice
	err := db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// SummarizeIntents groups intents by provider and status. An empty
// workspace covers every workspace.
func (r *repo) SummarizeIntents(ctx context.Context, db *gorm.DB, workspaceID string) ([]domain.IntentStatusBucket, error) {
	var items []domain.IntentStatusBucket
	err := db.WithContext(ctx).Raw(
		`SELECT provider, status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount
		 FROM payment_intents
		 WHERE (? = '' OR workspace_id = ?)
		 GROUP BY provider, status
		 ORDER BY provider, status`,
		workspaceID,
		workspaceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SummarizeVolume(ctx context.Context, db *gorm.DB, workspaceID string) ([]domain.CurrencyVolume, error) {
	var items []domain.CurrencyVolume
	err := db.WithContext(ctx).Raw(
		`SELECT pi.currency AS currency,
			COALESCE(SUM(CASE WHEN pi.status = ? THEN pi.amount ELSE 0 END), 0) AS succeeded,
			COALESCE(SUM(rf.refunded), 0) AS refunded
		 FROM payment_intents pi
		 LEFT JOIN (
			SELECT payment_intent_id, SUM(amount) AS refunded
			FROM refunds
			WHERE status = ?
			GROUP BY payment_intent_id
		 ) rf ON rf.payment_intent_id = pi.id
		 WHERE (? = '' OR pi.workspace_id = ?)
		 GROUP BY pi.currency
		 ORDER BY pi.currency`,
		domain.IntentStatusSucceeded,
		domain.RefundStatusSucceeded,
		workspaceID,
		workspaceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// first returns (nil, nil) when no row matches.
func first[T any](query *gorm.DB, dest *T) (*T, error) {
	err := query.Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return dest, nil
}
