// Package paymenttest holds shared fixtures for payment package tests.
package paymenttest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/smallbiznis/paycore/internal/payment/domain"
	"gorm.io/gorm"
)

// NewDB opens a private in-memory database holding the payment tables.
// Extra models are migrated alongside.
func NewDB(t *testing.T, extra ...any) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	models := []any{
		&domain.Customer{},
		&domain.CustomerProviderRef{},
		&domain.PaymentMethod{},
		&domain.PaymentIntent{},
		&domain.Subscription{},
		&domain.Invoice{},
		&domain.Refund{},
		&domain.WebhookEvent{},
		&domain.WebhookDelivery{},
	}
	models = append(models, extra...)
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// SeedIntent inserts an intent with the given status and reference.
func SeedIntent(t *testing.T, db *gorm.DB, provider domain.Provider, status domain.IntentStatus, amount int64, currency, reference string) *domain.PaymentIntent {
	t.Helper()

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	intent := &domain.PaymentIntent{
		ID:          uuid.NewString(),
		WorkspaceID: "ws_1",
		CustomerID:  "cus_1",
		Amount:      amount,
		Currency:    currency,
		Provider:    provider,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if reference != "" {
		ref := reference
		intent.ProviderReferenceID = &ref
	}
	if err := db.Create(intent).Error; err != nil {
		t.Fatalf("seed intent: %v", err)
	}
	return intent
}

// SeedCustomer inserts a customer without provider refs.
func SeedCustomer(t *testing.T, db *gorm.DB, id, email string) *domain.Customer {
	t.Helper()

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	customer := &domain.Customer{
		ID:          id,
		WorkspaceID: "ws_1",
		Email:       email,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.Create(customer).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return customer
}
