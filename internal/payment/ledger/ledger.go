// Package ledger records every provider callback exactly once and keeps the
// delivery trail operators use to replay or review them.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paycore/internal/clock"
	"github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/smallbiznis/paycore/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	GenID *snowflake.Node
	Clock clock.Clock
}

type Ledger struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) *Ledger {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Ledger{db: p.DB, genID: p.GenID, clock: c}
}

// Record inserts the ledger row inside tx. inserted is false when
// (provider, provider_event_id) is already present.
func (l *Ledger) Record(ctx context.Context, tx *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	if tx == nil {
		return false, errors.New("missing_transaction")
	}
	if event.ID == 0 {
		event.ID = l.genID.Generate()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = l.clock.Now()
	}

	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Resolve sets the final outcome of a recorded event.
func (l *Ledger) Resolve(ctx context.Context, tx *gorm.DB, id snowflake.ID, outcome domain.WebhookOutcome, reviewRequired bool, reason string) error {
	now := l.clock.Now()
	return tx.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET outcome = ?, review_required = ?, error_reason = ?, processed_at = ?
		 WHERE id = ?`,
		outcome,
		reviewRequired,
		reason,
		now,
		id,
	).Error
}

// RecordDelivery appends one row to the delivery trail. A nil handle uses
// the ledger's own connection.
func (l *Ledger) RecordDelivery(ctx context.Context, conn *gorm.DB, delivery *domain.WebhookDelivery) error {
	if conn == nil {
		conn = l.db
	}
	if delivery.ID == 0 {
		delivery.ID = l.genID.Generate()
	}
	if delivery.ReceivedAt.IsZero() {
		delivery.ReceivedAt = l.clock.Now()
	}
	return conn.WithContext(ctx).Create(delivery).Error
}

// Find returns the ledger row for a provider event, or nil.
func (l *Ledger) Find(ctx context.Context, provider domain.Provider, eventID string) (*domain.WebhookEvent, error) {
	var item domain.WebhookEvent
	err := l.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (l *Ledger) ListDeliveries(ctx context.Context, provider domain.Provider, eventID string) ([]domain.WebhookDelivery, error) {
	var items []domain.WebhookDelivery
	err := l.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		Order("received_at ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ListReviewQueue returns the newest deliveries flagged for an operator.
func (l *Ledger) ListReviewQueue(ctx context.Context, limit int) ([]domain.WebhookDelivery, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var items []domain.WebhookDelivery
	err := l.db.WithContext(ctx).
		Where("review_required = ?", true).
		Order("received_at DESC, id DESC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (l *Ledger) CountPendingReviews(ctx context.Context) (int64, error) {
	var count int64
	err := l.db.WithContext(ctx).
		Model(&domain.WebhookDelivery{}).
		Where("review_required = ?", true).
		Count(&count).Error
	return count, err
}

// CountOutcomes groups the delivery trail by provider and outcome.
func (l *Ledger) CountOutcomes(ctx context.Context) ([]domain.WebhookOutcomeCount, error) {
	var items []domain.WebhookOutcomeCount
	err := l.db.WithContext(ctx).Raw(
		`SELECT provider, outcome, COUNT(*) AS count
		 FROM webhook_deliveries
		 GROUP BY provider, outcome
		 ORDER BY provider, outcome`,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Now exposes the ledger clock so callers stamp rows consistently.
func (l *Ledger) Now() time.Time {
	return l.clock.Now()
}

// PayloadDigest is the hex SHA-256 stored on delivery rows.
func PayloadDigest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
