package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paycore/internal/clock"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Event describes a domain event to store in the outbox.
type Event struct {
	AggregateType string
	AggregateID   string
	Type          string
	Payload       map[string]any
	DedupeKey     string
}

// Message is one outbox row.
type Message struct {
	ID            snowflake.ID      `json:"id" gorm:"primaryKey"`
	AggregateType string            `json:"aggregate_type" gorm:"type:text;not null"`
	AggregateID   string            `json:"aggregate_id" gorm:"type:text;not null"`
	EventType     string            `json:"event_type" gorm:"type:text;not null"`
	Payload       datatypes.JSONMap `json:"payload" gorm:"not null"`
	DedupeKey     string            `json:"dedupe_key" gorm:"type:text;not null;uniqueIndex:ux_outbox_messages_dedupe"`
	Attempts      int               `json:"attempts" gorm:"not null;default:0"`
	LastError     string            `json:"last_error,omitempty" gorm:"type:text"`
	AvailableAt   time.Time         `json:"available_at" gorm:"not null;index"`
	PublishedAt   *time.Time        `json:"published_at"`
	CreatedAt     time.Time         `json:"created_at" gorm:"not null"`
}

func (Message) TableName() string { return "outbox_messages" }

// Outbox inserts domain events into outbox_messages.
type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

func NewOutbox(db *gorm.DB, genID *snowflake.Node, c clock.Clock) *Outbox {
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Outbox{db: db, genID: genID, clock: c}
}

// Publish stores an event using the default database connection.
func (o *Outbox) Publish(ctx context.Context, event Event) error {
	if o == nil {
		return errors.New("outbox_unavailable")
	}
	return o.publish(ctx, o.db, event)
}

// PublishTx stores an event using an existing transaction. Events sharing
// a dedupe key are stored once.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		return errors.New("missing_transaction")
	}
	return o.publish(ctx, tx, event)
}

func (o *Outbox) publish(ctx context.Context, db *gorm.DB, event Event) error {
	if o == nil || db == nil || o.genID == nil {
		return errors.New("outbox_unavailable")
	}
	name := strings.TrimSpace(event.Type)
	if name == "" {
		return errors.New("missing_event_type")
	}
	if strings.TrimSpace(event.AggregateID) == "" {
		return errors.New("missing_aggregate_id")
	}

	payload := datatypes.JSONMap{}
	for key, value := range event.Payload {
		if strings.TrimSpace(key) == "" {
			continue
		}
		payload[key] = value
	}

	id := o.genID.Generate()
	dedupe := strings.TrimSpace(event.DedupeKey)
	if dedupe == "" {
		dedupe = id.String()
	}

	now := o.clock.Now()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedupe_key"}},
			DoNothing: true,
		}).
		Create(&Message{
			ID:            id,
			AggregateType: event.AggregateType,
			AggregateID:   event.AggregateID,
			EventType:     name,
			Payload:       payload,
			DedupeKey:     dedupe,
			AvailableAt:   now,
			CreatedAt:     now,
		}).Error
}

// ClaimDue locks up to limit unpublished messages that are due and still
// within the attempt budget. Rows locked by another relay are skipped.
func ClaimDue(ctx context.Context, tx *gorm.DB, now time.Time, maxAttempts, limit int) ([]Message, error) {
	var items []Message
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("published_at IS NULL AND available_at <= ? AND attempts < ?", now, maxAttempts).
		Order("available_at ASC, id ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func MarkPublished(ctx context.Context, tx *gorm.DB, id snowflake.ID, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE outbox_messages
		 SET published_at = ?, attempts = attempts + 1, last_error = ''
		 WHERE id = ?`,
		now,
		id,
	).Error
}

// Reschedule records a failed attempt and pushes the message to availableAt.
func Reschedule(ctx context.Context, tx *gorm.DB, id snowflake.ID, availableAt time.Time, reason string) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE outbox_messages
		 SET attempts = attempts + 1, last_error = ?, available_at = ?
		 WHERE id = ?`,
		reason,
		availableAt,
		id,
	).Error
}

// CountPending counts unpublished messages still within the attempt budget.
func CountPending(ctx context.Context, db *gorm.DB, maxAttempts int) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&Message{}).
		Where("published_at IS NULL AND attempts < ?", maxAttempts).
		Count(&count).Error
	return count, err
}
