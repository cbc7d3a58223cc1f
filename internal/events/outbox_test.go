package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/segmentio/kafka-go"
	"github.com/smallbiznis/paycore/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&Message{}))
	return db
}

func newTestOutbox(t *testing.T, db *gorm.DB, c clock.Clock) *Outbox {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewOutbox(db, node, c)
}

type recordingPublisher struct {
	batches [][]Message
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, messages []Message) error {
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, messages)
	return nil
}

func TestPublishTxDedupes(t *testing.T) {
	db := newTestDB(t)
	outbox := newTestOutbox(t, db, clock.NewFakeClock(testNow))
	ctx := context.Background()

	event := Event{
		AggregateType: AggregatePaymentIntent,
		AggregateID:   "pi_1",
		Type:          EventPaymentIntentSucceeded,
		Payload:       IntentPayload{PaymentIntentID: "pi_1", Status: "SUCCEEDED", Amount: 5000, Currency: "USD"}.ToMap(),
		DedupeKey:     "payment_intent:pi_1:SUCCEEDED",
	}
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		if err := outbox.PublishTx(ctx, tx, event); err != nil {
			return err
		}
		return outbox.PublishTx(ctx, tx, event)
	}))

	var count int64
	require.NoError(t, db.Model(&Message{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	assert.Error(t, outbox.PublishTx(ctx, nil, event))
	assert.Error(t, outbox.Publish(ctx, Event{AggregateID: "pi_1"}))
}

func TestRelayPublishesDueMessages(t *testing.T) {
	db := newTestDB(t)
	fake := clock.NewFakeClock(testNow)
	outbox := newTestOutbox(t, db, fake)
	ctx := context.Background()

	for _, id := range []string{"pi_1", "pi_2"} {
		require.NoError(t, outbox.Publish(ctx, Event{AggregateType: AggregatePaymentIntent, AggregateID: id, Type: EventPaymentIntentProcessing}))
	}

	publisher := &recordingPublisher{}
	relay := NewRelay(db, publisher, fake, zap.NewNop(), nil, RelayConfig{BatchSize: 10})

	published, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, published)
	require.Len(t, publisher.batches, 1)
	assert.Equal(t, "pi_1", publisher.batches[0][0].AggregateID)

	published, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, published)

	pending, err := CountPending(ctx, db, 10)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestRelayReschedulesOnFailure(t *testing.T) {
	db := newTestDB(t)
	fake := clock.NewFakeClock(testNow)
	outbox := newTestOutbox(t, db, fake)
	ctx := context.Background()

	require.NoError(t, outbox.Publish(ctx, Event{AggregateType: AggregateRefund, AggregateID: "re_1", Type: EventRefundCreated}))

	publisher := &recordingPublisher{err: errors.New("broker down")}
	relay := NewRelay(db, publisher, fake, zap.NewNop(), nil, RelayConfig{BatchSize: 10, MaxAttempts: 2, RetryDelay: time.Minute})

	_, err := relay.RunOnce(ctx)
	require.Error(t, err)

	var msg Message
	require.NoError(t, db.First(&msg).Error)
	assert.Equal(t, 1, msg.Attempts)
	assert.Equal(t, "broker down", msg.LastError)
	assert.True(t, msg.AvailableAt.Equal(testNow.Add(time.Minute)))

	published, err := relay.RunOnce(ctx)
	require.NoError(t, err, "not due yet")
	assert.Zero(t, published)

	fake.Advance(time.Minute)
	_, err = relay.RunOnce(ctx)
	require.Error(t, err)

	fake.Advance(time.Hour)
	publisher.err = nil
	published, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, published, "attempt budget exhausted")

	pending, err := CountPending(ctx, db, 2)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

type fakeWriter struct {
	messages []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisherKeysByAggregate(t *testing.T) {
	writer := &fakeWriter{}
	publisher := NewKafkaPublisher(writer)

	err := publisher.Publish(context.Background(), []Message{
		{ID: 1, AggregateType: AggregatePaymentIntent, AggregateID: "pi_1", EventType: EventPaymentIntentSucceeded, Payload: map[string]any{"status": "SUCCEEDED"}},
	})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)
	assert.Equal(t, []byte("pi_1"), writer.messages[0].Key)
	assert.Contains(t, string(writer.messages[0].Value), `"event_type":"payment_intent.succeeded"`)
	assert.Equal(t, "event_type", writer.messages[0].Headers[0].Key)
}
