package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql  string
		want sqlShape
	}{
		{`SELECT * FROM "payment_intents" WHERE id = $1 FOR UPDATE`, sqlShape{"SELECT", "payment_intents", true}},
		{"  insert into webhook_events (id) values (1)", sqlShape{"INSERT", "webhook_events", false}},
		{"UPDATE `refunds` SET status = ?", sqlShape{"UPDATE", "refunds", false}},
		{"WITH due AS (SELECT id FROM outbox_messages FOR UPDATE SKIP LOCKED) UPDATE outbox_messages SET", sqlShape{"SELECT", "outbox_messages", true}},
		{"VACUUM", sqlShape{operation: "UNKNOWN"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, describeSQL(tc.sql), tc.sql)
	}
}

func TestGormLoggerTraceLogsErrorsWithoutParams(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(zap.New(core), DefaultGormLoggerConfig())

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "UPDATE payment_intents SET status = ? WHERE id = ?", 0
	}, errors.New("boom"))
	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "SELECT * FROM payment_intents WHERE provider_reference_id = ?", 0
	}, gormlogger.ErrRecordNotFound)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "UPDATE", entries[0].ContextMap()["operation"])
	assert.Equal(t, "payment_intents", entries[0].ContextMap()["table"])

	sql, params := l.ParamsFilter(context.Background(), "SELECT ?", "secret@example.com")
	assert.Equal(t, "SELECT ?", sql)
	assert.Nil(t, params)
}

func TestGormLoggerWarnsOnSlowRowLock(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(zap.New(core), DefaultGormLoggerConfig())
	begin := time.Now().Add(-100 * time.Millisecond)

	l.Trace(context.Background(), begin, func() (string, int64) {
		return "SELECT * FROM payment_intents WHERE id = ? FOR UPDATE", 1
	}, nil)
	l.Trace(context.Background(), begin, func() (string, int64) {
		return "SELECT * FROM refunds WHERE payment_intent_id = ?", 2
	}, nil)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, true, entries[0].ContextMap()["row_lock"])
}
