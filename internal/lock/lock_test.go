package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLockerRunsUnlocked(t *testing.T) {
	var l *Locker
	assert.Nil(t, NewLocker(nil, ""))

	token, ok, err := l.TryLock(context.Background(), "outbox_relay", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, token)

	ran := false
	err = l.WithLock(context.Background(), "outbox_relay", time.Minute, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.NoError(t, l.Release(context.Background(), "outbox_relay", "token"))
}

func TestTryLockValidatesArguments(t *testing.T) {
	var l *Locker
	_, _, err := l.TryLock(context.Background(), "", time.Minute)
	assert.Error(t, err)
	_, _, err = l.TryLock(context.Background(), "job", 0)
	assert.Error(t, err)
}

func TestWithLockPropagatesJobError(t *testing.T) {
	var l *Locker
	boom := errors.New("boom")
	err := l.WithLock(context.Background(), "job", time.Second, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}
