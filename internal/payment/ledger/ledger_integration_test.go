//go:build integration

package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paycore/internal/clock"
	"github.com/smallbiznis/paycore/internal/migration"
	"github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestConcurrentRecordOnPostgres(t *testing.T) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("paycore"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, migration.RunMigrations(sqlDB))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	l := New(Params{DB: db, GenID: node, Clock: clock.SystemClock{}})

	const deliveries = 16
	var (
		wg       sync.WaitGroup
		inserted atomic.Int32
		start    = make(chan struct{})
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := db.Transaction(func(tx *gorm.DB) error {
				ok, err := l.Record(ctx, tx, &domain.WebhookEvent{
					Provider:        domain.ProviderCard,
					ProviderEventID: "evt_concurrent",
					EventType:       domain.EventIntentSucceeded,
					Outcome:         domain.OutcomeApplied,
				})
				if ok {
					inserted.Add(1)
				}
				return err
			})
			require.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), inserted.Load())

	var count int64
	require.NoError(t, db.Model(&domain.WebhookEvent{}).Where("provider_event_id = ?", "evt_concurrent").Count(&count).Error)
	require.Equal(t, int64(1), count)
}
