package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cityshield/YuntuWeb/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var suiteNow = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

func newReservation(identity string, at time.Time, ttl time.Duration) Reservation {
	return Reservation{
		ID:        uuid.New().String(),
		Identity:  identity,
		Day:       DayBucket(at),
		CreatedAt: at,
		ExpiresAt: at.Add(ttl),
	}
}

func newRecord(res Reservation, at time.Time) models.UsageRecord {
	return models.UsageRecord{
		ID:        uuid.New().String(),
		Identity:  res.Identity,
		Label:     "photo.png",
		ByteSize:  1024,
		CreatedAt: at,
		Day:       res.Day,
	}
}

// runStoreSuite exercises the Store contract against one backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("ReserveUpToLimit", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			require.NoError(t, store.Reserve(ctx, newReservation("10.0.0.1", suiteNow, time.Minute), 3))
		}
		err := store.Reserve(ctx, newReservation("10.0.0.1", suiteNow, time.Minute), 3)
		assert.ErrorIs(t, err, ErrQuotaExceeded)

		// Reservations are not committed usage.
		used, err := store.Count(ctx, "10.0.0.1", DayBucket(suiteNow))
		require.NoError(t, err)
		assert.Equal(t, 0, used)
	})

	t.Run("CommitCountsUsage", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		res := newReservation("10.0.0.2", suiteNow, time.Minute)
		require.NoError(t, store.Reserve(ctx, res, 2))
		require.NoError(t, store.Commit(ctx, res, newRecord(res, suiteNow), 2))

		used, err := store.Count(ctx, "10.0.0.2", res.Day)
		require.NoError(t, err)
		assert.Equal(t, 1, used)

		// One committed plus one fresh reservation fills a limit of two.
		require.NoError(t, store.Reserve(ctx, newReservation("10.0.0.2", suiteNow, time.Minute), 2))
		err = store.Reserve(ctx, newReservation("10.0.0.2", suiteNow, time.Minute), 2)
		assert.ErrorIs(t, err, ErrQuotaExceeded)
	})

	t.Run("RollbackFreesSlot", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		res := newReservation("10.0.0.3", suiteNow, time.Minute)
		require.NoError(t, store.Reserve(ctx, res, 1))
		assert.ErrorIs(t, store.Reserve(ctx, newReservation("10.0.0.3", suiteNow, time.Minute), 1), ErrQuotaExceeded)

		require.NoError(t, store.Rollback(ctx, res))
		require.NoError(t, store.Reserve(ctx, newReservation("10.0.0.3", suiteNow, time.Minute), 1))
	})

	t.Run("ExpiredReservationDoesNotCount", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Reserve(ctx, newReservation("10.0.0.4", suiteNow, time.Minute), 1))

		later := suiteNow.Add(2 * time.Minute)
		require.NoError(t, store.Reserve(ctx, newReservation("10.0.0.4", later, time.Minute), 1))
	})

	t.Run("CommitAfterExpiryRechecksLimit", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		stale := newReservation("10.0.0.5", suiteNow, time.Minute)
		require.NoError(t, store.Reserve(ctx, stale, 1))

		later := suiteNow.Add(2 * time.Minute)
		fresh := newReservation("10.0.0.5", later, time.Minute)
		require.NoError(t, store.Reserve(ctx, fresh, 1))
		require.NoError(t, store.Commit(ctx, fresh, newRecord(fresh, later), 1))

		err := store.Commit(ctx, stale, newRecord(stale, later), 1)
		assert.ErrorIs(t, err, ErrQuotaExceeded)

		used, err := store.Count(ctx, "10.0.0.5", fresh.Day)
		require.NoError(t, err)
		assert.Equal(t, 1, used)
	})

	t.Run("IdentitiesAreIndependent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		a := newReservation("10.0.0.6", suiteNow, time.Minute)
		require.NoError(t, store.Reserve(ctx, a, 1))
		require.NoError(t, store.Commit(ctx, a, newRecord(a, suiteNow), 1))

		b := newReservation("10.0.0.7", suiteNow, time.Minute)
		require.NoError(t, store.Reserve(ctx, b, 1))

		usedA, err := store.Count(ctx, "10.0.0.6", a.Day)
		require.NoError(t, err)
		usedB, err := store.Count(ctx, "10.0.0.7", b.Day)
		require.NoError(t, err)
		assert.Equal(t, 1, usedA)
		assert.Equal(t, 0, usedB)
	})

	t.Run("DaysAreIndependent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		today := newReservation("10.0.0.8", suiteNow, time.Minute)
		require.NoError(t, store.Reserve(ctx, today, 1))
		require.NoError(t, store.Commit(ctx, today, newRecord(today, suiteNow), 1))

		tomorrow := suiteNow.Add(24 * time.Hour)
		require.NoError(t, store.Reserve(ctx, newReservation("10.0.0.8", tomorrow, time.Minute), 1))
	})

	t.Run("ConcurrentReserveNeverOvershoots", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		const limit = 20

		var (
			wg        sync.WaitGroup
			committed atomic.Int32
			rejected  atomic.Int32
		)
		for i := 0; i < 2*limit; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res := newReservation("10.0.0.9", suiteNow, time.Minute)
				err := store.Reserve(ctx, res, limit)
				if errors.Is(err, ErrQuotaExceeded) {
					rejected.Add(1)
					return
				}
				if !assert.NoError(t, err) {
					return
				}
				if assert.NoError(t, store.Commit(ctx, res, newRecord(res, suiteNow), limit)) {
					committed.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(limit), committed.Load())
		assert.Equal(t, int32(limit), rejected.Load())

		used, err := store.Count(ctx, "10.0.0.9", DayBucket(suiteNow))
		require.NoError(t, err)
		assert.Equal(t, limit, used)
	})
}
