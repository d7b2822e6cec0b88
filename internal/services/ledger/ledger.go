// Package ledger is the durable source of truth for how many accepted
// requests an identity has made today.
//
// Admission is split in two steps. CheckAndReserve atomically claims one of
// the remaining slots for (identity, day); RecordUsage turns the claim into an
// immutable UsageRecord once the request succeeded, and Release gives the slot
// back when it did not. No lock is held between the two steps, so the slow
// upstream call never blocks other requests. Days are bucketed in UTC.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cityshield/YuntuWeb/internal/apperrors"
	"github.com/cityshield/YuntuWeb/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultDailyLimit     = 20
	DefaultReservationTTL = 5 * time.Minute
	dayLayout             = "2006-01-02"
)

// ErrQuotaExceeded is returned by a Store when no slot is left for the day.
var ErrQuotaExceeded = errors.New("ledger: daily quota exhausted")

// Reservation is a claimed, not yet committed, slot for one identity and day.
type Reservation struct {
	ID        string
	Identity  string
	Day       string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store persists usage records and live reservations. Reserve and Commit must
// be atomic per (identity, day): two concurrent callers for the same key must
// observe each other's effects. Reservations whose ExpiresAt is not after the
// caller's CreatedAt no longer count.
type Store interface {
	Count(ctx context.Context, identity, day string) (int, error)
	Reserve(ctx context.Context, res Reservation, limit int) error
	Commit(ctx context.Context, res Reservation, rec models.UsageRecord, limit int) error
	Rollback(ctx context.Context, res Reservation) error
	Ping(ctx context.Context) error
	Close() error
}

// RecordLister is implemented by stores that can list committed records.
type RecordLister interface {
	Records(ctx context.Context, identity, day string) ([]models.UsageRecord, error)
}

type Ledger struct {
	store  Store
	limit  int
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithReservationTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func New(store Store, limit int, logger *zap.Logger, opts ...Option) *Ledger {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		store:  store,
		limit:  limit,
		ttl:    DefaultReservationTTL,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Limit() int {
	return l.limit
}

// Today returns the current UTC day bucket.
func (l *Ledger) Today() string {
	return DayBucket(l.now())
}

func DayBucket(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// CheckQuota reads the committed count for identity today. It never mutates
// state.
func (l *Ledger) CheckQuota(ctx context.Context, identity string) (models.QuotaState, error) {
	day := l.Today()
	used, err := l.store.Count(ctx, identity, day)
	if err != nil {
		return models.QuotaState{}, apperrors.Wrap(apperrors.KindStorage, "ledger.check_quota", "failed to read usage", err)
	}
	return models.QuotaState{
		Identity:   identity,
		Day:        day,
		Used:       used,
		DailyLimit: l.limit,
	}, nil
}

// CheckAndReserve claims one slot for identity today, or fails with
// KindQuotaExceeded when committed records plus live reservations already
// reach the limit.
func (l *Ledger) CheckAndReserve(ctx context.Context, identity string) (Reservation, error) {
	now := l.now().UTC()
	res := Reservation{
		ID:        uuid.New().String(),
		Identity:  identity,
		Day:       DayBucket(now),
		CreatedAt: now,
		ExpiresAt: now.Add(l.ttl),
	}

	if err := l.store.Reserve(ctx, res, l.limit); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			return Reservation{}, l.quotaExceeded("ledger.reserve")
		}
		return Reservation{}, apperrors.Wrap(apperrors.KindStorage, "ledger.reserve", "failed to reserve quota", err)
	}
	return res, nil
}

// RecordUsage appends the UsageRecord for a reservation. The record lands in
// the reservation's day even if the request finished after midnight.
func (l *Ledger) RecordUsage(ctx context.Context, res Reservation, label string, byteSize int64) (models.UsageRecord, error) {
	rec := models.UsageRecord{
		ID:        uuid.New().String(),
		Identity:  res.Identity,
		Label:     label,
		ByteSize:  byteSize,
		CreatedAt: l.now().UTC(),
		Day:       res.Day,
	}

	if err := l.store.Commit(ctx, res, rec, l.limit); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			return models.UsageRecord{}, l.quotaExceeded("ledger.record_usage")
		}
		return models.UsageRecord{}, apperrors.Wrap(apperrors.KindStorage, "ledger.record_usage", "failed to record usage", err)
	}

	l.logger.Debug("Usage recorded",
		zap.String("identity", rec.Identity),
		zap.String("day", rec.Day),
		zap.String("record_id", rec.ID),
		zap.Int64("byte_size", rec.ByteSize),
	)
	return rec, nil
}

// Release gives a reserved slot back.
func (l *Ledger) Release(ctx context.Context, res Reservation) error {
	if res.ID == "" {
		return nil
	}
	if err := l.store.Rollback(ctx, res); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "ledger.release", "failed to release reservation", err)
	}
	return nil
}

func (l *Ledger) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}

func (l *Ledger) Close() error {
	return l.store.Close()
}

func (l *Ledger) quotaExceeded(op string) error {
	return apperrors.New(apperrors.KindQuotaExceeded, op,
		fmt.Sprintf("daily upload limit reached (%d requests per day)", l.limit))
}
