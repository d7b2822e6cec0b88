package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cityshield/YuntuWeb/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// usageRow is one row of the append-only usage_log table.
type usageRow struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)"`
	IPAddress  string    `gorm:"column:ip_address;not null;index:idx_ip_date,priority:1"`
	Filename   string    `gorm:"not null"`
	FileSize   int64     `gorm:"not null"`
	UploadTime time.Time `gorm:"not null"`
	Date       string    `gorm:"column:date;type:varchar(10);not null;index:idx_ip_date,priority:2"`
}

func (usageRow) TableName() string { return "usage_log" }

type reservationRow struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	IPAddress string `gorm:"column:ip_address;not null;index:idx_reservation_ip_date,priority:1"`
	Date      string `gorm:"column:date;type:varchar(10);not null;index:idx_reservation_ip_date,priority:2"`
	// ExpiresAt is unix milliseconds so comparisons do not depend on how the
	// driver serializes timestamps.
	ExpiresAt int64 `gorm:"not null"`
}

func (reservationRow) TableName() string { return "usage_reservations" }

// SQLStore is a gorm-backed Store. Reserve and Commit are serialized per
// (identity, day) in-process and run inside a transaction, so it is correct
// for a single gateway instance sharing the database file.
type SQLStore struct {
	db    *gorm.DB
	locks *keyedMutex
}

var (
	_ Store        = (*SQLStore)(nil)
	_ RecordLister = (*SQLStore)(nil)
)

// OpenSQLite opens (creating if needed) the sqlite ledger at path. ":memory:"
// and "file:" DSNs are passed through untouched.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := path
	if path != ":memory:" && !isFileDSN(path) {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite has a single writer; one connection avoids SQLITE_BUSY between
	// transactions of unrelated identities.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

func isFileDSN(path string) bool {
	return len(path) >= 5 && path[:5] == "file:"
}

// NewSQLStore migrates the ledger tables and returns the store.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&usageRow{}, &reservationRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger tables: %w", err)
	}
	return &SQLStore{db: db, locks: newKeyedMutex()}, nil
}

func (s *SQLStore) Count(ctx context.Context, identity, day string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&usageRow{}).
		Where("ip_address = ? AND date = ?", identity, day).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return int(n), nil
}

func (s *SQLStore) Reserve(ctx context.Context, res Reservation, limit int) error {
	unlock := s.locks.Lock(lockKey(res.Identity, res.Day))
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("ip_address = ? AND date = ? AND expires_at <= ?", res.Identity, res.Day, res.CreatedAt.UnixMilli()).
			Delete(&reservationRow{}).Error; err != nil {
			return fmt.Errorf("sweep reservations: %w", err)
		}

		used, err := s.occupied(tx, res.Identity, res.Day, res.CreatedAt)
		if err != nil {
			return err
		}
		if used >= limit {
			return ErrQuotaExceeded
		}

		row := reservationRow{
			ID:        res.ID,
			IPAddress: res.Identity,
			Date:      res.Day,
			ExpiresAt: res.ExpiresAt.UnixMilli(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) Commit(ctx context.Context, res Reservation, rec models.UsageRecord, limit int) error {
	unlock := s.locks.Lock(lockKey(res.Identity, res.Day))
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		deleted := tx.Where("id = ?", res.ID).Delete(&reservationRow{})
		if deleted.Error != nil {
			return fmt.Errorf("retire reservation: %w", deleted.Error)
		}
		if deleted.RowsAffected == 0 {
			// The reservation expired; the slot must still be free.
			used, err := s.occupied(tx, res.Identity, res.Day, rec.CreatedAt)
			if err != nil {
				return err
			}
			if used >= limit {
				return ErrQuotaExceeded
			}
		}

		row := usageRow{
			ID:         rec.ID,
			IPAddress:  rec.Identity,
			Filename:   rec.Label,
			FileSize:   rec.ByteSize,
			UploadTime: rec.CreatedAt,
			Date:       rec.Day,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert usage: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) Rollback(ctx context.Context, res Reservation) error {
	if err := s.db.WithContext(ctx).Where("id = ?", res.ID).Delete(&reservationRow{}).Error; err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	return nil
}

// occupied counts committed records plus reservations still alive at now.
func (s *SQLStore) occupied(tx *gorm.DB, identity, day string, now time.Time) (int, error) {
	var committed, pending int64
	if err := tx.Model(&usageRow{}).
		Where("ip_address = ? AND date = ?", identity, day).
		Count(&committed).Error; err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	if err := tx.Model(&reservationRow{}).
		Where("ip_address = ? AND date = ? AND expires_at > ?", identity, day, now.UnixMilli()).
		Count(&pending).Error; err != nil {
		return 0, fmt.Errorf("count reservations: %w", err)
	}
	return int(committed + pending), nil
}

// Records lists the committed records for identity and day, oldest first.
func (s *SQLStore) Records(ctx context.Context, identity, day string) ([]models.UsageRecord, error) {
	var rows []usageRow
	if err := s.db.WithContext(ctx).
		Where("ip_address = ? AND date = ?", identity, day).
		Order("upload_time ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}

	records := make([]models.UsageRecord, len(rows))
	for i, row := range rows {
		records[i] = models.UsageRecord{
			ID:        row.ID,
			Identity:  row.IPAddress,
			Label:     row.Filename,
			ByteSize:  row.FileSize,
			CreatedAt: row.UploadTime,
			Day:       row.Date,
		}
	}
	return records, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
