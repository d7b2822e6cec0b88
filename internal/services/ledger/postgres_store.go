package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/cityshield/YuntuWeb/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a pgx-backed Store for deployments running several gateway
// instances against one database. Reserve and Commit take a transaction-scoped
// advisory lock keyed by (identity, day), so only requests for the same key
// wait on each other.
type PostgresStore struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var (
	_ Store        = (*PostgresStore)(nil)
	_ RecordLister = (*PostgresStore)(nil)
)

// PostgresOption configures PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTablePrefix sets the table name prefix (default "aisr_").
func WithTablePrefix(prefix string) PostgresOption {
	return func(s *PostgresStore) { s.tablePrefix = prefix }
}

// ConnectPostgres opens a pgx connection pool using the provided DSN.
func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 16
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{pool: pool, tablePrefix: "aisr_"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostgresStore) usageTable() string       { return s.tablePrefix + "usage_log" }
func (s *PostgresStore) reservationTable() string { return s.tablePrefix + "usage_reservations" }

// EnsureSchema creates the ledger tables and the (identity, date) indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			ip_address TEXT NOT NULL,
			filename TEXT NOT NULL,
			file_size BIGINT NOT NULL,
			upload_time TIMESTAMPTZ NOT NULL,
			date TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]s_ip_date ON %[1]s(ip_address, date);
		CREATE TABLE IF NOT EXISTS %[2]s (
			id TEXT PRIMARY KEY,
			ip_address TEXT NOT NULL,
			date TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[2]s_ip_date ON %[2]s(ip_address, date);
	`, s.usageTable(), s.reservationTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context, identity, day string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT count(*) FROM %s WHERE ip_address = $1 AND date = $2`, s.usageTable()),
		identity, day,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return n, nil
}

// Records lists the committed records for identity and day, oldest first.
func (s *PostgresStore) Records(ctx context.Context, identity, day string) ([]models.UsageRecord, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, ip_address, filename, file_size, upload_time, date
			FROM %s WHERE ip_address = $1 AND date = $2 ORDER BY upload_time`, s.usageTable()),
		identity, day,
	)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var rec models.UsageRecord
		if err := rows.Scan(&rec.ID, &rec.Identity, &rec.Label, &rec.ByteSize, &rec.CreatedAt, &rec.Day); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Reserve(ctx context.Context, res Reservation, limit int) error {
	return s.withKeyLock(ctx, res, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE ip_address = $1 AND date = $2 AND expires_at <= $3`, s.reservationTable()),
			res.Identity, res.Day, res.CreatedAt,
		); err != nil {
			return fmt.Errorf("sweep reservations: %w", err)
		}

		used, err := s.occupied(ctx, tx, res.Identity, res.Day, res.CreatedAt)
		if err != nil {
			return err
		}
		if used >= limit {
			return ErrQuotaExceeded
		}

		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (id, ip_address, date, expires_at) VALUES ($1, $2, $3, $4)`, s.reservationTable()),
			res.ID, res.Identity, res.Day, res.ExpiresAt,
		); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Commit(ctx context.Context, res Reservation, rec models.UsageRecord, limit int) error {
	return s.withKeyLock(ctx, res, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.reservationTable()),
			res.ID,
		)
		if err != nil {
			return fmt.Errorf("retire reservation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			used, err := s.occupied(ctx, tx, res.Identity, res.Day, rec.CreatedAt)
			if err != nil {
				return err
			}
			if used >= limit {
				return ErrQuotaExceeded
			}
		}

		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (id, ip_address, filename, file_size, upload_time, date)
				VALUES ($1, $2, $3, $4, $5, $6)`, s.usageTable()),
			rec.ID, rec.Identity, rec.Label, rec.ByteSize, rec.CreatedAt, rec.Day,
		); err != nil {
			return fmt.Errorf("insert usage: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Rollback(ctx context.Context, res Reservation) error {
	if _, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.reservationTable()),
		res.ID,
	); err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) withKeyLock(ctx context.Context, res Reservation, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		lockKey(res.Identity, res.Day)); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) occupied(ctx context.Context, tx pgx.Tx, identity, day string, now time.Time) (int, error) {
	var used int
	err := tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT
			(SELECT count(*) FROM %s WHERE ip_address = $1 AND date = $2) +
			(SELECT count(*) FROM %s WHERE ip_address = $1 AND date = $2 AND expires_at > $3)`,
			s.usageTable(), s.reservationTable()),
		identity, day, now,
	).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("count occupied: %w", err)
	}
	return used, nil
}
