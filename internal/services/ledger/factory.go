package ledger

import (
	"context"
	"fmt"

	"github.com/cityshield/YuntuWeb/internal/config"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OpenStore builds the Store selected by cfg.Ledger.Driver and makes sure its
// schema exists.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Ledger.Driver {
	case config.LedgerPostgres:
		pool, err := ConnectPostgres(ctx, cfg.Ledger.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("Ledger backend ready", zap.String("driver", cfg.Ledger.Driver))
		return store, nil

	case config.LedgerRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		logger.Info("Ledger backend ready",
			zap.String("driver", cfg.Ledger.Driver),
			zap.String("addr", cfg.Redis.Addr))
		return NewRedisStore(client), nil

	default:
		db, err := OpenSQLite(cfg.Ledger.SQLitePath)
		if err != nil {
			return nil, err
		}
		store, err := NewSQLStore(db)
		if err != nil {
			return nil, err
		}
		logger.Info("Ledger backend ready",
			zap.String("driver", config.LedgerSQLite),
			zap.String("path", cfg.Ledger.SQLitePath))
		return store, nil
	}
}
