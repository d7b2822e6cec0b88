package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cityshield/YuntuWeb/internal/config"
	"github.com/cityshield/YuntuWeb/internal/http/handlers"
	"github.com/cityshield/YuntuWeb/internal/http/routes"
	"github.com/cityshield/YuntuWeb/internal/models"
	"github.com/cityshield/YuntuWeb/internal/services/gateway"
	"github.com/cityshield/YuntuWeb/internal/services/ledger"
	"github.com/cityshield/YuntuWeb/internal/services/processor"
	"github.com/cityshield/YuntuWeb/internal/services/queue"
	"github.com/cityshield/YuntuWeb/internal/services/storage"
	"github.com/cityshield/YuntuWeb/internal/services/upstream"
	"github.com/cityshield/YuntuWeb/internal/services/validator"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	ledger  *ledger.Ledger
	gateway *gateway.Gateway
	closers []func() error
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// bootstrap loads configuration and a logger shared by every subcommand.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := ledger.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.ledger = ledger.New(store, cfg.Quota.DailyLimit, logger.Named("ledger"),
		ledger.WithReservationTTL(cfg.Quota.ReservationTTL))
	a.closers = append(a.closers, a.ledger.Close)

	client := a.buildUpstream()

	opts := []gateway.Option{gateway.WithPreviewer(processor.NewImageProcessor())}
	if archive := storage.NewStorageService(cfg.Supabase, logger.Named("archive")); archive != nil {
		opts = append(opts, gateway.WithArchiver(archive))
		logger.Info("Result archive enabled", zap.String("bucket", cfg.Supabase.BUCKET))
	}
	if cfg.RabbitMQ.URL != "" {
		q, err := queue.NewQueueService(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, logger.Named("queue"))
		if err != nil {
			// Continue without usage events for basic functionality
			logger.Warn("Failed to initialize queue service", zap.Error(err))
		} else {
			opts = append(opts, gateway.WithPublisher(q))
			a.closers = append(a.closers, q.Close)
		}
	}

	v := validator.New(cfg.Storage.MaxImageBytes, validator.WithMaxPixels(cfg.Storage.MaxImagePixels))
	a.gateway = gateway.New(a.ledger, v, client, logger.Named("gateway"), opts...)
	return a, nil
}

func (a *app) buildUpstream() upstream.Client {
	var client upstream.Client
	switch a.cfg.Upstream.Mode {
	case config.UpstreamLocal:
		client = upstream.NewLocalClient(processor.NewImageProcessor())
	default:
		client = upstream.NewRemoteClient(upstream.RemoteConfig{
			BaseURL:       a.cfg.Upstream.BaseURL,
			Token:         a.cfg.Upstream.Token,
			Timeout:       a.cfg.Upstream.Timeout,
			HealthTimeout: a.cfg.Upstream.HealthTimeout,
		}, a.logger.Named("upstream"))
	}

	if a.cfg.Cache.Enabled {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.closers = append(a.closers, rdb.Close)
		client = upstream.NewCachedClient(client, rdb, a.cfg.Cache.Duration, a.logger.Named("cache"))
	}

	a.logger.Info("Upstream configured", zap.String("client", client.Name()))
	return client
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Close failed", zap.Error(err))
		}
	}
}

func runServe(ctx context.Context) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start", zap.Error(err))
		return err
	}
	defer a.close()

	handler := handlers.NewAISRHandler(a.gateway, logger.Named("http"), cfg.Quota.TrustForwardedFor)
	router := routes.NewRouter(handler, logger.Named("http"), routes.Options{
		StaticDir:      cfg.Server.StaticDir,
		TrustedProxies: cfg.Server.TrustedProxies,
		MaxBodyBytes:   a.gateway.MaxBodyBytes(),
		Debug:          cfg.Server.LogLevel == "debug",
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Handler:      router.SetupRoutes(),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("Starting server",
			zap.String("addr", server.Addr),
			zap.Int("daily_limit", cfg.Quota.DailyLimit),
			zap.String("ledger", cfg.Ledger.Driver),
			zap.Bool("trust_forwarded_for", cfg.Quota.TrustForwardedFor))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
			return err
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("Server exited")
	return nil
}

func runUsage(ctx context.Context, out io.Writer, identity string, listRecords bool) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := ledger.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	l := ledger.New(store, cfg.Quota.DailyLimit, logger)
	defer l.Close()

	quota, err := l.CheckQuota(ctx, identity)
	if err != nil {
		return err
	}

	report := struct {
		Identity string `json:"identity"`
		Day      string `json:"day"`
		models.UsageStats
		Records []models.UsageRecord `json:"records,omitempty"`
	}{
		Identity: quota.Identity,
		Day:      quota.Day,
		UsageStats: models.UsageStats{
			UsedCount:  quota.Used,
			DailyLimit: quota.DailyLimit,
			Remaining:  quota.Remaining(),
		},
	}

	if listRecords {
		lister, ok := store.(ledger.RecordLister)
		if !ok {
			return fmt.Errorf("ledger driver %q cannot list records", cfg.Ledger.Driver)
		}
		if report.Records, err = lister.Records(ctx, identity, quota.Day); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runMigrate(ctx context.Context) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := ledger.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	logger.Info("Ledger schema is up to date", zap.String("driver", cfg.Ledger.Driver))
	return nil
}

func runConsumeUsage(ctx context.Context, consumerID string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RabbitMQ.URL == "" {
		return errors.New("RABBITMQ_URL is not set")
	}
	q, err := queue.NewQueueService(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, logger.Named("queue"))
	if err != nil {
		return err
	}
	defer q.Close()

	if stats, err := q.Stats(); err != nil {
		logger.Warn("Failed to inspect usage queue", zap.Error(err))
	} else {
		logger.Info("Usage queue backlog",
			zap.String("queue", stats.Name),
			zap.Int("messages", stats.Messages),
			zap.Int("consumers", stats.Consumers))
	}

	return q.StartConsumer(ctx, consumerID, func(_ context.Context, event models.UsageEvent) error {
		logger.Info("Usage event",
			zap.String("record_id", event.RecordID),
			zap.String("identity", event.Identity),
			zap.String("day", event.Day),
			zap.String("label", event.Label),
			zap.String("format", string(event.Format)),
			zap.Int64("byte_size", event.ByteSize),
			zap.Int64("output_size", event.OutputSize),
			zap.Time("created_at", event.CreatedAt),
		)
		return nil
	})
}
