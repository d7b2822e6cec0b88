package gateway

import (
	"context"

	"github.com/cityshield/YuntuWeb/internal/models"
	"go.uber.org/zap"
)

// UsageStats reports committed usage for identity today. A ledger failure is
// logged and reported as an untouched quota.
func (g *Gateway) UsageStats(ctx context.Context, identity string) models.UsageStats {
	limit := g.ledger.Limit()

	quota, err := g.ledger.CheckQuota(ctx, identity)
	if err != nil {
		g.logger.Error("Failed to read usage stats", zap.String("identity", identity), zap.Error(err))
		return models.UsageStats{UsedCount: 0, DailyLimit: limit, Remaining: limit}
	}

	return models.UsageStats{
		UsedCount:  quota.Used,
		DailyLimit: quota.DailyLimit,
		Remaining:  quota.Remaining(),
	}
}

func (g *Gateway) Health(ctx context.Context) models.HealthCheck {
	health := models.HealthCheck{
		Status:        "healthy",
		BackendStatus: g.client.Health(ctx),
		LedgerStatus:  "healthy",
		Timestamp:     g.now().UTC(),
	}

	if err := g.ledger.Ping(ctx); err != nil {
		g.logger.Warn("Ledger health check failed", zap.Error(err))
		health.LedgerStatus = "unhealthy"
	}

	if g.archiver != nil || g.publisher != nil {
		health.Services = make(map[string]string)
		if g.archiver != nil {
			health.Services["archive"] = g.archiver.HealthCheck(ctx)
		}
		if g.publisher != nil {
			health.Services["queue"] = g.publisher.HealthCheck()
		}
	}
	return health
}
