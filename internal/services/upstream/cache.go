package upstream

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cityshield/YuntuWeb/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "aisr_cache:"

// CachedClient memoises successful results in Redis so repeated uploads of the
// same image skip the model. Cache faults never fail a request.
type CachedClient struct {
	next          Client
	redisClient   redis.UniversalClient
	cacheDuration time.Duration
	logger        *zap.Logger
}

func NewCachedClient(next Client, redisClient redis.UniversalClient, cacheDuration time.Duration, logger *zap.Logger) *CachedClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedClient{
		next:          next,
		redisClient:   redisClient,
		cacheDuration: cacheDuration,
		logger:        logger,
	}
}

func (c *CachedClient) Name() string {
	return c.next.Name() + "+cache"
}

func (c *CachedClient) Health(ctx context.Context) string {
	return c.next.Health(ctx)
}

func (c *CachedClient) Process(ctx context.Context, payload models.ImagePayload) (*models.ProcessingResult, error) {
	cacheKey := c.GenerateCacheKey(payload)

	if cached, err := c.getFromCache(ctx, cacheKey); err != nil {
		c.logger.Warn("Cache read failed", zap.String("key", cacheKey), zap.Error(err))
	} else if cached != nil {
		cached.InputSize = payload.Size()
		return cached, nil
	}

	result, err := c.next.Process(ctx, payload)
	if err != nil {
		return nil, err
	}

	if err := c.setCache(ctx, cacheKey, result); err != nil {
		c.logger.Warn("Cache write failed", zap.String("key", cacheKey), zap.Error(err))
	}
	return result, nil
}

func (c *CachedClient) GenerateCacheKey(payload models.ImagePayload) string {
	hash := sha256.New()
	hash.Write(payload.Data)
	hash.Write([]byte(payload.Format))
	return fmt.Sprintf("%s%x", cacheKeyPrefix, hash.Sum(nil))
}

func (c *CachedClient) getFromCache(ctx context.Context, cacheKey string) (*models.ProcessingResult, error) {
	data, err := c.redisClient.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache get error: %w", err)
	}

	var result models.ProcessingResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("cache decode error: %w", err)
	}
	return &result, nil
}

func (c *CachedClient) setCache(ctx context.Context, cacheKey string, result *models.ProcessingResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.redisClient.Set(ctx, cacheKey, data, c.cacheDuration).Err()
}
