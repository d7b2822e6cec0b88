package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cityshield/YuntuWeb/internal/models"
	goredis "github.com/redis/go-redis/v9"
)

// RedisStore keeps, per (identity, day), a list of JSON usage records and a
// sorted set of reservation IDs scored by expiry in unix milliseconds. Lua
// scripts make reserve and commit atomic across gateway instances. Both keys
// share a hash tag so the store also works on Redis Cluster.
type RedisStore struct {
	client    goredis.UniversalClient
	keyPrefix string
}

var (
	_ Store        = (*RedisStore)(nil)
	_ RecordLister = (*RedisStore)(nil)
)

// RedisOption configures RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the Redis key prefix (default "aisr:ledger:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.keyPrefix = prefix }
}

func NewRedisStore(client goredis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, keyPrefix: "aisr:ledger:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) recordsKey(identity, day string) string {
	return s.keyPrefix + "{" + identity + ":" + day + "}:records"
}

func (s *RedisStore) reservationsKey(identity, day string) string {
	return s.keyPrefix + "{" + identity + ":" + day + "}:reservations"
}

// reserveScript
// KEYS[1] = records list
// KEYS[2] = reservations zset
// ARGV[1] = now (unix ms)
// ARGV[2] = expires_at (unix ms)
// ARGV[3] = limit
// ARGV[4] = reservation id
//
// Returns 1 when reserved, 0 when the quota is exhausted.
var reserveScript = goredis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
local used = redis.call("LLEN", KEYS[1]) + redis.call("ZCARD", KEYS[2])
if used >= tonumber(ARGV[3]) then
    return 0
end
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[4])
return 1
`)

// commitScript
// KEYS[1] = records list
// KEYS[2] = reservations zset
// ARGV[1] = now (unix ms)
// ARGV[2] = limit
// ARGV[3] = reservation id
// ARGV[4] = record json
var commitScript = goredis.NewScript(`
local removed = redis.call("ZREM", KEYS[2], ARGV[3])
if removed == 0 then
    redis.call("ZREMRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
    local used = redis.call("LLEN", KEYS[1]) + redis.call("ZCARD", KEYS[2])
    if used >= tonumber(ARGV[2]) then
        return 0
    end
end
redis.call("RPUSH", KEYS[1], ARGV[4])
return 1
`)

func (s *RedisStore) Count(ctx context.Context, identity, day string) (int, error) {
	n, err := s.client.LLen(ctx, s.recordsKey(identity, day)).Result()
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) Reserve(ctx context.Context, res Reservation, limit int) error {
	result, err := reserveScript.Run(ctx, s.client,
		[]string{s.recordsKey(res.Identity, res.Day), s.reservationsKey(res.Identity, res.Day)},
		res.CreatedAt.UnixMilli(), res.ExpiresAt.UnixMilli(), limit, res.ID,
	).Int64()
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	if result == 0 {
		return ErrQuotaExceeded
	}
	return nil
}

func (s *RedisStore) Commit(ctx context.Context, res Reservation, rec models.UsageRecord, limit int) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	result, err := commitScript.Run(ctx, s.client,
		[]string{s.recordsKey(res.Identity, res.Day), s.reservationsKey(res.Identity, res.Day)},
		rec.CreatedAt.UnixMilli(), limit, res.ID, string(payload),
	).Int64()
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if result == 0 {
		return ErrQuotaExceeded
	}
	return nil
}

func (s *RedisStore) Rollback(ctx context.Context, res Reservation) error {
	if err := s.client.ZRem(ctx, s.reservationsKey(res.Identity, res.Day), res.ID).Err(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Records decodes the committed records for identity and day.
func (s *RedisStore) Records(ctx context.Context, identity, day string) ([]models.UsageRecord, error) {
	raw, err := s.client.LRange(ctx, s.recordsKey(identity, day), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}

	records := make([]models.UsageRecord, 0, len(raw))
	for _, item := range raw {
		var rec models.UsageRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode usage record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
