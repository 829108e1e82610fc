package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTierCache backs TierCache with Redis. Misses and errors both read
// through to the database.
type RedisTierCache struct {
	rc *redis.Client
}

func NewRedisTierCache(rc *redis.Client) *RedisTierCache {
	return &RedisTierCache{rc: rc}
}

func tierKey(accountID uint) string {
	return fmt.Sprintf("gate:tier:%d", accountID)
}

func (c *RedisTierCache) Get(ctx context.Context, accountID uint) (string, bool) {
	v, err := c.rc.Get(ctx, tierKey(accountID)).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (c *RedisTierCache) Set(ctx context.Context, accountID uint, tier string, ttl time.Duration) {
	_ = c.rc.Set(ctx, tierKey(accountID), tier, ttl).Err()
}

func (c *RedisTierCache) Invalidate(ctx context.Context, accountID uint) {
	_ = c.rc.Del(ctx, tierKey(accountID)).Err()
}

// RedisUsageStore keeps daily usage counters with a two-day expiry, keyed
// per account, feature and calendar day.
type RedisUsageStore struct {
	rc *redis.Client
}

func NewRedisUsageStore(rc *redis.Client) *RedisUsageStore {
	return &RedisUsageStore{rc: rc}
}

func usageKey(accountID uint, featureKey, date string) string {
	return fmt.Sprintf("usage:%d:%s:%s", accountID, featureKey, date)
}

func (s *RedisUsageStore) Count(ctx context.Context, accountID uint, featureKey, date string) (int64, error) {
	n, err := s.rc.Get(ctx, usageKey(accountID, featureKey, date)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (s *RedisUsageStore) Incr(ctx context.Context, accountID uint, featureKey, date string) (int64, error) {
	key := usageKey(accountID, featureKey, date)
	n, err := s.rc.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		_ = s.rc.Expire(ctx, key, 48*time.Hour).Err()
	}
	return n, nil
}
