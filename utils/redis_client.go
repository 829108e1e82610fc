package utils

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ascendhq/ascend/config"
)

var (
	redisClient *redis.Client
	redisOnce   sync.Once
)

// InitRedis builds the singleton Redis client from loaded config. Called
// once at boot; a failed ping is tolerated so the process can start while
// Redis is briefly unavailable.
func InitRedis(cfg config.AppConfig) *redis.Client {
	redisOnce.Do(func() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         net.JoinHostPort(cfg.RedisHost, strconv.Itoa(cfg.RedisPort)),
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  3 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = redisClient.Ping(ctx).Err()
	})
	return redisClient
}

// GetRedis returns the singleton client, or nil before InitRedis runs.
// Callers treat nil as "cache unavailable" and fall through.
func GetRedis() *redis.Client {
	return redisClient
}
