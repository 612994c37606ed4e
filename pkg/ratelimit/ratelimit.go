package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// Limiter admits at most one event per key per interval.
type Limiter interface {
	Allow(ctx context.Context, key string, interval time.Duration) bool
}

// RedisLimiter keeps one expiring key per subject. Redis errors fail open so
// the caller's own durable check stays authoritative.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	logger *logger.Logger
}

// NewRedisLimiter parses url and pings the server.
func NewRedisLimiter(ctx context.Context, url string, log *logger.Logger) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisLimiterFromClient(client, log), nil
}

// NewRedisLimiterFromClient wraps an existing client.
func NewRedisLimiterFromClient(client *redis.Client, log *logger.Logger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: "eazyfoods:ratelimit:",
		logger: log.WithComponent("ratelimit"),
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, interval time.Duration) bool {
	ok, err := l.client.SetNX(ctx, l.prefix+key, 1, interval).Result()
	if err != nil {
		l.logger.Warn("Rate limiter unavailable, allowing", "key", key, "error", err)
		return true
	}
	return ok
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// Noop admits everything.
type Noop struct{}

func (Noop) Allow(context.Context, string, time.Duration) bool { return true }
