package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"

	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisLimiterAllow(t *testing.T) {
	mr, client := setupTestRedis(t)
	l := NewRedisLimiterFromClient(client, logger.Nop())
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "driver:1", 5*time.Second))
	assert.False(t, l.Allow(ctx, "driver:1", 5*time.Second))
	assert.True(t, l.Allow(ctx, "driver:2", 5*time.Second))

	mr.FastForward(6 * time.Second)
	assert.True(t, l.Allow(ctx, "driver:1", 5*time.Second))
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	l := NewRedisLimiterFromClient(client, logger.Nop())
	mr.Close()

	assert.True(t, l.Allow(context.Background(), "driver:1", 5*time.Second))
	assert.True(t, l.Allow(context.Background(), "driver:1", 5*time.Second))
}
