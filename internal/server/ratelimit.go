package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimiter gates unauthenticated quick checks per caller key. The key is
// already hashed by the transport layer, so implementations never see raw IPs.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

type memoryRateLimiter struct {
	mu      sync.Mutex
	rpm     int
	records map[string][]time.Time
}

func newMemoryRateLimiter(rpm int) *memoryRateLimiter {
	if rpm <= 0 {
		rpm = 6
	}
	return &memoryRateLimiter{
		rpm:     rpm,
		records: map[string][]time.Time{},
	}
}

func (l *memoryRateLimiter) Allow(_ context.Context, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if strings.TrimSpace(key) == "" {
		key = "unknown"
	}
	now := time.Now()
	cutoff := now.Add(-1 * time.Minute)
	items := filterRecentTime(l.records[key], cutoff)
	if len(items) >= l.rpm {
		l.records[key] = items
		return false
	}
	items = append(items, now)
	l.records[key] = items
	return true
}

func filterRecentTime(items []time.Time, cutoff time.Time) []time.Time {
	out := items[:0:0]
	for _, item := range items {
		if item.After(cutoff) {
			out = append(out, item)
		}
	}
	return out
}

// redisRateLimiter keeps per-key sliding windows in a sorted set so the limit
// holds across replicas. Redis outages fail open rather than blocking checks.
type redisRateLimiter struct {
	client *redis.Client
	rpm    int
}

func newRedisRateLimiter(cfg RateLimitConfig) *redisRateLimiter {
	rpm := cfg.QuickCheckRPM
	if rpm <= 0 {
		rpm = 6
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &redisRateLimiter{client: client, rpm: rpm}
}

func (l *redisRateLimiter) Allow(ctx context.Context, key string) bool {
	if strings.TrimSpace(key) == "" {
		key = "unknown"
	}
	now := time.Now()
	windowStart := float64(now.Add(-1 * time.Minute).UnixMicro())
	limitKey := "check:ratelimit:" + key

	if err := l.client.ZRemRangeByScore(ctx, limitKey, "0", fmt.Sprintf("%f", windowStart)).Err(); err != nil {
		slog.Warn("rate limit prune failed", "error", err)
	}
	count, err := l.client.ZCount(ctx, limitKey, fmt.Sprintf("%f", windowStart), "+inf").Result()
	if err != nil {
		slog.Warn("rate limit count failed, allowing request", "error", err)
		return true
	}
	if count >= int64(l.rpm) {
		return false
	}
	if err := l.client.ZAdd(ctx, limitKey, &redis.Z{
		Score:  float64(now.UnixMicro()),
		Member: now.UnixNano(),
	}).Err(); err != nil {
		slog.Warn("rate limit record failed, allowing request", "error", err)
		return true
	}
	l.client.Expire(ctx, limitKey, 2*time.Minute)
	return true
}

func newRateLimiter(cfg RateLimitConfig) RateLimiter {
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		return newRedisRateLimiter(cfg)
	}
	return newMemoryRateLimiter(cfg.QuickCheckRPM)
}
