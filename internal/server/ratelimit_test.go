package server

import (
	"context"
	"testing"
)

func TestMemoryRateLimiter(t *testing.T) {
	limiter := newMemoryRateLimiter(2)
	ctx := context.Background()
	if !limiter.Allow(ctx, "k1") || !limiter.Allow(ctx, "k1") {
		t.Fatalf("first two requests should pass")
	}
	if limiter.Allow(ctx, "k1") {
		t.Fatalf("third request should be limited")
	}
	if !limiter.Allow(ctx, "k2") {
		t.Fatalf("separate keys get separate windows")
	}
}

func TestMemoryRateLimiterEmptyKey(t *testing.T) {
	limiter := newMemoryRateLimiter(1)
	ctx := context.Background()
	if !limiter.Allow(ctx, "") {
		t.Fatalf("first anonymous request should pass")
	}
	if limiter.Allow(ctx, " ") {
		t.Fatalf("blank keys share the unknown bucket")
	}
}

func TestNewRateLimiterSelectsBackend(t *testing.T) {
	if _, ok := newRateLimiter(RateLimitConfig{QuickCheckRPM: 5}).(*memoryRateLimiter); !ok {
		t.Fatalf("expected memory limiter without redis addr")
	}
	if _, ok := newRateLimiter(RateLimitConfig{QuickCheckRPM: 5, RedisAddr: "localhost:6379"}).(*redisRateLimiter); !ok {
		t.Fatalf("expected redis limiter when redis addr set")
	}
}
