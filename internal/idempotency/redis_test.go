package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*RedisGuard, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisGuard(client, time.Hour), mr
}

func TestRedisGuard_Claim(t *testing.T) {
	guard, mr := setupTestRedis(t)
	ctx := context.Background()

	ok, err := guard.Claim(ctx, ConvertKey("dep1"))
	if err != nil || !ok {
		t.Fatalf("First claim failed: %v %v", ok, err)
	}
	if !mr.Exists("idem:v1:convert:dep1") {
		t.Error("Expected namespaced key in redis")
	}

	ok, err = guard.Claim(ctx, ConvertKey("dep1"))
	if err != nil {
		t.Fatalf("Second claim errored: %v", err)
	}
	if ok {
		t.Error("Second claim should fail")
	}
}

func TestRedisGuard_TTLAndRelease(t *testing.T) {
	guard, mr := setupTestRedis(t)
	ctx := context.Background()

	guard.Claim(ctx, "k")
	mr.FastForward(2 * time.Hour)

	if ok, _ := guard.Claim(ctx, "k"); !ok {
		t.Fatal("Expired claim should be reclaimable")
	}
	if err := guard.Release(ctx, "k"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if ok, _ := guard.Claim(ctx, "k"); !ok {
		t.Error("Released claim should be reclaimable")
	}
}
