package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisGuard shares claims between processes through SET NX with a TTL
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects to redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              db,
		PoolSize:        20,
		MinIdleConns:    2,
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	zap.L().Info("Redis connected", zap.String("addr", addr))
	return client, nil
}

// NewRedisGuard creates a guard on an existing client
func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

// claimKey namespaces and versions claim keys
func claimKey(key string) string {
	return fmt.Sprintf("idem:v1:%s", key)
}

func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, claimKey(key), time.Now().UTC().Format(time.RFC3339Nano), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, claimKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to release %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying client
func (g *RedisGuard) Close() error {
	return g.client.Close()
}
