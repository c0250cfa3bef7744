package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	defaultPrefix     = "microloan:lock:"
	defaultRetryDelay = 50 * time.Millisecond
)

// releaseScript deletes the key only if it still holds our token, so an expired
// lock re-acquired by another writer is never released by us.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// RedisLocker is a Locker backed by Redis SETNX, for deployments where more
// than one process writes to the same database.
type RedisLocker struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	retryDelay time.Duration
	newToken   func() string
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:     client,
		prefix:     defaultPrefix,
		ttl:        ttl,
		retryDelay: defaultRetryDelay,
		newToken:   func() string { return uuid.NewString() },
	}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := r.prefix + key
	token := r.newToken()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for lock %s: %w", key, ctx.Err())
		case <-time.After(r.retryDelay):
		}
	}

	return func() {
		if err := r.client.Eval(context.Background(), releaseScript, []string{redisKey}, token).Err(); err != nil {
			slog.Warn("failed to release lock", "key", key, "error", err)
		}
	}, nil
}
