package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a string key/value store with expiry. Get returns "" and no error
// on a miss. IncrBy adds delta to an integer counter, creating it at zero,
// and returns the new value; a delta of 0 reads the counter.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	GenerateKey(operation, key string) string
}

type redisCache struct {
	client      redis.UniversalClient
	serviceName string
}

// NewRedisCache creates a Cache backed by the redis server at addr.
func NewRedisCache(addr, serviceName string) Cache {
	return NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: addr}), serviceName)
}

// NewRedisCacheFromClient wraps an existing redis client.
func NewRedisCacheFromClient(client redis.UniversalClient, serviceName string) Cache {
	return &redisCache{client: client, serviceName: serviceName}
}

func (r *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (r *redisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *redisCache) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return r.client.IncrBy(ctx, key, delta).Result()
}

func (r *redisCache) GenerateKey(operation, key string) string {
	return fmt.Sprintf("%s:%s:%s", r.serviceName, operation, key)
}

type noopCache struct{}

// NewNoopCache returns a Cache that stores nothing; every Get is a miss.
func NewNoopCache() Cache { return noopCache{} }

func (noopCache) Set(context.Context, string, interface{}, time.Duration) error { return nil }

func (noopCache) Get(context.Context, string) (string, error) { return "", nil }

func (noopCache) Delete(context.Context, ...string) error { return nil }

func (noopCache) IncrBy(context.Context, string, int64) (int64, error) { return 0, nil }

func (noopCache) GenerateKey(operation, key string) string { return operation + ":" + key }
