package cache

import (
	"context"
	"errors"
	"time"

	"github.com/oh-yeah-sea-kit2/slamp/internal/utils"
	"github.com/redis/go-redis/v9"
)

// RedisStore is the production Store, shared by every replica of the service.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore parses a redis:// URL (REDISTOGO_URL style) and pings the
// server. An unreachable server is logged, not returned: the client dials
// again on each command and callers treat its errors as cache misses.
func NewRedisStore(ctx context.Context, rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		utils.Warn("redis unreachable; running without cache until it returns", "addr", opts.Addr, "err", err)
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
