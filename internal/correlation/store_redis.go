package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the correlation cache with Redis. The bucket becomes a
// key namespace; retention is the store's TTL, never an explicit delete.
type RedisStore struct {
	client *redis.Client

	// TTL applies to every object written. Zero disables expiry and
	// leaves retention to the Redis deployment's own policy.
	TTL time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, TTL: ttl}
}

func redisKey(bucket, key string) string {
	return bucket + ":" + key
}

func (s *RedisStore) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, redisKey(bucket, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
		}
		return nil, fmt.Errorf("correlation: redis get %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (s *RedisStore) PutObject(ctx context.Context, bucket, key string, data []byte) error {
	if err := s.client.Set(ctx, redisKey(bucket, key), data, s.TTL).Err(); err != nil {
		return fmt.Errorf("correlation: redis set %s/%s: %w", bucket, key, err)
	}
	return nil
}
