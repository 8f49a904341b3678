package ratelimit

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// CounterStore is the atomic counter backend of the fixed-window limiter.
type CounterStore interface {
	// Incr increments key and (re)sets its expiry in one atomic step,
	// returning the post-increment count.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type RedisCounterStore struct {
	client *redis.Client
}

func NewRedisCounterStore(client *redis.Client) CounterStore {
	return &RedisCounterStore{client: client}
}

func (s *RedisCounterStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if s == nil || s.client == nil {
		return 0, errors.New("counter store not configured")
	}
	if key == "" {
		return 0, errors.New("counter key is empty")
	}
	if ttl <= 0 {
		return 0, errors.New("counter ttl must be positive")
	}

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
