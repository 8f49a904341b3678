package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/quotaguard/internal/config"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const keyFeatureLock = "featurelock:%s:%s"

// Locker is a best-effort Redis mutex (SET NX PX with token-checked release).
type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release deletes key only if it still holds token.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// FeatureLock serializes check-then-record of one user's feature quota so
// concurrent requests cannot both pass the check.
type FeatureLock struct {
	enabled bool
	locker  *Locker
	ttl     time.Duration
}

func NewFeatureLock(cfg config.Config, client *redis.Client) *FeatureLock {
	ttl := time.Duration(cfg.RateLimit.FeatureLockTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &FeatureLock{
		enabled: cfg.RateLimit.FeatureLockEnabled && client != nil,
		locker:  NewLocker(client),
		ttl:     ttl,
	}
}

func (f *FeatureLock) Enabled() bool {
	return f != nil && f.enabled
}

// Acquire returns a release func. When the lock is disabled it always
// succeeds with a no-op release.
func (f *FeatureLock) Acquire(ctx context.Context, userID, feature string) (func(context.Context) error, bool, error) {
	noop := func(context.Context) error { return nil }
	if !f.Enabled() {
		return noop, true, nil
	}
	key := fmt.Sprintf(keyFeatureLock, strings.TrimSpace(userID), strings.TrimSpace(feature))
	token, ok, err := f.locker.TryLock(ctx, key, f.ttl)
	if err != nil || !ok {
		return noop, ok, err
	}
	return func(ctx context.Context) error {
		return f.locker.Release(ctx, key, token)
	}, true, nil
}
