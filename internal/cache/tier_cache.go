package cache

import (
	"strings"
	"time"

	"github.com/smallbiznis/quotaguard/internal/config"
	subscriptiondomain "github.com/smallbiznis/quotaguard/internal/subscription/domain"
)

// TierCache stores resolved subscription tiers for the request hot path.
type TierCache interface {
	GetTier(userID string) (subscriptiondomain.Tier, bool)
	SetTier(userID string, tier subscriptiondomain.Tier)
	Invalidate(userID string)
}

type tierCache struct {
	tiers Cache[string, subscriptiondomain.Tier]
	ttl   time.Duration
}

// NewTierCache returns a tier cache; a zero ttl disables caching.
func NewTierCache(ttl time.Duration) TierCache {
	return &tierCache{
		tiers: NewTTLCache[string, subscriptiondomain.Tier](),
		ttl:   ttl,
	}
}

func NewTierCacheFromConfig(cfg config.Config) TierCache {
	return NewTierCache(time.Duration(cfg.TierCacheTTLSeconds) * time.Second)
}

func (c *tierCache) GetTier(userID string) (subscriptiondomain.Tier, bool) {
	if c.ttl <= 0 {
		return "", false
	}
	return c.tiers.Get(cacheKey(userID))
}

func (c *tierCache) SetTier(userID string, tier subscriptiondomain.Tier) {
	key := cacheKey(userID)
	if key == "" || !tier.Valid() {
		return
	}
	c.tiers.Set(key, tier, c.ttl)
}

func (c *tierCache) Invalidate(userID string) {
	c.tiers.Delete(cacheKey(userID))
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
