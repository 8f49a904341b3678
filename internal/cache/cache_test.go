package cache

import (
	"sync"
	"testing"
	"time"

	subscriptiondomain "github.com/smallbiznis/quotaguard/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpiresEntries(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	c := newTTLCache[string, int](func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})

	c.Set("a", 1, time.Minute)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()

	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestTTLCacheIgnoresNonPositiveTTL(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("a", 1, 0)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestTierCacheNormalizesKeys(t *testing.T) {
	c := NewTierCache(time.Minute)
	c.SetTier(" User-1 ", subscriptiondomain.TierPlus)

	tier, ok := c.GetTier("user-1")
	assert.True(t, ok)
	assert.Equal(t, subscriptiondomain.TierPlus, tier)

	c.Invalidate("USER-1")
	_, ok = c.GetTier("user-1")
	assert.False(t, ok)
}

func TestTierCacheDisabled(t *testing.T) {
	c := NewTierCache(0)
	c.SetTier("user-1", subscriptiondomain.TierMax)
	_, ok := c.GetTier("user-1")
	assert.False(t, ok)
}

func TestTierCacheSkipsInvalidTier(t *testing.T) {
	c := NewTierCache(time.Minute)
	c.SetTier("user-1", subscriptiondomain.Tier("gold"))
	_, ok := c.GetTier("user-1")
	assert.False(t, ok)
}
