package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"RATE_LIMIT_ENABLED",
		"FEATURE_LOCK_ENABLED",
		"FEATURE_LOCK_TTL_SECONDS",
		"USAGE_COST_READ_FAILURE",
		"USAGE_FEATURE_READ_FAILURE",
		"USAGE_ESTIMATED_OUTPUT_TOKENS",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.True(t, cfg.RateLimit.Enabled)
	assert.False(t, cfg.RateLimit.FeatureLockEnabled)
	assert.Equal(t, 5, cfg.RateLimit.FeatureLockTTLSeconds)
	assert.Equal(t, FailOpen, cfg.Usage.CostReadFailure)
	assert.Equal(t, FailClosed, cfg.Usage.FeatureReadFailure)
	assert.Equal(t, 1000, cfg.Usage.EstimatedOutputTokens)
}

func TestLoadFeatureLockFromEnv(t *testing.T) {
	t.Setenv("FEATURE_LOCK_ENABLED", "true")
	t.Setenv("FEATURE_LOCK_TTL_SECONDS", "2")

	cfg := Load()
	assert.True(t, cfg.RateLimit.FeatureLockEnabled)
	assert.Equal(t, 2, cfg.RateLimit.FeatureLockTTLSeconds)
}
