package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultLimitsAreValid(t *testing.T) {
	require.NoError(t, ValidateLimits(DefaultLimits()))
}

func TestDefaultRateLimitsGrowWithTier(t *testing.T) {
	cfg := DefaultLimits()
	for feature, rules := range cfg.RateLimits {
		for i := 1; i < len(TierOrder); i++ {
			lower := rules[TierOrder[i-1]]
			higher := rules[TierOrder[i]]
			assert.LessOrEqualf(t, lower.Requests, higher.Requests,
				"%s: %s allows more than %s", feature, TierOrder[i-1], TierOrder[i])
		}
	}
}

func TestValidateLimitsRejectsBadTables(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*LimitsConfig)
	}{
		{"missing tier", func(c *LimitsConfig) { delete(c.RateLimits["chat"], TierMax) }},
		{"zero window", func(c *LimitsConfig) { c.RateLimits["api"][TierFree] = RateRule{Requests: 1} }},
		{"decreasing requests", func(c *LimitsConfig) {
			c.RateLimits["chat"][TierMax] = RateRule{Requests: 1, WindowMs: 1000}
		}},
		{"zero usage cap", func(c *LimitsConfig) { c.UsageLimits[TierPlus] = 0 }},
		{"bad period", func(c *LimitsConfig) {
			rule := c.FeatureLimits["submit_answer"]
			rule.Period = "week"
			c.FeatureLimits["submit_answer"] = rule
		}},
		{"below unlimited", func(c *LimitsConfig) { c.FeatureLimits["video_solution"].Limits[TierFree] = -2 }},
		{"negative cost", func(c *LimitsConfig) { c.CostPer1KTokens.Output = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultLimits()
			tt.mutate(&cfg)
			assert.Error(t, ValidateLimits(cfg))
		})
	}
}

func TestNewLimitsHolderOverlaysFileOnDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.yml")
	content := `
usage_limits:
  free: 3.5
  plus: 6
  max: 12
rate_limits:
  chat:
    free:
      requests: 15
      window_ms: 3600000
    plus:
      requests: 50
      window_ms: 3600000
    max:
      requests: 200
      window_ms: 3600000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	holder, err := NewLimitsHolder(Config{LimitsFile: path}, zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 3.5, cfg.UsageLimits[TierFree])
	assert.Equal(t, 15, cfg.RateLimits["chat"][TierFree].Requests)
	assert.Equal(t, 60, cfg.RateLimits["api"][TierFree].Requests)
	assert.Equal(t, PeriodDay, cfg.FeatureLimits["video_solution"].Period)
	assert.Equal(t, 0.003, cfg.CostPer1KTokens.Input)
}

func TestNewLimitsHolderMergesSingleTierOverride(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		requests int
		windowMs int64
	}{
		{
			name: "whole rule",
			content: `
rate_limits:
  chat:
    free:
      requests: 15
      window_ms: 1800000
`,
			requests: 15,
			windowMs: 1800000,
		},
		{
			name: "requests only",
			content: `
rate_limits:
  chat:
    free:
      requests: 15
`,
			requests: 15,
			windowMs: 3600000,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "limits.yml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			holder, err := NewLimitsHolder(Config{LimitsFile: path}, zap.NewNop())
			require.NoError(t, err)

			cfg := holder.Get()
			assert.Equal(t, RateRule{Requests: tt.requests, WindowMs: tt.windowMs}, cfg.RateLimits["chat"][TierFree])
			assert.Equal(t, DefaultLimits().RateLimits["chat"][TierPlus], cfg.RateLimits["chat"][TierPlus])
			assert.Equal(t, DefaultLimits().RateLimits["chat"][TierMax], cfg.RateLimits["chat"][TierMax])
		})
	}
}

func TestNewLimitsHolderMergesFeatureTierOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yml")
	content := `
feature_limits:
  video_solution:
    limits:
      free: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	holder, err := NewLimitsHolder(Config{LimitsFile: path}, zap.NewNop())
	require.NoError(t, err)

	rule := holder.Get().FeatureLimits["video_solution"]
	assert.Equal(t, PeriodDay, rule.Period)
	assert.Equal(t, 3, rule.Limits[TierFree])
	assert.Equal(t, 10, rule.Limits[TierPlus])
	assert.Equal(t, Unlimited, rule.Limits[TierMax])
	assert.Equal(t, 5, holder.Get().FeatureLimits["submit_answer"].Limits[TierFree])
}

func TestNewLimitsHolderRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.yml")
	content := `
usage_limits:
  free: 0
  plus: 6
  max: 12
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := NewLimitsHolder(Config{LimitsFile: path}, zap.NewNop())
	assert.Error(t, err)
}

func TestLimitsHolderKeepsPreviousOnInvalidApply(t *testing.T) {
	holder, err := NewStaticLimitsHolder(DefaultLimits())
	require.NoError(t, err)

	bad := DefaultLimits()
	bad.UsageLimits[TierMax] = -1
	assert.Error(t, holder.apply(bad))
	assert.Equal(t, 12.0, holder.Get().UsageLimits[TierMax])
}

func TestParseFailurePolicy(t *testing.T) {
	assert.Equal(t, FailClosed, parseFailurePolicy(" Closed ", FailOpen))
	assert.Equal(t, FailOpen, parseFailurePolicy("open", FailClosed))
	assert.Equal(t, FailClosed, parseFailurePolicy("sometimes", FailClosed))
}
