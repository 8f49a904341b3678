package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	TierFree = "free"
	TierPlus = "plus"
	TierMax  = "max"

	PeriodMonth = "month"
	PeriodDay   = "day"

	// Unlimited marks a feature limit that is never counted.
	Unlimited = -1
)

// TierOrder lists tiers from cheapest to most generous.
var TierOrder = []string{TierFree, TierPlus, TierMax}

// RateRule is the fixed-window allowance of one feature for one tier.
type RateRule struct {
	Requests int   `mapstructure:"requests"`
	WindowMs int64 `mapstructure:"window_ms"`
}

// FeatureRule is the per-period count cap of a discrete feature.
type FeatureRule struct {
	Period string         `mapstructure:"period"`
	Limits map[string]int `mapstructure:"limits"`
}

type TokenCost struct {
	Input  float64 `mapstructure:"input"`
	Output float64 `mapstructure:"output"`
}

// LimitsConfig holds the tier economics: rate limits, monthly USD caps,
// feature quotas and per-1K-token prices.
type LimitsConfig struct {
	RateLimits      map[string]map[string]RateRule `mapstructure:"rate_limits"`
	UsageLimits     map[string]float64             `mapstructure:"usage_limits"`
	FeatureLimits   map[string]FeatureRule         `mapstructure:"feature_limits"`
	CostPer1KTokens TokenCost                      `mapstructure:"cost_per_1k_tokens"`
}

const (
	minute = int64(60 * 1000)
	hour   = 60 * minute
	day    = 24 * hour
)

func DefaultLimits() LimitsConfig {
	return LimitsConfig{
		RateLimits: map[string]map[string]RateRule{
			"chat": {
				TierFree: {Requests: 10, WindowMs: hour},
				TierPlus: {Requests: 50, WindowMs: hour},
				TierMax:  {Requests: 200, WindowMs: hour},
			},
			"upload": {
				TierFree: {Requests: 5, WindowMs: day},
				TierPlus: {Requests: 20, WindowMs: hour},
				TierMax:  {Requests: 100, WindowMs: hour},
			},
			"api": {
				TierFree: {Requests: 60, WindowMs: minute},
				TierPlus: {Requests: 120, WindowMs: minute},
				TierMax:  {Requests: 300, WindowMs: minute},
			},
			"features": {
				TierFree: {Requests: 20, WindowMs: hour},
				TierPlus: {Requests: 100, WindowMs: hour},
				TierMax:  {Requests: 500, WindowMs: hour},
			},
		},
		UsageLimits: map[string]float64{
			TierFree: 2.00,
			TierPlus: 6.00,
			TierMax:  12.00,
		},
		FeatureLimits: map[string]FeatureRule{
			"submit_answer": {
				Period: PeriodMonth,
				Limits: map[string]int{TierFree: 5, TierPlus: 50, TierMax: Unlimited},
			},
			"video_solution": {
				Period: PeriodDay,
				Limits: map[string]int{TierFree: 1, TierPlus: 10, TierMax: Unlimited},
			},
		},
		CostPer1KTokens: TokenCost{Input: 0.003, Output: 0.015},
	}
}

// LimitsHolder serves the current LimitsConfig and swaps it on file change.
type LimitsHolder struct {
	current atomic.Value // holds LimitsConfig
	log     *zap.Logger
}

// NewStaticLimitsHolder wraps a fixed configuration, mainly for tests.
func NewStaticLimitsHolder(cfg LimitsConfig) (*LimitsHolder, error) {
	if err := ValidateLimits(cfg); err != nil {
		return nil, err
	}
	holder := &LimitsHolder{log: zap.NewNop()}
	holder.current.Store(cfg)
	return holder, nil
}

func NewLimitsHolder(appCfg Config, log *zap.Logger) (*LimitsHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.limits")

	v := viper.New()
	if appCfg.LimitsFile != "" {
		v.SetConfigFile(appCfg.LimitsFile)
	} else {
		v.SetConfigName("limits")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/quotaguard")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("QUOTAGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setLimitDefaults(v, DefaultLimits())

	holder := &LimitsHolder{log: log}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read limits config: %w", err)
		}
		log.Info("limits config not found, using defaults")
		cfg, err := decodeLimits(v)
		if err != nil {
			return nil, err
		}
		if err := holder.apply(cfg); err != nil {
			return nil, err
		}
		return holder, nil
	}

	cfg, err := decodeLimits(v)
	if err != nil {
		return nil, err
	}
	if err := holder.apply(cfg); err != nil {
		return nil, err
	}
	log.Info("limits config loaded", zap.String("file", v.ConfigFileUsed()))

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeLimits(v)
		if err != nil {
			log.Warn("limits reload failed", zap.Error(err))
			return
		}
		if err := holder.apply(updated); err != nil {
			log.Warn("invalid limits config ignored", zap.Error(err))
			return
		}
		log.Info("limits config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *LimitsHolder) Get() LimitsConfig {
	return h.current.Load().(LimitsConfig)
}

func (h *LimitsHolder) apply(cfg LimitsConfig) error {
	if err := ValidateLimits(cfg); err != nil {
		return err
	}
	h.current.Store(cfg)
	return nil
}

// setLimitDefaults registers every leaf of cfg as a viper default. Viper
// merges file values with defaults per key, so a file naming one tier of one
// feature leaves the other tiers at their defaults.
func setLimitDefaults(v *viper.Viper, cfg LimitsConfig) {
	for feature, rules := range cfg.RateLimits {
		for tier, rule := range rules {
			prefix := "rate_limits." + feature + "." + tier
			v.SetDefault(prefix+".requests", rule.Requests)
			v.SetDefault(prefix+".window_ms", rule.WindowMs)
		}
	}
	for tier, limit := range cfg.UsageLimits {
		v.SetDefault("usage_limits."+tier, limit)
	}
	for feature, rule := range cfg.FeatureLimits {
		prefix := "feature_limits." + feature
		v.SetDefault(prefix+".period", rule.Period)
		for tier, limit := range rule.Limits {
			v.SetDefault(prefix+".limits."+tier, limit)
		}
	}
	v.SetDefault("cost_per_1k_tokens.input", cfg.CostPer1KTokens.Input)
	v.SetDefault("cost_per_1k_tokens.output", cfg.CostPer1KTokens.Output)
}

func decodeLimits(v *viper.Viper) (LimitsConfig, error) {
	var cfg LimitsConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return LimitsConfig{}, fmt.Errorf("decode limits config: %w", err)
	}
	return cfg, nil
}

func ValidateLimits(cfg LimitsConfig) error {
	if len(cfg.RateLimits) == 0 {
		return errors.New("rate_limits cannot be empty")
	}
	for feature, rules := range cfg.RateLimits {
		prev := 0
		for _, tier := range TierOrder {
			rule, ok := rules[tier]
			if !ok {
				return fmt.Errorf("rate_limits.%s missing tier %s", feature, tier)
			}
			if rule.Requests <= 0 || rule.WindowMs <= 0 {
				return fmt.Errorf("rate_limits.%s.%s must be positive", feature, tier)
			}
			if rule.Requests < prev {
				return fmt.Errorf("rate_limits.%s.%s allows fewer requests than a lower tier", feature, tier)
			}
			prev = rule.Requests
		}
	}

	for _, tier := range TierOrder {
		limit, ok := cfg.UsageLimits[tier]
		if !ok {
			return fmt.Errorf("usage_limits missing tier %s", tier)
		}
		if limit <= 0 {
			return fmt.Errorf("usage_limits.%s must be positive", tier)
		}
	}

	for feature, rule := range cfg.FeatureLimits {
		if rule.Period != PeriodMonth && rule.Period != PeriodDay {
			return fmt.Errorf("feature_limits.%s has invalid period %q", feature, rule.Period)
		}
		for _, tier := range TierOrder {
			limit, ok := rule.Limits[tier]
			if !ok {
				return fmt.Errorf("feature_limits.%s missing tier %s", feature, tier)
			}
			if limit < Unlimited {
				return fmt.Errorf("feature_limits.%s.%s must be -1 or greater", feature, tier)
			}
		}
	}

	if cfg.CostPer1KTokens.Input < 0 || cfg.CostPer1KTokens.Output < 0 {
		return errors.New("cost_per_1k_tokens cannot be negative")
	}
	return nil
}
