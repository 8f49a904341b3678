package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/config"
	obsmetrics "github.com/smallbiznis/quotaguard/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/quotaguard/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Feature selects a rate limit table entry.
type Feature string

const (
	FeatureChat     Feature = "chat"
	FeatureUpload   Feature = "upload"
	FeatureAPI      Feature = "api"
	FeatureFeatures Feature = "features"
)

const keyRateLimit = "ratelimit:%s:%s:%s:%d"

// Result is the outcome of one rate limit check. ResetTime is a unix
// timestamp in milliseconds.
type Result struct {
	Success   bool
	Limit     int
	Remaining int
	ResetTime int64
	Tier      subscriptiondomain.Tier
}

// RetryAfter is the whole number of seconds until the window resets, at least 1.
func (r Result) RetryAfter(now time.Time) int64 {
	ms := r.ResetTime - now.UnixMilli()
	if ms <= 0 {
		return 1
	}
	return (ms + 999) / 1000
}

type LimiterParam struct {
	fx.In

	Cfg     config.Config
	Limits  *config.LimitsHolder
	Store   CounterStore
	Tiers   subscriptiondomain.TierResolver
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Limiter is a fixed-window request counter keyed by feature, tier and identifier.
type Limiter struct {
	enabled bool

	store   CounterStore
	limits  *config.LimitsHolder
	tiers   subscriptiondomain.TierResolver
	clock   clock.Clock
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func NewLimiter(p LimiterParam) *Limiter {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{
		enabled: p.Cfg.RateLimit.Enabled,
		store:   p.Store,
		limits:  p.Limits,
		tiers:   p.Tiers,
		clock:   p.Clock,
		log:     log.Named("ratelimit"),
		metrics: p.Metrics,
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.enabled
}

// RateLimitAPIRequest resolves the caller's tier and identifier and checks the
// feature's limit. An empty or anonymous userID is on the free tier without a
// subscription lookup.
func (l *Limiter) RateLimitAPIRequest(ctx context.Context, userID string, feature Feature, headers http.Header) Result {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = anonymousUser
	}
	tier := subscriptiondomain.TierFree
	if userID != anonymousUser && l.tiers != nil {
		tier = l.tiers.GetUserTier(ctx, userID)
	}
	return l.Check(ctx, ResolveIdentifier(userID, headers), tier, feature)
}

// Check counts this request against the current window of (feature, tier,
// identifier). Store failures fail open.
func (l *Limiter) Check(ctx context.Context, identifier string, tier subscriptiondomain.Tier, feature Feature) Result {
	if !tier.Valid() {
		tier = subscriptiondomain.TierFree
	}
	rule := l.rule(feature, tier)
	nowMs := l.clock.Now().UnixMilli()
	window := nowMs / rule.WindowMs

	if !l.Enabled() {
		return Result{
			Success:   true,
			Limit:     rule.Requests,
			Remaining: rule.Requests,
			ResetTime: (window + 1) * rule.WindowMs,
			Tier:      tier,
		}
	}

	key := fmt.Sprintf(keyRateLimit, feature, tier, identifier, window)
	ttl := time.Duration((rule.WindowMs+999)/1000) * time.Second

	count, err := l.store.Incr(ctx, key, ttl)
	if err != nil {
		l.log.Warn("rate limit store unavailable, allowing request",
			zap.String("feature", string(feature)),
			zap.String("tier", tier.String()),
			zap.Error(err),
		)
		l.record(ctx, tier, feature, true, "store_unavailable")
		return Result{
			Success:   true,
			Limit:     rule.Requests,
			Remaining: rule.Requests - 1,
			ResetTime: nowMs + rule.WindowMs,
			Tier:      tier,
		}
	}

	remaining := int64(rule.Requests) - count
	if remaining < 0 {
		remaining = 0
	}
	result := Result{
		Success:   count <= int64(rule.Requests),
		Limit:     rule.Requests,
		Remaining: int(remaining),
		ResetTime: (window + 1) * rule.WindowMs,
		Tier:      tier,
	}
	if !result.Success {
		l.record(ctx, tier, feature, false, "window_exhausted")
	} else {
		l.record(ctx, tier, feature, true, "")
	}
	return result
}

// rule falls back to the api table for unknown features.
func (l *Limiter) rule(feature Feature, tier subscriptiondomain.Tier) config.RateRule {
	limits := l.limits.Get()
	rules, ok := limits.RateLimits[string(feature)]
	if !ok {
		rules = limits.RateLimits[string(FeatureAPI)]
	}
	rule, ok := rules[tier.String()]
	if !ok || rule.WindowMs <= 0 {
		return config.DefaultLimits().RateLimits[string(FeatureAPI)][tier.String()]
	}
	return rule
}

func (l *Limiter) record(ctx context.Context, tier subscriptiondomain.Tier, feature Feature, allowed bool, reason string) {
	if l.metrics == nil {
		return
	}
	if allowed {
		l.metrics.RecordRateLimitAllowed(ctx, tier.String(), string(feature))
		return
	}
	l.metrics.RecordRateLimitDenied(ctx, tier.String(), string(feature), reason)
}
