package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/config"
	obscontext "github.com/smallbiznis/quotaguard/internal/observability/context"
	obsmetrics "github.com/smallbiznis/quotaguard/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/quotaguard/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/quotaguard/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// costTolerance absorbs float error when a projected total lands on the cap.
const costTolerance = 1e-9

const defaultEstimatedOutputTokens = 1000

type ServiceParam struct {
	fx.In

	Cfg     config.Config
	Limits  *config.LimitsHolder
	Repo    usagedomain.Repository
	Tiers   subscriptiondomain.TierResolver
	Clock   clock.Clock
	GenID   *snowflake.Node
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log *zap.Logger

	repo    usagedomain.Repository
	limits  *config.LimitsHolder
	tiers   subscriptiondomain.TierResolver
	clock   clock.Clock
	genID   *snowflake.Node
	metrics *obsmetrics.Metrics

	costReadFailure    config.FailurePolicy
	featureReadFailure config.FailurePolicy
	estimatedOutput    int64
}

func NewService(p ServiceParam) usagedomain.Service {
	estimated := int64(p.Cfg.Usage.EstimatedOutputTokens)
	if estimated <= 0 {
		estimated = defaultEstimatedOutputTokens
	}
	costPolicy := p.Cfg.Usage.CostReadFailure
	if costPolicy == "" {
		costPolicy = config.FailOpen
	}
	featurePolicy := p.Cfg.Usage.FeatureReadFailure
	if featurePolicy == "" {
		featurePolicy = config.FailClosed
	}

	return &Service{
		log: p.Log.Named("usage.service"),

		repo:    p.Repo,
		limits:  p.Limits,
		tiers:   p.Tiers,
		clock:   p.Clock,
		genID:   p.GenID,
		metrics: p.Metrics,

		costReadFailure:    costPolicy,
		featureReadFailure: featurePolicy,
		estimatedOutput:    estimated,
	}
}

func (s *Service) EstimatedOutputTokens() int64 {
	return s.estimatedOutput
}

// RecordUsage appends one priced row to the cost ledger. Callers on the
// response path run it detached and only log the error.
func (s *Service) RecordUsage(ctx context.Context, userID, service string, inputTokens, outputTokens int64) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return usagedomain.ErrInvalidUser
	}
	service = strings.TrimSpace(service)
	if service == "" {
		return usagedomain.ErrInvalidService
	}
	if inputTokens < 0 || outputTokens < 0 {
		return usagedomain.ErrInvalidTokens
	}

	now := s.clock.Now()
	cost := usagedomain.Cost(inputTokens, outputTokens, s.limits.Get().CostPer1KTokens)

	metadata := datatypes.JSONMap{"correlation_id": ulid.Make().String()}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		metadata["request_id"] = requestID
	}

	record := &usagedomain.UsageRecord{
		ID:           s.genID.Generate(),
		UserID:       userID,
		Service:      service,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TokensUsed:   inputTokens + outputTokens,
		CostUSD:      cost,
		MonthYear:    usagedomain.MonthYear(now),
		Metadata:     metadata,
		CreatedAt:    now,
	}
	if err := s.repo.InsertUsage(ctx, record); err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}

	s.metrics.RecordUsage(ctx, obscontext.TierFromContext(ctx), cost)
	return nil
}

// GetMonthlyUsage sums the current UTC month. A failed read follows the cost
// read policy: open yields a zero snapshot, closed returns ErrLedgerUnavailable.
func (s *Service) GetMonthlyUsage(ctx context.Context, userID string) (usagedomain.MonthlyUsage, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return usagedomain.MonthlyUsage{}, usagedomain.ErrInvalidUser
	}

	tier := s.tiers.GetUserTier(ctx, userID)
	limit := s.limits.Get().UsageLimits[tier.String()]
	monthYear := usagedomain.MonthYear(s.clock.Now())

	totals, err := s.repo.SumMonthly(ctx, userID, monthYear)
	if err != nil {
		s.log.Warn("monthly usage read failed",
			zap.String("user_id", userID),
			zap.String("policy", string(s.costReadFailure)),
			zap.Error(err),
		)
		s.metrics.RecordLedgerReadError(ctx, "cost", string(s.costReadFailure))
		if s.costReadFailure == config.FailClosed {
			return usagedomain.MonthlyUsage{}, fmt.Errorf("%w: %v", usagedomain.ErrLedgerUnavailable, err)
		}
		totals = usagedomain.MonthlyTotals{}
	}

	return buildMonthlyUsage(totals, limit, tier, monthYear), nil
}

func buildMonthlyUsage(totals usagedomain.MonthlyTotals, limit float64, tier subscriptiondomain.Tier, monthYear string) usagedomain.MonthlyUsage {
	usage := usagedomain.MonthlyUsage{
		TotalCost:   totals.TotalCost,
		TotalTokens: totals.TotalTokens,
		Limit:       limit,
		Remaining:   math.Max(0, limit-totals.TotalCost),
		Tier:        tier.String(),
		MonthYear:   monthYear,
	}
	if limit > 0 {
		usage.PercentageUsed = math.Min(100, 100*totals.TotalCost/limit)
	}
	return usage
}

// CanMakeRequest pre-authorizes a call from its estimated tokens. It allows a
// projected total equal to the cap and denies anything above it.
func (s *Service) CanMakeRequest(ctx context.Context, userID string, estimatedInputTokens, estimatedOutputTokens int64) (usagedomain.Decision, error) {
	if estimatedInputTokens < 0 || estimatedOutputTokens < 0 {
		return usagedomain.Decision{}, usagedomain.ErrInvalidTokens
	}

	usage, err := s.GetMonthlyUsage(ctx, userID)
	if err != nil {
		if errors.Is(err, usagedomain.ErrLedgerUnavailable) {
			return usagedomain.Decision{
				Allowed: false,
				Reason:  "usage ledger is temporarily unavailable",
			}, nil
		}
		return usagedomain.Decision{}, err
	}

	estimated := usagedomain.Cost(estimatedInputTokens, estimatedOutputTokens, s.limits.Get().CostPer1KTokens)
	decision := usagedomain.Decision{
		Allowed:       true,
		EstimatedCost: estimated,
		Usage:         usage,
	}
	if usage.TotalCost+estimated > usage.Limit+costTolerance {
		decision.Allowed = false
		decision.Reason = fmt.Sprintf(
			"monthly usage limit of $%.2f for the %s tier would be exceeded: $%.4f used, this request is estimated at $%.4f",
			usage.Limit, usage.Tier, usage.TotalCost, estimated,
		)
		s.metrics.RecordQuotaDenied(ctx, usage.Tier)
	}
	return decision, nil
}

// CanUseFeature checks a counted feature against the current period. Tiers
// with an unlimited quota never touch the store.
func (s *Service) CanUseFeature(ctx context.Context, userID, feature string) (usagedomain.FeatureDecision, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return usagedomain.FeatureDecision{}, usagedomain.ErrInvalidUser
	}
	feature = strings.TrimSpace(feature)
	rule, ok := s.limits.Get().FeatureLimits[feature]
	if !ok {
		return usagedomain.FeatureDecision{}, usagedomain.ErrUnknownFeature
	}

	tier := s.tiers.GetUserTier(ctx, userID)
	limit := int64(rule.Limits[tier.String()])
	decision := usagedomain.FeatureDecision{
		Feature: feature,
		Period:  rule.Period,
		Limit:   limit,
	}
	if limit == config.Unlimited {
		decision.Allowed = true
		decision.Remaining = config.Unlimited
		return decision, nil
	}

	key := usagedomain.PeriodKey(rule.Period, s.clock.Now())
	count, err := s.repo.CountFeature(ctx, userID, feature, rule.Period, key)
	if err != nil {
		s.log.Warn("feature usage read failed",
			zap.String("user_id", userID),
			zap.String("feature", feature),
			zap.String("policy", string(s.featureReadFailure)),
			zap.Error(err),
		)
		s.metrics.RecordLedgerReadError(ctx, "feature", string(s.featureReadFailure))
		if s.featureReadFailure == config.FailOpen {
			decision.Allowed = true
			decision.Remaining = limit
			return decision, nil
		}
		decision.Allowed = false
		decision.Remaining = 0
		return decision, nil
	}

	decision.Allowed = count < limit
	decision.Remaining = max(0, limit-count)
	if !decision.Allowed {
		s.metrics.RecordFeatureDenied(ctx, tier.String(), feature)
	}
	return decision, nil
}

// RecordFeatureUsage appends one invocation tagged with both period keys.
// It must follow an allowed CanUseFeature for the same invocation.
func (s *Service) RecordFeatureUsage(ctx context.Context, userID, feature string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return usagedomain.ErrInvalidUser
	}
	feature = strings.TrimSpace(feature)
	if _, ok := s.limits.Get().FeatureLimits[feature]; !ok {
		return usagedomain.ErrUnknownFeature
	}

	now := s.clock.Now()
	record := &usagedomain.FeatureUsageRecord{
		ID:        s.genID.Generate(),
		UserID:    userID,
		Feature:   feature,
		MonthYear: usagedomain.MonthYear(now),
		DayDate:   usagedomain.DayDate(now),
		CreatedAt: now,
	}
	if err := s.repo.InsertFeatureUsage(ctx, record); err != nil {
		return fmt.Errorf("insert feature usage: %w", err)
	}
	return nil
}
