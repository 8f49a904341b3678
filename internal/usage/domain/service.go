package domain

import (
	"context"
	"errors"
)

// MonthlyUsage is the derived cost view of a user's current month.
type MonthlyUsage struct {
	TotalCost      float64 `json:"total_cost"`
	TotalTokens    int64   `json:"total_tokens"`
	Limit          float64 `json:"limit"`
	Remaining      float64 `json:"remaining"`
	PercentageUsed float64 `json:"percentage_used"`
	Tier           string  `json:"tier"`
	MonthYear      string  `json:"month_year"`
}

// Decision is the outcome of a cost pre-authorization. Denials are values.
type Decision struct {
	Allowed       bool         `json:"allowed"`
	Reason        string       `json:"reason,omitempty"`
	EstimatedCost float64      `json:"estimated_cost"`
	Usage         MonthlyUsage `json:"usage"`
}

// FeatureDecision reports a feature quota check. Limit and Remaining are -1
// for unlimited tiers.
type FeatureDecision struct {
	Allowed   bool   `json:"allowed"`
	Remaining int64  `json:"remaining"`
	Limit     int64  `json:"limit"`
	Period    string `json:"period"`
	Feature   string `json:"feature"`
}

type Service interface {
	RecordUsage(ctx context.Context, userID, service string, inputTokens, outputTokens int64) error
	GetMonthlyUsage(ctx context.Context, userID string) (MonthlyUsage, error)
	CanMakeRequest(ctx context.Context, userID string, estimatedInputTokens, estimatedOutputTokens int64) (Decision, error)
	EstimatedOutputTokens() int64

	CanUseFeature(ctx context.Context, userID, feature string) (FeatureDecision, error)
	RecordFeatureUsage(ctx context.Context, userID, feature string) error
}

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidService      = errors.New("invalid_service")
	ErrInvalidTokens       = errors.New("invalid_tokens")
	ErrUnknownFeature      = errors.New("unknown_feature")
	ErrLedgerUnavailable   = errors.New("ledger_unavailable")
	ErrUsageLimitExceeded  = errors.New("usage_limit_exceeded")
	ErrFeatureLimitReached = errors.New("feature_limit_reached")
)
