// Package domain contains the append-only usage ledgers.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageRecord stores the tokens and USD cost of one completed AI call.
type UsageRecord struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	UserID       string            `gorm:"type:varchar(191);not null;index:idx_usage_records_user_month,priority:1"`
	Service      string            `gorm:"type:varchar(64);not null"`
	InputTokens  int64             `gorm:"not null"`
	OutputTokens int64             `gorm:"not null"`
	TokensUsed   int64             `gorm:"not null"`
	CostUSD      float64           `gorm:"column:cost_usd;not null"`
	MonthYear    string            `gorm:"type:varchar(7);not null;index:idx_usage_records_user_month,priority:2"`
	Metadata     datatypes.JSONMap `json:"metadata"`
	CreatedAt    time.Time         `gorm:"not null"`
}

func (UsageRecord) TableName() string { return "usage_records" }

// FeatureUsageRecord stores one allowed invocation of a counted feature. Both
// period keys are kept so monthly and daily features share the row shape.
type FeatureUsageRecord struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	UserID    string       `gorm:"type:varchar(191);not null;index:idx_feature_usage_month,priority:1;index:idx_feature_usage_day,priority:1"`
	Feature   string       `gorm:"type:varchar(64);not null;index:idx_feature_usage_month,priority:2;index:idx_feature_usage_day,priority:2"`
	MonthYear string       `gorm:"type:varchar(7);not null;index:idx_feature_usage_month,priority:3"`
	DayDate   string       `gorm:"type:varchar(10);not null;index:idx_feature_usage_day,priority:3"`
	CreatedAt time.Time    `gorm:"not null"`
}

func (FeatureUsageRecord) TableName() string { return "feature_usage" }

// MonthlyTotals is the raw aggregate of one user's month.
type MonthlyTotals struct {
	TotalCost   float64
	TotalTokens int64
}
