package domain

import "context"

type Repository interface {
	InsertUsage(ctx context.Context, record *UsageRecord) error
	SumMonthly(ctx context.Context, userID, monthYear string) (MonthlyTotals, error)

	InsertFeatureUsage(ctx context.Context, record *FeatureUsageRecord) error
	// CountFeature counts rows of feature whose period column equals key.
	CountFeature(ctx context.Context, userID, feature, period, key string) (int64, error)
}
