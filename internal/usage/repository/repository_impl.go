package repository

import (
	"context"

	"github.com/smallbiznis/quotaguard/internal/config"
	usagedomain "github.com/smallbiznis/quotaguard/internal/usage/domain"
	"github.com/smallbiznis/quotaguard/pkg/repository"
	"gorm.io/gorm"
)

type repo struct {
	db       *gorm.DB
	usage    repository.Repository[usagedomain.UsageRecord]
	features repository.Repository[usagedomain.FeatureUsageRecord]
}

func Provide(db *gorm.DB) usagedomain.Repository {
	return &repo{
		db:       db,
		usage:    repository.ProvideStore[usagedomain.UsageRecord](db),
		features: repository.ProvideStore[usagedomain.FeatureUsageRecord](db),
	}
}

func (r *repo) InsertUsage(ctx context.Context, record *usagedomain.UsageRecord) error {
	return r.usage.Create(ctx, record)
}

func (r *repo) SumMonthly(ctx context.Context, userID, monthYear string) (usagedomain.MonthlyTotals, error) {
	var totals usagedomain.MonthlyTotals
	err := r.db.WithContext(ctx).
		Model(&usagedomain.UsageRecord{}).
		Select("COALESCE(SUM(cost_usd), 0) AS total_cost, COALESCE(SUM(tokens_used), 0) AS total_tokens").
		Where("user_id = ? AND month_year = ?", userID, monthYear).
		Scan(&totals).Error
	return totals, err
}

func (r *repo) InsertFeatureUsage(ctx context.Context, record *usagedomain.FeatureUsageRecord) error {
	return r.features.Create(ctx, record)
}

func (r *repo) CountFeature(ctx context.Context, userID, feature, period, key string) (int64, error) {
	query := &usagedomain.FeatureUsageRecord{UserID: userID, Feature: feature}
	if period == config.PeriodDay {
		query.DayDate = key
	} else {
		query.MonthYear = key
	}
	return r.features.Count(ctx, query)
}
