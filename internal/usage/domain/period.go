package domain

import (
	"math"
	"time"

	"github.com/smallbiznis/quotaguard/internal/config"
)

// MonthYear is the YYYY-MM partition key of t in UTC.
func MonthYear(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// DayDate is the YYYY-MM-DD partition key of t in UTC.
func DayDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// PeriodKey returns the partition key of t for a feature period.
func PeriodKey(period string, t time.Time) string {
	if period == config.PeriodDay {
		return DayDate(t)
	}
	return MonthYear(t)
}

// Cost prices a call from per-1K-token rates.
func Cost(inputTokens, outputTokens int64, rates config.TokenCost) float64 {
	return float64(inputTokens)/1000*rates.Input + float64(outputTokens)/1000*rates.Output
}

// EstimateInputTokens approximates a prompt at four characters per token.
func EstimateInputTokens(text string) int64 {
	if text == "" {
		return 0
	}
	return int64(math.Ceil(float64(len(text)) / 4))
}
