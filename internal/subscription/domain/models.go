// Package domain contains the subscription model used to resolve a user's tier.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Tier is the subscription level that selects every limit table.
type Tier string

const (
	TierFree Tier = "free"
	TierPlus Tier = "plus"
	TierMax  Tier = "max"
)

// ParseTier normalizes raw input; unknown values fall back to free.
func ParseTier(raw string) Tier {
	tier := Tier(strings.ToLower(strings.TrimSpace(raw)))
	if !tier.Valid() {
		return TierFree
	}
	return tier
}

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPlus, TierMax:
		return true
	default:
		return false
	}
}

func (t Tier) String() string { return string(t) }

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Entitled reports whether the status grants the subscription's tier.
func (s SubscriptionStatus) Entitled() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// Subscription is a user's plan as written by the billing side; read-only here.
type Subscription struct {
	ID               snowflake.ID       `gorm:"primaryKey"`
	UserID           string             `gorm:"type:varchar(191);not null;index"`
	Tier             Tier               `gorm:"type:varchar(16);not null"`
	Status           SubscriptionStatus `gorm:"type:varchar(32);not null"`
	CurrentPeriodEnd *time.Time         `gorm:""`
	CreatedAt        time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }
