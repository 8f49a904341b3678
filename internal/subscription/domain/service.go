package domain

import (
	"context"
	"errors"
)

// TierResolver maps a user to the tier that governs their limits.
type TierResolver interface {
	// GetUserTier never fails; lookup problems resolve to TierFree.
	GetUserTier(ctx context.Context, userID string) Tier
}

var ErrInvalidUser = errors.New("invalid_user")
