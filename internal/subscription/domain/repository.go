package domain

import "context"

type Repository interface {
	// FindActiveByUserID returns the newest active or trialing subscription, or nil.
	FindActiveByUserID(ctx context.Context, userID string) (*Subscription, error)
}
