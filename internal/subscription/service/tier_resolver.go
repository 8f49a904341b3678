package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/quotaguard/internal/cache"
	subscriptiondomain "github.com/smallbiznis/quotaguard/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type TierResolverParam struct {
	fx.In

	Repo  subscriptiondomain.Repository
	Cache cache.TierCache `optional:"true"`
	Log   *zap.Logger
}

type TierResolver struct {
	repo  subscriptiondomain.Repository
	cache cache.TierCache
	log   *zap.Logger
}

func NewTierResolver(p TierResolverParam) subscriptiondomain.TierResolver {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &TierResolver{
		repo:  p.Repo,
		cache: p.Cache,
		log:   log.Named("subscription.tier"),
	}
}

func (r *TierResolver) GetUserTier(ctx context.Context, userID string) subscriptiondomain.Tier {
	userID = strings.TrimSpace(userID)
	if userID == "" || r.repo == nil {
		return subscriptiondomain.TierFree
	}

	if r.cache != nil {
		if tier, ok := r.cache.GetTier(userID); ok {
			return tier
		}
	}

	sub, err := r.repo.FindActiveByUserID(ctx, userID)
	if err != nil {
		// Errors are not cached so the next request retries the lookup.
		r.log.Warn("subscription lookup failed, using free tier",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return subscriptiondomain.TierFree
	}

	tier := subscriptiondomain.TierFree
	if sub != nil && sub.Status.Entitled() {
		tier = subscriptiondomain.ParseTier(string(sub.Tier))
	}

	if r.cache != nil {
		r.cache.SetTier(userID, tier)
	}
	return tier
}
