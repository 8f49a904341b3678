package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/quotaguard/internal/config"
	"github.com/smallbiznis/quotaguard/internal/observability/logger"
	"go.uber.org/zap"
)

func (s *Server) GetUsage(c *gin.Context) {
	usage, err := s.usagesvc.GetMonthlyUsage(c.Request.Context(), userID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": usage})
}

func (s *Server) GetFeatureUsage(c *gin.Context) {
	decision, err := s.usagesvc.CanUseFeature(c.Request.Context(), userID(c), c.Param("feature"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": decision})
}

// UseFeature checks and records one invocation of a counted feature. With the
// feature lock enabled, concurrent calls for the same user and feature are
// serialized so both cannot pass the check.
func (s *Server) UseFeature(c *gin.Context) {
	ctx := c.Request.Context()
	user := userID(c)
	feature := strings.TrimSpace(c.Param("feature"))
	log := logger.FromContext(ctx)

	release, acquired, err := s.featureLock.Acquire(ctx, user, feature)
	if err != nil {
		log.Warn("feature lock unavailable, continuing unlocked", zap.String("feature", feature), zap.Error(err))
	} else if !acquired {
		c.Header(HeaderRetryAfter, "1")
		AbortWithError(c, &DeniedError{
			Status:  http.StatusTooManyRequests,
			Type:    "feature_busy",
			Message: fmt.Sprintf("another %s request is in progress", feature),
		})
		return
	} else {
		defer func() {
			if err := release(ctx); err != nil {
				log.Warn("feature lock release failed", zap.String("feature", feature), zap.Error(err))
			}
		}()
	}

	decision, err := s.usagesvc.CanUseFeature(ctx, user, feature)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !decision.Allowed {
		AbortWithError(c, &DeniedError{
			Status:  http.StatusForbidden,
			Type:    "feature_limit_reached",
			Message: fmt.Sprintf("%s limit of %d per %s reached", feature, decision.Limit, decision.Period),
			Details: decision,
		})
		return
	}

	if err := s.usagesvc.RecordFeatureUsage(ctx, user, feature); err != nil {
		AbortWithError(c, err)
		return
	}

	if decision.Remaining != config.Unlimited {
		decision.Remaining--
	}
	c.JSON(http.StatusOK, gin.H{"data": decision})
}

func (s *Server) CheckUpload(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
