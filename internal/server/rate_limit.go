package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/quotaguard/internal/observability/context"
	"github.com/smallbiznis/quotaguard/internal/observability/logger"
	"github.com/smallbiznis/quotaguard/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimit counts the request against the caller's fixed window for feature
// and rejects it with 429 once the window is spent.
func (s *Server) RateLimit(feature ratelimit.Feature) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("feature", string(feature))
		if s.limiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		result := s.limiter.RateLimitAPIRequest(ctx, userID(c), feature, c.Request.Header)

		c.Set("tier", result.Tier.String())
		c.Request = c.Request.WithContext(obscontext.WithTier(ctx, result.Tier.String()))

		c.Header(HeaderRateLimitLimit, strconv.Itoa(result.Limit))
		c.Header(HeaderRateLimitRemaining, strconv.Itoa(result.Remaining))
		c.Header(HeaderRateLimitReset, strconv.FormatInt(result.ResetTime, 10))

		if !result.Success {
			retryAfter := result.RetryAfter(s.clock.Now())
			logger.FromContext(c.Request.Context()).Info("rate limit exceeded",
				zap.String("feature", string(feature)),
				zap.Int64("retry_after_s", retryAfter),
			)
			c.Header(HeaderRetryAfter, strconv.FormatInt(retryAfter, 10))
			AbortWithError(c, &DeniedError{
				Status:  http.StatusTooManyRequests,
				Type:    "rate_limit_exceeded",
				Message: fmt.Sprintf("rate limit of %d requests for %s reached, retry in %ds", result.Limit, feature, retryAfter),
				Details: gin.H{
					"limit":      result.Limit,
					"remaining":  result.Remaining,
					"reset_time": result.ResetTime,
					"tier":       result.Tier,
				},
			})
			return
		}
		c.Next()
	}
}
