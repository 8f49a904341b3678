package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obslogger "github.com/smallbiznis/quotaguard/internal/observability/logger"
)

const contextUserIDKey = "user_id"

// userID reads the identity forwarded by the upstream auth layer. Empty means
// anonymous.
func userID(c *gin.Context) string {
	if value := strings.TrimSpace(c.GetString(contextUserIDKey)); value != "" {
		return value
	}
	return strings.TrimSpace(c.GetHeader(obslogger.HeaderUserID))
}

// UserRequired rejects anonymous callers with 401.
func UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := userID(c)
		if id == "" || id == "anonymous" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Set(contextUserIDKey, id)
		c.Next()
	}
}
