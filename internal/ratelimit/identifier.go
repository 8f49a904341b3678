package ratelimit

import (
	"net/http"
	"strings"
)

const (
	anonymousUser = "anonymous"
	unknownIP     = "unknown-ip"
)

// forwardedIPHeaders is checked in priority order when no user id is known.
var forwardedIPHeaders = []string{
	"X-Forwarded-For",
	"X-Real-Ip",
	"Cf-Connecting-Ip",
}

// ResolveIdentifier returns userID, or for anonymous callers the client IP
// taken from proxy headers, or "unknown-ip".
func ResolveIdentifier(userID string, headers http.Header) string {
	userID = strings.TrimSpace(userID)
	if userID != "" && userID != anonymousUser {
		return userID
	}
	for _, name := range forwardedIPHeaders {
		value := strings.TrimSpace(headers.Get(name))
		if value == "" {
			continue
		}
		// X-Forwarded-For is a list; the first hop is the client.
		if first, _, found := strings.Cut(value, ","); found {
			value = strings.TrimSpace(first)
		}
		if value != "" {
			return value
		}
	}
	return unknownIP
}
