package ratelimit

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		headers map[string]string
		want    string
	}{
		{"user id wins", "user-1", map[string]string{"X-Forwarded-For": "1.1.1.1"}, "user-1"},
		{"forwarded first hop", "", map[string]string{"X-Forwarded-For": " 1.1.1.1 , 2.2.2.2"}, "1.1.1.1"},
		{"anonymous uses headers", "anonymous", map[string]string{"X-Real-IP": "3.3.3.3"}, "3.3.3.3"},
		{"forwarded before real ip", "", map[string]string{"X-Real-IP": "3.3.3.3", "X-Forwarded-For": "1.1.1.1"}, "1.1.1.1"},
		{"cloudflare last", "", map[string]string{"CF-Connecting-IP": "4.4.4.4"}, "4.4.4.4"},
		{"real ip before cloudflare", "", map[string]string{"CF-Connecting-IP": "4.4.4.4", "X-Real-IP": "3.3.3.3"}, "3.3.3.3"},
		{"nothing", "", nil, "unknown-ip"},
		{"blank headers", "  ", map[string]string{"X-Forwarded-For": " "}, "unknown-ip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			for k, v := range tt.headers {
				headers.Set(k, v)
			}
			assert.Equal(t, tt.want, ResolveIdentifier(tt.userID, headers))
		})
	}
}
