package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), " req-1 ")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithTier(ctx, "plus")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "user-1", UserIDFromContext(ctx))
	assert.Equal(t, "plus", TierFromContext(ctx))
	assert.Empty(t, UserIDFromContext(context.Background()))
}
