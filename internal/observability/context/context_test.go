package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "  req-1 ")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))

	unchanged := WithRequestID(context.Background(), "   ")
	assert.Empty(t, RequestIDFromContext(unchanged))
}

func TestActorDefaultsToEmpty(t *testing.T) {
	role, subject := ActorFromContext(context.Background())
	assert.Empty(t, role)
	assert.Empty(t, subject)

	ctx := WithActor(context.Background(), "inventory_manager", "ops@example.com")
	role, subject = ActorFromContext(ctx)
	assert.Equal(t, "inventory_manager", role)
	assert.Equal(t, "ops@example.com", subject)
}
