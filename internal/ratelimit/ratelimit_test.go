package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLockerExclusive(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker(newTestRedis(t))

	lease, err := locker.Acquire(ctx, "reaper", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "reaper", time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)

	foreign := &Lease{Key: "reaper", Token: "someone-else", client: lease.client}
	require.NoError(t, foreign.Release(ctx))
	_, err = locker.Acquire(ctx, "reaper", time.Minute)
	require.ErrorIs(t, err, ErrLockHeld, "release with a foreign token must not unlock")

	require.NoError(t, lease.Release(ctx))
	_, err = locker.Acquire(ctx, "reaper", time.Minute)
	require.NoError(t, err)
}

func TestLockerNilClient(t *testing.T) {
	var locker *Locker
	_, err := locker.Acquire(context.Background(), "k", time.Second)
	require.ErrorIs(t, err, ErrLockNotConfigured)

	var lease *Lease
	require.NoError(t, lease.Release(context.Background()))
}

func TestTokenBucketRejectsAfterBurst(t *testing.T) {
	ctx := context.Background()
	bucket := NewTokenBucket(newTestRedis(t))
	policy := Policy{Rate: 0.001, Burst: 3}

	for i := 0; i < 3; i++ {
		d, err := bucket.Take(ctx, "bucket", policy)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i)
		require.Equal(t, 2-i, d.Remaining)
	}

	d, err := bucket.Take(ctx, "bucket", policy)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Greater(t, d.RetryAfter, 10*time.Minute)
}

func TestTokenBucketRefills(t *testing.T) {
	ctx := context.Background()
	bucket := NewTokenBucket(newTestRedis(t))
	policy := Policy{Rate: 1000, Burst: 1}

	d, err := bucket.Take(ctx, "fast", policy)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	time.Sleep(5 * time.Millisecond)
	d, err = bucket.Take(ctx, "fast", policy)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestTokenBucketValidatesInput(t *testing.T) {
	bucket := NewTokenBucket(newTestRedis(t))
	_, err := bucket.Take(context.Background(), "", Policy{Rate: 1, Burst: 1})
	require.Error(t, err)
	_, err = bucket.Take(context.Background(), "k", Policy{Rate: 0, Burst: 1})
	require.Error(t, err)
	_, err = bucket.Take(context.Background(), "k", Policy{Rate: 1, Burst: 0})
	require.Error(t, err)
}

func TestWebhookLimiterKeysByGatewayAndClient(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{Webhook: config.WebhookLimitConfig{RatePerSecond: 0.001, Burst: 1}}
	limiter := NewWebhookLimiter(newTestRedis(t), cfg, zap.NewNop())

	_, err := limiter.Allow(ctx, "khalti", "10.0.0.1")
	require.NoError(t, err)

	_, err = limiter.Allow(ctx, "khalti", "10.0.0.1")
	require.ErrorIs(t, err, ErrRateLimited)

	_, err = limiter.Allow(ctx, "esewa", "10.0.0.1")
	require.NoError(t, err)
	_, err = limiter.Allow(ctx, "khalti", "10.0.0.2")
	require.NoError(t, err)
}

func TestWebhookLimiterWithoutRedisAllows(t *testing.T) {
	cfg := config.Config{Webhook: config.WebhookLimitConfig{RatePerSecond: 1, Burst: 1}}
	limiter := NewWebhookLimiter(nil, cfg, zap.NewNop())
	for i := 0; i < 5; i++ {
		_, err := limiter.Allow(context.Background(), "card", "1.1.1.1")
		require.NoError(t, err)
	}
}
