package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisStore(t *testing.T) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, clock.NewSystemClock(), zap.NewNop()), mr
}

func TestStoreInvalidateByTag(t *testing.T) {
	redisStore, _ := newRedisStore(t)
	stores := map[string]Store{
		"redis":  redisStore,
		"memory": NewStore(nil, clock.NewSystemClock(), zap.NewNop()),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Set(ctx, "product-view:1", []byte("p1"), time.Minute, ProductTag("1")))
			require.NoError(t, store.Set(ctx, "product-view:2", []byte("p2"), time.Minute, ProductTag("2")))
			require.NoError(t, store.Set(ctx, "orders:page:1", []byte("list"), time.Minute, TagOrdersList, BuyerOrdersTag("b1")))

			removed, err := store.Invalidate(ctx, ProductTag("1"), TagOrdersList)
			require.NoError(t, err)
			assert.Equal(t, 2, removed)

			_, ok, err := store.Get(ctx, "product-view:1")
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = store.Get(ctx, "orders:page:1")
			require.NoError(t, err)
			assert.False(t, ok)

			data, ok, err := store.Get(ctx, "product-view:2")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "p2", string(data))

			removed, err = store.Invalidate(ctx, "unknown")
			require.NoError(t, err)
			assert.Zero(t, removed)
		})
	}
}

func TestStoreRejectsEmptyKey(t *testing.T) {
	store := NewMemoryStore(nil)
	require.ErrorIs(t, store.Set(context.Background(), " ", nil, time.Minute), ErrEmptyKey)
	_, _, err := store.Get(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptyKey)
}

func TestRedisStoreExpiresValues(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "summary", []byte("{}"), time.Second, TagInventorySummary))

	mr.FastForward(2 * time.Second)

	_, ok, err := store.Get(ctx, "summary")
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := store.Invalidate(ctx, TagInventorySummary)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestTTLCacheExpiry(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewTTLCache[string, int](clk)

	c.Set("a", 1, time.Minute)
	c.Set("ignored", 2, 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = c.Get("ignored")
	assert.False(t, ok)

	clk.Advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	store := NewMemoryStore(nil)
	value := []byte("abc")
	require.NoError(t, store.Set(context.Background(), "k", value, time.Minute))
	value[0] = 'x'

	got, ok, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", string(got))
}
