package seed

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	intentrepo "github.com/smallbiznis/storefront/internal/orderintent/repository"
	"github.com/smallbiznis/storefront/internal/testsupport/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDemoCatalogIsRepeatable(t *testing.T) {
	db := dbtest.Open(t)
	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, EnsureDemoCatalog(ctx, db, node, now))
	require.NoError(t, EnsureDemoCatalog(ctx, db, node, now.Add(time.Hour)))

	var products int64
	require.NoError(t, db.Raw(`SELECT COUNT(1) FROM products`).Scan(&products).Error)
	assert.Equal(t, int64(len(demoCatalog)), products)

	snapshot, err := intentrepo.Provide().FindByReference(ctx, db, DemoIntentReference)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	require.Len(t, snapshot.Items, 2)
	assert.Equal(t, "2199.00", snapshot.GrandTotal().StringFixed(2))
	assert.True(t, snapshot.Subtotal.Equal(snapshot.ItemsSubtotal()))
}

func TestEnsureDemoCatalogRequiresHandles(t *testing.T) {
	assert.Error(t, EnsureDemoCatalog(context.Background(), nil, nil, time.Now()))
}
