package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/storefront/internal/authorization"
	"github.com/smallbiznis/storefront/internal/cache"
	inventorydomain "github.com/smallbiznis/storefront/internal/inventory/domain"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAdminRoutesRequireBearer(t *testing.T) {
	ts := newTestServer(t, nil)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		Role: authorization.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    "storefront-admin",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	expiredToken, err := expired.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	wrongKey := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		Role: authorization.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    "storefront-admin",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	wrongKeyToken, err := wrongKey.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"missing":   "",
		"expired":   expiredToken,
		"wrong key": wrongKeyToken,
		"garbage":   "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			rec := ts.do(jsonRequest(t, http.MethodGet, "/admin/inventory/summary", nil, token))
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", decodeError(t, rec).Type)
		})
	}
	ts.inv.AssertNotCalled(t, "Summary", mock.Anything)
}

func TestStaffCannotAdjust(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(jsonRequest(t, http.MethodPost, "/admin/inventory/adjust", map[string]any{
		"product_id": "1001",
		"delta":      5,
		"reason":     "restock",
	}, adminToken(t, "bob", authorization.RoleStaff)))

	require.Equal(t, http.StatusForbidden, rec.Code)
	ts.inv.AssertNotCalled(t, "Adjust", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAdjustInventory(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, ts.store.Set(ctx, "product:1001:detail", []byte(`{}`), time.Minute, cache.ProductTag("1001")))

	ts.inv.On("Adjust", mock.Anything, snowflake.ID(1001), 5, "admin:alice:restock").
		Return(&inventorydomain.Adjustment{ID: snowflake.ID(1), ProductID: snowflake.ID(1001), DeltaQuantity: 5, ResultingQuantity: 9}, nil).Once()

	rec := ts.do(jsonRequest(t, http.MethodPost, "/admin/inventory/adjust", map[string]any{
		"product_id": "1001",
		"delta":      5,
		"reason":     " restock ",
	}, adminToken(t, "alice", authorization.RoleAdmin)))

	require.Equal(t, http.StatusOK, rec.Code)
	ts.inv.AssertExpectations(t)

	var body struct {
		Data inventorydomain.Adjustment `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 9, body.Data.ResultingQuantity)

	_, ok, err := ts.store.Get(ctx, "product:1001:detail")
	require.NoError(t, err)
	assert.False(t, ok, "product cache entry should be invalidated")
}

func TestAdjustInventoryValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.inv.On("Adjust", mock.Anything, snowflake.ID(1001), 0, "admin:alice:oops").
		Return(nil, inventorydomain.ErrInvalidDelta).Once()

	rec := ts.do(jsonRequest(t, http.MethodPost, "/admin/inventory/adjust", map[string]any{
		"product_id": "1001",
		"delta":      0,
		"reason":     "oops",
	}, adminToken(t, "alice", authorization.RoleAdmin)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "delta", payload.Errors[0].Field)
	assert.Equal(t, "invalid_delta", payload.Errors[0].Code)
}

func TestAdjustInventoryInsufficientStock(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.inv.On("Adjust", mock.Anything, snowflake.ID(1001), -50, "admin:alice:shrinkage").
		Return(nil, inventorydomain.ErrInsufficientStock).Once()

	rec := ts.do(jsonRequest(t, http.MethodPost, "/admin/inventory/adjust", map[string]any{
		"product_id": "1001",
		"delta":      -50,
		"reason":     "shrinkage",
	}, adminToken(t, "alice", authorization.RoleAdmin)))

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_stock", decodeError(t, rec).Type)
}

func TestBulkAdjustReportsPartialFailures(t *testing.T) {
	ts := newTestServer(t, nil)
	items := []inventorydomain.BulkItem{
		{ProductID: snowflake.ID(1001), Delta: 3},
		{ProductID: snowflake.ID(9999), Delta: 1},
	}
	ts.inv.On("BulkAdjust", mock.Anything, items, "admin:carol:stocktake").Return(inventorydomain.BulkResult{
		UpdatedCount: 1,
		Failures:     []inventorydomain.ItemFailure{{ProductID: snowflake.ID(9999), Code: "product_not_found"}},
	}, nil).Once()

	rec := ts.do(jsonRequest(t, http.MethodPut, "/admin/inventory/bulk", map[string]any{
		"items": []map[string]any{
			{"product_id": "1001", "delta": 3},
			{"product_id": "9999", "delta": 1},
		},
		"reason": "stocktake",
	}, adminToken(t, "carol", authorization.RoleSystem)))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data inventorydomain.BulkResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Data.UpdatedCount)
	require.Len(t, body.Data.Failures, 1)
	assert.Equal(t, "product_not_found", body.Data.Failures[0].Code)
}

func TestInventorySummaryIsCached(t *testing.T) {
	ts := newTestServer(t, nil)
	summary := inventorydomain.Summary{
		LowStock: []inventorydomain.StockLevel{{ProductID: snowflake.ID(1001), Name: "Mug", Quantity: 1, LowStockThreshold: 2}},
	}
	ts.inv.On("Summary", mock.Anything).Return(summary, nil).Once()
	token := adminToken(t, "bob", authorization.RoleStaff)

	for i := 0; i < 2; i++ {
		rec := ts.do(jsonRequest(t, http.MethodGet, "/admin/inventory/summary", nil, token))
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Data inventorydomain.Summary `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Data.LowStock, 1)
		assert.Equal(t, "Mug", body.Data.LowStock[0].Name)
	}
	ts.inv.AssertExpectations(t)

	n, err := ts.store.Invalidate(context.Background(), cache.TagInventorySummary)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListInventoryAdjustments(t *testing.T) {
	ts := newTestServer(t, nil)
	token := adminToken(t, "bob", authorization.RoleStaff)

	ts.inv.On("ListAdjustments", mock.Anything, inventorydomain.ListAdjustmentsRequest{
		ProductID:  snowflake.ID(1001),
		Pagination: pagination.Pagination{PageSize: 2},
	}).Return(inventorydomain.ListAdjustmentsResponse{
		Adjustments: []inventorydomain.Adjustment{{ID: snowflake.ID(3)}, {ID: snowflake.ID(2)}},
		PageInfo:    pagination.PageInfo{NextPageToken: "next", HasMore: true},
	}, nil).Once()

	rec := ts.do(jsonRequest(t, http.MethodGet, "/admin/inventory/products/1001/adjustments?page_size=2", nil, token))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data inventorydomain.ListAdjustmentsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Data.Adjustments, 2)
	assert.True(t, body.Data.HasMore)
	assert.Equal(t, "next", body.Data.NextPageToken)

	bad := ts.do(jsonRequest(t, http.MethodGet, "/admin/inventory/products/abc/adjustments", nil, token))
	require.Equal(t, http.StatusBadRequest, bad.Code)
	require.Len(t, decodeError(t, bad).Errors, 1)

	ts.inv.On("ListAdjustments", mock.Anything, mock.Anything).
		Return(inventorydomain.ListAdjustmentsResponse{}, pagination.ErrInvalidPageToken).Once()
	badToken := ts.do(jsonRequest(t, http.MethodGet, "/admin/inventory/products/1001/adjustments?page_token=garbage", nil, token))
	require.Equal(t, http.StatusBadRequest, badToken.Code)
}
