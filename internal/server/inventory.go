package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storefront/internal/cache"
	inventorydomain "github.com/smallbiznis/storefront/internal/inventory/domain"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"go.uber.org/zap"
)

const (
	summaryCacheKey = "inventory:summary"
	summaryCacheTTL = 30 * time.Second
)

type adjustInventoryRequest struct {
	ProductID snowflake.ID `json:"product_id"`
	Delta     int          `json:"delta"`
	Reason    string       `json:"reason"`
}

type bulkAdjustInventoryRequest struct {
	Items  []inventorydomain.BulkItem `json:"items"`
	Reason string                     `json:"reason"`
}

func (s *Server) InventorySummary(c *gin.Context) {
	ctx := c.Request.Context()

	if cached, ok, err := s.cache.Get(ctx, summaryCacheKey); err != nil {
		logger.FromContext(ctx).Warn("inventory summary cache read failed", zap.Error(err))
	} else if ok {
		c.JSON(http.StatusOK, gin.H{"data": json.RawMessage(cached)})
		return
	}

	summary, err := s.inventorySvc.Summary(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if encoded, err := json.Marshal(summary); err == nil {
		if err := s.cache.Set(ctx, summaryCacheKey, encoded, summaryCacheTTL, cache.TagInventorySummary); err != nil {
			logger.FromContext(ctx).Warn("inventory summary cache write failed", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) AdjustInventory(c *gin.Context) {
	var req adjustInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.inventorySvc.Adjust(c.Request.Context(), req.ProductID, req.Delta, s.adminReason(c, req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.invalidateInventory(c, req.ProductID)
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) BulkAdjustInventory(c *gin.Context) {
	var req bulkAdjustInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.inventorySvc.BulkAdjust(c.Request.Context(), req.Items, s.adminReason(c, req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ids := make([]snowflake.ID, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.ProductID)
	}
	s.invalidateInventory(c, ids...)
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListInventoryAdjustments(c *gin.Context) {
	productID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.inventorySvc.ListAdjustments(c.Request.Context(), inventorydomain.ListAdjustmentsRequest{
		ProductID:  productID,
		Pagination: page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// adminReason stamps the acting admin onto a free-text reason so the ledger
// shows who moved stock.
func (s *Server) adminReason(c *gin.Context, reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ""
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return reason
	}
	return "admin:" + actor.ID + ":" + reason
}

func (s *Server) invalidateInventory(c *gin.Context, productIDs ...snowflake.ID) {
	tags := make([]string, 0, len(productIDs)+1)
	tags = append(tags, cache.TagInventorySummary)
	for _, id := range productIDs {
		tags = append(tags, cache.ProductTag(id.String()))
	}
	if _, err := s.cache.Invalidate(c.Request.Context(), tags...); err != nil {
		logger.FromContext(c.Request.Context()).Warn("inventory cache invalidation failed", zap.Error(err))
	}
}
