package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"gorm.io/gorm"
)

// Service is the only writer of products.stock_quantity.
type Service interface {
	Adjust(ctx context.Context, productID snowflake.ID, delta int, reason string) (*Adjustment, error)
	BulkAdjust(ctx context.Context, items []BulkItem, reason string) (BulkResult, error)
	Summary(ctx context.Context) (Summary, error)
	ListAdjustments(ctx context.Context, req ListAdjustmentsRequest) (ListAdjustmentsResponse, error)
}

type ListAdjustmentsRequest struct {
	ProductID snowflake.ID
	pagination.Pagination
}

type ListAdjustmentsResponse struct {
	Adjustments []Adjustment `json:"adjustments"`
	pagination.PageInfo
}

type Repository interface {
	ApplyDelta(ctx context.Context, db *gorm.DB, productID snowflake.ID, delta int, now time.Time) (bool, error)
	FindProduct(ctx context.Context, db *gorm.DB, productID snowflake.ID) (*Product, error)
	InsertAdjustment(ctx context.Context, db *gorm.DB, adj *Adjustment) error
	ListAdjustments(ctx context.Context, db *gorm.DB, productID snowflake.ID, page pagination.Pagination) ([]*Adjustment, error)
	LowStock(ctx context.Context, db *gorm.DB) ([]StockLevel, error)
	OutOfStock(ctx context.Context, db *gorm.DB) ([]StockLevel, error)
	Turnover(ctx context.Context, db *gorm.DB, since time.Time) ([]TurnoverEntry, error)
}
