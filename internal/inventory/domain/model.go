package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	ReasonPrefixOrder        = "order:"
	ReasonPrefixCompensation = "compensation:order:"
)

// OrderReason tags stock taken for a paid order.
func OrderReason(transactionID string) string {
	return ReasonPrefixOrder + transactionID
}

// CompensationReason tags stock returned after a failed materialization.
func CompensationReason(transactionID string) string {
	return ReasonPrefixCompensation + transactionID
}

// ReasonKind is the bounded label for a reason: order, compensation or manual.
func ReasonKind(reason string) string {
	switch {
	case strings.HasPrefix(reason, ReasonPrefixCompensation):
		return "compensation"
	case strings.HasPrefix(reason, ReasonPrefixOrder):
		return "order"
	default:
		return "manual"
	}
}

type Product struct {
	ID                snowflake.ID `json:"id" gorm:"column:id;primaryKey"`
	Name              string       `json:"name" gorm:"column:name"`
	SKU               string       `json:"sku" gorm:"column:sku"`
	StockQuantity     int          `json:"stock_quantity" gorm:"column:stock_quantity"`
	TrackStock        bool         `json:"track_stock" gorm:"column:track_stock"`
	LowStockThreshold int          `json:"low_stock_threshold" gorm:"column:low_stock_threshold"`
	UpdatedAt         time.Time    `json:"updated_at" gorm:"column:updated_at"`
}

func (Product) TableName() string { return "products" }

// Adjustment is one append-only ledger row.
type Adjustment struct {
	ID                snowflake.ID `json:"id" gorm:"column:id;primaryKey"`
	ProductID         snowflake.ID `json:"product_id" gorm:"column:product_id"`
	DeltaQuantity     int          `json:"delta_quantity" gorm:"column:delta_quantity"`
	Reason            string       `json:"reason" gorm:"column:reason"`
	ResultingQuantity int          `json:"resulting_quantity" gorm:"column:resulting_quantity"`
	CreatedAt         time.Time    `json:"created_at" gorm:"column:created_at"`

	// LowStock is set when a tracked product ends at or below its threshold.
	LowStock bool `json:"low_stock" gorm:"-"`
	// CrossedLowStock is set only by the adjustment that took the product
	// from above its threshold to at or below it.
	CrossedLowStock bool `json:"crossed_low_stock" gorm:"-"`
}

func (Adjustment) TableName() string { return "inventory_adjustments" }

type BulkItem struct {
	ProductID snowflake.ID `json:"product_id"`
	Delta     int          `json:"delta"`
}

type ItemFailure struct {
	ProductID snowflake.ID `json:"product_id"`
	Code      string       `json:"code"`
	Err       error        `json:"-"`
}

type BulkResult struct {
	UpdatedCount int           `json:"updated_count"`
	Failures     []ItemFailure `json:"failures"`
}

type StockLevel struct {
	ProductID         snowflake.ID `json:"product_id" gorm:"column:id"`
	Name              string       `json:"name" gorm:"column:name"`
	SKU               string       `json:"sku" gorm:"column:sku"`
	Quantity          int          `json:"quantity" gorm:"column:stock_quantity"`
	LowStockThreshold int          `json:"low_stock_threshold" gorm:"column:low_stock_threshold"`
}

type TurnoverEntry struct {
	ProductID snowflake.ID `json:"product_id" gorm:"column:product_id"`
	Name      string       `json:"name" gorm:"column:name"`
	UnitsSold int          `json:"units_sold" gorm:"column:units_sold"`
}

type Summary struct {
	LowStock    []StockLevel    `json:"low_stock"`
	OutOfStock  []StockLevel    `json:"out_of_stock"`
	Turnover    []TurnoverEntry `json:"turnover"`
	WindowStart time.Time       `json:"window_start"`
	GeneratedAt time.Time       `json:"generated_at"`
}
