package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("order_intent_not_found")

// Snapshot is the cart captured at checkout, keyed by the reference the
// buyer carries to the gateway.
type Snapshot struct {
	Reference  string          `gorm:"column:reference;primaryKey"`
	BuyerRef   string          `gorm:"column:buyer_ref"`
	BuyerEmail string          `gorm:"column:buyer_email"`
	Subtotal   decimal.Decimal `gorm:"column:subtotal"`
	Tax        decimal.Decimal `gorm:"column:tax"`
	Shipping   decimal.Decimal `gorm:"column:shipping"`
	Currency   string          `gorm:"column:currency"`
	CreatedAt  time.Time       `gorm:"column:created_at"`
	Items      []Item          `gorm:"-"`
}

func (Snapshot) TableName() string { return "order_intents" }

type Item struct {
	ProductID snowflake.ID    `gorm:"column:product_id"`
	Quantity  int             `gorm:"column:quantity"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price"`
}

// ItemsSubtotal sums quantity times unit price across items.
func (s Snapshot) ItemsSubtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// GrandTotal is the amount the buyer is expected to pay.
func (s Snapshot) GrandTotal() decimal.Decimal {
	return s.ItemsSubtotal().Add(s.Tax).Add(s.Shipping)
}

// Lookup resolves an order reference to its snapshot.
type Lookup interface {
	FindByReference(ctx context.Context, reference string) (*Snapshot, error)
}

type Repository interface {
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*Snapshot, error)
	Insert(ctx context.Context, db *gorm.DB, snapshot *Snapshot) error
}
