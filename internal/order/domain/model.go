package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	inventorydomain "github.com/smallbiznis/storefront/internal/inventory/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
)

type Order struct {
	ID                   snowflake.ID      `json:"id" gorm:"column:id;primaryKey"`
	BuyerRef             string            `json:"buyer_ref" gorm:"column:buyer_ref"`
	BuyerEmail           string            `json:"-" gorm:"column:buyer_email"`
	OrderReference       string            `json:"order_reference" gorm:"column:order_reference"`
	Subtotal             decimal.Decimal   `json:"subtotal" gorm:"column:subtotal"`
	Tax                  decimal.Decimal   `json:"tax" gorm:"column:tax"`
	Shipping             decimal.Decimal   `json:"shipping" gorm:"column:shipping"`
	GrandTotal           decimal.Decimal   `json:"grand_total" gorm:"column:grand_total"`
	Currency             string            `json:"currency" gorm:"column:currency"`
	Status               Status            `json:"status" gorm:"column:status"`
	PaymentGateway       string            `json:"payment_gateway" gorm:"column:payment_gateway"`
	PaymentTransactionID string            `json:"payment_transaction_id" gorm:"column:payment_transaction_id"`
	PaymentPayload       datatypes.JSONMap `json:"-" gorm:"column:payment_payload"`
	CreatedAt            time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt            time.Time         `json:"updated_at" gorm:"column:updated_at"`
	Items                []OrderItem       `json:"items" gorm:"-"`
}

func (Order) TableName() string { return "orders" }

type OrderItem struct {
	ID                  snowflake.ID    `json:"id" gorm:"column:id;primaryKey"`
	OrderID             snowflake.ID    `json:"order_id" gorm:"column:order_id"`
	ProductID           snowflake.ID    `json:"product_id" gorm:"column:product_id"`
	Quantity            int             `json:"quantity" gorm:"column:quantity"`
	UnitPriceAtPurchase decimal.Decimal `json:"unit_price_at_purchase" gorm:"column:unit_price_at_purchase"`
}

func (OrderItem) TableName() string { return "order_items" }

// Materialized is handed to listeners after the lease is completed.
// Adjustments carry post-decrement stock for low-stock checks.
type Materialized struct {
	Order       Order
	Adjustments []inventorydomain.Adjustment
}

type Listener interface {
	OnOrderMaterialized(ctx context.Context, event Materialized)
}

type Materializer interface {
	Materialize(ctx context.Context, event paymentdomain.PaymentEvent) (*Order, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*Order, error)
}
