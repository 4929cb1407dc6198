// Package seed loads a small demo catalog for local development.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	intentdomain "github.com/smallbiznis/storefront/internal/orderintent/domain"
	intentrepo "github.com/smallbiznis/storefront/internal/orderintent/repository"
	"gorm.io/gorm"
)

const (
	DemoIntentReference = "DEMO-0001"
	demoBuyerRef        = "demo-buyer"
	demoBuyerEmail      = "buyer@storefront.local"
	demoCurrency        = "NPR"
)

type demoProduct struct {
	SKU       string
	Name      string
	Stock     int
	Track     bool
	Threshold int
	Price     string
}

var demoCatalog = []demoProduct{
	{SKU: "MUG-CLASSIC", Name: "Classic Mug", Stock: 25, Track: true, Threshold: 5, Price: "450.00"},
	{SKU: "TEE-LOGO-M", Name: "Logo Tee (M)", Stock: 3, Track: true, Threshold: 5, Price: "1199.00"},
	{SKU: "GIFT-CARD", Name: "Gift Card", Stock: 0, Track: false, Threshold: 0, Price: "1000.00"},
}

// EnsureDemoCatalog inserts the demo products and one pending order intent
// that references them. Rows that already exist are left untouched.
func EnsureDemoCatalog(ctx context.Context, db *gorm.DB, node *snowflake.Node, now time.Time) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if node == nil {
		return errors.New("seed id generator is required")
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make(map[string]int64, len(demoCatalog))
		for _, p := range demoCatalog {
			id, err := ensureProductTx(tx, node, p, now)
			if err != nil {
				return err
			}
			ids[p.SKU] = id
		}
		return ensureDemoIntentTx(ctx, tx, ids, now)
	})
}

func ensureProductTx(tx *gorm.DB, node *snowflake.Node, p demoProduct, now time.Time) (int64, error) {
	if err := tx.Exec(
		`INSERT INTO products (id, name, sku, stock_quantity, track_stock, low_stock_threshold, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (sku) DO NOTHING`,
		node.Generate().Int64(), p.Name, p.SKU, p.Stock, p.Track, p.Threshold, now,
	).Error; err != nil {
		return 0, err
	}

	var id int64
	if err := tx.Raw(`SELECT id FROM products WHERE sku = ?`, p.SKU).Scan(&id).Error; err != nil {
		return 0, err
	}
	return id, nil
}

func ensureDemoIntentTx(ctx context.Context, tx *gorm.DB, ids map[string]int64, now time.Time) error {
	intents := intentrepo.Provide()
	existing, err := intents.FindByReference(ctx, tx, DemoIntentReference)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	prices := make(map[string]decimal.Decimal, len(demoCatalog))
	for _, p := range demoCatalog {
		prices[p.SKU] = decimal.RequireFromString(p.Price)
	}

	snapshot := &intentdomain.Snapshot{
		Reference:  DemoIntentReference,
		BuyerRef:   demoBuyerRef,
		BuyerEmail: demoBuyerEmail,
		Tax:        decimal.Zero,
		Shipping:   decimal.RequireFromString("100.00"),
		Currency:   demoCurrency,
		CreatedAt:  now,
		Items: []intentdomain.Item{
			{ProductID: snowflake.ID(ids["MUG-CLASSIC"]), Quantity: 2, UnitPrice: prices["MUG-CLASSIC"]},
			{ProductID: snowflake.ID(ids["TEE-LOGO-M"]), Quantity: 1, UnitPrice: prices["TEE-LOGO-M"]},
		},
	}
	snapshot.Subtotal = snapshot.ItemsSubtotal()
	return intents.Insert(ctx, tx, snapshot)
}
