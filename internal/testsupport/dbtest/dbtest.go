// Package dbtest opens throwaway sqlite databases carrying the storefront schema.
package dbtest

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq atomic.Int64

// Schema mirrors the postgres migrations using sqlite column types.
var Schema = []string{
	`CREATE TABLE products (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		sku TEXT NOT NULL UNIQUE,
		stock_quantity INTEGER NOT NULL DEFAULT 0,
		track_stock BOOLEAN NOT NULL DEFAULT TRUE,
		low_stock_threshold INTEGER NOT NULL DEFAULT 5,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE inventory_adjustments (
		id BIGINT PRIMARY KEY,
		product_id BIGINT NOT NULL,
		delta_quantity INTEGER NOT NULL,
		reason TEXT NOT NULL,
		resulting_quantity INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE order_intents (
		reference TEXT PRIMARY KEY,
		buyer_ref TEXT NOT NULL,
		buyer_email TEXT NOT NULL DEFAULT '',
		subtotal TEXT NOT NULL,
		tax TEXT NOT NULL,
		shipping TEXT NOT NULL,
		currency TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE order_intent_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reference TEXT NOT NULL,
		product_id BIGINT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL
	)`,
	`CREATE TABLE orders (
		id BIGINT PRIMARY KEY,
		buyer_ref TEXT NOT NULL,
		buyer_email TEXT NOT NULL DEFAULT '',
		order_reference TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		tax TEXT NOT NULL,
		shipping TEXT NOT NULL,
		grand_total TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_gateway TEXT NOT NULL,
		payment_transaction_id TEXT NOT NULL,
		payment_payload TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_orders_payment_transaction_id ON orders(payment_transaction_id)`,
	`CREATE TABLE order_items (
		id BIGINT PRIMARY KEY,
		order_id BIGINT NOT NULL,
		product_id BIGINT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price_at_purchase TEXT NOT NULL
	)`,
	`CREATE TABLE payment_idempotency (
		transaction_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		order_id BIGINT,
		lease_token TEXT,
		attempts INTEGER NOT NULL DEFAULT 1,
		first_seen_at DATETIME NOT NULL,
		leased_at DATETIME,
		failed_at DATETIME,
		completed_at DATETIME,
		last_error TEXT
	)`,
}

// Open returns an in-memory database limited to one connection so
// concurrent tests serialize instead of failing with SQLITE_BUSY.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:storefront_%d?mode=memory&cache=shared", seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range Schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}

// SeedProduct inserts a product row with a generated name and sku.
func SeedProduct(db *gorm.DB, id int64, stock int, track bool, threshold int, now time.Time) error {
	return db.Exec(
		`INSERT INTO products (id, name, sku, stock_quantity, track_stock, low_stock_threshold, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id,
		fmt.Sprintf("Product %d", id),
		fmt.Sprintf("SKU-%d", id),
		stock,
		track,
		threshold,
		now,
	).Error
}
