package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/inventory/domain"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// ApplyDelta changes stock in a single conditional statement so concurrent
// decrements can never take a tracked product below zero.
func (r *repo) ApplyDelta(ctx context.Context, db *gorm.DB, productID snowflake.ID, delta int, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE products
		 SET stock_quantity = stock_quantity + ?, updated_at = ?
		 WHERE id = ? AND (track_stock = ? OR stock_quantity + ? >= 0)`,
		delta,
		now,
		productID,
		false,
		delta,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindProduct(ctx context.Context, db *gorm.DB, productID snowflake.ID) (*domain.Product, error) {
	var items []domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, sku, stock_quantity, track_stock, low_stock_threshold, updated_at
		 FROM products
		 WHERE id = ?
		 LIMIT 1`,
		productID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (r *repo) InsertAdjustment(ctx context.Context, db *gorm.DB, adj *domain.Adjustment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO inventory_adjustments (
			id, product_id, delta_quantity, reason, resulting_quantity, created_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		adj.ID,
		adj.ProductID,
		adj.DeltaQuantity,
		adj.Reason,
		adj.ResultingQuantity,
		adj.CreatedAt,
	).Error
}

func (r *repo) ListAdjustments(ctx context.Context, db *gorm.DB, productID snowflake.ID, page pagination.Pagination) ([]*domain.Adjustment, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Adjustment{}).
		Where("product_id = ?", productID)
	stmt, err := pagination.Keyset(stmt, page)
	if err != nil {
		return nil, err
	}

	var items []*domain.Adjustment
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) LowStock(ctx context.Context, db *gorm.DB) ([]domain.StockLevel, error) {
	var items []domain.StockLevel
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, sku, stock_quantity, low_stock_threshold
		 FROM products
		 WHERE track_stock = ? AND stock_quantity > 0 AND stock_quantity <= low_stock_threshold
		 ORDER BY stock_quantity ASC, id ASC`,
		true,
	).Scan(&items).Error
	return items, err
}

func (r *repo) OutOfStock(ctx context.Context, db *gorm.DB) ([]domain.StockLevel, error) {
	var items []domain.StockLevel
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, sku, stock_quantity, low_stock_threshold
		 FROM products
		 WHERE track_stock = ? AND stock_quantity <= 0
		 ORDER BY id ASC`,
		true,
	).Scan(&items).Error
	return items, err
}

// Turnover nets order decrements against their compensations.
func (r *repo) Turnover(ctx context.Context, db *gorm.DB, since time.Time) ([]domain.TurnoverEntry, error) {
	var items []domain.TurnoverEntry
	err := db.WithContext(ctx).Raw(
		`SELECT a.product_id, p.name, SUM(-a.delta_quantity) AS units_sold
		 FROM inventory_adjustments a
		 JOIN products p ON p.id = a.product_id
		 WHERE a.created_at >= ?
		   AND (a.reason LIKE ? OR a.reason LIKE ?)
		 GROUP BY a.product_id, p.name
		 HAVING SUM(-a.delta_quantity) > 0
		 ORDER BY units_sold DESC, a.product_id ASC`,
		since,
		domain.ReasonPrefixOrder+"%",
		domain.ReasonPrefixCompensation+"%",
	).Scan(&items).Error
	return items, err
}
