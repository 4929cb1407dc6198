package repository

import (
	"context"

	"github.com/smallbiznis/storefront/internal/orderintent/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Snapshot, error) {
	var snapshots []domain.Snapshot
	err := db.WithContext(ctx).Raw(
		`SELECT reference, buyer_ref, buyer_email, subtotal, tax, shipping, currency, created_at
		 FROM order_intents
		 WHERE reference = ?
		 LIMIT 1`,
		reference,
	).Scan(&snapshots).Error
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}

	snapshot := snapshots[0]
	err = db.WithContext(ctx).Raw(
		`SELECT product_id, quantity, unit_price
		 FROM order_intent_items
		 WHERE reference = ?
		 ORDER BY id ASC`,
		reference,
	).Scan(&snapshot.Items).Error
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Insert stores a snapshot and its items. Checkout owns this write; it is
// exposed for seeding and tests.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, snapshot *domain.Snapshot) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Exec(
			`INSERT INTO order_intents (reference, buyer_ref, buyer_email, subtotal, tax, shipping, currency, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			snapshot.Reference,
			snapshot.BuyerRef,
			snapshot.BuyerEmail,
			snapshot.Subtotal,
			snapshot.Tax,
			snapshot.Shipping,
			snapshot.Currency,
			snapshot.CreatedAt,
		).Error
		if err != nil {
			return err
		}
		for _, item := range snapshot.Items {
			err := tx.Exec(
				`INSERT INTO order_intent_items (reference, product_id, quantity, unit_price)
				 VALUES (?, ?, ?, ?)`,
				snapshot.Reference,
				item.ProductID,
				item.Quantity,
				item.UnitPrice,
			).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}
