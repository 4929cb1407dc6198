package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert writes the order and its items; callers pass a transaction.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	if err := db.WithContext(ctx).Create(order).Error; err != nil {
		return err
	}
	if len(order.Items) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&order.Items).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*domain.Order, error) {
	return r.findOne(ctx, db, "payment_transaction_id = ?", transactionID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Order, error) {
	var orders []domain.Order
	err := db.WithContext(ctx).
		Where(where, arg).
		Limit(1).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}

	order := orders[0]
	err = db.WithContext(ctx).
		Where("order_id = ?", order.ID).
		Order("id ASC").
		Find(&order.Items).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}
