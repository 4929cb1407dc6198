package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/idempotency/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert claims transactionID if no row exists. The unique key decides the
// winner; the caller that affects zero rows lost the race.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, transactionID, token string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_idempotency (
			transaction_id, status, lease_token, attempts, first_seen_at, leased_at
		) VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT (transaction_id) DO NOTHING`,
		transactionID,
		domain.StatusPending,
		token,
		now,
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, transactionID string) (*domain.Record, error) {
	var items []domain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT transaction_id, status, order_id, lease_token, attempts,
			first_seen_at, leased_at, failed_at, completed_at, last_error
		 FROM payment_idempotency
		 WHERE transaction_id = ?
		 LIMIT 1`,
		transactionID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, domain.ErrRecordNotFound
	}
	return &items[0], nil
}

// Reclaim moves a FAILED row back to PENDING under a new token. It only
// succeeds for the caller that observed oldToken and oldAttempts.
func (r *repo) Reclaim(ctx context.Context, db *gorm.DB, transactionID, oldToken string, oldAttempts int, newToken string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_idempotency
		 SET status = ?, lease_token = ?, attempts = attempts + 1,
			leased_at = ?, failed_at = NULL, last_error = NULL
		 WHERE transaction_id = ? AND status = ? AND lease_token = ? AND attempts = ?`,
		domain.StatusPending,
		newToken,
		now,
		transactionID,
		domain.StatusFailed,
		oldToken,
		oldAttempts,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, transactionID, token string, orderID snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_idempotency
		 SET status = ?, order_id = ?, completed_at = ?, last_error = NULL
		 WHERE transaction_id = ? AND status = ? AND lease_token = ?`,
		domain.StatusCompleted,
		orderID,
		now,
		transactionID,
		domain.StatusPending,
		token,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, transactionID, token, lastError string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_idempotency
		 SET status = ?, failed_at = ?, last_error = ?
		 WHERE transaction_id = ? AND status = ? AND lease_token = ?`,
		domain.StatusFailed,
		now,
		lastError,
		transactionID,
		domain.StatusPending,
		token,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ExpireStale flips at most limit PENDING rows leased before leasedBefore to FAILED.
func (r *repo) ExpireStale(ctx context.Context, db *gorm.DB, leasedBefore, failedAt time.Time, limit int) (int, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_idempotency
		 SET status = ?, failed_at = ?, last_error = ?
		 WHERE status = ? AND transaction_id IN (
			SELECT transaction_id FROM payment_idempotency
			WHERE status = ? AND leased_at < ?
			ORDER BY leased_at
			LIMIT ?
		 )`,
		domain.StatusFailed,
		failedAt,
		domain.LeaseExpiredError,
		domain.StatusPending,
		domain.StatusPending,
		leasedBefore,
		limit,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}
