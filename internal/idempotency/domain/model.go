package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// LeaseExpiredError is written to last_error by the reaper.
const LeaseExpiredError = "lease_expired"

type Record struct {
	TransactionID string        `gorm:"column:transaction_id;primaryKey"`
	Status        Status        `gorm:"column:status"`
	OrderID       *snowflake.ID `gorm:"column:order_id"`
	LeaseToken    string        `gorm:"column:lease_token"`
	Attempts      int           `gorm:"column:attempts"`
	FirstSeenAt   time.Time     `gorm:"column:first_seen_at"`
	LeasedAt      *time.Time    `gorm:"column:leased_at"`
	FailedAt      *time.Time    `gorm:"column:failed_at"`
	CompletedAt   *time.Time    `gorm:"column:completed_at"`
	LastError     *string       `gorm:"column:last_error"`
}

func (Record) TableName() string { return "payment_idempotency" }

// Lease is the exclusive right to process one transaction id. Token fences
// the holder: once the lease is reaped and reclaimed the old token is void.
type Lease struct {
	TransactionID string
	Token         string
	Attempt       int
	AcquiredAt    time.Time
}

type Outcome int

const (
	OutcomeAcquired Outcome = iota + 1
	OutcomeAlreadyCompleted
	OutcomeAlreadyInFlight
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAcquired:
		return "acquired"
	case OutcomeAlreadyCompleted:
		return "already_completed"
	case OutcomeAlreadyInFlight:
		return "already_in_flight"
	}
	return "unknown"
}

// Claim is the result of BeginProcessing. Lease is set for OutcomeAcquired,
// OrderID for OutcomeAlreadyCompleted.
type Claim struct {
	Outcome Outcome
	Lease   Lease
	OrderID snowflake.ID
}

type Service interface {
	BeginProcessing(ctx context.Context, transactionID string) (Claim, error)
	Complete(ctx context.Context, lease Lease, orderID snowflake.ID) error
	Fail(ctx context.Context, lease Lease, cause error) error
	ReapStuck(ctx context.Context) (int, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, transactionID, token string, now time.Time) (bool, error)
	Get(ctx context.Context, db *gorm.DB, transactionID string) (*Record, error)
	Reclaim(ctx context.Context, db *gorm.DB, transactionID, oldToken string, oldAttempts int, newToken string, now time.Time) (bool, error)
	MarkCompleted(ctx context.Context, db *gorm.DB, transactionID, token string, orderID snowflake.ID, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, transactionID, token, lastError string, now time.Time) (bool, error)
	ExpireStale(ctx context.Context, db *gorm.DB, leasedBefore, failedAt time.Time, limit int) (int, error)
}
