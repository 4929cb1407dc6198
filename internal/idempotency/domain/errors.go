package domain

import "errors"

var (
	ErrInvalidTransactionID = errors.New("invalid_transaction_id")
	ErrRetriesExhausted     = errors.New("idempotency_retries_exhausted")
	ErrLeaseLost            = errors.New("idempotency_lease_lost")
	ErrRecordNotFound       = errors.New("idempotency_record_not_found")
)
