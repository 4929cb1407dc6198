package domain

import "errors"

var (
	ErrProductNotFound   = errors.New("product_not_found")
	ErrInsufficientStock = errors.New("insufficient_stock")
	ErrInvalidProductID  = errors.New("invalid_product_id")
	ErrInvalidDelta      = errors.New("invalid_delta")
	ErrReasonRequired    = errors.New("reason_required")
	ErrEmptyBulk         = errors.New("empty_bulk_request")
)

// Code returns the snake_case code of a known inventory error.
func Code(err error) string {
	for _, known := range []error{
		ErrProductNotFound,
		ErrInsufficientStock,
		ErrInvalidProductID,
		ErrInvalidDelta,
		ErrReasonRequired,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal_error"
}
