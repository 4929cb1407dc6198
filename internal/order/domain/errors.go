package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConflict         = errors.New("conflict")
	ErrUnknownReference = errors.New("unknown_reference")
	ErrOversoldCascade  = errors.New("oversold_cascade")
	ErrAmountMismatch   = errors.New("amount_mismatch")
	ErrTimeout          = errors.New("timeout")
	// ErrRetriesExhausted means the transaction failed too often to try again.
	ErrRetriesExhausted = errors.New("retries_exhausted")
	ErrOrderNotFound    = errors.New("order_not_found")
)

// MaterializeError carries one of the kinds above and the underlying cause.
// errors.Is matches the kind; errors.As reaches the cause through Unwrap.
type MaterializeError struct {
	Kind  error
	Cause error
}

func (e *MaterializeError) Error() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *MaterializeError) Is(target error) bool {
	return target == e.Kind
}

func (e *MaterializeError) Unwrap() error {
	return e.Cause
}

func NewMaterializeError(kind, cause error) *MaterializeError {
	return &MaterializeError{Kind: kind, Cause: cause}
}

// Kind returns the materialize kind of err, or nil for infrastructure errors.
func Kind(err error) error {
	var me *MaterializeError
	if errors.As(err, &me) {
		return me.Kind
	}
	return nil
}
