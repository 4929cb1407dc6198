package domain

import (
	"errors"
	"fmt"
)

// ParseError kinds.
var (
	ErrUnsupportedGateway  = errors.New("unsupported_gateway")
	ErrMissingField        = errors.New("missing_field")
	ErrInvalidField        = errors.New("invalid_field")
	ErrSignatureMismatch   = errors.New("signature_mismatch")
	ErrPaymentNotCompleted = errors.New("payment_not_completed")
)

// ErrEventIgnored is returned for well-signed webhook events that do not
// confirm a payment. Callers acknowledge them without processing.
var ErrEventIgnored = errors.New("event_ignored")

var ErrInvalidConfig = errors.New("invalid_gateway_config")

// ParseError rejects gateway input before any state is touched.
type ParseError struct {
	Kind    error
	Gateway string
	Field   string
	Cause   error
}

func (e *ParseError) Error() string {
	msg := e.Kind.Error()
	if e.Gateway != "" {
		msg = e.Gateway + ": " + msg
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Field)
	}
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ParseError) Is(target error) bool {
	return target == e.Kind
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Code is the short value used in failure redirects.
func (e *ParseError) Code() string {
	return e.Kind.Error()
}

func Missing(gateway, field string) *ParseError {
	return &ParseError{Kind: ErrMissingField, Gateway: gateway, Field: field}
}

func Invalid(gateway, field string, cause error) *ParseError {
	return &ParseError{Kind: ErrInvalidField, Gateway: gateway, Field: field, Cause: cause}
}
