package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storefront/internal/authorization"
	inventorydomain "github.com/smallbiznis/storefront/internal/inventory/domain"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/ratelimit"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	// Materialize kinds first: they wrap inventory and lookup causes that
	// would otherwise match below.
	if kind := orderdomain.Kind(err); kind != nil {
		return mapMaterializeKind(kind)
	}

	var parseErr *paymentdomain.ParseError
	if errors.As(err, &parseErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    parseErr.Code(),
			Message: "payment could not be verified",
		}
	}

	if field, ok := lookupValidation(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  []ValidationError{field},
		}
	}

	for _, rule := range sentinelRules {
		for _, target := range rule.match {
			if errors.Is(err, target) {
				return rule.status, errorPayload{Type: rule.kind, Message: rule.message}
			}
		}
	}
	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

type sentinelRule struct {
	match   []error
	status  int
	kind    string
	message string
}

// First match wins.
var sentinelRules = []sentinelRule{
	{[]error{ErrUnauthorized, authorization.ErrInvalidActor}, http.StatusUnauthorized, "unauthorized", "unauthorized"},
	{[]error{ErrForbidden, authorization.ErrForbidden, authorization.ErrInvalidRole}, http.StatusForbidden, "forbidden", "forbidden"},
	{[]error{ErrConflict}, http.StatusConflict, "conflict", "conflict"},
	{[]error{inventorydomain.ErrInsufficientStock}, http.StatusConflict, "insufficient_stock", "insufficient stock"},
	{[]error{ratelimit.ErrRateLimited}, http.StatusTooManyRequests, "rate_limited", "too many requests"},
	{
		[]error{ErrNotFound, inventorydomain.ErrProductNotFound, orderdomain.ErrOrderNotFound, gorm.ErrRecordNotFound},
		http.StatusNotFound, "not_found", "not found",
	},
	{[]error{ErrServiceUnavailable}, http.StatusServiceUnavailable, "service_unavailable", "service unavailable"},
}

func mapMaterializeKind(kind error) (int, errorPayload) {
	payload := errorPayload{Type: kind.Error()}
	switch kind {
	case orderdomain.ErrUnknownReference:
		payload.Message = "order reference not found"
		return http.StatusNotFound, payload
	case orderdomain.ErrConflict:
		payload.Message = "payment is being processed"
		return http.StatusConflict, payload
	case orderdomain.ErrOversoldCascade:
		payload.Message = "items are out of stock"
		return http.StatusUnprocessableEntity, payload
	case orderdomain.ErrAmountMismatch:
		payload.Message = "paid amount does not match the order"
		return http.StatusUnprocessableEntity, payload
	case orderdomain.ErrRetriesExhausted:
		payload.Message = "payment will not be retried"
		return http.StatusUnprocessableEntity, payload
	case orderdomain.ErrTimeout:
		payload.Message = "payment processing timed out"
		return http.StatusGatewayTimeout, payload
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code recorded on request logs.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case payload.Type == "validation_error":
		if vErr := asValidationErrors(err); vErr != nil && len(vErr.Errors) > 0 {
			return "validation_error", vErr.Errors[0].Code
		}
		return "validation_error", validationErrorCode(err)
	case status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout:
		return "internal_error", payload.Type
	default:
		return "client_error", payload.Type
	}
}

// errorCode is the short code shown to buyers on the failure redirect.
func errorCode(err error) string {
	if kind := orderdomain.Kind(err); kind != nil {
		return kind.Error()
	}
	var parseErr *paymentdomain.ParseError
	if errors.As(err, &parseErr) {
		return parseErr.Code()
	}
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		return ratelimit.ErrRateLimited.Error()
	case validationErrorCode(err) != "":
		return validationErrorCode(err)
	default:
		return ErrInternal.Error()
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

type validationRule struct {
	err     error
	field   string
	message string
}

var validationRules = []validationRule{
	{ErrInvalidRequest, "request", "invalid request"},
	{pagination.ErrInvalidPageToken, "page_token", "invalid value"},
	{inventorydomain.ErrInvalidProductID, "product_id", "invalid value"},
	{inventorydomain.ErrInvalidDelta, "delta", "invalid value"},
	{inventorydomain.ErrReasonRequired, "reason", "reason is required"},
	{inventorydomain.ErrEmptyBulk, "items", "at least one item is required"},
}

func lookupValidation(err error) (ValidationError, bool) {
	for _, rule := range validationRules {
		if errors.Is(err, rule.err) {
			return ValidationError{Field: rule.field, Code: rule.err.Error(), Message: rule.message}, true
		}
	}
	return ValidationError{}, false
}

func validationErrorCode(err error) string {
	v, _ := lookupValidation(err)
	return v.Code
}
