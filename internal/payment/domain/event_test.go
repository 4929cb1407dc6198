package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPaymentEventValidates(t *testing.T) {
	base := EventParams{
		Gateway:        GatewayWalletA,
		TransactionID:  "REF-1",
		OrderReference: "R1",
		Amount:         decimal.RequireFromString("1199.00"),
		Currency:       "npr",
		RawPayload:     map[string]any{"refId": "REF-1"},
		ReceivedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	evt, err := NewPaymentEvent(base)
	require.NoError(t, err)
	assert.Equal(t, "NPR", evt.Currency())
	assert.Equal(t, "REF-1", evt.TransactionID())
	assert.True(t, evt.Amount().Equal(decimal.RequireFromString("1199")))

	missing := base
	missing.TransactionID = " "
	_, err = NewPaymentEvent(missing)
	assert.True(t, errors.Is(err, ErrMissingField))

	zero := base
	zero.Amount = decimal.Zero
	_, err = NewPaymentEvent(zero)
	assert.True(t, errors.Is(err, ErrInvalidField))

	unknown := base
	unknown.Gateway = "PAYPAL"
	_, err = NewPaymentEvent(unknown)
	assert.True(t, errors.Is(err, ErrUnsupportedGateway))
}

func TestPaymentEventPayloadIsCopied(t *testing.T) {
	payload := map[string]any{"pidx": "abc"}
	evt, err := NewPaymentEvent(EventParams{
		Gateway:        GatewayWalletB,
		TransactionID:  "TX",
		OrderReference: "R",
		Amount:         decimal.NewFromInt(10),
		Currency:       "NPR",
		RawPayload:     payload,
	})
	require.NoError(t, err)

	payload["pidx"] = "mutated"
	got := evt.RawPayload()
	got["pidx"] = "also mutated"
	assert.Equal(t, "abc", evt.RawPayload()["pidx"])
}

func TestParseErrorMessageAndCode(t *testing.T) {
	err := Missing("esewa", "refId")
	assert.Equal(t, `esewa: missing_field "refId"`, err.Error())
	assert.Equal(t, "missing_field", err.Code())

	var pe *ParseError
	wrapped := errors.Join(errors.New("outer"), err)
	require.True(t, errors.As(wrapped, &pe))
	assert.Equal(t, "refId", pe.Field)
}
