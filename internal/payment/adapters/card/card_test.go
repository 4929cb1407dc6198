package card

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func newTestAdapter(t *testing.T, now time.Time) *Adapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(domain.AdapterConfig{
		Settings: map[string]any{"webhook_secret": testSecret},
		Clock:    clock.NewFakeClock(now),
	})
	require.NoError(t, err)
	return adapter.(*Adapter)
}

func signedRequest(secret string, body []byte, at time.Time) domain.RawRequest {
	ts := strconv.FormatInt(at.Unix(), 10)
	header := http.Header{}
	header.Set(SignatureHeader, "t="+ts+",v1="+Sign(secret, ts, body))
	return domain.RawRequest{Body: body, Header: header}
}

func intentBody(t *testing.T, eventType string, metadata map[string]string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":   "evt_1",
		"type": eventType,
		"data": map[string]any{
			"object": map[string]any{
				"id":              "pi_123",
				"amount":          119900,
				"amount_received": 119900,
				"currency":        "usd",
				"metadata":        metadata,
			},
		},
	})
	require.NoError(t, err)
	return body
}

func TestParseSucceededIntent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := newTestAdapter(t, now)
	body := intentBody(t, "payment_intent.succeeded", map[string]string{"order_reference": "R1"})

	evt, err := adapter.Parse(context.Background(), signedRequest(testSecret, body, now))
	require.NoError(t, err)

	assert.Equal(t, domain.GatewayCard, evt.Gateway())
	assert.Equal(t, "pi_123", evt.TransactionID())
	assert.Equal(t, "R1", evt.OrderReference())
	assert.True(t, evt.Amount().Equal(decimal.RequireFromString("1199.00")))
	assert.Equal(t, "USD", evt.Currency())
	assert.Equal(t, now, evt.ReceivedAt())
}

func TestParseRejectsBadSignature(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := newTestAdapter(t, now)
	body := intentBody(t, "payment_intent.succeeded", map[string]string{"order_reference": "R1"})

	cases := map[string]domain.RawRequest{
		"wrong secret":   signedRequest("other", body, now),
		"stale":          signedRequest(testSecret, body, now.Add(-10*time.Minute)),
		"missing header": {Body: body, Header: http.Header{}},
		"tampered body": func() domain.RawRequest {
			req := signedRequest(testSecret, body, now)
			req.Body = append([]byte{}, body...)
			req.Body[len(req.Body)-2] = ' '
			return req
		}(),
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := adapter.Parse(context.Background(), raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrSignatureMismatch))
		})
	}
}

func TestParseIgnoresOtherEvents(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := newTestAdapter(t, now)
	body := intentBody(t, "charge.refunded", map[string]string{"order_reference": "R1"})

	_, err := adapter.Parse(context.Background(), signedRequest(testSecret, body, now))
	assert.ErrorIs(t, err, domain.ErrEventIgnored)
}

func TestParseRequiresOrderReference(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := newTestAdapter(t, now)
	body := intentBody(t, "payment_intent.succeeded", map[string]string{})

	_, err := adapter.Parse(context.Background(), signedRequest(testSecret, body, now))
	var pe *domain.ParseError
	require.True(t, errors.As(err, &pe))
	assert.ErrorIs(t, err, domain.ErrMissingField)
	assert.Equal(t, "metadata.order_reference", pe.Field)
}

func TestFactoryRequiresSecret(t *testing.T) {
	_, err := NewFactory().NewAdapter(domain.AdapterConfig{Settings: map[string]any{}})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
