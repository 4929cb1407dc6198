package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/storefront/internal/config"
	inventorydomain "github.com/smallbiznis/storefront/internal/inventory/domain"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	paymentservice "github.com/smallbiznis/storefront/internal/payment/service"
	"github.com/smallbiznis/storefront/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPaymentCallbackRedirectsToSuccess(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.processor.result = paymentservice.Result{
		Event: paymentEvent(t, "T1"),
		Order: &orderdomain.Order{ID: snowflake.ID(42)},
	}

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/payments/esewa/callback?orderId=R1&amount=1199.00&refId=T1", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/success", loc.Path)
	assert.Equal(t, "42", loc.Query().Get("order_id"))
	assert.Equal(t, "R1", loc.Query().Get("orderId"))
	assert.Equal(t, "T1", loc.Query().Get("refId"))
	assert.Equal(t, paymentdomain.StyleRedirect, ts.processor.style)
	assert.Equal(t, "1199.00", ts.processor.raw.Query.Get("amount"))
}

func TestPaymentCallbackFailureCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{name: "missing field", err: paymentdomain.Missing("esewa", "refId"), code: "missing_field"},
		{name: "forged callback", err: &paymentdomain.ParseError{Kind: paymentdomain.ErrSignatureMismatch, Gateway: "esewa"}, code: "signature_mismatch"},
		{name: "oversold", err: orderdomain.NewMaterializeError(orderdomain.ErrOversoldCascade, inventorydomain.ErrInsufficientStock), code: "oversold_cascade"},
		{name: "amount mismatch", err: orderdomain.NewMaterializeError(orderdomain.ErrAmountMismatch, nil), code: "amount_mismatch"},
		{name: "infrastructure", err: errors.New("connection reset"), code: "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.processor.err = tc.err

			rec := ts.do(httptest.NewRequest(http.MethodGet, "/payments/esewa/callback?orderId=R1", nil))

			require.Equal(t, http.StatusFound, rec.Code)
			loc, err := url.Parse(rec.Header().Get("Location"))
			require.NoError(t, err)
			assert.Equal(t, "/failure", loc.Path)
			assert.Equal(t, tc.code, loc.Query().Get("error"))
		})
	}
}

func TestPaymentWebhookStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{name: "signature", err: &paymentdomain.ParseError{Kind: paymentdomain.ErrSignatureMismatch, Gateway: "card"}, status: http.StatusBadRequest, kind: "signature_mismatch"},
		{name: "unknown reference", err: orderdomain.NewMaterializeError(orderdomain.ErrUnknownReference, nil), status: http.StatusNotFound, kind: "unknown_reference"},
		{name: "conflict", err: orderdomain.NewMaterializeError(orderdomain.ErrConflict, nil), status: http.StatusConflict, kind: "conflict"},
		{name: "oversold", err: orderdomain.NewMaterializeError(orderdomain.ErrOversoldCascade, inventorydomain.ErrInsufficientStock), status: http.StatusUnprocessableEntity, kind: "oversold_cascade"},
		{name: "retries exhausted", err: orderdomain.NewMaterializeError(orderdomain.ErrRetriesExhausted, nil), status: http.StatusUnprocessableEntity, kind: "retries_exhausted"},
		{name: "timeout", err: orderdomain.NewMaterializeError(orderdomain.ErrTimeout, nil), status: http.StatusGatewayTimeout, kind: "timeout"},
		{name: "infrastructure", err: errors.New("db down"), status: http.StatusInternalServerError, kind: "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.processor.err = tc.err

			rec := ts.do(httptest.NewRequest(http.MethodPost, "/webhooks/card", strings.NewReader(`{"id":"evt_1"}`)))

			require.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.kind, decodeError(t, rec).Type)
		})
	}
}

func TestPaymentWebhookAcknowledges(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.processor.result = paymentservice.Result{
		Event: paymentEvent(t, "T9"),
		Order: &orderdomain.Order{ID: snowflake.ID(7)},
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/card", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("X-Signature", "t=1,v1=abc")
	rec := ts.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "7", body["order_id"])
	assert.Equal(t, `{"id":"evt_1"}`, string(ts.processor.raw.Body))
	assert.Equal(t, "t=1,v1=abc", ts.processor.raw.Header.Get("X-Signature"))
	assert.Equal(t, paymentdomain.StyleWebhook, ts.processor.style)
}

func TestPaymentWebhookIgnoredEvent(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.processor.result = paymentservice.Result{Ignored: true}

	rec := ts.do(httptest.NewRequest(http.MethodPost, "/webhooks/card", strings.NewReader(`{}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, rec.Body.String())
}

func TestGatewayRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := ratelimit.NewWebhookLimiter(client, config.Config{
		Webhook: config.WebhookLimitConfig{RatePerSecond: 0.001, Burst: 1},
	}, zap.NewNop())

	ts := newTestServer(t, limiter)
	ts.processor.result = paymentservice.Result{Ignored: true}

	first := ts.do(httptest.NewRequest(http.MethodPost, "/webhooks/card", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusOK, first.Code)

	second := ts.do(httptest.NewRequest(http.MethodPost, "/webhooks/card", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeError(t, second).Type)
	assert.Equal(t, 1, ts.processor.calls)

	callback := ts.do(httptest.NewRequest(http.MethodGet, "/payments/esewa/callback", nil))
	require.Equal(t, http.StatusFound, callback.Code)
	throttled := ts.do(httptest.NewRequest(http.MethodGet, "/payments/esewa/callback", nil))
	require.Equal(t, http.StatusFound, throttled.Code)
	loc, err := url.Parse(throttled.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "rate_limited", loc.Query().Get("error"))
}
