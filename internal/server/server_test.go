package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storefront/internal/authorization"
	"github.com/smallbiznis/storefront/internal/cache"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	inventorydomain "github.com/smallbiznis/storefront/internal/inventory/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	paymentservice "github.com/smallbiznis/storefront/internal/payment/service"
	"github.com/smallbiznis/storefront/internal/ratelimit"
	"github.com/smallbiznis/storefront/internal/testsupport/dbtest"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testJWTSecret = "test-secret"

type fakeProcessor struct {
	calls  int
	style  paymentdomain.Style
	raw    paymentdomain.RawRequest
	result paymentservice.Result
	err    error
}

func (f *fakeProcessor) Process(ctx context.Context, gateway string, style paymentdomain.Style, raw paymentdomain.RawRequest) (paymentservice.Result, error) {
	f.calls++
	f.style = style
	f.raw = raw
	return f.result, f.err
}

type inventoryMock struct {
	mock.Mock
}

func (m *inventoryMock) Adjust(ctx context.Context, productID snowflake.ID, delta int, reason string) (*inventorydomain.Adjustment, error) {
	args := m.Called(ctx, productID, delta, reason)
	adj, _ := args.Get(0).(*inventorydomain.Adjustment)
	return adj, args.Error(1)
}

func (m *inventoryMock) BulkAdjust(ctx context.Context, items []inventorydomain.BulkItem, reason string) (inventorydomain.BulkResult, error) {
	args := m.Called(ctx, items, reason)
	return args.Get(0).(inventorydomain.BulkResult), args.Error(1)
}

func (m *inventoryMock) Summary(ctx context.Context) (inventorydomain.Summary, error) {
	args := m.Called(ctx)
	return args.Get(0).(inventorydomain.Summary), args.Error(1)
}

func (m *inventoryMock) ListAdjustments(ctx context.Context, req inventorydomain.ListAdjustmentsRequest) (inventorydomain.ListAdjustmentsResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(inventorydomain.ListAdjustmentsResponse), args.Error(1)
}

type testServer struct {
	*Server
	processor *fakeProcessor
	inv       *inventoryMock
	store     cache.Store
}

func newTestServer(t *testing.T, limiter *ratelimit.WebhookLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	enforcer, err := authorization.NewEnforcer(dbtest.Open(t))
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	store := cache.NewStore(nil, clock.NewFakeClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)), zap.NewNop())
	payments := &fakeProcessor{}
	inventory := &inventoryMock{}

	srv := &Server{
		engine: engine,
		cfg: config.Config{
			Admin:    config.AdminConfig{JWTSecret: testJWTSecret, JWTIssuer: "storefront-admin"},
			Redirect: config.RedirectConfig{SuccessURL: "https://shop.example/success", FailureURL: "https://shop.example/failure"},
		},
		log:          zap.NewNop(),
		payments:     payments,
		inventorySvc: inventory,
		authzSvc:     authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
		cache:        store,
		limiter:      limiter,
	}
	srv.RegisterRoutes()

	return &testServer{Server: srv, processor: payments, inv: inventory, store: store}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func adminToken(t *testing.T, subject, role string) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "storefront-admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func jsonRequest(t *testing.T, method, target string, body any, token string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func paymentEvent(t *testing.T, txID string) paymentdomain.PaymentEvent {
	t.Helper()
	event, err := paymentdomain.NewPaymentEvent(paymentdomain.EventParams{
		Gateway:        paymentdomain.GatewayWalletA,
		TransactionID:  txID,
		OrderReference: "R1",
		Amount:         decimal.RequireFromString("1199.00"),
		Currency:       "NPR",
	})
	require.NoError(t, err)
	return event
}
