package service

import (
	"context"
	"net/url"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	"github.com/smallbiznis/storefront/internal/payment/adapters/esewa"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type materializerMock struct {
	mock.Mock
}

func (m *materializerMock) Materialize(ctx context.Context, event paymentdomain.PaymentEvent) (*orderdomain.Order, error) {
	args := m.Called(ctx, event)
	order, _ := args.Get(0).(*orderdomain.Order)
	return order, args.Error(1)
}

func newService(t *testing.T, m orderdomain.Materializer) (*Service, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	return NewService(Params{
		Log:          zap.NewNop(),
		Registry:     adapters.NewRegistry(zap.NewNop(), map[string]paymentdomain.AdapterConfig{"esewa": {Settings: map[string]any{"secret_key": testSecret}}}, esewa.NewFactory()),
		Materializer: m,
		Metrics:      obsmetrics.NewPipelineMetrics(registry, obsmetrics.Config{ServiceName: "storefront", Environment: "test"}),
	}), registry
}

const testSecret = "esewa-secret"

func esewaQuery() url.Values {
	q := url.Values{"orderId": {"R1"}, "amount": {"1199.00"}, "refId": {"T1"}, esewa.SignedFieldsParam: {"orderId,amount,refId"}}
	q.Set(esewa.SignatureParam, esewa.Sign(testSecret, q))
	return q
}

func TestProcessMaterializesVerifiedEvent(t *testing.T) {
	m := &materializerMock{}
	m.On("Materialize", mock.Anything, mock.MatchedBy(func(e paymentdomain.PaymentEvent) bool {
		return e.TransactionID() == "T1" && e.OrderReference() == "R1"
	})).Return(&orderdomain.Order{ID: snowflake.ID(9)}, nil).Once()

	svc, registry := newService(t, m)
	res, err := svc.Process(context.Background(), "esewa", paymentdomain.StyleRedirect, paymentdomain.RawRequest{Query: esewaQuery()})
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	assert.Equal(t, snowflake.ID(9), res.Order.ID)
	assert.False(t, res.Ignored)
	m.AssertExpectations(t)

	assert.Equal(t, 1, testutil.CollectAndCount(registry, "storefront_payment_webhook_total"))
}

func TestProcessRejectsWrongStyle(t *testing.T) {
	m := &materializerMock{}
	svc, _ := newService(t, m)

	_, err := svc.Process(context.Background(), "esewa", paymentdomain.StyleWebhook, paymentdomain.RawRequest{Query: esewaQuery()})
	require.ErrorIs(t, err, paymentdomain.ErrUnsupportedGateway)
	m.AssertNotCalled(t, "Materialize", mock.Anything, mock.Anything)
}

func TestProcessRejectsMissingField(t *testing.T) {
	m := &materializerMock{}
	svc, _ := newService(t, m)

	q := esewaQuery()
	q.Del("refId")
	_, err := svc.Process(context.Background(), "wallet_a", paymentdomain.StyleRedirect, paymentdomain.RawRequest{Query: q})
	require.ErrorIs(t, err, paymentdomain.ErrMissingField)
	m.AssertNotCalled(t, "Materialize", mock.Anything, mock.Anything)
}

func TestProcessRejectsForgedCallback(t *testing.T) {
	m := &materializerMock{}
	svc, _ := newService(t, m)

	q := esewaQuery()
	q.Set("refId", "FORGED-123")
	res, err := svc.Process(context.Background(), "esewa", paymentdomain.StyleRedirect, paymentdomain.RawRequest{Query: q})
	require.ErrorIs(t, err, paymentdomain.ErrSignatureMismatch)
	assert.Nil(t, res.Order)
	m.AssertNotCalled(t, "Materialize", mock.Anything, mock.Anything)
}

func TestProcessPropagatesMaterializeError(t *testing.T) {
	m := &materializerMock{}
	m.On("Materialize", mock.Anything, mock.Anything).
		Return(nil, orderdomain.NewMaterializeError(orderdomain.ErrConflict, nil)).Once()
	svc, _ := newService(t, m)

	res, err := svc.Process(context.Background(), "esewa", paymentdomain.StyleRedirect, paymentdomain.RawRequest{Query: esewaQuery()})
	require.ErrorIs(t, err, orderdomain.ErrConflict)
	assert.Equal(t, "T1", res.Event.TransactionID())
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, OutcomeProcessed, Outcome(nil))
	assert.Equal(t, "amount_mismatch", Outcome(orderdomain.NewMaterializeError(orderdomain.ErrAmountMismatch, nil)))
	assert.Equal(t, OutcomeError, Outcome(assert.AnError))
}
