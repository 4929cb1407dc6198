package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storefront/internal/cache"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	inventorydomain "github.com/smallbiznis/storefront/internal/inventory/domain"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/providers/alert"
	alertmocks "github.com/smallbiznis/storefront/internal/providers/alert/mocks"
	"github.com/smallbiznis/storefront/internal/providers/email"
	emailmocks "github.com/smallbiznis/storefront/internal/providers/email/mocks"
	"github.com/smallbiznis/storefront/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	dispatcher *Dispatcher
	store      cache.Store
	email      *emailmocks.MockProvider
	alerts     *alertmocks.MockProvider
	registry   *prometheus.Registry
}

func newFixture(t *testing.T, mutate func(*config.NotificationConfig)) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	cfg := config.DefaultPipelineConfig()
	cfg.Notification.Base = time.Millisecond
	cfg.Notification.Cap = 2 * time.Millisecond
	if mutate != nil {
		mutate(&cfg.Notification)
	}

	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	registry := prometheus.NewRegistry()
	f := &fixture{
		store:    cache.NewMemoryStore(clk),
		email:    emailmocks.NewMockProvider(ctrl),
		alerts:   alertmocks.NewMockProvider(ctrl),
		registry: registry,
	}
	f.dispatcher = NewDispatcher(Params{
		Log:      zap.NewNop(),
		Clock:    clk,
		Cache:    f.store,
		Email:    f.email,
		Alerts:   f.alerts,
		Pipeline: config.NewStaticPipelineConfig(cfg),
		Metrics:  obsmetrics.NewPipelineMetrics(registry, obsmetrics.Config{ServiceName: "storefront", Environment: "test"}),
	})
	return f
}

// materialized builds an order for product 7 ending at 2 units; crossed marks
// the adjustment that took it below its threshold.
func materialized(crossed bool) orderdomain.Materialized {
	return orderdomain.Materialized{
		Order: orderdomain.Order{
			ID:             snowflake.ID(42),
			BuyerRef:       "buyer-1",
			BuyerEmail:     "buyer@example.com",
			OrderReference: "R1",
			GrandTotal:     decimal.RequireFromString("1199"),
			Currency:       "NPR",
			Items: []orderdomain.OrderItem{
				{ProductID: snowflake.ID(7), Quantity: 1, UnitPriceAtPurchase: decimal.RequireFromString("1199")},
			},
		},
		Adjustments: []inventorydomain.Adjustment{
			{ProductID: snowflake.ID(7), DeltaQuantity: -1, ResultingQuantity: 2, LowStock: true, CrossedLowStock: crossed},
		},
	}
}

func TestDispatcherDeliversAllTasks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, "product-view:7", []byte("p"), time.Minute, cache.ProductTag("7")))
	require.NoError(t, f.store.Set(ctx, "buyer-orders", []byte("o"), time.Minute, cache.BuyerOrdersTag("buyer-1")))
	require.NoError(t, f.store.Set(ctx, "product-view:8", []byte("q"), time.Minute, cache.ProductTag("8")))

	f.email.EXPECT().
		SendTemplate(gomock.Any(), []string{"buyer@example.com"}, email.TemplateOrderConfirmation, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ []string, _ string, data any) error {
			view := data.(email.OrderConfirmation)
			assert.Equal(t, "42", view.OrderID)
			assert.Equal(t, "1199.00", view.GrandTotal)
			return nil
		})
	f.alerts.EXPECT().
		Notify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, a alert.Alert) error {
			assert.Equal(t, KindLowStockAlert, a.Kind)
			assert.Equal(t, "7", a.Fields["product_id"])
			assert.Equal(t, "2", a.Fields["resulting_quantity"])
			return nil
		})

	f.dispatcher.Start()
	f.dispatcher.OnOrderMaterialized(ctx, materialized(true))
	require.NoError(t, f.dispatcher.Stop(ctx))

	_, ok, _ := f.store.Get(ctx, "product-view:7")
	assert.False(t, ok)
	_, ok, _ = f.store.Get(ctx, "buyer-orders")
	assert.False(t, ok)
	_, ok, _ = f.store.Get(ctx, "product-view:8")
	assert.True(t, ok)

	for _, kind := range []string{KindCacheInvalidation, KindConfirmationEmail, KindLowStockAlert} {
		assert.Equal(t, 1.0, counterValue(t, f.registry, "storefront_notifications_delivered_total", kind), kind)
	}
}

func TestDispatcherSkipsAlertWhenAlreadyBelowThreshold(t *testing.T) {
	f := newFixture(t, nil)
	f.email.EXPECT().SendTemplate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	f.dispatcher.Start()
	f.dispatcher.OnOrderMaterialized(context.Background(), materialized(false))
	require.NoError(t, f.dispatcher.Stop(context.Background()))
}

func TestDispatcherCarriesCorrelationID(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(correlation.WithID(context.Background(), "01J9ZC6W6Q7A6M4T1XK3V0R8BN"))

	f.email.EXPECT().SendTemplate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	f.alerts.EXPECT().
		Notify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(taskCtx context.Context, _ alert.Alert) error {
			assert.NoError(t, taskCtx.Err())
			assert.Equal(t, "01J9ZC6W6Q7A6M4T1XK3V0R8BN", correlation.ID(taskCtx))
			assert.Equal(t, "01J9ZC6W6Q7A6M4T1XK3V0R8BN", correlation.OutboundHeaders(taskCtx)[correlation.HeaderCorrelationID])
			return nil
		})

	f.dispatcher.OnOrderMaterialized(ctx, materialized(true))
	// the request is gone before any worker picks the tasks up
	cancel()
	f.dispatcher.Start()
	require.NoError(t, f.dispatcher.Stop(context.Background()))

	assert.Equal(t, 1.0, counterValue(t, f.registry, "storefront_notifications_delivered_total", KindLowStockAlert))
}

func TestDispatcherRetriesThenCountsFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.email.EXPECT().
		SendTemplate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("421 try later")).
		Times(3)

	event := materialized(false)
	f.dispatcher.Start()
	f.dispatcher.OnOrderMaterialized(context.Background(), event)
	require.NoError(t, f.dispatcher.Stop(context.Background()))

	assert.Equal(t, 1.0, counterValue(t, f.registry, "storefront_notification_failures_total", KindConfirmationEmail))
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	f := newFixture(t, func(cfg *config.NotificationConfig) {
		cfg.QueueSize = 1
	})

	// workers not started: the invalidation task fills the queue
	f.dispatcher.OnOrderMaterialized(context.Background(), materialized(true))

	assert.Equal(t, 1.0, counterValue(t, f.registry, "storefront_notifications_dropped_total", KindConfirmationEmail))
	assert.Equal(t, 1.0, counterValue(t, f.registry, "storefront_notifications_dropped_total", KindLowStockAlert))

	f.dispatcher.Start()
	require.NoError(t, f.dispatcher.Stop(context.Background()))
	assert.Equal(t, 1.0, counterValue(t, f.registry, "storefront_notifications_delivered_total", KindCacheInvalidation))
}

func TestDispatcherRejectsWorkAfterStop(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.Start()
	require.NoError(t, f.dispatcher.Stop(context.Background()))

	f.dispatcher.OnOrderMaterialized(context.Background(), materialized(false))
	assert.Equal(t, 1.0, counterValue(t, f.registry, "storefront_notifications_dropped_total", KindCacheInvalidation))
}

func counterValue(t *testing.T, registry *prometheus.Registry, name, kind string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if labelValue(metric, "kind") == kind {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelValue(metric *dto.Metric, name string) string {
	for _, label := range metric.Label {
		if label.GetName() == name {
			return label.GetValue()
		}
	}
	return ""
}
