package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const exportInterval = 10 * time.Second

type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics holds the OTLP business instruments. Operational counters scraped
// by prometheus live in PipelineMetrics.
type Metrics struct {
	paymentEvents        metric.Int64Counter
	ordersMaterialized   metric.Int64Counter
	orderValue           metric.Float64Histogram
	inventoryAdjustments metric.Int64Counter
}

// NewProvider installs the global meter provider. With export disabled a
// noop provider is installed so instruments stay cheap.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.StopHook(provider.Shutdown))
	}
	log.Info("otlp metrics export enabled",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "storefront"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	if m.paymentEvents, err = meter.Int64Counter("storefront_payment_events_total",
		metric.WithDescription("Gateway deliveries by outcome.")); err != nil {
		return nil, err
	}
	if m.ordersMaterialized, err = meter.Int64Counter("storefront_orders_materialized_total",
		metric.WithDescription("Orders written from verified payments.")); err != nil {
		return nil, err
	}
	if m.orderValue, err = meter.Float64Histogram("storefront_order_value",
		metric.WithDescription("Grand total of materialized orders in their own currency."),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 2500, 5000, 10000, 25000, 100000)); err != nil {
		return nil, err
	}
	if m.inventoryAdjustments, err = meter.Int64Counter("storefront_inventory_adjustments_total",
		metric.WithDescription("Inventory ledger rows by reason kind.")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) RecordPaymentEvent(ctx context.Context, gateway, outcome string) {
	if m == nil {
		return
	}
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("gateway", strings.TrimSpace(gateway)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...))
}

func (m *Metrics) RecordOrderMaterialized(ctx context.Context, gateway, currency string, grandTotal float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(
		attribute.String("gateway", strings.TrimSpace(gateway)),
		attribute.String("currency", strings.ToUpper(strings.TrimSpace(currency))),
	)...)
	m.ordersMaterialized.Add(ctx, 1, attrs)
	if grandTotal > 0 {
		m.orderValue.Record(ctx, grandTotal, attrs)
	}
}

// RecordInventoryAdjustment counts ledger rows by reason kind (order,
// compensation, manual).
func (m *Metrics) RecordInventoryAdjustment(ctx context.Context, reasonKind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.inventoryAdjustments.Add(ctx, int64(count), metric.WithAttributes(FilterAttributes(
		attribute.String("reason", strings.TrimSpace(reasonKind)),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Label keys allowed on OTLP instruments. Transaction ids, references and
// buyer data never become labels.
var allowedLabelKeys = map[attribute.Key]bool{
	"gateway":     true,
	"outcome":     true,
	"currency":    true,
	"reason":      true,
	"kind":        true,
	"endpoint":    true,
	"status_code": true,
}

func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if allowedLabelKeys[attr.Key] && attr.Value.Emit() != "" {
			filtered = append(filtered, attr)
		}
	}
	return filtered
}
