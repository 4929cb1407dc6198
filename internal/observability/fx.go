package observability

import (
	"github.com/smallbiznis/storefront/internal/observability/logger"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module provides the logger, the tracer and meter providers, and the
// prometheus pipeline counters. Every process links it first.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		split,
		GormLoggerConfig,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		metrics.PipelineWithConfig,
	),
	// the tracer provider has no consumers in the graph but must install
	// the global propagator before the server starts
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

type providerConfigs struct {
	fx.Out

	Logger  logger.Config
	Tracing tracing.Config
	Metrics metrics.Config
}

func split(cfg Config) providerConfigs {
	debug := cfg.Debug()

	return providerConfigs{
		Logger: logger.Config{
			ServiceName:         cfg.ServiceName,
			Environment:         cfg.Environment,
			Version:             cfg.Version,
			Level:               cfg.LogLevel,
			Format:              cfg.LogFormat,
			Debug:               debug,
			IncludeCaller:       true,
			IncludeStackOnError: debug,
		},
		Tracing: tracing.Config{
			Enabled:          cfg.OtelEnabled,
			ServiceName:      cfg.ServiceName,
			ServiceVersion:   cfg.Version,
			Environment:      cfg.Environment,
			ExporterEndpoint: cfg.OtelExporterEndpoint,
			ExporterProtocol: cfg.OtelExporterProtocol,
			SamplingRatio:    cfg.OtelSamplingRatio,
		},
		Metrics: metrics.Config{
			Enabled:          cfg.OtelEnabled,
			ServiceName:      cfg.ServiceName,
			Environment:      cfg.Environment,
			ExporterEndpoint: cfg.OtelExporterEndpoint,
			ExporterProtocol: cfg.OtelExporterProtocol,
		},
	}
}

// GormLoggerConfig routes slow query counts into the pipeline metrics.
func GormLoggerConfig(pm *metrics.PipelineMetrics) logger.GormLoggerConfig {
	cfg := logger.DefaultGormLoggerConfig()
	cfg.OnSlowQuery = pm.IncSlowQuery
	return cfg
}
