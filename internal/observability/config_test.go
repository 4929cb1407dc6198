package observability

import (
	"testing"

	"github.com/smallbiznis/storefront/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigNormalizesTelemetry(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment:  "production",
		OTLPEndpoint: " collector:4317 ",
		Telemetry: config.TelemetryConfig{
			LogLevel:      "info",
			OtelEnabled:   true,
			OtelProtocol:  "udp",
			SamplingRatio: 4,
		},
	})

	assert.Equal(t, "storefront", cfg.ServiceName)
	assert.Equal(t, "collector:4317", cfg.OtelExporterEndpoint)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.True(t, cfg.OtelEnabled)
	assert.False(t, cfg.Debug())
}

func TestLoadConfigDisablesOtelWithoutEndpoint(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Telemetry: config.TelemetryConfig{OtelEnabled: true, OtelProtocol: "http/protobuf", SamplingRatio: -1},
	})

	assert.False(t, cfg.OtelEnabled)
	assert.Equal(t, "http/protobuf", cfg.OtelExporterProtocol)
	assert.Zero(t, cfg.OtelSamplingRatio)
}

func TestSplitCarriesDebugIntoLogger(t *testing.T) {
	out := split(Config{ServiceName: "storefront", Environment: "test", LogLevel: "info"})
	assert.True(t, out.Logger.Debug)
	assert.True(t, out.Logger.IncludeStackOnError)
	assert.Equal(t, "storefront", out.Tracing.ServiceName)
	assert.Equal(t, "storefront", out.Metrics.ServiceName)
}
