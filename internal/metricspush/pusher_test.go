package metricspush

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewPusherSelectsExporter(t *testing.T) {
	log := zap.NewNop()

	assert.Nil(t, NewPusher(config.Config{}, log))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: ExporterRemoteWrite}}, log))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: "statsd", Endpoint: "http://x"}}, log))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: ExporterRemoteWrite, Endpoint: "not a url"}}, log))

	rw := NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: ExporterRemoteWrite, Endpoint: "http://prom:9090/api/v1/write"}}, log)
	assert.IsType(t, &RemoteWritePusher{}, rw)

	pg := NewPusher(config.Config{AppName: "storefront-reaper", MetricsPush: config.MetricsPushConfig{Exporter: ExporterPushgateway, Endpoint: "http://pg:9091"}}, log)
	assert.IsType(t, &PushgatewayPusher{}, pg)
}

func TestRemoteWritePusherFlattensFamilies(t *testing.T) {
	reg := prometheus.NewRegistry()
	released := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_inventory_leases_released_total",
		Help: "test",
	}, []string{"reason"})
	pending := prometheus.NewGauge(prometheus.GaugeOpts{Name: "storefront_intents_pending", Help: "test"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "storefront_reaper_seconds", Help: "test"})
	reg.MustRegister(released, pending, latency)
	released.WithLabelValues("expired").Add(3)
	pending.Set(2)
	latency.Observe(0.1)

	var got prompb.WriteRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		decoded, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		require.NoError(t, got.Unmarshal(decoded))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	pusher := NewRemoteWritePusher(srv.URL, "token-1")
	pusher.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	require.NoError(t, pusher.Push(context.Background(), reg))

	assert.Equal(t, "snappy", headers.Get("Content-Encoding"))
	assert.Equal(t, "Bearer token-1", headers.Get("Authorization"))
	require.Len(t, got.Timeseries, 4)

	byName := map[string]prompb.TimeSeries{}
	for _, ts := range got.Timeseries {
		for _, label := range ts.Labels {
			if label.Name == "__name__" {
				byName[label.Value] = ts
			}
		}
	}
	counter := byName["storefront_inventory_leases_released_total"]
	require.Len(t, counter.Samples, 1)
	assert.Equal(t, 3.0, counter.Samples[0].Value)
	assert.Equal(t, int64(1_700_000_000_000), counter.Samples[0].Timestamp)
	assert.Equal(t, []prompb.Label{
		{Name: "__name__", Value: "storefront_inventory_leases_released_total"},
		{Name: "reason", Value: "expired"},
	}, counter.Labels)
	assert.Equal(t, 2.0, byName["storefront_intents_pending"].Samples[0].Value)
	assert.Equal(t, 1.0, byName["storefront_reaper_seconds_count"].Samples[0].Value)
	assert.InDelta(t, 0.1, byName["storefront_reaper_seconds_sum"].Samples[0].Value, 1e-9)
	assert.NotContains(t, byName, "storefront_reaper_seconds")
}

func TestRemoteWritePusherReportsRejection(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "c_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	err := NewRemoteWritePusher(srv.URL, "").Push(context.Background(), reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestPushgatewayPusherPutsJobGroup(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "c_total", Help: "test"})
	reg.MustRegister(c)

	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	pusher := NewPushgatewayPusher(srv.URL, "storefront-reaper", map[string]string{"environment": "test", "empty": ""})
	require.NoError(t, pusher.Push(context.Background(), reg))

	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/storefront-reaper/environment/test", path)
}
