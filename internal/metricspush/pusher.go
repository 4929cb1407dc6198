// Package metricspush ships the process metrics to a Prometheus remote_write
// endpoint or a Pushgateway. It serves deployments without a scraped /metrics
// route, such as the standalone lease reaper.
package metricspush

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/storefront/internal/config"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

const (
	ExporterRemoteWrite = "prometheus_remote_write"
	ExporterPushgateway = "prometheus_pushgateway"

	defaultPushTimeout = 5 * time.Second
)

// Pusher sends one snapshot of gatherer. Implementations do not start
// goroutines.
type Pusher interface {
	Push(ctx context.Context, gatherer prometheus.Gatherer) error
}

// NewPusher builds a pusher from config. Misconfiguration is logged and
// disables pushing rather than failing startup.
func NewPusher(cfg config.Config, log *zap.Logger) Pusher {
	if log == nil {
		log = zap.NewNop()
	}

	exporter := strings.ToLower(strings.TrimSpace(cfg.MetricsPush.Exporter))
	endpoint := strings.TrimSpace(cfg.MetricsPush.Endpoint)
	if exporter == "" {
		return nil
	}
	if endpoint == "" {
		log.Warn("metrics push disabled", zap.Error(errors.New("metrics push endpoint is required")))
		return nil
	}

	switch exporter {
	case ExporterRemoteWrite:
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			log.Warn("metrics push disabled", zap.Error(fmt.Errorf("invalid metrics push endpoint: %w", err)))
			return nil
		}
		return NewRemoteWritePusher(endpoint, cfg.MetricsPush.AuthToken)
	case ExporterPushgateway:
		return NewPushgatewayPusher(endpoint, cfg.AppName, map[string]string{
			"environment": strings.TrimSpace(cfg.Environment),
		})
	default:
		log.Warn("metrics push disabled", zap.String("exporter", exporter))
		return nil
	}
}

// RemoteWritePusher posts a snappy-compressed prompb.WriteRequest.
type RemoteWritePusher struct {
	endpoint string
	client   *resty.Client
	now      func() time.Time
}

func NewRemoteWritePusher(endpoint, authToken string) *RemoteWritePusher {
	client := resty.New().
		SetTimeout(defaultPushTimeout).
		SetHeaders(map[string]string{
			"Content-Type":                      "application/x-protobuf",
			"Content-Encoding":                  "snappy",
			"X-Prometheus-Remote-Write-Version": "0.1.0",
		})
	if token := strings.TrimSpace(authToken); token != "" {
		client.SetAuthToken(token)
	}
	return &RemoteWritePusher{endpoint: endpoint, client: client, now: time.Now}
}

func (p *RemoteWritePusher) Push(ctx context.Context, gatherer prometheus.Gatherer) error {
	if p == nil || gatherer == nil {
		return nil
	}
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather: %w", err)
	}

	b := seriesBuilder{ts: p.now().UnixMilli()}
	for _, family := range families {
		b.addFamily(family)
	}
	if len(b.series) == 0 {
		return nil
	}

	raw, err := proto.Marshal(protoadapt.MessageV2Of(&prompb.WriteRequest{Timeseries: b.series}))
	if err != nil {
		return fmt.Errorf("encode write request: %w", err)
	}
	resp, err := p.client.R().SetContext(ctx).SetBody(snappy.Encode(nil, raw)).Post(p.endpoint)
	switch {
	case err != nil:
		return err
	case resp.IsError():
		return fmt.Errorf("remote write returned %s", resp.Status())
	}
	return nil
}

// PushgatewayPusher replaces the job's group on a Pushgateway.
// Empty grouping values are dropped.
type PushgatewayPusher struct {
	endpoint, job string
	grouping      map[string]string
}

func NewPushgatewayPusher(endpoint, job string, grouping map[string]string) *PushgatewayPusher {
	return &PushgatewayPusher{endpoint: strings.TrimSpace(endpoint), job: strings.TrimSpace(job), grouping: grouping}
}

func (p *PushgatewayPusher) Push(ctx context.Context, gatherer prometheus.Gatherer) error {
	if p == nil || gatherer == nil {
		return nil
	}
	if p.endpoint == "" || p.job == "" {
		return errors.New("pushgateway endpoint and job are required")
	}

	pusher := push.New(p.endpoint, p.job).Gatherer(gatherer)
	for _, key := range slices.Sorted(maps.Keys(p.grouping)) {
		if value := strings.TrimSpace(p.grouping[key]); value != "" {
			pusher = pusher.Grouping(key, value)
		}
	}
	return pusher.PushContext(ctx)
}

// seriesBuilder flattens metric families into one sample per series.
// Histograms and summaries contribute their _sum and _count series only;
// buckets and quantiles stay with the scraped API process.
type seriesBuilder struct {
	ts     int64
	series []prompb.TimeSeries
}

func (b *seriesBuilder) addFamily(family *dto.MetricFamily) {
	name := family.GetName()
	for _, m := range family.GetMetric() {
		switch family.GetType() {
		case dto.MetricType_COUNTER:
			if c := m.GetCounter(); c != nil {
				b.add(name, m.GetLabel(), c.GetValue())
			}
		case dto.MetricType_GAUGE:
			if g := m.GetGauge(); g != nil {
				b.add(name, m.GetLabel(), g.GetValue())
			}
		case dto.MetricType_HISTOGRAM:
			if h := m.GetHistogram(); h != nil {
				b.add(name+"_sum", m.GetLabel(), h.GetSampleSum())
				b.add(name+"_count", m.GetLabel(), float64(h.GetSampleCount()))
			}
		case dto.MetricType_SUMMARY:
			if sm := m.GetSummary(); sm != nil {
				b.add(name+"_sum", m.GetLabel(), sm.GetSampleSum())
				b.add(name+"_count", m.GetLabel(), float64(sm.GetSampleCount()))
			}
		}
	}
}

func (b *seriesBuilder) add(name string, pairs []*dto.LabelPair, value float64) {
	labels := []prompb.Label{{Name: "__name__", Value: name}}
	for _, pair := range pairs {
		labels = append(labels, prompb.Label{Name: pair.GetName(), Value: pair.GetValue()})
	}
	slices.SortFunc(labels, func(a, c prompb.Label) int { return strings.Compare(a.Name, c.Name) })
	b.series = append(b.series, prompb.TimeSeries{
		Labels:  labels,
		Samples: []prompb.Sample{{Value: value, Timestamp: b.ts}},
	})
}
