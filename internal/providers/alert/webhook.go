package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/pkg/telemetry/correlation"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.alert",
	fx.Provide(NewFromConfig),
)

// ErrRejected wraps a non-2xx webhook response.
var ErrRejected = errors.New("alert_rejected")

type WebhookProvider struct {
	client *resty.Client
	url    string
}

func NewWebhook(url string, timeout time.Duration) *WebhookProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &WebhookProvider{client: client, url: url}
}

func NewFromConfig(cfg config.Config) Provider {
	if cfg.Alert.WebhookURL == "" {
		return &NoOpProvider{}
	}
	return NewWebhook(cfg.Alert.WebhookURL, cfg.Alert.Timeout)
}

type webhookBody struct {
	Text  string `json:"text"`
	Alert Alert  `json:"alert"`
}

func (p *WebhookProvider) Notify(ctx context.Context, alert Alert) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeaders(correlation.OutboundHeaders(ctx)).
		SetBody(webhookBody{
			Text:  fmt.Sprintf("[%s] %s: %s", alert.Severity, alert.Title, alert.Message),
			Alert: alert,
		}).
		Post(p.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode())
	}
	return nil
}
