package payment

import (
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	"github.com/smallbiznis/storefront/internal/payment/adapters/card"
	"github.com/smallbiznis/storefront/internal/payment/adapters/esewa"
	"github.com/smallbiznis/storefront/internal/payment/adapters/khalti"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment",
	fx.Provide(NewRegistry),
	fx.Provide(service.NewService),
)

func NewRegistry(cfg config.Config, clk clock.Clock, log *zap.Logger) *adapters.Registry {
	settings := map[string]domain.AdapterConfig{
		"card": {
			Settings: map[string]any{
				"webhook_secret": cfg.Gateways.CardWebhookSecret,
				"max_skew":       cfg.Gateways.CardSignatureMaxSkew,
			},
			Clock: clk,
		},
		"esewa": {
			Settings: map[string]any{
				"secret_key":    cfg.Gateways.EsewaSecretKey,
				"currency":      cfg.Gateways.EsewaCurrency,
				"merchant_code": cfg.Gateways.EsewaMerchantCode,
			},
			Clock: clk,
		},
		"khalti": {
			Settings: map[string]any{
				"secret_key":     cfg.Gateways.KhaltiSecretKey,
				"lookup_url":     cfg.Gateways.KhaltiLookupURL,
				"lookup_timeout": cfg.Gateways.KhaltiLookupTimeout,
				"currency":       cfg.Gateways.KhaltiCurrency,
			},
			Clock: clk,
		},
	}
	return adapters.NewRegistry(log.Named("payment.adapters"), settings,
		card.NewFactory(),
		esewa.NewFactory(),
		khalti.NewFactory(),
	)
}
