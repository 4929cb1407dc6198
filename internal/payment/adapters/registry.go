package adapters

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/storefront/internal/payment/domain"
	"go.uber.org/zap"
)

type Registry struct {
	adapters map[string]domain.Adapter
}

// NewRegistry builds one adapter per factory and indexes it under every name
// the factory answers to. Factories whose settings are incomplete are skipped,
// which makes the gateway unsupported rather than failing startup.
func NewRegistry(log *zap.Logger, settings map[string]domain.AdapterConfig, factories ...domain.AdapterFactory) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	registry := &Registry{adapters: map[string]domain.Adapter{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		names := normalizeNames(factory.Names())
		if len(names) == 0 {
			continue
		}
		adapter, err := factory.NewAdapter(settings[names[0]])
		if err != nil {
			log.Warn("payment gateway disabled", zap.String("gateway", names[0]), zap.Error(err))
			continue
		}
		for _, name := range names {
			registry.adapters[name] = adapter
		}
	}
	return registry
}

func (r *Registry) Lookup(gateway string) (domain.Adapter, bool) {
	if r == nil {
		return nil, false
	}
	adapter, ok := r.adapters[strings.ToLower(strings.TrimSpace(gateway))]
	return adapter, ok
}

// Parse routes a raw request to the named gateway's adapter.
func (r *Registry) Parse(ctx context.Context, gateway string, raw domain.RawRequest) (domain.PaymentEvent, error) {
	adapter, ok := r.Lookup(gateway)
	if !ok {
		return domain.PaymentEvent{}, &domain.ParseError{Kind: domain.ErrUnsupportedGateway, Gateway: gateway}
	}
	evt, err := adapter.Parse(ctx, raw)
	if err != nil {
		var pe *domain.ParseError
		if errors.As(err, &pe) && pe.Gateway == "" {
			pe.Gateway = strings.ToLower(strings.TrimSpace(gateway))
		}
		return domain.PaymentEvent{}, err
	}
	return evt, nil
}

// ParseStyle is Parse restricted to gateways delivering through style.
func (r *Registry) ParseStyle(ctx context.Context, gateway string, style domain.Style, raw domain.RawRequest) (domain.PaymentEvent, error) {
	adapter, ok := r.Lookup(gateway)
	if !ok || adapter.Style() != style {
		return domain.PaymentEvent{}, &domain.ParseError{Kind: domain.ErrUnsupportedGateway, Gateway: gateway}
	}
	return r.Parse(ctx, gateway, raw)
}

func normalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}
