package domain

import (
	"context"

	"github.com/smallbiznis/storefront/internal/clock"
)

// Style tells the HTTP surface which endpoint delivers a gateway's confirmations.
type Style int

const (
	StyleRedirect Style = iota + 1
	StyleWebhook
)

func (s Style) String() string {
	switch s {
	case StyleRedirect:
		return "redirect"
	case StyleWebhook:
		return "webhook"
	}
	return "unknown"
}

// Adapter turns one gateway's raw request into a PaymentEvent. Adapters are
// pure: they never touch persistence.
type Adapter interface {
	Gateway() Gateway
	Style() Style
	Parse(ctx context.Context, raw RawRequest) (PaymentEvent, error)
}

type AdapterConfig struct {
	Settings map[string]any
	Clock    clock.Clock
}

type AdapterFactory interface {
	// Names returns the canonical lowercase name first, then aliases.
	Names() []string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}
