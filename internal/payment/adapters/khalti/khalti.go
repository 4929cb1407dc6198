package khalti

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/pkg/telemetry/correlation"
)

const (
	gatewayName     = "khalti"
	statusCompleted = "Completed"

	DefaultLookupURL     = "https://khalti.com/api/v2/epayment/lookup/"
	defaultLookupTimeout = 10 * time.Second
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Names() []string {
	return []string{gatewayName, "wallet_b"}
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	secret, ok := adapters.ReadString(cfg.Settings, "secret_key")
	if !ok {
		return nil, domain.ErrInvalidConfig
	}
	lookupURL, ok := adapters.ReadString(cfg.Settings, "lookup_url")
	if !ok {
		lookupURL = DefaultLookupURL
	}
	currency, ok := adapters.ReadString(cfg.Settings, "currency")
	if !ok {
		currency = "NPR"
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	client := resty.New().
		SetTimeout(adapters.ReadDuration(cfg.Settings, "lookup_timeout", defaultLookupTimeout)).
		SetHeader("Authorization", "Key "+secret).
		SetHeader("Content-Type", "application/json")
	return &Adapter{
		client:    client,
		lookupURL: lookupURL,
		currency:  strings.ToUpper(currency),
		clock:     clk,
	}, nil
}

// Adapter reads the wallet's return URL. Amounts arrive in paisa. The return
// URL is unsigned, so every callback is confirmed against the lookup API.
type Adapter struct {
	client    *resty.Client
	lookupURL string
	currency  string
	clock     clock.Clock
}

func (a *Adapter) Gateway() domain.Gateway { return domain.GatewayWalletB }

func (a *Adapter) Style() domain.Style { return domain.StyleRedirect }

func (a *Adapter) Parse(ctx context.Context, raw domain.RawRequest) (domain.PaymentEvent, error) {
	fields := map[string]string{}
	for _, name := range []string{"pidx", "status", "transaction_id", "purchase_order_id", "amount"} {
		value := strings.TrimSpace(raw.Query.Get(name))
		if value == "" {
			return domain.PaymentEvent{}, domain.Missing(gatewayName, name)
		}
		fields[name] = value
	}

	if fields["status"] != statusCompleted {
		return domain.PaymentEvent{}, &domain.ParseError{
			Kind:    domain.ErrPaymentNotCompleted,
			Gateway: gatewayName,
			Field:   "status",
		}
	}

	paisa, err := strconv.ParseInt(fields["amount"], 10, 64)
	if err != nil || paisa <= 0 {
		return domain.PaymentEvent{}, domain.Invalid(gatewayName, "amount", err)
	}

	if err := a.confirm(ctx, fields["pidx"], fields["transaction_id"], paisa); err != nil {
		return domain.PaymentEvent{}, err
	}

	return domain.NewPaymentEvent(domain.EventParams{
		Gateway:        domain.GatewayWalletB,
		TransactionID:  fields["transaction_id"],
		OrderReference: fields["purchase_order_id"],
		Amount:         decimal.New(paisa, -2),
		Currency:       a.currency,
		RawPayload:     adapters.FlattenQuery(raw.Query),
		ReceivedAt:     a.clock.Now(),
	})
}

type lookupRequest struct {
	Pidx string `json:"pidx"`
}

type lookupResponse struct {
	Pidx          string `json:"pidx"`
	TotalAmount   int64  `json:"total_amount"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

// confirm asks the gateway for pidx and requires it to agree with the return URL.
func (a *Adapter) confirm(ctx context.Context, pidx, transactionID string, paisa int64) error {
	mismatch := func(cause error) error {
		return &domain.ParseError{Kind: domain.ErrSignatureMismatch, Gateway: gatewayName, Field: "pidx", Cause: cause}
	}

	var result lookupResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeaders(correlation.OutboundHeaders(ctx)).
		SetBody(lookupRequest{Pidx: pidx}).
		SetResult(&result).
		Post(a.lookupURL)
	if err != nil {
		return mismatch(fmt.Errorf("lookup: %w", err))
	}
	if resp.IsError() {
		return mismatch(fmt.Errorf("lookup status %d", resp.StatusCode()))
	}

	switch {
	case result.Pidx != pidx:
		return mismatch(errors.New("lookup returned another pidx"))
	case result.Status != statusCompleted:
		return mismatch(fmt.Errorf("lookup status %q", result.Status))
	case result.TransactionID != transactionID:
		return mismatch(errors.New("transaction_id differs from lookup"))
	case result.TotalAmount != paisa:
		return mismatch(fmt.Errorf("amount %d differs from lookup %d", paisa, result.TotalAmount))
	}
	return nil
}
