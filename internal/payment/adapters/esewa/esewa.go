package esewa

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	"github.com/smallbiznis/storefront/internal/payment/domain"
)

const (
	gatewayName = "esewa"

	// SignedFieldsParam lists, comma separated, the parameters covered by SignatureParam.
	SignedFieldsParam = "signed_field_names"
	SignatureParam    = "signature"
)

var requiredFields = []string{"orderId", "amount", "refId"}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Names() []string {
	return []string{gatewayName, "wallet_a"}
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	secret, ok := adapters.ReadString(cfg.Settings, "secret_key")
	if !ok {
		return nil, domain.ErrInvalidConfig
	}
	currency, ok := adapters.ReadString(cfg.Settings, "currency")
	if !ok {
		currency = "NPR"
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	merchant, _ := adapters.ReadString(cfg.Settings, "merchant_code")
	return &Adapter{
		secret:       secret,
		currency:     strings.ToUpper(currency),
		merchantCode: merchant,
		clock:        clk,
	}, nil
}

// Adapter reads the wallet's success redirect: orderId, amount and refId,
// signed with the merchant secret over signed_field_names.
type Adapter struct {
	secret       string
	currency     string
	merchantCode string
	clock        clock.Clock
}

func (a *Adapter) Gateway() domain.Gateway { return domain.GatewayWalletA }

func (a *Adapter) Style() domain.Style { return domain.StyleRedirect }

func (a *Adapter) Parse(ctx context.Context, raw domain.RawRequest) (domain.PaymentEvent, error) {
	fields := map[string]string{}
	for _, name := range requiredFields {
		value := strings.TrimSpace(raw.Query.Get(name))
		if value == "" {
			return domain.PaymentEvent{}, domain.Missing(gatewayName, name)
		}
		fields[name] = value
	}

	covered := requiredFields
	if a.merchantCode != "" {
		scd := strings.TrimSpace(raw.Query.Get("scd"))
		if scd == "" {
			return domain.PaymentEvent{}, domain.Missing(gatewayName, "scd")
		}
		if scd != a.merchantCode {
			return domain.PaymentEvent{}, domain.Invalid(gatewayName, "scd", nil)
		}
		covered = append([]string{"scd"}, requiredFields...)
	}

	if err := a.verify(raw.Query, covered); err != nil {
		return domain.PaymentEvent{}, err
	}

	amount, err := decimal.NewFromString(fields["amount"])
	if err != nil {
		return domain.PaymentEvent{}, domain.Invalid(gatewayName, "amount", err)
	}

	return domain.NewPaymentEvent(domain.EventParams{
		Gateway:        domain.GatewayWalletA,
		TransactionID:  fields["refId"],
		OrderReference: fields["orderId"],
		Amount:         amount,
		Currency:       a.currency,
		RawPayload:     adapters.FlattenQuery(raw.Query),
		ReceivedAt:     a.clock.Now(),
	})
}

// verify requires every name in covered to be signed and the signature to
// match the merchant secret.
func (a *Adapter) verify(query url.Values, covered []string) error {
	mismatch := func(cause error) error {
		return &domain.ParseError{Kind: domain.ErrSignatureMismatch, Gateway: gatewayName, Cause: cause}
	}

	signature := strings.TrimSpace(query.Get(SignatureParam))
	if signature == "" {
		return mismatch(errors.New("signature missing"))
	}
	signed := map[string]bool{}
	for _, name := range signedNames(query) {
		signed[name] = true
	}
	for _, name := range covered {
		if !signed[name] {
			return mismatch(fmt.Errorf("%s not signed", name))
		}
	}

	if !hmac.Equal([]byte(signature), []byte(Sign(a.secret, query))) {
		return mismatch(nil)
	}
	return nil
}

// Sign returns the base64 HMAC-SHA256 of "name=value" pairs joined by commas,
// in the order signed_field_names lists them.
func Sign(secret string, query url.Values) string {
	names := signedNames(query)
	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+strings.TrimSpace(query.Get(name)))
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strings.Join(pairs, ",")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedNames(query url.Values) []string {
	out := []string{}
	for _, name := range strings.Split(query.Get(SignedFieldsParam), ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
