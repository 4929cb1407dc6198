package card

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	"github.com/smallbiznis/storefront/internal/payment/domain"
)

const (
	SignatureHeader = "Card-Signature"
	gatewayName     = "card"

	eventPaymentSucceeded = "payment_intent.succeeded"
	defaultMaxSkew        = 5 * time.Minute
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Names() []string {
	return []string{gatewayName, "stripe"}
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	secret, ok := adapters.ReadString(cfg.Settings, "webhook_secret")
	if !ok {
		return nil, domain.ErrInvalidConfig
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Adapter{
		webhookSecret: secret,
		maxSkew:       adapters.ReadDuration(cfg.Settings, "max_skew", defaultMaxSkew),
		clock:         clk,
	}, nil
}

type Adapter struct {
	webhookSecret string
	maxSkew       time.Duration
	clock         clock.Clock
}

func (a *Adapter) Gateway() domain.Gateway { return domain.GatewayCard }

func (a *Adapter) Style() domain.Style { return domain.StyleWebhook }

func (a *Adapter) Parse(ctx context.Context, raw domain.RawRequest) (domain.PaymentEvent, error) {
	if err := a.verify(raw); err != nil {
		return domain.PaymentEvent{}, err
	}

	var event cardEvent
	if err := json.Unmarshal(raw.Body, &event); err != nil {
		return domain.PaymentEvent{}, domain.Invalid(gatewayName, "body", err)
	}
	if strings.TrimSpace(event.ID) == "" {
		return domain.PaymentEvent{}, domain.Missing(gatewayName, "id")
	}
	if strings.TrimSpace(event.Type) != eventPaymentSucceeded {
		return domain.PaymentEvent{}, domain.ErrEventIgnored
	}

	var intent paymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return domain.PaymentEvent{}, domain.Invalid(gatewayName, "data.object", err)
	}
	if strings.TrimSpace(intent.ID) == "" {
		return domain.PaymentEvent{}, domain.Missing(gatewayName, "data.object.id")
	}
	reference := strings.TrimSpace(intent.Metadata["order_reference"])
	if reference == "" {
		return domain.PaymentEvent{}, domain.Missing(gatewayName, "metadata.order_reference")
	}

	minor := intent.AmountReceived
	if minor <= 0 {
		minor = intent.Amount
	}
	if minor <= 0 {
		return domain.PaymentEvent{}, domain.Invalid(gatewayName, "amount", nil)
	}
	if strings.TrimSpace(intent.Currency) == "" {
		return domain.PaymentEvent{}, domain.Missing(gatewayName, "currency")
	}

	var payload map[string]any
	_ = json.Unmarshal(raw.Body, &payload)

	return domain.NewPaymentEvent(domain.EventParams{
		Gateway:        domain.GatewayCard,
		TransactionID:  intent.ID,
		OrderReference: reference,
		Amount:         decimal.New(minor, -2),
		Currency:       intent.Currency,
		RawPayload:     payload,
		ReceivedAt:     a.clock.Now(),
	})
}

// verify checks the signature over "t.body" before the body is decoded.
func (a *Adapter) verify(raw domain.RawRequest) error {
	mismatch := func(cause error) error {
		return &domain.ParseError{Kind: domain.ErrSignatureMismatch, Gateway: gatewayName, Cause: cause}
	}

	sigHeader := ""
	if raw.Header != nil {
		sigHeader = strings.TrimSpace(raw.Header.Get(SignatureHeader))
	}
	if sigHeader == "" {
		return mismatch(errors.New("signature header missing"))
	}

	ts, signatures, err := parseSignature(sigHeader)
	if err != nil {
		return mismatch(err)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return mismatch(errors.New("timestamp malformed"))
	}
	skew := a.clock.Now().Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > a.maxSkew {
		return mismatch(errors.New("timestamp outside tolerance"))
	}

	expected := Sign(a.webhookSecret, ts, raw.Body)
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return mismatch(nil)
}

// Sign returns the hex HMAC-SHA256 of "timestamp.body".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type cardEvent struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    eventData `json:"data"`
}

type eventData struct {
	Object json.RawMessage `json:"object"`
}

type paymentIntent struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

func parseSignature(header string) (string, []string, error) {
	var timestamp string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("signature header malformed")
	}
	return timestamp, signatures, nil
}
