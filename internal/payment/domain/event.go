package domain

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Gateway string

const (
	GatewayCard    Gateway = "CARD"
	GatewayWalletA Gateway = "WALLET_A"
	GatewayWalletB Gateway = "WALLET_B"
)

func (g Gateway) Valid() bool {
	switch g {
	case GatewayCard, GatewayWalletA, GatewayWalletB:
		return true
	}
	return false
}

// RawRequest is the gateway-delivered input before any verification.
// Redirect gateways populate Query; webhook gateways populate Body and Header.
type RawRequest struct {
	Query  url.Values
	Body   []byte
	Header http.Header
}

// PaymentEvent is a verified, canonical gateway confirmation. The zero value
// is not usable; build one with NewPaymentEvent.
type PaymentEvent struct {
	gateway        Gateway
	transactionID  string
	orderReference string
	amount         decimal.Decimal
	currency       string
	rawPayload     map[string]any
	receivedAt     time.Time
}

type EventParams struct {
	Gateway        Gateway
	TransactionID  string
	OrderReference string
	Amount         decimal.Decimal
	Currency       string
	RawPayload     map[string]any
	ReceivedAt     time.Time
}

func NewPaymentEvent(p EventParams) (PaymentEvent, error) {
	if !p.Gateway.Valid() {
		return PaymentEvent{}, &ParseError{Kind: ErrUnsupportedGateway, Gateway: string(p.Gateway)}
	}
	txID := strings.TrimSpace(p.TransactionID)
	if txID == "" {
		return PaymentEvent{}, &ParseError{Kind: ErrMissingField, Gateway: string(p.Gateway), Field: "transaction_id"}
	}
	ref := strings.TrimSpace(p.OrderReference)
	if ref == "" {
		return PaymentEvent{}, &ParseError{Kind: ErrMissingField, Gateway: string(p.Gateway), Field: "order_reference"}
	}
	if !p.Amount.IsPositive() {
		return PaymentEvent{}, &ParseError{Kind: ErrInvalidField, Gateway: string(p.Gateway), Field: "amount"}
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if len(currency) != 3 {
		return PaymentEvent{}, &ParseError{Kind: ErrInvalidField, Gateway: string(p.Gateway), Field: "currency"}
	}

	receivedAt := p.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	payload := make(map[string]any, len(p.RawPayload))
	for k, v := range p.RawPayload {
		payload[k] = v
	}

	return PaymentEvent{
		gateway:        p.Gateway,
		transactionID:  txID,
		orderReference: ref,
		amount:         p.Amount,
		currency:       currency,
		rawPayload:     payload,
		receivedAt:     receivedAt.UTC(),
	}, nil
}

func (e PaymentEvent) Gateway() Gateway { return e.gateway }
func (e PaymentEvent) TransactionID() string { return e.transactionID }
func (e PaymentEvent) OrderReference() string { return e.orderReference }
func (e PaymentEvent) Amount() decimal.Decimal { return e.amount }
func (e PaymentEvent) Currency() string { return e.currency }
func (e PaymentEvent) ReceivedAt() time.Time { return e.receivedAt }

// RawPayload returns a copy of the gateway payload.
func (e PaymentEvent) RawPayload() map[string]any {
	out := make(map[string]any, len(e.rawPayload))
	for k, v := range e.rawPayload {
		out[k] = v
	}
	return out
}
