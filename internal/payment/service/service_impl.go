package service

import (
	"context"
	"errors"

	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Outcomes recorded per delivery.
const (
	OutcomeProcessed = "processed"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

type Params struct {
	fx.In

	Log          *zap.Logger
	Registry     *adapters.Registry
	Materializer orderdomain.Materializer
	Metrics      *obsmetrics.PipelineMetrics `optional:"true"`
	OtelMetrics  *obsmetrics.Metrics         `optional:"true"`
}

// Service verifies a gateway delivery and hands the event to the materializer.
type Service struct {
	log          *zap.Logger
	registry     *adapters.Registry
	materializer orderdomain.Materializer
	metrics      *obsmetrics.PipelineMetrics
	otelMetrics  *obsmetrics.Metrics
}

// Result is Ignored for acknowledged non-payment webhook events, otherwise
// Order is set.
type Result struct {
	Event   paymentdomain.PaymentEvent
	Order   *orderdomain.Order
	Ignored bool
}

func NewService(p Params) *Service {
	return &Service{
		log:          p.Log.Named("payment.service"),
		registry:     p.Registry,
		materializer: p.Materializer,
		metrics:      p.Metrics,
		otelMetrics:  p.OtelMetrics,
	}
}

func (s *Service) Process(ctx context.Context, gateway string, style paymentdomain.Style, raw paymentdomain.RawRequest) (Result, error) {
	event, err := s.registry.ParseStyle(ctx, gateway, style, raw)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.record(ctx, gateway, OutcomeIgnored)
			return Result{Ignored: true}, nil
		}
		s.log.Warn("payment rejected", zap.String("gateway", gateway), zap.String("style", style.String()), zap.Error(err))
		s.record(ctx, gateway, OutcomeRejected)
		return Result{}, err
	}

	order, err := s.materializer.Materialize(ctx, event)
	s.record(ctx, gateway, Outcome(err))
	if err != nil {
		return Result{Event: event}, err
	}
	return Result{Event: event, Order: order}, nil
}

func (s *Service) record(ctx context.Context, gateway, outcome string) {
	s.metrics.IncWebhook(gateway, outcome)
	s.otelMetrics.RecordPaymentEvent(ctx, gateway, outcome)
}

// Outcome labels a materialize result by its error kind.
func Outcome(err error) string {
	if err == nil {
		return OutcomeProcessed
	}
	if kind := orderdomain.Kind(err); kind != nil {
		return kind.Error()
	}
	return OutcomeError
}
