package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	idemdomain "github.com/smallbiznis/storefront/internal/idempotency/domain"
	inventorydomain "github.com/smallbiznis/storefront/internal/inventory/domain"
	obslogger "github.com/smallbiznis/storefront/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/observability/tracing"
	"github.com/smallbiznis/storefront/internal/order/domain"
	intentdomain "github.com/smallbiznis/storefront/internal/orderintent/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/retry"
	"github.com/smallbiznis/storefront/pkg/db"
	"github.com/smallbiznis/storefront/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	outcomeCreated   = "created"
	outcomeDuplicate = "duplicate"
	outcomeFailed    = "failed"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	Idempotency idemdomain.Service
	Inventory   inventorydomain.Service
	Intents     intentdomain.Lookup
	Pipeline    *config.PipelineConfigHolder
	Listener    domain.Listener             `optional:"true"`
	Metrics     *obsmetrics.PipelineMetrics `optional:"true"`
	OtelMetrics *obsmetrics.Metrics         `optional:"true"`
}

type Materializer struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	idempotency idemdomain.Service
	inventory   inventorydomain.Service
	intents     intentdomain.Lookup
	pipeline    *config.PipelineConfigHolder
	listener    domain.Listener
	metrics     *obsmetrics.PipelineMetrics
	otelMetrics *obsmetrics.Metrics
}

func NewMaterializer(p Params) domain.Materializer {
	return &Materializer{
		db:          p.DB,
		log:         p.Log.Named("order.materializer"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		idempotency: p.Idempotency,
		inventory:   p.Inventory,
		intents:     p.Intents,
		pipeline:    p.Pipeline,
		listener:    p.Listener,
		metrics:     p.Metrics,
		otelMetrics: p.OtelMetrics,
	}
}

// Materialize turns a verified payment into exactly one order.
func (m *Materializer) Materialize(ctx context.Context, event paymentdomain.PaymentEvent) (*domain.Order, error) {
	ctx, span := otel.Tracer("storefront/order").Start(ctx, "order.materialize")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("payment.gateway", string(event.Gateway())),
		attribute.String("payment.transaction_id", event.TransactionID()),
		attribute.String("order.reference", event.OrderReference()),
	)...)

	start := m.clock.Now()
	order, outcome, err := m.materialize(ctx, event, start)
	m.metrics.ObserveMaterialize(outcome, m.clock.Now().Sub(start))
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "materialize failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID.String()), attribute.String("payment.outcome", outcome))
	return order, nil
}

func (m *Materializer) materialize(ctx context.Context, event paymentdomain.PaymentEvent, start time.Time) (*domain.Order, string, error) {
	cfg := m.pipeline.Get()
	deadline := start.Add(cfg.MaterializeBudget)
	txID := event.TransactionID()
	log := obslogger.WithTransaction(obslogger.WithContext(ctx, m.log), txID).
		With(zap.String("gateway", string(event.Gateway())), zap.String("order_reference", event.OrderReference()))

	claim, err := m.idempotency.BeginProcessing(ctx, txID)
	if err != nil {
		if errors.Is(err, idemdomain.ErrRetriesExhausted) {
			log.Error("transaction exhausted its attempts")
			return nil, outcomeFailed, domain.NewMaterializeError(domain.ErrRetriesExhausted, err)
		}
		return nil, outcomeFailed, fmt.Errorf("begin processing: %w", err)
	}

	switch claim.Outcome {
	case idemdomain.OutcomeAlreadyCompleted:
		order, err := m.repo.FindByID(ctx, m.db, claim.OrderID)
		if err != nil {
			return nil, outcomeFailed, fmt.Errorf("load order %s: %w", claim.OrderID, err)
		}
		if order == nil {
			return nil, outcomeFailed, fmt.Errorf("load order %s: %w", claim.OrderID, domain.ErrOrderNotFound)
		}
		log.Info("duplicate delivery", zap.String("order_id", order.ID.String()))
		return order, outcomeDuplicate, nil
	case idemdomain.OutcomeAlreadyInFlight:
		return nil, outcomeFailed, domain.NewMaterializeError(domain.ErrConflict, nil)
	}

	lease := claim.Lease
	log = log.With(zap.Int("attempt", lease.Attempt))

	// An earlier attempt may have written the order and lost the lease before
	// recording it. Its stock is already taken.
	existing, err := m.repo.FindByTransactionID(ctx, m.db, txID)
	if err != nil {
		err = fmt.Errorf("find order for transaction: %w", err)
		m.fail(ctx, log, lease, err)
		return nil, outcomeFailed, err
	}
	if existing != nil {
		m.complete(correlation.Detach(ctx), log, lease, existing.ID)
		log.Warn("order recovered for reclaimed transaction", zap.String("order_id", existing.ID.String()))
		return existing, outcomeDuplicate, nil
	}

	// Before any stock moves the caller's cancellation and the budget still apply.
	if err := m.checkBudget(ctx, deadline); err != nil {
		m.fail(ctx, log, lease, err)
		return nil, outcomeFailed, err
	}

	snapshot, err := m.intents.FindByReference(ctx, event.OrderReference())
	if err != nil {
		if errors.Is(err, intentdomain.ErrNotFound) {
			err = domain.NewMaterializeError(domain.ErrUnknownReference, err)
		}
		m.fail(ctx, log, lease, err)
		return nil, outcomeFailed, err
	}

	if err := checkAmount(event, snapshot, cfg.Epsilon()); err != nil {
		log.Warn("payment amount mismatch",
			zap.String("paid", event.Amount().String()),
			zap.String("expected", snapshot.GrandTotal().String()),
			zap.String("currency", event.Currency()),
		)
		m.fail(ctx, log, lease, err)
		return nil, outcomeFailed, err
	}

	if err := m.checkBudget(ctx, deadline); err != nil {
		m.fail(ctx, log, lease, err)
		return nil, outcomeFailed, err
	}

	// From here the work always reaches a terminal lease state.
	work := correlation.Detach(ctx)

	adjustments, err := m.takeStock(work, log, txID, snapshot.Items)
	if err != nil {
		m.fail(work, log, lease, err)
		return nil, outcomeFailed, err
	}

	order := m.buildOrder(event, snapshot)
	written, err := m.writeOrder(work, order)
	if err != nil {
		m.compensate(work, log, txID, adjustments)
		m.fail(work, log, lease, err)
		return nil, outcomeFailed, err
	}
	if written.ID != order.ID {
		// another worker already wrote this transaction; ours is redundant
		log.Warn("order already written for transaction", zap.String("order_id", written.ID.String()))
		m.compensate(work, log, txID, adjustments)
		adjustments = nil
	}

	m.complete(work, log, lease, written.ID)

	m.otelMetrics.RecordOrderMaterialized(work, string(event.Gateway()), written.Currency, written.GrandTotal.InexactFloat64())
	log.Info("order materialized",
		zap.String("order_id", written.ID.String()),
		zap.String("grand_total", written.GrandTotal.StringFixed(2)),
		zap.Int("items", len(written.Items)),
	)

	if m.listener != nil {
		m.listener.OnOrderMaterialized(work, domain.Materialized{Order: *written, Adjustments: adjustments})
	}
	return written, outcomeCreated, nil
}

func (m *Materializer) checkBudget(ctx context.Context, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return domain.NewMaterializeError(domain.ErrTimeout, err)
	}
	if m.clock.Now().After(deadline) {
		return domain.NewMaterializeError(domain.ErrTimeout, nil)
	}
	return nil
}

func checkAmount(event paymentdomain.PaymentEvent, snapshot *intentdomain.Snapshot, epsilon decimal.Decimal) error {
	if event.Currency() != snapshot.Currency {
		return domain.NewMaterializeError(domain.ErrAmountMismatch,
			fmt.Errorf("currency %s, expected %s", event.Currency(), snapshot.Currency))
	}
	expected := snapshot.GrandTotal()
	if event.Amount().Sub(expected).Abs().GreaterThan(epsilon) {
		return domain.NewMaterializeError(domain.ErrAmountMismatch,
			fmt.Errorf("paid %s, expected %s", event.Amount(), expected))
	}
	return nil
}

// takeStock decrements every line item or none of them.
func (m *Materializer) takeStock(ctx context.Context, log *zap.Logger, txID string, items []intentdomain.Item) ([]inventorydomain.Adjustment, error) {
	applied := make([]inventorydomain.Adjustment, 0, len(items))
	for _, item := range items {
		adj, err := m.inventory.Adjust(ctx, item.ProductID, -item.Quantity, inventorydomain.OrderReason(txID))
		if err != nil {
			log.Warn("stock adjustment failed",
				zap.String("product_id", item.ProductID.String()),
				zap.Int("quantity", item.Quantity),
				zap.Error(err),
			)
			m.compensate(ctx, log, txID, applied)
			if errors.Is(err, inventorydomain.ErrInsufficientStock) || errors.Is(err, inventorydomain.ErrProductNotFound) {
				return nil, domain.NewMaterializeError(domain.ErrOversoldCascade, err)
			}
			return nil, fmt.Errorf("adjust stock: %w", err)
		}
		applied = append(applied, *adj)
	}
	return applied, nil
}

func (m *Materializer) compensate(ctx context.Context, log *zap.Logger, txID string, applied []inventorydomain.Adjustment) {
	policy := m.retryPolicy("compensate")
	for i := len(applied) - 1; i >= 0; i-- {
		adj := applied[i]
		_, err := retry.Do(ctx, policy, func(ctx context.Context) (*inventorydomain.Adjustment, error) {
			return m.inventory.Adjust(ctx, adj.ProductID, -adj.DeltaQuantity, inventorydomain.CompensationReason(txID))
		})
		if err != nil {
			log.Error("stock compensation failed",
				zap.String("product_id", adj.ProductID.String()),
				zap.Int("quantity", -adj.DeltaQuantity),
				zap.Error(err),
			)
			continue
		}
		m.metrics.IncCompensation()
	}
}

func (m *Materializer) buildOrder(event paymentdomain.PaymentEvent, snapshot *intentdomain.Snapshot) *domain.Order {
	now := m.clock.Now()
	orderID := m.genID.Generate()

	items := make([]domain.OrderItem, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		items = append(items, domain.OrderItem{
			ID:                  m.genID.Generate(),
			OrderID:             orderID,
			ProductID:           item.ProductID,
			Quantity:            item.Quantity,
			UnitPriceAtPurchase: item.UnitPrice,
		})
	}

	return &domain.Order{
		ID:                   orderID,
		BuyerRef:             snapshot.BuyerRef,
		BuyerEmail:           snapshot.BuyerEmail,
		OrderReference:       snapshot.Reference,
		Subtotal:             snapshot.ItemsSubtotal(),
		Tax:                  snapshot.Tax,
		Shipping:             snapshot.Shipping,
		GrandTotal:           snapshot.GrandTotal(),
		Currency:             snapshot.Currency,
		Status:               domain.StatusPending,
		PaymentGateway:       string(event.Gateway()),
		PaymentTransactionID: event.TransactionID(),
		PaymentPayload:       datatypes.JSONMap(event.RawPayload()),
		CreatedAt:            now,
		UpdatedAt:            now,
		Items:                items,
	}
}

// writeOrder persists order and items, retrying transient failures. A
// unique violation on the transaction id returns the row already stored.
func (m *Materializer) writeOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	_, err := retry.Do(ctx, m.retryPolicy("order_write"), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return m.repo.Insert(ctx, tx, order)
		})
	})
	if err == nil {
		return order, nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return nil, fmt.Errorf("write order: %w", err)
	}

	existing, findErr := m.repo.FindByTransactionID(ctx, m.db, order.PaymentTransactionID)
	if findErr != nil {
		return nil, fmt.Errorf("write order: %w", errors.Join(err, findErr))
	}
	if existing == nil {
		return nil, fmt.Errorf("write order: %w", err)
	}
	return existing, nil
}

func (m *Materializer) retryPolicy(operation string) retry.Policy {
	policy := retry.FromConfig(m.pipeline.Get().Retry)
	policy.IsRetryable = func(err error) bool {
		return retry.DefaultIsRetryable(err) || db.IsTransientTxErr(err)
	}
	policy.OnRetry = func(err error, delay time.Duration) {
		m.metrics.IncRetry(operation, err)
		m.log.Warn("retrying operation",
			zap.String("operation", operation),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
	return policy
}

// complete records orderID on the lease, retrying transient failures. When it
// still fails the lease is reaped and the next delivery finds the order by
// its transaction id.
func (m *Materializer) complete(ctx context.Context, log *zap.Logger, lease idemdomain.Lease, orderID snowflake.ID) {
	_, err := retry.Do(ctx, m.retryPolicy("lease_complete"), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.idempotency.Complete(ctx, lease, orderID)
	})
	if err != nil {
		log.Error("failed to complete lease", zap.String("order_id", orderID.String()), zap.Error(err))
	}
}

// fail resolves the lease to FAILED. It runs detached so a cancelled request
// still releases the lease for retry.
func (m *Materializer) fail(ctx context.Context, log *zap.Logger, lease idemdomain.Lease, cause error) {
	if err := m.idempotency.Fail(correlation.Detach(ctx), lease, cause); err != nil {
		log.Error("failed to release lease", zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	log.Info("materialization failed", zap.Error(cause))
}
