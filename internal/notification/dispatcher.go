// Package notification reacts to materialized orders: it drops cached views
// derived from the order and its products, emails the buyer and raises
// low-stock alerts. Work runs on a bounded pool and never blocks the caller.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/smallbiznis/storefront/internal/cache"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	obslogger "github.com/smallbiznis/storefront/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/providers/alert"
	"github.com/smallbiznis/storefront/internal/providers/email"
	"github.com/smallbiznis/storefront/internal/retry"
	"github.com/smallbiznis/storefront/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	KindCacheInvalidation = "cache_invalidation"
	KindConfirmationEmail = "confirmation_email"
	KindLowStockAlert     = "low_stock_alert"

	taskTimeout = 30 * time.Second
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Cache    cache.Store
	Email    email.Provider
	Alerts   alert.Provider
	Pipeline *config.PipelineConfigHolder
	Metrics  *obsmetrics.PipelineMetrics `optional:"true"`
}

// task carries the detached context of the order that produced it so the
// correlation id reaches outbound calls.
type task struct {
	ctx     context.Context
	kind    string
	orderID string
	run     func(ctx context.Context) error
}

// Dispatcher implements the order listener.
type Dispatcher struct {
	log     *zap.Logger
	clock   clock.Clock
	cache   cache.Store
	email   email.Provider
	alerts  alert.Provider
	metrics *obsmetrics.PipelineMetrics
	cfg     config.NotificationConfig

	mu      sync.RWMutex
	closed  bool
	started bool
	queue   chan task
	wg      sync.WaitGroup
}

func NewDispatcher(p Params) *Dispatcher {
	cfg := p.Pipeline.Get().Notification
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	return &Dispatcher{
		log:     p.Log.Named("notification"),
		clock:   p.Clock,
		cache:   p.Cache,
		email:   p.Email,
		alerts:  p.Alerts,
		metrics: p.Metrics,
		cfg:     cfg,
		queue:   make(chan task, cfg.QueueSize),
	}
}

// OnOrderMaterialized enqueues follow-up work and returns immediately.
func (d *Dispatcher) OnOrderMaterialized(ctx context.Context, event orderdomain.Materialized) {
	if ctx == nil {
		ctx = context.Background()
	}
	taskCtx := correlation.Detach(ctx)
	order := event.Order
	orderID := order.ID.String()

	tags := []string{cache.TagOrdersList, cache.TagInventorySummary}
	if order.BuyerRef != "" {
		tags = append(tags, cache.BuyerOrdersTag(order.BuyerRef))
	}
	for _, item := range order.Items {
		tags = append(tags, cache.ProductTag(item.ProductID.String()))
	}
	d.enqueue(task{ctx: taskCtx, kind: KindCacheInvalidation, orderID: orderID, run: func(ctx context.Context) error {
		_, err := d.cache.Invalidate(ctx, tags...)
		return err
	}})

	if order.BuyerEmail != "" {
		view := confirmationView(order)
		to := []string{order.BuyerEmail}
		d.enqueue(task{ctx: taskCtx, kind: KindConfirmationEmail, orderID: orderID, run: func(ctx context.Context) error {
			return d.email.SendTemplate(ctx, to, email.TemplateOrderConfirmation, view)
		}})
	}

	for _, adj := range event.Adjustments {
		if !adj.CrossedLowStock {
			continue
		}
		a := alert.Alert{
			Kind:     KindLowStockAlert,
			Severity: alert.SeverityWarning,
			Title:    "Low stock",
			Message:  fmt.Sprintf("product %s has %d left", adj.ProductID, adj.ResultingQuantity),
			Fields: map[string]string{
				"product_id":         adj.ProductID.String(),
				"resulting_quantity": strconv.Itoa(adj.ResultingQuantity),
				"order_id":           orderID,
			},
			At: d.clock.Now(),
		}
		d.enqueue(task{ctx: taskCtx, kind: KindLowStockAlert, orderID: orderID, run: func(ctx context.Context) error {
			return d.alerts.Notify(ctx, a)
		}})
	}
}

func (d *Dispatcher) enqueue(t task) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(t, "dispatcher stopped")
		return
	}
	select {
	case d.queue <- t:
	default:
		d.drop(t, "queue full")
	}
}

func (d *Dispatcher) drop(t task, reason string) {
	d.metrics.IncNotificationDropped(t.kind)
	d.log.Warn("notification dropped",
		zap.String("kind", t.kind),
		zap.String("order_id", t.orderID),
		zap.String("reason", reason),
	)
}

// Start launches the worker pool. It is safe to call once.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
}

// Stop rejects new work and waits for queued tasks to finish or ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	started := d.started
	d.mu.Unlock()

	if !started {
		for t := range d.queue {
			d.drop(t, "dispatcher never started")
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for t := range d.queue {
		d.run(t)
	}
}

func (d *Dispatcher) run(t task) {
	log := obslogger.WithContext(t.ctx, d.log).
		With(zap.String("kind", t.kind), zap.String("order_id", t.orderID))
	policy := retry.Policy{
		MaxAttempts: d.cfg.MaxAttempts,
		Base:        d.cfg.Base,
		Cap:         d.cfg.Cap,
		IsRetryable: func(err error) bool { return !errors.Is(err, context.Canceled) },
		OnRetry: func(err error, delay time.Duration) {
			log.Debug("notification attempt failed", zap.Duration("delay", delay), zap.Error(err))
		},
	}

	parent := t.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, taskTimeout)
	defer cancel()

	_, err := retry.Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.run(ctx)
	})
	if err != nil {
		d.metrics.IncNotificationFailure(t.kind)
		log.Error("notification failed", zap.Error(err))
		return
	}
	d.metrics.IncNotificationDelivered(t.kind)
}

func confirmationView(order orderdomain.Order) email.OrderConfirmation {
	items := make([]email.OrderConfirmationItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, email.OrderConfirmationItem{
			ProductID: item.ProductID.String(),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPriceAtPurchase.StringFixed(2),
		})
	}
	return email.OrderConfirmation{
		OrderID:        order.ID.String(),
		OrderReference: order.OrderReference,
		GrandTotal:     order.GrandTotal.StringFixed(2),
		Currency:       order.Currency,
		Items:          items,
	}
}
