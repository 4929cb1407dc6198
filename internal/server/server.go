package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/storefront/internal/authorization"
	"github.com/smallbiznis/storefront/internal/cache"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/idempotency"
	"github.com/smallbiznis/storefront/internal/inventory"
	inventorydomain "github.com/smallbiznis/storefront/internal/inventory/domain"
	"github.com/smallbiznis/storefront/internal/notification"
	"github.com/smallbiznis/storefront/internal/observability"
	obsmiddleware "github.com/smallbiznis/storefront/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	obstracing "github.com/smallbiznis/storefront/internal/observability/tracing"
	"github.com/smallbiznis/storefront/internal/order"
	"github.com/smallbiznis/storefront/internal/orderintent"
	"github.com/smallbiznis/storefront/internal/payment"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	paymentservice "github.com/smallbiznis/storefront/internal/payment/service"
	"github.com/smallbiznis/storefront/internal/providers"
	"github.com/smallbiznis/storefront/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	cache.Module,
	providers.Module,
	notification.Module,
	ratelimit.Module,
	payment.Module,
	idempotency.Module,
	inventory.Module,
	orderintent.Module,
	order.Module,
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

// PaymentProcessor verifies one gateway delivery and materializes its order.
type PaymentProcessor interface {
	Process(ctx context.Context, gateway string, style paymentdomain.Style, raw paymentdomain.RawRequest) (paymentservice.Result, error)
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	payments     PaymentProcessor
	inventorySvc inventorydomain.Service
	authzSvc     authorization.Service
	cache        cache.Store
	limiter      *ratelimit.WebhookLimiter
	metrics      *obsmetrics.PipelineMetrics
}

type ServerParams struct {
	fx.In

	Engine       *gin.Engine
	Config       config.Config
	Log          *zap.Logger
	Payments     *paymentservice.Service
	InventorySvc inventorydomain.Service
	AuthzSvc     authorization.Service
	Cache        cache.Store
	Limiter      *ratelimit.WebhookLimiter   `optional:"true"`
	Metrics      *obsmetrics.PipelineMetrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:       p.Engine,
		cfg:          p.Config,
		log:          p.Log.Named("http.server"),
		payments:     p.Payments,
		inventorySvc: p.InventorySvc,
		authzSvc:     p.AuthzSvc,
		cache:        p.Cache,
		limiter:      p.Limiter,
		metrics:      p.Metrics,
	}
}

func (s *Server) RegisterRoutes() {
	r := s.engine

	r.GET("/payments/:gateway/callback", s.GatewayRateLimit(paymentdomain.StyleRedirect), s.PaymentCallback)
	r.POST("/webhooks/:gateway", s.GatewayRateLimit(paymentdomain.StyleWebhook), s.PaymentWebhook)

	admin := r.Group("/admin", s.AdminAuthRequired())
	inv := admin.Group("/inventory")
	{
		inv.GET("/summary", s.authorizeAction(authorization.ObjectInventory, authorization.ActionInventoryView), s.InventorySummary)
		inv.GET("/products/:id/adjustments", s.authorizeAction(authorization.ObjectInventory, authorization.ActionInventoryView), s.ListInventoryAdjustments)
		inv.POST("/adjust", s.authorizeAction(authorization.ObjectInventory, authorization.ActionInventoryAdjust), s.AdjustInventory)
		inv.PUT("/bulk", s.authorizeAction(authorization.ObjectInventory, authorization.ActionInventoryAdjust), s.BulkAdjustInventory)
	}
}
