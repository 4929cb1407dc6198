package tracing

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Handlers publish these keys on the gin context; the span picks them up.
const (
	KeyOutcome       = "outcome"
	KeyTransactionID = "transaction_id"
)

// GinMiddleware opens a server span per request. Gateway callbacks carry the
// gateway name in the context and baggage so the pipeline's child spans and
// log lines share it.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("storefront/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		members := make([]baggage.Member, 0, 2)
		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			if m, err := baggage.NewMember("request_id", requestID); err == nil {
				members = append(members, m)
			}
		}
		if gateway := c.Param("gateway"); gateway != "" {
			ctx = obscontext.WithGateway(ctx, gateway)
			if m, err := baggage.NewMember("payment_gateway", gateway); err == nil {
				members = append(members, m)
			}
		}
		if bag, err := baggage.New(members...); err == nil && len(members) > 0 {
			ctx = baggage.ContextWithBaggage(ctx, bag)
		}

		ctx, span := tracer.Start(ctx, c.Request.Method+" "+routeOf(c), trace.WithSpanKind(trace.SpanKindServer))
		c.Request = c.Request.WithContext(ctx)
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(SafeAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", routeOf(c)),
			attribute.Int("http.status_code", status),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
			attribute.String("payment.gateway", c.Param("gateway")),
			attribute.String("payment.transaction_id", c.GetString(KeyTransactionID)),
			attribute.String("payment.outcome", c.GetString(KeyOutcome)),
		)...)
		endWithStatus(c, span, status)
	}
}

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unknown"
}

// Redirect-style callbacks answer 302 even on failure, so the recorded
// outcome decides the span status for them.
func endWithStatus(c *gin.Context, span trace.Span, status int) {
	defer span.End()

	failed := status >= http.StatusInternalServerError
	if outcome := c.GetString(KeyOutcome); status == http.StatusFound && outcome != "" && outcome != "processed" && outcome != "ignored" {
		failed = true
	}
	if !failed {
		return
	}
	if lastErr := c.Errors.Last(); lastErr != nil {
		if safeErr := SafeError(lastErr.Err); safeErr != nil {
			span.RecordError(safeErr)
		}
	}
	span.SetStatus(codes.Error, "request error")
}
