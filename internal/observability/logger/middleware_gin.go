package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	"github.com/smallbiznis/storefront/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier maps a handler error to (type, code) log fields.
	ErrorClassifier func(err error) (string, string)
}

// Outcomes that indicate a suspicious or contended delivery rather than a
// client mistake. Requests ending in one of these log at warn.
var warnOutcomes = map[string]bool{
	"signature_mismatch": true,
	"rate_limited":       true,
	"conflict":           true,
	"oversold_cascade":   true,
	"retries_exhausted":  true,
	"timeout":            true,
}

// GinMiddleware assigns the request id and writes one access line per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)

		// a caller-supplied correlation id ties our lines to its own logs
		correlationID := strings.TrimSpace(c.GetHeader(correlation.HeaderCorrelationID))
		if correlationID == "" {
			correlationID = ulid.Make().String()
		}
		c.Header(correlation.HeaderCorrelationID, correlationID)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx = correlation.WithID(ctx, correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		outcome := c.GetString("outcome")

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if txID := c.GetString("transaction_id"); txID != "" {
			fields = append(fields, zap.String("transaction_id", txID))
		}
		if outcome != "" {
			fields = append(fields, zap.String("outcome", outcome))
		}

		var errType string
		if lastErr := c.Errors.Last(); lastErr != nil {
			var errCode string
			if cfg.ErrorClassifier != nil {
				errType, errCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields, zap.String("error_type", errType), zap.String("error_code", errCode))
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		if ce := FromContext(c.Request.Context()).Check(accessLevel(route, status, outcome, errType), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func accessLevel(route string, status int, outcome, errType string) zapcore.Level {
	switch {
	case route == "/health" || route == "/metrics":
		return zapcore.DebugLevel
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case warnOutcomes[outcome]:
		return zapcore.WarnLevel
	case errType == "validation_error":
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
