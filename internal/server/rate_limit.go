package server

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	obstracing "github.com/smallbiznis/storefront/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"go.uber.org/zap"
)

const outcomeRateLimited = "rate_limited"

// GatewayRateLimit throttles gateway deliveries per gateway and client.
// Redirect callbacks are sent to the failure page, webhooks get 429.
func (s *Server) GatewayRateLimit(style paymentdomain.Style) gin.HandlerFunc {
	return func(c *gin.Context) {
		gateway := strings.ToLower(strings.TrimSpace(c.Param("gateway")))
		wait, err := s.limiter.Allow(c.Request.Context(), gateway, c.ClientIP())
		if err == nil {
			c.Next()
			return
		}

		logger.FromContext(c.Request.Context()).Warn("gateway rate limit exceeded",
			zap.String("gateway", gateway),
			zap.String("style", style.String()),
			zap.Duration("retry_after", wait),
		)
		s.metrics.IncWebhook(gateway, outcomeRateLimited)
		c.Set(obstracing.KeyOutcome, outcomeRateLimited)

		if style == paymentdomain.StyleRedirect {
			c.Redirect(http.StatusFound, failureURL(s.cfg.Redirect.FailureURL, outcomeRateLimited))
			c.Abort()
			return
		}
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		AbortWithError(c, err)
	}
}

func retryAfterSeconds(wait time.Duration) int {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
