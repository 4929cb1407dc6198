package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	obstracing "github.com/smallbiznis/storefront/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	paymentservice "github.com/smallbiznis/storefront/internal/payment/service"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// PaymentCallback handles the buyer's browser returning from a redirect gateway.
// The buyer only ever sees a success page or a failure page with a short code.
func (s *Server) PaymentCallback(c *gin.Context) {
	ctx := c.Request.Context()
	gateway := strings.TrimSpace(c.Param("gateway"))
	query := c.Request.URL.Query()

	res, err := s.payments.Process(ctx, gateway, paymentdomain.StyleRedirect, paymentdomain.RawRequest{
		Query:  query,
		Header: c.Request.Header,
	})
	markOutcome(c, res, err)
	if err != nil {
		logger.FromContext(ctx).Warn("payment callback failed",
			zap.String("gateway", gateway),
			zap.String("transaction_id", res.Event.TransactionID()),
			zap.Error(err),
		)
		c.Redirect(http.StatusFound, failureURL(s.cfg.Redirect.FailureURL, errorCode(err)))
		return
	}
	if res.Ignored || res.Order == nil {
		c.Redirect(http.StatusFound, failureURL(s.cfg.Redirect.FailureURL, paymentdomain.ErrPaymentNotCompleted.Error()))
		return
	}

	query.Set("order_id", res.Order.ID.String())
	c.Redirect(http.StatusFound, withQuery(s.cfg.Redirect.SuccessURL, query))
}

// PaymentWebhook handles signed server-to-server deliveries. Non-2xx answers
// make the gateway redeliver, so duplicates and ignored events return 200.
func (s *Server) PaymentWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	gateway := strings.TrimSpace(c.Param("gateway"))

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.payments.Process(ctx, gateway, paymentdomain.StyleWebhook, paymentdomain.RawRequest{
		Query:  c.Request.URL.Query(),
		Body:   body,
		Header: c.Request.Header,
	})
	markOutcome(c, res, err)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if res.Ignored || res.Order == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "order_id": res.Order.ID.String()})
}

func markOutcome(c *gin.Context, res paymentservice.Result, err error) {
	if txID := res.Event.TransactionID(); txID != "" {
		c.Set(obstracing.KeyTransactionID, txID)
	}
	switch {
	case err != nil:
		c.Set(obstracing.KeyOutcome, errorCode(err))
	case res.Ignored:
		c.Set(obstracing.KeyOutcome, paymentservice.OutcomeIgnored)
	default:
		c.Set(obstracing.KeyOutcome, paymentservice.OutcomeProcessed)
	}
}
