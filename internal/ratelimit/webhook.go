package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/storefront/internal/config"
	"go.uber.org/zap"
)

var ErrRateLimited = errors.New("rate_limited")

const webhookKeyPrefix = "storefront:ratelimit:webhook:"

// WebhookLimiter throttles gateway callbacks per gateway and client address.
// A nil limiter, or one without redis, allows everything.
type WebhookLimiter struct {
	bucket *TokenBucket
	policy Policy
	log    *zap.Logger
}

func NewWebhookLimiter(client *redis.Client, cfg config.Config, log *zap.Logger) *WebhookLimiter {
	return &WebhookLimiter{
		bucket: NewTokenBucket(client),
		policy: Policy{Rate: cfg.Webhook.RatePerSecond, Burst: cfg.Webhook.Burst},
		log:    log.Named("ratelimit.webhook"),
	}
}

// Allow returns ErrRateLimited with the suggested wait when the bucket is empty.
// Redis failures fail open.
func (l *WebhookLimiter) Allow(ctx context.Context, gateway, clientIP string) (time.Duration, error) {
	if l == nil || l.bucket == nil || l.policy.validate() != nil {
		return 0, nil
	}

	key := webhookKeyPrefix + strings.ToLower(strings.TrimSpace(gateway)) + ":" + strings.TrimSpace(clientIP)
	res, err := l.bucket.Take(ctx, key, l.policy)
	if err != nil {
		l.log.Warn("webhook rate limit check failed", zap.String("gateway", gateway), zap.Error(err))
		return 0, nil
	}
	if !res.Allowed {
		return res.RetryAfter, ErrRateLimited
	}
	return 0, nil
}
