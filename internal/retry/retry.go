// Package retry runs transient operations with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/storefront/internal/config"
)

// Policy bounds a retried operation. Delay before attempt n+1 is
// min(Base*2^(n-1), Cap) with no jitter.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
	IsRetryable func(error) bool
	// OnRetry observes each failed attempt that will be retried.
	OnRetry func(err error, delay time.Duration)
}

func DefaultPolicy() Policy {
	return FromConfig(config.DefaultPipelineConfig().Retry)
}

func FromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		Base:        cfg.Base,
		Cap:         cfg.Cap,
		IsRetryable: DefaultIsRetryable,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.Base <= 0 {
		p.Base = time.Second
	}
	if p.Cap < p.Base {
		p.Cap = p.Base
	}
	if p.IsRetryable == nil {
		p.IsRetryable = DefaultIsRetryable
	}
	return p
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.Base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.Cap,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts
// MaxAttempts or ctx is done. The last error is returned unwrapped.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	operation := func() (T, error) {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil || !p.IsRetryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(p.OnRetry))
	}
	return backoff.Retry(ctx, operation, opts...)
}

// DefaultIsRetryable reports whether err is a transient network or
// storage failure worth another attempt.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}
