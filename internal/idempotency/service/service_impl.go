package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/idempotency/domain"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxLastErrorLen = 512

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     domain.Repository
	Pipeline *config.PipelineConfigHolder
	Metrics  *obsmetrics.PipelineMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	pipeline *config.PipelineConfigHolder
	metrics  *obsmetrics.PipelineMetrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("idempotency.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		pipeline: p.Pipeline,
		metrics:  p.Metrics,
	}
}

// BeginProcessing claims transactionID. It fails fast: the store is never
// retried so a slow claim cannot starve other deliveries.
func (s *Service) BeginProcessing(ctx context.Context, transactionID string) (domain.Claim, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.Claim{}, domain.ErrInvalidTransactionID
	}

	now := s.clock.Now()
	token := uuid.NewString()
	inserted, err := s.repo.Insert(ctx, s.db, transactionID, token, now)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("claim %s: %w", transactionID, err)
	}
	if inserted {
		s.metrics.IncClaim(obsmetrics.ClaimAcquired)
		return acquired(transactionID, token, 1, now), nil
	}

	record, err := s.repo.Get(ctx, s.db, transactionID)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("load claim %s: %w", transactionID, err)
	}

	switch record.Status {
	case domain.StatusCompleted:
		s.metrics.IncClaim(obsmetrics.ClaimDuplicate)
		if record.OrderID == nil {
			return domain.Claim{}, fmt.Errorf("claim %s completed without order", transactionID)
		}
		return domain.Claim{Outcome: domain.OutcomeAlreadyCompleted, OrderID: *record.OrderID}, nil
	case domain.StatusPending:
		s.metrics.IncClaim(obsmetrics.ClaimInFlight)
		return domain.Claim{Outcome: domain.OutcomeAlreadyInFlight}, nil
	case domain.StatusFailed:
		return s.retryFailed(ctx, record, now)
	default:
		return domain.Claim{}, fmt.Errorf("claim %s: unknown status %q", transactionID, record.Status)
	}
}

func (s *Service) retryFailed(ctx context.Context, record *domain.Record, now time.Time) (domain.Claim, error) {
	lease := s.pipeline.Get().Lease
	if record.Attempts >= lease.MaxAttempts {
		s.metrics.IncClaim(obsmetrics.ClaimExhausted)
		return domain.Claim{}, domain.ErrRetriesExhausted
	}
	if record.FailedAt != nil && now.Sub(*record.FailedAt) < lease.RetryCooldown {
		s.metrics.IncClaim(obsmetrics.ClaimInFlight)
		return domain.Claim{Outcome: domain.OutcomeAlreadyInFlight}, nil
	}

	token := uuid.NewString()
	won, err := s.repo.Reclaim(ctx, s.db, record.TransactionID, record.LeaseToken, record.Attempts, token, now)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("reclaim %s: %w", record.TransactionID, err)
	}
	if !won {
		s.metrics.IncClaim(obsmetrics.ClaimInFlight)
		return domain.Claim{Outcome: domain.OutcomeAlreadyInFlight}, nil
	}

	s.metrics.IncClaim(obsmetrics.ClaimAcquired)
	s.log.Info("retrying failed transaction",
		zap.String("transaction_id", record.TransactionID),
		zap.Int("attempt", record.Attempts+1),
	)
	return acquired(record.TransactionID, token, record.Attempts+1, now), nil
}

func (s *Service) Complete(ctx context.Context, lease domain.Lease, orderID snowflake.ID) error {
	ok, err := s.repo.MarkCompleted(ctx, s.db, lease.TransactionID, lease.Token, orderID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("complete %s: %w", lease.TransactionID, err)
	}
	if !ok {
		return domain.ErrLeaseLost
	}
	return nil
}

func (s *Service) Fail(ctx context.Context, lease domain.Lease, cause error) error {
	msg := "unknown"
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxLastErrorLen {
		msg = msg[:maxLastErrorLen]
	}

	ok, err := s.repo.MarkFailed(ctx, s.db, lease.TransactionID, lease.Token, msg, s.clock.Now())
	if err != nil {
		return fmt.Errorf("fail %s: %w", lease.TransactionID, err)
	}
	if !ok {
		return domain.ErrLeaseLost
	}
	return nil
}

// ReapStuck fails leases held longer than the lease TTL. failed_at is
// backdated by the cooldown so the next delivery can retry immediately.
func (s *Service) ReapStuck(ctx context.Context) (int, error) {
	cfg := s.pipeline.Get().Lease
	now := s.clock.Now()
	batch := cfg.ReapBatchSize
	if batch <= 0 {
		batch = 100
	}

	total := 0
	for {
		n, err := s.repo.ExpireStale(ctx, s.db, now.Add(-cfg.TTL), now.Add(-cfg.RetryCooldown), batch)
		if err != nil {
			return total, fmt.Errorf("reap stuck leases: %w", err)
		}
		total += n
		if n < batch {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}

	if total > 0 {
		s.metrics.AddReaped(total)
		s.log.Warn("reaped stuck leases", zap.Int("count", total))
	}
	return total, nil
}

func acquired(transactionID, token string, attempt int, now time.Time) domain.Claim {
	return domain.Claim{
		Outcome: domain.OutcomeAcquired,
		Lease: domain.Lease{
			TransactionID: transactionID,
			Token:         token,
			Attempt:       attempt,
			AcquiredAt:    now,
		},
	}
}
