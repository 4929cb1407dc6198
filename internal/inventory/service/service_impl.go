package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/inventory/domain"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Pipeline *config.PipelineConfigHolder
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	pipeline *config.PipelineConfigHolder
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("inventory.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		pipeline: p.Pipeline,
		metrics:  p.Metrics,
	}
}

// Adjust applies delta and appends the audit row in one transaction.
func (s *Service) Adjust(ctx context.Context, productID snowflake.ID, delta int, reason string) (*domain.Adjustment, error) {
	reason = strings.TrimSpace(reason)
	switch {
	case productID == 0:
		return nil, domain.ErrInvalidProductID
	case delta == 0:
		return nil, domain.ErrInvalidDelta
	case reason == "":
		return nil, domain.ErrReasonRequired
	}

	var adj *domain.Adjustment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		applied, err := s.repo.ApplyDelta(ctx, tx, productID, delta, now)
		if err != nil {
			return err
		}

		product, err := s.repo.FindProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		if product == nil {
			return domain.ErrProductNotFound
		}
		if !applied {
			return domain.ErrInsufficientStock
		}

		low := product.TrackStock && product.StockQuantity <= product.LowStockThreshold
		adj = &domain.Adjustment{
			ID:                s.genID.Generate(),
			ProductID:         productID,
			DeltaQuantity:     delta,
			Reason:            reason,
			ResultingQuantity: product.StockQuantity,
			CreatedAt:         now,
			LowStock:          low,
			CrossedLowStock:   low && product.StockQuantity-delta > product.LowStockThreshold,
		}
		return s.repo.InsertAdjustment(ctx, tx, adj)
	})
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) || errors.Is(err, domain.ErrInsufficientStock) {
			return nil, err
		}
		return nil, fmt.Errorf("adjust product %s: %w", productID, err)
	}

	s.metrics.RecordInventoryAdjustment(ctx, domain.ReasonKind(reason), 1)
	s.log.Debug("stock adjusted",
		zap.String("product_id", productID.String()),
		zap.Int("delta", delta),
		zap.String("reason", reason),
		zap.Int("resulting_quantity", adj.ResultingQuantity),
	)
	return adj, nil
}

// BulkAdjust applies each item independently; one failure does not roll
// back the others.
func (s *Service) BulkAdjust(ctx context.Context, items []domain.BulkItem, reason string) (domain.BulkResult, error) {
	if len(items) == 0 {
		return domain.BulkResult{}, domain.ErrEmptyBulk
	}
	if strings.TrimSpace(reason) == "" {
		return domain.BulkResult{}, domain.ErrReasonRequired
	}

	result := domain.BulkResult{Failures: []domain.ItemFailure{}}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := s.Adjust(ctx, item.ProductID, item.Delta, reason); err != nil {
			result.Failures = append(result.Failures, domain.ItemFailure{
				ProductID: item.ProductID,
				Code:      domain.Code(err),
				Err:       err,
			})
			continue
		}
		result.UpdatedCount++
	}

	if len(result.Failures) > 0 {
		s.log.Info("bulk adjustment partially applied",
			zap.Int("updated_count", result.UpdatedCount),
			zap.Int("failure_count", len(result.Failures)),
		)
	}
	return result, nil
}

func (s *Service) Summary(ctx context.Context) (domain.Summary, error) {
	now := s.clock.Now()
	since := now.Add(-s.pipeline.Get().TurnoverWindow)

	low, err := s.repo.LowStock(ctx, s.db)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("low stock: %w", err)
	}
	out, err := s.repo.OutOfStock(ctx, s.db)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("out of stock: %w", err)
	}
	turnover, err := s.repo.Turnover(ctx, s.db, since)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("turnover: %w", err)
	}

	return domain.Summary{
		LowStock:    nonNil(low),
		OutOfStock:  nonNil(out),
		Turnover:    nonNil(turnover),
		WindowStart: since,
		GeneratedAt: now,
	}, nil
}

func (s *Service) ListAdjustments(ctx context.Context, req domain.ListAdjustmentsRequest) (domain.ListAdjustmentsResponse, error) {
	if req.ProductID == 0 {
		return domain.ListAdjustmentsResponse{}, domain.ErrInvalidProductID
	}
	product, err := s.repo.FindProduct(ctx, s.db, req.ProductID)
	if err != nil {
		return domain.ListAdjustmentsResponse{}, err
	}
	if product == nil {
		return domain.ListAdjustmentsResponse{}, domain.ErrProductNotFound
	}

	items, err := s.repo.ListAdjustments(ctx, s.db, req.ProductID, req.Pagination)
	if err != nil {
		return domain.ListAdjustmentsResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, req.Pagination.Size(), func(adj *domain.Adjustment) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        adj.ID.String(),
			CreatedAt: adj.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	adjustments := make([]domain.Adjustment, 0, len(items))
	for _, item := range items {
		adjustments = append(adjustments, *item)
	}
	return domain.ListAdjustmentsResponse{Adjustments: adjustments, PageInfo: pageInfo}, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
