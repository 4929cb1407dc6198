package idempotency

import (
	"context"

	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/idempotency/domain"
	"github.com/smallbiznis/storefront/internal/idempotency/repository"
	"github.com/smallbiznis/storefront/internal/idempotency/service"
	"github.com/smallbiznis/storefront/internal/scheduler"
	"go.uber.org/fx"
)

const ReaperJobName = "idempotency_reaper"

var Module = fx.Module("idempotency.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	scheduler.ProvideJob(NewReaperJob),
)

// NewReaperJob flips leases abandoned by crashed or timed-out workers to FAILED.
func NewReaperJob(svc domain.Service, pipeline *config.PipelineConfigHolder) scheduler.Job {
	return scheduler.Job{
		Name:    ReaperJobName,
		Timeout: pipeline.Get().Lease.ReapJobTimeout,
		Run: func(ctx context.Context) (int, error) {
			return svc.ReapStuck(ctx)
		},
	}
}
