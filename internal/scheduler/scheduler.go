package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const lockKeyPrefix = "storefront:scheduler:"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Job is a unit of background work. Run reports how many items it processed.
type Job struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) (int, error)
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	GenID   *snowflake.Node
	Config  Config                      `optional:"true"`
	Jobs    []Job                       `group:"scheduler.jobs"`
	Locker  *ratelimit.Locker           `optional:"true"`
	Metrics *obsmetrics.PipelineMetrics `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	clock   clock.Clock
	genID   *snowflake.Node
	jobs    []Job
	locker  *ratelimit.Locker
	metrics *obsmetrics.PipelineMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.GenID == nil {
		return nil, ErrInvalidConfig
	}
	for _, job := range p.Jobs {
		if job.Name == "" || job.Run == nil {
			return nil, fmt.Errorf("%w: job without name or run func", ErrInvalidConfig)
		}
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		clock:   p.Clock,
		genID:   p.GenID,
		jobs:    p.Jobs,
		locker:  p.Locker,
		metrics: p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, job Job) error {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	run, log := s.newJobRun(ctx, job.Name)
	s.metrics.IncJobRun(job.Name)

	processed, err := job.Run(ctx)
	if processed > 0 {
		run.processed = processed
	}
	run.failed = err != nil
	s.metrics.ObserveJobDuration(job.Name, s.clock.Now().Sub(start))
	run.finish(log, s.clock.Now())
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(job.Name, err)
	// deadline is a soft timeout; the next tick picks up the rest
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", job.Name, err)
}

// RunOnce runs every enabled job once. With a locker configured only one
// replica runs a given job per interval.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	for _, job := range s.jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		release, ok := s.acquire(parent, job.Name)
		if !ok {
			s.log.Debug("job held by another replica", zap.String("job", job.Name))
			continue
		}
		err = errors.Join(err, s.runJob(parent, job))
		release()
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) acquire(ctx context.Context, job string) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	lease, err := s.locker.Acquire(ctx, lockKeyPrefix+job, s.cfg.LockTTL)
	switch {
	case errors.Is(err, ratelimit.ErrLockHeld):
		return nil, false
	case err != nil:
		// redis unavailable: the reaper is safe to run concurrently
		s.log.Warn("scheduler lock unavailable", zap.String("job", job), zap.Error(err))
		return func() {}, true
	}
	return func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("scheduler lock release failed", zap.String("job", job), zap.Error(err))
		}
	}, true
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if enabled == jobName {
			return true
		}
	}
	return false
}
