package scheduler

import (
	"context"
	"time"

	obslogger "github.com/smallbiznis/storefront/internal/observability/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// jobRun is one execution of a job, identified by a snowflake run id that
// appears on every log line the run emits.
type jobRun struct {
	job       string
	runID     string
	startedAt time.Time
	processed int
	failed    bool
}

func (s *Scheduler) newJobRun(ctx context.Context, job string) (*jobRun, *zap.Logger) {
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		startedAt: s.clock.Now(),
	}
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
	)
	log.Debug("scheduler.job.start")
	return run, log
}

// finish logs at warn on failure, info when the run did work and debug for
// idle ticks, which are the common case for the reaper.
func (r *jobRun) finish(log *zap.Logger, now time.Time) {
	level := zapcore.DebugLevel
	switch {
	case r.failed:
		level = zapcore.WarnLevel
	case r.processed > 0:
		level = zapcore.InfoLevel
	}
	if ce := log.Check(level, "scheduler.job.finish"); ce != nil {
		ce.Write(
			zap.Int64("duration_ms", now.Sub(r.startedAt).Milliseconds()),
			zap.Int("processed_count", r.processed),
			zap.Bool("failed", r.failed),
		)
	}
}
