package metricspush

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/storefront/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
	fx.Invoke(Start),
)

// Start pushes the default registry every interval and once more on stop,
// so the last reaper run is not lost.
func Start(lc fx.Lifecycle, cfg config.Config, pusher Pusher, log *zap.Logger) {
	if pusher == nil {
		return
	}
	log = log.Named("metrics.push")
	interval := cfg.MetricsPush.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting metrics push", zap.String("exporter", cfg.MetricsPush.Exporter), zap.Duration("interval", interval))
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						if err := pusher.Push(ctx, prometheus.DefaultGatherer); err != nil {
							log.Warn("metrics push failed", zap.Error(err))
						}
					case <-ctx.Done():
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			<-done
			if err := pusher.Push(stopCtx, prometheus.DefaultGatherer); err != nil {
				log.Warn("final metrics push failed", zap.Error(err))
			}
			return nil
		},
	})
}
