package scheduler

import (
	"os"
	"strings"
	"time"

	"github.com/smallbiznis/storefront/internal/config"
)

// Config controls the run loop.
type Config struct {
	RunInterval time.Duration
	// LockTTL bounds how long one replica owns a run when redis is present.
	LockTTL     time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 30 * time.Second,
		LockTTL:     time.Minute,
	}
}

func ProvideConfig(holder *config.PipelineConfigHolder) Config {
	cfg := DefaultConfig()
	if holder != nil {
		cfg.RunInterval = holder.Get().Lease.ReapInterval
	}
	if raw := strings.TrimSpace(os.Getenv("SCHEDULER_ENABLED_JOBS")); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.EnabledJobs = append(cfg.EnabledJobs, name)
			}
		}
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.LockTTL < c.RunInterval {
		c.LockTTL = c.RunInterval
	}
	return c
}
