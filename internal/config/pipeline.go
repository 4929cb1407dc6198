package config

import (
	"errors"
	"io/fs"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// PipelineConfig tunes payment verification and order materialization.
type PipelineConfig struct {
	AmountEpsilon     string             `mapstructure:"amountEpsilon"`
	MaterializeBudget time.Duration      `mapstructure:"materializeBudget"`
	Lease             LeaseConfig        `mapstructure:"lease"`
	Retry             RetryConfig        `mapstructure:"retry"`
	Notification      NotificationConfig `mapstructure:"notification"`
	TurnoverWindow    time.Duration      `mapstructure:"turnoverWindow"`
}

type LeaseConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	RetryCooldown  time.Duration `mapstructure:"retryCooldown"`
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	ReapInterval   time.Duration `mapstructure:"reapInterval"`
	ReapBatchSize  int           `mapstructure:"reapBatchSize"`
	ReapJobTimeout time.Duration `mapstructure:"reapJobTimeout"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"maxAttempts"`
	Base        time.Duration `mapstructure:"base"`
	Cap         time.Duration `mapstructure:"cap"`
}

type NotificationConfig struct {
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queueSize"`
	MaxAttempts int           `mapstructure:"maxAttempts"`
	Base        time.Duration `mapstructure:"base"`
	Cap         time.Duration `mapstructure:"cap"`
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		AmountEpsilon:     "0.01",
		MaterializeBudget: 10 * time.Second,
		Lease: LeaseConfig{
			TTL:            2 * time.Minute,
			RetryCooldown:  30 * time.Second,
			MaxAttempts:    3,
			ReapInterval:   30 * time.Second,
			ReapBatchSize:  100,
			ReapJobTimeout: 10 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			Base:        time.Second,
			Cap:         32 * time.Second,
		},
		Notification: NotificationConfig{
			Workers:     4,
			QueueSize:   256,
			MaxAttempts: 3,
			Base:        time.Second,
			Cap:         8 * time.Second,
		},
		TurnoverWindow: 30 * 24 * time.Hour,
	}
}

// Epsilon returns the tolerated difference between gateway and computed totals.
func (c PipelineConfig) Epsilon() decimal.Decimal {
	eps, err := decimal.NewFromString(strings.TrimSpace(c.AmountEpsilon))
	if err != nil || eps.IsNegative() {
		return decimal.New(1, -2)
	}
	return eps
}

type PipelineConfigHolder struct {
	current atomic.Value // holds PipelineConfig
}

// NewStaticPipelineConfig returns a holder that never reloads.
func NewStaticPipelineConfig(cfg PipelineConfig) *PipelineConfigHolder {
	holder := &PipelineConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPipelineConfigHolder(appCfg Config) (*PipelineConfigHolder, error) {
	v := viper.New()

	if appCfg.PipelineConfigPath != "" {
		v.SetConfigFile(appCfg.PipelineConfigPath)
	} else {
		v.SetConfigName("pipeline")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/storefront")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPipelineConfig()
	setPipelineDefaults(v, defaults)

	loaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound), errors.Is(err, fs.ErrNotExist):
			loaded = false
		default:
			return nil, err
		}
	}

	var cfg PipelineConfig
	if err := v.UnmarshalKey("pipeline", &cfg); err != nil {
		return nil, err
	}
	if err := validatePipelineConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticPipelineConfig(cfg)

	if loaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated PipelineConfig
			if err := v.UnmarshalKey("pipeline", &updated); err != nil {
				log.Printf("[pipeline-config] reload failed: %v", err)
				return
			}
			if err := validatePipelineConfig(updated); err != nil {
				log.Printf("[pipeline-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[pipeline-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

func (h *PipelineConfigHolder) Get() PipelineConfig {
	if h == nil {
		return DefaultPipelineConfig()
	}
	cfg, ok := h.current.Load().(PipelineConfig)
	if !ok {
		return DefaultPipelineConfig()
	}
	return cfg
}

func setPipelineDefaults(v *viper.Viper, d PipelineConfig) {
	v.SetDefault("pipeline.amountEpsilon", d.AmountEpsilon)
	v.SetDefault("pipeline.materializeBudget", d.MaterializeBudget)
	v.SetDefault("pipeline.turnoverWindow", d.TurnoverWindow)
	v.SetDefault("pipeline.lease.ttl", d.Lease.TTL)
	v.SetDefault("pipeline.lease.retryCooldown", d.Lease.RetryCooldown)
	v.SetDefault("pipeline.lease.maxAttempts", d.Lease.MaxAttempts)
	v.SetDefault("pipeline.lease.reapInterval", d.Lease.ReapInterval)
	v.SetDefault("pipeline.lease.reapBatchSize", d.Lease.ReapBatchSize)
	v.SetDefault("pipeline.lease.reapJobTimeout", d.Lease.ReapJobTimeout)
	v.SetDefault("pipeline.retry.maxAttempts", d.Retry.MaxAttempts)
	v.SetDefault("pipeline.retry.base", d.Retry.Base)
	v.SetDefault("pipeline.retry.cap", d.Retry.Cap)
	v.SetDefault("pipeline.notification.workers", d.Notification.Workers)
	v.SetDefault("pipeline.notification.queueSize", d.Notification.QueueSize)
	v.SetDefault("pipeline.notification.maxAttempts", d.Notification.MaxAttempts)
	v.SetDefault("pipeline.notification.base", d.Notification.Base)
	v.SetDefault("pipeline.notification.cap", d.Notification.Cap)
}

func validatePipelineConfig(cfg PipelineConfig) error {
	if _, err := decimal.NewFromString(strings.TrimSpace(cfg.AmountEpsilon)); err != nil {
		return errors.New("pipeline.amountEpsilon must be a decimal")
	}
	if cfg.MaterializeBudget <= 0 {
		return errors.New("pipeline.materializeBudget must be positive")
	}
	if cfg.Lease.TTL <= 0 || cfg.Lease.MaxAttempts <= 0 {
		return errors.New("pipeline.lease ttl and maxAttempts must be positive")
	}
	if cfg.Retry.MaxAttempts <= 0 || cfg.Retry.Base <= 0 || cfg.Retry.Cap < cfg.Retry.Base {
		return errors.New("pipeline.retry requires maxAttempts > 0 and 0 < base <= cap")
	}
	if cfg.Notification.Workers <= 0 || cfg.Notification.QueueSize <= 0 {
		return errors.New("pipeline.notification workers and queueSize must be positive")
	}
	return nil
}
