package email

import (
	"strings"

	"github.com/smallbiznis/storefront/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	smtpCfg := Config{
		Host:     strings.TrimSpace(cfg.Email.SMTPHost),
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
	}
	if smtpCfg.Host == "" {
		log.Info("order emails disabled: SMTP_HOST not set")
		return &NoOpProvider{}
	}
	if smtpCfg.Port <= 0 {
		smtpCfg.Port = 25
	}
	log.Info("order emails via smtp", zap.String("host", smtpCfg.Host), zap.Int("port", smtpCfg.Port))
	return NewSMTP(smtpCfg)
}
