package migration

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, node *snowflake.Node, clk clock.Clock, log *zap.Logger) error {
		if !cfg.DBRunMigrations {
			log.Info("schema migrations disabled")
			return nil
		}
		if cfg.DBType != "postgres" {
			log.Warn("schema migrations only ship for postgres", zap.String("db_type", cfg.DBType))
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		res, err := RunMigrations(sqlDB)
		if err != nil {
			return err
		}
		log.Info("schema ready", zap.Uint("version", res.Version), zap.Bool("applied", res.Applied))

		if cfg.DBSeedDemoData {
			if cfg.IsProduction() {
				log.Warn("demo data seeding ignored in production")
				return nil
			}
			if err := seed.EnsureDemoCatalog(context.Background(), conn, node, clk.Now()); err != nil {
				return err
			}
			log.Info("demo catalog seeded", zap.String("intent_reference", seed.DemoIntentReference))
		}
		return nil
	}),
)
