package migration

import (
	"github.com/smallbiznis/ziswaf/internal/config"
	"github.com/smallbiznis/ziswaf/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		log = log.Named("migration")
		switch {
		case cfg.DBType == "postgres":
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		case cfg.DBAutoMigrate:
			if err := AutoMigrate(conn); err != nil {
				return err
			}
		default:
			log.Warn("schema migration skipped", zap.String("db_type", cfg.DBType))
		}

		if cfg.SeedDefaultUnit && !cfg.IsProduction() {
			return seed.EnsureDefaultUnit(conn)
		}
		return nil
	}),
)
