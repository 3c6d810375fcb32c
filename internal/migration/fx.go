package migration

import (
	"github.com/medicost/medtrack/internal/config"
	"github.com/medicost/medtrack/internal/medication/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Non-postgres stores (sqlite, mysql) fall back to gorm's schema
		// sync. Constraint DDL differs too much across dialects to share
		// the embedded SQL.
		return conn.AutoMigrate(
			&domain.ChemicalComposition{},
			&domain.BNFEntry{},
			&domain.Product{},
			&domain.PriceRecord{},
			&domain.Appraisal{},
		)
	}),
)
