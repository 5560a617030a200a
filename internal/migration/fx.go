package migration

import (
	"github.com/smallbiznis/payflow/internal/config"
	orderdomain "github.com/smallbiznis/payflow/internal/order/domain"
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

		// SQLite and MySQL deployments (dev and tests) get the schema from the
		// models directly.
		return conn.AutoMigrate(
			&orderdomain.Order{},
			&orderdomain.SuccessMarker{},
		)
	}),
)
