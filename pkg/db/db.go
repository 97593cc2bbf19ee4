// Package db provides the gorm connection as an fx module.
package db

import (
	"fmt"

	"go.uber.org/fx"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	aggregationrepo "github.com/Okan-wqm/aquaculture-platform-sub002/internal/aggregation/repository"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/config"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/events"
	meteringrepo "github.com/Okan-wqm/aquaculture-platform-sub002/internal/metering/repository"
)

func Open(cfg config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Database.DSN)
	case "postgres", "":
		dialector = postgres.Open(cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("unsupported_database_driver: %s", cfg.Database.Driver)
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Database.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}
	return conn, nil
}

// Migrate creates the pipeline tables.
func Migrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&meteringrepo.SnapshotRecord{},
		&aggregationrepo.AggregateRecord{},
		&aggregationrepo.TrendBufferRecord{},
		&events.OutboxRecord{},
	)
}

var Module = fx.Module("db",
	fx.Provide(Open),
)
