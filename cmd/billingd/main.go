package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/aggregation"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/billing"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/clock"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/config"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/events"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/logger"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/meter"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/metering"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/observability/metrics"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/pricing"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/ratelimit"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/server"
	"github.com/Okan-wqm/aquaculture-platform-sub002/pkg/db"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		clock.Module,
		metrics.Module,
		fx.Provide(RegisterSnowflake),
		fx.Provide(NewRedisClient),
		db.Module,
		fx.Invoke(func(conn *gorm.DB) error {
			return db.Migrate(conn)
		}),

		events.Module,
		meter.Module,
		pricing.Module,
		ratelimit.Module,
		metering.Module,
		aggregation.Module,
		billing.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

// NewRedisClient returns nil when the shared cache backend is disabled;
// consumers treat the client as optional.
func NewRedisClient(cfg config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}
