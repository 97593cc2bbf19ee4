package billing

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	billingdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/billing/domain"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/billing/service"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/cache"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/config"
)

type cacheParam struct {
	fx.In

	Config config.Config
	Redis  *redis.Client `optional:"true"`
}

// newResultCache picks the shared Redis backend when configured, otherwise a
// process-local TTL cache.
func newResultCache(p cacheParam) cache.Cache[string, billingdomain.BillingCalculation] {
	if p.Config.Redis.Enabled && p.Redis != nil {
		return cache.NewRedisCache[billingdomain.BillingCalculation](p.Redis, "billing:calc:")
	}
	return cache.NewTTLCache[string, billingdomain.BillingCalculation]()
}

var Module = fx.Module("billing",
	fx.Provide(newResultCache),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) billingdomain.Service { return s }),
)
