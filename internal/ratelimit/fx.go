package ratelimit

import (
	"go.uber.org/fx"

	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/config"
)

var Module = fx.Module("ratelimit",
	fx.Provide(func(cfg config.Config) *Limiter {
		return New(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
	}),
)
