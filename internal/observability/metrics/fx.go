package metrics

import (
	"go.uber.org/fx"

	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/config"
)

var Module = fx.Module("metrics",
	fx.Provide(func(cfg config.Config) *PipelineMetrics {
		return PipelineWithConfig(Config{
			ServiceName: cfg.App.Name,
			Environment: cfg.App.Env,
		})
	}),
)
