package meter

import "go.uber.org/fx"

var Module = fx.Module("meter",
	fx.Provide(func() *Registry {
		return NewRegistry(DefaultCatalog())
	}),
)
