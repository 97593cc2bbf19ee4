package aggregation

import (
	"context"

	aggregationdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/aggregation/domain"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/aggregation/repository"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/aggregation/service"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("aggregation",
	fx.Provide(func(db *gorm.DB) aggregationdomain.Repository {
		return repository.NewStore(db)
	}),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) aggregationdomain.Service { return s }),
	fx.Provide(NewWorker),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, svc *service.Service, worker *Worker) {
	workerCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := svc.LoadFromStore(ctx); err != nil {
				return err
			}
			go worker.RunForever(workerCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return svc.SyncDirty(ctx)
		},
	})
}
