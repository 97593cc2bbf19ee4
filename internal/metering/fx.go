package metering

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	meteringdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/metering/domain"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/metering/repository"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/metering/service"
)

var Module = fx.Module("metering",
	fx.Provide(func(db *gorm.DB) meteringdomain.SnapshotRepository {
		return repository.NewStore(db)
	}),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) meteringdomain.Service { return s }),
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
			if err := svc.Flush(ctx); err != nil {
				return err
			}
			return svc.SyncDirty(ctx)
		},
	})
}
