package metering

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/config"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/metering/service"
)

// Worker drives the metering engine's periodic flush and snapshot sync.
type Worker struct {
	log          *zap.Logger
	svc          *service.Service
	syncInterval time.Duration
}

func NewWorker(log *zap.Logger, svc *service.Service, cfg config.Config) *Worker {
	syncInterval := cfg.Metering.SyncInterval
	if syncInterval <= 0 {
		syncInterval = 10 * time.Second
	}
	return &Worker{
		log:          log.Named("metering.worker"),
		svc:          svc,
		syncInterval: syncInterval,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.svc.Flush(ctx); err != nil {
				w.log.Warn("metering flush failed", zap.Error(err))
			}
			if err := w.svc.SyncDirty(ctx); err != nil {
				w.log.Warn("metering sync failed", zap.Error(err))
			}
		}
	}
}
