package aggregation

import (
	"context"
	"time"

	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/aggregation/service"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/clock"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/config"
	"go.uber.org/zap"
)

// Worker drives the aggregator's rollup cascade, periodic dirty sync and
// retention cleanup.
type Worker struct {
	log          *zap.Logger
	svc          *service.Service
	clock        clock.Clock
	syncInterval time.Duration
	retention    time.Duration
}

func NewWorker(log *zap.Logger, svc *service.Service, clk clock.Clock, cfg config.Config) *Worker {
	syncInterval := cfg.Aggregation.SyncInterval
	if syncInterval <= 0 {
		syncInterval = 30 * time.Second
	}
	retentionDays := cfg.Aggregation.RetentionDays
	if retentionDays <= 0 {
		retentionDays = 365
	}
	return &Worker{
		log:          log.Named("aggregation.worker"),
		svc:          svc,
		clock:        clk,
		syncInterval: syncInterval,
		retention:    time.Duration(retentionDays) * 24 * time.Hour,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	syncTicker := time.NewTicker(w.syncInterval)
	defer syncTicker.Stop()
	cleanupTicker := time.NewTicker(24 * time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-syncTicker.C:
			// Rollups run before the sync so freshly materialized coarse
			// buckets reach the store in the same cycle.
			if err := w.svc.RunRollups(ctx, w.clock.Now()); err != nil {
				w.log.Warn("rollup cascade failed", zap.Error(err))
			}
			if err := w.svc.SyncDirty(ctx); err != nil {
				w.log.Warn("aggregation sync failed", zap.Error(err))
			}
		case <-cleanupTicker.C:
			cutoff := w.clock.Now().Add(-w.retention)
			removed, err := w.svc.CleanupExpired(ctx, cutoff)
			if err != nil {
				w.log.Warn("aggregation cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				w.log.Info("expired aggregates removed", zap.Int("count", removed))
			}
		}
	}
}
