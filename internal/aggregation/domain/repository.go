package domain

import (
	"context"
	"time"

	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/meter"
)

// TrendBuffer is the rolling buffer of recent raw hourly values for one
// tenant/meter pair, kept for trend and statistics queries.
type TrendBuffer struct {
	TenantID  string     `json:"tenant_id"`
	MeterType meter.Type `json:"meter_type"`
	Values    []float64  `json:"values"`
}

// Repository persists aggregation buckets and trend buffers.
type Repository interface {
	LoadBuckets(ctx context.Context) ([]AggregatedUsage, error)
	LoadTrendBuffers(ctx context.Context) ([]TrendBuffer, error)
	SaveBuckets(ctx context.Context, buckets []AggregatedUsage) error
	SaveTrendBuffers(ctx context.Context, buffers []TrendBuffer) error
	DeleteBucketsEndingBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
