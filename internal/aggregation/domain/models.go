// Package domain defines the aggregation bucket model and its queries.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/meter"
)

// Period is an aggregation granularity.
type Period string

const (
	PeriodHourly    Period = "hourly"
	PeriodDaily     Period = "daily"
	PeriodWeekly    Period = "weekly"
	PeriodMonthly   Period = "monthly"
	PeriodQuarterly Period = "quarterly"
	PeriodYearly    Period = "yearly"
)

var (
	ErrInvalidPeriod   = errors.New("invalid_period")
	ErrInvalidQuantity = errors.New("invalid_quantity")
)

// AggregatedUsage is one durable rollup bucket keyed by
// (tenant, meterType, period, periodStart).
type AggregatedUsage struct {
	TenantID       string            `json:"tenant_id"`
	MeterType      meter.Type        `json:"meter_type"`
	Period         Period            `json:"period"`
	PeriodStart    time.Time         `json:"period_start"`
	PeriodEnd      time.Time         `json:"period_end"`
	TotalUsage     float64           `json:"total_usage"`
	PeakUsage      float64           `json:"peak_usage"`
	AverageUsage   float64           `json:"average_usage"`
	MinUsage       float64           `json:"min_usage"`
	MaxUsage       float64           `json:"max_usage"`
	EventCount     int64             `json:"event_count"`
	Unit           string            `json:"unit"`
	Dimension      string            `json:"dimension,omitempty"`
	DimensionValue string            `json:"dimension_value,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Key builds the stable bucket key.
func (a AggregatedUsage) Key() string {
	return BucketKey(a.TenantID, a.MeterType, a.Period, a.PeriodStart)
}

// BucketKey is tenant:meterType:period:periodStartISO.
func BucketKey(tenantID string, meterType meter.Type, period Period, periodStart time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", tenantID, meterType, period, periodStart.UTC().Format(time.RFC3339))
}

// TrendPoint is one step of a usage trend series.
type TrendPoint struct {
	PeriodStart time.Time `json:"period_start"`
	TotalUsage  float64   `json:"total_usage"`
	EventCount  int64     `json:"event_count"`
}

// Statistics summarizes a trend window. The zero value describes an empty
// sample.
type Statistics struct {
	Mean     float64 `json:"mean"`
	Median   float64 `json:"median"`
	Variance float64 `json:"variance"`
	StdDev   float64 `json:"std_dev"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Sum      float64 `json:"sum"`
	Count    int     `json:"count"`
	P95      float64 `json:"p95"`
	P99      float64 `json:"p99"`
}

// MeterPeriodSummary compares a meter's usage against the immediately
// preceding period of the same granularity.
type MeterPeriodSummary struct {
	MeterType     meter.Type `json:"meter_type"`
	TotalUsage    float64    `json:"total_usage"`
	EventCount    int64      `json:"event_count"`
	PreviousTotal *float64   `json:"previous_total,omitempty"`
	ChangePercent *float64   `json:"change_percent,omitempty"`
}

// TenantUsageSummary is the per-meter view for one tenant and period.
type TenantUsageSummary struct {
	TenantID    string               `json:"tenant_id"`
	Period      Period               `json:"period"`
	PeriodStart time.Time            `json:"period_start"`
	PeriodEnd   time.Time            `json:"period_end"`
	Meters      []MeterPeriodSummary `json:"meters"`
}

// Service is the usage aggregator contract.
type Service interface {
	UpdateAggregation(ctx context.Context, tenantID string, meterType meter.Type, quantity float64, period Period, timestamp time.Time) (*AggregatedUsage, error)
	PerformRollup(ctx context.Context, tenantID string, meterType meter.Type, sourcePeriod, targetPeriod Period, targetPeriodStart time.Time) (*AggregatedUsage, error)
	GetAggregation(tenantID string, meterType meter.Type, period Period, at time.Time) (*AggregatedUsage, bool)
	GetRange(tenantID string, meterType meter.Type, period Period, start, end time.Time) []AggregatedUsage
	GetTenantSummary(tenantID string, period Period, at time.Time) TenantUsageSummary
	GetTrend(tenantID string, meterType meter.Type, period Period, points int, until time.Time) []TrendPoint
	GetStatistics(tenantID string, meterType meter.Type, period Period, points int, until time.Time) Statistics
	GetRawStatistics(tenantID string, meterType meter.Type) Statistics
	CleanupExpired(ctx context.Context, olderThan time.Time) (int, error)
	SyncDirty(ctx context.Context) error
}
