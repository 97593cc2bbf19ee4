// Package domain contains the live metering state model and the metering
// engine contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/meter"
)

var (
	ErrInvalidTenant    = errors.New("invalid_tenant")
	ErrInvalidQuantity  = errors.New("invalid_quantity")
	ErrMeterNotFound    = errors.New("meter_not_found")
	ErrEngineShutdown   = errors.New("engine_shutdown")
	ErrInvalidMeterType = errors.New("invalid_meter_type")
)

// RecordUsageRequest is the input for one usage observation.
type RecordUsageRequest struct {
	TenantID       string            `json:"tenant_id"`
	MeterType      meter.Type        `json:"meter_type"`
	Quantity       float64           `json:"quantity"`
	Unit           string            `json:"unit,omitempty"`
	Timestamp      time.Time         `json:"timestamp,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Source         string            `json:"source,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	ResourceID     string            `json:"resource_id,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// UsageEvent is one accepted unit of consumption. Immutable once created.
// Duplicate marks the synthetic echo returned for an already-seen
// idempotency key; it was not counted.
type UsageEvent struct {
	ID             snowflake.ID      `json:"id"`
	TenantID       string            `json:"tenant_id"`
	MeterType      meter.Type        `json:"meter_type"`
	Quantity       float64           `json:"quantity"`
	Unit           string            `json:"unit"`
	Timestamp      time.Time         `json:"timestamp"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Source         string            `json:"source,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	ResourceID     string            `json:"resource_id,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Duplicate      bool              `json:"duplicate,omitempty"`
}

// MeterReading is the live counter for one (tenant, meterType) pair.
// CurrentValue only grows between resets.
type MeterReading struct {
	MeterType      meter.Type `json:"meter_type"`
	CurrentValue   float64    `json:"current_value"`
	Unit           string     `json:"unit"`
	PeriodStart    time.Time  `json:"period_start"`
	PeriodEnd      time.Time  `json:"period_end"`
	Limit          *float64   `json:"limit,omitempty"`
	PercentageUsed float64    `json:"percentage_used"`
	LastUpdated    time.Time  `json:"last_updated"`
	EventCount     int64      `json:"event_count"`
}

// TenantMeterState is the aggregate root per tenant: readings, the
// idempotency seen-set and the per-meter breached-threshold sets. Owned
// exclusively by the engine; never handed out by reference.
type TenantMeterState struct {
	TenantID        string
	Readings        map[meter.Type]*MeterReading
	SeenKeys        map[string]struct{}
	SeenOrder       []string
	Breached        map[meter.Type]map[float64]struct{}
	LastReset       *time.Time
}

func NewTenantMeterState(tenantID string) *TenantMeterState {
	return &TenantMeterState{
		TenantID: tenantID,
		Readings: make(map[meter.Type]*MeterReading),
		SeenKeys: make(map[string]struct{}),
		Breached: make(map[meter.Type]map[float64]struct{}),
	}
}

// MarkSeen records an idempotency key, reporting false when already present.
func (s *TenantMeterState) MarkSeen(key string) bool {
	if key == "" {
		return true
	}
	if _, ok := s.SeenKeys[key]; ok {
		return false
	}
	s.SeenKeys[key] = struct{}{}
	s.SeenOrder = append(s.SeenOrder, key)
	return true
}

// PruneSeen evicts the oldest idempotency keys down to limit. Re-processing
// of extremely old duplicates is accepted in exchange for bounded memory.
func (s *TenantMeterState) PruneSeen(limit int) int {
	if limit <= 0 || len(s.SeenOrder) <= limit {
		return 0
	}
	evict := len(s.SeenOrder) - limit
	for _, key := range s.SeenOrder[:evict] {
		delete(s.SeenKeys, key)
	}
	s.SeenOrder = append([]string(nil), s.SeenOrder[evict:]...)
	return evict
}

// MeterUsage is the per-meter slice of a tenant usage summary.
type MeterUsage struct {
	MeterType      meter.Type `json:"meter_type"`
	CurrentValue   float64    `json:"current_value"`
	Unit           string     `json:"unit"`
	Limit          *float64   `json:"limit,omitempty"`
	PercentageUsed float64    `json:"percentage_used"`
	Overage        float64    `json:"overage"`
	OverageCost    float64    `json:"overage_cost"`
	AtLimit        bool       `json:"at_limit"`
	OverLimit      bool       `json:"over_limit"`
}

// UsageSummary is the cross-meter view for one tenant.
type UsageSummary struct {
	TenantID         string       `json:"tenant_id"`
	Meters           []MeterUsage `json:"meters"`
	TotalOverageCost float64      `json:"total_overage_cost"`
	MetersAtLimit    int          `json:"meters_at_limit"`
	MetersOverLimit  int          `json:"meters_over_limit"`
}

// Service is the usage metering engine contract.
type Service interface {
	RecordUsage(ctx context.Context, req RecordUsageRequest) (*UsageEvent, error)
	RecordUsageBatch(ctx context.Context, reqs []RecordUsageRequest) ([]*UsageEvent, error)
	Flush(ctx context.Context) error
	ResetMeter(ctx context.Context, tenantID string, meterType meter.Type, reason string) error
	ResetAllMeters(ctx context.Context, tenantID string) error
	GetReading(tenantID string, meterType meter.Type) (*MeterReading, bool)
	IsWithinLimits(tenantID string, meterType meter.Type) bool
	RemainingUsage(tenantID string, meterType meter.Type) *float64
	Overage(tenantID string, meterType meter.Type) float64
	OverageCost(tenantID string, meterType meter.Type) float64
	GetUsageSummary(tenantID string) UsageSummary
	SyncDirty(ctx context.Context) error
}
