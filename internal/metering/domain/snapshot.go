package domain

import (
	"context"
	"time"

	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/meter"
)

// ReadingSnapshot is the serializable form of one live meter reading.
type ReadingSnapshot struct {
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

// TenantSnapshot is the durable mirror of a tenant's metering state. Kept
// deliberately separate from the live TenantMeterState so serialization
// concerns never leak into the hot path.
type TenantSnapshot struct {
	TenantID        string                `json:"tenant_id"`
	Readings        []ReadingSnapshot     `json:"readings"`
	IdempotencyKeys []string              `json:"idempotency_keys"`
	Breached        map[string][]float64  `json:"breached,omitempty"`
	LastReset       *time.Time            `json:"last_reset,omitempty"`
}

// Snapshot converts live state to its durable form.
func (s *TenantMeterState) Snapshot() TenantSnapshot {
	snapshot := TenantSnapshot{
		TenantID:        s.TenantID,
		IdempotencyKeys: append([]string(nil), s.SeenOrder...),
		LastReset:       s.LastReset,
	}
	for _, reading := range s.Readings {
		snapshot.Readings = append(snapshot.Readings, ReadingSnapshot{
			MeterType:      reading.MeterType,
			CurrentValue:   reading.CurrentValue,
			Unit:           reading.Unit,
			PeriodStart:    reading.PeriodStart,
			PeriodEnd:      reading.PeriodEnd,
			Limit:          reading.Limit,
			PercentageUsed: reading.PercentageUsed,
			LastUpdated:    reading.LastUpdated,
			EventCount:     reading.EventCount,
		})
	}
	if len(s.Breached) > 0 {
		snapshot.Breached = make(map[string][]float64, len(s.Breached))
		for meterType, percentages := range s.Breached {
			for pct := range percentages {
				snapshot.Breached[string(meterType)] = append(snapshot.Breached[string(meterType)], pct)
			}
		}
	}
	return snapshot
}

// Restore rebuilds live state from a snapshot, truncating the idempotency
// set to the most recent keyLimit entries.
func (snapshot TenantSnapshot) Restore(keyLimit int) *TenantMeterState {
	state := NewTenantMeterState(snapshot.TenantID)
	state.LastReset = snapshot.LastReset

	for _, r := range snapshot.Readings {
		state.Readings[r.MeterType] = &MeterReading{
			MeterType:      r.MeterType,
			CurrentValue:   r.CurrentValue,
			Unit:           r.Unit,
			PeriodStart:    r.PeriodStart.UTC(),
			PeriodEnd:      r.PeriodEnd.UTC(),
			Limit:          r.Limit,
			PercentageUsed: r.PercentageUsed,
			LastUpdated:    r.LastUpdated.UTC(),
			EventCount:     r.EventCount,
		}
	}

	keys := snapshot.IdempotencyKeys
	if keyLimit > 0 && len(keys) > keyLimit {
		keys = keys[len(keys)-keyLimit:]
	}
	for _, key := range keys {
		state.MarkSeen(key)
	}

	for meterType, percentages := range snapshot.Breached {
		set := make(map[float64]struct{}, len(percentages))
		for _, pct := range percentages {
			set[pct] = struct{}{}
		}
		state.Breached[meter.Type(meterType)] = set
	}
	return state
}

// SnapshotRepository persists tenant metering snapshots.
type SnapshotRepository interface {
	LoadAll(ctx context.Context) ([]TenantSnapshot, error)
	Save(ctx context.Context, snapshots []TenantSnapshot) error
}
