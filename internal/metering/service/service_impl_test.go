package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/clock"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/config"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/events"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/meter"
	meteringdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/metering/domain"
)

type fakeSnapshotRepo struct {
	snapshots []meteringdomain.TenantSnapshot
	saved     [][]meteringdomain.TenantSnapshot
	loadErr   error
	saveErr   error
}

func (f *fakeSnapshotRepo) LoadAll(ctx context.Context) ([]meteringdomain.TenantSnapshot, error) {
	return f.snapshots, f.loadErr
}

func (f *fakeSnapshotRepo) Save(ctx context.Context, snapshots []meteringdomain.TenantSnapshot) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, snapshots)
	return nil
}

func testRegistry() *meter.Registry {
	return meter.NewRegistry([]meter.Config{
		{
			Type:           meter.TypeAPICalls,
			ResetPeriod:    meter.ResetMonthly,
			Unit:           "calls",
			OverageAllowed: true,
			OverageRate:    0.001,
		},
		{
			Type:        meter.TypeUsersActive,
			ResetPeriod: meter.ResetMonthly,
			Unit:        "users",
			HardCap:     floatPtr(100),
			Thresholds: []meter.Threshold{
				{Percentage: 50, Severity: meter.SeverityInfo},
				{Percentage: 75, Severity: meter.SeverityWarning, Notify: true},
				{Percentage: 90, Severity: meter.SeverityWarning, Notify: true},
				{Percentage: 100, Severity: meter.SeverityCritical, Notify: true},
			},
		},
	})
}

func floatPtr(v float64) *float64 { return &v }

func newTestEngine(t *testing.T, repo meteringdomain.SnapshotRepository, now time.Time) (*Service, *events.Bus) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	bus := events.NewBus()
	svc := NewService(ServiceParam{
		Log:      zap.NewNop(),
		Config:   config.Config{},
		GenID:    node,
		Registry: testRegistry(),
		Repo:     repo,
		Bus:      bus,
		Clock:    clock.FixedClock{Instant: now},
	})
	return svc, bus
}

func record(t *testing.T, svc *Service, tenantID string, meterType meter.Type, qty float64, key string, at time.Time) *meteringdomain.UsageEvent {
	t.Helper()
	event, err := svc.RecordUsage(context.Background(), meteringdomain.RecordUsageRequest{
		TenantID:       tenantID,
		MeterType:      meterType,
		Quantity:       qty,
		Timestamp:      at,
		IdempotencyKey: key,
	})
	if err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	return event
}

func TestRecordUsageIdempotency(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestEngine(t, &fakeSnapshotRepo{}, now)
	ctx := context.Background()

	first := record(t, svc, "tenant-1", meter.TypeAPICalls, 25, "evt-1", now)
	if first.Duplicate {
		t.Fatal("first event must not be a duplicate")
	}
	second := record(t, svc, "tenant-1", meter.TypeAPICalls, 25, "evt-1", now)
	if !second.Duplicate {
		t.Fatal("repeated idempotency key must return a duplicate echo")
	}

	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	reading, ok := svc.GetReading("tenant-1", meter.TypeAPICalls)
	if !ok {
		t.Fatal("reading not found")
	}
	if reading.CurrentValue != 25 {
		t.Fatalf("CurrentValue = %v, want 25 (counted once)", reading.CurrentValue)
	}
	if reading.EventCount != 1 {
		t.Fatalf("EventCount = %v, want 1", reading.EventCount)
	}
}

func TestRecordUsageValidation(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestEngine(t, &fakeSnapshotRepo{}, now)
	ctx := context.Background()

	_, err := svc.RecordUsage(ctx, meteringdomain.RecordUsageRequest{MeterType: meter.TypeAPICalls, Quantity: 1})
	if !errors.Is(err, meteringdomain.ErrInvalidTenant) {
		t.Fatalf("err = %v, want ErrInvalidTenant", err)
	}

	_, err = svc.RecordUsage(ctx, meteringdomain.RecordUsageRequest{TenantID: "tenant-1", MeterType: meter.TypeAPICalls, Quantity: -1})
	if !errors.Is(err, meteringdomain.ErrInvalidQuantity) {
		t.Fatalf("err = %v, want ErrInvalidQuantity", err)
	}

	_, err = svc.RecordUsage(ctx, meteringdomain.RecordUsageRequest{TenantID: "tenant-1", MeterType: meter.Type("nope"), Quantity: 1})
	if !errors.Is(err, meteringdomain.ErrInvalidMeterType) {
		t.Fatalf("err = %v, want ErrInvalidMeterType", err)
	}
}

func TestThresholdsFireOncePerPeriod(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	svc, bus := newTestEngine(t, &fakeSnapshotRepo{}, now)
	ctx := context.Background()

	var breaches []events.ThresholdBreached
	bus.SubscribeThresholdBreached(func(e events.ThresholdBreached) {
		breaches = append(breaches, e)
	})

	// Cap is 100: cross 50, 75, 90, 100 in sequence.
	record(t, svc, "tenant-1", meter.TypeUsersActive, 55, "u1", now)
	record(t, svc, "tenant-1", meter.TypeUsersActive, 25, "u2", now) // 80
	record(t, svc, "tenant-1", meter.TypeUsersActive, 15, "u3", now) // 95
	record(t, svc, "tenant-1", meter.TypeUsersActive, 10, "u4", now) // 105
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(breaches) != 4 {
		t.Fatalf("breaches = %d, want 4 (50/75/90/100 once each)", len(breaches))
	}
	seen := map[float64]int{}
	for _, b := range breaches {
		seen[b.Percentage]++
	}
	for _, pct := range []float64{50, 75, 90, 100} {
		if seen[pct] != 1 {
			t.Fatalf("threshold %v fired %d times, want exactly once", pct, seen[pct])
		}
	}

	// More usage above 100% must not re-fire anything.
	record(t, svc, "tenant-1", meter.TypeUsersActive, 20, "u5", now)
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(breaches) != 4 {
		t.Fatalf("breaches = %d after extra usage, want 4", len(breaches))
	}
}

func TestThresholdsRefireAfterReset(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	svc, bus := newTestEngine(t, &fakeSnapshotRepo{}, now)
	ctx := context.Background()

	var breaches []events.ThresholdBreached
	bus.SubscribeThresholdBreached(func(e events.ThresholdBreached) {
		breaches = append(breaches, e)
	})
	var resets []events.MeterReset
	bus.SubscribeMeterReset(func(e events.MeterReset) {
		resets = append(resets, e)
	})

	record(t, svc, "tenant-1", meter.TypeUsersActive, 80, "u1", now)
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(breaches) != 2 {
		t.Fatalf("breaches = %d, want 2 (50 and 75)", len(breaches))
	}

	if err := svc.ResetMeter(ctx, "tenant-1", meter.TypeUsersActive, "manual"); err != nil {
		t.Fatalf("ResetMeter: %v", err)
	}
	if len(resets) != 1 {
		t.Fatalf("resets = %d, want 1", len(resets))
	}
	if resets[0].PreviousValue != 80 {
		t.Fatalf("PreviousValue = %v, want 80", resets[0].PreviousValue)
	}

	record(t, svc, "tenant-1", meter.TypeUsersActive, 80, "u2", now)
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(breaches) != 4 {
		t.Fatalf("breaches = %d after reset, want 4 (50 and 75 re-fire)", len(breaches))
	}
}

func TestPeriodRolloverResetsReading(t *testing.T) {
	june := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestEngine(t, &fakeSnapshotRepo{}, june)
	ctx := context.Background()

	record(t, svc, "tenant-1", meter.TypeAPICalls, 500, "e1", june)
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	july := time.Date(2024, 7, 2, 9, 0, 0, 0, time.UTC)
	record(t, svc, "tenant-1", meter.TypeAPICalls, 10, "e2", july)
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reading, ok := svc.GetReading("tenant-1", meter.TypeAPICalls)
	if !ok {
		t.Fatal("reading not found")
	}
	if reading.CurrentValue != 10 {
		t.Fatalf("CurrentValue = %v, want 10 after rollover", reading.CurrentValue)
	}
	if want := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC); !reading.PeriodStart.Equal(want) {
		t.Fatalf("PeriodStart = %v, want %v", reading.PeriodStart, want)
	}
}

func TestOverageQueries(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestEngine(t, &fakeSnapshotRepo{}, now)
	ctx := context.Background()

	record(t, svc, "tenant-1", meter.TypeUsersActive, 120, "u1", now)
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if svc.IsWithinLimits("tenant-1", meter.TypeUsersActive) {
		t.Fatal("120 of 100 must be over limit")
	}
	if got := svc.Overage("tenant-1", meter.TypeUsersActive); got != 20 {
		t.Fatalf("Overage = %v, want 20", got)
	}
	// users_active does not allow overage billing.
	if got := svc.OverageCost("tenant-1", meter.TypeUsersActive); got != 0 {
		t.Fatalf("OverageCost = %v, want 0", got)
	}
	remaining := svc.RemainingUsage("tenant-1", meter.TypeUsersActive)
	if remaining == nil || *remaining != 0 {
		t.Fatalf("RemainingUsage = %v, want 0", remaining)
	}

	// Unlimited meter reports no remaining and is always within limits.
	record(t, svc, "tenant-1", meter.TypeAPICalls, 1e9, "a1", now)
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !svc.IsWithinLimits("tenant-1", meter.TypeAPICalls) {
		t.Fatal("uncapped meter must always be within limits")
	}
	if svc.RemainingUsage("tenant-1", meter.TypeAPICalls) != nil {
		t.Fatal("uncapped meter must report nil remaining")
	}

	summary := svc.GetUsageSummary("tenant-1")
	if summary.MetersOverLimit != 1 {
		t.Fatalf("MetersOverLimit = %d, want 1", summary.MetersOverLimit)
	}
}

func TestResetAllMetersClearsIdempotencySet(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestEngine(t, &fakeSnapshotRepo{}, now)
	ctx := context.Background()

	record(t, svc, "tenant-1", meter.TypeAPICalls, 5, "evt-1", now)
	if err := svc.ResetAllMeters(ctx, "tenant-1"); err != nil {
		t.Fatalf("ResetAllMeters: %v", err)
	}

	// The same key counts again after a full reset.
	event := record(t, svc, "tenant-1", meter.TypeAPICalls, 5, "evt-1", now)
	if event.Duplicate {
		t.Fatal("idempotency set must be cleared by ResetAllMeters")
	}
}

func TestSyncDirtyRoundTrip(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	repo := &fakeSnapshotRepo{}
	svc, _ := newTestEngine(t, repo, now)
	ctx := context.Background()

	record(t, svc, "tenant-1", meter.TypeAPICalls, 42, "e1", now)
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := svc.SyncDirty(ctx); err != nil {
		t.Fatalf("SyncDirty: %v", err)
	}
	if len(repo.saved) != 1 || len(repo.saved[0]) != 1 {
		t.Fatalf("saved = %v, want one snapshot batch", repo.saved)
	}

	// Restore into a fresh engine and verify state survives.
	restored := repo.saved[0][0]
	fresh, _ := newTestEngine(t, &fakeSnapshotRepo{snapshots: []meteringdomain.TenantSnapshot{restored}}, now)
	if err := fresh.LoadFromStore(ctx); err != nil {
		t.Fatalf("LoadFromStore: %v", err)
	}
	reading, ok := fresh.GetReading("tenant-1", meter.TypeAPICalls)
	if !ok {
		t.Fatal("restored reading not found")
	}
	if reading.CurrentValue != 42 {
		t.Fatalf("restored CurrentValue = %v, want 42", reading.CurrentValue)
	}

	// The restored idempotency set still rejects the original key.
	echo, err := fresh.RecordUsage(ctx, meteringdomain.RecordUsageRequest{
		TenantID:       "tenant-1",
		MeterType:      meter.TypeAPICalls,
		Quantity:       42,
		Timestamp:      now,
		IdempotencyKey: "e1",
	})
	if err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if !echo.Duplicate {
		t.Fatal("restored engine must remember seen idempotency keys")
	}
}

func TestSyncDirtyKeepsDirtyOnFailure(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	repo := &fakeSnapshotRepo{saveErr: errors.New("store down")}
	svc, _ := newTestEngine(t, repo, now)
	ctx := context.Background()

	record(t, svc, "tenant-1", meter.TypeAPICalls, 1, "e1", now)
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := svc.SyncDirty(ctx); err == nil {
		t.Fatal("expected sync failure")
	}

	repo.saveErr = nil
	if err := svc.SyncDirty(ctx); err != nil {
		t.Fatalf("SyncDirty: %v", err)
	}
	if len(repo.saved) != 1 {
		t.Fatal("tenant must stay dirty across a failed sync")
	}
}
