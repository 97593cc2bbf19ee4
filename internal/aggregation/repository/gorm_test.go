package repository

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	aggregationdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/aggregation/domain"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/meter"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&AggregateRecord{}, &TrendBufferRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		db.Exec("DELETE FROM usage_aggregates")
		db.Exec("DELETE FROM usage_trend_buffers")
	})
	return db
}

func dailyBucket(tenantID string, day time.Time, total float64) aggregationdomain.AggregatedUsage {
	return aggregationdomain.AggregatedUsage{
		TenantID:    tenantID,
		MeterType:   meter.TypeAPICalls,
		Period:      aggregationdomain.PeriodDaily,
		PeriodStart: day,
		PeriodEnd:   day.AddDate(0, 0, 1),
		TotalUsage:  total,
		EventCount:  1,
		Unit:        "calls",
	}
}

func TestBucketRoundTripAndUpsert(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	bucket := dailyBucket("tenant-1", day, 100)
	if err := store.SaveBuckets(ctx, []aggregationdomain.AggregatedUsage{bucket}); err != nil {
		t.Fatalf("SaveBuckets: %v", err)
	}

	bucket.TotalUsage = 250
	if err := store.SaveBuckets(ctx, []aggregationdomain.AggregatedUsage{bucket}); err != nil {
		t.Fatalf("SaveBuckets update: %v", err)
	}

	loaded, err := store.LoadBuckets(ctx)
	if err != nil {
		t.Fatalf("LoadBuckets: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("len(loaded) = %d, want 1 (upsert on bucket key)", len(loaded))
	}
	if loaded[0].TotalUsage != 250 {
		t.Fatalf("TotalUsage = %v, want 250", loaded[0].TotalUsage)
	}
	if loaded[0].Period != aggregationdomain.PeriodDaily {
		t.Fatalf("Period = %v", loaded[0].Period)
	}
}

func TestTrendBufferRoundTrip(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	buffer := aggregationdomain.TrendBuffer{
		TenantID:  "tenant-1",
		MeterType: meter.TypeAPICalls,
		Values:    []float64{1, 2, 3},
	}
	if err := store.SaveTrendBuffers(ctx, []aggregationdomain.TrendBuffer{buffer}); err != nil {
		t.Fatalf("SaveTrendBuffers: %v", err)
	}

	loaded, err := store.LoadTrendBuffers(ctx)
	if err != nil {
		t.Fatalf("LoadTrendBuffers: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("len(loaded) = %d, want 1", len(loaded))
	}
	if len(loaded[0].Values) != 3 || loaded[0].Values[2] != 3 {
		t.Fatalf("Values = %v, want [1 2 3]", loaded[0].Values)
	}
}

func TestDeleteBucketsEndingBefore(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	old := dailyBucket("tenant-old", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), 10)
	recent := dailyBucket("tenant-new", time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), 20)
	if err := store.SaveBuckets(ctx, []aggregationdomain.AggregatedUsage{old, recent}); err != nil {
		t.Fatalf("SaveBuckets: %v", err)
	}

	removed, err := store.DeleteBucketsEndingBefore(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("DeleteBucketsEndingBefore: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	loaded, err := store.LoadBuckets(ctx)
	if err != nil {
		t.Fatalf("LoadBuckets: %v", err)
	}
	if len(loaded) != 1 || loaded[0].TenantID != "tenant-new" {
		t.Fatalf("unexpected survivors: %+v", loaded)
	}
}
