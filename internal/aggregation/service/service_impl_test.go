package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	aggregationdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/aggregation/domain"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/config"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/events"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/meter"
)

type fakeRepo struct {
	savedBuckets  [][]aggregationdomain.AggregatedUsage
	savedBuffers  [][]aggregationdomain.TrendBuffer
	saveErr       error
	onSaveBuckets func()
}

func (f *fakeRepo) LoadBuckets(ctx context.Context) ([]aggregationdomain.AggregatedUsage, error) {
	return nil, nil
}

func (f *fakeRepo) LoadTrendBuffers(ctx context.Context) ([]aggregationdomain.TrendBuffer, error) {
	return nil, nil
}

func (f *fakeRepo) SaveBuckets(ctx context.Context, buckets []aggregationdomain.AggregatedUsage) error {
	if f.onSaveBuckets != nil {
		f.onSaveBuckets()
	}
	if f.saveErr != nil {
		return f.saveErr
	}
	f.savedBuckets = append(f.savedBuckets, buckets)
	return nil
}

func (f *fakeRepo) SaveTrendBuffers(ctx context.Context, buffers []aggregationdomain.TrendBuffer) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.savedBuffers = append(f.savedBuffers, buffers)
	return nil
}

func (f *fakeRepo) DeleteBucketsEndingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func newTestService(t *testing.T, repo aggregationdomain.Repository) (*Service, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	svc := NewService(ServiceParam{
		Log:      zap.NewNop(),
		Config:   config.Config{},
		Registry: meter.NewRegistry(meter.DefaultCatalog()),
		Repo:     repo,
		Bus:      bus,
	})
	return svc, bus
}

func TestUpdateAggregationAccumulates(t *testing.T) {
	svc, _ := newTestService(t, &fakeRepo{})
	ctx := context.Background()
	at := time.Date(2024, 6, 3, 10, 30, 0, 0, time.UTC)

	for _, qty := range []float64{10, 30, 20} {
		if _, err := svc.UpdateAggregation(ctx, "tenant-1", meter.TypeAPICalls, qty, aggregationdomain.PeriodDaily, at); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	bucket, ok := svc.GetAggregation("tenant-1", meter.TypeAPICalls, aggregationdomain.PeriodDaily, at)
	if !ok {
		t.Fatal("bucket not found")
	}
	if bucket.TotalUsage != 60 {
		t.Fatalf("TotalUsage = %v, want 60", bucket.TotalUsage)
	}
	if bucket.EventCount != 3 {
		t.Fatalf("EventCount = %v, want 3", bucket.EventCount)
	}
	if bucket.AverageUsage != 20 {
		t.Fatalf("AverageUsage = %v, want 20", bucket.AverageUsage)
	}
	if bucket.MinUsage != 10 || bucket.MaxUsage != 30 {
		t.Fatalf("Min/Max = %v/%v, want 10/30", bucket.MinUsage, bucket.MaxUsage)
	}
	if bucket.PeakUsage != 60 {
		t.Fatalf("PeakUsage = %v, want 60", bucket.PeakUsage)
	}
}

func TestUpdateAggregationRejectsNaN(t *testing.T) {
	svc, _ := newTestService(t, &fakeRepo{})
	nan := 0.0
	nan /= nan
	if _, err := svc.UpdateAggregation(context.Background(), "tenant-1", meter.TypeAPICalls, nan, aggregationdomain.PeriodDaily, time.Now()); !errors.Is(err, aggregationdomain.ErrInvalidQuantity) {
		t.Fatalf("err = %v, want ErrInvalidQuantity", err)
	}
}

func TestUsageRecordedEventFeedsHourlyBucket(t *testing.T) {
	svc, bus := newTestService(t, &fakeRepo{})
	at := time.Date(2024, 6, 3, 10, 15, 0, 0, time.UTC)

	bus.PublishUsageRecorded(events.UsageRecorded{
		TenantID:  "tenant-1",
		MeterType: string(meter.TypeAPICalls),
		Quantity:  5,
		Timestamp: at,
	})

	bucket, ok := svc.GetAggregation("tenant-1", meter.TypeAPICalls, aggregationdomain.PeriodHourly, at)
	if !ok {
		t.Fatal("hourly bucket not created from event")
	}
	if bucket.TotalUsage != 5 {
		t.Fatalf("TotalUsage = %v, want 5", bucket.TotalUsage)
	}
}

func TestPerformRollupDailyToWeekly(t *testing.T) {
	svc, _ := newTestService(t, &fakeRepo{})
	ctx := context.Background()

	// Monday 2024-06-03 through Sunday 2024-06-09, 100 per day.
	weekStart := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	for day := 0; day < 7; day++ {
		at := weekStart.AddDate(0, 0, day).Add(12 * time.Hour)
		if _, err := svc.UpdateAggregation(ctx, "tenant-1", meter.TypeAPICalls, 100, aggregationdomain.PeriodDaily, at); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	rolled, err := svc.PerformRollup(ctx, "tenant-1", meter.TypeAPICalls, aggregationdomain.PeriodDaily, aggregationdomain.PeriodWeekly, weekStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rolled == nil {
		t.Fatal("expected a rollup result")
	}
	if rolled.TotalUsage != 700 {
		t.Fatalf("TotalUsage = %v, want 700", rolled.TotalUsage)
	}
	if rolled.MinUsage != 100 || rolled.MaxUsage != 100 {
		t.Fatalf("Min/Max = %v/%v, want 100/100", rolled.MinUsage, rolled.MaxUsage)
	}
	if rolled.EventCount != 7 {
		t.Fatalf("EventCount = %v, want 7", rolled.EventCount)
	}
}

func TestPerformRollupNoSourceData(t *testing.T) {
	svc, _ := newTestService(t, &fakeRepo{})

	rolled, err := svc.PerformRollup(context.Background(), "tenant-1", meter.TypeAPICalls, aggregationdomain.PeriodDaily, aggregationdomain.PeriodWeekly, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rolled != nil {
		t.Fatalf("expected nil result for empty window, got %+v", rolled)
	}
}

func TestRunRollupsCascadesToBillingGranularities(t *testing.T) {
	svc, bus := newTestService(t, &fakeRepo{})
	ctx := context.Background()

	// Usage on two different June days, delivered over the bus as the
	// metering engine would.
	first := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	second := time.Date(2024, 6, 16, 12, 0, 0, 0, time.UTC)
	bus.PublishUsageRecorded(events.UsageRecorded{TenantID: "tenant-1", MeterType: string(meter.TypeAPICalls), Quantity: 100, Timestamp: first})
	bus.PublishUsageRecorded(events.UsageRecorded{TenantID: "tenant-1", MeterType: string(meter.TypeAPICalls), Quantity: 40, Timestamp: second})

	if err := svc.RunRollups(ctx, second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	daily, ok := svc.GetAggregation("tenant-1", meter.TypeAPICalls, aggregationdomain.PeriodDaily, first)
	if !ok || daily.TotalUsage != 100 {
		t.Fatalf("daily bucket for the previous day = %+v, want total 100", daily)
	}
	weekly, ok := svc.GetAggregation("tenant-1", meter.TypeAPICalls, aggregationdomain.PeriodWeekly, second)
	if !ok || weekly.TotalUsage != 140 {
		t.Fatalf("weekly bucket = %+v, want total 140", weekly)
	}
	monthly, ok := svc.GetAggregation("tenant-1", meter.TypeAPICalls, aggregationdomain.PeriodMonthly, second)
	if !ok || monthly.TotalUsage != 140 {
		t.Fatalf("monthly bucket = %+v, want total 140", monthly)
	}
	quarterly, ok := svc.GetAggregation("tenant-1", meter.TypeAPICalls, aggregationdomain.PeriodQuarterly, second)
	if !ok || quarterly.TotalUsage != 140 {
		t.Fatalf("quarterly bucket = %+v, want total 140", quarterly)
	}
	yearly, ok := svc.GetAggregation("tenant-1", meter.TypeAPICalls, aggregationdomain.PeriodYearly, second)
	if !ok || yearly.TotalUsage != 140 {
		t.Fatalf("yearly bucket = %+v, want total 140", yearly)
	}
}

func TestRunRollupsFinalizesPreviousPeriod(t *testing.T) {
	svc, bus := newTestService(t, &fakeRepo{})
	ctx := context.Background()

	// All usage in June, rollups running in early July.
	at := time.Date(2024, 6, 30, 23, 0, 0, 0, time.UTC)
	bus.PublishUsageRecorded(events.UsageRecorded{TenantID: "tenant-1", MeterType: string(meter.TypeAPICalls), Quantity: 75, Timestamp: at})

	if err := svc.RunRollups(ctx, time.Date(2024, 7, 1, 0, 30, 0, 0, time.UTC)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	monthly, ok := svc.GetAggregation("tenant-1", meter.TypeAPICalls, aggregationdomain.PeriodMonthly, at)
	if !ok || monthly.TotalUsage != 75 {
		t.Fatalf("closed June bucket = %+v, want total 75", monthly)
	}
}

func TestGetRangeSortedAndBounded(t *testing.T) {
	svc, _ := newTestService(t, &fakeRepo{})
	ctx := context.Background()

	days := []time.Time{
		time.Date(2024, 6, 5, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 4, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC), // outside range
	}
	for _, at := range days {
		if _, err := svc.UpdateAggregation(ctx, "tenant-1", meter.TypeAPICalls, 1, aggregationdomain.PeriodDaily, at); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	results := svc.GetRange(
		"tenant-1", meter.TypeAPICalls, aggregationdomain.PeriodDaily,
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
	)
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].PeriodStart.Before(results[i-1].PeriodStart) {
			t.Fatal("results not sorted by period start")
		}
	}
}

func TestGetTenantSummaryPreviousComparison(t *testing.T) {
	svc, _ := newTestService(t, &fakeRepo{})
	ctx := context.Background()

	current := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	previous := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	if _, err := svc.UpdateAggregation(ctx, "tenant-1", meter.TypeAPICalls, 150, aggregationdomain.PeriodMonthly, current); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.UpdateAggregation(ctx, "tenant-1", meter.TypeAPICalls, 100, aggregationdomain.PeriodMonthly, previous); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	summary := svc.GetTenantSummary("tenant-1", aggregationdomain.PeriodMonthly, current)
	if len(summary.Meters) != 1 {
		t.Fatalf("len(Meters) = %d, want 1", len(summary.Meters))
	}
	entry := summary.Meters[0]
	if entry.TotalUsage != 150 {
		t.Fatalf("TotalUsage = %v, want 150", entry.TotalUsage)
	}
	if entry.PreviousTotal == nil || *entry.PreviousTotal != 100 {
		t.Fatalf("PreviousTotal = %v, want 100", entry.PreviousTotal)
	}
	if entry.ChangePercent == nil || *entry.ChangePercent != 50 {
		t.Fatalf("ChangePercent = %v, want 50", entry.ChangePercent)
	}
}

func TestGetTrendZeroFilled(t *testing.T) {
	svc, _ := newTestService(t, &fakeRepo{})
	ctx := context.Background()

	until := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)
	// Only the middle day has data.
	if _, err := svc.UpdateAggregation(ctx, "tenant-1", meter.TypeAPICalls, 40, aggregationdomain.PeriodDaily, until.AddDate(0, 0, -1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	trend := svc.GetTrend("tenant-1", meter.TypeAPICalls, aggregationdomain.PeriodDaily, 3, until)
	if len(trend) != 3 {
		t.Fatalf("len(trend) = %d, want 3", len(trend))
	}
	if !trend[0].PeriodStart.Before(trend[1].PeriodStart) || !trend[1].PeriodStart.Before(trend[2].PeriodStart) {
		t.Fatal("trend not chronological")
	}
	if trend[0].TotalUsage != 0 || trend[2].TotalUsage != 0 {
		t.Fatal("empty periods must be zero-filled")
	}
	if trend[1].TotalUsage != 40 {
		t.Fatalf("middle point = %v, want 40", trend[1].TotalUsage)
	}
}

func TestDescribeStatistics(t *testing.T) {
	stats := Describe([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if stats.Mean != 5 {
		t.Fatalf("Mean = %v, want 5", stats.Mean)
	}
	if stats.Median != 4.5 {
		t.Fatalf("Median = %v, want 4.5", stats.Median)
	}
	if stats.Variance != 4 {
		t.Fatalf("Variance = %v, want 4 (population)", stats.Variance)
	}
	if stats.StdDev != 2 {
		t.Fatalf("StdDev = %v, want 2", stats.StdDev)
	}
	if stats.Min != 2 || stats.Max != 9 || stats.Sum != 40 || stats.Count != 8 {
		t.Fatalf("unexpected aggregate fields: %+v", stats)
	}
	if stats.P95 != 9 || stats.P99 != 9 {
		t.Fatalf("P95/P99 = %v/%v, want 9/9", stats.P95, stats.P99)
	}
}

func TestDescribeEmptySample(t *testing.T) {
	stats := Describe(nil)
	if stats != (aggregationdomain.Statistics{}) {
		t.Fatalf("empty sample must yield zero value, got %+v", stats)
	}
}

func TestSyncDirtyOnlyWritesDirtyEntries(t *testing.T) {
	repo := &fakeRepo{}
	svc, _ := newTestService(t, repo)
	ctx := context.Background()
	at := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	if _, err := svc.UpdateAggregation(ctx, "tenant-1", meter.TypeAPICalls, 10, aggregationdomain.PeriodDaily, at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.SyncDirty(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.savedBuckets) != 1 || len(repo.savedBuckets[0]) != 1 {
		t.Fatalf("first sync wrote %v batches", repo.savedBuckets)
	}

	// Nothing new dirty: second sync writes nothing.
	if err := svc.SyncDirty(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.savedBuckets) != 1 {
		t.Fatalf("clean sync must not write, got %d batches", len(repo.savedBuckets))
	}
}

func TestSyncDirtyKeepsMidWriteUpdates(t *testing.T) {
	repo := &fakeRepo{}
	svc, _ := newTestService(t, repo)
	ctx := context.Background()
	at := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	if _, err := svc.UpdateAggregation(ctx, "tenant-1", meter.TypeAPICalls, 100, aggregationdomain.PeriodDaily, at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// An update lands while the store write is in flight.
	repo.onSaveBuckets = func() {
		repo.onSaveBuckets = nil
		if _, err := svc.UpdateAggregation(ctx, "tenant-1", meter.TypeAPICalls, 500, aggregationdomain.PeriodDaily, at); err != nil {
			t.Errorf("mid-write update failed: %v", err)
		}
	}
	if err := svc.SyncDirty(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.SyncDirty(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.savedBuckets) != 2 {
		t.Fatalf("second sync must persist the mid-write update, wrote %d batches", len(repo.savedBuckets))
	}
	last := repo.savedBuckets[1]
	if len(last) != 1 || last[0].TotalUsage != 600 {
		t.Fatalf("persisted bucket = %+v, want total 600", last)
	}
}

func TestGetRawStatisticsDescribesHourlySamples(t *testing.T) {
	svc, bus := newTestService(t, &fakeRepo{})
	at := time.Date(2024, 6, 3, 10, 15, 0, 0, time.UTC)

	for _, qty := range []float64{10, 30, 20} {
		bus.PublishUsageRecorded(events.UsageRecorded{
			TenantID:  "tenant-1",
			MeterType: string(meter.TypeAPICalls),
			Quantity:  qty,
			Timestamp: at,
		})
	}

	stats := svc.GetRawStatistics("tenant-1", meter.TypeAPICalls)
	if stats.Count != 3 {
		t.Fatalf("Count = %d, want 3 raw samples (bucket statistics would see one total)", stats.Count)
	}
	if stats.Mean != 20 || stats.Min != 10 || stats.Max != 30 {
		t.Fatalf("Mean/Min/Max = %v/%v/%v, want 20/10/30", stats.Mean, stats.Min, stats.Max)
	}

	empty := svc.GetRawStatistics("tenant-1", meter.TypeDataStorage)
	if empty != (aggregationdomain.Statistics{}) {
		t.Fatalf("meter with no samples must yield the zero value, got %+v", empty)
	}
}

func TestSyncDirtyKeepsDirtyOnFailure(t *testing.T) {
	repo := &fakeRepo{saveErr: errors.New("store down")}
	svc, _ := newTestService(t, repo)
	ctx := context.Background()
	at := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	if _, err := svc.UpdateAggregation(ctx, "tenant-1", meter.TypeAPICalls, 10, aggregationdomain.PeriodDaily, at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.SyncDirty(ctx); err == nil {
		t.Fatal("expected sync error")
	}

	repo.saveErr = nil
	if err := svc.SyncDirty(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.savedBuckets) != 1 || len(repo.savedBuckets[0]) != 1 {
		t.Fatal("entry must stay dirty across a failed sync")
	}
}
