package service

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	aggregationdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/aggregation/domain"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/config"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/events"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/meter"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log      *zap.Logger
	Config   config.Config
	Registry *meter.Registry
	Repo     aggregationdomain.Repository
	Bus      *events.Bus
}

// Service owns the in-memory bucket table mirrored to the durable store.
// Buckets and trend buffers are dirty-tracked; only entries touched since
// the last sync are written.
type Service struct {
	log      *zap.Logger
	registry *meter.Registry
	repo     aggregationdomain.Repository

	trendCap int

	mu          sync.Mutex
	buckets     map[string]*aggregationdomain.AggregatedUsage
	dirty       map[string]struct{}
	trends      map[string]*aggregationdomain.TrendBuffer
	trendsDirty map[string]struct{}
}

func NewService(p ServiceParam) *Service {
	trendCap := p.Config.Aggregation.TrendBufferCap
	if trendCap <= 0 {
		trendCap = 8760
	}
	s := &Service{
		log:         p.Log.Named("aggregation.service"),
		registry:    p.Registry,
		repo:        p.Repo,
		trendCap:    trendCap,
		buckets:     make(map[string]*aggregationdomain.AggregatedUsage),
		dirty:       make(map[string]struct{}),
		trends:      make(map[string]*aggregationdomain.TrendBuffer),
		trendsDirty: make(map[string]struct{}),
	}

	p.Bus.SubscribeUsageRecorded(s.onUsageRecorded)
	return s
}

// onUsageRecorded feeds the finest (hourly) granularity as events arrive.
func (s *Service) onUsageRecorded(e events.UsageRecorded) {
	if _, err := s.UpdateAggregation(context.Background(), e.TenantID, meter.Type(e.MeterType), e.Quantity, aggregationdomain.PeriodHourly, e.Timestamp); err != nil {
		s.log.Warn("hourly aggregation update failed",
			zap.String("tenant_id", e.TenantID),
			zap.String("meter_type", e.MeterType),
			zap.Error(err),
		)
	}
}

func (s *Service) UpdateAggregation(ctx context.Context, tenantID string, meterType meter.Type, quantity float64, period aggregationdomain.Period, timestamp time.Time) (*aggregationdomain.AggregatedUsage, error) {
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return nil, aggregationdomain.ErrInvalidQuantity
	}
	start, end, err := aggregationdomain.PeriodBounds(period, timestamp)
	if err != nil {
		return nil, err
	}

	unit := ""
	if cfg, err := s.registry.Config(meterType); err == nil {
		unit = cfg.Unit
	}

	key := aggregationdomain.BucketKey(tenantID, meterType, period, start)

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.buckets[key]
	if !ok {
		bucket = &aggregationdomain.AggregatedUsage{
			TenantID:    tenantID,
			MeterType:   meterType,
			Period:      period,
			PeriodStart: start,
			PeriodEnd:   end,
			MinUsage:    quantity,
			MaxUsage:    quantity,
			Unit:        unit,
		}
		s.buckets[key] = bucket
	}

	bucket.TotalUsage += quantity
	bucket.EventCount++
	bucket.AverageUsage = bucket.TotalUsage / float64(bucket.EventCount)
	bucket.MinUsage = math.Min(bucket.MinUsage, quantity)
	bucket.MaxUsage = math.Max(bucket.MaxUsage, quantity)
	bucket.PeakUsage = math.Max(bucket.PeakUsage, bucket.TotalUsage)
	s.dirty[key] = struct{}{}

	if period == aggregationdomain.PeriodHourly {
		s.appendTrendLocked(tenantID, meterType, quantity)
	}

	result := *bucket
	return &result, nil
}

func trendKey(tenantID string, meterType meter.Type) string {
	return tenantID + ":" + string(meterType)
}

func (s *Service) appendTrendLocked(tenantID string, meterType meter.Type, quantity float64) {
	key := trendKey(tenantID, meterType)
	buffer, ok := s.trends[key]
	if !ok {
		buffer = &aggregationdomain.TrendBuffer{TenantID: tenantID, MeterType: meterType}
		s.trends[key] = buffer
	}
	buffer.Values = append(buffer.Values, quantity)
	if overflow := len(buffer.Values) - s.trendCap; overflow > 0 {
		buffer.Values = buffer.Values[overflow:]
	}
	s.trendsDirty[key] = struct{}{}
}

// PerformRollup combines every source-period bucket falling fully inside the
// target period into a single target bucket. A nil result with a nil error
// means no source data exists for that window; callers treat that as zero
// usage.
func (s *Service) PerformRollup(ctx context.Context, tenantID string, meterType meter.Type, sourcePeriod, targetPeriod aggregationdomain.Period, targetPeriodStart time.Time) (*aggregationdomain.AggregatedUsage, error) {
	targetStart, targetEnd, err := aggregationdomain.PeriodBounds(targetPeriod, targetPeriodStart)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var sources []*aggregationdomain.AggregatedUsage
	for _, bucket := range s.buckets {
		if bucket.TenantID != tenantID || bucket.MeterType != meterType || bucket.Period != sourcePeriod {
			continue
		}
		if bucket.PeriodStart.Before(targetStart) || bucket.PeriodEnd.After(targetEnd) {
			continue
		}
		sources = append(sources, bucket)
	}
	if len(sources) == 0 {
		return nil, nil
	}

	target := &aggregationdomain.AggregatedUsage{
		TenantID:    tenantID,
		MeterType:   meterType,
		Period:      targetPeriod,
		PeriodStart: targetStart,
		PeriodEnd:   targetEnd,
		MinUsage:    sources[0].MinUsage,
		Unit:        sources[0].Unit,
	}
	for _, src := range sources {
		target.TotalUsage += src.TotalUsage
		target.EventCount += src.EventCount
		target.PeakUsage = math.Max(target.PeakUsage, src.PeakUsage)
		target.MaxUsage = math.Max(target.MaxUsage, src.MaxUsage)
		target.MinUsage = math.Min(target.MinUsage, src.MinUsage)
	}
	if target.EventCount > 0 {
		target.AverageUsage = target.TotalUsage / float64(target.EventCount)
	}

	key := target.Key()
	s.buckets[key] = target
	s.dirty[key] = struct{}{}

	result := *target
	return &result, nil
}

// rollupChain orders the cascade so every coarser granularity is built from
// the one feeding it.
var rollupChain = []struct {
	source aggregationdomain.Period
	target aggregationdomain.Period
}{
	{aggregationdomain.PeriodHourly, aggregationdomain.PeriodDaily},
	{aggregationdomain.PeriodDaily, aggregationdomain.PeriodWeekly},
	{aggregationdomain.PeriodDaily, aggregationdomain.PeriodMonthly},
	{aggregationdomain.PeriodMonthly, aggregationdomain.PeriodQuarterly},
	{aggregationdomain.PeriodQuarterly, aggregationdomain.PeriodYearly},
}

// RunRollups cascades the hourly feed into every coarser granularity for
// each tenant and meter with data, covering the period containing now and
// the one before it so just-closed periods get their final rollup. The
// billing calculator reads monthly, quarterly and yearly buckets; this is
// what materializes them.
func (s *Service) RunRollups(ctx context.Context, now time.Time) error {
	type pair struct {
		tenantID  string
		meterType meter.Type
	}
	s.mu.Lock()
	pairs := make(map[pair]struct{})
	for _, bucket := range s.buckets {
		pairs[pair{bucket.TenantID, bucket.MeterType}] = struct{}{}
	}
	s.mu.Unlock()

	for p := range pairs {
		for _, step := range rollupChain {
			currentStart, _, err := aggregationdomain.PeriodBounds(step.target, now)
			if err != nil {
				return err
			}
			previousStart := aggregationdomain.StepBack(step.target, currentStart, 1)
			for _, targetStart := range []time.Time{previousStart, currentStart} {
				if _, err := s.PerformRollup(ctx, p.tenantID, p.meterType, step.source, step.target, targetStart); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// GetAggregation is the point lookup for the bucket containing an instant.
func (s *Service) GetAggregation(tenantID string, meterType meter.Type, period aggregationdomain.Period, at time.Time) (*aggregationdomain.AggregatedUsage, bool) {
	start, _, err := aggregationdomain.PeriodBounds(period, at)
	if err != nil {
		return nil, false
	}
	key := aggregationdomain.BucketKey(tenantID, meterType, period, start)

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.buckets[key]
	if !ok {
		return nil, false
	}
	result := *bucket
	return &result, true
}

// GetRange returns all buckets whose bounds lie within [start, end], sorted
// by period start.
func (s *Service) GetRange(tenantID string, meterType meter.Type, period aggregationdomain.Period, start, end time.Time) []aggregationdomain.AggregatedUsage {
	s.mu.Lock()
	var results []aggregationdomain.AggregatedUsage
	for _, bucket := range s.buckets {
		if bucket.TenantID != tenantID || bucket.MeterType != meterType || bucket.Period != period {
			continue
		}
		if bucket.PeriodStart.Before(start) || bucket.PeriodEnd.After(end) {
			continue
		}
		results = append(results, *bucket)
	}
	s.mu.Unlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].PeriodStart.Before(results[j].PeriodStart)
	})
	return results
}

// GetTenantSummary reports per-meter totals for the period containing the
// instant, with a comparison against the immediately preceding period when
// data for it exists.
func (s *Service) GetTenantSummary(tenantID string, period aggregationdomain.Period, at time.Time) aggregationdomain.TenantUsageSummary {
	start, end, err := aggregationdomain.PeriodBounds(period, at)
	if err != nil {
		return aggregationdomain.TenantUsageSummary{TenantID: tenantID, Period: period}
	}
	prevStart := aggregationdomain.StepBack(period, start, 1)

	summary := aggregationdomain.TenantUsageSummary{
		TenantID:    tenantID,
		Period:      period,
		PeriodStart: start,
		PeriodEnd:   end,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[meter.Type]*aggregationdomain.MeterPeriodSummary)
	previous := make(map[meter.Type]float64)
	for _, bucket := range s.buckets {
		if bucket.TenantID != tenantID || bucket.Period != period {
			continue
		}
		switch {
		case bucket.PeriodStart.Equal(start):
			current[bucket.MeterType] = &aggregationdomain.MeterPeriodSummary{
				MeterType:  bucket.MeterType,
				TotalUsage: bucket.TotalUsage,
				EventCount: bucket.EventCount,
			}
		case bucket.PeriodStart.Equal(prevStart):
			previous[bucket.MeterType] = bucket.TotalUsage
		}
	}

	for meterType, entry := range current {
		if prevTotal, ok := previous[meterType]; ok {
			total := prevTotal
			entry.PreviousTotal = &total
			if prevTotal != 0 {
				change := (entry.TotalUsage - prevTotal) / prevTotal * 100
				entry.ChangePercent = &change
			}
		}
		summary.Meters = append(summary.Meters, *entry)
	}
	sort.Slice(summary.Meters, func(i, j int) bool {
		return summary.Meters[i].MeterType < summary.Meters[j].MeterType
	})
	return summary
}

// GetTrend returns the most recent N period points ending at the period
// containing until, chronological and zero-filled for periods with no
// bucket.
func (s *Service) GetTrend(tenantID string, meterType meter.Type, period aggregationdomain.Period, points int, until time.Time) []aggregationdomain.TrendPoint {
	if points <= 0 {
		return nil
	}
	latestStart, _, err := aggregationdomain.PeriodBounds(period, until)
	if err != nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	trend := make([]aggregationdomain.TrendPoint, 0, points)
	for i := points - 1; i >= 0; i-- {
		periodStart := aggregationdomain.StepBack(period, latestStart, i)
		point := aggregationdomain.TrendPoint{PeriodStart: periodStart}
		key := aggregationdomain.BucketKey(tenantID, meterType, period, periodStart)
		if bucket, ok := s.buckets[key]; ok {
			point.TotalUsage = bucket.TotalUsage
			point.EventCount = bucket.EventCount
		}
		trend = append(trend, point)
	}
	return trend
}

// GetStatistics computes descriptive statistics over a trend window.
func (s *Service) GetStatistics(tenantID string, meterType meter.Type, period aggregationdomain.Period, points int, until time.Time) aggregationdomain.Statistics {
	trend := s.GetTrend(tenantID, meterType, period, points, until)
	values := lo.Map(trend, func(point aggregationdomain.TrendPoint, _ int) float64 {
		return point.TotalUsage
	})
	return Describe(values)
}

// GetRawStatistics computes descriptive statistics over the rolling buffer
// of raw hourly samples, so individual event magnitudes are described
// rather than bucket totals.
func (s *Service) GetRawStatistics(tenantID string, meterType meter.Type) aggregationdomain.Statistics {
	s.mu.Lock()
	var values []float64
	if buffer, ok := s.trends[trendKey(tenantID, meterType)]; ok {
		values = make([]float64, len(buffer.Values))
		copy(values, buffer.Values)
	}
	s.mu.Unlock()
	return Describe(values)
}

// Describe computes descriptive statistics for a sample. An empty sample
// yields the zero value.
func Describe(values []float64) aggregationdomain.Statistics {
	n := len(values)
	if n == 0 {
		return aggregationdomain.Statistics{}
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := lo.Sum(sorted)
	mean := sum / float64(n)

	var variance float64
	for _, v := range sorted {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(n)

	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return aggregationdomain.Statistics{
		Mean:     mean,
		Median:   median,
		Variance: variance,
		StdDev:   math.Sqrt(variance),
		Min:      sorted[0],
		Max:      sorted[n-1],
		Sum:      sum,
		Count:    n,
		P95:      percentile(sorted, 0.95),
		P99:      percentile(sorted, 0.99),
	}
}

// percentile indexes into the sorted sample; expects sorted input.
func percentile(sorted []float64, p float64) float64 {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// CleanupExpired drops buckets whose period ended before the cutoff. It is
// independent of rollup.
func (s *Service) CleanupExpired(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	removed := 0
	for key, bucket := range s.buckets {
		if bucket.PeriodEnd.Before(olderThan) {
			delete(s.buckets, key)
			delete(s.dirty, key)
			removed++
		}
	}
	s.mu.Unlock()

	if _, err := s.repo.DeleteBucketsEndingBefore(ctx, olderThan); err != nil {
		return removed, err
	}
	return removed, nil
}

// LoadFromStore rehydrates the in-memory tables at startup. A failed load
// yields an empty working set rather than blocking startup.
func (s *Service) LoadFromStore(ctx context.Context) error {
	buckets, err := s.repo.LoadBuckets(ctx)
	if err != nil {
		s.log.Warn("aggregate load failed, starting empty", zap.Error(err))
		return nil
	}
	buffers, err := s.repo.LoadTrendBuffers(ctx)
	if err != nil {
		s.log.Warn("trend buffer load failed, starting empty", zap.Error(err))
		buffers = nil
	}

	s.mu.Lock()
	for i := range buckets {
		bucket := buckets[i]
		s.buckets[bucket.Key()] = &bucket
	}
	for i := range buffers {
		buffer := buffers[i]
		if len(buffer.Values) > s.trendCap {
			buffer.Values = buffer.Values[len(buffer.Values)-s.trendCap:]
		}
		s.trends[trendKey(buffer.TenantID, buffer.MeterType)] = &buffer
	}
	s.mu.Unlock()

	s.log.Info("aggregation state loaded",
		zap.Int("buckets", len(buckets)),
		zap.Int("trend_buffers", len(buffers)),
	)
	return nil
}

// SyncDirty persists only entries marked dirty since the last sync. Dirty
// marks are cleared while capturing, so an update landing during the write
// re-marks its key and survives to the next cycle; failed writes re-mark
// the captured keys.
func (s *Service) SyncDirty(ctx context.Context) error {
	s.mu.Lock()
	dirtyBuckets := make([]aggregationdomain.AggregatedUsage, 0, len(s.dirty))
	dirtyKeys := make([]string, 0, len(s.dirty))
	for key := range s.dirty {
		if bucket, ok := s.buckets[key]; ok {
			dirtyBuckets = append(dirtyBuckets, *bucket)
		}
		dirtyKeys = append(dirtyKeys, key)
	}
	dirtyBuffers := make([]aggregationdomain.TrendBuffer, 0, len(s.trendsDirty))
	dirtyBufferKeys := make([]string, 0, len(s.trendsDirty))
	for key := range s.trendsDirty {
		if buffer, ok := s.trends[key]; ok {
			values := make([]float64, len(buffer.Values))
			copy(values, buffer.Values)
			dirtyBuffers = append(dirtyBuffers, aggregationdomain.TrendBuffer{
				TenantID:  buffer.TenantID,
				MeterType: buffer.MeterType,
				Values:    values,
			})
		}
		dirtyBufferKeys = append(dirtyBufferKeys, key)
	}
	for _, key := range dirtyKeys {
		delete(s.dirty, key)
	}
	for _, key := range dirtyBufferKeys {
		delete(s.trendsDirty, key)
	}
	s.mu.Unlock()

	if len(dirtyBuckets) > 0 {
		if err := s.repo.SaveBuckets(ctx, dirtyBuckets); err != nil {
			s.remarkDirty(dirtyKeys, dirtyBufferKeys)
			s.log.Warn("aggregate sync failed, keeping dirty", zap.Int("buckets", len(dirtyBuckets)), zap.Error(err))
			return err
		}
	}
	if len(dirtyBuffers) > 0 {
		if err := s.repo.SaveTrendBuffers(ctx, dirtyBuffers); err != nil {
			s.remarkDirty(nil, dirtyBufferKeys)
			s.log.Warn("trend buffer sync failed, keeping dirty", zap.Int("buffers", len(dirtyBuffers)), zap.Error(err))
			return err
		}
	}
	return nil
}

func (s *Service) remarkDirty(bucketKeys, bufferKeys []string) {
	s.mu.Lock()
	for _, key := range bucketKeys {
		s.dirty[key] = struct{}{}
	}
	for _, key := range bufferKeys {
		s.trendsDirty[key] = struct{}{}
	}
	s.mu.Unlock()
}
