package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	aggregationdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/aggregation/domain"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/clock"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/config"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/events"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/meter"
	meteringdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/metering/domain"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/observability/metrics"
)

type ServiceParam struct {
	fx.In

	Log      *zap.Logger
	Config   config.Config
	GenID    *snowflake.Node
	Registry *meter.Registry
	Repo     meteringdomain.SnapshotRepository
	Bus      *events.Bus
	Clock    clock.Clock
	Metrics  *metrics.PipelineMetrics `optional:"true"`
}

// Service is the usage metering engine. Live state is held in memory for
// speed and mirrored to the snapshot store; only tenants touched since the
// last sync are written.
type Service struct {
	log      *zap.Logger
	genID    *snowflake.Node
	registry *meter.Registry
	repo     meteringdomain.SnapshotRepository
	bus      *events.Bus
	clock    clock.Clock
	metrics  *metrics.PipelineMetrics

	bufferSize int
	keyLimit   int

	mu     sync.Mutex
	states map[string]*meteringdomain.TenantMeterState
	dirty  map[string]struct{}
	buffer []*meteringdomain.UsageEvent

	flushErrors int64
}

func NewService(p ServiceParam) *Service {
	bufferSize := p.Config.Metering.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	keyLimit := p.Config.Metering.IdempotencyKeyLimit
	if keyLimit <= 0 {
		keyLimit = 100000
	}
	return &Service{
		log:        p.Log.Named("metering.service"),
		genID:      p.GenID,
		registry:   p.Registry,
		repo:       p.Repo,
		bus:        p.Bus,
		clock:      p.Clock,
		metrics:    p.Metrics,
		bufferSize: bufferSize,
		keyLimit:   keyLimit,
		states:     make(map[string]*meteringdomain.TenantMeterState),
		dirty:      make(map[string]struct{}),
	}
}

// published collects bus events produced under the engine lock so they can
// be dispatched after it is released.
type published struct {
	usage    []events.UsageRecorded
	breaches []events.ThresholdBreached
	resets   []events.MeterReset
}

func (s *Service) publish(p *published) {
	for _, e := range p.resets {
		s.bus.PublishMeterReset(e)
	}
	for _, e := range p.usage {
		s.bus.PublishUsageRecorded(e)
	}
	for _, e := range p.breaches {
		if s.metrics != nil {
			s.metrics.IncThresholdBreach(e.Severity)
		}
		s.bus.PublishThresholdBreached(e)
	}
}

// RecordUsage accepts one usage observation. A repeated idempotency key for
// the tenant is a successful no-op: the returned event is a synthetic echo
// marked Duplicate and nothing is counted. The call flushes synchronously
// once the buffer reaches its high-water mark.
func (s *Service) RecordUsage(ctx context.Context, req meteringdomain.RecordUsageRequest) (*meteringdomain.UsageEvent, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, meteringdomain.ErrInvalidTenant
	}
	if math.IsNaN(req.Quantity) || math.IsInf(req.Quantity, 0) || req.Quantity < 0 {
		return nil, meteringdomain.ErrInvalidQuantity
	}
	cfg, err := s.registry.Config(req.MeterType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", meteringdomain.ErrInvalidMeterType, req.MeterType)
	}

	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = s.clock.Now()
	}
	unit := req.Unit
	if unit == "" {
		unit = cfg.Unit
	}

	event := &meteringdomain.UsageEvent{
		ID:             s.genID.Generate(),
		TenantID:       tenantID,
		MeterType:      req.MeterType,
		Quantity:       req.Quantity,
		Unit:           unit,
		Timestamp:      timestamp.UTC(),
		Metadata:       req.Metadata,
		Source:         req.Source,
		UserID:         req.UserID,
		ResourceID:     req.ResourceID,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	}

	pubs := &published{}
	s.mu.Lock()
	state := s.ensureStateLocked(tenantID)
	if !state.MarkSeen(event.IdempotencyKey) {
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.IncUsageDuplicate()
		}
		echo := *event
		echo.Duplicate = true
		return &echo, nil
	}
	s.dirty[tenantID] = struct{}{}

	s.buffer = append(s.buffer, event)
	if len(s.buffer) >= s.bufferSize {
		s.flushLocked(pubs)
	}
	s.mu.Unlock()

	s.publish(pubs)
	return event, nil
}

// RecordUsageBatch fans out over RecordUsage; a failing event does not stop
// the rest of the batch.
func (s *Service) RecordUsageBatch(ctx context.Context, reqs []meteringdomain.RecordUsageRequest) ([]*meteringdomain.UsageEvent, error) {
	results := make([]*meteringdomain.UsageEvent, 0, len(reqs))
	var firstErr error
	for _, req := range reqs {
		event, err := s.RecordUsage(ctx, req)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		results = append(results, event)
	}
	return results, firstErr
}

// Flush drains the ingestion buffer and applies every pending event.
func (s *Service) Flush(ctx context.Context) error {
	pubs := &published{}
	s.mu.Lock()
	s.flushLocked(pubs)
	s.mu.Unlock()
	s.publish(pubs)
	return nil
}

func (s *Service) flushLocked(pubs *published) {
	pending := s.buffer
	s.buffer = nil
	for _, event := range pending {
		if err := s.applyEventLocked(event, pubs); err != nil {
			s.flushErrors++
			if s.metrics != nil {
				s.metrics.IncFlushError()
			}
			s.log.Error("usage event processing failed",
				zap.String("tenant_id", event.TenantID),
				zap.String("meter_type", string(event.MeterType)),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) applyEventLocked(event *meteringdomain.UsageEvent, pubs *published) error {
	cfg, err := s.registry.Config(event.MeterType)
	if err != nil {
		return err
	}

	state := s.ensureStateLocked(event.TenantID)
	reading, ok := state.Readings[event.MeterType]
	if !ok {
		start, end, err := resetPeriodBounds(cfg.ResetPeriod, event.Timestamp)
		if err != nil {
			return err
		}
		reading = &meteringdomain.MeterReading{
			MeterType:   event.MeterType,
			Unit:        cfg.Unit,
			PeriodStart: start,
			PeriodEnd:   end,
			Limit:       cfg.HardCap,
		}
		state.Readings[event.MeterType] = reading
	}

	// Rollover: an event past the period end resets the reading first.
	if !event.Timestamp.Before(reading.PeriodEnd) {
		s.resetReadingLocked(state, reading, cfg, "period_rollover", event.Timestamp, pubs)
	}

	reading.CurrentValue += event.Quantity
	reading.EventCount++
	reading.LastUpdated = event.Timestamp
	if reading.Limit != nil && *reading.Limit > 0 {
		reading.PercentageUsed = reading.CurrentValue / *reading.Limit * 100
	}

	s.evaluateThresholdsLocked(state, reading, cfg, pubs)
	s.dirty[event.TenantID] = struct{}{}

	if s.metrics != nil {
		s.metrics.IncUsageEventIngested(string(event.MeterType))
	}
	pubs.usage = append(pubs.usage, events.UsageRecorded{
		TenantID:     event.TenantID,
		MeterType:    string(event.MeterType),
		Quantity:     event.Quantity,
		CurrentValue: reading.CurrentValue,
		Timestamp:    event.Timestamp,
	})
	return nil
}

// evaluateThresholdsLocked fires each configured threshold at most once per
// period; breaches never un-fire until the meter resets.
func (s *Service) evaluateThresholdsLocked(state *meteringdomain.TenantMeterState, reading *meteringdomain.MeterReading, cfg meter.Config, pubs *published) {
	if reading.Limit == nil || *reading.Limit <= 0 {
		return
	}
	breached := state.Breached[reading.MeterType]
	if breached == nil {
		breached = make(map[float64]struct{})
		state.Breached[reading.MeterType] = breached
	}
	for _, threshold := range cfg.Thresholds {
		if threshold.Percentage > reading.PercentageUsed {
			continue
		}
		if _, fired := breached[threshold.Percentage]; fired {
			continue
		}
		breached[threshold.Percentage] = struct{}{}
		pubs.breaches = append(pubs.breaches, events.ThresholdBreached{
			TenantID:       state.TenantID,
			MeterType:      string(reading.MeterType),
			Percentage:     threshold.Percentage,
			Severity:       string(threshold.Severity),
			CurrentValue:   reading.CurrentValue,
			Limit:          *reading.Limit,
			PercentageUsed: reading.PercentageUsed,
			Timestamp:      reading.LastUpdated,
		})
	}
}

func (s *Service) resetReadingLocked(state *meteringdomain.TenantMeterState, reading *meteringdomain.MeterReading, cfg meter.Config, reason string, at time.Time, pubs *published) {
	previous := reading.CurrentValue
	start, end, err := resetPeriodBounds(cfg.ResetPeriod, at)
	if err != nil {
		start, end = reading.PeriodStart, reading.PeriodEnd
	}

	reading.CurrentValue = 0
	reading.PercentageUsed = 0
	reading.EventCount = 0
	reading.PeriodStart = start
	reading.PeriodEnd = end
	reading.LastUpdated = at
	delete(state.Breached, reading.MeterType)

	pubs.resets = append(pubs.resets, events.MeterReset{
		TenantID:      state.TenantID,
		MeterType:     string(reading.MeterType),
		PreviousValue: previous,
		Reason:        reason,
		Timestamp:     at,
	})
}

// ResetMeter zeroes one meter, recomputes fresh period bounds and clears its
// breach set. The emitted event carries the pre-reset value for audit.
func (s *Service) ResetMeter(ctx context.Context, tenantID string, meterType meter.Type, reason string) error {
	cfg, err := s.registry.Config(meterType)
	if err != nil {
		return fmt.Errorf("%w: %s", meteringdomain.ErrInvalidMeterType, meterType)
	}

	pubs := &published{}
	s.mu.Lock()
	state, ok := s.states[tenantID]
	if !ok {
		s.mu.Unlock()
		return meteringdomain.ErrMeterNotFound
	}
	reading, ok := state.Readings[meterType]
	if !ok {
		s.mu.Unlock()
		return meteringdomain.ErrMeterNotFound
	}
	if reason == "" {
		reason = "manual"
	}
	s.resetReadingLocked(state, reading, cfg, reason, s.clock.Now(), pubs)
	s.dirty[tenantID] = struct{}{}
	s.mu.Unlock()

	s.publish(pubs)
	return nil
}

// ResetAllMeters resets every reading for a tenant and clears the tenant's
// idempotency seen-set.
func (s *Service) ResetAllMeters(ctx context.Context, tenantID string) error {
	now := s.clock.Now()
	pubs := &published{}

	s.mu.Lock()
	state, ok := s.states[tenantID]
	if !ok {
		s.mu.Unlock()
		return meteringdomain.ErrMeterNotFound
	}
	for meterType, reading := range state.Readings {
		cfg, err := s.registry.Config(meterType)
		if err != nil {
			continue
		}
		s.resetReadingLocked(state, reading, cfg, "reset_all", now, pubs)
	}
	state.SeenKeys = make(map[string]struct{})
	state.SeenOrder = nil
	state.LastReset = &now
	s.dirty[tenantID] = struct{}{}
	s.mu.Unlock()

	s.publish(pubs)
	return nil
}

func (s *Service) ensureStateLocked(tenantID string) *meteringdomain.TenantMeterState {
	state, ok := s.states[tenantID]
	if !ok {
		state = meteringdomain.NewTenantMeterState(tenantID)
		s.states[tenantID] = state
	}
	return state
}

// GetReading returns a copy of the live reading for a tenant/meter pair.
func (s *Service) GetReading(tenantID string, meterType meter.Type) (*meteringdomain.MeterReading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[tenantID]
	if !ok {
		return nil, false
	}
	reading, ok := state.Readings[meterType]
	if !ok {
		return nil, false
	}
	copied := *reading
	return &copied, true
}

func (s *Service) IsWithinLimits(tenantID string, meterType meter.Type) bool {
	reading, ok := s.GetReading(tenantID, meterType)
	if !ok || reading.Limit == nil {
		return true
	}
	return reading.CurrentValue < *reading.Limit
}

// RemainingUsage returns the unused headroom, or nil for unlimited meters.
func (s *Service) RemainingUsage(tenantID string, meterType meter.Type) *float64 {
	reading, ok := s.GetReading(tenantID, meterType)
	if !ok || reading.Limit == nil {
		return nil
	}
	remaining := math.Max(0, *reading.Limit-reading.CurrentValue)
	return &remaining
}

// Overage returns the units consumed above the limit.
func (s *Service) Overage(tenantID string, meterType meter.Type) float64 {
	reading, ok := s.GetReading(tenantID, meterType)
	if !ok || reading.Limit == nil {
		return 0
	}
	return math.Max(0, reading.CurrentValue-*reading.Limit)
}

// OverageCost prices the overage at the configured rate, or 0 when overage
// is not allowed for the meter.
func (s *Service) OverageCost(tenantID string, meterType meter.Type) float64 {
	cfg, err := s.registry.Config(meterType)
	if err != nil || !cfg.OverageAllowed {
		return 0
	}
	return s.Overage(tenantID, meterType) * cfg.OverageRate
}

// GetUsageSummary aggregates the tenant's meters into one view.
func (s *Service) GetUsageSummary(tenantID string) meteringdomain.UsageSummary {
	summary := meteringdomain.UsageSummary{TenantID: tenantID}

	s.mu.Lock()
	state, ok := s.states[tenantID]
	if !ok {
		s.mu.Unlock()
		return summary
	}
	readings := make([]meteringdomain.MeterReading, 0, len(state.Readings))
	for _, reading := range state.Readings {
		readings = append(readings, *reading)
	}
	s.mu.Unlock()

	sort.Slice(readings, func(i, j int) bool { return readings[i].MeterType < readings[j].MeterType })

	for _, reading := range readings {
		usage := meteringdomain.MeterUsage{
			MeterType:      reading.MeterType,
			CurrentValue:   reading.CurrentValue,
			Unit:           reading.Unit,
			Limit:          reading.Limit,
			PercentageUsed: reading.PercentageUsed,
		}
		if reading.Limit != nil {
			usage.Overage = math.Max(0, reading.CurrentValue-*reading.Limit)
			usage.AtLimit = reading.CurrentValue >= *reading.Limit
			usage.OverLimit = reading.CurrentValue > *reading.Limit
			if cfg, err := s.registry.Config(reading.MeterType); err == nil && cfg.OverageAllowed {
				usage.OverageCost = usage.Overage * cfg.OverageRate
			}
			if usage.AtLimit {
				summary.MetersAtLimit++
			}
			if usage.OverLimit {
				summary.MetersOverLimit++
			}
		}
		summary.TotalOverageCost += usage.OverageCost
		summary.Meters = append(summary.Meters, usage)
	}
	return summary
}

// LoadFromStore rehydrates tenant state at startup. A failed load yields an
// empty working set rather than blocking startup.
func (s *Service) LoadFromStore(ctx context.Context) error {
	snapshots, err := s.repo.LoadAll(ctx)
	if err != nil {
		s.log.Warn("tenant snapshot load failed, starting empty", zap.Error(err))
		return nil
	}

	s.mu.Lock()
	for _, snapshot := range snapshots {
		s.states[snapshot.TenantID] = snapshot.Restore(s.keyLimit)
	}
	s.mu.Unlock()

	s.log.Info("metering state loaded", zap.Int("tenants", len(snapshots)))
	return nil
}

// SyncDirty serializes and upserts only tenants touched since the last
// sync. The dirty mark is cleared only on successful write; failures leave
// the tenants dirty for the next cycle. Oversized idempotency sets are
// pruned on the way out.
func (s *Service) SyncDirty(ctx context.Context) error {
	s.mu.Lock()
	dirtyIDs := make([]string, 0, len(s.dirty))
	snapshots := make([]meteringdomain.TenantSnapshot, 0, len(s.dirty))
	for tenantID := range s.dirty {
		state, ok := s.states[tenantID]
		if !ok {
			continue
		}
		if evicted := state.PruneSeen(s.keyLimit); evicted > 0 {
			s.log.Debug("idempotency keys pruned",
				zap.String("tenant_id", tenantID),
				zap.Int("evicted", evicted),
			)
		}
		snapshots = append(snapshots, state.Snapshot())
		dirtyIDs = append(dirtyIDs, tenantID)
	}
	for _, tenantID := range dirtyIDs {
		delete(s.dirty, tenantID)
	}
	s.mu.Unlock()

	if len(snapshots) == 0 {
		return nil
	}

	if err := s.repo.Save(ctx, snapshots); err != nil {
		if s.metrics != nil {
			s.metrics.IncSyncFailure("metering")
		}
		s.mu.Lock()
		for _, tenantID := range dirtyIDs {
			s.dirty[tenantID] = struct{}{}
		}
		s.mu.Unlock()
		s.log.Warn("tenant snapshot sync failed, keeping dirty",
			zap.Int("tenants", len(snapshots)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// FlushErrorCount reports how many per-event processing errors occurred.
func (s *Service) FlushErrorCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushErrors
}

// resetPeriodBounds maps a meter reset policy onto calendar period bounds.
// billing_period meters follow the monthly calendar.
func resetPeriodBounds(resetPeriod meter.ResetPeriod, at time.Time) (time.Time, time.Time, error) {
	var period aggregationdomain.Period
	switch resetPeriod {
	case meter.ResetHourly:
		period = aggregationdomain.PeriodHourly
	case meter.ResetDaily:
		period = aggregationdomain.PeriodDaily
	case meter.ResetWeekly:
		period = aggregationdomain.PeriodWeekly
	case meter.ResetMonthly, meter.ResetBillingPeriod:
		period = aggregationdomain.PeriodMonthly
	default:
		return time.Time{}, time.Time{}, errors.New("unknown_reset_period")
	}
	return aggregationdomain.PeriodBounds(period, at)
}
