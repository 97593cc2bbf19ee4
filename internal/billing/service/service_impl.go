package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	aggregationdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/aggregation/domain"
	billingdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/billing/domain"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/cache"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/clock"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/config"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/events"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/meter"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/observability/metrics"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/pricing"
)

type ServiceParam struct {
	fx.In

	Log        *zap.Logger
	Config     config.Config
	Clock      clock.Clock
	Catalog    *pricing.Catalog
	Taxes      *pricing.TaxTable
	Rates      *pricing.ExchangeRates
	Aggregator aggregationdomain.Service
	Bus        *events.Bus
	Cache      cache.Cache[string, billingdomain.BillingCalculation]
	Outbox     *events.Outbox           `optional:"true"`
	Metrics    *metrics.PipelineMetrics `optional:"true"`
}

// Service is the metered billing calculator. Results are cached briefly per
// (subscription, period); recomputation is idempotent so a stale-but-unexpired
// read is acceptable.
type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	catalog    *pricing.Catalog
	taxes      *pricing.TaxTable
	rates      *pricing.ExchangeRates
	aggregator aggregationdomain.Service
	bus        *events.Bus
	cache      cache.Cache[string, billingdomain.BillingCalculation]
	outbox     *events.Outbox
	metrics    *metrics.PipelineMetrics
	cacheTTL   time.Duration
}

func NewService(p ServiceParam) *Service {
	cacheTTL := p.Config.Billing.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	s := &Service{
		log:        p.Log.Named("billing.service"),
		clock:      p.Clock,
		catalog:    p.Catalog,
		taxes:      p.Taxes,
		rates:      p.Rates,
		aggregator: p.Aggregator,
		bus:        p.Bus,
		cache:      p.Cache,
		outbox:     p.Outbox,
		metrics:    p.Metrics,
		cacheTTL:   cacheTTL,
	}
	p.Bus.SubscribeThresholdBreached(s.onThresholdBreached)
	return s
}

// onThresholdBreached re-emits breaches as billing-flavored high-usage
// notifications for downstream alerting.
func (s *Service) onThresholdBreached(e events.ThresholdBreached) {
	s.bus.PublishHighUsage(events.HighUsage{
		TenantID:       e.TenantID,
		MeterType:      e.MeterType,
		PercentageUsed: e.PercentageUsed,
		Severity:       e.Severity,
	})
}

func cacheKey(subscriptionID string, periodStart, periodEnd time.Time) string {
	return fmt.Sprintf("%s:%s:%s",
		subscriptionID,
		periodStart.UTC().Format(time.RFC3339),
		periodEnd.UTC().Format(time.RFC3339),
	)
}

func validateRequest(req billingdomain.CalculateBillingRequest) error {
	if strings.TrimSpace(req.SubscriptionID) == "" {
		return billingdomain.ErrInvalidSubscription
	}
	if strings.TrimSpace(req.TenantID) == "" {
		return billingdomain.ErrInvalidTenant
	}
	if !req.PeriodEnd.After(req.PeriodStart) {
		return billingdomain.ErrInvalidPeriod
	}
	if _, err := req.BillingCycle.Granularity(); err != nil {
		return err
	}
	return nil
}

// CalculateBilling produces the full billing calculation for one
// subscription and period.
func (s *Service) CalculateBilling(ctx context.Context, req billingdomain.CalculateBillingRequest) (*billingdomain.BillingCalculation, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	key := cacheKey(req.SubscriptionID, req.PeriodStart, req.PeriodEnd)
	if cached, ok := s.cache.Get(key); ok {
		if s.metrics != nil {
			s.metrics.IncBillingCacheHit()
		}
		return &cached, nil
	}

	usage, err := s.fetchUsage(req)
	if err != nil {
		return nil, err
	}
	calc, err := s.price(req, usage)
	if err != nil {
		return nil, err
	}

	s.cache.Set(key, *calc, s.cacheTTL)
	if s.metrics != nil {
		s.metrics.IncBillingCalculation("full")
	}
	s.emitCalculated(ctx, calc, key)
	return calc, nil
}

// CalculateProRataBilling prices the actual partial window and subtracts the
// unconsumed share of the metered subtotal as an explicit adjustment.
func (s *Service) CalculateProRataBilling(ctx context.Context, req billingdomain.CalculateProRataRequest) (*billingdomain.BillingCalculation, error) {
	fullDays := daysBetween(req.FullPeriodStart, req.FullPeriodEnd)
	actualDays := daysBetween(req.ActualStart, req.ActualEnd)
	if fullDays <= 0 || actualDays <= 0 || actualDays > fullDays {
		return nil, billingdomain.ErrInvalidPeriod
	}
	factor := float64(actualDays) / float64(fullDays)

	partial := req.CalculateBillingRequest
	partial.PeriodStart = req.ActualStart
	partial.PeriodEnd = req.ActualEnd
	partial.BasePlanFee = req.BasePlanFee.Mul(decimal.NewFromFloat(factor)).Round(2)
	if err := validateRequest(partial); err != nil {
		return nil, err
	}

	usage, err := s.fetchUsage(partial)
	if err != nil {
		return nil, err
	}
	calc, err := s.price(partial, usage)
	if err != nil {
		return nil, err
	}

	adjustment := calc.MeteredSubtotal.
		Mul(decimal.NewFromFloat(1 - factor)).
		Round(2)
	calc.ProRata = &billingdomain.ProRataAdjustment{
		Reason:          req.Reason,
		Factor:          factor,
		FullPeriodStart: req.FullPeriodStart,
		FullPeriodEnd:   req.FullPeriodEnd,
		ActualStart:     req.ActualStart,
		ActualEnd:       req.ActualEnd,
		Amount:          adjustment,
	}
	if err := s.rebuild(calc); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncBillingCalculation("prorata")
	}
	finalTotal, _ := calc.FinalTotal.Float64()
	s.bus.PublishProRataCalculated(events.ProRataCalculated{
		SubscriptionID: calc.SubscriptionID,
		TenantID:       calc.TenantID,
		Factor:         factor,
		Reason:         string(req.Reason),
		FinalTotal:     finalTotal,
		Currency:       calc.Currency,
	})
	if s.outbox != nil {
		dedupe := cacheKey(calc.SubscriptionID, calc.PeriodStart, calc.PeriodEnd) + ":prorata"
		if err := s.outbox.Append(ctx, calc.TenantID, events.EventProRataCalculated, map[string]any{
			"subscription_id": calc.SubscriptionID,
			"factor":          factor,
			"reason":          string(req.Reason),
			"final_total":     finalTotal,
			"currency":        calc.Currency,
		}, dedupe); err != nil {
			s.log.Warn("outbox append failed", zap.Error(err))
		}
	}
	return calc, nil
}

// GenerateInvoicePreview projects usage-to-date linearly over the full
// period and prices the projection. The result is marked estimated and
// never cached.
func (s *Service) GenerateInvoicePreview(ctx context.Context, req billingdomain.CalculateBillingRequest, now time.Time) (*billingdomain.BillingCalculation, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if now.IsZero() {
		now = s.clock.Now()
	}

	totalDays := daysBetween(req.PeriodStart, req.PeriodEnd)
	daysElapsed := daysBetween(req.PeriodStart, now)
	if daysElapsed < 1 {
		daysElapsed = 1
	}
	projectionFactor := float64(totalDays) / float64(daysElapsed)

	usage, err := s.fetchUsage(req)
	if err != nil {
		return nil, err
	}
	for meterType, units := range usage {
		usage[meterType] = math.Ceil(units * projectionFactor)
	}

	calc, err := s.price(req, usage)
	if err != nil {
		return nil, err
	}
	calc.EstimatedCharges = true
	if s.metrics != nil {
		s.metrics.IncBillingCalculation("preview")
	}
	return calc, nil
}

// granularityFallback orders the finer granularities a billing query falls
// back to when no bucket at the cycle's own granularity exists yet. Rollups
// lag the live hourly feed by up to one worker cycle.
var granularityFallback = map[aggregationdomain.Period][]aggregationdomain.Period{
	aggregationdomain.PeriodMonthly:   {aggregationdomain.PeriodDaily, aggregationdomain.PeriodHourly},
	aggregationdomain.PeriodQuarterly: {aggregationdomain.PeriodMonthly, aggregationdomain.PeriodDaily, aggregationdomain.PeriodHourly},
	aggregationdomain.PeriodYearly:    {aggregationdomain.PeriodQuarterly, aggregationdomain.PeriodMonthly, aggregationdomain.PeriodDaily, aggregationdomain.PeriodHourly},
}

// fetchUsage sums aggregated buckets per meter at the cycle's granularity,
// falling back to the finest buckets inside the window when coarser rollups
// have not materialized. Exactly one granularity is summed per meter; mixing
// would double count.
func (s *Service) fetchUsage(req billingdomain.CalculateBillingRequest) (map[meter.Type]float64, error) {
	granularity, err := req.BillingCycle.Granularity()
	if err != nil {
		return nil, err
	}
	meters, err := s.catalog.PlanMeters(req.PlanTier)
	if err != nil {
		return nil, err
	}

	usage := make(map[meter.Type]float64, len(meters))
	for _, meterType := range meters {
		usage[meterType] = s.sumUsage(req.TenantID, meterType, granularity, req.PeriodStart, req.PeriodEnd)
	}
	return usage, nil
}

func (s *Service) sumUsage(tenantID string, meterType meter.Type, granularity aggregationdomain.Period, start, end time.Time) float64 {
	periods := append([]aggregationdomain.Period{granularity}, granularityFallback[granularity]...)
	for _, period := range periods {
		buckets := s.aggregator.GetRange(tenantID, meterType, period, start, end)
		if len(buckets) == 0 {
			continue
		}
		var total float64
		for _, bucket := range buckets {
			total += bucket.TotalUsage
		}
		return total
	}
	return 0
}

// price runs the tier walk, tax and currency pipeline over the given usage.
func (s *Service) price(req billingdomain.CalculateBillingRequest, usage map[meter.Type]float64) (*billingdomain.BillingCalculation, error) {
	meters, err := s.catalog.PlanMeters(req.PlanTier)
	if err != nil {
		return nil, err
	}

	calc := &billingdomain.BillingCalculation{
		SubscriptionID: req.SubscriptionID,
		TenantID:       req.TenantID,
		PlanTier:       req.PlanTier,
		BillingCycle:   req.BillingCycle,
		PeriodStart:    req.PeriodStart.UTC(),
		PeriodEnd:      req.PeriodEnd.UTC(),
		Region:         strings.ToUpper(strings.TrimSpace(req.Region)),
		BasePlanFee:    req.BasePlanFee.Round(2),
		CalculatedAt:   s.clock.Now(),
	}

	meteredSubtotal := decimal.Zero
	for _, meterType := range meters {
		model, err := s.catalog.Model(req.PlanTier, meterType)
		if err != nil {
			return nil, err
		}
		if calc.BaseCurrency == "" && model.Currency != "" {
			calc.BaseCurrency = model.Currency
		}
		charge := buildMeterCharge(meterType, model, usage[meterType])
		meteredSubtotal = meteredSubtotal.Add(charge.Subtotal)
		calc.MeterCharges = append(calc.MeterCharges, charge)
	}
	if calc.BaseCurrency == "" {
		calc.BaseCurrency = "USD"
	}
	calc.Currency = strings.ToUpper(strings.TrimSpace(req.TargetCurrency))
	if calc.Currency == "" {
		calc.Currency = calc.BaseCurrency
	}

	calc.MeteredSubtotal = meteredSubtotal
	calc.SubtotalBeforeTax = calc.BasePlanFee.Add(meteredSubtotal)

	if err := s.rebuild(calc); err != nil {
		return nil, err
	}
	return calc, nil
}

// buildMeterCharge walks the ordered tiers. MaxUnits is inclusive; zero
// billable units yield an empty breakdown regardless of minimum charge.
func buildMeterCharge(meterType meter.Type, model pricing.MeterPricingModel, totalUnits float64) billingdomain.MeterCharge {
	charge := billingdomain.MeterCharge{
		MeterType:     meterType,
		DisplayName:   model.DisplayName,
		Unit:          model.Unit,
		TotalUnits:    totalUnits,
		IncludedUnits: model.IncludedUnits,
		BillableUnits: math.Max(0, totalUnits-model.IncludedUnits),
		Subtotal:      decimal.Zero,
	}
	if charge.BillableUnits <= 0 {
		return charge
	}

	remaining := charge.BillableUnits
	for index, tier := range model.Tiers {
		if remaining <= 0 {
			break
		}
		units := remaining
		if capacity, bounded := tier.Capacity(); bounded && units > capacity {
			units = capacity
		}
		amount := decimal.NewFromFloat(units).Mul(tier.PricePerUnit)
		if !tier.FlatFee.IsZero() {
			amount = amount.Add(tier.FlatFee)
		}
		amount = amount.Round(2)

		charge.Tiers = append(charge.Tiers, billingdomain.TierLineItem{
			TierIndex:    index,
			MinUnits:     tier.MinUnits,
			MaxUnits:     tier.MaxUnits,
			Units:        units,
			PricePerUnit: tier.PricePerUnit,
			Amount:       amount,
		})
		charge.Subtotal = charge.Subtotal.Add(amount)
		remaining -= units
	}

	if model.MinimumCharge.IsPositive() && charge.Subtotal.LessThan(model.MinimumCharge) {
		charge.Subtotal = model.MinimumCharge
		charge.MinimumApplied = true
	}
	return charge
}

// rebuild recomputes tax, total and final total from the calculation's
// subtotal and its applied discounts, pro-rata adjustment and credits. Tax
// is always recomputed on the discounted subtotal, never scaled.
func (s *Service) rebuild(calc *billingdomain.BillingCalculation) error {
	taxable := calc.SubtotalBeforeTax
	for _, discount := range calc.Discounts {
		taxable = taxable.Sub(discount.Amount)
	}
	if taxable.IsNegative() {
		taxable = decimal.Zero
	}

	calc.Taxes = nil
	calc.TotalTax = decimal.Zero
	if taxConfig, ok := s.taxes.Lookup(calc.Region); ok {
		amount := taxable.Mul(taxConfig.Rate).Div(decimal.NewFromInt(100)).Round(2)
		calc.Taxes = []billingdomain.AppliedTax{{
			RegionCode:  taxConfig.RegionCode,
			Type:        taxConfig.Type,
			DisplayName: taxConfig.DisplayName,
			Rate:        taxConfig.Rate,
			Amount:      amount,
		}}
		calc.TotalTax = amount
	}

	calc.Total = taxable.Add(calc.TotalTax)

	base := calc.Total
	if calc.ProRata != nil {
		base = base.Sub(calc.ProRata.Amount)
	}
	for _, credit := range calc.Credits {
		base = base.Sub(credit.Amount)
	}
	if base.IsNegative() {
		base = decimal.Zero
	}

	final, err := s.rates.Convert(base, calc.BaseCurrency, calc.Currency)
	if err != nil {
		return err
	}
	calc.FinalTotal = final
	return nil
}

// ApplyCredit returns a new calculation with the credit deducted. The credit
// caps itself at the current remaining total.
func (s *Service) ApplyCredit(calc billingdomain.BillingCalculation, amount decimal.Decimal, description string) (*billingdomain.BillingCalculation, error) {
	if !amount.IsPositive() {
		return nil, billingdomain.ErrInvalidAmount
	}

	next := cloneCalculation(calc)

	remaining := next.Total
	if next.ProRata != nil {
		remaining = remaining.Sub(next.ProRata.Amount)
	}
	for _, credit := range next.Credits {
		remaining = remaining.Sub(credit.Amount)
	}
	if amount.GreaterThan(remaining) {
		amount = remaining
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	next.Credits = append(next.Credits, billingdomain.AppliedCredit{
		Description: description,
		Amount:      amount,
	})
	if err := s.rebuild(&next); err != nil {
		return nil, err
	}
	return &next, nil
}

// ApplyDiscount returns a new calculation with the discount applied to the
// pre-tax subtotal. Discounts are sequential: each reduces the taxable base
// by its own amount before the next is considered.
func (s *Service) ApplyDiscount(calc billingdomain.BillingCalculation, discount billingdomain.AppliedDiscount) (*billingdomain.BillingCalculation, error) {
	if (discount.Percentage == nil) == (discount.FixedAmount == nil) {
		return nil, billingdomain.ErrInvalidAmount
	}

	next := cloneCalculation(calc)

	taxable := next.SubtotalBeforeTax
	for _, applied := range next.Discounts {
		taxable = taxable.Sub(applied.Amount)
	}

	var amount decimal.Decimal
	switch {
	case discount.Percentage != nil:
		if !discount.Percentage.IsPositive() {
			return nil, billingdomain.ErrInvalidAmount
		}
		amount = next.SubtotalBeforeTax.
			Mul(*discount.Percentage).
			Div(decimal.NewFromInt(100)).
			Round(2)
	default:
		if !discount.FixedAmount.IsPositive() {
			return nil, billingdomain.ErrInvalidAmount
		}
		amount = *discount.FixedAmount
	}
	if amount.GreaterThan(taxable) {
		amount = taxable
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	discount.Amount = amount
	next.Discounts = append(next.Discounts, discount)
	if err := s.rebuild(&next); err != nil {
		return nil, err
	}
	return &next, nil
}

func cloneCalculation(calc billingdomain.BillingCalculation) billingdomain.BillingCalculation {
	next := calc
	next.MeterCharges = append([]billingdomain.MeterCharge(nil), calc.MeterCharges...)
	next.Taxes = append([]billingdomain.AppliedTax(nil), calc.Taxes...)
	next.Credits = append([]billingdomain.AppliedCredit(nil), calc.Credits...)
	next.Discounts = append([]billingdomain.AppliedDiscount(nil), calc.Discounts...)
	if calc.ProRata != nil {
		proRata := *calc.ProRata
		next.ProRata = &proRata
	}
	return next
}

// ClearCache empties the whole billing-result cache.
func (s *Service) ClearCache() {
	s.cache.DeleteFunc(func(string) bool { return true })
}

// ClearCacheForSubscription removes entries keyed by one subscription.
func (s *Service) ClearCacheForSubscription(subscriptionID string) {
	prefix := subscriptionID + ":"
	s.cache.DeleteFunc(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
}

func (s *Service) emitCalculated(ctx context.Context, calc *billingdomain.BillingCalculation, dedupe string) {
	finalTotal, _ := calc.FinalTotal.Float64()
	s.bus.PublishBillingCalculated(events.BillingCalculated{
		SubscriptionID: calc.SubscriptionID,
		TenantID:       calc.TenantID,
		FinalTotal:     finalTotal,
		Currency:       calc.Currency,
		PeriodStart:    calc.PeriodStart,
		PeriodEnd:      calc.PeriodEnd,
	})
	if s.outbox != nil {
		if err := s.outbox.Append(ctx, calc.TenantID, events.EventBillingCalculated, map[string]any{
			"subscription_id": calc.SubscriptionID,
			"final_total":     finalTotal,
			"currency":        calc.Currency,
			"period_start":    calc.PeriodStart.Format(time.RFC3339),
			"period_end":      calc.PeriodEnd.Format(time.RFC3339),
		}, dedupe); err != nil {
			s.log.Warn("outbox append failed", zap.Error(err))
		}
	}
}

// daysBetween is the whole-day difference between two UTC dates after
// normalizing away the time of day.
func daysBetween(start, end time.Time) int {
	start = start.UTC()
	end = end.UTC()
	startDate := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	endDate := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int(endDate.Sub(startDate).Hours() / 24)
}
