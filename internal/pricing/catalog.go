// Package pricing holds the static pricing, tax and currency catalogs used
// by the metered billing calculator.
package pricing

import (
	"errors"

	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/meter"
	"github.com/shopspring/decimal"
)

// PlanTier identifies a subscription plan level.
type PlanTier string

const (
	PlanStarter      PlanTier = "starter"
	PlanProfessional PlanTier = "professional"
	PlanEnterprise   PlanTier = "enterprise"
)

var (
	ErrUnknownPlanTier = errors.New("unknown_plan_tier")
	ErrUnknownModel    = errors.New("unknown_pricing_model")
)

// Tier is one graduated price band over the billable-unit axis. MaxUnits is
// inclusive; nil means unbounded. Tiers for a model must be ordered,
// contiguous and non-overlapping.
type Tier struct {
	MinUnits     float64
	MaxUnits     *float64
	PricePerUnit decimal.Decimal
	FlatFee      decimal.Decimal
}

// Capacity returns how many billable units this tier can absorb.
func (t Tier) Capacity() (float64, bool) {
	if t.MaxUnits == nil {
		return 0, false
	}
	return *t.MaxUnits - t.MinUnits, true
}

// MeterPricingModel prices one meter type on one plan tier.
type MeterPricingModel struct {
	DisplayName   string
	Unit          string
	IncludedUnits float64
	Tiers         []Tier
	MinimumCharge decimal.Decimal
	Currency      string
}

type modelKey struct {
	Plan  PlanTier
	Meter meter.Type
}

// Catalog is a flat, typed lookup table keyed by (plan tier, meter type).
// A missing combination surfaces as an error rather than a silent zero.
type Catalog struct {
	models map[modelKey]MeterPricingModel
	plans  map[PlanTier][]meter.Type
}

func NewCatalog() *Catalog {
	return &Catalog{
		models: make(map[modelKey]MeterPricingModel),
		plans:  make(map[PlanTier][]meter.Type),
	}
}

// Register adds a pricing model for a plan/meter combination.
func (c *Catalog) Register(plan PlanTier, meterType meter.Type, model MeterPricingModel) {
	key := modelKey{Plan: plan, Meter: meterType}
	if _, exists := c.models[key]; !exists {
		c.plans[plan] = append(c.plans[plan], meterType)
	}
	c.models[key] = model
}

// Model returns the pricing model for a plan/meter combination.
func (c *Catalog) Model(plan PlanTier, meterType meter.Type) (MeterPricingModel, error) {
	if _, ok := c.plans[plan]; !ok {
		return MeterPricingModel{}, ErrUnknownPlanTier
	}
	model, ok := c.models[modelKey{Plan: plan, Meter: meterType}]
	if !ok {
		return MeterPricingModel{}, ErrUnknownModel
	}
	return model, nil
}

// PlanMeters returns the meter types priced on a plan, in registration
// order. An unregistered plan tier is a hard error.
func (c *Catalog) PlanMeters(plan PlanTier) ([]meter.Type, error) {
	meters, ok := c.plans[plan]
	if !ok {
		return nil, ErrUnknownPlanTier
	}
	return meters, nil
}
