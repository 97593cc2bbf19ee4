// Package domain defines the billing calculation model and the calculator
// contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	aggregationdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/aggregation/domain"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/meter"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/pricing"
)

var (
	ErrInvalidSubscription = errors.New("invalid_subscription")
	ErrInvalidTenant       = errors.New("invalid_tenant")
	ErrInvalidPeriod       = errors.New("invalid_period")
	ErrInvalidBillingCycle = errors.New("invalid_billing_cycle")
	ErrInvalidAmount       = errors.New("invalid_amount")
)

// BillingCycle is the subscription's charge cadence.
type BillingCycle string

const (
	CycleMonthly    BillingCycle = "monthly"
	CycleQuarterly  BillingCycle = "quarterly"
	CycleSemiAnnual BillingCycle = "semi_annual"
	CycleAnnual     BillingCycle = "annual"
)

// Granularity maps the billing cycle onto an aggregation period. Semi-annual
// cycles read quarterly buckets; there is no six-month granularity.
func (c BillingCycle) Granularity() (aggregationdomain.Period, error) {
	switch c {
	case CycleMonthly:
		return aggregationdomain.PeriodMonthly, nil
	case CycleQuarterly, CycleSemiAnnual:
		return aggregationdomain.PeriodQuarterly, nil
	case CycleAnnual:
		return aggregationdomain.PeriodYearly, nil
	default:
		return "", ErrInvalidBillingCycle
	}
}

// ProRataReason annotates why a partial-period charge was produced.
type ProRataReason string

const (
	ProRataUpgrade       ProRataReason = "upgrade"
	ProRataDowngrade     ProRataReason = "downgrade"
	ProRataMidCycleStart ProRataReason = "mid_cycle_start"
	ProRataCancellation  ProRataReason = "cancellation"
)

// TierLineItem is one consumed band of a meter's tier walk.
type TierLineItem struct {
	TierIndex    int             `json:"tier_index"`
	MinUnits     float64         `json:"min_units"`
	MaxUnits     *float64        `json:"max_units,omitempty"`
	Units        float64         `json:"units"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	Amount       decimal.Decimal `json:"amount"`
}

// MeterCharge is the priced result for one meter. Zero-usage meters still
// appear with an empty breakdown and zero subtotal.
type MeterCharge struct {
	MeterType      meter.Type      `json:"meter_type"`
	DisplayName    string          `json:"display_name"`
	Unit           string          `json:"unit"`
	TotalUnits     float64         `json:"total_units"`
	IncludedUnits  float64         `json:"included_units"`
	BillableUnits  float64         `json:"billable_units"`
	Tiers          []TierLineItem  `json:"tiers,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	MinimumApplied bool            `json:"minimum_applied,omitempty"`
}

// AppliedTax is one tax line. Only a single jurisdiction is modeled.
type AppliedTax struct {
	RegionCode  string          `json:"region_code"`
	Type        pricing.TaxType `json:"type"`
	DisplayName string          `json:"display_name"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
}

// ProRataAdjustment records a partial-period correction.
type ProRataAdjustment struct {
	Reason          ProRataReason   `json:"reason"`
	Factor          float64         `json:"factor"`
	FullPeriodStart time.Time       `json:"full_period_start"`
	FullPeriodEnd   time.Time       `json:"full_period_end"`
	ActualStart     time.Time       `json:"actual_start"`
	ActualEnd       time.Time       `json:"actual_end"`
	Amount          decimal.Decimal `json:"amount"`
}

// AppliedCredit is one credit deducted from the final total.
type AppliedCredit struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// AppliedDiscount is one discount off the pre-tax subtotal. Exactly one of
// Percentage or FixedAmount is set.
type AppliedDiscount struct {
	Description string           `json:"description"`
	Percentage  *decimal.Decimal `json:"percentage,omitempty"`
	FixedAmount *decimal.Decimal `json:"fixed_amount,omitempty"`
	Amount      decimal.Decimal  `json:"amount"`
}

// BillingCalculation is the computed result for one subscription/period.
// Immutable value object: credits and discounts produce a new calculation
// rather than mutating one in place. Monetary fields except FinalTotal are
// in BaseCurrency; FinalTotal is in Currency.
type BillingCalculation struct {
	SubscriptionID    string             `json:"subscription_id"`
	TenantID          string             `json:"tenant_id"`
	PlanTier          pricing.PlanTier   `json:"plan_tier"`
	BillingCycle      BillingCycle       `json:"billing_cycle"`
	PeriodStart       time.Time          `json:"period_start"`
	PeriodEnd         time.Time          `json:"period_end"`
	Region            string             `json:"region"`
	BaseCurrency      string             `json:"base_currency"`
	Currency          string             `json:"currency"`
	BasePlanFee       decimal.Decimal    `json:"base_plan_fee"`
	MeterCharges      []MeterCharge      `json:"meter_charges"`
	MeteredSubtotal   decimal.Decimal    `json:"metered_subtotal"`
	SubtotalBeforeTax decimal.Decimal    `json:"subtotal_before_tax"`
	Taxes             []AppliedTax       `json:"taxes,omitempty"`
	TotalTax          decimal.Decimal    `json:"total_tax"`
	Total             decimal.Decimal    `json:"total"`
	ProRata           *ProRataAdjustment `json:"pro_rata,omitempty"`
	Credits           []AppliedCredit    `json:"credits,omitempty"`
	Discounts         []AppliedDiscount  `json:"discounts,omitempty"`
	FinalTotal        decimal.Decimal    `json:"final_total"`
	EstimatedCharges  bool               `json:"estimated_charges,omitempty"`
	CalculatedAt      time.Time          `json:"calculated_at"`
}

// CalculateBillingRequest carries the inputs of one billing calculation.
type CalculateBillingRequest struct {
	SubscriptionID string           `json:"subscription_id"`
	TenantID       string           `json:"tenant_id"`
	PlanTier       pricing.PlanTier `json:"plan_tier"`
	BillingCycle   BillingCycle     `json:"billing_cycle"`
	PeriodStart    time.Time        `json:"period_start"`
	PeriodEnd      time.Time        `json:"period_end"`
	BasePlanFee    decimal.Decimal  `json:"base_plan_fee"`
	Region         string           `json:"region"`
	TargetCurrency string           `json:"target_currency"`
}

// CalculateProRataRequest prices the actual partial window of a full period.
type CalculateProRataRequest struct {
	CalculateBillingRequest

	FullPeriodStart time.Time     `json:"full_period_start"`
	FullPeriodEnd   time.Time     `json:"full_period_end"`
	ActualStart     time.Time     `json:"actual_start"`
	ActualEnd       time.Time     `json:"actual_end"`
	Reason          ProRataReason `json:"reason"`
}

// Service is the metered billing calculator contract.
type Service interface {
	CalculateBilling(ctx context.Context, req CalculateBillingRequest) (*BillingCalculation, error)
	CalculateProRataBilling(ctx context.Context, req CalculateProRataRequest) (*BillingCalculation, error)
	GenerateInvoicePreview(ctx context.Context, req CalculateBillingRequest, now time.Time) (*BillingCalculation, error)
	ApplyCredit(calc BillingCalculation, amount decimal.Decimal, description string) (*BillingCalculation, error)
	ApplyDiscount(calc BillingCalculation, discount AppliedDiscount) (*BillingCalculation, error)
	ClearCache()
	ClearCacheForSubscription(subscriptionID string)
}
