// Package events defines the typed billing event stream shared by the
// metering engine, the usage aggregator and the billing calculator.
package events

import "time"

// Event type names, used for log fields, metric labels and outbox rows.
const (
	EventUsageRecorded       = "usage.recorded"
	EventThresholdBreached   = "usage.threshold.breached"
	EventMeterReset          = "usage.meter.reset"
	EventBillingCalculated   = "billing.calculated"
	EventProRataCalculated   = "billing.prorata.calculated"
	EventExchangeRateUpdated = "billing.exchange_rate.updated"
	EventHighUsage           = "billing.high_usage"
)

// UsageRecorded is published by the metering engine after a usage event has
// been applied to a tenant's live meter reading.
type UsageRecorded struct {
	TenantID     string    `json:"tenant_id"`
	MeterType    string    `json:"meter_type"`
	Quantity     float64   `json:"quantity"`
	CurrentValue float64   `json:"current_value"`
	Timestamp    time.Time `json:"timestamp"`
}

// ThresholdBreached is published the first time usage crosses a configured
// threshold within a period.
type ThresholdBreached struct {
	TenantID       string    `json:"tenant_id"`
	MeterType      string    `json:"meter_type"`
	Percentage     float64   `json:"percentage"`
	Severity       string    `json:"severity"`
	CurrentValue   float64   `json:"current_value"`
	Limit          float64   `json:"limit"`
	PercentageUsed float64   `json:"percentage_used"`
	Timestamp      time.Time `json:"timestamp"`
}

// MeterReset carries the pre-reset value for audit.
type MeterReset struct {
	TenantID      string    `json:"tenant_id"`
	MeterType     string    `json:"meter_type"`
	PreviousValue float64   `json:"previous_value"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// BillingCalculated is published after a billing calculation completes.
type BillingCalculated struct {
	SubscriptionID string    `json:"subscription_id"`
	TenantID       string    `json:"tenant_id"`
	FinalTotal     float64   `json:"final_total"`
	Currency       string    `json:"currency"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
}

// ProRataCalculated is published after a pro-rata calculation completes.
type ProRataCalculated struct {
	SubscriptionID string  `json:"subscription_id"`
	TenantID       string  `json:"tenant_id"`
	Factor         float64 `json:"factor"`
	Reason         string  `json:"reason"`
	FinalTotal     float64 `json:"final_total"`
	Currency       string  `json:"currency"`
}

// ExchangeRateUpdated is published when a currency pair rate is replaced.
type ExchangeRateUpdated struct {
	From    string    `json:"from"`
	To      string    `json:"to"`
	OldRate float64   `json:"old_rate"`
	NewRate float64   `json:"new_rate"`
	Updated time.Time `json:"updated"`
}

// HighUsage is the billing-flavored re-emission of a threshold breach.
type HighUsage struct {
	TenantID       string  `json:"tenant_id"`
	MeterType      string  `json:"meter_type"`
	PercentageUsed float64 `json:"percentage_used"`
	Severity       string  `json:"severity"`
}
