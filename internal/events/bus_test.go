package events

import (
	"testing"
	"time"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus()

	var first, second []UsageRecorded
	bus.SubscribeUsageRecorded(func(e UsageRecorded) { first = append(first, e) })
	bus.SubscribeUsageRecorded(func(e UsageRecorded) { second = append(second, e) })

	bus.PublishUsageRecorded(UsageRecorded{
		TenantID:  "tenant-1",
		MeterType: "api_calls",
		Quantity:  5,
		Timestamp: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("fan-out counts = %d, %d; want 1, 1", len(first), len(second))
	}
	if first[0].TenantID != "tenant-1" || first[0].Quantity != 5 {
		t.Fatalf("unexpected event payload: %+v", first[0])
	}
}

func TestBusKindsAreIsolated(t *testing.T) {
	bus := NewBus()

	var breaches int
	var resets int
	bus.SubscribeThresholdBreached(func(ThresholdBreached) { breaches++ })
	bus.SubscribeMeterReset(func(MeterReset) { resets++ })

	bus.PublishThresholdBreached(ThresholdBreached{TenantID: "tenant-1", MeterType: "api_calls", Percentage: 75})
	bus.PublishThresholdBreached(ThresholdBreached{TenantID: "tenant-1", MeterType: "api_calls", Percentage: 90})

	if breaches != 2 {
		t.Fatalf("breaches = %d, want 2", breaches)
	}
	if resets != 0 {
		t.Fatalf("resets = %d, want 0", resets)
	}
}

func TestBusPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()

	// Must not panic.
	bus.PublishBillingCalculated(BillingCalculated{SubscriptionID: "sub-1"})
	bus.PublishHighUsage(HighUsage{TenantID: "tenant-1"})
}
