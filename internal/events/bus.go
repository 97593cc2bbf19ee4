package events

import "sync"

// Bus is an in-process event bus with one subscriber list per event kind.
// Handlers run synchronously on the publisher's goroutine; subscribers must
// not block. Producers and consumers stay decoupled without stringly-typed
// topics.
type Bus struct {
	mu sync.RWMutex

	usageRecorded       []func(UsageRecorded)
	thresholdBreached   []func(ThresholdBreached)
	meterReset          []func(MeterReset)
	billingCalculated   []func(BillingCalculated)
	proRataCalculated   []func(ProRataCalculated)
	exchangeRateUpdated []func(ExchangeRateUpdated)
	highUsage           []func(HighUsage)
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) SubscribeUsageRecorded(h func(UsageRecorded)) {
	b.mu.Lock()
	b.usageRecorded = append(b.usageRecorded, h)
	b.mu.Unlock()
}

func (b *Bus) PublishUsageRecorded(e UsageRecorded) {
	b.mu.RLock()
	handlers := b.usageRecorded
	b.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

func (b *Bus) SubscribeThresholdBreached(h func(ThresholdBreached)) {
	b.mu.Lock()
	b.thresholdBreached = append(b.thresholdBreached, h)
	b.mu.Unlock()
}

func (b *Bus) PublishThresholdBreached(e ThresholdBreached) {
	b.mu.RLock()
	handlers := b.thresholdBreached
	b.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

func (b *Bus) SubscribeMeterReset(h func(MeterReset)) {
	b.mu.Lock()
	b.meterReset = append(b.meterReset, h)
	b.mu.Unlock()
}

func (b *Bus) PublishMeterReset(e MeterReset) {
	b.mu.RLock()
	handlers := b.meterReset
	b.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

func (b *Bus) SubscribeBillingCalculated(h func(BillingCalculated)) {
	b.mu.Lock()
	b.billingCalculated = append(b.billingCalculated, h)
	b.mu.Unlock()
}

func (b *Bus) PublishBillingCalculated(e BillingCalculated) {
	b.mu.RLock()
	handlers := b.billingCalculated
	b.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

func (b *Bus) SubscribeProRataCalculated(h func(ProRataCalculated)) {
	b.mu.Lock()
	b.proRataCalculated = append(b.proRataCalculated, h)
	b.mu.Unlock()
}

func (b *Bus) PublishProRataCalculated(e ProRataCalculated) {
	b.mu.RLock()
	handlers := b.proRataCalculated
	b.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

func (b *Bus) SubscribeExchangeRateUpdated(h func(ExchangeRateUpdated)) {
	b.mu.Lock()
	b.exchangeRateUpdated = append(b.exchangeRateUpdated, h)
	b.mu.Unlock()
}

func (b *Bus) PublishExchangeRateUpdated(e ExchangeRateUpdated) {
	b.mu.RLock()
	handlers := b.exchangeRateUpdated
	b.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

func (b *Bus) SubscribeHighUsage(h func(HighUsage)) {
	b.mu.Lock()
	b.highUsage = append(b.highUsage, h)
	b.mu.Unlock()
}

func (b *Bus) PublishHighUsage(e HighUsage) {
	b.mu.RLock()
	handlers := b.highUsage
	b.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}
