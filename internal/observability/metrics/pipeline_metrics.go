// Package metrics exposes Prometheus instrumentation for the metering and
// billing pipeline.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Config labels every metric with the emitting service and environment.
type Config struct {
	ServiceName string
	Environment string
}

// PipelineMetrics covers ingestion, aggregation sync and billing.
type PipelineMetrics struct {
	usageEventsIngested *prometheus.CounterVec
	usageDuplicates     prometheus.Counter
	flushErrors         prometheus.Counter
	thresholdBreaches   *prometheus.CounterVec
	syncFailures        *prometheus.CounterVec
	billingCalculations *prometheus.CounterVec
	billingCacheHits    prometheus.Counter
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

func Pipeline() *PipelineMetrics {
	return PipelineWithConfig(Config{})
}

func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = newPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

func ResetPipelineMetricsForTest() {
	pipelineMetricsOnce = sync.Once{}
	pipelineMetrics = nil
}

func newPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "metered-billing"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	usageEventsIngested := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "billing_usage_events_ingested_total",
			Help:        "Usage events accepted by the metering engine.",
			ConstLabels: constLabels,
		},
		[]string{"meter_type"},
	)

	usageDuplicates := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "billing_usage_events_duplicate_total",
			Help:        "Usage events dropped by idempotency-key deduplication.",
			ConstLabels: constLabels,
		},
	)

	flushErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "billing_usage_flush_errors_total",
			Help:        "Per-event processing errors during metering flush.",
			ConstLabels: constLabels,
		},
	)

	thresholdBreaches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "billing_usage_threshold_breaches_total",
			Help:        "Threshold breach events emitted, by severity.",
			ConstLabels: constLabels,
		},
		[]string{"severity"},
	)

	syncFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "billing_state_sync_failures_total",
			Help:        "Failed persistence sync cycles by subsystem.",
			ConstLabels: constLabels,
		},
		[]string{"subsystem"}, // metering | aggregation
	)

	billingCalculations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "billing_calculations_total",
			Help:        "Billing calculations performed, by kind.",
			ConstLabels: constLabels,
		},
		[]string{"kind"}, // full | prorata | preview
	)

	billingCacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "billing_calculation_cache_hits_total",
			Help:        "Billing calculations served from the result cache.",
			ConstLabels: constLabels,
		},
	)

	registerer.MustRegister(
		usageEventsIngested,
		usageDuplicates,
		flushErrors,
		thresholdBreaches,
		syncFailures,
		billingCalculations,
		billingCacheHits,
	)

	return &PipelineMetrics{
		usageEventsIngested: usageEventsIngested,
		usageDuplicates:     usageDuplicates,
		flushErrors:         flushErrors,
		thresholdBreaches:   thresholdBreaches,
		syncFailures:        syncFailures,
		billingCalculations: billingCalculations,
		billingCacheHits:    billingCacheHits,
	}
}

func (m *PipelineMetrics) IncUsageEventIngested(meterType string) {
	if m == nil {
		return
	}
	m.usageEventsIngested.WithLabelValues(meterType).Inc()
}

func (m *PipelineMetrics) IncUsageDuplicate() {
	if m == nil {
		return
	}
	m.usageDuplicates.Inc()
}

func (m *PipelineMetrics) IncFlushError() {
	if m == nil {
		return
	}
	m.flushErrors.Inc()
}

func (m *PipelineMetrics) IncThresholdBreach(severity string) {
	if m == nil {
		return
	}
	m.thresholdBreaches.WithLabelValues(severity).Inc()
}

func (m *PipelineMetrics) IncSyncFailure(subsystem string) {
	if m == nil {
		return
	}
	m.syncFailures.WithLabelValues(subsystem).Inc()
}

func (m *PipelineMetrics) IncBillingCalculation(kind string) {
	if m == nil {
		return
	}
	m.billingCalculations.WithLabelValues(kind).Inc()
}

func (m *PipelineMetrics) IncBillingCacheHit() {
	if m == nil {
		return
	}
	m.billingCacheHits.Inc()
}
