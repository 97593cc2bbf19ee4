// Package meter holds the static meter catalog: every metered resource the
// platform bills for, along with its reset policy, thresholds and overage
// rules.
package meter

import "errors"

// Type identifies a metered resource kind.
type Type string

const (
	TypeAPICalls         Type = "api_calls"
	TypeDataStorage      Type = "data_storage"
	TypeSensorReadings   Type = "sensor_readings"
	TypeAlertsSent       Type = "alerts_sent"
	TypeReportsGenerated Type = "reports_generated"
	TypeUsersActive      Type = "users_active"
	TypeFarmsActive      Type = "farms_active"
	TypePondsActive      Type = "ponds_active"
	TypeSensorsActive    Type = "sensors_active"
	TypeDataExport       Type = "data_export"
	TypeIntegrations     Type = "integrations"
	TypeCustom           Type = "custom"
)

// ResetPeriod controls when a live meter reading rolls over to zero.
type ResetPeriod string

const (
	ResetHourly        ResetPeriod = "hourly"
	ResetDaily         ResetPeriod = "daily"
	ResetWeekly        ResetPeriod = "weekly"
	ResetMonthly       ResetPeriod = "monthly"
	ResetBillingPeriod ResetPeriod = "billing_period"
)

// ThresholdSeverity grades a breach notification.
type ThresholdSeverity string

const (
	SeverityInfo     ThresholdSeverity = "info"
	SeverityWarning  ThresholdSeverity = "warning"
	SeverityCritical ThresholdSeverity = "critical"
)

// Threshold fires once per period when percentage-used crosses it.
type Threshold struct {
	Percentage float64
	Severity   ThresholdSeverity
	Notify     bool
}

// Config is the per-meter-type policy. Loaded once, read-only thereafter.
type Config struct {
	Type           Type
	ResetPeriod    ResetPeriod
	Unit           string
	Thresholds     []Threshold
	HardCap        *float64
	OverageAllowed bool
	OverageRate    float64
}

var ErrUnknownMeterType = errors.New("unknown_meter_type")

// Registry maps meter types to their configuration.
type Registry struct {
	configs map[Type]Config
}

func NewRegistry(configs []Config) *Registry {
	byType := make(map[Type]Config, len(configs))
	for _, cfg := range configs {
		byType[cfg.Type] = cfg
	}
	return &Registry{configs: byType}
}

// Config returns the configuration for a meter type. Unknown types are a
// configuration error, never silently defaulted.
func (r *Registry) Config(t Type) (Config, error) {
	cfg, ok := r.configs[t]
	if !ok {
		return Config{}, ErrUnknownMeterType
	}
	return cfg, nil
}

// Types returns every registered meter type.
func (r *Registry) Types() []Type {
	types := make([]Type, 0, len(r.configs))
	for t := range r.configs {
		types = append(types, t)
	}
	return types
}
