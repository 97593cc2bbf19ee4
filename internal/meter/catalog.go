package meter

func floatPtr(v float64) *float64 { return &v }

// standardThresholds is the default breach ladder applied to capped meters.
var standardThresholds = []Threshold{
	{Percentage: 50, Severity: SeverityInfo, Notify: false},
	{Percentage: 75, Severity: SeverityWarning, Notify: true},
	{Percentage: 90, Severity: SeverityWarning, Notify: true},
	{Percentage: 100, Severity: SeverityCritical, Notify: true},
}

// DefaultCatalog returns the platform meter catalog.
func DefaultCatalog() []Config {
	return []Config{
		{
			Type:           TypeAPICalls,
			ResetPeriod:    ResetMonthly,
			Unit:           "calls",
			Thresholds:     standardThresholds,
			OverageAllowed: true,
			OverageRate:    0.001,
		},
		{
			Type:           TypeDataStorage,
			ResetPeriod:    ResetBillingPeriod,
			Unit:           "gb",
			Thresholds:     standardThresholds,
			OverageAllowed: true,
			OverageRate:    0.05,
		},
		{
			Type:           TypeSensorReadings,
			ResetPeriod:    ResetDaily,
			Unit:           "readings",
			Thresholds:     standardThresholds,
			OverageAllowed: true,
			OverageRate:    0.0001,
		},
		{
			Type:           TypeAlertsSent,
			ResetPeriod:    ResetMonthly,
			Unit:           "alerts",
			Thresholds:     standardThresholds,
			OverageAllowed: true,
			OverageRate:    0.01,
		},
		{
			Type:           TypeReportsGenerated,
			ResetPeriod:    ResetMonthly,
			Unit:           "reports",
			Thresholds:     standardThresholds,
			OverageAllowed: true,
			OverageRate:    0.25,
		},
		{
			Type:        TypeUsersActive,
			ResetPeriod: ResetBillingPeriod,
			Unit:        "users",
			Thresholds:  standardThresholds,
			HardCap:     floatPtr(500),
		},
		{
			Type:        TypeFarmsActive,
			ResetPeriod: ResetBillingPeriod,
			Unit:        "farms",
			Thresholds:  standardThresholds,
			HardCap:     floatPtr(100),
		},
		{
			Type:        TypePondsActive,
			ResetPeriod: ResetBillingPeriod,
			Unit:        "ponds",
			Thresholds:  standardThresholds,
			HardCap:     floatPtr(2000),
		},
		{
			Type:        TypeSensorsActive,
			ResetPeriod: ResetBillingPeriod,
			Unit:        "sensors",
			Thresholds:  standardThresholds,
			HardCap:     floatPtr(5000),
		},
		{
			Type:           TypeDataExport,
			ResetPeriod:    ResetMonthly,
			Unit:           "exports",
			Thresholds:     standardThresholds,
			OverageAllowed: true,
			OverageRate:    0.5,
		},
		{
			Type:        TypeIntegrations,
			ResetPeriod: ResetBillingPeriod,
			Unit:        "integrations",
			Thresholds:  standardThresholds,
			HardCap:     floatPtr(50),
		},
		{
			Type:        TypeCustom,
			ResetPeriod: ResetMonthly,
			Unit:        "units",
			Thresholds:  standardThresholds,
		},
	}
}
