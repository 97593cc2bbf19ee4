package pricing

import (
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/meter"
	"github.com/shopspring/decimal"
)

func price(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func maxUnits(v float64) *float64 { return &v }

// DefaultCatalog builds the platform pricing catalog. All amounts are USD.
func DefaultCatalog() *Catalog {
	c := NewCatalog()

	// Starter
	c.Register(PlanStarter, meter.TypeAPICalls, MeterPricingModel{
		DisplayName:   "API Calls",
		Unit:          "calls",
		IncludedUnits: 10000,
		Tiers: []Tier{
			{MinUnits: 0, MaxUnits: maxUnits(50000), PricePerUnit: price("0.001")},
			{MinUnits: 50000, MaxUnits: maxUnits(100000), PricePerUnit: price("0.0008")},
			{MinUnits: 100000, PricePerUnit: price("0.0005")},
		},
		Currency: "USD",
	})
	c.Register(PlanStarter, meter.TypeDataStorage, MeterPricingModel{
		DisplayName:   "Data Storage",
		Unit:          "gb",
		IncludedUnits: 10,
		Tiers: []Tier{
			{MinUnits: 0, MaxUnits: maxUnits(100), PricePerUnit: price("0.10")},
			{MinUnits: 100, PricePerUnit: price("0.08")},
		},
		Currency: "USD",
	})
	c.Register(PlanStarter, meter.TypeSensorReadings, MeterPricingModel{
		DisplayName:   "Sensor Readings",
		Unit:          "readings",
		IncludedUnits: 100000,
		Tiers: []Tier{
			{MinUnits: 0, MaxUnits: maxUnits(1000000), PricePerUnit: price("0.00005")},
			{MinUnits: 1000000, PricePerUnit: price("0.00002")},
		},
		Currency: "USD",
	})
	c.Register(PlanStarter, meter.TypeAlertsSent, MeterPricingModel{
		DisplayName:   "Alerts Sent",
		Unit:          "alerts",
		IncludedUnits: 500,
		Tiers: []Tier{
			{MinUnits: 0, PricePerUnit: price("0.01")},
		},
		MinimumCharge: price("1.00"),
		Currency:      "USD",
	})
	c.Register(PlanStarter, meter.TypeReportsGenerated, MeterPricingModel{
		DisplayName:   "Reports",
		Unit:          "reports",
		IncludedUnits: 20,
		Tiers: []Tier{
			{MinUnits: 0, PricePerUnit: price("0.25")},
		},
		Currency: "USD",
	})

	// Professional: larger allowances, cheaper bands.
	c.Register(PlanProfessional, meter.TypeAPICalls, MeterPricingModel{
		DisplayName:   "API Calls",
		Unit:          "calls",
		IncludedUnits: 100000,
		Tiers: []Tier{
			{MinUnits: 0, MaxUnits: maxUnits(500000), PricePerUnit: price("0.0008")},
			{MinUnits: 500000, MaxUnits: maxUnits(2000000), PricePerUnit: price("0.0005")},
			{MinUnits: 2000000, PricePerUnit: price("0.0003")},
		},
		Currency: "USD",
	})
	c.Register(PlanProfessional, meter.TypeDataStorage, MeterPricingModel{
		DisplayName:   "Data Storage",
		Unit:          "gb",
		IncludedUnits: 100,
		Tiers: []Tier{
			{MinUnits: 0, MaxUnits: maxUnits(1000), PricePerUnit: price("0.08")},
			{MinUnits: 1000, PricePerUnit: price("0.06")},
		},
		Currency: "USD",
	})
	c.Register(PlanProfessional, meter.TypeSensorReadings, MeterPricingModel{
		DisplayName:   "Sensor Readings",
		Unit:          "readings",
		IncludedUnits: 1000000,
		Tiers: []Tier{
			{MinUnits: 0, MaxUnits: maxUnits(10000000), PricePerUnit: price("0.00003")},
			{MinUnits: 10000000, PricePerUnit: price("0.00001")},
		},
		Currency: "USD",
	})
	c.Register(PlanProfessional, meter.TypeAlertsSent, MeterPricingModel{
		DisplayName:   "Alerts Sent",
		Unit:          "alerts",
		IncludedUnits: 5000,
		Tiers: []Tier{
			{MinUnits: 0, PricePerUnit: price("0.008")},
		},
		Currency: "USD",
	})
	c.Register(PlanProfessional, meter.TypeReportsGenerated, MeterPricingModel{
		DisplayName:   "Reports",
		Unit:          "reports",
		IncludedUnits: 100,
		Tiers: []Tier{
			{MinUnits: 0, PricePerUnit: price("0.20")},
		},
		Currency: "USD",
	})
	c.Register(PlanProfessional, meter.TypeDataExport, MeterPricingModel{
		DisplayName:   "Data Exports",
		Unit:          "exports",
		IncludedUnits: 50,
		Tiers: []Tier{
			{MinUnits: 0, PricePerUnit: price("0.40")},
		},
		Currency: "USD",
	})

	// Enterprise: flat low per-unit pricing across the board.
	c.Register(PlanEnterprise, meter.TypeAPICalls, MeterPricingModel{
		DisplayName:   "API Calls",
		Unit:          "calls",
		IncludedUnits: 1000000,
		Tiers: []Tier{
			{MinUnits: 0, PricePerUnit: price("0.0003")},
		},
		Currency: "USD",
	})
	c.Register(PlanEnterprise, meter.TypeDataStorage, MeterPricingModel{
		DisplayName:   "Data Storage",
		Unit:          "gb",
		IncludedUnits: 1000,
		Tiers: []Tier{
			{MinUnits: 0, PricePerUnit: price("0.05")},
		},
		Currency: "USD",
	})
	c.Register(PlanEnterprise, meter.TypeSensorReadings, MeterPricingModel{
		DisplayName:   "Sensor Readings",
		Unit:          "readings",
		IncludedUnits: 10000000,
		Tiers: []Tier{
			{MinUnits: 0, PricePerUnit: price("0.00001")},
		},
		Currency: "USD",
	})
	c.Register(PlanEnterprise, meter.TypeAlertsSent, MeterPricingModel{
		DisplayName:   "Alerts Sent",
		Unit:          "alerts",
		IncludedUnits: 50000,
		Tiers: []Tier{
			{MinUnits: 0, PricePerUnit: price("0.005")},
		},
		Currency: "USD",
	})
	c.Register(PlanEnterprise, meter.TypeReportsGenerated, MeterPricingModel{
		DisplayName:   "Reports",
		Unit:          "reports",
		IncludedUnits: 1000,
		Tiers: []Tier{
			{MinUnits: 0, PricePerUnit: price("0.15")},
		},
		Currency: "USD",
	})
	c.Register(PlanEnterprise, meter.TypeDataExport, MeterPricingModel{
		DisplayName:   "Data Exports",
		Unit:          "exports",
		IncludedUnits: 500,
		Tiers: []Tier{
			{MinUnits: 0, PricePerUnit: price("0.30")},
		},
		Currency: "USD",
	})

	return c
}
