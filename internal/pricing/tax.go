package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// TaxType classifies the tax levied in a region.
type TaxType string

const (
	TaxVAT   TaxType = "VAT"
	TaxGST   TaxType = "GST"
	TaxSales TaxType = "SALES_TAX"
	TaxNone  TaxType = "NONE"
)

// TaxRateConfig describes the tax applied in one region. Absence of a region
// from the table means no tax.
type TaxRateConfig struct {
	RegionCode  string
	CountryName string
	Type        TaxType
	Rate        decimal.Decimal // percent, e.g. 18 for 18%
	DisplayName string
	Compound    bool
}

// TaxTable is the static region tax lookup.
type TaxTable struct {
	rates map[string]TaxRateConfig
}

func NewTaxTable(configs []TaxRateConfig) *TaxTable {
	rates := make(map[string]TaxRateConfig, len(configs))
	for _, cfg := range configs {
		rates[strings.ToUpper(cfg.RegionCode)] = cfg
	}
	return &TaxTable{rates: rates}
}

// Lookup returns the tax config for a region, or false when the region is
// untaxed.
func (t *TaxTable) Lookup(regionCode string) (TaxRateConfig, bool) {
	cfg, ok := t.rates[strings.ToUpper(strings.TrimSpace(regionCode))]
	if !ok || cfg.Type == TaxNone || !cfg.Rate.IsPositive() {
		return TaxRateConfig{}, false
	}
	return cfg, true
}

func taxRate(v string) decimal.Decimal { return decimal.RequireFromString(v) }

// DefaultTaxTable covers the regions the platform currently sells into.
func DefaultTaxTable() *TaxTable {
	return NewTaxTable([]TaxRateConfig{
		{RegionCode: "TR", CountryName: "Turkey", Type: TaxVAT, Rate: taxRate("18"), DisplayName: "KDV"},
		{RegionCode: "GB", CountryName: "United Kingdom", Type: TaxVAT, Rate: taxRate("20"), DisplayName: "VAT"},
		{RegionCode: "DE", CountryName: "Germany", Type: TaxVAT, Rate: taxRate("19"), DisplayName: "MwSt"},
		{RegionCode: "FR", CountryName: "France", Type: TaxVAT, Rate: taxRate("20"), DisplayName: "TVA"},
		{RegionCode: "NL", CountryName: "Netherlands", Type: TaxVAT, Rate: taxRate("21"), DisplayName: "BTW"},
		{RegionCode: "NO", CountryName: "Norway", Type: TaxVAT, Rate: taxRate("25"), DisplayName: "MVA"},
		{RegionCode: "AU", CountryName: "Australia", Type: TaxGST, Rate: taxRate("10"), DisplayName: "GST"},
		{RegionCode: "IN", CountryName: "India", Type: TaxGST, Rate: taxRate("18"), DisplayName: "GST"},
		{RegionCode: "JP", CountryName: "Japan", Type: TaxSales, Rate: taxRate("10"), DisplayName: "Consumption Tax"},
		{RegionCode: "US", CountryName: "United States", Type: TaxNone, Rate: decimal.Zero, DisplayName: "No Sales Tax"},
	})
}
