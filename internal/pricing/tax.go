package pricing

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// TaxResolver returns the tax rate, in percent, for a region.
type TaxResolver interface {
	RatePercent(region string) decimal.Decimal
}

// TaxTable is a flat percent per region with a fallback.
type TaxTable struct {
	Default decimal.Decimal
	Regions map[string]decimal.Decimal
}

// FlatTax applies one rate everywhere.
func FlatTax(percent decimal.Decimal) *TaxTable {
	return &TaxTable{Default: percent, Regions: map[string]decimal.Decimal{}}
}

func (t *TaxTable) RatePercent(region string) decimal.Decimal {
	if r, ok := t.Regions[strings.ToUpper(strings.TrimSpace(region))]; ok {
		return r
	}
	return t.Default
}

type taxFile struct {
	Default string            `yaml:"default"`
	Regions map[string]string `yaml:"regions"`
}

// ParseTaxTable reads a YAML document of the form
//
//	default: "13"
//	regions:
//	  AB: "5"
//	  ON: "13"
func ParseTaxTable(data []byte, fallback decimal.Decimal) (*TaxTable, error) {
	var f taxFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tax table: %w", err)
	}

	t := FlatTax(fallback)
	if f.Default != "" {
		d, err := decimal.NewFromString(f.Default)
		if err != nil {
			return nil, fmt.Errorf("invalid default tax rate %q: %w", f.Default, err)
		}
		t.Default = d
	}
	for region, rate := range f.Regions {
		d, err := decimal.NewFromString(rate)
		if err != nil {
			return nil, fmt.Errorf("invalid tax rate %q for region %s: %w", rate, region, err)
		}
		if d.IsNegative() {
			return nil, fmt.Errorf("negative tax rate for region %s", region)
		}
		t.Regions[strings.ToUpper(region)] = d
	}
	return t, nil
}

// LoadTaxTable reads the table at path, or returns a flat table when path is empty.
func LoadTaxTable(path string, fallback decimal.Decimal) (*TaxTable, error) {
	if path == "" {
		return FlatTax(fallback), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tax table: %w", err)
	}
	return ParseTaxTable(data, fallback)
}
