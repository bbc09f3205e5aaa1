/*
presets.go - Standard meal cost heads and rate table presets

These functions build JSON rate definitions for the meal categories. They
construct JSON strings directly so the factory package can parse them
without importing mdm.

USAGE:
  jsonStr := mdm.StandardRatesJSON()
  rt, err := factory.NewRatesFactory().ParseRates(period, jsonStr)
*/
package mdm

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Cost heads used by the standard presets.
const (
	HeadPulses     = "pulses"
	HeadVegetables = "vegetables"
	HeadOil        = "oil"
	HeadCondiments = "condiments"
	HeadFuel       = "fuel"
)

// Funding shares of the cost heads.
const (
	ShareCentral = "central"
	ShareState   = "state"
)

// CostHead is one component of a per-student cost rate.
type CostHead struct {
	Name string
	Rate string
}

// CategoryPreset is a consumption and cost configuration for one category.
type CategoryPreset struct {
	Consumption string
	Heads       []CostHead
	// CentralShare is the central share percent of every head (state gets
	// the rest). Zero means no split.
	CentralShare string
}

// PrimaryPreset is the standard primary configuration: 100 g of rice and
// 5.45 per student served.
func PrimaryPreset() CategoryPreset {
	return CategoryPreset{
		Consumption: "0.100",
		Heads: []CostHead{
			{Name: HeadPulses, Rate: "1.75"},
			{Name: HeadVegetables, Rate: "1.50"},
			{Name: HeadOil, Rate: "0.80"},
			{Name: HeadCondiments, Rate: "0.40"},
			{Name: HeadFuel, Rate: "1.00"},
		},
		CentralShare: "60",
	}
}

// MiddlePreset is the standard middle configuration: 150 g of rice and
// 8.17 per student served.
func MiddlePreset() CategoryPreset {
	return CategoryPreset{
		Consumption: "0.150",
		Heads: []CostHead{
			{Name: HeadPulses, Rate: "2.60"},
			{Name: HeadVegetables, Rate: "2.25"},
			{Name: HeadOil, Rate: "1.20"},
			{Name: HeadCondiments, Rate: "0.62"},
			{Name: HeadFuel, Rate: "1.50"},
		},
		CentralShare: "60",
	}
}

// StandardRatesJSON returns JSON for the standard primary and middle rates.
func StandardRatesJSON() string {
	return RatesJSON(map[string]CategoryPreset{
		string(CategoryPrimary): PrimaryPreset(),
		string(CategoryMiddle):  MiddlePreset(),
	})
}

// RatesJSON renders presets in the factory's rate schema. The category cost
// is the sum of its heads.
func RatesJSON(presets map[string]CategoryPreset) string {
	categories := make(map[string]interface{}, len(presets))
	for name, p := range presets {
		var components []map[string]interface{}
		for _, h := range p.Heads {
			comp := map[string]interface{}{
				"name": h.Name,
				"rate": h.Rate,
			}
			if p.CentralShare != "" {
				comp["shares"] = []map[string]interface{}{
					{"name": ShareCentral, "percent": p.CentralShare},
					{"name": ShareState, "percent": remainder(p.CentralShare)},
				}
			}
			components = append(components, comp)
		}
		categories[name] = map[string]interface{}{
			"consumption": p.Consumption,
			"cost":        sumRates(p.Heads),
			"components":  components,
		}
	}
	b, _ := json.MarshalIndent(map[string]interface{}{"categories": categories}, "", "  ")
	return string(b)
}

func sumRates(heads []CostHead) string {
	total := decimal.Zero
	for _, h := range heads {
		total = total.Add(decimal.RequireFromString(h.Rate))
	}
	return total.String()
}

func remainder(percent string) string {
	return decimal.NewFromInt(100).Sub(decimal.RequireFromString(percent)).String()
}
