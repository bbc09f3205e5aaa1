/*
Package factory provides JSON to Go rate table conversion.

PURPOSE:
  Converts JSON rate definitions into generic.RateTable objects. Schools
  configure per-student consumption and cost rates for each month through
  a form; the factory validates the submitted JSON and creates the proper
  Go structs.

JSON SCHEMA:
  {
    "categories": {
      "primary": {
        "consumption": "0.100",
        "cost": "5.45",
        "components": [
          {"name": "pulses", "rate": "1.75",
           "shares": [{"name": "central", "percent": "60"},
                      {"name": "state", "percent": "40"}]},
          {"name": "fuel", "rate": "3.70"}
        ]
      }
    }
  }

  Numbers may be given as JSON numbers or strings; they are parsed as
  decimals, never as floats.

KEY FEATURES:
  - Struct validation with validator/v10 (required fields, numeric values)
  - Category names checked against the generic registry
  - Write-time invariants via RateTable.Validate (components sum to cost,
    shares sum to 100)

USAGE:
  f := factory.NewRatesFactory()
  rt, err := f.ParseRates(period, mdm.StandardRatesJSON())

SEE ALSO:
  - generic/rates.go: RateTable type definition
  - mdm/presets.go: standard meal rate presets
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/BilalTali/mdmseva-sub000/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RatesJSON is the JSON representation of a period's rate table.
type RatesJSON struct {
	Categories map[string]CategoryRateJSON `json:"categories" validate:"required,min=1,dive"`
}

// CategoryRateJSON holds one category's rates.
type CategoryRateJSON struct {
	Consumption json.Number     `json:"consumption" validate:"required,numeric"`
	Cost        json.Number     `json:"cost" validate:"required,numeric"`
	Components  []ComponentJSON `json:"components,omitempty" validate:"omitempty,dive"`
}

// ComponentJSON is one named cost head.
type ComponentJSON struct {
	Name   string      `json:"name" validate:"required"`
	Rate   json.Number `json:"rate" validate:"required,numeric"`
	Shares []ShareJSON `json:"shares,omitempty" validate:"omitempty,dive"`
}

// ShareJSON splits a cost head by percentage.
type ShareJSON struct {
	Name    string      `json:"name" validate:"required"`
	Percent json.Number `json:"percent" validate:"required,numeric"`
}

// =============================================================================
// RATES FACTORY
// =============================================================================

// RatesFactory converts JSON rate definitions to rate tables.
type RatesFactory struct {
	validate *validator.Validate
}

// NewRatesFactory creates a new rates factory.
func NewRatesFactory() *RatesFactory {
	return &RatesFactory{validate: validator.New()}
}

// ParseRates parses a JSON string into a RateTable for the period.
func (f *RatesFactory) ParseRates(period generic.Period, jsonStr string) (*generic.RateTable, error) {
	var rj RatesJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return nil, fmt.Errorf("%w: failed to parse rates JSON: %v", generic.ErrInvalidRates, err)
	}
	return f.FromJSON(period, rj)
}

// FromJSON converts RatesJSON to a validated generic.RateTable.
func (f *RatesFactory) FromJSON(period generic.Period, rj RatesJSON) (*generic.RateTable, error) {
	if err := f.validate.Struct(rj); err != nil {
		return nil, fmt.Errorf("%w: %s", generic.ErrInvalidRates, describeValidation(err))
	}

	rt := &generic.RateTable{
		Period: period,
		Rates:  make(map[generic.Category]generic.CategoryRate, len(rj.Categories)),
	}
	for name, cj := range rj.Categories {
		category, ok := generic.LookupCategory(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown category %q", generic.ErrInvalidRates, name)
		}
		rate, err := parseCategoryRate(cj)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", generic.ErrInvalidRates, name, err)
		}
		rt.Rates[category] = rate
	}

	if err := rt.Validate(); err != nil {
		return nil, err
	}
	return rt, nil
}

// ToJSON converts a RateTable to RatesJSON.
func (f *RatesFactory) ToJSON(rt *generic.RateTable) RatesJSON {
	rj := RatesJSON{Categories: make(map[string]CategoryRateJSON)}
	if rt == nil {
		return rj
	}
	for _, c := range rt.Categories() {
		r := rt.Rates[c]
		cj := CategoryRateJSON{
			Consumption: json.Number(r.Consumption.String()),
			Cost:        json.Number(r.Cost.String()),
		}
		for _, comp := range r.Components {
			compJSON := ComponentJSON{Name: comp.Name, Rate: json.Number(comp.Rate.String())}
			for _, s := range comp.Shares {
				compJSON.Shares = append(compJSON.Shares, ShareJSON{Name: s.Name, Percent: json.Number(s.Percent.String())})
			}
			cj.Components = append(cj.Components, compJSON)
		}
		rj.Categories[string(c)] = cj
	}
	return rj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseCategoryRate(cj CategoryRateJSON) (generic.CategoryRate, error) {
	consumption, err := decimal.NewFromString(cj.Consumption.String())
	if err != nil {
		return generic.CategoryRate{}, fmt.Errorf("consumption: %w", err)
	}
	cost, err := decimal.NewFromString(cj.Cost.String())
	if err != nil {
		return generic.CategoryRate{}, fmt.Errorf("cost: %w", err)
	}

	rate := generic.CategoryRate{Consumption: consumption, Cost: cost}
	for _, compJSON := range cj.Components {
		compRate, err := decimal.NewFromString(compJSON.Rate.String())
		if err != nil {
			return generic.CategoryRate{}, fmt.Errorf("component %s: %w", compJSON.Name, err)
		}
		comp := generic.CostComponent{Name: compJSON.Name, Rate: compRate}
		for _, sj := range compJSON.Shares {
			percent, err := decimal.NewFromString(sj.Percent.String())
			if err != nil {
				return generic.CategoryRate{}, fmt.Errorf("share %s/%s: %w", compJSON.Name, sj.Name, err)
			}
			comp.Shares = append(comp.Shares, generic.Share{Name: sj.Name, Percent: percent})
		}
		rate.Components = append(rate.Components, comp)
	}
	return rate, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
