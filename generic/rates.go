package generic

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE TABLE - Per-period consumption and cost rates
// =============================================================================

// RateTable holds the configured rates for one period. It may be absent for
// a period; the engine never substitutes another period's table.
type RateTable struct {
	Period    Period
	Rates     map[Category]CategoryRate
	UpdatedAt time.Time
}

// CategoryRate is the per-student rate for one category.
type CategoryRate struct {
	// Consumption is resource units (kg) per student served.
	Consumption decimal.Decimal
	// Cost is currency units per student served.
	Cost decimal.Decimal
	// Components decompose Cost into named heads; they must sum to Cost.
	Components []CostComponent
}

// CostComponent is one named head of the cost rate (e.g. pulses, oil).
type CostComponent struct {
	Name string
	Rate decimal.Decimal
	// Shares optionally split this component's amount by percentage.
	Shares []Share
}

// Share is a named percentage of a cost component.
type Share struct {
	Name    string
	Percent decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Rate returns the category's rate and whether it is configured.
func (rt *RateTable) Rate(c Category) (CategoryRate, bool) {
	if rt == nil || rt.Rates == nil {
		return CategoryRate{}, false
	}
	r, ok := rt.Rates[c]
	return r, ok
}

// Configures reports whether every given category has a rate.
func (rt *RateTable) Configures(categories []Category) (missing []Category) {
	for _, c := range categories {
		if _, ok := rt.Rate(c); !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// Categories returns the configured categories in registry order.
func (rt *RateTable) Categories() []Category {
	if rt == nil {
		return nil
	}
	cs := make([]Category, 0, len(rt.Rates))
	for c := range rt.Rates {
		cs = append(cs, c)
	}
	SortCategories(cs)
	return cs
}

// Validate enforces the write-time invariants: non-negative rates, component
// rates summing to the category cost, and shares summing to 100 percent.
func (rt *RateTable) Validate() error {
	if rt == nil || len(rt.Rates) == 0 {
		return ledgerErr(ErrInvalidRates, rt.periodOrZero(), "", "no categories configured")
	}
	for c, r := range rt.Rates {
		if r.Consumption.IsNegative() || r.Cost.IsNegative() {
			return ledgerErr(ErrInvalidRates, rt.Period, c, "rates must not be negative")
		}
		if len(r.Components) == 0 {
			continue
		}
		sum := decimal.Zero
		seen := make(map[string]bool, len(r.Components))
		for _, comp := range r.Components {
			if comp.Name == "" {
				return ledgerErr(ErrInvalidRates, rt.Period, c, "component name required")
			}
			if seen[comp.Name] {
				return ledgerErr(ErrInvalidRates, rt.Period, c, "duplicate component "+comp.Name)
			}
			seen[comp.Name] = true
			if comp.Rate.IsNegative() {
				return ledgerErr(ErrInvalidRates, rt.Period, c, "component "+comp.Name+" is negative")
			}
			sum = sum.Add(comp.Rate)
			if err := validateShares(comp); err != nil {
				return ledgerErr(ErrInvalidRates, rt.Period, c, err.Error())
			}
		}
		if !sum.Equal(r.Cost) {
			return ledgerErr(ErrInvalidRates, rt.Period, c,
				fmt.Sprintf("components sum to %s, cost rate is %s", sum, r.Cost))
		}
	}
	return nil
}

func validateShares(comp CostComponent) error {
	if len(comp.Shares) == 0 {
		return nil
	}
	total := decimal.Zero
	for _, s := range comp.Shares {
		if s.Name == "" || s.Percent.IsNegative() {
			return fmt.Errorf("component %s has an invalid share", comp.Name)
		}
		total = total.Add(s.Percent)
	}
	if !total.Equal(hundred) {
		return fmt.Errorf("component %s shares sum to %s%%", comp.Name, total)
	}
	return nil
}

func (rt *RateTable) periodOrZero() Period {
	if rt == nil {
		return Period{}
	}
	return rt.Period
}

// ShareAmount returns percent of amount.
func ShareAmount(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Div(hundred)
}
