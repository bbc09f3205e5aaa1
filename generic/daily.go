package generic

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DAILY RECORD - One user's usage on one day
// =============================================================================

// DailyRecord is unique per (user, date). ResourceConsumed, CostConsumed and
// BalanceAfter are derived and only written by the reconciliation engine.
type DailyRecord struct {
	ID     RecordID
	UserID UserID
	Date   TimePoint

	// Served head counts per category (>= 0).
	Served map[Category]int

	ResourceConsumed decimal.Decimal
	CostConsumed     decimal.Decimal
	// BalanceAfter is the running stock balance immediately after this
	// record. May be negative.
	BalanceAfter decimal.Decimal

	Remarks   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Period returns the record's period.
func (r DailyRecord) Period() Period { return PeriodOf(r.UserID, r.Date) }

// ServedCount returns the served count for c.
func (r DailyRecord) ServedCount(c Category) int {
	if r.Served == nil {
		return 0
	}
	return r.Served[c]
}

// ConsumptionBy returns the stock consumed per category under rates.
func (r DailyRecord) ConsumptionBy(rates *RateTable) (CategoryAmounts, error) {
	out := make(CategoryAmounts, len(r.Served))
	for c, n := range r.Served {
		if n < 0 {
			return nil, ledgerErr(ErrInvalidAmount, r.Period(), c, "served count must not be negative")
		}
		if n == 0 {
			continue
		}
		rate, ok := rates.Rate(c)
		if !ok {
			return nil, ledgerErr(ErrLedgerNotConfigured, r.Period(), c, "no rate for served category")
		}
		out[c] = Served(n, rate.Consumption)
	}
	return out, nil
}

// CostBy returns the spend per category under rates.
func (r DailyRecord) CostBy(rates *RateTable) (CategoryAmounts, error) {
	out := make(CategoryAmounts, len(r.Served))
	for c, n := range r.Served {
		if n == 0 {
			continue
		}
		rate, ok := rates.Rate(c)
		if !ok {
			return nil, ledgerErr(ErrLedgerNotConfigured, r.Period(), c, "no rate for served category")
		}
		out[c] = Served(n, rate.Cost)
	}
	return out, nil
}

// Derive recomputes ResourceConsumed and CostConsumed from the rate table
// effective for the record's period.
func (r *DailyRecord) Derive(rates *RateTable) error {
	if rates == nil {
		return ledgerErr(ErrLedgerNotConfigured, r.Period(), "", "no rate table for period")
	}
	consumed, err := r.ConsumptionBy(rates)
	if err != nil {
		return err
	}
	cost, err := r.CostBy(rates)
	if err != nil {
		return err
	}
	r.ResourceConsumed = consumed.Total()
	r.CostConsumed = cost.Total()
	return nil
}

// Clone copies the served map.
func (r DailyRecord) Clone() DailyRecord {
	c := r
	c.Served = make(map[Category]int, len(r.Served))
	for k, v := range r.Served {
		c.Served[k] = v
	}
	return c
}

// =============================================================================
// ORDERING AND FOLD
// =============================================================================

// SortRecords orders records by date, then id. This is the canonical order
// for balance walks and fingerprints.
func SortRecords(records []DailyRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Date.Equal(records[j].Date) {
			return records[i].Date.Before(records[j].Date)
		}
		return records[i].ID < records[j].ID
	})
}

// FoldBalances walks records in date order starting from initial and sets
// each BalanceAfter to the previous balance minus the record's consumption.
// The input slice is not modified. No clamping: overdraw stays negative.
func FoldBalances(records []DailyRecord, initial decimal.Decimal) []DailyRecord {
	out := make([]DailyRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	SortRecords(out)

	balance := initial
	for i := range out {
		balance = balance.Sub(out[i].ResourceConsumed)
		out[i].BalanceAfter = balance
	}
	return out
}

// SumConsumed totals ResourceConsumed over records.
func SumConsumed(records []DailyRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.ResourceConsumed)
	}
	return total
}
