package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REPORT SNAPSHOT - Immutable materialization of a period
// =============================================================================

// Report is produced once and never mutated. Regeneration saves a new
// report and points the old one's SupersededBy at it; the old report stays
// retrievable for audit.
//
// Staleness is not stored: it is recomputed on every read by comparing
// SourceFingerprint with a fresh fingerprint (see StalenessTracker).
type Report struct {
	ID     ReportID
	Kind   ReportKind
	Period Period

	Totals map[Category]CategoryTotals
	// Ledger captures the period's balances at generation time.
	Ledger map[Category]CategoryBalance

	RecordCount int
	FirstDate   TimePoint
	LastDate    TimePoint

	SourceFingerprint string
	DependsOn         *ReportID
	SupersededBy      *ReportID

	GeneratedAt time.Time
	GeneratedBy string
}

type ReportKind string

const (
	ReportRice   ReportKind = "rice"
	ReportAmount ReportKind = "amount"
)

// ParseReportKind validates a kind name.
func ParseReportKind(s string) (ReportKind, bool) {
	switch ReportKind(s) {
	case ReportRice, ReportAmount:
		return ReportKind(s), true
	}
	return "", false
}

// CategoryTotals sums one category over the period's records.
type CategoryTotals struct {
	Served           int
	ResourceConsumed decimal.Decimal
	CostConsumed     decimal.Decimal
	// Components maps cost component name to spend.
	Components map[string]decimal.Decimal
	// Shares maps "component/share" to spend.
	Shares map[string]decimal.Decimal
}

// IsCurrent reports whether the report has not been superseded.
func (r Report) IsCurrent() bool { return r.SupersededBy == nil }

// GrandTotals sums consumption and cost over categories.
func (r Report) GrandTotals() (resource, cost decimal.Decimal) {
	resource, cost = decimal.Zero, decimal.Zero
	for _, t := range r.Totals {
		resource = resource.Add(t.ResourceConsumed)
		cost = cost.Add(t.CostConsumed)
	}
	return resource, cost
}

// ShareKey names a component share in CategoryTotals.Shares.
func ShareKey(component, share string) string {
	return component + "/" + share
}

// ReportInput carries everything a snapshot is built from.
type ReportInput struct {
	Kind        ReportKind
	Ledger      *MonthlyLedger
	Records     []DailyRecord
	Rates       *RateTable
	DependsOn   *ReportID
	GeneratedBy string
	Now         time.Time
}

// BuildReport materializes a snapshot. The ledger must have been completed
// (ErrLedgerNotConfigured otherwise) and the period must have at least one
// record (ErrNoUsageData otherwise).
func BuildReport(in ReportInput) (Report, error) {
	if in.Ledger == nil {
		return Report{}, ErrLedgerNotConfigured
	}
	period := in.Ledger.Period
	if !in.Ledger.WasCompleted() {
		return Report{}, ledgerErr(ErrLedgerNotConfigured, period, "", "ledger is not completed")
	}
	if in.Rates == nil {
		return Report{}, ledgerErr(ErrLedgerNotConfigured, period, "", "no rate table for period")
	}

	var records []DailyRecord
	for _, r := range in.Records {
		if period.Contains(r.Date) && r.UserID == period.UserID {
			records = append(records, r)
		}
	}
	if len(records) == 0 {
		return Report{}, ledgerErr(ErrNoUsageData, period, "", "")
	}
	SortRecords(records)

	totals := make(map[Category]CategoryTotals, len(in.Ledger.Categories))
	for _, c := range in.Ledger.Categories {
		totals[c] = CategoryTotals{
			ResourceConsumed: decimal.Zero,
			CostConsumed:     decimal.Zero,
			Components:       map[string]decimal.Decimal{},
			Shares:           map[string]decimal.Decimal{},
		}
	}

	for _, r := range records {
		for c, n := range r.Served {
			if n == 0 {
				continue
			}
			rate, ok := in.Rates.Rate(c)
			if !ok {
				return Report{}, ledgerErr(ErrLedgerNotConfigured, period, c, "no rate for served category")
			}
			t, ok := totals[c]
			if !ok {
				return Report{}, ledgerErr(ErrIncompleteConfiguration, period, c, "served category not active for this ledger")
			}
			t.Served += n
			t.ResourceConsumed = t.ResourceConsumed.Add(Served(n, rate.Consumption))
			t.CostConsumed = t.CostConsumed.Add(Served(n, rate.Cost))
			for _, comp := range rate.Components {
				amount := Served(n, comp.Rate)
				t.Components[comp.Name] = t.Components[comp.Name].Add(amount)
				for _, s := range comp.Shares {
					key := ShareKey(comp.Name, s.Name)
					t.Shares[key] = t.Shares[key].Add(ShareAmount(amount, s.Percent))
				}
			}
			totals[c] = t
		}
	}

	ledger := make(map[Category]CategoryBalance, len(in.Ledger.Categories))
	for _, c := range in.Ledger.Categories {
		ledger[c] = *in.Ledger.Balance(c)
	}

	return Report{
		ID:                ReportID(NewID()),
		Kind:              in.Kind,
		Period:            period,
		Totals:            totals,
		Ledger:            ledger,
		RecordCount:       len(records),
		FirstDate:         records[0].Date,
		LastDate:          records[len(records)-1].Date,
		SourceFingerprint: Fingerprint(records),
		DependsOn:         in.DependsOn,
		GeneratedAt:       in.Now,
		GeneratedBy:       in.GeneratedBy,
	}, nil
}
