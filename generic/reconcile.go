/*
reconcile.go - Consumption sync and forward balance walk

PURPOSE:
  The ReconciliationEngine is the single writer of every derived field:
  MonthlyLedger.Consumed/Closing and DailyRecord.ResourceConsumed/
  CostConsumed/BalanceAfter. Daily records can be inserted, edited or
  deleted out of chronological order; after each mutation the engine
  re-aggregates the affected period and re-walks running balances from the
  mutation date to the newest record.

ALGORITHM (Reconcile):
  1. SyncConsumedFromDaily for the mutated period (sum records -> Consumed)
  2. CarryForward: later ledgers with carried openings take the new closings
  3. RecalculateFrom(date): fold every record >= date in date order,
     starting each period at TotalAvailable minus the consumption of that
     period's records before the walk

ATOMICITY:
  Callers run Reconcile inside TxStore.WithTx while holding the user's
  lock (see Locker). A failure anywhere rolls the whole walk back; a
  concurrent insert cannot interleave with the walk.

EXAMPLE:
  opening 100, lifted 50 -> available 150
  day 1 served 20 @ 0.1 -> consumed 2, balance 148
  day 2 served 30 @ 0.1 -> consumed 3, balance 145
  edit day 1 to 10      -> day 1 balance 149, day 2 balance 146
*/
package generic

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ReconciliationEngine recomputes derived ledger and record fields.
type ReconciliationEngine struct {
	Now func() time.Time
}

// NewReconciliationEngine returns an engine using the wall clock.
func NewReconciliationEngine() *ReconciliationEngine {
	return &ReconciliationEngine{Now: func() time.Time { return time.Now().UTC() }}
}

func (re *ReconciliationEngine) now() time.Time {
	if re == nil || re.Now == nil {
		return time.Now().UTC()
	}
	return re.Now()
}

// =============================================================================
// SYNC - daily records -> ledger.Consumed
// =============================================================================

// SyncConsumedFromDaily sums per-category consumption of the period's
// records into ledger.Consumed and recomputes totals. Records outside the
// ledger's period are ignored. Idempotent: calling it again with the same
// records leaves the ledger unchanged.
func (re *ReconciliationEngine) SyncConsumedFromDaily(ledger *MonthlyLedger, records []DailyRecord, rates *RateTable) error {
	consumed := make(CategoryAmounts, len(ledger.Categories))
	for _, c := range ledger.Categories {
		consumed[c] = decimal.Zero
	}

	for _, r := range records {
		if r.UserID != ledger.Period.UserID || !ledger.Period.Contains(r.Date) {
			continue
		}
		perCategory, err := r.ConsumptionBy(rates)
		if err != nil {
			return err
		}
		for c, v := range perCategory {
			if !ledger.HasCategory(c) {
				return ledgerErr(ErrIncompleteConfiguration, ledger.Period, c, "served category not active for this ledger")
			}
			consumed[c] = consumed[c].Add(v)
		}
	}

	for _, c := range ledger.Categories {
		ledger.Balance(c).Consumed = consumed[c]
	}
	ledger.RecomputeTotals()
	return nil
}

// SyncPeriod loads the period's ledger, rates and records, syncs and saves
// the ledger. Returns the saved ledger (nil when the period has no ledger).
func (re *ReconciliationEngine) SyncPeriod(ctx context.Context, s Store, period Period) (*MonthlyLedger, error) {
	ledger, err := s.GetLedger(ctx, period)
	if err != nil || ledger == nil {
		return nil, err
	}
	rates, err := s.GetRates(ctx, period)
	if err != nil {
		return nil, err
	}
	records, err := PeriodRecords(ctx, s, period)
	if err != nil {
		return nil, err
	}
	if err := re.SyncConsumedFromDaily(ledger, records, rates); err != nil {
		return nil, err
	}
	ledger.UpdatedAt = re.now()
	if err := s.SaveLedger(ctx, ledger); err != nil {
		return nil, err
	}
	return ledger, nil
}

// =============================================================================
// CARRY FORWARD - closing -> next opening
// =============================================================================

// CarryForward pushes the period's closing balances into the following
// ledgers whose openings are carried. The chain stops at the first missing
// month, Locked ledger, non-carried opening, or ledger that did not change.
// Returns the periods whose openings changed.
func (re *ReconciliationEngine) CarryForward(ctx context.Context, s Store, period Period) ([]Period, error) {
	prev, err := s.GetLedger(ctx, period)
	if err != nil || prev == nil {
		return nil, err
	}
	following, err := s.LedgersFrom(ctx, period.Next())
	if err != nil {
		return nil, err
	}

	var changed []Period
	expected := period.Next()
	for _, l := range following {
		if l.Period != expected || l.IsLocked() {
			break
		}
		if !l.CarryOpening(prev, re.now()) {
			break
		}
		if err := s.SaveLedger(ctx, l); err != nil {
			return nil, err
		}
		changed = append(changed, l.Period)
		prev = l
		expected = expected.Next()
	}
	return changed, nil
}

// =============================================================================
// RECALCULATE FROM - forward running-balance walk
// =============================================================================

// RecalculateFrom re-derives consumption and running balances for every
// record of userID with date >= from, in ascending date order, and writes
// them back. Records of Locked periods are left untouched. Returns the
// rewritten records.
func (re *ReconciliationEngine) RecalculateFrom(ctx context.Context, s Store, userID UserID, from TimePoint) ([]DailyRecord, error) {
	records, err := s.RecordsFrom(ctx, userID, from)
	if err != nil {
		return nil, err
	}
	SortRecords(records)

	var out []DailyRecord
	for _, group := range groupByPeriod(records) {
		walked, err := re.walkPeriod(ctx, s, group.period, group.records, from)
		if err != nil {
			return nil, err
		}
		for _, r := range walked {
			if err := s.UpdateRecord(ctx, r); err != nil {
				return nil, err
			}
		}
		out = append(out, walked...)
	}
	return out, nil
}

func (re *ReconciliationEngine) walkPeriod(ctx context.Context, s Store, period Period, records []DailyRecord, from TimePoint) ([]DailyRecord, error) {
	ledger, err := s.GetLedger(ctx, period)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, ledgerErr(ErrLedgerNotConfigured, period, "", "no ledger for period")
	}
	if ledger.IsLocked() {
		return nil, nil
	}
	rates, err := s.GetRates(ctx, period)
	if err != nil {
		return nil, err
	}
	if rates == nil {
		return nil, ledgerErr(ErrLedgerNotConfigured, period, "", "no rate table for period")
	}

	initial := ledger.TotalAvailable()
	if period.Contains(from) && from.After(period.Start()) {
		before, err := s.RecordsInRange(ctx, period.UserID, period.Start(), from.AddDays(-1))
		if err != nil {
			return nil, err
		}
		initial = initial.Sub(SumConsumed(before))
	}

	derived := make([]DailyRecord, len(records))
	now := re.now()
	for i, r := range records {
		r = r.Clone()
		if err := r.Derive(rates); err != nil {
			return nil, err
		}
		r.UpdatedAt = now
		derived[i] = r
	}
	return FoldBalances(derived, initial), nil
}

type periodGroup struct {
	period  Period
	records []DailyRecord
}

// groupByPeriod splits date-sorted records into consecutive period groups.
func groupByPeriod(records []DailyRecord) []periodGroup {
	var groups []periodGroup
	for _, r := range records {
		p := r.Period()
		if n := len(groups); n > 0 && groups[n-1].period == p {
			groups[n-1].records = append(groups[n-1].records, r)
			continue
		}
		groups = append(groups, periodGroup{period: p, records: []DailyRecord{r}})
	}
	return groups
}

// =============================================================================
// RECONCILE - the full sequence after a daily record mutation
// =============================================================================

// Reconcile syncs the period containing from, carries closings forward and
// walks running balances from from. Must run inside a store transaction.
func (re *ReconciliationEngine) Reconcile(ctx context.Context, s Store, userID UserID, from TimePoint) (*MonthlyLedger, error) {
	period := PeriodOf(userID, from)
	ledger, err := re.SyncPeriod(ctx, s, period)
	if err != nil {
		return nil, err
	}
	if _, err := re.CarryForward(ctx, s, period); err != nil {
		return nil, err
	}
	if _, err := re.RecalculateFrom(ctx, s, userID, from); err != nil {
		return nil, err
	}
	return ledger, nil
}
