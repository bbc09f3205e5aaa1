/*
ledger.go - MonthlyLedger aggregate

PURPOSE:
  The MonthlyLedger owns one period's stock balances per category and the
  period's lifecycle state. Opening balances carry forward from the
  previous period's closing balances; lifted and arranged stock are added
  explicitly; consumed stock is a materialized view of the daily records
  with a single writer (SyncConsumedFromDaily in reconcile.go).

CRITICAL INVARIANTS:
  1. Closing = Opening + Lifted + Arranged - Consumed, per category, after
     every mutation.
  2. Closing may be negative (overdraw). It is surfaced, never clamped.
  3. Ledgers are never deleted. Reset returns to Draft and keeps the row.

STATE MACHINE:
  Draft -> Completed -> (Locked <-> unlocked)
  Lock is allowed from any state. Unlock returns to Completed when the
  ledger had been completed, Draft otherwise. Reset returns to Draft from
  any non-Locked state. Locked blocks Lift, Arrange, Reset and every daily
  record mutation of the period.

SEE ALSO:
  - reconcile.go: writes Consumed and walks running balances
  - activity.go: entries appended by the mutators below
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LIFECYCLE
// =============================================================================

type LedgerState string

const (
	StateDraft     LedgerState = "draft"
	StateCompleted LedgerState = "completed"
	StateLocked    LedgerState = "locked"
)

// OpeningSource records where the opening balances came from. Only carried
// openings follow later changes to the previous period's closing balances.
type OpeningSource string

const (
	OpeningZero     OpeningSource = "zero"
	OpeningCarried  OpeningSource = "carried"
	OpeningOverride OpeningSource = "override"
)

// =============================================================================
// MONTHLY LEDGER
// =============================================================================

// CategoryBalance is one category's stock movement for the period.
type CategoryBalance struct {
	Opening  decimal.Decimal
	Lifted   decimal.Decimal
	Arranged decimal.Decimal
	Consumed decimal.Decimal
	Closing  decimal.Decimal
}

// Available is the stock available before consumption.
func (b CategoryBalance) Available() decimal.Decimal {
	return b.Opening.Add(b.Lifted).Add(b.Arranged)
}

// MonthlyLedger is unique per (user, year, month).
type MonthlyLedger struct {
	ID         LedgerID
	Period     Period
	Categories []Category
	Balances   map[Category]*CategoryBalance

	State         LedgerState
	LockReason    string
	CompletedBy   string
	CompletedAt   *time.Time
	OpeningSource OpeningSource

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewMonthlyLedger creates a Draft ledger with zero balances for the given
// active categories (all registered categories when none are given).
func NewMonthlyLedger(period Period, categories []Category, now time.Time) *MonthlyLedger {
	if len(categories) == 0 {
		categories = ListCategories()
	}
	cs := append([]Category(nil), categories...)
	SortCategories(cs)

	l := &MonthlyLedger{
		ID:            LedgerID(NewID()),
		Period:        period,
		Categories:    cs,
		Balances:      make(map[Category]*CategoryBalance, len(cs)),
		State:         StateDraft,
		OpeningSource: OpeningZero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, c := range cs {
		l.Balances[c] = &CategoryBalance{}
	}
	return l
}

// Balance returns the category balance, creating an empty one for an
// active category that has none yet.
func (l *MonthlyLedger) Balance(c Category) *CategoryBalance {
	if l.Balances == nil {
		l.Balances = make(map[Category]*CategoryBalance)
	}
	b, ok := l.Balances[c]
	if !ok {
		b = &CategoryBalance{}
		l.Balances[c] = b
	}
	return b
}

// HasCategory reports whether c is in the active category set.
func (l *MonthlyLedger) HasCategory(c Category) bool {
	for _, ac := range l.Categories {
		if ac == c {
			return true
		}
	}
	return false
}

// IsLocked reports whether mutations of the period are blocked.
func (l *MonthlyLedger) IsLocked() bool { return l.State == StateLocked }

// WasCompleted reports whether the ledger reached Completed, even if it has
// since been locked.
func (l *MonthlyLedger) WasCompleted() bool { return l.CompletedAt != nil }

// TotalAvailable sums Opening+Lifted+Arranged over the active categories.
func (l *MonthlyLedger) TotalAvailable() decimal.Decimal {
	total := decimal.Zero
	for _, c := range l.Categories {
		total = total.Add(l.Balance(c).Available())
	}
	return total
}

// Closings returns the closing balance of every active category.
func (l *MonthlyLedger) Closings() CategoryAmounts {
	out := make(CategoryAmounts, len(l.Categories))
	for _, c := range l.Categories {
		out[c] = l.Balance(c).Closing
	}
	return out
}

// RecomputeTotals recomputes Closing from the invariant. Pure function of
// the ledger's own fields; idempotent.
func (l *MonthlyLedger) RecomputeTotals() {
	for _, c := range l.Categories {
		b := l.Balance(c)
		b.Closing = b.Available().Sub(b.Consumed)
	}
}

// =============================================================================
// SEEDING
// =============================================================================

// SeedFromPrevious sets opening balances from the previous period's closing
// balances, unless overrides supplies explicit values for a category.
// The previous ledger only contributes values once it has been completed;
// until then the openings stay zero but remain marked as carried so that
// CarryOpening picks up the closings when the previous period completes.
func (l *MonthlyLedger) SeedFromPrevious(prev *MonthlyLedger, overrides CategoryAmounts) {
	source := OpeningZero
	for _, c := range l.Categories {
		b := l.Balance(c)
		if v, ok := overrides[c]; ok {
			b.Opening = v
			source = OpeningOverride
			continue
		}
		b.Opening = decimal.Zero
		if prev == nil {
			continue
		}
		if prev.WasCompleted() {
			b.Opening = prev.Balance(c).Closing
		}
		if source != OpeningOverride {
			source = OpeningCarried
		}
	}
	l.OpeningSource = source
	l.RecomputeTotals()
}

// CarryOpening replaces carried opening balances with prev's closings.
// A prev that is not completed (never, or reset since) leaves the openings
// as they are. Returns true when any opening changed.
func (l *MonthlyLedger) CarryOpening(prev *MonthlyLedger, now time.Time) bool {
	if l.OpeningSource != OpeningCarried || prev == nil || !prev.WasCompleted() {
		return false
	}
	changed := false
	for _, c := range l.Categories {
		b := l.Balance(c)
		closing := prev.Balance(c).Closing
		if !b.Opening.Equal(closing) {
			b.Opening = closing
			changed = true
		}
	}
	if changed {
		l.RecomputeTotals()
		l.UpdatedAt = now
	}
	return changed
}

// =============================================================================
// MUTATORS - each returns the ActivityEntry to append
// =============================================================================

// Lift records stock lifted from the supplier. Additive only.
func (l *MonthlyLedger) Lift(c Category, amount decimal.Decimal, notes, actor string, now time.Time) (ActivityEntry, error) {
	return l.addStock(ActionLift, c, amount, notes, actor, now, func(b *CategoryBalance) {
		b.Lifted = b.Lifted.Add(amount)
	})
}

// Arrange records stock arranged locally (borrowed, donated). Additive only.
func (l *MonthlyLedger) Arrange(c Category, amount decimal.Decimal, notes, actor string, now time.Time) (ActivityEntry, error) {
	return l.addStock(ActionArrange, c, amount, notes, actor, now, func(b *CategoryBalance) {
		b.Arranged = b.Arranged.Add(amount)
	})
}

func (l *MonthlyLedger) addStock(action Action, c Category, amount decimal.Decimal, notes, actor string, now time.Time, apply func(*CategoryBalance)) (ActivityEntry, error) {
	if l.IsLocked() {
		return ActivityEntry{}, ledgerErr(ErrLedgerLocked, l.Period, c, l.LockReason)
	}
	if amount.IsNegative() {
		return ActivityEntry{}, ledgerErr(ErrInvalidAmount, l.Period, c, "amount must not be negative")
	}
	if !l.HasCategory(c) {
		return ActivityEntry{}, ledgerErr(ErrIncompleteConfiguration, l.Period, c, "category not active for this ledger")
	}
	apply(l.Balance(c))
	l.RecomputeTotals()
	l.UpdatedAt = now
	return l.entry(action, CategoryAmounts{c: amount}, notes, actor, now), nil
}

// Complete moves a Draft ledger to Completed. Every active category must
// have rates in the period's table.
func (l *MonthlyLedger) Complete(rates *RateTable, actor, notes string, now time.Time) (ActivityEntry, error) {
	if l.State != StateDraft {
		return ActivityEntry{}, ledgerErr(ErrInvalidTransition, l.Period, "", "ledger is "+string(l.State))
	}
	if rates == nil {
		return ActivityEntry{}, ledgerErr(ErrIncompleteConfiguration, l.Period, "", "no rate table for period")
	}
	if missing := rates.Configures(l.Categories); len(missing) > 0 {
		return ActivityEntry{}, ledgerErr(ErrIncompleteConfiguration, l.Period, missing[0], "rates missing")
	}
	l.State = StateCompleted
	l.CompletedBy = actor
	t := now
	l.CompletedAt = &t
	l.UpdatedAt = now
	return l.entry(ActionComplete, nil, notes, actor, now), nil
}

// Lock blocks mutations of the period. Allowed from any state.
func (l *MonthlyLedger) Lock(reason, actor string, now time.Time) ActivityEntry {
	l.State = StateLocked
	l.LockReason = reason
	l.UpdatedAt = now
	return l.entry(ActionLock, nil, reason, actor, now)
}

// Unlock clears the lock and its reason.
func (l *MonthlyLedger) Unlock(actor string, now time.Time) ActivityEntry {
	if l.WasCompleted() {
		l.State = StateCompleted
	} else {
		l.State = StateDraft
	}
	l.LockReason = ""
	l.UpdatedAt = now
	return l.entry(ActionUnlock, nil, "", actor, now)
}

// Reset zeroes the consumption derived from rates and reverts to Draft.
// The row, its opening balances and its lifted/arranged stock are kept.
func (l *MonthlyLedger) Reset(actor, notes string, now time.Time) (ActivityEntry, error) {
	if l.IsLocked() {
		return ActivityEntry{}, ledgerErr(ErrLedgerLocked, l.Period, "", l.LockReason)
	}
	for _, c := range l.Categories {
		l.Balance(c).Consumed = decimal.Zero
	}
	l.State = StateDraft
	l.CompletedBy = ""
	l.CompletedAt = nil
	l.RecomputeTotals()
	l.UpdatedAt = now
	return l.entry(ActionReset, nil, notes, actor, now), nil
}

func (l *MonthlyLedger) entry(action Action, amounts CategoryAmounts, notes, actor string, now time.Time) ActivityEntry {
	return ActivityEntry{
		ID:        EntryID(NewID()),
		LedgerID:  l.ID,
		Action:    action,
		Amounts:   amounts,
		Notes:     notes,
		ActorID:   actor,
		Timestamp: now,
	}
}

// Clone returns a deep copy, used by stores to hand out values that callers
// may mutate without touching stored state.
func (l *MonthlyLedger) Clone() *MonthlyLedger {
	if l == nil {
		return nil
	}
	c := *l
	c.Categories = append([]Category(nil), l.Categories...)
	c.Balances = make(map[Category]*CategoryBalance, len(l.Balances))
	for k, v := range l.Balances {
		b := *v
		c.Balances[k] = &b
	}
	if l.CompletedAt != nil {
		t := *l.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
