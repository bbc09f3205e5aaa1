/*
Package generic provides the core ledger and reconciliation engine.

PURPOSE:
  This package contains the types and algorithms for tracking a consumable
  resource (stock) and its derived monetary value per user, per calendar
  month. Daily usage records may be inserted, edited or deleted in any
  order; the engine keeps monthly ledgers, running balances and generated
  report snapshots consistent with them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Quantity helpers over decimal.Decimal
  - Identifiers: UserID, LedgerID, RecordID, ReportID, EntryID
  - Category: a student population segment (registered by domain packages)

DESIGN PRINCIPLES:
  1. Precision: stock and money use decimal.Decimal, never float64
  2. Type Safety: distinct ID types prevent mixing ledgers and records
  3. Single writer: derived fields (consumed, closing, balance after) are
     only written by the reconciliation engine
  4. Auditability: balance-affecting operations append ActivityEntry rows

SEE ALSO:
  - ledger.go: MonthlyLedger aggregate and its state machine
  - reconcile.go: consumption sync and forward balance walk
  - fingerprint.go: staleness detection for reports
*/
package generic

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type LedgerID string
type RecordID string
type ReportID string
type EntryID string

// NewID returns a random identifier for ledgers, records, reports and log entries.
func NewID() string {
	return uuid.NewString()
}

// =============================================================================
// QUANTITIES
// =============================================================================

// Canonical renders d exactly, without trailing zeros, so equal values
// always produce identical text and no digit is dropped.
func Canonical(d decimal.Decimal) string {
	return d.String()
}

// Served multiplies a served head count by a per-student rate.
func Served(count int, rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(count)).Mul(rate)
}

// =============================================================================
// CATEGORY AMOUNTS
// =============================================================================

// CategoryAmounts holds one decimal per category.
type CategoryAmounts map[Category]decimal.Decimal

// Get returns the amount for c, zero when absent.
func (ca CategoryAmounts) Get(c Category) decimal.Decimal {
	if ca == nil {
		return decimal.Zero
	}
	if v, ok := ca[c]; ok {
		return v
	}
	return decimal.Zero
}

// Total sums all categories.
func (ca CategoryAmounts) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range ca {
		total = total.Add(v)
	}
	return total
}
