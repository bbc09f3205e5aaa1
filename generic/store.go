/*
store.go - Persistence interfaces for ledgers, rates, daily records and reports

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  LedgerStore:   MonthlyLedger rows, unique per period, never deleted
  RateStore:     RateTable per period
  DailyStore:    DailyRecord rows, unique per (user, date)
  ReportStore:   Report snapshots, immutable except for the superseded pointer
  ActivityLog:   Append-only audit trail (activity.go)
  TxStore:       All of the above plus atomic multi-step operations

ATOMICITY:
  Every multi-step operation (record a day, sync the ledger, walk running
  balances forward) runs inside WithTx. If fn returns an error nothing it
  wrote is visible. The forward walk is the transaction boundary.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing

LOOKUPS:
  Period lookups (GetLedger, GetRates, CurrentReport) return (nil, nil)
  when nothing exists. ID lookups return ErrNotFound.
*/
package generic

import (
	"context"
	"time"
)

// LedgerStore persists MonthlyLedger rows.
type LedgerStore interface {
	// CreateLedger inserts a new ledger. Returns ErrPeriodAlreadyExists if
	// the period already has one.
	CreateLedger(ctx context.Context, l *MonthlyLedger) error

	// SaveLedger updates an existing ledger.
	SaveLedger(ctx context.Context, l *MonthlyLedger) error

	GetLedger(ctx context.Context, period Period) (*MonthlyLedger, error)
	GetLedgerByID(ctx context.Context, id LedgerID) (*MonthlyLedger, error)

	// LedgersFrom returns the user's ledgers for periods >= from, in order.
	LedgersFrom(ctx context.Context, from Period) ([]*MonthlyLedger, error)

	// LedgersForMonth returns every user's ledger for the given month.
	LedgersForMonth(ctx context.Context, year int, month time.Month) ([]*MonthlyLedger, error)
}

// RateStore persists rate tables.
type RateStore interface {
	SaveRates(ctx context.Context, rt RateTable) error
	GetRates(ctx context.Context, period Period) (*RateTable, error)
	// LatestRatesBefore returns the most recent table for a period strictly
	// before the given one. Used only by explicit collaborator fallbacks.
	LatestRatesBefore(ctx context.Context, period Period) (*RateTable, error)
}

// DailyStore persists daily records.
type DailyStore interface {
	// InsertRecord fails with *DuplicateDateError when the user already has
	// a record for the date.
	InsertRecord(ctx context.Context, r DailyRecord) error
	UpdateRecord(ctx context.Context, r DailyRecord) error
	DeleteRecord(ctx context.Context, id RecordID) error
	GetRecord(ctx context.Context, id RecordID) (*DailyRecord, error)
	RecordOn(ctx context.Context, userID UserID, day TimePoint) (*DailyRecord, error)

	// RecordsInRange returns records in [from, to], ordered by date.
	RecordsInRange(ctx context.Context, userID UserID, from, to TimePoint) ([]DailyRecord, error)

	// RecordsFrom returns records with date >= from, ordered by date.
	RecordsFrom(ctx context.Context, userID UserID, from TimePoint) ([]DailyRecord, error)
}

// ReportStore persists report snapshots.
type ReportStore interface {
	SaveReport(ctx context.Context, r Report) error
	// SupersedeReport sets the superseded pointer; totals are never touched.
	SupersedeReport(ctx context.Context, id, by ReportID) error
	GetReport(ctx context.Context, id ReportID) (*Report, error)
	// CurrentReport returns the non-superseded report of a kind for a period.
	CurrentReport(ctx context.Context, period Period, kind ReportKind) (*Report, error)
	ListReports(ctx context.Context, period Period) ([]Report, error)
}

// Store combines every persistence concern of the engine.
type Store interface {
	LedgerStore
	RateStore
	DailyStore
	ReportStore
	ActivityLog
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// PeriodRecords loads the records of one period.
func PeriodRecords(ctx context.Context, s DailyStore, period Period) ([]DailyRecord, error) {
	return s.RecordsInRange(ctx, period.UserID, period.Start(), period.End())
}
