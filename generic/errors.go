/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every business-rule failure is recoverable and is surfaced to the caller
  with enough context (period, category) to render a corrective action.

ERROR CATEGORIES:
  1. Lifecycle errors - locked period, invalid state transition
  2. Configuration errors - missing or inconsistent rates
  3. Data errors - duplicate date, no usage data, not found
  4. Report errors - stale snapshot

USAGE:
  if errors.Is(err, generic.ErrLedgerLocked) {
      // unlock first
  }

  var le *generic.LedgerError
  if errors.As(err, &le) {
      fmt.Println(le.Period, le.Category)
  }
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrLedgerLocked is returned when a mutation targets a locked period.
	ErrLedgerLocked = errors.New("ledger locked")

	// ErrDuplicateDate is returned when a daily record already exists for the date.
	ErrDuplicateDate = errors.New("daily record already exists for date")

	// ErrLedgerNotConfigured is returned when a period has no rate table or no
	// completed ledger for the requested operation.
	ErrLedgerNotConfigured = errors.New("ledger not configured")

	// ErrIncompleteConfiguration is returned when completing a ledger whose
	// categories do not all have rates.
	ErrIncompleteConfiguration = errors.New("incomplete configuration")

	// ErrNoUsageData is returned when generating a report for a period
	// without daily records.
	ErrNoUsageData = errors.New("no usage data")

	// ErrPeriodAlreadyExists is returned when seeding a period that already has a ledger.
	ErrPeriodAlreadyExists = errors.New("period already exists")

	// ErrNotFound is returned when a referenced ledger, record or report doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when an actor mutates another user's record.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidAmount is returned for negative lift/arrange amounts or served counts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidTransition is returned when a lifecycle operation is not
	// allowed from the ledger's current state.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrInvalidRates is returned when a rate table fails write-time validation.
	ErrInvalidRates = errors.New("invalid rates")

	// ErrInvalidPeriod is returned when a period is malformed.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrReportStale is returned when viewing a report whose source data changed.
	ErrReportStale = errors.New("report is stale, regenerate required")

	// ErrLockTimeout is returned when the per-user lock cannot be acquired in time.
	ErrLockTimeout = errors.New("lock not acquired")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// LedgerError wraps a sentinel with the period and category it concerns.
type LedgerError struct {
	Err      error
	Period   Period
	Category Category // empty when the error is not category specific
	Detail   string
}

func (e *LedgerError) Error() string {
	msg := e.Err.Error() + ": " + e.Period.String()
	if e.Category != "" {
		msg += " (" + string(e.Category) + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

func ledgerErr(err error, period Period, category Category, detail string) error {
	return &LedgerError{Err: err, Period: period, Category: category, Detail: detail}
}

// DuplicateDateError provides details about a date uniqueness violation.
type DuplicateDateError struct {
	UserID   UserID
	Date     TimePoint
	Existing RecordID
}

func (e *DuplicateDateError) Error() string {
	return fmt.Sprintf("daily record already exists: %s for %s (record: %s)", e.Date, e.UserID, e.Existing)
}

func (e *DuplicateDateError) Unwrap() error {
	return ErrDuplicateDate
}

// StaleReportError is returned instead of a stale report's totals.
type StaleReportError struct {
	ReportID ReportID
	Period   Period
	Kind     ReportKind
	// ViaDependency is set when the report's own data is current but the
	// report it depends on is stale.
	ViaDependency *ReportID
}

func (e *StaleReportError) Error() string {
	if e.ViaDependency != nil {
		return fmt.Sprintf("%s report %s for %s is stale via dependency %s, regenerate required",
			e.Kind, e.ReportID, e.Period, *e.ViaDependency)
	}
	return fmt.Sprintf("%s report %s for %s is stale, regenerate required", e.Kind, e.ReportID, e.Period)
}

func (e *StaleReportError) Unwrap() error {
	return ErrReportStale
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidRates) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrIncompleteConfiguration) ||
		errors.Is(err, ErrLedgerNotConfigured) ||
		errors.Is(err, ErrNoUsageData)
}

// IsConflict returns true if the request conflicts with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrLedgerLocked) ||
		errors.Is(err, ErrDuplicateDate) ||
		errors.Is(err, ErrPeriodAlreadyExists) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrReportStale) ||
		errors.Is(err, ErrLockTimeout)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
