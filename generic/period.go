package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - One user's calendar month
// =============================================================================

// Period identifies the scope of one MonthlyLedger: a (user, month, year)
// triple. Everything the engine aggregates is period-pure; data from one
// period is never substituted for another.
type Period struct {
	UserID UserID
	Year   int
	Month  time.Month
}

// NewPeriod validates and builds a period.
func NewPeriod(userID UserID, year int, month time.Month) (Period, error) {
	if userID == "" {
		return Period{}, fmt.Errorf("%w: user id required", ErrInvalidPeriod)
	}
	if month < time.January || month > time.December {
		return Period{}, fmt.Errorf("%w: month %d", ErrInvalidPeriod, month)
	}
	if year < 1900 || year > 9999 {
		return Period{}, fmt.Errorf("%w: year %d", ErrInvalidPeriod, year)
	}
	return Period{UserID: userID, Year: year, Month: month}, nil
}

// PeriodOf returns the period containing the given day.
func PeriodOf(userID UserID, day TimePoint) Period {
	return Period{UserID: userID, Year: day.Year(), Month: day.Month()}
}

// Start is the first day of the month.
func (p Period) Start() TimePoint { return StartOfMonth(p.Year, p.Month) }

// End is the last day of the month.
func (p Period) End() TimePoint { return EndOfMonth(p.Year, p.Month) }

// Contains returns true if the day is within [Start, End].
func (p Period) Contains(day TimePoint) bool {
	return day.AfterOrEqual(p.Start()) && day.BeforeOrEqual(p.End())
}

// Previous returns the same user's preceding month.
func (p Period) Previous() Period {
	if p.Month == time.January {
		return Period{UserID: p.UserID, Year: p.Year - 1, Month: time.December}
	}
	return Period{UserID: p.UserID, Year: p.Year, Month: p.Month - 1}
}

// Next returns the same user's following month.
func (p Period) Next() Period {
	if p.Month == time.December {
		return Period{UserID: p.UserID, Year: p.Year + 1, Month: time.January}
	}
	return Period{UserID: p.UserID, Year: p.Year, Month: p.Month + 1}
}

// Before orders periods of the same user.
func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

// Key is the month label, e.g. "2024-03".
func (p Period) Key() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// String includes the user, e.g. "school-7/2024-03".
func (p Period) String() string {
	return string(p.UserID) + "/" + p.Key()
}
