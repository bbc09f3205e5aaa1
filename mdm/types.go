// Package mdm implements mid-day meal stock and spend tracking per school.
// It uses the generic ledger engine with the primary and middle student
// categories, rice stock in kilograms and cost heads in currency units.
package mdm

import (
	"github.com/BilalTali/mdmseva-sub000/generic"
)

// =============================================================================
// STUDENT CATEGORIES
// =============================================================================

const (
	CategoryPrimary generic.Category = "primary"
	CategoryMiddle  generic.Category = "middle"
)

// Register the meal categories with the generic registry.
func init() {
	generic.RegisterCategory(CategoryPrimary)
	generic.RegisterCategory(CategoryMiddle)
}

// Categories returns the categories a school tracks by default.
func Categories() []generic.Category {
	return []generic.Category{CategoryPrimary, CategoryMiddle}
}

// =============================================================================
// DAILY USAGE
// =============================================================================

// Usage is one day's meal entry as submitted by a school.
type Usage struct {
	ServedPrimary int
	ServedMiddle  int
	Remarks       string
}

// Served converts the entry into per-category counts.
func (u Usage) Served() map[generic.Category]int {
	return map[generic.Category]int{
		CategoryPrimary: u.ServedPrimary,
		CategoryMiddle:  u.ServedMiddle,
	}
}

// Validate rejects negative counts.
func (u Usage) Validate() error {
	if u.ServedPrimary < 0 || u.ServedMiddle < 0 {
		return generic.ErrInvalidAmount
	}
	return nil
}

// UsageOf reads the served counts back from a record.
func UsageOf(r generic.DailyRecord) Usage {
	return Usage{
		ServedPrimary: r.ServedCount(CategoryPrimary),
		ServedMiddle:  r.ServedCount(CategoryMiddle),
		Remarks:       r.Remarks,
	}
}
