package generic_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BilalTali/mdmseva-sub000/generic"
	"github.com/BilalTali/mdmseva-sub000/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	catPrimary generic.Category = "primary"
	catMiddle  generic.Category = "middle"

	school generic.UserID = "school-1"
)

var testNow = time.Date(2024, time.April, 1, 9, 0, 0, 0, time.UTC)

func init() {
	generic.RegisterCategory(catPrimary)
	generic.RegisterCategory(catMiddle)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func month(m time.Month) generic.Period {
	return generic.Period{UserID: school, Year: 2024, Month: m}
}

func day(m time.Month, d int) generic.TimePoint {
	return generic.NewTimePoint(2024, m, d)
}

// flatRates returns a table with the given consumption and cost per student
// for both categories.
func flatRates(period generic.Period, consumption, cost string) generic.RateTable {
	return generic.RateTable{
		Period: period,
		Rates: map[generic.Category]generic.CategoryRate{
			catPrimary: {Consumption: dec(consumption), Cost: dec(cost)},
			catMiddle:  {Consumption: dec(consumption), Cost: dec(cost)},
		},
		UpdatedAt: testNow,
	}
}

func usage(d generic.TimePoint, primary, middle int) generic.DailyRecord {
	return generic.DailyRecord{
		ID:     generic.RecordID(generic.NewID()),
		UserID: school,
		Date:   d,
		Served: map[generic.Category]int{catPrimary: primary, catMiddle: middle},
	}
}

func engine() *generic.ReconciliationEngine {
	return &generic.ReconciliationEngine{Now: func() time.Time { return testNow }}
}

// setupPeriod creates a ledger with the given primary opening and lift plus
// a flat rate table, and returns the store.
func setupPeriod(t *testing.T, s *store.Memory, period generic.Period, opening, lifted string, consumption string) *generic.MonthlyLedger {
	t.Helper()
	ctx := context.Background()

	l := generic.NewMonthlyLedger(period, nil, testNow)
	l.SeedFromPrevious(nil, generic.CategoryAmounts{catPrimary: dec(opening)})
	_, err := l.Lift(catPrimary, dec(lifted), "", "tester", testNow)
	require.NoError(t, err)
	require.NoError(t, s.CreateLedger(ctx, l))
	require.NoError(t, s.SaveRates(ctx, flatRates(period, consumption, "5")))
	return l
}

// insertAndReconcile inserts a record and reconciles from its date in one
// transaction.
func insertAndReconcile(t *testing.T, s *store.Memory, r generic.DailyRecord) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx generic.Store) error {
		if err := tx.InsertRecord(context.Background(), r); err != nil {
			return err
		}
		_, err := engine().Reconcile(context.Background(), tx, r.UserID, r.Date)
		return err
	})
	require.NoError(t, err)
}

func editAndReconcile(t *testing.T, s *store.Memory, id generic.RecordID, primary, middle int) {
	t.Helper()
	ctx := context.Background()
	err := s.WithTx(ctx, func(tx generic.Store) error {
		r, err := tx.GetRecord(ctx, id)
		if err != nil {
			return err
		}
		r.Served = map[generic.Category]int{catPrimary: primary, catMiddle: middle}
		if err := tx.UpdateRecord(ctx, *r); err != nil {
			return err
		}
		_, err = engine().Reconcile(ctx, tx, r.UserID, r.Date)
		return err
	})
	require.NoError(t, err)
}

func recordOn(t *testing.T, s *store.Memory, d generic.TimePoint) generic.DailyRecord {
	t.Helper()
	r, err := s.RecordOn(context.Background(), school, d)
	require.NoError(t, err)
	require.NotNil(t, r, "no record on %s", d)
	return *r
}

func ledgerFor(t *testing.T, s *store.Memory, period generic.Period) *generic.MonthlyLedger {
	t.Helper()
	l, err := s.GetLedger(context.Background(), period)
	require.NoError(t, err)
	require.NotNil(t, l)
	return l
}

// assertClosingInvariant checks Closing = Opening + Lifted + Arranged - Consumed.
func assertClosingInvariant(t *testing.T, l *generic.MonthlyLedger) {
	t.Helper()
	for _, c := range l.Categories {
		b := l.Balance(c)
		want := b.Opening.Add(b.Lifted).Add(b.Arranged).Sub(b.Consumed)
		assert.True(t, want.Equal(b.Closing), "closing invariant broken for %s: %s != %s", c, b.Closing, want)
	}
}
