package generic_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BilalTali/mdmseva-sub000/generic"
)

// =============================================================================
// CLOSING INVARIANT
// =============================================================================

func TestLedger_ClosingInvariant_AfterEveryMutation(t *testing.T) {
	// GIVEN: A ledger seeded with opening 100 primary
	// WHEN: Lifting, arranging and syncing consumption
	// THEN: Closing = Opening + Lifted + Arranged - Consumed at every step

	l := generic.NewMonthlyLedger(month(time.March), nil, testNow)
	l.SeedFromPrevious(nil, generic.CategoryAmounts{catPrimary: dec("100")})
	assertClosingInvariant(t, l)
	assertDecimal(t, "100", l.Balance(catPrimary).Closing)

	_, err := l.Lift(catPrimary, dec("50"), "supplier", "u1", testNow)
	require.NoError(t, err)
	assertClosingInvariant(t, l)

	_, err = l.Arrange(catMiddle, dec("7.5"), "borrowed", "u1", testNow)
	require.NoError(t, err)
	assertClosingInvariant(t, l)

	rates := flatRates(month(time.March), "0.1", "5")
	records := []generic.DailyRecord{usage(day(time.March, 1), 20, 10)}
	require.NoError(t, engine().SyncConsumedFromDaily(l, records, &rates))
	assertClosingInvariant(t, l)

	assertDecimal(t, "148", l.Balance(catPrimary).Closing)
	assertDecimal(t, "6.5", l.Balance(catMiddle).Closing)
	assertDecimal(t, "157.5", l.TotalAvailable())
}

func TestLedger_OverdrawIsNotClamped(t *testing.T) {
	l := generic.NewMonthlyLedger(month(time.March), nil, testNow)
	rates := flatRates(month(time.March), "0.1", "5")

	require.NoError(t, engine().SyncConsumedFromDaily(l, []generic.DailyRecord{usage(day(time.March, 1), 30, 0)}, &rates))

	assertDecimal(t, "-3", l.Balance(catPrimary).Closing, "negative closing should be surfaced")
}

// =============================================================================
// LIFT / ARRANGE VALIDATION
// =============================================================================

func TestLedger_Lift_Validation(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*generic.MonthlyLedger)
		cat     generic.Category
		amount  string
		wantErr error
	}{
		{name: "negative amount", cat: catPrimary, amount: "-1", wantErr: generic.ErrInvalidAmount},
		{name: "locked period", cat: catPrimary, amount: "10", wantErr: generic.ErrLedgerLocked,
			setup: func(l *generic.MonthlyLedger) { l.Lock("audit", "u1", testNow) }},
		{name: "inactive category", cat: "senior", amount: "10", wantErr: generic.ErrIncompleteConfiguration},
		{name: "zero is allowed", cat: catPrimary, amount: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := generic.NewMonthlyLedger(month(time.March), nil, testNow)
			if tt.setup != nil {
				tt.setup(l)
			}
			entry, err := l.Lift(tt.cat, dec(tt.amount), "", "u1", testNow)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, generic.ActionLift, entry.Action)
			assert.Equal(t, l.ID, entry.LedgerID)
		})
	}
}

func TestLedger_LockedError_CarriesPeriodAndCategory(t *testing.T) {
	l := generic.NewMonthlyLedger(month(time.March), nil, testNow)
	l.Lock("audit", "u1", testNow)

	_, err := l.Arrange(catMiddle, dec("1"), "", "u1", testNow)

	var le *generic.LedgerError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, month(time.March), le.Period)
	assert.Equal(t, catMiddle, le.Category)
	assert.Equal(t, "audit", le.Detail)
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestLedger_Complete_RequiresRatesForEveryCategory(t *testing.T) {
	l := generic.NewMonthlyLedger(month(time.March), nil, testNow)
	partial := generic.RateTable{
		Period: month(time.March),
		Rates:  map[generic.Category]generic.CategoryRate{catPrimary: {Consumption: dec("0.1"), Cost: dec("5")}},
	}

	_, err := l.Complete(nil, "u1", "", testNow)
	assert.ErrorIs(t, err, generic.ErrIncompleteConfiguration)

	_, err = l.Complete(&partial, "u1", "", testNow)
	assert.ErrorIs(t, err, generic.ErrIncompleteConfiguration)
	assert.Equal(t, generic.StateDraft, l.State)
}

func TestLedger_StateMachine(t *testing.T) {
	// GIVEN: A draft ledger with a full rate table
	// WHEN: Walking it through complete, lock, unlock and reset
	// THEN: Each transition lands in the documented state

	rates := flatRates(month(time.March), "0.1", "5")
	l := generic.NewMonthlyLedger(month(time.March), nil, testNow)
	assert.Equal(t, generic.StateDraft, l.State)

	_, err := l.Complete(&rates, "u1", "done", testNow)
	require.NoError(t, err)
	assert.Equal(t, generic.StateCompleted, l.State)
	assert.True(t, l.WasCompleted())

	_, err = l.Complete(&rates, "u1", "", testNow)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition, "completing twice is not allowed")

	l.Lock("audit", "u1", testNow)
	assert.Equal(t, generic.StateLocked, l.State)
	assert.Equal(t, "audit", l.LockReason)

	_, err = l.Reset("u1", "", testNow)
	assert.ErrorIs(t, err, generic.ErrLedgerLocked)

	l.Unlock("u1", testNow)
	assert.Equal(t, generic.StateCompleted, l.State, "unlock returns to completed")
	assert.Empty(t, l.LockReason)

	_, err = l.Reset("u1", "redo", testNow)
	require.NoError(t, err)
	assert.Equal(t, generic.StateDraft, l.State)
	assert.False(t, l.WasCompleted())
}

func TestLedger_UnlockDraft_ReturnsToDraft(t *testing.T) {
	l := generic.NewMonthlyLedger(month(time.March), nil, testNow)
	l.Lock("", "u1", testNow)
	l.Unlock("u1", testNow)
	assert.Equal(t, generic.StateDraft, l.State)
}

func TestLedger_Reset_KeepsStockZeroesConsumption(t *testing.T) {
	l := generic.NewMonthlyLedger(month(time.March), nil, testNow)
	l.SeedFromPrevious(nil, generic.CategoryAmounts{catPrimary: dec("100")})
	_, err := l.Lift(catPrimary, dec("50"), "", "u1", testNow)
	require.NoError(t, err)
	rates := flatRates(month(time.March), "0.1", "5")
	require.NoError(t, engine().SyncConsumedFromDaily(l, []generic.DailyRecord{usage(day(time.March, 1), 20, 0)}, &rates))

	entry, err := l.Reset("u1", "", testNow)
	require.NoError(t, err)

	b := l.Balance(catPrimary)
	assertDecimal(t, "100", b.Opening)
	assertDecimal(t, "50", b.Lifted)
	assertDecimal(t, "0", b.Consumed)
	assertDecimal(t, "150", b.Closing)
	assert.Equal(t, generic.ActionReset, entry.Action)
}

// =============================================================================
// SEEDING AND CARRY
// =============================================================================

func TestLedger_SeedFromPrevious(t *testing.T) {
	rates := flatRates(month(time.March), "0.1", "5")
	prev := generic.NewMonthlyLedger(month(time.March), nil, testNow)
	_, err := prev.Lift(catPrimary, dec("40"), "", "u1", testNow)
	require.NoError(t, err)

	t.Run("uncompleted previous seeds zero but stays carried", func(t *testing.T) {
		l := generic.NewMonthlyLedger(month(time.April), nil, testNow)
		l.SeedFromPrevious(prev, nil)
		assertDecimal(t, "0", l.Balance(catPrimary).Opening)
		assert.Equal(t, generic.OpeningCarried, l.OpeningSource)
	})

	_, err = prev.Complete(&rates, "u1", "", testNow)
	require.NoError(t, err)

	t.Run("completed previous seeds closings", func(t *testing.T) {
		l := generic.NewMonthlyLedger(month(time.April), nil, testNow)
		l.SeedFromPrevious(prev, nil)
		assertDecimal(t, "40", l.Balance(catPrimary).Opening)
		assertDecimal(t, "40", l.Balance(catPrimary).Closing)
		assert.Equal(t, generic.OpeningCarried, l.OpeningSource)
	})

	t.Run("locked after completion still seeds", func(t *testing.T) {
		locked := prev.Clone()
		locked.Lock("audit", "u1", testNow)
		l := generic.NewMonthlyLedger(month(time.April), nil, testNow)
		l.SeedFromPrevious(locked, nil)
		assertDecimal(t, "40", l.Balance(catPrimary).Opening)
	})

	t.Run("overrides win", func(t *testing.T) {
		l := generic.NewMonthlyLedger(month(time.April), nil, testNow)
		l.SeedFromPrevious(prev, generic.CategoryAmounts{catPrimary: dec("12")})
		assertDecimal(t, "12", l.Balance(catPrimary).Opening)
		assert.Equal(t, generic.OpeningOverride, l.OpeningSource)
	})

	t.Run("no previous is zero", func(t *testing.T) {
		l := generic.NewMonthlyLedger(month(time.April), nil, testNow)
		l.SeedFromPrevious(nil, nil)
		assert.Equal(t, generic.OpeningZero, l.OpeningSource)
	})
}

func TestLedger_CarryOpening_OnlyForCarried(t *testing.T) {
	rates := flatRates(month(time.March), "0.1", "5")
	prev := generic.NewMonthlyLedger(month(time.March), nil, testNow)
	_, err := prev.Lift(catPrimary, dec("40"), "", "u1", testNow)
	require.NoError(t, err)
	_, err = prev.Complete(&rates, "u1", "", testNow)
	require.NoError(t, err)

	carried := generic.NewMonthlyLedger(month(time.April), nil, testNow)
	carried.SeedFromPrevious(prev, nil)
	override := generic.NewMonthlyLedger(month(time.April), nil, testNow)
	override.SeedFromPrevious(prev, generic.CategoryAmounts{catPrimary: dec("1")})

	_, err = prev.Lift(catPrimary, dec("10"), "", "u1", testNow)
	require.NoError(t, err)

	assert.True(t, carried.CarryOpening(prev, testNow))
	assertDecimal(t, "50", carried.Balance(catPrimary).Opening)
	assert.False(t, carried.CarryOpening(prev, testNow), "second carry is a no-op")

	assert.False(t, override.CarryOpening(prev, testNow))
	assertDecimal(t, "1", override.Balance(catPrimary).Opening)

	_, err = prev.Reset("u1", "recount", testNow)
	require.NoError(t, err)
	_, err = prev.Lift(catPrimary, dec("7"), "", "u1", testNow)
	require.NoError(t, err)
	assert.False(t, carried.CarryOpening(prev, testNow), "a reset month carries nothing")
	assertDecimal(t, "50", carried.Balance(catPrimary).Opening)
}

func TestLedger_CloneIsDeep(t *testing.T) {
	l := generic.NewMonthlyLedger(month(time.March), nil, testNow)
	c := l.Clone()
	_, err := c.Lift(catPrimary, dec("5"), "", "u1", testNow)
	require.NoError(t, err)
	assertDecimal(t, "0", l.Balance(catPrimary).Lifted)
}
