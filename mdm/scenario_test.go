package mdm_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BilalTali/mdmseva-sub000/generic"
	"github.com/BilalTali/mdmseva-sub000/mdm"
)

// =============================================================================
// END TO END SCENARIOS
// =============================================================================

func TestScenario_March2024(t *testing.T) {
	// GIVEN: March 2024 opens with 100 kg primary and 50 kg is lifted
	// WHEN: Days 1 and 2 are recorded, then day 1 is edited down
	// THEN: Running balances are re-walked from day 1 onwards

	ctx := context.Background()
	svc, s := newService(t)
	l := openMonth(t, svc, time.March, "100")
	_, err := svc.LiftStock(ctx, l.ID, mdm.CategoryPrimary, dec("50"), "", "u1")
	require.NoError(t, err)

	d1 := record(t, svc, day(time.March, 1), 20, 0)
	assertDecimal(t, "2", d1.ResourceConsumed)
	assertDecimal(t, "148", d1.BalanceAfter)

	d2 := record(t, svc, day(time.March, 2), 30, 0)
	assertDecimal(t, "145", d2.BalanceAfter)

	edited, err := svc.EditDailyUsage(ctx, school, d1.ID, mdm.Usage{ServedPrimary: 10, Remarks: "recount"})
	require.NoError(t, err)
	assertDecimal(t, "149", edited.BalanceAfter)
	assert.Equal(t, "recount", edited.Remarks)
	assertDecimal(t, "146", recordOn(t, s, day(time.March, 2)).BalanceAfter)

	got := ledger(t, svc, l.ID)
	assertDecimal(t, "4", got.Balance(mdm.CategoryPrimary).Consumed)
	assertDecimal(t, "146", got.Balance(mdm.CategoryPrimary).Closing)

	records, err := svc.ListRecords(ctx, periodOf(time.March))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].Date.Before(records[1].Date))
}

func TestScenario_OutOfOrderInsert(t *testing.T) {
	// GIVEN: Records for days 10 and 20
	// WHEN: Day 5 is inserted afterwards
	// THEN: Days 10 and 20 are re-walked from day 5's balance

	svc, s := newService(t)
	openMonth(t, svc, time.March, "100")
	record(t, svc, day(time.March, 10), 10, 0)
	record(t, svc, day(time.March, 20), 10, 0)
	assertDecimal(t, "98", recordOn(t, s, day(time.March, 20)).BalanceAfter)

	d5 := record(t, svc, day(time.March, 5), 50, 0)

	assertDecimal(t, "95", d5.BalanceAfter)
	assertDecimal(t, "94", recordOn(t, s, day(time.March, 10)).BalanceAfter)
	assertDecimal(t, "93", recordOn(t, s, day(time.March, 20)).BalanceAfter)
}

// =============================================================================
// REPORTS
// =============================================================================

// completedMonth opens March, records two days and completes the ledger.
func completedMonth(t *testing.T, svc *mdm.Service) *generic.MonthlyLedger {
	t.Helper()
	l := openMonth(t, svc, time.March, "100")
	record(t, svc, day(time.March, 1), 20, 0)
	record(t, svc, day(time.March, 2), 0, 10)
	done, err := svc.CompleteLedger(context.Background(), l.ID, "u1", "")
	require.NoError(t, err)
	return done
}

func TestGenerateReport_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("no ledger", func(t *testing.T) {
		svc, _ := newService(t)
		_, err := svc.GenerateReport(ctx, periodOf(time.June), generic.ReportRice, "u1")
		assert.ErrorIs(t, err, generic.ErrLedgerNotConfigured)
	})

	t.Run("draft ledger", func(t *testing.T) {
		svc, _ := newService(t)
		openMonth(t, svc, time.March, "100")
		record(t, svc, day(time.March, 1), 20, 0)
		_, err := svc.GenerateReport(ctx, periodOf(time.March), generic.ReportRice, "u1")
		assert.ErrorIs(t, err, generic.ErrLedgerNotConfigured)
	})

	t.Run("no records", func(t *testing.T) {
		svc, _ := newService(t)
		l := openMonth(t, svc, time.March, "100")
		_, err := svc.CompleteLedger(ctx, l.ID, "u1", "")
		require.NoError(t, err)
		_, err = svc.GenerateReport(ctx, periodOf(time.March), generic.ReportRice, "u1")
		assert.ErrorIs(t, err, generic.ErrNoUsageData)
	})

	t.Run("locked after completion", func(t *testing.T) {
		svc, _ := newService(t)
		l := completedMonth(t, svc)
		_, err := svc.ToggleLock(ctx, l.ID, true, "audit", "u1")
		require.NoError(t, err)
		_, err = svc.GenerateReport(ctx, periodOf(time.March), generic.ReportRice, "u1")
		assert.NoError(t, err)
	})
}

func TestGenerateReport_Totals(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	completedMonth(t, svc)

	r, err := svc.GenerateReport(ctx, periodOf(time.March), generic.ReportAmount, "u1")
	require.NoError(t, err)

	assert.Equal(t, 2, r.RecordCount)
	assert.Equal(t, 20, r.Totals[mdm.CategoryPrimary].Served)
	assertDecimal(t, "2", r.Totals[mdm.CategoryPrimary].ResourceConsumed)
	assertDecimal(t, "1.5", r.Totals[mdm.CategoryMiddle].ResourceConsumed)
	resource, cost := r.GrandTotals()
	assertDecimal(t, "3.5", resource)
	assertDecimal(t, "190.7", cost)
	assert.Nil(t, r.DependsOn, "no rice report exists yet")
	assert.Equal(t, fixedNow, r.GeneratedAt)
}

func TestReport_StalenessRoundTrip(t *testing.T) {
	// GIVEN: A freshly generated rice report
	// WHEN: A record is inserted, edited or deleted
	// THEN: The report turns stale, cannot be viewed, and regeneration
	//       produces a fresh report that supersedes it

	ctx := context.Background()
	tests := []struct {
		name   string
		mutate func(t *testing.T, svc *mdm.Service, d1 generic.DailyRecord)
	}{
		{name: "insert", mutate: func(t *testing.T, svc *mdm.Service, _ generic.DailyRecord) {
			record(t, svc, day(time.March, 3), 5, 0)
		}},
		{name: "edit", mutate: func(t *testing.T, svc *mdm.Service, d1 generic.DailyRecord) {
			_, err := svc.EditDailyUsage(ctx, school, d1.ID, mdm.Usage{ServedPrimary: 21})
			require.NoError(t, err)
		}},
		{name: "delete", mutate: func(t *testing.T, svc *mdm.Service, d1 generic.DailyRecord) {
			require.NoError(t, svc.DeleteDailyUsage(ctx, school, d1.ID))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, s := newService(t)
			completedMonth(t, svc)
			d1 := recordOn(t, s, day(time.March, 1))

			report, err := svc.GenerateReport(ctx, periodOf(time.March), generic.ReportRice, "u1")
			require.NoError(t, err)
			stale, err := svc.CheckStale(ctx, report.ID)
			require.NoError(t, err)
			assert.False(t, stale)
			_, err = svc.ViewReport(ctx, report.ID)
			require.NoError(t, err)

			tt.mutate(t, svc, d1)

			stale, err = svc.CheckStale(ctx, report.ID)
			require.NoError(t, err)
			assert.True(t, stale)

			_, err = svc.ViewReport(ctx, report.ID)
			var staleErr *generic.StaleReportError
			require.ErrorAs(t, err, &staleErr)
			assert.ErrorIs(t, err, generic.ErrReportStale)
			assert.Equal(t, report.ID, staleErr.ReportID)
			assert.Nil(t, staleErr.ViaDependency)

			listed, err := svc.ListReports(ctx, periodOf(time.March))
			require.NoError(t, err)
			require.Len(t, listed, 1)
			assert.Equal(t, report.ID, listed[0].ID)
			assert.True(t, listed[0].Stale)
			assert.Nil(t, listed[0].Report, "stale totals are withheld from the history")

			fresh, err := svc.RegenerateReport(ctx, report.ID, "u1")
			require.NoError(t, err)
			assert.NotEqual(t, report.ID, fresh.ID)
			stale, err = svc.CheckStale(ctx, fresh.ID)
			require.NoError(t, err)
			assert.False(t, stale)

			all, err := svc.ListReports(ctx, periodOf(time.March))
			require.NoError(t, err)
			require.Len(t, all, 2)
			for _, r := range all {
				if r.ID == report.ID {
					require.NotNil(t, r.SupersededBy)
					assert.Equal(t, fresh.ID, *r.SupersededBy)
					assert.True(t, r.Stale)
					assert.Nil(t, r.Report)
				} else {
					assert.True(t, r.IsCurrent())
					assert.False(t, r.Stale)
					require.NotNil(t, r.Report)
					assert.Equal(t, fresh.RecordCount, r.Report.RecordCount)
				}
			}
		})
	}
}

func TestReport_AmountDependsOnRice(t *testing.T) {
	// GIVEN: A rice report and an amount report generated from it
	// WHEN: Usage data changes
	// THEN: The amount report is stale until the rice report and then the
	//       amount report are regenerated

	ctx := context.Background()
	svc, _ := newService(t)
	completedMonth(t, svc)

	rice, err := svc.GenerateReport(ctx, periodOf(time.March), generic.ReportRice, "u1")
	require.NoError(t, err)
	amount, err := svc.GenerateReport(ctx, periodOf(time.March), generic.ReportAmount, "u1")
	require.NoError(t, err)
	require.NotNil(t, amount.DependsOn)
	assert.Equal(t, rice.ID, *amount.DependsOn)

	record(t, svc, day(time.March, 4), 10, 10)

	stale, err := svc.CheckStale(ctx, amount.ID)
	require.NoError(t, err)
	assert.True(t, stale)

	rice2, err := svc.RegenerateReport(ctx, rice.ID, "u1")
	require.NoError(t, err)
	amount2, err := svc.RegenerateReport(ctx, amount.ID, "u1")
	require.NoError(t, err)
	require.NotNil(t, amount2.DependsOn)
	assert.Equal(t, rice2.ID, *amount2.DependsOn)

	stale, err = svc.CheckStale(ctx, amount2.ID)
	require.NoError(t, err)
	assert.False(t, stale)

	_, err = svc.ViewReport(ctx, amount2.ID)
	assert.NoError(t, err)
}

func TestGenerateReport_ConcurrentCallsKeepOneCurrent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	completedMonth(t, svc)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.GenerateReport(ctx, periodOf(time.March), generic.ReportRice, "u1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := svc.ListReports(ctx, periodOf(time.March))
	require.NoError(t, err)
	current := 0
	for _, r := range all {
		if r.IsCurrent() {
			current++
		}
	}
	assert.Equal(t, 1, current)
}

func TestGenerateReport_AttributesEachActor(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	completedMonth(t, svc)

	actors := []string{"clerk", "head"}
	got := make([]*generic.Report, len(actors))
	var wg sync.WaitGroup
	for i, actor := range actors {
		wg.Add(1)
		go func(i int, actor string) {
			defer wg.Done()
			r, err := svc.GenerateReport(ctx, periodOf(time.March), generic.ReportRice, actor)
			assert.NoError(t, err)
			got[i] = r
		}(i, actor)
	}
	wg.Wait()

	for i, actor := range actors {
		require.NotNil(t, got[i])
		assert.Equal(t, actor, got[i].GeneratedBy)
	}
}

func TestGenerateReport_CancelledCallerDoesNotAbortGeneration(t *testing.T) {
	svc, _ := newService(t)
	completedMonth(t, svc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.GenerateReport(ctx, periodOf(time.March), generic.ReportRice, "u1")
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}

	assert.Eventually(t, func() bool {
		all, err := svc.ListReports(context.Background(), periodOf(time.March))
		return err == nil && len(all) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestViewReport_NotFound(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.ViewReport(context.Background(), "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}
