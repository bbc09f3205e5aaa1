package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BilalTali/mdmseva-sub000/generic"
	"github.com/BilalTali/mdmseva-sub000/generic/store"
)

var (
	now    = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	march  = generic.Period{UserID: "s1", Year: 2024, Month: time.March}
	day1   = generic.NewTimePoint(2024, time.March, 1)
	errBoo = errors.New("boom")
)

func record(d generic.TimePoint) generic.DailyRecord {
	return generic.DailyRecord{
		ID:     generic.RecordID(generic.NewID()),
		UserID: "s1",
		Date:   d,
		Served: map[generic.Category]int{"primary": 10},
	}
}

func TestMemory_UniquePeriod(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	require.NoError(t, s.CreateLedger(ctx, generic.NewMonthlyLedger(march, []generic.Category{"primary"}, now)))
	err := s.CreateLedger(ctx, generic.NewMonthlyLedger(march, []generic.Category{"primary"}, now))
	assert.ErrorIs(t, err, generic.ErrPeriodAlreadyExists)
}

func TestMemory_UniqueDate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	first := record(day1)
	require.NoError(t, s.InsertRecord(ctx, first))

	err := s.InsertRecord(ctx, record(day1))
	var dup *generic.DuplicateDateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.Existing)
	assert.ErrorIs(t, err, generic.ErrDuplicateDate)

	// Moving a record onto an occupied date fails and keeps the old index.
	second := record(day1.AddDays(1))
	require.NoError(t, s.InsertRecord(ctx, second))
	moved := second
	moved.Date = day1
	assert.ErrorIs(t, s.UpdateRecord(ctx, moved), generic.ErrDuplicateDate)
	got, err := s.RecordOn(ctx, "s1", day1.AddDays(1))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)
}

func TestMemory_ReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	r := record(day1)
	require.NoError(t, s.InsertRecord(ctx, r))

	got, err := s.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	got.Served["primary"] = 99

	again, err := s.GetRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, again.Served["primary"])
}

func TestMemory_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that writes a ledger, a record and an activity entry
	// WHEN: fn returns an error
	// THEN: None of the writes are visible

	ctx := context.Background()
	s := store.NewMemory()
	l := generic.NewMonthlyLedger(march, []generic.Category{"primary"}, now)

	err := s.WithTx(ctx, func(tx generic.Store) error {
		require.NoError(t, tx.CreateLedger(ctx, l))
		require.NoError(t, tx.InsertRecord(ctx, record(day1)))
		require.NoError(t, tx.AppendActivity(ctx, generic.ActivityEntry{ID: "e1", LedgerID: l.ID, Action: generic.ActionOpen}))
		return errBoo
	})
	assert.ErrorIs(t, err, errBoo)

	got, err := s.GetLedger(ctx, march)
	require.NoError(t, err)
	assert.Nil(t, got)
	recs, err := s.RecordsFrom(ctx, "s1", day1)
	require.NoError(t, err)
	assert.Empty(t, recs)
	entries, err := s.Activity(ctx, l.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemory_WithTx_Commits(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	err := s.WithTx(ctx, func(tx generic.Store) error {
		return tx.InsertRecord(ctx, record(day1))
	})
	require.NoError(t, err)

	recs, err := s.RecordsInRange(ctx, "s1", march.Start(), march.End())
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestMemory_Reports_Supersede(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	old := generic.Report{ID: "r1", Kind: generic.ReportRice, Period: march, GeneratedAt: now}
	fresh := generic.Report{ID: "r2", Kind: generic.ReportRice, Period: march, GeneratedAt: now.Add(time.Hour)}
	require.NoError(t, s.SaveReport(ctx, old))
	require.NoError(t, s.SupersedeReport(ctx, old.ID, fresh.ID))
	require.NoError(t, s.SaveReport(ctx, fresh))

	cur, err := s.CurrentReport(ctx, march, generic.ReportRice)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, fresh.ID, cur.ID)

	all, err := s.ListReports(ctx, march)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, old.ID, all[0].ID)
	require.NotNil(t, all[0].SupersededBy)

	none, err := s.CurrentReport(ctx, march, generic.ReportAmount)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = s.GetReport(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestMemory_LatestRatesBefore(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	jan := generic.Period{UserID: "s1", Year: 2024, Month: time.January}
	feb := jan.Next()
	require.NoError(t, s.SaveRates(ctx, generic.RateTable{Period: jan}))
	require.NoError(t, s.SaveRates(ctx, generic.RateTable{Period: feb}))

	rt, err := s.LatestRatesBefore(ctx, march)
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.Equal(t, feb, rt.Period)

	rt, err = s.LatestRatesBefore(ctx, jan)
	require.NoError(t, err)
	assert.Nil(t, rt)
}
