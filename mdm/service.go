/*
service.go - Meal ledger operations exposed to collaborators

PURPOSE:
  Service is the entry point for the HTTP layer, export jobs and the
  background resync. Every mutation follows the same shape:

    1. acquire the school's lock (generic.Locker)
    2. open a store transaction (TxStore.WithTx)
    3. check the period is not Locked
    4. apply the change and reconcile (generic.ReconciliationEngine)
    5. append an activity entry

  Any error in steps 3-5 rolls the transaction back, so a forward balance
  walk is either fully visible or not at all.

SEE ALSO:
  - reports.go: report generation and staleness checks
  - generic/reconcile.go: the derived-field writer
*/
package mdm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/BilalTali/mdmseva-sub000/generic"
)

// Service orchestrates ledgers, daily records, rates and reports.
type Service struct {
	store    generic.TxStore
	locker   generic.Locker
	engine   *generic.ReconciliationEngine
	tracker  *generic.StalenessTracker
	logger   *slog.Logger
	now      func() time.Time
	lockWait time.Duration
	reports  singleflight.Group
}

// ServiceConfig configures optional behaviour for the service.
type ServiceConfig struct {
	// LockWait bounds how long a mutation waits for the school's lock.
	// Zero waits until the request context is done.
	LockWait time.Duration
}

// NewService wires the store, lock and logger. A nil locker falls back to an
// in-process KeyedMutex; a nil logger discards output.
func NewService(store generic.TxStore, locker generic.Locker, logger *slog.Logger, cfg ServiceConfig) *Service {
	if locker == nil {
		locker = generic.NewKeyedMutex()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	svc := &Service{
		store:    store,
		locker:   locker,
		tracker:  &generic.StalenessTracker{Store: store},
		logger:   logger,
		lockWait: cfg.LockWait,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	svc.engine = &generic.ReconciliationEngine{Now: func() time.Time { return svc.now() }}
	return svc
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// withUserLock runs fn in a transaction while holding the school's lock.
func (s *Service) withUserLock(ctx context.Context, userID generic.UserID, fn func(tx generic.Store) error) error {
	lockCtx := ctx
	if s.lockWait > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.lockWait)
		defer cancel()
	}
	unlock, err := s.locker.Lock(lockCtx, generic.UserLockKey(userID))
	if err != nil {
		return fmt.Errorf("lock %s: %w", userID, err)
	}
	defer unlock()
	return s.store.WithTx(ctx, fn)
}

func lockedErr(l *generic.MonthlyLedger) error {
	return &generic.LedgerError{Err: generic.ErrLedgerLocked, Period: l.Period, Detail: l.LockReason}
}

func notConfiguredErr(period generic.Period, detail string) error {
	return &generic.LedgerError{Err: generic.ErrLedgerNotConfigured, Period: period, Detail: detail}
}

// =============================================================================
// PERIODS
// =============================================================================

// OpenPeriodInput seeds a ledger with explicit opening balances.
type OpenPeriodInput struct {
	UserID     generic.UserID
	Year       int
	Month      time.Month
	Opening    generic.CategoryAmounts
	Categories []generic.Category
	ActorID    string
	Notes      string
}

// GetOrCreatePeriod returns the school's ledger for the month, seeding it
// from the previous month's closing balances on first access.
func (s *Service) GetOrCreatePeriod(ctx context.Context, userID generic.UserID, month time.Month, year int) (*generic.MonthlyLedger, error) {
	period, err := generic.NewPeriod(userID, year, month)
	if err != nil {
		return nil, err
	}
	if l, err := s.store.GetLedger(ctx, period); err != nil || l != nil {
		return l, err
	}

	var ledger *generic.MonthlyLedger
	err = s.withUserLock(ctx, userID, func(tx generic.Store) error {
		var err error
		ledger, err = s.ensureLedger(ctx, tx, period, string(userID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

// OpenPeriod creates a ledger with the given opening overrides. Fails with
// ErrPeriodAlreadyExists when the period already has a ledger.
func (s *Service) OpenPeriod(ctx context.Context, in OpenPeriodInput) (*generic.MonthlyLedger, error) {
	period, err := generic.NewPeriod(in.UserID, in.Year, in.Month)
	if err != nil {
		return nil, err
	}
	for c, v := range in.Opening {
		if v.IsNegative() {
			return nil, &generic.LedgerError{Err: generic.ErrInvalidAmount, Period: period, Category: c, Detail: "opening must not be negative"}
		}
	}

	var ledger *generic.MonthlyLedger
	err = s.withUserLock(ctx, in.UserID, func(tx generic.Store) error {
		existing, err := tx.GetLedger(ctx, period)
		if err != nil {
			return err
		}
		if existing != nil {
			return &generic.LedgerError{Err: generic.ErrPeriodAlreadyExists, Period: period}
		}
		ledger, err = s.seedLedger(ctx, tx, period, in.Categories, in.Opening, in.ActorID, in.Notes)
		if err != nil {
			return err
		}
		// Carried later months follow the new openings.
		_, err = s.engine.Reconcile(ctx, tx, in.UserID, period.Start())
		if err != nil {
			return err
		}
		ledger, err = tx.GetLedger(ctx, period)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("period opened",
		slog.String("user", string(in.UserID)),
		slog.String("period", period.Key()),
		slog.String("opening_source", string(ledger.OpeningSource)))
	return ledger, nil
}

// ensureLedger returns the period's ledger, creating it when absent.
func (s *Service) ensureLedger(ctx context.Context, tx generic.Store, period generic.Period, actor string) (*generic.MonthlyLedger, error) {
	l, err := tx.GetLedger(ctx, period)
	if err != nil || l != nil {
		return l, err
	}
	l, err = s.seedLedger(ctx, tx, period, nil, nil, actor, "")
	if err != nil {
		return nil, err
	}
	s.logger.Info("period seeded",
		slog.String("user", string(period.UserID)),
		slog.String("period", period.Key()),
		slog.String("opening_source", string(l.OpeningSource)))
	return l, nil
}

func (s *Service) seedLedger(ctx context.Context, tx generic.Store, period generic.Period, categories []generic.Category, overrides generic.CategoryAmounts, actor, notes string) (*generic.MonthlyLedger, error) {
	if len(categories) == 0 {
		categories = Categories()
	}
	prev, err := tx.GetLedger(ctx, period.Previous())
	if err != nil {
		return nil, err
	}

	now := s.now()
	l := generic.NewMonthlyLedger(period, categories, now)
	l.SeedFromPrevious(prev, overrides)
	if err := tx.CreateLedger(ctx, l); err != nil {
		return nil, err
	}

	openings := make(generic.CategoryAmounts, len(l.Categories))
	for _, c := range l.Categories {
		openings[c] = l.Balance(c).Opening
	}
	entry := generic.ActivityEntry{
		ID:        generic.EntryID(generic.NewID()),
		LedgerID:  l.ID,
		Action:    generic.ActionOpen,
		Amounts:   openings,
		Notes:     notes,
		ActorID:   actor,
		Timestamp: now,
	}
	if err := tx.AppendActivity(ctx, entry); err != nil {
		return nil, err
	}
	return l, nil
}

// GetLedger returns a ledger by id.
func (s *Service) GetLedger(ctx context.Context, id generic.LedgerID) (*generic.MonthlyLedger, error) {
	return s.store.GetLedgerByID(ctx, id)
}

// LedgersForMonth returns every school's ledger for the month.
func (s *Service) LedgersForMonth(ctx context.Context, year int, month time.Month) ([]*generic.MonthlyLedger, error) {
	return s.store.LedgersForMonth(ctx, year, month)
}

// =============================================================================
// DAILY USAGE
// =============================================================================

// RecordDailyUsage creates the school's record for a date and reconciles
// the ledger and every running balance from that date onwards.
func (s *Service) RecordDailyUsage(ctx context.Context, userID generic.UserID, date generic.TimePoint, u Usage) (*generic.DailyRecord, error) {
	period := generic.PeriodOf(userID, date)
	if err := u.Validate(); err != nil {
		return nil, &generic.LedgerError{Err: err, Period: period, Detail: "served counts must not be negative"}
	}

	var out *generic.DailyRecord
	err := s.withUserLock(ctx, userID, func(tx generic.Store) error {
		ledger, err := s.ensureLedger(ctx, tx, period, string(userID))
		if err != nil {
			return err
		}
		if ledger.IsLocked() {
			return lockedErr(ledger)
		}
		rates, err := tx.GetRates(ctx, period)
		if err != nil {
			return err
		}
		if rates == nil {
			return notConfiguredErr(period, "no rate table for period")
		}

		now := s.now()
		rec := generic.DailyRecord{
			ID:        generic.RecordID(generic.NewID()),
			UserID:    userID,
			Date:      date,
			Served:    u.Served(),
			Remarks:   u.Remarks,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertRecord(ctx, rec); err != nil {
			return err
		}
		out, err = s.reconcileRecord(ctx, tx, ledger, rec.ID, date, string(userID), "recorded "+date.String())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("daily usage recorded",
		slog.String("user", string(userID)),
		slog.String("period", period.Key()),
		slog.String("record", string(out.ID)))
	return out, nil
}

// EditDailyUsage replaces a record's served counts and remarks. Only the
// owning school may edit it.
func (s *Service) EditDailyUsage(ctx context.Context, actor generic.UserID, id generic.RecordID, u Usage) (*generic.DailyRecord, error) {
	owner, err := s.recordOwner(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}

	var out *generic.DailyRecord
	err = s.withUserLock(ctx, owner, func(tx generic.Store) error {
		rec, err := tx.GetRecord(ctx, id)
		if err != nil {
			return err
		}
		ledger, err := s.unlockedLedger(ctx, tx, rec.Period())
		if err != nil {
			return err
		}
		rec.Served = u.Served()
		rec.Remarks = u.Remarks
		rec.UpdatedAt = s.now()
		if err := tx.UpdateRecord(ctx, *rec); err != nil {
			return err
		}
		out, err = s.reconcileRecord(ctx, tx, ledger, id, rec.Date, string(actor), "edited "+rec.Date.String())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("daily usage edited",
		slog.String("user", string(owner)),
		slog.String("record", string(id)))
	return out, nil
}

// DeleteDailyUsage removes a record and re-walks balances from its date.
func (s *Service) DeleteDailyUsage(ctx context.Context, actor generic.UserID, id generic.RecordID) error {
	owner, err := s.recordOwner(ctx, actor, id)
	if err != nil {
		return err
	}

	err = s.withUserLock(ctx, owner, func(tx generic.Store) error {
		rec, err := tx.GetRecord(ctx, id)
		if err != nil {
			return err
		}
		ledger, err := s.unlockedLedger(ctx, tx, rec.Period())
		if err != nil {
			return err
		}
		if err := tx.DeleteRecord(ctx, id); err != nil {
			return err
		}
		if _, err := s.engine.Reconcile(ctx, tx, owner, rec.Date); err != nil {
			return err
		}
		return s.appendEntry(ctx, tx, ledger.ID, generic.ActionEdit, nil, "deleted "+rec.Date.String(), string(actor))
	})
	if err != nil {
		return err
	}
	s.logger.Info("daily usage deleted",
		slog.String("user", string(owner)),
		slog.String("record", string(id)))
	return nil
}

// ListRecords returns the period's records in date order.
func (s *Service) ListRecords(ctx context.Context, period generic.Period) ([]generic.DailyRecord, error) {
	return generic.PeriodRecords(ctx, s.store, period)
}

// GetRecord returns a record by id.
func (s *Service) GetRecord(ctx context.Context, id generic.RecordID) (*generic.DailyRecord, error) {
	return s.store.GetRecord(ctx, id)
}

func (s *Service) recordOwner(ctx context.Context, actor generic.UserID, id generic.RecordID) (generic.UserID, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return "", err
	}
	if rec.UserID != actor {
		return "", fmt.Errorf("record %s: %w", id, generic.ErrUnauthorized)
	}
	return rec.UserID, nil
}

// unlockedLedger loads the period's ledger and rejects Locked periods.
func (s *Service) unlockedLedger(ctx context.Context, tx generic.Store, period generic.Period) (*generic.MonthlyLedger, error) {
	ledger, err := tx.GetLedger(ctx, period)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, notConfiguredErr(period, "no ledger for period")
	}
	if ledger.IsLocked() {
		return nil, lockedErr(ledger)
	}
	return ledger, nil
}

// reconcileRecord runs the forward walk after a record mutation and logs
// the derived consumption in the activity trail.
func (s *Service) reconcileRecord(ctx context.Context, tx generic.Store, ledger *generic.MonthlyLedger, id generic.RecordID, date generic.TimePoint, actor, notes string) (*generic.DailyRecord, error) {
	if _, err := s.engine.Reconcile(ctx, tx, ledger.Period.UserID, date); err != nil {
		return nil, err
	}
	rec, err := tx.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	rates, err := tx.GetRates(ctx, rec.Period())
	if err != nil {
		return nil, err
	}
	amounts, err := rec.ConsumptionBy(rates)
	if err != nil {
		return nil, err
	}
	if err := s.appendEntry(ctx, tx, ledger.ID, generic.ActionEdit, amounts, notes, actor); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) appendEntry(ctx context.Context, tx generic.Store, ledgerID generic.LedgerID, action generic.Action, amounts generic.CategoryAmounts, notes, actor string) error {
	return tx.AppendActivity(ctx, generic.ActivityEntry{
		ID:        generic.EntryID(generic.NewID()),
		LedgerID:  ledgerID,
		Action:    action,
		Amounts:   amounts,
		Notes:     notes,
		ActorID:   actor,
		Timestamp: s.now(),
	})
}

// =============================================================================
// LEDGER LIFECYCLE
// =============================================================================

// ledgerMutation applies a change to a loaded ledger and returns the
// activity entry to append.
type ledgerMutation func(tx generic.Store, l *generic.MonthlyLedger, now time.Time) (generic.ActivityEntry, error)

// mutateLedger loads the ledger under the school's lock, applies fn, saves
// it and appends the entry. When propagate is set, closings are carried
// into later months and running balances re-walked from the period start.
func (s *Service) mutateLedger(ctx context.Context, id generic.LedgerID, propagate bool, fn ledgerMutation) (*generic.MonthlyLedger, error) {
	current, err := s.store.GetLedgerByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var out *generic.MonthlyLedger
	err = s.withUserLock(ctx, current.Period.UserID, func(tx generic.Store) error {
		l, err := tx.GetLedgerByID(ctx, id)
		if err != nil {
			return err
		}
		entry, err := fn(tx, l, s.now())
		if err != nil {
			return err
		}
		if err := tx.SaveLedger(ctx, l); err != nil {
			return err
		}
		if err := tx.AppendActivity(ctx, entry); err != nil {
			return err
		}
		if propagate {
			if _, err := s.engine.CarryForward(ctx, tx, l.Period); err != nil {
				return err
			}
			if _, err := s.engine.RecalculateFrom(ctx, tx, l.Period.UserID, l.Period.Start()); err != nil {
				return err
			}
		}
		out, err = tx.GetLedgerByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LiftStock adds stock lifted from the supplier.
func (s *Service) LiftStock(ctx context.Context, id generic.LedgerID, category generic.Category, amount decimal.Decimal, notes, actor string) (*generic.MonthlyLedger, error) {
	l, err := s.mutateLedger(ctx, id, true, func(_ generic.Store, l *generic.MonthlyLedger, now time.Time) (generic.ActivityEntry, error) {
		return l.Lift(category, amount, notes, actor, now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("stock lifted",
		slog.String("ledger", string(id)),
		slog.String("category", string(category)),
		slog.String("amount", amount.String()))
	return l, nil
}

// ArrangeStock adds stock arranged locally.
func (s *Service) ArrangeStock(ctx context.Context, id generic.LedgerID, category generic.Category, amount decimal.Decimal, notes, actor string) (*generic.MonthlyLedger, error) {
	l, err := s.mutateLedger(ctx, id, true, func(_ generic.Store, l *generic.MonthlyLedger, now time.Time) (generic.ActivityEntry, error) {
		return l.Arrange(category, amount, notes, actor, now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("stock arranged",
		slog.String("ledger", string(id)),
		slog.String("category", string(category)),
		slog.String("amount", amount.String()))
	return l, nil
}

// CompleteLedger moves a Draft ledger to Completed once every category has
// rates. Carried openings of later months pick up the closings.
func (s *Service) CompleteLedger(ctx context.Context, id generic.LedgerID, actorID, notes string) (*generic.MonthlyLedger, error) {
	l, err := s.mutateLedger(ctx, id, true, func(tx generic.Store, l *generic.MonthlyLedger, now time.Time) (generic.ActivityEntry, error) {
		rates, err := tx.GetRates(ctx, l.Period)
		if err != nil {
			return generic.ActivityEntry{}, err
		}
		return l.Complete(rates, actorID, notes, now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("ledger completed", slog.String("ledger", string(id)), slog.String("actor", actorID))
	return l, nil
}

// ToggleLock locks the period with a reason or unlocks it.
func (s *Service) ToggleLock(ctx context.Context, id generic.LedgerID, lock bool, reason, actor string) (*generic.MonthlyLedger, error) {
	l, err := s.mutateLedger(ctx, id, false, func(_ generic.Store, l *generic.MonthlyLedger, now time.Time) (generic.ActivityEntry, error) {
		if lock {
			return l.Lock(reason, actor, now), nil
		}
		return l.Unlock(actor, now), nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("ledger lock toggled",
		slog.String("ledger", string(id)),
		slog.Bool("locked", lock),
		slog.String("reason", reason))
	return l, nil
}

// ResetLedger zeroes consumption and returns the ledger to Draft. The next
// record mutation or resync re-derives consumption.
func (s *Service) ResetLedger(ctx context.Context, id generic.LedgerID, actor, notes string) (*generic.MonthlyLedger, error) {
	l, err := s.mutateLedger(ctx, id, true, func(_ generic.Store, l *generic.MonthlyLedger, now time.Time) (generic.ActivityEntry, error) {
		return l.Reset(actor, notes, now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn("ledger reset", slog.String("ledger", string(id)), slog.String("actor", actor))
	return l, nil
}

// ListActivity returns the ledger's audit trail in append order.
func (s *Service) ListActivity(ctx context.Context, id generic.LedgerID) ([]generic.ActivityEntry, error) {
	if _, err := s.store.GetLedgerByID(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Activity(ctx, id)
}

// =============================================================================
// RATES
// =============================================================================

// SaveRates validates and stores the period's rate table, then re-derives
// consumption for the period. Rates of a Locked period are immutable.
func (s *Service) SaveRates(ctx context.Context, rt generic.RateTable, actor string) (*generic.RateTable, error) {
	if err := rt.Validate(); err != nil {
		return nil, err
	}
	period := rt.Period

	err := s.withUserLock(ctx, period.UserID, func(tx generic.Store) error {
		ledger, err := tx.GetLedger(ctx, period)
		if err != nil {
			return err
		}
		if ledger != nil && ledger.IsLocked() {
			return lockedErr(ledger)
		}
		rt.UpdatedAt = s.now()
		if err := tx.SaveRates(ctx, rt); err != nil {
			return err
		}
		if ledger == nil {
			return nil
		}
		if _, err := s.engine.Reconcile(ctx, tx, period.UserID, period.Start()); err != nil {
			return err
		}
		return s.appendEntry(ctx, tx, ledger.ID, generic.ActionSync, nil, "rates updated", actor)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("rates saved",
		slog.String("user", string(period.UserID)),
		slog.String("period", period.Key()))
	return &rt, nil
}

// Rates returns the period's own rate table. It never substitutes another
// period's table; nil means none is configured.
func (s *Service) Rates(ctx context.Context, period generic.Period) (*generic.RateTable, error) {
	return s.store.GetRates(ctx, period)
}

// LatestRatesBefore returns the most recent earlier table. Callers that
// choose to fall back to it must do so explicitly.
func (s *Service) LatestRatesBefore(ctx context.Context, period generic.Period) (*generic.RateTable, error) {
	return s.store.LatestRatesBefore(ctx, period)
}

// =============================================================================
// RESYNC
// =============================================================================

// ResyncPeriod re-derives consumption and running balances for a period.
// Locked periods are returned untouched.
func (s *Service) ResyncPeriod(ctx context.Context, period generic.Period) (*generic.MonthlyLedger, error) {
	var out *generic.MonthlyLedger
	err := s.withUserLock(ctx, period.UserID, func(tx generic.Store) error {
		ledger, err := tx.GetLedger(ctx, period)
		if err != nil {
			return err
		}
		if ledger == nil {
			return fmt.Errorf("ledger %s: %w", period, generic.ErrNotFound)
		}
		if ledger.IsLocked() {
			out = ledger
			return nil
		}
		if _, err := s.engine.Reconcile(ctx, tx, period.UserID, period.Start()); err != nil {
			return err
		}
		if err := s.appendEntry(ctx, tx, ledger.ID, generic.ActionSync, nil, "resync", "system"); err != nil {
			return err
		}
		out, err = tx.GetLedger(ctx, period)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("period resynced",
		slog.String("user", string(period.UserID)),
		slog.String("period", period.Key()))
	return out, nil
}
