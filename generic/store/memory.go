// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BilalTali/mdmseva-sub000/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	state *memoryState
}

type memoryState struct {
	ledgers  map[generic.LedgerID]*generic.MonthlyLedger
	byPeriod map[generic.Period]generic.LedgerID
	rates    map[generic.Period]generic.RateTable
	records  map[generic.RecordID]generic.DailyRecord
	byDate   map[dateKey]generic.RecordID
	reports  map[generic.ReportID]generic.Report
	activity map[generic.LedgerID][]generic.ActivityEntry
}

type dateKey struct {
	UserID generic.UserID
	Date   string
}

func NewMemory() *Memory {
	return &Memory{state: newMemoryState()}
}

func newMemoryState() *memoryState {
	return &memoryState{
		ledgers:  make(map[generic.LedgerID]*generic.MonthlyLedger),
		byPeriod: make(map[generic.Period]generic.LedgerID),
		rates:    make(map[generic.Period]generic.RateTable),
		records:  make(map[generic.RecordID]generic.DailyRecord),
		byDate:   make(map[dateKey]generic.RecordID),
		reports:  make(map[generic.ReportID]generic.Report),
		activity: make(map[generic.LedgerID][]generic.ActivityEntry),
	}
}

// clone deep-copies the state for rollback.
func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range s.ledgers {
		c.ledgers[k] = v.Clone()
	}
	for k, v := range s.byPeriod {
		c.byPeriod[k] = v
	}
	for k, v := range s.rates {
		c.rates[k] = v
	}
	for k, v := range s.records {
		c.records[k] = v.Clone()
	}
	for k, v := range s.byDate {
		c.byDate[k] = v
	}
	for k, v := range s.reports {
		c.reports[k] = v
	}
	for k, v := range s.activity {
		c.activity[k] = append([]generic.ActivityEntry(nil), v...)
	}
	return c
}

// read runs fn under the read lock.
func (m *Memory) read(fn func(*memoryState) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.state)
}

// write runs fn under the write lock.
func (m *Memory) write(fn func(*memoryState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

// =============================================================================
// LEDGERS
// =============================================================================

func (m *Memory) CreateLedger(_ context.Context, l *generic.MonthlyLedger) error {
	return m.write(func(s *memoryState) error { return s.createLedger(l) })
}

func (m *Memory) SaveLedger(_ context.Context, l *generic.MonthlyLedger) error {
	return m.write(func(s *memoryState) error { return s.saveLedger(l) })
}

func (m *Memory) GetLedger(_ context.Context, period generic.Period) (l *generic.MonthlyLedger, err error) {
	err = m.read(func(s *memoryState) error { l = s.getLedger(period); return nil })
	return l, err
}

func (m *Memory) GetLedgerByID(_ context.Context, id generic.LedgerID) (l *generic.MonthlyLedger, err error) {
	err = m.read(func(s *memoryState) error { l, err = s.getLedgerByID(id); return err })
	return l, err
}

func (m *Memory) LedgersFrom(_ context.Context, from generic.Period) (ls []*generic.MonthlyLedger, err error) {
	err = m.read(func(s *memoryState) error { ls = s.ledgersFrom(from); return nil })
	return ls, err
}

func (m *Memory) LedgersForMonth(_ context.Context, year int, month time.Month) (ls []*generic.MonthlyLedger, err error) {
	err = m.read(func(s *memoryState) error { ls = s.ledgersForMonth(year, month); return nil })
	return ls, err
}

func (s *memoryState) createLedger(l *generic.MonthlyLedger) error {
	if _, ok := s.byPeriod[l.Period]; ok {
		return generic.ErrPeriodAlreadyExists
	}
	s.ledgers[l.ID] = l.Clone()
	s.byPeriod[l.Period] = l.ID
	return nil
}

func (s *memoryState) saveLedger(l *generic.MonthlyLedger) error {
	if _, ok := s.ledgers[l.ID]; !ok {
		return generic.ErrNotFound
	}
	s.ledgers[l.ID] = l.Clone()
	return nil
}

func (s *memoryState) getLedger(period generic.Period) *generic.MonthlyLedger {
	id, ok := s.byPeriod[period]
	if !ok {
		return nil
	}
	return s.ledgers[id].Clone()
}

func (s *memoryState) getLedgerByID(id generic.LedgerID) (*generic.MonthlyLedger, error) {
	l, ok := s.ledgers[id]
	if !ok {
		return nil, generic.ErrNotFound
	}
	return l.Clone(), nil
}

func (s *memoryState) ledgersFrom(from generic.Period) []*generic.MonthlyLedger {
	var result []*generic.MonthlyLedger
	for p, id := range s.byPeriod {
		if p.UserID == from.UserID && !p.Before(from) {
			result = append(result, s.ledgers[id].Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Period.Before(result[j].Period) })
	return result
}

func (s *memoryState) ledgersForMonth(year int, month time.Month) []*generic.MonthlyLedger {
	var result []*generic.MonthlyLedger
	for p, id := range s.byPeriod {
		if p.Year == year && p.Month == month {
			result = append(result, s.ledgers[id].Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Period.UserID < result[j].Period.UserID })
	return result
}

// =============================================================================
// RATES
// =============================================================================

func (m *Memory) SaveRates(_ context.Context, rt generic.RateTable) error {
	return m.write(func(s *memoryState) error { s.rates[rt.Period] = rt; return nil })
}

func (m *Memory) GetRates(_ context.Context, period generic.Period) (rt *generic.RateTable, err error) {
	err = m.read(func(s *memoryState) error { rt = s.getRates(period); return nil })
	return rt, err
}

func (m *Memory) LatestRatesBefore(_ context.Context, period generic.Period) (rt *generic.RateTable, err error) {
	err = m.read(func(s *memoryState) error { rt = s.latestRatesBefore(period); return nil })
	return rt, err
}

func (s *memoryState) getRates(period generic.Period) *generic.RateTable {
	rt, ok := s.rates[period]
	if !ok {
		return nil
	}
	return &rt
}

func (s *memoryState) latestRatesBefore(period generic.Period) *generic.RateTable {
	var best *generic.RateTable
	for p, rt := range s.rates {
		if p.UserID != period.UserID || !p.Before(period) {
			continue
		}
		if best == nil || best.Period.Before(p) {
			rt := rt
			best = &rt
		}
	}
	return best
}

// =============================================================================
// DAILY RECORDS
// =============================================================================

func (m *Memory) InsertRecord(_ context.Context, r generic.DailyRecord) error {
	return m.write(func(s *memoryState) error { return s.insertRecord(r) })
}

func (m *Memory) UpdateRecord(_ context.Context, r generic.DailyRecord) error {
	return m.write(func(s *memoryState) error { return s.updateRecord(r) })
}

func (m *Memory) DeleteRecord(_ context.Context, id generic.RecordID) error {
	return m.write(func(s *memoryState) error { return s.deleteRecord(id) })
}

func (m *Memory) GetRecord(_ context.Context, id generic.RecordID) (r *generic.DailyRecord, err error) {
	err = m.read(func(s *memoryState) error { r, err = s.getRecord(id); return err })
	return r, err
}

func (m *Memory) RecordOn(_ context.Context, userID generic.UserID, day generic.TimePoint) (r *generic.DailyRecord, err error) {
	err = m.read(func(s *memoryState) error { r = s.recordOn(userID, day); return nil })
	return r, err
}

func (m *Memory) RecordsInRange(_ context.Context, userID generic.UserID, from, to generic.TimePoint) (rs []generic.DailyRecord, err error) {
	err = m.read(func(s *memoryState) error { rs = s.recordsInRange(userID, from, &to); return nil })
	return rs, err
}

func (m *Memory) RecordsFrom(_ context.Context, userID generic.UserID, from generic.TimePoint) (rs []generic.DailyRecord, err error) {
	err = m.read(func(s *memoryState) error { rs = s.recordsInRange(userID, from, nil); return nil })
	return rs, err
}

func (s *memoryState) insertRecord(r generic.DailyRecord) error {
	k := dateKey{UserID: r.UserID, Date: r.Date.String()}
	if existing, ok := s.byDate[k]; ok {
		return &generic.DuplicateDateError{UserID: r.UserID, Date: r.Date, Existing: existing}
	}
	s.records[r.ID] = r.Clone()
	s.byDate[k] = r.ID
	return nil
}

func (s *memoryState) updateRecord(r generic.DailyRecord) error {
	old, ok := s.records[r.ID]
	if !ok {
		return generic.ErrNotFound
	}
	if !old.Date.Equal(r.Date) || old.UserID != r.UserID {
		delete(s.byDate, dateKey{UserID: old.UserID, Date: old.Date.String()})
		if err := s.insertRecord(r); err != nil {
			s.byDate[dateKey{UserID: old.UserID, Date: old.Date.String()}] = old.ID
			return err
		}
		return nil
	}
	s.records[r.ID] = r.Clone()
	return nil
}

func (s *memoryState) deleteRecord(id generic.RecordID) error {
	r, ok := s.records[id]
	if !ok {
		return generic.ErrNotFound
	}
	delete(s.records, id)
	delete(s.byDate, dateKey{UserID: r.UserID, Date: r.Date.String()})
	return nil
}

func (s *memoryState) getRecord(id generic.RecordID) (*generic.DailyRecord, error) {
	r, ok := s.records[id]
	if !ok {
		return nil, generic.ErrNotFound
	}
	c := r.Clone()
	return &c, nil
}

func (s *memoryState) recordOn(userID generic.UserID, day generic.TimePoint) *generic.DailyRecord {
	id, ok := s.byDate[dateKey{UserID: userID, Date: day.String()}]
	if !ok {
		return nil
	}
	c := s.records[id].Clone()
	return &c
}

func (s *memoryState) recordsInRange(userID generic.UserID, from generic.TimePoint, to *generic.TimePoint) []generic.DailyRecord {
	var result []generic.DailyRecord
	for _, r := range s.records {
		if r.UserID != userID || r.Date.Before(from) {
			continue
		}
		if to != nil && r.Date.After(*to) {
			continue
		}
		result = append(result, r.Clone())
	}
	generic.SortRecords(result)
	return result
}

// =============================================================================
// REPORTS
// =============================================================================

func (m *Memory) SaveReport(_ context.Context, r generic.Report) error {
	return m.write(func(s *memoryState) error { s.reports[r.ID] = r; return nil })
}

func (m *Memory) SupersedeReport(_ context.Context, id, by generic.ReportID) error {
	return m.write(func(s *memoryState) error { return s.supersedeReport(id, by) })
}

func (m *Memory) GetReport(_ context.Context, id generic.ReportID) (r *generic.Report, err error) {
	err = m.read(func(s *memoryState) error { r, err = s.getReport(id); return err })
	return r, err
}

func (m *Memory) CurrentReport(_ context.Context, period generic.Period, kind generic.ReportKind) (r *generic.Report, err error) {
	err = m.read(func(s *memoryState) error { r = s.currentReport(period, kind); return nil })
	return r, err
}

func (m *Memory) ListReports(_ context.Context, period generic.Period) (rs []generic.Report, err error) {
	err = m.read(func(s *memoryState) error { rs = s.listReports(period); return nil })
	return rs, err
}

func (s *memoryState) supersedeReport(id, by generic.ReportID) error {
	r, ok := s.reports[id]
	if !ok {
		return generic.ErrNotFound
	}
	r.SupersededBy = &by
	s.reports[id] = r
	return nil
}

func (s *memoryState) getReport(id generic.ReportID) (*generic.Report, error) {
	r, ok := s.reports[id]
	if !ok {
		return nil, generic.ErrNotFound
	}
	return &r, nil
}

func (s *memoryState) currentReport(period generic.Period, kind generic.ReportKind) *generic.Report {
	for _, r := range s.reports {
		if r.Period == period && r.Kind == kind && r.IsCurrent() {
			r := r
			return &r
		}
	}
	return nil
}

func (s *memoryState) listReports(period generic.Period) []generic.Report {
	var result []generic.Report
	for _, r := range s.reports {
		if r.Period == period {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].GeneratedAt.Before(result[j].GeneratedAt) })
	return result
}

// =============================================================================
// ACTIVITY LOG
// =============================================================================

func (m *Memory) AppendActivity(_ context.Context, e generic.ActivityEntry) error {
	return m.write(func(s *memoryState) error { s.activity[e.LedgerID] = append(s.activity[e.LedgerID], e); return nil })
}

func (m *Memory) Activity(_ context.Context, ledgerID generic.LedgerID) (es []generic.ActivityEntry, err error) {
	err = m.read(func(s *memoryState) error {
		es = append([]generic.ActivityEntry(nil), s.activity[ledgerID]...)
		return nil
	})
	return es, err
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so transactions are serial.
func (m *Memory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	view := &txView{state: m.state}

	if err := fn(view); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// txView accesses state directly; the enclosing WithTx holds the lock.
type txView struct {
	state *memoryState
}

func (v *txView) CreateLedger(_ context.Context, l *generic.MonthlyLedger) error {
	return v.state.createLedger(l)
}
func (v *txView) SaveLedger(_ context.Context, l *generic.MonthlyLedger) error {
	return v.state.saveLedger(l)
}
func (v *txView) GetLedger(_ context.Context, p generic.Period) (*generic.MonthlyLedger, error) {
	return v.state.getLedger(p), nil
}
func (v *txView) GetLedgerByID(_ context.Context, id generic.LedgerID) (*generic.MonthlyLedger, error) {
	return v.state.getLedgerByID(id)
}
func (v *txView) LedgersFrom(_ context.Context, from generic.Period) ([]*generic.MonthlyLedger, error) {
	return v.state.ledgersFrom(from), nil
}
func (v *txView) LedgersForMonth(_ context.Context, year int, month time.Month) ([]*generic.MonthlyLedger, error) {
	return v.state.ledgersForMonth(year, month), nil
}
func (v *txView) SaveRates(_ context.Context, rt generic.RateTable) error {
	v.state.rates[rt.Period] = rt
	return nil
}
func (v *txView) GetRates(_ context.Context, p generic.Period) (*generic.RateTable, error) {
	return v.state.getRates(p), nil
}
func (v *txView) LatestRatesBefore(_ context.Context, p generic.Period) (*generic.RateTable, error) {
	return v.state.latestRatesBefore(p), nil
}
func (v *txView) InsertRecord(_ context.Context, r generic.DailyRecord) error {
	return v.state.insertRecord(r)
}
func (v *txView) UpdateRecord(_ context.Context, r generic.DailyRecord) error {
	return v.state.updateRecord(r)
}
func (v *txView) DeleteRecord(_ context.Context, id generic.RecordID) error {
	return v.state.deleteRecord(id)
}
func (v *txView) GetRecord(_ context.Context, id generic.RecordID) (*generic.DailyRecord, error) {
	return v.state.getRecord(id)
}
func (v *txView) RecordOn(_ context.Context, userID generic.UserID, day generic.TimePoint) (*generic.DailyRecord, error) {
	return v.state.recordOn(userID, day), nil
}
func (v *txView) RecordsInRange(_ context.Context, userID generic.UserID, from, to generic.TimePoint) ([]generic.DailyRecord, error) {
	return v.state.recordsInRange(userID, from, &to), nil
}
func (v *txView) RecordsFrom(_ context.Context, userID generic.UserID, from generic.TimePoint) ([]generic.DailyRecord, error) {
	return v.state.recordsInRange(userID, from, nil), nil
}
func (v *txView) SaveReport(_ context.Context, r generic.Report) error {
	v.state.reports[r.ID] = r
	return nil
}
func (v *txView) SupersedeReport(_ context.Context, id, by generic.ReportID) error {
	return v.state.supersedeReport(id, by)
}
func (v *txView) GetReport(_ context.Context, id generic.ReportID) (*generic.Report, error) {
	return v.state.getReport(id)
}
func (v *txView) CurrentReport(_ context.Context, p generic.Period, kind generic.ReportKind) (*generic.Report, error) {
	return v.state.currentReport(p, kind), nil
}
func (v *txView) ListReports(_ context.Context, p generic.Period) ([]generic.Report, error) {
	return v.state.listReports(p), nil
}
func (v *txView) AppendActivity(_ context.Context, e generic.ActivityEntry) error {
	v.state.activity[e.LedgerID] = append(v.state.activity[e.LedgerID], e)
	return nil
}
func (v *txView) Activity(_ context.Context, ledgerID generic.LedgerID) ([]generic.ActivityEntry, error) {
	return append([]generic.ActivityEntry(nil), v.state.activity[ledgerID]...), nil
}

var (
	_ generic.TxStore = (*Memory)(nil)
	_ generic.Store   = (*txView)(nil)
)
