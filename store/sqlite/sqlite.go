/*
Package sqlite provides a SQLite-backed implementation of generic.TxStore.

PURPOSE:
  Persists monthly ledgers, rate tables, daily records, report snapshots
  and the activity trail. The same schema ports to PostgreSQL with minor
  dialect changes.

INTERFACES IMPLEMENTED:
  generic.LedgerStore: monthly_ledgers
  generic.RateStore:   rate_tables
  generic.DailyStore:  daily_records
  generic.ReportStore: reports
  generic.ActivityLog: activity_log (append-only)
  generic.TxStore:     WithTx over a *sql.Tx

KEY TABLES:
  monthly_ledgers: one row per (user_id, year, month); per-category balances
                   stored as JSON with decimal strings
  rate_tables:     one row per (user_id, year, month)
  daily_records:   one row per (user_id, date)
  reports:         immutable snapshots; only superseded_by is ever updated
  activity_log:    never updated or deleted

UNIQUENESS:
  - UNIQUE(user_id, year, month) on monthly_ledgers -> ErrPeriodAlreadyExists
  - UNIQUE(user_id, date) on daily_records          -> *DuplicateDateError

CONCURRENCY:
  The pool is capped at one connection: SQLite has a single writer, and a
  ":memory:" database exists per connection. Operations issued inside
  WithTx run on the transaction; everything else waits for it.

DECIMALS:
  Stored as TEXT and parsed back with shopspring/decimal. Never REAL.

USAGE:
  store, err := sqlite.New("./data/mdm.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := mdm.NewService(store, nil, logger, mdm.ServiceConfig{})

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/BilalTali/mdmseva-sub000/generic"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements generic.TxStore using SQLite.
type Store struct {
	conn
	db *sql.DB
}

// conn carries every store operation over a querier, so the same code
// serves direct calls and calls inside WithTx.
type conn struct {
	q querier
}

var (
	_ generic.TxStore = (*Store)(nil)
	_ generic.Store   = (*conn)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{conn: conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS monthly_ledgers (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		categories_json TEXT NOT NULL,
		balances_json TEXT NOT NULL,
		state TEXT NOT NULL,
		lock_reason TEXT,
		completed_by TEXT,
		completed_at TEXT,
		opening_source TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(user_id, year, month)
	);

	CREATE INDEX IF NOT EXISTS idx_ledgers_month
		ON monthly_ledgers(year, month);

	CREATE TABLE IF NOT EXISTS rate_tables (
		user_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		rates_json TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, year, month)
	);

	CREATE TABLE IF NOT EXISTS daily_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		served_json TEXT NOT NULL,
		resource_consumed TEXT NOT NULL,
		cost_consumed TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		remarks TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(user_id, date)
	);

	-- Forward walk reads records of one user in date order (hot path)
	CREATE INDEX IF NOT EXISTS idx_records_user_date
		ON daily_records(user_id, date);

	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		user_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		totals_json TEXT NOT NULL,
		ledger_json TEXT NOT NULL,
		record_count INTEGER NOT NULL,
		first_date TEXT,
		last_date TEXT,
		source_fingerprint TEXT NOT NULL,
		depends_on TEXT,
		superseded_by TEXT,
		generated_at TEXT NOT NULL,
		generated_by TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reports_period
		ON reports(user_id, year, month, kind);

	CREATE TABLE IF NOT EXISTS activity_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		ledger_id TEXT NOT NULL,
		action TEXT NOT NULL,
		amounts_json TEXT,
		notes TEXT,
		actor_id TEXT,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activity_ledger
		ON activity_log(ledger_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// LEDGER STORE
// =============================================================================

type balanceRow struct {
	Opening  decimal.Decimal `json:"opening"`
	Lifted   decimal.Decimal `json:"lifted"`
	Arranged decimal.Decimal `json:"arranged"`
	Consumed decimal.Decimal `json:"consumed"`
	Closing  decimal.Decimal `json:"closing"`
}

const ledgerColumns = `id, user_id, year, month, categories_json, balances_json, state,
	lock_reason, completed_by, completed_at, opening_source, created_at, updated_at`

func ledgerArgs(l *generic.MonthlyLedger) ([]any, error) {
	categories, err := json.Marshal(l.Categories)
	if err != nil {
		return nil, err
	}
	rows := make(map[generic.Category]balanceRow, len(l.Balances))
	for c, b := range l.Balances {
		rows[c] = balanceRow(*b)
	}
	balances, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	return []any{
		l.ID, l.Period.UserID, l.Period.Year, int(l.Period.Month),
		string(categories), string(balances), l.State,
		nullString(l.LockReason), nullString(l.CompletedBy), nullTime(l.CompletedAt),
		l.OpeningSource, formatTime(l.CreatedAt), formatTime(l.UpdatedAt),
	}, nil
}

func (c *conn) CreateLedger(ctx context.Context, l *generic.MonthlyLedger) error {
	args, err := ledgerArgs(l)
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	_, err = c.q.ExecContext(ctx,
		`INSERT INTO monthly_ledgers (`+ledgerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", generic.ErrPeriodAlreadyExists, l.Period)
		}
		return fmt.Errorf("failed to create ledger: %w", err)
	}
	return nil
}

func (c *conn) SaveLedger(ctx context.Context, l *generic.MonthlyLedger) error {
	args, err := ledgerArgs(l)
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	res, err := c.q.ExecContext(ctx, `
		UPDATE monthly_ledgers SET
			categories_json = ?, balances_json = ?, state = ?, lock_reason = ?,
			completed_by = ?, completed_at = ?, opening_source = ?, updated_at = ?
		WHERE id = ?`,
		args[4], args[5], args[6], args[7], args[8], args[9], args[10], args[12], l.ID)
	if err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	return requireAffected(res, "ledger "+string(l.ID))
}

func (c *conn) GetLedger(ctx context.Context, period generic.Period) (*generic.MonthlyLedger, error) {
	ls, err := c.queryLedgers(ctx,
		`SELECT `+ledgerColumns+` FROM monthly_ledgers WHERE user_id = ? AND year = ? AND month = ?`,
		period.UserID, period.Year, int(period.Month))
	if err != nil || len(ls) == 0 {
		return nil, err
	}
	return ls[0], nil
}

func (c *conn) GetLedgerByID(ctx context.Context, id generic.LedgerID) (*generic.MonthlyLedger, error) {
	ls, err := c.queryLedgers(ctx, `SELECT `+ledgerColumns+` FROM monthly_ledgers WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(ls) == 0 {
		return nil, fmt.Errorf("ledger %s: %w", id, generic.ErrNotFound)
	}
	return ls[0], nil
}

func (c *conn) LedgersFrom(ctx context.Context, from generic.Period) ([]*generic.MonthlyLedger, error) {
	return c.queryLedgers(ctx, `
		SELECT `+ledgerColumns+` FROM monthly_ledgers
		WHERE user_id = ? AND (year > ? OR (year = ? AND month >= ?))
		ORDER BY year ASC, month ASC`,
		from.UserID, from.Year, from.Year, int(from.Month))
}

func (c *conn) LedgersForMonth(ctx context.Context, year int, month time.Month) ([]*generic.MonthlyLedger, error) {
	return c.queryLedgers(ctx, `
		SELECT `+ledgerColumns+` FROM monthly_ledgers
		WHERE year = ? AND month = ?
		ORDER BY user_id ASC`,
		year, int(month))
}

func (c *conn) queryLedgers(ctx context.Context, query string, args ...any) ([]*generic.MonthlyLedger, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledgers: %w", err)
	}
	defer rows.Close()

	var ledgers []*generic.MonthlyLedger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		ledgers = append(ledgers, l)
	}
	return ledgers, rows.Err()
}

func scanLedger(rows *sql.Rows) (*generic.MonthlyLedger, error) {
	var (
		l                        generic.MonthlyLedger
		month                    int
		categoriesJSON, balances string
		lockReason, completedBy  sql.NullString
		completedAt              sql.NullString
		createdAt, updatedAt     string
	)
	err := rows.Scan(
		&l.ID, &l.Period.UserID, &l.Period.Year, &month, &categoriesJSON, &balances, &l.State,
		&lockReason, &completedBy, &completedAt, &l.OpeningSource, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan ledger: %w", err)
	}
	l.Period.Month = time.Month(month)

	if err := json.Unmarshal([]byte(categoriesJSON), &l.Categories); err != nil {
		return nil, fmt.Errorf("failed to decode ledger categories: %w", err)
	}
	var rowsByCategory map[generic.Category]balanceRow
	if err := json.Unmarshal([]byte(balances), &rowsByCategory); err != nil {
		return nil, fmt.Errorf("failed to decode ledger balances: %w", err)
	}
	l.Balances = make(map[generic.Category]*generic.CategoryBalance, len(rowsByCategory))
	for c, b := range rowsByCategory {
		cb := generic.CategoryBalance(b)
		l.Balances[c] = &cb
	}

	l.LockReason = lockReason.String
	l.CompletedBy = completedBy.String
	l.CompletedAt = parseNullTime(completedAt)
	l.CreatedAt = parseTime(createdAt)
	l.UpdatedAt = parseTime(updatedAt)
	return &l, nil
}

// =============================================================================
// RATE STORE
// =============================================================================

type rateRow struct {
	Consumption decimal.Decimal `json:"consumption"`
	Cost        decimal.Decimal `json:"cost"`
	Components  []componentRow  `json:"components,omitempty"`
}

type componentRow struct {
	Name   string          `json:"name"`
	Rate   decimal.Decimal `json:"rate"`
	Shares []shareRow      `json:"shares,omitempty"`
}

type shareRow struct {
	Name    string          `json:"name"`
	Percent decimal.Decimal `json:"percent"`
}

func (c *conn) SaveRates(ctx context.Context, rt generic.RateTable) error {
	rows := make(map[generic.Category]rateRow, len(rt.Rates))
	for cat, r := range rt.Rates {
		row := rateRow{Consumption: r.Consumption, Cost: r.Cost}
		for _, comp := range r.Components {
			cr := componentRow{Name: comp.Name, Rate: comp.Rate}
			for _, sh := range comp.Shares {
				cr.Shares = append(cr.Shares, shareRow(sh))
			}
			row.Components = append(row.Components, cr)
		}
		rows[cat] = row
	}
	ratesJSON, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode rates: %w", err)
	}

	_, err = c.q.ExecContext(ctx, `
		INSERT INTO rate_tables (user_id, year, month, rates_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, year, month) DO UPDATE SET
			rates_json = excluded.rates_json,
			updated_at = excluded.updated_at`,
		rt.Period.UserID, rt.Period.Year, int(rt.Period.Month), string(ratesJSON), formatTime(rt.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save rates: %w", err)
	}
	return nil
}

func (c *conn) GetRates(ctx context.Context, period generic.Period) (*generic.RateTable, error) {
	return c.queryRates(ctx, `
		SELECT user_id, year, month, rates_json, updated_at FROM rate_tables
		WHERE user_id = ? AND year = ? AND month = ?`,
		period.UserID, period.Year, int(period.Month))
}

func (c *conn) LatestRatesBefore(ctx context.Context, period generic.Period) (*generic.RateTable, error) {
	return c.queryRates(ctx, `
		SELECT user_id, year, month, rates_json, updated_at FROM rate_tables
		WHERE user_id = ? AND (year < ? OR (year = ? AND month < ?))
		ORDER BY year DESC, month DESC
		LIMIT 1`,
		period.UserID, period.Year, period.Year, int(period.Month))
}

func (c *conn) queryRates(ctx context.Context, query string, args ...any) (*generic.RateTable, error) {
	var (
		rt                   generic.RateTable
		month                int
		ratesJSON, updatedAt string
	)
	err := c.q.QueryRowContext(ctx, query, args...).Scan(&rt.Period.UserID, &rt.Period.Year, &month, &ratesJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rates: %w", err)
	}
	rt.Period.Month = time.Month(month)
	rt.UpdatedAt = parseTime(updatedAt)

	var rows map[generic.Category]rateRow
	if err := json.Unmarshal([]byte(ratesJSON), &rows); err != nil {
		return nil, fmt.Errorf("failed to decode rates: %w", err)
	}
	rt.Rates = make(map[generic.Category]generic.CategoryRate, len(rows))
	for cat, row := range rows {
		r := generic.CategoryRate{Consumption: row.Consumption, Cost: row.Cost}
		for _, cr := range row.Components {
			comp := generic.CostComponent{Name: cr.Name, Rate: cr.Rate}
			for _, sh := range cr.Shares {
				comp.Shares = append(comp.Shares, generic.Share(sh))
			}
			r.Components = append(r.Components, comp)
		}
		rt.Rates[cat] = r
	}
	return &rt, nil
}

// =============================================================================
// DAILY STORE
// =============================================================================

const recordColumns = `id, user_id, date, served_json, resource_consumed, cost_consumed,
	balance_after, remarks, created_at, updated_at`

func (c *conn) InsertRecord(ctx context.Context, r generic.DailyRecord) error {
	served, err := json.Marshal(r.Served)
	if err != nil {
		return fmt.Errorf("failed to encode served counts: %w", err)
	}
	_, err = c.q.ExecContext(ctx,
		`INSERT INTO daily_records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Date.String(), string(served),
		r.ResourceConsumed.String(), r.CostConsumed.String(), r.BalanceAfter.String(),
		nullString(r.Remarks), formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return c.duplicateDate(ctx, r)
		}
		return fmt.Errorf("failed to insert daily record: %w", err)
	}
	return nil
}

func (c *conn) UpdateRecord(ctx context.Context, r generic.DailyRecord) error {
	served, err := json.Marshal(r.Served)
	if err != nil {
		return fmt.Errorf("failed to encode served counts: %w", err)
	}
	res, err := c.q.ExecContext(ctx, `
		UPDATE daily_records SET
			user_id = ?, date = ?, served_json = ?, resource_consumed = ?, cost_consumed = ?,
			balance_after = ?, remarks = ?, updated_at = ?
		WHERE id = ?`,
		r.UserID, r.Date.String(), string(served),
		r.ResourceConsumed.String(), r.CostConsumed.String(), r.BalanceAfter.String(),
		nullString(r.Remarks), formatTime(r.UpdatedAt), r.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return c.duplicateDate(ctx, r)
		}
		return fmt.Errorf("failed to update daily record: %w", err)
	}
	return requireAffected(res, "record "+string(r.ID))
}

func (c *conn) duplicateDate(ctx context.Context, r generic.DailyRecord) error {
	dup := &generic.DuplicateDateError{UserID: r.UserID, Date: r.Date}
	if existing, err := c.RecordOn(ctx, r.UserID, r.Date); err == nil && existing != nil {
		dup.Existing = existing.ID
	}
	return dup
}

func (c *conn) DeleteRecord(ctx context.Context, id generic.RecordID) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM daily_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete daily record: %w", err)
	}
	return requireAffected(res, "record "+string(id))
}

func (c *conn) GetRecord(ctx context.Context, id generic.RecordID) (*generic.DailyRecord, error) {
	rs, err := c.queryRecords(ctx, `SELECT `+recordColumns+` FROM daily_records WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, fmt.Errorf("record %s: %w", id, generic.ErrNotFound)
	}
	return &rs[0], nil
}

func (c *conn) RecordOn(ctx context.Context, userID generic.UserID, day generic.TimePoint) (*generic.DailyRecord, error) {
	rs, err := c.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM daily_records WHERE user_id = ? AND date = ?`,
		userID, day.String())
	if err != nil || len(rs) == 0 {
		return nil, err
	}
	return &rs[0], nil
}

func (c *conn) RecordsInRange(ctx context.Context, userID generic.UserID, from, to generic.TimePoint) ([]generic.DailyRecord, error) {
	return c.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM daily_records
		WHERE user_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, id ASC`,
		userID, from.String(), to.String())
}

func (c *conn) RecordsFrom(ctx context.Context, userID generic.UserID, from generic.TimePoint) ([]generic.DailyRecord, error) {
	return c.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM daily_records
		WHERE user_id = ? AND date >= ?
		ORDER BY date ASC, id ASC`,
		userID, from.String())
}

func (c *conn) queryRecords(ctx context.Context, query string, args ...any) ([]generic.DailyRecord, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily records: %w", err)
	}
	defer rows.Close()

	var records []generic.DailyRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (generic.DailyRecord, error) {
	var (
		r                       generic.DailyRecord
		date, served            string
		resource, cost, balance string
		remarks                 sql.NullString
		createdAt, updatedAt    string
	)
	err := rows.Scan(&r.ID, &r.UserID, &date, &served, &resource, &cost, &balance, &remarks, &createdAt, &updatedAt)
	if err != nil {
		return r, fmt.Errorf("failed to scan daily record: %w", err)
	}

	if r.Date, err = generic.ParseDate(date); err != nil {
		return r, fmt.Errorf("failed to parse record date: %w", err)
	}
	if err := json.Unmarshal([]byte(served), &r.Served); err != nil {
		return r, fmt.Errorf("failed to decode served counts: %w", err)
	}
	if r.ResourceConsumed, err = parseDecimal("resource_consumed", resource); err != nil {
		return r, err
	}
	if r.CostConsumed, err = parseDecimal("cost_consumed", cost); err != nil {
		return r, err
	}
	if r.BalanceAfter, err = parseDecimal("balance_after", balance); err != nil {
		return r, err
	}
	r.Remarks = remarks.String
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// =============================================================================
// REPORT STORE
// =============================================================================

const reportColumns = `id, kind, user_id, year, month, totals_json, ledger_json, record_count,
	first_date, last_date, source_fingerprint, depends_on, superseded_by, generated_at, generated_by`

type totalsRow struct {
	Served           int                        `json:"served"`
	ResourceConsumed decimal.Decimal            `json:"resource_consumed"`
	CostConsumed     decimal.Decimal            `json:"cost_consumed"`
	Components       map[string]decimal.Decimal `json:"components,omitempty"`
	Shares           map[string]decimal.Decimal `json:"shares,omitempty"`
}

func (c *conn) SaveReport(ctx context.Context, r generic.Report) error {
	totals := make(map[generic.Category]totalsRow, len(r.Totals))
	for cat, t := range r.Totals {
		totals[cat] = totalsRow(t)
	}
	totalsJSON, err := json.Marshal(totals)
	if err != nil {
		return fmt.Errorf("failed to encode report totals: %w", err)
	}
	balances := make(map[generic.Category]balanceRow, len(r.Ledger))
	for cat, b := range r.Ledger {
		balances[cat] = balanceRow(b)
	}
	ledgerJSON, err := json.Marshal(balances)
	if err != nil {
		return fmt.Errorf("failed to encode report ledger: %w", err)
	}

	_, err = c.q.ExecContext(ctx,
		`INSERT INTO reports (`+reportColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind, r.Period.UserID, r.Period.Year, int(r.Period.Month),
		string(totalsJSON), string(ledgerJSON), r.RecordCount,
		nullDate(r.FirstDate), nullDate(r.LastDate), r.SourceFingerprint,
		nullReportID(r.DependsOn), nullReportID(r.SupersededBy),
		formatTime(r.GeneratedAt), nullString(r.GeneratedBy))
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

func (c *conn) SupersedeReport(ctx context.Context, id, by generic.ReportID) error {
	res, err := c.q.ExecContext(ctx, `UPDATE reports SET superseded_by = ? WHERE id = ?`, by, id)
	if err != nil {
		return fmt.Errorf("failed to supersede report: %w", err)
	}
	return requireAffected(res, "report "+string(id))
}

func (c *conn) GetReport(ctx context.Context, id generic.ReportID) (*generic.Report, error) {
	rs, err := c.queryReports(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, fmt.Errorf("report %s: %w", id, generic.ErrNotFound)
	}
	return &rs[0], nil
}

func (c *conn) CurrentReport(ctx context.Context, period generic.Period, kind generic.ReportKind) (*generic.Report, error) {
	rs, err := c.queryReports(ctx, `
		SELECT `+reportColumns+` FROM reports
		WHERE user_id = ? AND year = ? AND month = ? AND kind = ? AND superseded_by IS NULL
		ORDER BY generated_at DESC
		LIMIT 1`,
		period.UserID, period.Year, int(period.Month), kind)
	if err != nil || len(rs) == 0 {
		return nil, err
	}
	return &rs[0], nil
}

func (c *conn) ListReports(ctx context.Context, period generic.Period) ([]generic.Report, error) {
	return c.queryReports(ctx, `
		SELECT `+reportColumns+` FROM reports
		WHERE user_id = ? AND year = ? AND month = ?
		ORDER BY generated_at ASC, rowid ASC`,
		period.UserID, period.Year, int(period.Month))
}

func (c *conn) queryReports(ctx context.Context, query string, args ...any) ([]generic.Report, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []generic.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func scanReport(rows *sql.Rows) (generic.Report, error) {
	var (
		r                       generic.Report
		month                   int
		totalsJSON, ledgerJSON  string
		firstDate, lastDate     sql.NullString
		dependsOn, supersededBy sql.NullString
		generatedAt             string
		generatedBy             sql.NullString
	)
	err := rows.Scan(&r.ID, &r.Kind, &r.Period.UserID, &r.Period.Year, &month,
		&totalsJSON, &ledgerJSON, &r.RecordCount, &firstDate, &lastDate, &r.SourceFingerprint,
		&dependsOn, &supersededBy, &generatedAt, &generatedBy)
	if err != nil {
		return r, fmt.Errorf("failed to scan report: %w", err)
	}
	r.Period.Month = time.Month(month)

	var totals map[generic.Category]totalsRow
	if err := json.Unmarshal([]byte(totalsJSON), &totals); err != nil {
		return r, fmt.Errorf("failed to decode report totals: %w", err)
	}
	r.Totals = make(map[generic.Category]generic.CategoryTotals, len(totals))
	for cat, t := range totals {
		r.Totals[cat] = generic.CategoryTotals(t)
	}
	var balances map[generic.Category]balanceRow
	if err := json.Unmarshal([]byte(ledgerJSON), &balances); err != nil {
		return r, fmt.Errorf("failed to decode report ledger: %w", err)
	}
	r.Ledger = make(map[generic.Category]generic.CategoryBalance, len(balances))
	for cat, b := range balances {
		r.Ledger[cat] = generic.CategoryBalance(b)
	}

	if firstDate.Valid {
		r.FirstDate, _ = generic.ParseDate(firstDate.String)
	}
	if lastDate.Valid {
		r.LastDate, _ = generic.ParseDate(lastDate.String)
	}
	r.DependsOn = parseNullReportID(dependsOn)
	r.SupersededBy = parseNullReportID(supersededBy)
	r.GeneratedAt = parseTime(generatedAt)
	r.GeneratedBy = generatedBy.String
	return r, nil
}

// =============================================================================
// ACTIVITY LOG (append-only)
// =============================================================================

func (c *conn) AppendActivity(ctx context.Context, e generic.ActivityEntry) error {
	var amounts sql.NullString
	if len(e.Amounts) > 0 {
		raw, err := json.Marshal(e.Amounts)
		if err != nil {
			return fmt.Errorf("failed to encode activity amounts: %w", err)
		}
		amounts = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO activity_log (id, ledger_id, action, amounts_json, notes, actor_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.LedgerID, e.Action, amounts, nullString(e.Notes), nullString(e.ActorID), formatTime(e.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

func (c *conn) Activity(ctx context.Context, ledgerID generic.LedgerID) ([]generic.ActivityEntry, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, ledger_id, action, amounts_json, notes, actor_id, timestamp
		FROM activity_log
		WHERE ledger_id = ?
		ORDER BY seq ASC`, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var entries []generic.ActivityEntry
	for rows.Next() {
		var (
			e                       generic.ActivityEntry
			amounts, notes, actorID sql.NullString
			timestamp               string
		)
		if err := rows.Scan(&e.ID, &e.LedgerID, &e.Action, &amounts, &notes, &actorID, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		if amounts.Valid && amounts.String != "" {
			if err := json.Unmarshal([]byte(amounts.String), &e.Amounts); err != nil {
				return nil, fmt.Errorf("failed to decode activity amounts: %w", err)
			}
		}
		e.Notes = notes.String
		e.ActorID = actorID.String
		e.Timestamp = parseTime(timestamp)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullDate(tp generic.TimePoint) sql.NullString {
	if tp.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.String(), Valid: true}
}

func nullReportID(id *generic.ReportID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func parseNullReportID(s sql.NullString) *generic.ReportID {
	if !s.Valid || s.String == "" {
		return nil
	}
	id := generic.ReportID(s.String)
	return &id
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseDecimal(column, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse %s %q: %w", column, s, err)
	}
	return d, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, generic.ErrNotFound)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
