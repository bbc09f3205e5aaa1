/*
scheduler.go - Periodic ledger resync

PURPOSE:
  Periodically re-derives consumption and running balances for every
  non-locked ledger of the current month. Rate edits, late record edits in
  earlier months and crashed requests all converge on the next tick.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Lists the current month's ledgers across all users
  - Skips Locked ledgers (they are frozen)
  - Hands each period to a Dispatcher: inline (same process) or the job
    queue (jobs.Client), so several servers don't all walk every ledger

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewResyncScheduler(svc, InlineDispatcher{Service: svc}, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ResyncPeriod endpoint (manual resync)
  - jobs/resync.go: queued dispatcher and worker handler
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BilalTali/mdmseva-sub000/generic"
	"github.com/BilalTali/mdmseva-sub000/mdm"
	"github.com/BilalTali/mdmseva-sub000/observability"
)

// Dispatcher hands a period to whatever performs the resync.
type Dispatcher interface {
	DispatchResync(ctx context.Context, period generic.Period) error
}

// InlineDispatcher resyncs in the calling goroutine.
type InlineDispatcher struct {
	Service *mdm.Service
}

// DispatchResync implements Dispatcher.
func (d InlineDispatcher) DispatchResync(ctx context.Context, period generic.Period) error {
	_, err := d.Service.ResyncPeriod(ctx, period)
	return err
}

// LedgerLister is the read side the scheduler needs.
type LedgerLister interface {
	LedgersForMonth(ctx context.Context, year int, month time.Month) ([]*generic.MonthlyLedger, error)
}

// ResyncScheduler periodically dispatches resyncs for the current month.
type ResyncScheduler struct {
	Ledgers       LedgerLister
	Dispatcher    Dispatcher
	CheckInterval time.Duration
	Enabled       bool
	Metrics       *observability.Metrics

	logger *slog.Logger
	now    func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewResyncScheduler creates a new scheduler.
func NewResyncScheduler(ledgers LedgerLister, dispatcher Dispatcher, logger *slog.Logger) *ResyncScheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ResyncScheduler{
		Ledgers:       ledgers,
		Dispatcher:    dispatcher,
		CheckInterval: time.Hour,
		Enabled:       true,
		logger:        logger,
		now:           time.Now,
	}
}

// WithNow overrides the clock used to pick the current month.
func (rs *ResyncScheduler) WithNow(now func() time.Time) {
	rs.now = now
}

// Start begins the scheduler.
func (rs *ResyncScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.logger.Info("resync scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run()

	rs.logger.Info("resync scheduler started", slog.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight pass.
func (rs *ResyncScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil
	rs.logger.Info("resync scheduler stopped")
}

func (rs *ResyncScheduler) run() {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-rs.stop
		cancel()
	}()

	// Run immediately on start
	rs.RunOnce(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.RunOnce(ctx)
		case <-rs.stop:
			return
		}
	}
}

// RunOnce dispatches every non-locked ledger of the current month and
// returns how many were dispatched and skipped.
func (rs *ResyncScheduler) RunOnce(ctx context.Context) (dispatched, skipped int) {
	tracker := rs.Metrics.Track("resync_pass")
	now := rs.now().UTC()
	ledgers, err := rs.Ledgers.LedgersForMonth(ctx, now.Year(), now.Month())
	if err != nil {
		rs.logger.Error("list ledgers for resync", slog.Any("error", err))
		_ = tracker.End(err)
		return 0, 0
	}

	for _, l := range ledgers {
		if l.IsLocked() {
			skipped++
			continue
		}
		if err := rs.Dispatcher.DispatchResync(ctx, l.Period); err != nil {
			rs.logger.Warn("resync dispatch failed",
				slog.String("user", string(l.Period.UserID)),
				slog.String("period", l.Period.Key()),
				slog.Any("error", err))
			continue
		}
		dispatched++
	}

	rs.logger.Info("resync pass complete",
		slog.String("month", now.Format("2006-01")),
		slog.Int("dispatched", dispatched),
		slog.Int("skipped", skipped))
	_ = tracker.End(nil)
	return dispatched, skipped
}
