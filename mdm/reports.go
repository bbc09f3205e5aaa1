package mdm

import (
	"context"
	"log/slog"
	"time"

	"github.com/BilalTali/mdmseva-sub000/generic"
)

// =============================================================================
// REPORTS - Rice and amount snapshots with staleness checks
// =============================================================================

// GenerateReport materializes a snapshot of the period and supersedes the
// previous current report of the same kind. Amount reports depend on the
// period's current rice report when there is one. Concurrent calls by the
// same actor for the same period and kind share one generation, which runs
// to completion even if the caller that started it goes away.
func (s *Service) GenerateReport(ctx context.Context, period generic.Period, kind generic.ReportKind, actor string) (*generic.Report, error) {
	key := string(kind) + ":" + period.String() + ":" + actor
	shared := context.WithoutCancel(ctx)
	ch := s.reports.DoChan(key, func() (interface{}, error) {
		return s.generate(shared, period, kind, actor)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*generic.Report), nil
	}
}

func (s *Service) generate(ctx context.Context, period generic.Period, kind generic.ReportKind, actor string) (*generic.Report, error) {
	var out *generic.Report
	err := s.withUserLock(ctx, period.UserID, func(tx generic.Store) error {
		ledger, err := tx.GetLedger(ctx, period)
		if err != nil {
			return err
		}
		if ledger == nil {
			return notConfiguredErr(period, "no ledger for period")
		}
		rates, err := tx.GetRates(ctx, period)
		if err != nil {
			return err
		}
		records, err := generic.PeriodRecords(ctx, tx, period)
		if err != nil {
			return err
		}

		var dependsOn *generic.ReportID
		if kind == generic.ReportAmount {
			rice, err := tx.CurrentReport(ctx, period, generic.ReportRice)
			if err != nil {
				return err
			}
			if rice != nil {
				id := rice.ID
				dependsOn = &id
			}
		}

		report, err := generic.BuildReport(generic.ReportInput{
			Kind:        kind,
			Ledger:      ledger,
			Records:     records,
			Rates:       rates,
			DependsOn:   dependsOn,
			GeneratedBy: actor,
			Now:         s.now(),
		})
		if err != nil {
			return err
		}

		previous, err := tx.CurrentReport(ctx, period, kind)
		if err != nil {
			return err
		}
		if previous != nil {
			if err := tx.SupersedeReport(ctx, previous.ID, report.ID); err != nil {
				return err
			}
		}
		if err := tx.SaveReport(ctx, report); err != nil {
			return err
		}
		out = &report
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("report generated",
		slog.String("user", string(period.UserID)),
		slog.String("period", period.Key()),
		slog.String("kind", string(kind)),
		slog.String("report", string(out.ID)))
	return out, nil
}

// RegenerateReport produces a fresh snapshot for the report's period and
// kind. The old report stays retrievable but is no longer current.
func (s *Service) RegenerateReport(ctx context.Context, id generic.ReportID, actor string) (*generic.Report, error) {
	old, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.GenerateReport(ctx, old.Period, old.Kind, actor)
}

// CheckStale reports whether the report's source data, or that of the report
// it depends on, changed since generation. Recomputed on every call.
func (s *Service) CheckStale(ctx context.Context, id generic.ReportID) (bool, error) {
	report, err := s.store.GetReport(ctx, id)
	if err != nil {
		return false, err
	}
	stale, _, err := s.tracker.IsStale(ctx, report)
	return stale, err
}

// ViewReport returns the report only when it is not stale. A stale report
// yields *generic.StaleReportError and no totals.
func (s *Service) ViewReport(ctx context.Context, id generic.ReportID) (*generic.Report, error) {
	report, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	stale, via, err := s.tracker.IsStale(ctx, report)
	if err != nil {
		return nil, err
	}
	if stale {
		return nil, &generic.StaleReportError{
			ReportID:      report.ID,
			Period:        report.Period,
			Kind:          report.Kind,
			ViaDependency: via,
		}
	}
	return report, nil
}

// ReportListing is one entry of a period's report history. Report is nil
// when the snapshot is stale, so its stored totals never leave the service.
type ReportListing struct {
	ID            generic.ReportID
	Kind          generic.ReportKind
	Period        generic.Period
	DependsOn     *generic.ReportID
	SupersededBy  *generic.ReportID
	GeneratedAt   time.Time
	Stale         bool
	ViaDependency *generic.ReportID
	Report        *generic.Report
}

// IsCurrent reports whether the listed report has not been superseded.
func (l ReportListing) IsCurrent() bool { return l.SupersededBy == nil }

// ListReports returns every report of the period, superseded ones included.
// Each entry is checked for staleness.
func (s *Service) ListReports(ctx context.Context, period generic.Period) ([]ReportListing, error) {
	reports, err := s.store.ListReports(ctx, period)
	if err != nil {
		return nil, err
	}
	out := make([]ReportListing, len(reports))
	for i := range reports {
		r := &reports[i]
		stale, via, err := s.tracker.IsStale(ctx, r)
		if err != nil {
			return nil, err
		}
		out[i] = ReportListing{
			ID:            r.ID,
			Kind:          r.Kind,
			Period:        r.Period,
			DependsOn:     r.DependsOn,
			SupersededBy:  r.SupersededBy,
			GeneratedAt:   r.GeneratedAt,
			Stale:         stale,
			ViaDependency: via,
		}
		if !stale {
			out[i].Report = r
		}
	}
	return out, nil
}
