package generic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// =============================================================================
// STALENESS TRACKER - Content fingerprint over a period's daily records
// =============================================================================

// Fingerprint is a deterministic hash over records in canonical (date, id)
// order. Each record contributes its id, date, served counts in category
// order, and derived consumption. The same final set of records always
// yields the same fingerprint, whatever order the edits happened in.
func Fingerprint(records []DailyRecord) string {
	sorted := make([]DailyRecord, len(records))
	copy(sorted, records)
	SortRecords(sorted)

	h := sha256.New()
	var b strings.Builder
	for _, r := range sorted {
		b.Reset()
		b.WriteString(string(r.ID))
		b.WriteByte('|')
		b.WriteString(r.Date.String())
		b.WriteByte('|')
		writeServed(&b, r.Served)
		b.WriteByte('|')
		b.WriteString(Canonical(r.ResourceConsumed))
		b.WriteByte('|')
		b.WriteString(Canonical(r.CostConsumed))
		b.WriteByte('\n')
		h.Write([]byte(b.String()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeServed(b *strings.Builder, served map[Category]int) {
	cs := make([]Category, 0, len(served))
	for c, n := range served {
		if n != 0 {
			cs = append(cs, c)
		}
	}
	SortCategories(cs)
	for i, c := range cs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(c))
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(served[c]))
	}
}

// StalenessTracker compares stored report fingerprints with fresh ones.
// Results are never cached: data may change between two queries.
type StalenessTracker struct {
	Store Store
}

// Fingerprint computes the current fingerprint of a period.
func (st *StalenessTracker) Fingerprint(ctx context.Context, period Period) (string, error) {
	records, err := PeriodRecords(ctx, st.Store, period)
	if err != nil {
		return "", err
	}
	return Fingerprint(records), nil
}

// IsStale reports whether the report's source data changed since
// generation. A report that depends on another report is also stale when
// that report's own comparison is stale; staleness propagates exactly one
// hop. via is set to the dependency when it caused the staleness.
func (st *StalenessTracker) IsStale(ctx context.Context, r *Report) (stale bool, via *ReportID, err error) {
	own, err := st.ownStale(ctx, r)
	if err != nil || own {
		return own, nil, err
	}
	if r.DependsOn == nil {
		return false, nil, nil
	}
	dep, err := st.Store.GetReport(ctx, *r.DependsOn)
	if err != nil {
		return false, nil, err
	}
	depStale, err := st.ownStale(ctx, dep)
	if err != nil {
		return false, nil, err
	}
	if depStale {
		id := dep.ID
		return true, &id, nil
	}
	return false, nil, nil
}

func (st *StalenessTracker) ownStale(ctx context.Context, r *Report) (bool, error) {
	current, err := st.Fingerprint(ctx, r.Period)
	if err != nil {
		return false, err
	}
	return current != r.SourceFingerprint, nil
}
