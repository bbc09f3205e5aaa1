/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Ledger:
    LedgerDTO, CategoryBalanceDTO, OpenPeriodRequest, StockRequest,
    LifecycleRequest

  Daily records:
    DailyRecordDTO, DailyUsageRequest

  Reports:
    ReportDTO, CategoryTotalsDTO, GenerateReportRequest, StaleDTO

  Activity:
    ActivityDTO

QUANTITIES:
  Decimal quantities travel as strings ("12.500") so no precision is lost
  in float conversion on either side.

VALIDATION:
  Request structs carry validator/v10 tags. Handlers call decode(), which
  rejects unknown shapes and failed tags with 400 before the service runs.
  Business rules (negative amounts, locked ledgers) stay in the service.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rates.go: RatesJSON, the rate table request/response body
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/BilalTali/mdmseva-sub000/generic"
	"github.com/BilalTali/mdmseva-sub000/mdm"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// OpenPeriodRequest opens a month with optional opening overrides.
type OpenPeriodRequest struct {
	Year       int               `json:"year" validate:"required,gte=1900,lte=9999"`
	Month      int               `json:"month" validate:"required,gte=1,lte=12"`
	Opening    map[string]string `json:"opening,omitempty" validate:"omitempty,dive,keys,required,endkeys,numeric"`
	Categories []string          `json:"categories,omitempty" validate:"omitempty,dive,required"`
	ActorID    string            `json:"actor_id"`
	Notes      string            `json:"notes"`
}

// DailyUsageRequest records or edits one day's served counts.
type DailyUsageRequest struct {
	Date          string `json:"date" validate:"required,datetime=2006-01-02"`
	ServedPrimary int    `json:"served_primary" validate:"gte=0"`
	ServedMiddle  int    `json:"served_middle" validate:"gte=0"`
	Remarks       string `json:"remarks" validate:"max=500"`
}

// EditUsageRequest edits a record's counts. The date is immutable.
type EditUsageRequest struct {
	ServedPrimary int    `json:"served_primary" validate:"gte=0"`
	ServedMiddle  int    `json:"served_middle" validate:"gte=0"`
	Remarks       string `json:"remarks" validate:"max=500"`
}

// StockRequest lifts or arranges stock into a ledger category.
type StockRequest struct {
	Category string `json:"category" validate:"required"`
	Amount   string `json:"amount" validate:"required,numeric"`
	Notes    string `json:"notes"`
	ActorID  string `json:"actor_id"`
}

// LifecycleRequest carries the actor and notes for complete, lock, unlock
// and reset. Reason is used by lock.
type LifecycleRequest struct {
	ActorID string `json:"actor_id"`
	Notes   string `json:"notes"`
	Reason  string `json:"reason"`
}

// GenerateReportRequest requests a rice or amount report.
type GenerateReportRequest struct {
	Kind    string `json:"kind" validate:"required,oneof=rice amount"`
	ActorID string `json:"actor_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// CategoryBalanceDTO is one category's line in a ledger.
type CategoryBalanceDTO struct {
	Opening  string `json:"opening"`
	Lifted   string `json:"lifted"`
	Arranged string `json:"arranged"`
	Consumed string `json:"consumed"`
	Closing  string `json:"closing"`
}

// LedgerDTO represents a monthly ledger in API responses.
type LedgerDTO struct {
	ID            string                        `json:"id"`
	UserID        string                        `json:"user_id"`
	Year          int                           `json:"year"`
	Month         int                           `json:"month"`
	Categories    []string                      `json:"categories"`
	Balances      map[string]CategoryBalanceDTO `json:"balances"`
	State         string                        `json:"state"`
	LockReason    string                        `json:"lock_reason,omitempty"`
	CompletedBy   string                        `json:"completed_by,omitempty"`
	CompletedAt   string                        `json:"completed_at,omitempty"`
	OpeningSource string                        `json:"opening_source"`
	UpdatedAt     string                        `json:"updated_at"`
}

// DailyRecordDTO represents a daily record in API responses.
type DailyRecordDTO struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	Date             string         `json:"date"`
	Served           map[string]int `json:"served"`
	ResourceConsumed string         `json:"resource_consumed"`
	CostConsumed     string         `json:"cost_consumed"`
	BalanceAfter     string         `json:"balance_after"`
	Remarks          string         `json:"remarks,omitempty"`
}

// CategoryTotalsDTO is one category's report totals.
type CategoryTotalsDTO struct {
	Served           int               `json:"served"`
	ResourceConsumed string            `json:"resource_consumed"`
	CostConsumed     string            `json:"cost_consumed"`
	Components       map[string]string `json:"components,omitempty"`
	Shares           map[string]string `json:"shares,omitempty"`
}

// ReportDTO represents a report snapshot in API responses.
type ReportDTO struct {
	ID           string                        `json:"id"`
	Kind         string                        `json:"kind"`
	UserID       string                        `json:"user_id"`
	Year         int                           `json:"year"`
	Month        int                           `json:"month"`
	Totals       map[string]CategoryTotalsDTO  `json:"totals"`
	Ledger       map[string]CategoryBalanceDTO `json:"ledger"`
	RecordCount  int                           `json:"record_count"`
	FirstDate    string                        `json:"first_date"`
	LastDate     string                        `json:"last_date"`
	Fingerprint  string                        `json:"fingerprint"`
	DependsOn    string                        `json:"depends_on,omitempty"`
	SupersededBy string                        `json:"superseded_by,omitempty"`
	GeneratedAt  string                        `json:"generated_at"`
	GeneratedBy  string                        `json:"generated_by,omitempty"`
}

// ReportListingDTO is one entry of a period's report history. Report is
// omitted for stale entries; the client must regenerate instead.
type ReportListingDTO struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	UserID        string     `json:"user_id"`
	Year          int        `json:"year"`
	Month         int        `json:"month"`
	Stale         bool       `json:"stale"`
	ViaDependency string     `json:"via_dependency,omitempty"`
	DependsOn     string     `json:"depends_on,omitempty"`
	SupersededBy  string     `json:"superseded_by,omitempty"`
	GeneratedAt   string     `json:"generated_at"`
	Report        *ReportDTO `json:"report,omitempty"`
}

// StaleDTO answers the stale check.
type StaleDTO struct {
	ReportID string `json:"report_id"`
	Stale    bool   `json:"stale"`
}

// ActivityDTO is one audit entry.
type ActivityDTO struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	Amounts   map[string]string `json:"amounts,omitempty"`
	Notes     string            `json:"notes,omitempty"`
	ActorID   string            `json:"actor_id,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// ErrorResponse is returned for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toBalanceDTO(b generic.CategoryBalance) CategoryBalanceDTO {
	return CategoryBalanceDTO{
		Opening:  b.Opening.String(),
		Lifted:   b.Lifted.String(),
		Arranged: b.Arranged.String(),
		Consumed: b.Consumed.String(),
		Closing:  b.Closing.String(),
	}
}

func toLedgerDTO(l *generic.MonthlyLedger) LedgerDTO {
	dto := LedgerDTO{
		ID:            string(l.ID),
		UserID:        string(l.Period.UserID),
		Year:          l.Period.Year,
		Month:         int(l.Period.Month),
		Categories:    make([]string, 0, len(l.Categories)),
		Balances:      make(map[string]CategoryBalanceDTO, len(l.Balances)),
		State:         string(l.State),
		LockReason:    l.LockReason,
		CompletedBy:   l.CompletedBy,
		OpeningSource: string(l.OpeningSource),
		UpdatedAt:     l.UpdatedAt.Format(time.RFC3339),
	}
	for _, c := range l.Categories {
		dto.Categories = append(dto.Categories, string(c))
	}
	for c, b := range l.Balances {
		dto.Balances[string(c)] = toBalanceDTO(*b)
	}
	if l.CompletedAt != nil {
		dto.CompletedAt = l.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

func toRecordDTO(r generic.DailyRecord) DailyRecordDTO {
	served := make(map[string]int, len(r.Served))
	for c, n := range r.Served {
		served[string(c)] = n
	}
	return DailyRecordDTO{
		ID:               string(r.ID),
		UserID:           string(r.UserID),
		Date:             r.Date.String(),
		Served:           served,
		ResourceConsumed: r.ResourceConsumed.String(),
		CostConsumed:     r.CostConsumed.String(),
		BalanceAfter:     r.BalanceAfter.String(),
		Remarks:          r.Remarks,
	}
}

func toRecordDTOs(records []generic.DailyRecord) []DailyRecordDTO {
	dtos := make([]DailyRecordDTO, len(records))
	for i, r := range records {
		dtos[i] = toRecordDTO(r)
	}
	return dtos
}

func stringMap(m map[string]decimal.Decimal) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}

func toReportDTO(r *generic.Report) ReportDTO {
	dto := ReportDTO{
		ID:          string(r.ID),
		Kind:        string(r.Kind),
		UserID:      string(r.Period.UserID),
		Year:        r.Period.Year,
		Month:       int(r.Period.Month),
		Totals:      make(map[string]CategoryTotalsDTO, len(r.Totals)),
		Ledger:      make(map[string]CategoryBalanceDTO, len(r.Ledger)),
		RecordCount: r.RecordCount,
		FirstDate:   r.FirstDate.String(),
		LastDate:    r.LastDate.String(),
		Fingerprint: r.SourceFingerprint,
		GeneratedAt: r.GeneratedAt.Format(time.RFC3339),
		GeneratedBy: r.GeneratedBy,
	}
	for c, t := range r.Totals {
		dto.Totals[string(c)] = CategoryTotalsDTO{
			Served:           t.Served,
			ResourceConsumed: t.ResourceConsumed.String(),
			CostConsumed:     t.CostConsumed.String(),
			Components:       stringMap(t.Components),
			Shares:           stringMap(t.Shares),
		}
	}
	for c, b := range r.Ledger {
		dto.Ledger[string(c)] = toBalanceDTO(b)
	}
	if r.DependsOn != nil {
		dto.DependsOn = string(*r.DependsOn)
	}
	if r.SupersededBy != nil {
		dto.SupersededBy = string(*r.SupersededBy)
	}
	return dto
}

func toListingDTO(l mdm.ReportListing) ReportListingDTO {
	dto := ReportListingDTO{
		ID:          string(l.ID),
		Kind:        string(l.Kind),
		UserID:      string(l.Period.UserID),
		Year:        l.Period.Year,
		Month:       int(l.Period.Month),
		Stale:       l.Stale,
		GeneratedAt: l.GeneratedAt.Format(time.RFC3339),
	}
	if l.ViaDependency != nil {
		dto.ViaDependency = string(*l.ViaDependency)
	}
	if l.DependsOn != nil {
		dto.DependsOn = string(*l.DependsOn)
	}
	if l.SupersededBy != nil {
		dto.SupersededBy = string(*l.SupersededBy)
	}
	if l.Report != nil {
		report := toReportDTO(l.Report)
		dto.Report = &report
	}
	return dto
}

func toActivityDTO(e generic.ActivityEntry) ActivityDTO {
	var amounts map[string]string
	if len(e.Amounts) > 0 {
		amounts = make(map[string]string, len(e.Amounts))
		for c, v := range e.Amounts {
			amounts[string(c)] = v.String()
		}
	}
	return ActivityDTO{
		ID:        string(e.ID),
		Action:    string(e.Action),
		Amounts:   amounts,
		Notes:     e.Notes,
		ActorID:   e.ActorID,
		Timestamp: e.Timestamp.Format(time.RFC3339),
	}
}
