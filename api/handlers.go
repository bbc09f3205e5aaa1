/*
handlers.go - HTTP API handlers for the monthly ledger engine

PURPOSE:
  Exposes mdm.Service via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the service. No business rule lives here.

ENDPOINTS:
  Periods:
    GET    /api/users/{user}/periods/{year}/{month}          Get or create ledger
    POST   /api/users/{user}/periods                         Open with overrides
    GET    /api/users/{user}/periods/{year}/{month}/rates    Rate table (?fallback=latest)
    PUT    /api/users/{user}/periods/{year}/{month}/rates    Save rate table
    GET    /api/users/{user}/periods/{year}/{month}/records  Daily records
    POST   /api/users/{user}/periods/{year}/{month}/resync   Re-derive balances
    GET    /api/users/{user}/periods/{year}/{month}/reports  Report history
    POST   /api/users/{user}/periods/{year}/{month}/reports  Generate report

  Daily records:
    POST   /api/users/{user}/records        Record a day
    PUT    /api/users/{user}/records/{id}   Edit a day
    DELETE /api/users/{user}/records/{id}   Delete a day

  Ledgers:
    GET    /api/ledgers/{id}
    POST   /api/ledgers/{id}/{lift|arrange|complete|lock|unlock|reset}
    GET    /api/ledgers/{id}/activity

  Reports:
    GET    /api/reports/{id}              409 when stale
    GET    /api/reports/{id}/stale
    POST   /api/reports/{id}/regenerate

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, missing configuration, no usage data
  - 403: Record belongs to another user
  - 404: Ledger, record or report not found
  - 409: Locked ledger, duplicate date, stale report, invalid transition
  - 500: Internal errors

RATE FALLBACK:
  The engine never substitutes another month's rates. A client that wants
  the previous month's table as a starting point asks for it explicitly
  with ?fallback=latest; the substitution is logged at Warn here.

SECURITY NOTE:
  No authentication. The {user} path segment and actor_id are trusted input.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/BilalTali/mdmseva-sub000/factory"
	"github.com/BilalTali/mdmseva-sub000/generic"
	"github.com/BilalTali/mdmseva-sub000/mdm"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service      *mdm.Service
	RatesFactory *factory.RatesFactory

	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler creates a new handler around the service.
func NewHandler(svc *mdm.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		Service:      svc,
		RatesFactory: factory.NewRatesFactory(),
		logger:       logger,
		validate:     validator.New(),
	}
}

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

// GetPeriod returns the month's ledger, seeding it on first access.
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := periodParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	ledger, err := h.Service.GetOrCreatePeriod(r.Context(), period.UserID, period.Month, period.Year)
	if err != nil {
		h.writeServiceError(w, r, "Failed to load period", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(ledger))
}

// OpenPeriod creates a month's ledger with explicit opening overrides.
func (h *Handler) OpenPeriod(w http.ResponseWriter, r *http.Request) {
	var req OpenPeriodRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := mdm.OpenPeriodInput{
		UserID:  generic.UserID(chi.URLParam(r, "user")),
		Year:    req.Year,
		Month:   time.Month(req.Month),
		ActorID: actorOf(r, req.ActorID),
		Notes:   req.Notes,
	}
	if len(req.Opening) > 0 {
		in.Opening = make(generic.CategoryAmounts, len(req.Opening))
		for name, amount := range req.Opening {
			c, ok := generic.LookupCategory(name)
			if !ok {
				writeError(w, http.StatusBadRequest, "Unknown category", fmt.Errorf("category %q", name))
				return
			}
			d, err := decimal.NewFromString(amount)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid opening", err)
				return
			}
			in.Opening[c] = d
		}
	}
	for _, name := range req.Categories {
		c, ok := generic.LookupCategory(name)
		if !ok {
			writeError(w, http.StatusBadRequest, "Unknown category", fmt.Errorf("category %q", name))
			return
		}
		in.Categories = append(in.Categories, c)
	}

	ledger, err := h.Service.OpenPeriod(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, "Failed to open period", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLedgerDTO(ledger))
}

// GetRates returns the period's rate table. With ?fallback=latest and no
// table of its own, the most recent earlier table is returned instead.
func (h *Handler) GetRates(w http.ResponseWriter, r *http.Request) {
	period, err := periodParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	ctx := r.Context()

	rt, err := h.Service.Rates(ctx, period)
	if err != nil {
		h.writeServiceError(w, r, "Failed to load rates", err)
		return
	}
	if rt == nil && r.URL.Query().Get("fallback") == "latest" {
		rt, err = h.Service.LatestRatesBefore(ctx, period)
		if err != nil {
			h.writeServiceError(w, r, "Failed to load rates", err)
			return
		}
		if rt != nil {
			h.logger.Warn("serving earlier rate table",
				slog.String("user", string(period.UserID)),
				slog.String("period", period.Key()),
				slog.String("source_period", rt.Period.Key()))
			w.Header().Set("X-Rates-Source-Period", rt.Period.Key())
		}
	}
	if rt == nil {
		writeError(w, http.StatusNotFound, "Rates not configured", fmt.Errorf("%s: %w", period, generic.ErrLedgerNotConfigured))
		return
	}
	writeJSON(w, http.StatusOK, h.RatesFactory.ToJSON(rt))
}

// SaveRates validates and stores the period's rate table.
func (h *Handler) SaveRates(w http.ResponseWriter, r *http.Request) {
	period, err := periodParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	var req factory.RatesJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	rt, err := h.RatesFactory.FromJSON(period, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rates", err)
		return
	}
	saved, err := h.Service.SaveRates(r.Context(), *rt, actorOf(r, ""))
	if err != nil {
		h.writeServiceError(w, r, "Failed to save rates", err)
		return
	}
	writeJSON(w, http.StatusOK, h.RatesFactory.ToJSON(saved))
}

// ListRecords returns the period's daily records with running balances.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	period, err := periodParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	records, err := h.Service.ListRecords(r.Context(), period)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list records", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(records))
}

// ResyncPeriod re-derives the period's consumption and balances.
func (h *Handler) ResyncPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := periodParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	ledger, err := h.Service.ResyncPeriod(r.Context(), period)
	if err != nil {
		h.writeServiceError(w, r, "Failed to resync period", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(ledger))
}

// =============================================================================
// DAILY RECORD HANDLERS
// =============================================================================

// RecordDailyUsage records one day's served counts.
func (h *Handler) RecordDailyUsage(w http.ResponseWriter, r *http.Request) {
	var req DailyUsageRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	userID := generic.UserID(chi.URLParam(r, "user"))
	rec, err := h.Service.RecordDailyUsage(r.Context(), userID, date, mdm.Usage{
		ServedPrimary: req.ServedPrimary,
		ServedMiddle:  req.ServedMiddle,
		Remarks:       req.Remarks,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to record usage", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordDTO(*rec))
}

// EditDailyUsage changes a record's counts. Only the owning user may edit.
func (h *Handler) EditDailyUsage(w http.ResponseWriter, r *http.Request) {
	var req EditUsageRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := generic.UserID(chi.URLParam(r, "user"))
	id := generic.RecordID(chi.URLParam(r, "id"))

	rec, err := h.Service.EditDailyUsage(r.Context(), actor, id, mdm.Usage{
		ServedPrimary: req.ServedPrimary,
		ServedMiddle:  req.ServedMiddle,
		Remarks:       req.Remarks,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to edit usage", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(*rec))
}

// DeleteDailyUsage removes a record. Only the owning user may delete.
func (h *Handler) DeleteDailyUsage(w http.ResponseWriter, r *http.Request) {
	actor := generic.UserID(chi.URLParam(r, "user"))
	id := generic.RecordID(chi.URLParam(r, "id"))

	if err := h.Service.DeleteDailyUsage(r.Context(), actor, id); err != nil {
		h.writeServiceError(w, r, "Failed to delete usage", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetLedger returns a ledger by id.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	ledger, err := h.Service.GetLedger(r.Context(), ledgerParam(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to load ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(ledger))
}

// LiftStock adds lifted stock to a category.
func (h *Handler) LiftStock(w http.ResponseWriter, r *http.Request) {
	h.stock(w, r, h.Service.LiftStock)
}

// ArrangeStock adds arranged stock to a category.
func (h *Handler) ArrangeStock(w http.ResponseWriter, r *http.Request) {
	h.stock(w, r, h.Service.ArrangeStock)
}

type stockFunc func(ctx context.Context, id generic.LedgerID, c generic.Category, amount decimal.Decimal, notes, actor string) (*generic.MonthlyLedger, error)

func (h *Handler) stock(w http.ResponseWriter, r *http.Request, fn stockFunc) {
	var req StockRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, ok := generic.LookupCategory(req.Category)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown category", fmt.Errorf("category %q", req.Category))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	ledger, err := fn(r.Context(), ledgerParam(r), c, amount, req.Notes, actorOf(r, req.ActorID))
	if err != nil {
		h.writeServiceError(w, r, "Failed to update stock", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(ledger))
}

// CompleteLedger marks the ledger completed.
func (h *Handler) CompleteLedger(w http.ResponseWriter, r *http.Request) {
	req, ok := h.lifecycle(w, r)
	if !ok {
		return
	}
	ledger, err := h.Service.CompleteLedger(r.Context(), ledgerParam(r), actorOf(r, req.ActorID), req.Notes)
	h.writeLedger(w, r, ledger, err)
}

// LockLedger freezes the ledger.
func (h *Handler) LockLedger(w http.ResponseWriter, r *http.Request) {
	req, ok := h.lifecycle(w, r)
	if !ok {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = req.Notes
	}
	ledger, err := h.Service.ToggleLock(r.Context(), ledgerParam(r), true, reason, actorOf(r, req.ActorID))
	h.writeLedger(w, r, ledger, err)
}

// UnlockLedger releases a locked ledger.
func (h *Handler) UnlockLedger(w http.ResponseWriter, r *http.Request) {
	req, ok := h.lifecycle(w, r)
	if !ok {
		return
	}
	ledger, err := h.Service.ToggleLock(r.Context(), ledgerParam(r), false, req.Reason, actorOf(r, req.ActorID))
	h.writeLedger(w, r, ledger, err)
}

// ResetLedger returns the ledger to draft with consumption cleared.
func (h *Handler) ResetLedger(w http.ResponseWriter, r *http.Request) {
	req, ok := h.lifecycle(w, r)
	if !ok {
		return
	}
	ledger, err := h.Service.ResetLedger(r.Context(), ledgerParam(r), actorOf(r, req.ActorID), req.Notes)
	h.writeLedger(w, r, ledger, err)
}

// ListActivity returns the ledger's audit trail.
func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.ListActivity(r.Context(), ledgerParam(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list activity", err)
		return
	}
	dtos := make([]ActivityDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toActivityDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// lifecycle decodes an optional body; an empty body is allowed.
func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request) (LifecycleRequest, bool) {
	var req LifecycleRequest
	if r.ContentLength == 0 {
		return req, true
	}
	return req, h.decode(w, r, &req)
}

func (h *Handler) writeLedger(w http.ResponseWriter, r *http.Request, ledger *generic.MonthlyLedger, err error) {
	if err != nil {
		h.writeServiceError(w, r, "Ledger operation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(ledger))
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// GenerateReport creates a rice or amount report for the period.
func (h *Handler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	period, err := periodParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	var req GenerateReportRequest
	if !h.decode(w, r, &req) {
		return
	}
	kind, _ := generic.ParseReportKind(req.Kind)

	report, err := h.Service.GenerateReport(r.Context(), period, kind, actorOf(r, req.ActorID))
	if err != nil {
		h.writeServiceError(w, r, "Failed to generate report", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReportDTO(report))
}

// ListReports returns the period's report history, superseded included.
// Stale entries carry no totals.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	period, err := periodParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	reports, err := h.Service.ListReports(r.Context(), period)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list reports", err)
		return
	}
	dtos := make([]ReportListingDTO, len(reports))
	for i, l := range reports {
		dtos[i] = toListingDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ViewReport returns the report's totals, or 409 when its source changed.
func (h *Handler) ViewReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.ViewReport(r.Context(), reportParam(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to load report", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// CheckStale reports whether the report must be regenerated.
func (h *Handler) CheckStale(w http.ResponseWriter, r *http.Request) {
	id := reportParam(r)
	stale, err := h.Service.CheckStale(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "Failed to check report", err)
		return
	}
	writeJSON(w, http.StatusOK, StaleDTO{ReportID: string(id), Stale: stale})
}

// RegenerateReport produces a fresh snapshot superseding the given report.
func (h *Handler) RegenerateReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.RegenerateReport(r.Context(), reportParam(r), actorOf(r, ""))
	if err != nil {
		h.writeServiceError(w, r, "Failed to regenerate report", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReportDTO(report))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrUnauthorized):
		return http.StatusForbidden
	case generic.IsConflict(err):
		return http.StatusConflict
	case generic.IsClientError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(message,
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	writeError(w, status, message, err)
}

// decode parses and validates a JSON body, writing 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func periodParam(r *http.Request) (generic.Period, error) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		return generic.Period{}, fmt.Errorf("%w: year %q", generic.ErrInvalidPeriod, chi.URLParam(r, "year"))
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil {
		return generic.Period{}, fmt.Errorf("%w: month %q", generic.ErrInvalidPeriod, chi.URLParam(r, "month"))
	}
	return generic.NewPeriod(generic.UserID(chi.URLParam(r, "user")), year, time.Month(month))
}

func ledgerParam(r *http.Request) generic.LedgerID {
	return generic.LedgerID(chi.URLParam(r, "id"))
}

func reportParam(r *http.Request) generic.ReportID {
	return generic.ReportID(chi.URLParam(r, "id"))
}

// actorOf prefers the body's actor, then the X-Actor-ID header, then the
// path user.
func actorOf(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if v := r.Header.Get("X-Actor-ID"); v != "" {
		return v
	}
	return chi.URLParam(r, "user")
}
