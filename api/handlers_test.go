/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Period opening, rates and daily record entry through the router
- Error status mapping (400/403/404/409)
- Explicit rate fallback
- Report generation, staleness and regeneration
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BilalTali/mdmseva-sub000/generic/store"
	"github.com/BilalTali/mdmseva-sub000/mdm"
	"github.com/BilalTali/mdmseva-sub000/observability"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const school = "school-1"

func newTestRouter(t *testing.T) (http.Handler, *Handler) {
	t.Helper()
	svc := mdm.NewService(store.NewMemory(), nil, nil, mdm.ServiceConfig{LockWait: time.Second})
	svc.WithNow(func() time.Time { return time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC) })
	h := NewHandler(svc, nil)
	return NewRouter(h, RouterConfig{}), h
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func assertDecimalString(t *testing.T, want, got string) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(decimal.RequireFromString(got)), "want %s, got %s", want, got)
}

// openMarch opens March 2024 with 100 kg primary stock and standard rates.
func openMarch(t *testing.T, router http.Handler) LedgerDTO {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/users/"+school+"/periods", OpenPeriodRequest{
		Year:    2024,
		Month:   3,
		Opening: map[string]string{"primary": "100", "middle": "0"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ledger := decodeBody[LedgerDTO](t, rec)

	rec = do(t, router, http.MethodPut, "/api/users/"+school+"/periods/2024/3/rates", mdm.StandardRatesJSON())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return ledger
}

func recordDay(t *testing.T, router http.Handler, date string, primary, middle int) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, router, http.MethodPost, "/api/users/"+school+"/records", DailyUsageRequest{
		Date:          date,
		ServedPrimary: primary,
		ServedMiddle:  middle,
	})
}

// =============================================================================
// PERIOD AND RECORD TESTS
// =============================================================================

func TestAPI_RecordAndList(t *testing.T) {
	// GIVEN: March opened with 100 kg and standard rates
	// WHEN: Recording two days
	// THEN: Records carry consumption and running balances

	router, _ := newTestRouter(t)
	ledger := openMarch(t, router)
	assert.Equal(t, "override", ledger.OpeningSource)

	rec := recordDay(t, router, "2024-03-01", 20, 0)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeBody[DailyRecordDTO](t, rec)
	assertDecimalString(t, "2", first.ResourceConsumed)
	assertDecimalString(t, "98", first.BalanceAfter)

	rec = recordDay(t, router, "2024-03-02", 10, 0)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/users/"+school+"/periods/2024/3/records", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records := decodeBody[[]DailyRecordDTO](t, rec)
	require.Len(t, records, 2)
	assert.Equal(t, "2024-03-01", records[0].Date)
	assertDecimalString(t, "97", records[1].BalanceAfter)

	rec = do(t, router, http.MethodGet, "/api/users/"+school+"/periods/2024/3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[LedgerDTO](t, rec)
	assertDecimalString(t, "3", got.Balances["primary"].Consumed)
	assertDecimalString(t, "97", got.Balances["primary"].Closing)
}

func TestAPI_OpenPeriodTwiceConflicts(t *testing.T) {
	router, _ := newTestRouter(t)
	openMarch(t, router)

	rec := do(t, router, http.MethodPost, "/api/users/"+school+"/periods", OpenPeriodRequest{Year: 2024, Month: 3})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_ErrorStatuses(t *testing.T) {
	router, _ := newTestRouter(t)
	openMarch(t, router)
	rec := recordDay(t, router, "2024-03-01", 20, 0)
	require.Equal(t, http.StatusCreated, rec.Code)
	recordID := decodeBody[DailyRecordDTO](t, rec).ID

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "duplicate date", method: http.MethodPost, path: "/api/users/" + school + "/records",
			body: DailyUsageRequest{Date: "2024-03-01", ServedPrimary: 5}, want: http.StatusConflict},
		{name: "negative served", method: http.MethodPost, path: "/api/users/" + school + "/records",
			body: map[string]any{"date": "2024-03-02", "served_primary": -1}, want: http.StatusBadRequest},
		{name: "malformed date", method: http.MethodPost, path: "/api/users/" + school + "/records",
			body: DailyUsageRequest{Date: "03/02/2024"}, want: http.StatusBadRequest},
		{name: "no rates", method: http.MethodPost, path: "/api/users/" + school + "/records",
			body: DailyUsageRequest{Date: "2024-04-02", ServedPrimary: 5}, want: http.StatusBadRequest},
		{name: "invalid month", method: http.MethodGet, path: "/api/users/" + school + "/periods/2024/13",
			want: http.StatusBadRequest},
		{name: "other user edits", method: http.MethodPut, path: "/api/users/school-2/records/" + recordID,
			body: EditUsageRequest{ServedPrimary: 1}, want: http.StatusForbidden},
		{name: "unknown record", method: http.MethodDelete, path: "/api/users/" + school + "/records/missing",
			want: http.StatusNotFound},
		{name: "unknown ledger", method: http.MethodGet, path: "/api/ledgers/missing", want: http.StatusNotFound},
		{name: "unknown report", method: http.MethodGet, path: "/api/reports/missing", want: http.StatusNotFound},
		{name: "unknown category", method: http.MethodPost, path: "/api/users/" + school + "/periods",
			body: OpenPeriodRequest{Year: 2024, Month: 5, Opening: map[string]string{"secondary": "1"}}, want: http.StatusBadRequest},
		{name: "invalid rates", method: http.MethodPut, path: "/api/users/" + school + "/periods/2024/3/rates",
			body: `{"categories":{"primary":{"consumption":"0.1","cost":"5","components":[{"name":"fuel","rate":"1"}]}}}`,
			want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if rec.Code >= 400 {
				resp := decodeBody[ErrorResponse](t, rec)
				assert.NotEmpty(t, resp.Error)
			}
		})
	}
}

func TestAPI_EditAndDeleteRecord(t *testing.T) {
	router, _ := newTestRouter(t)
	openMarch(t, router)
	rec := recordDay(t, router, "2024-03-01", 20, 0)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody[DailyRecordDTO](t, rec).ID

	rec = do(t, router, http.MethodPut, "/api/users/"+school+"/records/"+id, EditUsageRequest{ServedPrimary: 30})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decodeBody[DailyRecordDTO](t, rec)
	assertDecimalString(t, "97", edited.BalanceAfter)

	rec = do(t, router, http.MethodDelete, "/api/users/"+school+"/records/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/users/"+school+"/periods/2024/3", nil)
	got := decodeBody[LedgerDTO](t, rec)
	assertDecimalString(t, "100", got.Balances["primary"].Closing)
}

// =============================================================================
// LEDGER LIFECYCLE TESTS
// =============================================================================

func TestAPI_LockBlocksRecordEntry(t *testing.T) {
	// GIVEN: A locked March ledger
	// WHEN: Recording a day, then unlocking and retrying
	// THEN: 409 while locked, 201 after unlock

	router, _ := newTestRouter(t)
	ledger := openMarch(t, router)

	rec := do(t, router, http.MethodPost, "/api/ledgers/"+ledger.ID+"/lock", LifecycleRequest{Reason: "audit"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	locked := decodeBody[LedgerDTO](t, rec)
	assert.Equal(t, "locked", locked.State)
	assert.Equal(t, "audit", locked.LockReason)

	rec = recordDay(t, router, "2024-03-01", 20, 0)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPut, "/api/users/"+school+"/periods/2024/3/rates", mdm.StandardRatesJSON())
	assert.Equal(t, http.StatusConflict, rec.Code, "rates are frozen while locked")

	rec = do(t, router, http.MethodPost, "/api/ledgers/"+ledger.ID+"/unlock", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "draft", decodeBody[LedgerDTO](t, rec).State)

	rec = recordDay(t, router, "2024-03-01", 20, 0)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAPI_LiftAndActivity(t *testing.T) {
	router, _ := newTestRouter(t)
	ledger := openMarch(t, router)

	rec := do(t, router, http.MethodPost, "/api/ledgers/"+ledger.ID+"/lift", StockRequest{
		Category: "primary", Amount: "25.5", Notes: "truck", ActorID: "officer-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	lifted := decodeBody[LedgerDTO](t, rec)
	assertDecimalString(t, "25.5", lifted.Balances["primary"].Lifted)
	assertDecimalString(t, "125.5", lifted.Balances["primary"].Closing)

	rec = do(t, router, http.MethodPost, "/api/ledgers/"+ledger.ID+"/arrange", StockRequest{
		Category: "primary", Amount: "-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/ledgers/"+ledger.ID+"/activity", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]ActivityDTO](t, rec)
	var lift *ActivityDTO
	for i := range entries {
		if entries[i].Action == "lift" {
			lift = &entries[i]
		}
	}
	require.NotNil(t, lift)
	assert.Equal(t, "officer-1", lift.ActorID)
	assertDecimalString(t, "25.5", lift.Amounts["primary"])
}

func TestAPI_CompleteAndReset(t *testing.T) {
	router, _ := newTestRouter(t)
	ledger := openMarch(t, router)
	require.Equal(t, http.StatusCreated, recordDay(t, router, "2024-03-01", 20, 0).Code)

	rec := do(t, router, http.MethodPost, "/api/ledgers/"+ledger.ID+"/complete", LifecycleRequest{ActorID: "head"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decodeBody[LedgerDTO](t, rec)
	assert.Equal(t, "completed", done.State)
	assert.Equal(t, "head", done.CompletedBy)

	rec = do(t, router, http.MethodPost, "/api/ledgers/"+ledger.ID+"/complete", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "already completed")

	rec = do(t, router, http.MethodPost, "/api/ledgers/"+ledger.ID+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reset := decodeBody[LedgerDTO](t, rec)
	assert.Equal(t, "draft", reset.State)
	assertDecimalString(t, "0", reset.Balances["primary"].Consumed)

	rec = do(t, router, http.MethodPost, "/api/users/"+school+"/periods/2024/3/resync", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertDecimalString(t, "2", decodeBody[LedgerDTO](t, rec).Balances["primary"].Consumed)
}

// =============================================================================
// RATES TESTS
// =============================================================================

func TestAPI_RatesFallbackIsExplicit(t *testing.T) {
	// GIVEN: February has rates, March has none
	// WHEN: Reading March rates with and without ?fallback=latest
	// THEN: 404 without, February's table with the source header when asked

	router, _ := newTestRouter(t)
	rec := do(t, router, http.MethodPut, "/api/users/"+school+"/periods/2024/2/rates", mdm.StandardRatesJSON())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/users/"+school+"/periods/2024/3/rates", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/users/"+school+"/periods/2024/3/rates?fallback=latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2024-02", rec.Header().Get("X-Rates-Source-Period"))
	assert.Contains(t, rec.Body.String(), `"primary"`)

	rec = do(t, router, http.MethodGet, "/api/users/"+school+"/periods/2024/2/rates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Rates-Source-Period"))
}

// =============================================================================
// REPORT TESTS
// =============================================================================

func TestAPI_ReportStalenessRoundTrip(t *testing.T) {
	// GIVEN: A completed March with one record and a rice report
	// WHEN: A record is added after generation
	// THEN: Viewing returns 409 until the report is regenerated

	router, _ := newTestRouter(t)
	ledger := openMarch(t, router)
	require.Equal(t, http.StatusCreated, recordDay(t, router, "2024-03-01", 20, 10).Code)
	require.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/api/ledgers/"+ledger.ID+"/complete", nil).Code)

	rec := do(t, router, http.MethodPost, "/api/users/"+school+"/periods/2024/3/reports", GenerateReportRequest{Kind: "rice"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	report := decodeBody[ReportDTO](t, rec)
	assert.Equal(t, 1, report.RecordCount)
	assert.Equal(t, 20, report.Totals["primary"].Served)
	assertDecimalString(t, "1.5", report.Totals["middle"].ResourceConsumed)

	rec = do(t, router, http.MethodGet, "/api/reports/"+report.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusCreated, recordDay(t, router, "2024-03-04", 5, 0).Code)

	rec = do(t, router, http.MethodGet, "/api/reports/"+report.ID+"/stale", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[StaleDTO](t, rec).Stale)

	rec = do(t, router, http.MethodGet, "/api/reports/"+report.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.True(t, strings.Contains(decodeBody[ErrorResponse](t, rec).Details, "stale"))

	rec = do(t, router, http.MethodGet, "/api/users/"+school+"/periods/2024/3/reports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[[]ReportListingDTO](t, rec)
	require.Len(t, listed, 1)
	assert.True(t, listed[0].Stale)
	assert.Nil(t, listed[0].Report)
	assert.NotContains(t, rec.Body.String(), "totals")

	rec = do(t, router, http.MethodPost, "/api/reports/"+report.ID+"/regenerate", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	fresh := decodeBody[ReportDTO](t, rec)
	assert.Equal(t, 2, fresh.RecordCount)

	rec = do(t, router, http.MethodGet, "/api/users/"+school+"/periods/2024/3/reports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[[]ReportListingDTO](t, rec)
	require.Len(t, history, 2)
	for _, r := range history {
		if r.ID == report.ID {
			assert.Equal(t, fresh.ID, r.SupersededBy)
			assert.True(t, r.Stale)
			assert.Nil(t, r.Report)
		} else {
			assert.False(t, r.Stale)
			require.NotNil(t, r.Report)
			assert.Equal(t, 2, r.Report.RecordCount)
		}
	}
}

func TestAPI_ReportRequiresCompletedLedger(t *testing.T) {
	router, _ := newTestRouter(t)
	openMarch(t, router)
	require.Equal(t, http.StatusCreated, recordDay(t, router, "2024-03-01", 20, 0).Code)

	rec := do(t, router, http.MethodPost, "/api/users/"+school+"/periods/2024/3/reports", GenerateReportRequest{Kind: "rice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/users/"+school+"/periods/2024/3/reports", GenerateReportRequest{Kind: "wheat"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Healthz(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := do(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestAPI_RateLimit(t *testing.T) {
	svc := mdm.NewService(store.NewMemory(), nil, nil, mdm.ServiceConfig{LockWait: time.Second})
	router := NewRouter(NewHandler(svc, nil), RouterConfig{RateLimitPerMin: 2})

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = do(t, router, http.MethodGet, "/api/scenarios", nil).Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestAPI_MetricsEndpoint(t *testing.T) {
	svc := mdm.NewService(store.NewMemory(), nil, nil, mdm.ServiceConfig{LockWait: time.Second})
	var router http.Handler = NewRouter(NewHandler(svc, nil), RouterConfig{Metrics: observability.NewMetrics()})

	require.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/api/scenarios", nil).Code)
	require.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/ledgers/missing", nil).Code)

	rec := do(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `mdm_http_requests_total{code="200",route="/api/scenarios`)
	assert.Contains(t, body, `mdm_http_requests_total{code="404",route="/api/ledgers/{id}`)
	assert.NotContains(t, body, "missing")

	// Without a registry the endpoint is not mounted.
	router, _ = newTestRouter(t)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/metrics", nil).Code)
}
