/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate a school's months with
	realistic data for testing and demos. Each scenario opens ledgers,
	configures rates, records served counts and walks the lifecycle to show
	a specific feature.

AVAILABLE SCENARIOS:

	fresh-month:    Current month opened with standard rates, no records
	march-2024:     A month of daily records plus a mid-month lift
	carry-forward:  February completed, March seeded from its closings
	locked-month:   January completed and locked for audit

HOW SCENARIOS WORK:
 1. Open the period(s) with opening stock
 2. Save the standard rate tables via the factory
 3. Record daily usage
 4. Optionally lift stock, complete or lock

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "march-2024", "user_id": "demo-school"}

NOTE:

	Scenarios never delete data. Loading one twice for the same user fails
	with 409 because the period already exists; pick another user_id.

SEE ALSO:
  - mdm/presets.go: standard rate presets
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BilalTali/mdmseva-sub000/generic"
	"github.com/BilalTali/mdmseva-sub000/mdm"
)

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario and the school to load it for.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
	UserID     string `json:"user_id"`
}

// LoadScenarioResponse lists the ledgers the scenario touched.
type LoadScenarioResponse struct {
	ScenarioID string      `json:"scenario_id"`
	UserID     string      `json:"user_id"`
	Ledgers    []LedgerDTO `json:"ledgers"`
}

const defaultDemoUser = "demo-school"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-month",
		Name:        "Fresh Month",
		Description: "Current month opened with standard rates and no records",
	},
	{
		ID:          "march-2024",
		Name:        "March 2024",
		Description: "Five school days of served counts with a mid-month lift",
	},
	{
		ID:          "carry-forward",
		Name:        "Carry Forward",
		Description: "February completed, March opening carried from its closing",
	},
	{
		ID:          "locked-month",
		Name:        "Locked Month",
		Description: "January completed and locked; every mutation is rejected",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler, user generic.UserID) ([]*generic.MonthlyLedger, error)

var scenarioLoaders = map[string]scenarioLoader{
	"fresh-month":   loadFreshMonthScenario,
	"march-2024":    loadMarchScenario,
	"carry-forward": loadCarryForwardScenario,
	"locked-month":  loadLockedMonthScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a scenario for a school.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}
	user := generic.UserID(req.UserID)
	if user == "" {
		user = defaultDemoUser
	}

	ledgers, err := load(r.Context(), h, user)
	if err != nil {
		h.writeServiceError(w, r, "Failed to load scenario", err)
		return
	}

	resp := LoadScenarioResponse{ScenarioID: req.ScenarioID, UserID: string(user)}
	for _, l := range ledgers {
		resp.Ledgers = append(resp.Ledgers, toLedgerDTO(l))
	}
	writeJSON(w, http.StatusCreated, resp)
}

// =============================================================================
// LOADERS
// =============================================================================

func loadFreshMonthScenario(ctx context.Context, h *Handler, user generic.UserID) ([]*generic.MonthlyLedger, error) {
	now := time.Now().UTC()
	l, err := h.openWithRates(ctx, user, now.Year(), now.Month(), "100", "60")
	if err != nil {
		return nil, err
	}
	return []*generic.MonthlyLedger{l}, nil
}

func loadMarchScenario(ctx context.Context, h *Handler, user generic.UserID) ([]*generic.MonthlyLedger, error) {
	l, err := h.openWithRates(ctx, user, 2024, time.March, "150", "80")
	if err != nil {
		return nil, err
	}
	if err := h.recordDays(ctx, user, 2024, time.March, 1, 5, 120, 80); err != nil {
		return nil, err
	}
	l, err = h.Service.LiftStock(ctx, l.ID, mdm.CategoryPrimary, decimal.NewFromInt(20), "mid-month lift", "scenario")
	if err != nil {
		return nil, err
	}
	return []*generic.MonthlyLedger{l}, nil
}

func loadCarryForwardScenario(ctx context.Context, h *Handler, user generic.UserID) ([]*generic.MonthlyLedger, error) {
	feb, err := h.openWithRates(ctx, user, 2024, time.February, "100", "50")
	if err != nil {
		return nil, err
	}
	if err := h.recordDays(ctx, user, 2024, time.February, 1, 3, 100, 60); err != nil {
		return nil, err
	}
	feb, err = h.Service.CompleteLedger(ctx, feb.ID, "scenario", "month closed")
	if err != nil {
		return nil, err
	}

	mar, err := h.Service.GetOrCreatePeriod(ctx, user, time.March, 2024)
	if err != nil {
		return nil, err
	}
	if err := h.saveStandardRates(ctx, user, 2024, time.March); err != nil {
		return nil, err
	}
	return []*generic.MonthlyLedger{feb, mar}, nil
}

func loadLockedMonthScenario(ctx context.Context, h *Handler, user generic.UserID) ([]*generic.MonthlyLedger, error) {
	l, err := h.openWithRates(ctx, user, 2024, time.January, "120", "40")
	if err != nil {
		return nil, err
	}
	if err := h.recordDays(ctx, user, 2024, time.January, 2, 4, 90, 50); err != nil {
		return nil, err
	}
	if _, err := h.Service.CompleteLedger(ctx, l.ID, "scenario", "month closed"); err != nil {
		return nil, err
	}
	l, err = h.Service.ToggleLock(ctx, l.ID, true, "audit", "scenario")
	if err != nil {
		return nil, err
	}
	return []*generic.MonthlyLedger{l}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) openWithRates(ctx context.Context, user generic.UserID, year int, month time.Month, primary, middle string) (*generic.MonthlyLedger, error) {
	l, err := h.Service.OpenPeriod(ctx, mdm.OpenPeriodInput{
		UserID: user,
		Year:   year,
		Month:  month,
		Opening: generic.CategoryAmounts{
			mdm.CategoryPrimary: decimal.RequireFromString(primary),
			mdm.CategoryMiddle:  decimal.RequireFromString(middle),
		},
		ActorID: "scenario",
		Notes:   "demo opening",
	})
	if err != nil {
		return nil, err
	}
	if err := h.saveStandardRates(ctx, user, year, month); err != nil {
		return nil, err
	}
	return h.Service.GetLedger(ctx, l.ID)
}

func (h *Handler) saveStandardRates(ctx context.Context, user generic.UserID, year int, month time.Month) error {
	period, err := generic.NewPeriod(user, year, month)
	if err != nil {
		return err
	}
	rt, err := h.RatesFactory.ParseRates(period, mdm.StandardRatesJSON())
	if err != nil {
		return err
	}
	_, err = h.Service.SaveRates(ctx, *rt, "scenario")
	return err
}

// recordDays records the same counts for each day in [from, to].
func (h *Handler) recordDays(ctx context.Context, user generic.UserID, year int, month time.Month, from, to, primary, middle int) error {
	for d := from; d <= to; d++ {
		_, err := h.Service.RecordDailyUsage(ctx, user, generic.NewTimePoint(year, month, d), mdm.Usage{
			ServedPrimary: primary,
			ServedMiddle:  middle,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
