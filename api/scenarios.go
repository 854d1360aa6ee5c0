/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	licences and billed history. Each scenario sets up a region or billing
	account that demonstrates a specific part of bill run processing.

AVAILABLE SCENARIOS:

	tpt-clean:             One licence whose return fully matches its element
	tpt-review:            A region needing review (ceiling, query, nil return)
	supplementary-history: Billed history for a supplementary re-bill

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create licences via the licence factory
 3. Optionally append previously billed transactions

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "tpt-review"}

	then
	POST /api/bill-runs
	{"region_id": "anglian", "batch_type": "two_part_tariff", "financial_year_ending": 2024}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Bill run endpoints
  - factory/licence.go: Licence JSON schema
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/abstraction-billing/billing"
)

const (
	ScenarioRegion     = "anglian"
	ScenarioYearEnding = 2024

	ScenarioBillingAccount = "BA-1001"
	ScenarioSupLicence     = "lic-sup-1"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "tpt-clean",
		Name:        "Two-Part Tariff: Clean",
		Description: "Spray irrigation licence whose completed return fully matches its charge element",
		Category:    "two_part_tariff",
	},
	{
		ID:          "tpt-review",
		Name:        "Two-Part Tariff: Review",
		Description: "Region with an over-abstracted licence, a return under query and a nil return",
		Category:    "two_part_tariff",
	},
	{
		ID:          "supplementary-history",
		Name:        "Supplementary: Billed History",
		Description: "Billing account billed twice before, with one line already credited",
		Category:    "supplementary",
	},
}

type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var loader func(ctx context.Context) error
	switch req.ScenarioID {
	case "tpt-clean":
		loader = h.loadCleanScenario
	case "tpt-review":
		loader = h.loadReviewScenario
	case "supplementary-history":
		loader = h.loadSupplementaryHistoryScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()

	h.mu.Lock()
	defer h.mu.Unlock()

	// Reset first
	if store, ok := h.Store.(resetter); ok {
		if err := store.Reset(ctx); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
			return
		}
	}
	h.currentScenario = ""

	if err := loader(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadCleanScenario(ctx context.Context) error {
	// 50,000 stored units over the summer = 50 m3 against 100 m3 authorised.
	return h.createLicenceFromJSON(ctx, sprayIrrigationLicenceJSON(
		"lic-clean-1", "7/34/10/*S/0001", "completed", false,
		[]int{20000, 30000},
	))
}

func (h *Handler) loadReviewScenario(ctx context.Context) error {
	licences := []string{
		// 120 m3 reported against 100 m3 authorised: 20 m3 left unallocated.
		sprayIrrigationLicenceJSON("lic-over-1", "7/34/10/*S/0002", "completed", false,
			[]int{60000, 60000}),
		// Under query: matched but never allocated.
		sprayIrrigationLicenceJSON("lic-query-1", "7/34/10/*S/0003", "completed", true,
			[]int{40000}),
		// Still due: disqualified.
		sprayIrrigationLicenceJSON("lic-due-1", "7/34/10/*S/0004", "due", false,
			[]int{10000}),
	}

	for _, doc := range licences {
		if err := h.createLicenceFromJSON(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadSupplementaryHistoryScenario(ctx context.Context) error {
	if err := h.createLicenceFromJSON(ctx, sprayIrrigationLicenceJSON(
		ScenarioSupLicence, "7/34/10/*S/0100", "completed", false, []int{50000},
	)); err != nil {
		return err
	}

	first := scenarioTransaction("sup-tx-1", "bl-annual", false, "4.6.12", 214)
	second := scenarioTransaction("sup-tx-2", "bl-annual", false, "4.6.13", 214)
	// An earlier supplementary run already credited the second line.
	credit := scenarioTransaction("sup-tx-3", "bl-sup-1", true, "4.6.13", 214)

	return h.Store.AppendTransactions(ctx, []billing.Transaction{first, second, credit})
}

func (h *Handler) createLicenceFromJSON(ctx context.Context, jsonStr string) error {
	licence, err := h.LicenceFactory.ParseLicence([]byte(jsonStr))
	if err != nil {
		return err
	}
	return h.Store.SaveLicence(ctx, licence)
}

// sprayIrrigationLicenceJSON builds a licence with one charge element (purpose
// 400, April to October, 100 m3) and one return with a line per quantity.
func sprayIrrigationLicenceJSON(id, ref, returnStatus string, underQuery bool, quantities []int) string {
	type line struct {
		ID        string `json:"id"`
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
		Quantity  int    `json:"quantity"`
	}

	lines := make([]line, len(quantities))
	for i, quantity := range quantities {
		month := 4 + i
		lines[i] = line{
			ID:        fmt.Sprintf("%s-line-%d", id, i+1),
			StartDate: fmt.Sprintf("2023-%02d-01", month),
			EndDate:   fmt.Sprintf("2023-%02d-28", month),
			Quantity:  quantity,
		}
	}
	linesJSON, _ := json.Marshal(lines)

	return fmt.Sprintf(`{
		"licence_id": %q,
		"licence_ref": %q,
		"region_id": %q,
		"start_date": "2015-04-01",
		"charge_versions": [{
			"charge_version_id": "%s-cv-1",
			"start_date": "2023-04-01",
			"status": "current",
			"scheme": "sroc",
			"billing_account_id": %q,
			"charge_references": [{
				"charge_reference_id": "%s-cr-1",
				"description": "Spray irrigation, low loss",
				"charge_category": {"reference": "4.6.12", "subsistence_charge": 68400},
				"volume": 100,
				"charge_elements": [{
					"charge_element_id": "%s-ce-1",
					"description": "Spray irrigation direct",
					"purpose": {"legacy_id": "400", "description": "Spray Irrigation - Direct"},
					"abstraction_period_start_day": 1,
					"abstraction_period_start_month": 4,
					"abstraction_period_end_day": 31,
					"abstraction_period_end_month": 10,
					"authorised_annual_quantity": 100
				}]
			}]
		}],
		"returns": [{
			"return_id": "%s-ret-1",
			"return_reference": "10021668",
			"status": %q,
			"under_query": %t,
			"start_date": "2023-04-01",
			"end_date": "2024-03-31",
			"period_start_day": 1,
			"period_start_month": 4,
			"period_end_day": 31,
			"period_end_month": 10,
			"purposes": [{"tertiary": {"code": "400", "description": "Spray Irrigation - Direct"}}],
			"versions": [{"id": "%s-rv-1", "nil_return": false, "lines": %s}]
		}]
	}`, id, ref, ScenarioRegion, id, ScenarioBillingAccount, id, id, id, returnStatus, underQuery, id, linesJSON)
}

func scenarioTransaction(id, billLicenceID string, credit bool, category string, days int) billing.Transaction {
	return billing.Transaction{
		ID:                  id,
		BillRunID:           "scenario-bill-run",
		BillLicenceID:       billLicenceID,
		BillingAccountID:    ScenarioBillingAccount,
		LicenceID:           ScenarioSupLicence,
		FinancialYearEnding: ScenarioYearEnding,
		Credit:              credit,
		Status:              billing.TransactionCharged,
		Description:         "Water abstraction charge: " + category,
		Volume:              decimal.NewFromInt(50),
		AuthorisedDays:      days,
		ChargeType:          billing.ChargeTypeStandard,
		ChargeCategoryCode:  category,
		BillableDays:        days,
		Section126Factor:    decimal.NewFromInt(1),
		AggregateFactor:     decimal.NewFromInt(1),
		AdjustmentFactor:    decimal.NewFromInt(1),
	}
}
