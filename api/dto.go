/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Licence documents use
  the factory schema on the way in; responses carry the domain graph with
  its allocation fields so a reviewer can follow every allocation.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers
  - *DTO: Small response items

TYPES:
  Charge periods:
    ChargePeriodRequest, ChargePeriodResponse, ChargeVersionPeriodDTO

  Two-part tariff:
    AllocateRequest, AllocateResponse

  Supplementary:
    ReconcileRequest, ReconcileResponse, SupplementaryRequest

  Bill runs:
    CreateBillRunRequest, BillRunResponse

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and the factory, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/licence.go: LicenceJSON schema
*/
package api

import (
	"fmt"

	"github.com/warp/abstraction-billing/billing"
	"github.com/warp/abstraction-billing/billrun"
	"github.com/warp/abstraction-billing/factory"
	"github.com/warp/abstraction-billing/generic"
	"github.com/warp/abstraction-billing/twopart"
)

// =============================================================================
// SHARED
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// PeriodRequest is a date range in YYYY-MM-DD form.
type PeriodRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Period parses and validates the range.
func (p PeriodRequest) Period() (generic.Period, error) {
	start, err := generic.ParseDate(p.StartDate)
	if err != nil {
		return generic.Period{}, fmt.Errorf("%w: start_date: %v", generic.ErrInvalidPeriod, err)
	}
	end, err := generic.ParseDate(p.EndDate)
	if err != nil {
		return generic.Period{}, fmt.Errorf("%w: end_date: %v", generic.ErrInvalidPeriod, err)
	}
	if start.IsZero() || end.IsZero() {
		return generic.Period{}, fmt.Errorf("%w: start_date and end_date are required", generic.ErrInvalidPeriod)
	}

	period := generic.Period{Start: start, End: end}
	if err := period.Validate(); err != nil {
		return generic.Period{}, err
	}
	return period, nil
}

// HealthResponse reports server health.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// =============================================================================
// CHARGE PERIODS
// =============================================================================

// ChargePeriodRequest asks for the charge periods of a licence's charge versions.
// An empty ChargeVersionID returns every charge version.
type ChargePeriodRequest struct {
	Licence         factory.LicenceJSON `json:"licence"`
	ChargeVersionID string              `json:"charge_version_id,omitempty"`
	BillingPeriod   PeriodRequest       `json:"billing_period"`
}

// ChargeVersionPeriodDTO is one charge version's charge period.
type ChargeVersionPeriodDTO struct {
	ChargeVersionID string `json:"charge_version_id"`
	billrun.ChargePeriodResult
}

// ChargePeriodResponse lists charge periods in charge version order.
type ChargePeriodResponse struct {
	ChargePeriods []ChargeVersionPeriodDTO `json:"charge_periods"`
}

// =============================================================================
// TWO-PART TARIFF
// =============================================================================

// AllocateRequest runs matching and allocation over licences without persisting them.
type AllocateRequest struct {
	Licences      []factory.LicenceJSON `json:"licences"`
	BillingPeriod PeriodRequest         `json:"billing_period"`
}

// AllocateResponse carries the allocated graphs and a review summary.
type AllocateResponse struct {
	Licences []*billing.Licence `json:"licences"`
	Summary  twopart.Summary    `json:"summary"`
}

// =============================================================================
// SUPPLEMENTARY
// =============================================================================

// ReconcileRequest reconciles candidates against previously billed transactions.
// CancelHistory first cancels debit/credit pairs within Previous.
type ReconcileRequest struct {
	Previous      []billing.Transaction `json:"previous"`
	Candidates    []billing.Transaction `json:"candidates"`
	BillLicenceID string                `json:"bill_licence_id"`
	CancelHistory bool                  `json:"cancel_history"`
}

// ReconcileResponse is the net set to send, with counts.
type ReconcileResponse struct {
	Transactions []billing.Transaction `json:"transactions"`
	Kept         int                   `json:"kept"`
	Cancelled    int                   `json:"cancelled"`
	Reversed     int                   `json:"reversed"`
}

// SupplementaryRequest carries the generated candidates per billing account.
type SupplementaryRequest struct {
	Accounts []billrun.AccountCandidates `json:"accounts"`
}

// =============================================================================
// BILL RUNS
// =============================================================================

// CreateBillRunRequest creates a bill run. A two-part tariff bill run is
// processed immediately unless Async is set, in which case it stays queued
// for the scheduler.
type CreateBillRunRequest struct {
	RegionID            string            `json:"region_id"`
	BatchType           billing.BatchType `json:"batch_type"`
	FinancialYearEnding int               `json:"financial_year_ending"`
	Async               bool              `json:"async"`
}

// BillRunResponse is a bill run with whatever processing produced.
type BillRunResponse struct {
	BillRun  *billing.BillRun   `json:"bill_run"`
	Summary  *twopart.Summary   `json:"summary,omitempty"`
	Licences []*billing.Licence `json:"licences,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest selects the scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}
