/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the billing core and bill run processing via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the domain
  packages.

ENDPOINTS:
  Core:
    POST   /api/charge-periods               Charge periods for a licence
    POST   /api/two-part-tariff/allocate     Match and allocate (no persistence)
    POST   /api/supplementary/reconcile      Reconcile transactions (no persistence)

  Licences:
    POST   /api/licences                     Save a licence document
    GET    /api/licences/{id}                Get a licence graph
    GET    /api/regions/{id}/licences        Chargeable licences in a region

  Bill runs:
    POST   /api/bill-runs                    Create (and run) a bill run
    GET    /api/bill-runs/{id}               Get a bill run
    POST   /api/bill-runs/{id}/supplementary Reconcile and persist net transactions
    GET    /api/bill-runs/{id}/transactions  Transactions persisted for a bill run

  Transactions:
    GET    /api/transactions                 Billed history for account/licence/year

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: billing.Store (sqlite in production)
  - Processor: bill run orchestration
  - LicenceFactory: JSON to licence graph conversion

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate transaction, bill run in the wrong status)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/warp/abstraction-billing/billing"
	"github.com/warp/abstraction-billing/billrun"
	"github.com/warp/abstraction-billing/config"
	"github.com/warp/abstraction-billing/factory"
	"github.com/warp/abstraction-billing/generic"
	"github.com/warp/abstraction-billing/supplementary"
	"github.com/warp/abstraction-billing/twopart"
)

const moduleName = "api"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store          billing.Store
	Processor      *billrun.Processor
	LicenceFactory *factory.LicenceFactory
	Log            *logrus.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler around processor and its store.
func NewHandler(processor *billrun.Processor) *Handler {
	return &Handler{
		Store:          processor.Store,
		Processor:      processor,
		LicenceFactory: factory.NewLicenceFactory(),
		Log:            processor.Log,
	}
}

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the server and its database are reachable.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "ok"}
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Database = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// CORE ENDPOINTS
// =============================================================================

// DetermineChargePeriods returns the charge period and minimum charge flag for
// each charge version of a licence.
// POST /api/charge-periods
func (h *Handler) DetermineChargePeriods(w http.ResponseWriter, r *http.Request) {
	var req ChargePeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	billingPeriod, err := req.BillingPeriod.Period()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid billing period", err)
		return
	}

	licence, err := h.LicenceFactory.FromJSON(req.Licence)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid licence", err)
		return
	}

	resp := ChargePeriodResponse{ChargePeriods: []ChargeVersionPeriodDTO{}}
	for _, chargeVersion := range licence.ChargeVersions {
		if req.ChargeVersionID != "" && chargeVersion.ChargeVersionID != req.ChargeVersionID {
			continue
		}
		result, err := billrun.DetermineChargePeriod(chargeVersion, licence, billingPeriod)
		if err != nil {
			h.handleError(w, "DetermineChargePeriods", "Failed to determine charge period", err)
			return
		}
		resp.ChargePeriods = append(resp.ChargePeriods, ChargeVersionPeriodDTO{
			ChargeVersionID:    chargeVersion.ChargeVersionID,
			ChargePeriodResult: result,
		})
	}

	if req.ChargeVersionID != "" && len(resp.ChargePeriods) == 0 {
		writeError(w, http.StatusNotFound, "Charge version not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// AllocateTwoPartTariff matches returns to charge elements and allocates
// volumes for the given licences. Nothing is persisted.
// POST /api/two-part-tariff/allocate
func (h *Handler) AllocateTwoPartTariff(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	billingPeriod, err := req.BillingPeriod.Period()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid billing period", err)
		return
	}

	licences, err := h.LicenceFactory.FromJSONList(req.Licences)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid licence", err)
		return
	}

	allocated, err := h.Processor.Allocator.Allocate(licences, billingPeriod)
	if err != nil {
		h.handleError(w, "AllocateTwoPartTariff", "Failed to allocate returns", err)
		return
	}

	writeJSON(w, http.StatusOK, AllocateResponse{
		Licences: allocated,
		Summary:  twopart.Summarise(allocated),
	})
}

// ReconcileSupplementary reconciles candidate transactions against previously
// billed ones. Nothing is persisted.
// POST /api/supplementary/reconcile
func (h *Handler) ReconcileSupplementary(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	if req.BillLicenceID == "" {
		writeError(w, http.StatusBadRequest, "bill_licence_id is required", nil)
		return
	}
	if err := factory.NormaliseTransactions(req.Previous); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid previous transactions", err)
		return
	}
	if err := factory.NormaliseTransactions(req.Candidates); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid candidate transactions", err)
		return
	}

	previous := req.Previous
	if req.CancelHistory {
		previous = supplementary.CancelHistory(previous)
	}

	result := h.Processor.History.Reconciler.Run(previous, req.Candidates, req.BillLicenceID)
	transactions := result.Transactions
	if transactions == nil {
		transactions = []billing.Transaction{}
	}

	writeJSON(w, http.StatusOK, ReconcileResponse{
		Transactions: transactions,
		Kept:         result.Kept,
		Cancelled:    result.Cancelled,
		Reversed:     result.Reversed,
	})
}

// =============================================================================
// LICENCE ENDPOINTS
// =============================================================================

// CreateLicence saves a licence document, replacing any with the same id.
// POST /api/licences
func (h *Handler) CreateLicence(w http.ResponseWriter, r *http.Request) {
	var req factory.LicenceJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	licence, err := h.LicenceFactory.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid licence", err)
		return
	}
	if licence.RegionID == "" {
		writeError(w, http.StatusBadRequest, "region_id is required", nil)
		return
	}

	if err := h.Store.SaveLicence(r.Context(), licence); err != nil {
		h.handleError(w, "CreateLicence", "Failed to save licence", err)
		return
	}

	writeJSON(w, http.StatusCreated, licence)
}

// GetLicence returns a licence graph.
// GET /api/licences/{id}
func (h *Handler) GetLicence(w http.ResponseWriter, r *http.Request) {
	licence, err := h.Store.GetLicence(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, "GetLicence", "Failed to get licence", err)
		return
	}
	writeJSON(w, http.StatusOK, licence)
}

// ListRegionLicences returns the region's licences with a current charge
// version in the financial year (default: the current one).
// GET /api/regions/{id}/licences?financial_year_ending=2024
func (h *Handler) ListRegionLicences(w http.ResponseWriter, r *http.Request) {
	yearEnding := generic.FinancialYearEnding(generic.Today())
	if value := r.URL.Query().Get("financial_year_ending"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid financial_year_ending", err)
			return
		}
		yearEnding = parsed
	}

	licences, err := h.Store.LicencesByRegion(r.Context(), chi.URLParam(r, "id"), generic.FinancialYear(yearEnding))
	if err != nil {
		h.handleError(w, "ListRegionLicences", "Failed to list licences", err)
		return
	}
	if licences == nil {
		licences = []*billing.Licence{}
	}
	writeJSON(w, http.StatusOK, licences)
}

// =============================================================================
// BILL RUN ENDPOINTS
// =============================================================================

// CreateBillRun creates a bill run. Two-part tariff bill runs are processed
// straight away unless async is set.
// POST /api/bill-runs
func (h *Handler) CreateBillRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateBillRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	billRun, err := h.Processor.CreateBillRun(ctx, req.RegionID, req.BatchType, req.FinancialYearEnding)
	if err != nil {
		h.handleError(w, "CreateBillRun", "Failed to create bill run", err)
		return
	}

	if req.BatchType != billing.BatchTwoPartTariff || req.Async {
		writeJSON(w, http.StatusCreated, BillRunResponse{BillRun: billRun})
		return
	}

	result, err := h.Processor.TwoPartTariff(ctx, billRun)
	if err != nil {
		h.handleError(w, "CreateBillRun", "Failed to process bill run", err)
		return
	}

	writeJSON(w, http.StatusCreated, BillRunResponse{
		BillRun:  result.BillRun,
		Summary:  &result.Summary,
		Licences: result.Licences,
	})
}

// GetBillRun returns a bill run.
// GET /api/bill-runs/{id}
func (h *Handler) GetBillRun(w http.ResponseWriter, r *http.Request) {
	billRun, err := h.Store.GetBillRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, "GetBillRun", "Failed to get bill run", err)
		return
	}
	writeJSON(w, http.StatusOK, BillRunResponse{BillRun: billRun})
}

// RunSupplementary reconciles each account's candidates against its billed
// history and persists the net transactions on the bill run.
// POST /api/bill-runs/{id}/supplementary
func (h *Handler) RunSupplementary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	billRun, err := h.Store.GetBillRun(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, "RunSupplementary", "Failed to get bill run", err)
		return
	}

	var req SupplementaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	for i, account := range req.Accounts {
		if account.BillingAccountID == "" || account.LicenceID == "" {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("accounts[%d]: billing_account_id and licence_id are required", i), nil)
			return
		}
		if err := factory.NormaliseTransactions(account.Transactions); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("accounts[%d]: invalid transactions", i), err)
			return
		}
	}

	result, err := h.Processor.Supplementary(ctx, billRun, req.Accounts)
	if err != nil {
		h.handleError(w, "RunSupplementary", "Failed to process supplementary bill run", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListBillRunTransactions returns the transactions persisted for a bill run.
// GET /api/bill-runs/{id}/transactions
func (h *Handler) ListBillRunTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, err := h.Store.GetBillRun(ctx, id); err != nil {
		h.handleError(w, "ListBillRunTransactions", "Failed to get bill run", err)
		return
	}

	txs, err := h.Store.TransactionsByBillRun(ctx, id)
	if err != nil {
		h.handleError(w, "ListBillRunTransactions", "Failed to get transactions", err)
		return
	}
	if txs == nil {
		txs = []billing.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// =============================================================================
// TRANSACTION ENDPOINTS
// =============================================================================

// ListTransactions returns the billed history for an account, licence and year.
// GET /api/transactions?billing_account_id=..&licence_id=..&financial_year_ending=..
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	key := billing.TransactionKey{
		BillingAccountID: query.Get("billing_account_id"),
		LicenceID:        query.Get("licence_id"),
	}
	if key.BillingAccountID == "" || key.LicenceID == "" {
		writeError(w, http.StatusBadRequest, "billing_account_id and licence_id are required", nil)
		return
	}

	yearEnding, err := strconv.Atoi(query.Get("financial_year_ending"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid financial_year_ending", err)
		return
	}
	key.FinancialYearEnding = yearEnding

	txs, err := h.Store.PreviousTransactions(r.Context(), key)
	if err != nil {
		h.handleError(w, "ListTransactions", "Failed to get transactions", err)
		return
	}
	if txs == nil {
		txs = []billing.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// handleError maps domain errors to HTTP statuses. Unexpected errors are logged.
func (h *Handler) handleError(w http.ResponseWriter, funcName, message string, err error) {
	switch {
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, generic.ErrDuplicateTransaction), errors.Is(err, generic.ErrInvalidTransition):
		writeError(w, http.StatusConflict, message, err)
	default:
		config.LogError(h.Log, moduleName, funcName, message, map[string]any{
			"error_code": generic.BillingErrorCode(err),
		}, err)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

// requestLogger logs each request through logrus with chi's request id.
func requestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
			}).Info("request")
		})
	}
}
