/*
handlers.go - HTTP API handlers for the leave ledger

PURPOSE:
  Exposes the tenant-scoped services via REST. Handles HTTP
  request/response, JSON serialization and validation, and delegates to
  the domain services resolved per tenant.

ENDPOINTS (all under /api/tenants/{tenantID}):
  Ledger:
    GET    /employees/{employeeID}/balances      Balance summary
    GET    /employees/{employeeID}/ledger        Transaction history
    POST   /employees/{employeeID}/allocations   Credit days
    POST   /employees/{employeeID}/adjustments   Manual correction
    POST   /employees/{employeeID}/encashments   Pay out days
    POST   /ledger-entries/{entryID}/retract     Compensate an entry

  Leave workflow:
    POST   /leave-requests                       Submit
    GET    /leave-requests/{id}                  Fetch one
    POST   /leave-requests/{id}/approve          Approve (+ side effects)
    POST   /leave-requests/{id}/reject           Reject
    POST   /leave-requests/{id}/cancel           Cancel (+ restore)
    PUT    /leave-requests/{id}/dates            Modify dates
    GET    /employees/{employeeID}/leave-requests  History

  Attendance:
    POST   /attendance/backfill                  Re-sync approved leaves

  Carry-forward:
    GET    /employees/{employeeID}/carry-forward/preview
    POST   /employees/{employeeID}/carry-forward
    POST   /carry-forward                        Whole tenant
    POST   /employees/{employeeID}/expirations   Lapse carried balance

ERROR HANDLING:
  Errors map to JSON with the status the taxonomy prescribes:
  - 400: validation errors, malformed bodies and dates
  - 404: unknown tenant, employee history, request or entry
  - 409: invalid state transitions, duplicates, insufficient balance
  - 503: balance chain conflict that outlived its retries
  - 500: everything else

SEE ALSO:
  - dto.go: Request body definitions
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/leave-ledger/fiscal"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/ledger"
	"github.com/warp/leave-ledger/tenant"
)

// Handler holds the dependencies shared by all HTTP handlers.
type Handler struct {
	resolver *tenant.Resolver
	validate *validator.Validate
	log      logrus.FieldLogger
}

// NewHandler creates a handler backed by the tenant resolver.
func NewHandler(resolver *tenant.Resolver, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{
		resolver: resolver,
		validate: validator.New(),
		log:      log,
	}
}

// tenantCtx resolves the tenant from the URL, writing the 404 itself
// when the tenant is not registered.
func (h *Handler) tenantCtx(w http.ResponseWriter, r *http.Request) (*tenant.Context, bool) {
	tc, err := h.resolver.Resolve(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		h.writeDomainError(w, err)
		return nil, false
	}
	return tc, true
}

// decode parses and validates a JSON request body.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err)
		return false
	}
	return true
}

// =============================================================================
// LEDGER ENDPOINTS
// =============================================================================

// GetBalances returns the per-category balance summary.
// GET /api/tenants/{tenantID}/employees/{employeeID}/balances
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.tenantCtx(w, r)
	if !ok {
		return
	}

	summaries, err := tc.Ledger.Summary(r.Context(), chi.URLParam(r, "employeeID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if summaries == nil {
		summaries = []ledger.CategorySummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

// GetLedger returns transaction history, newest first.
// GET /api/tenants/{tenantID}/employees/{employeeID}/ledger?category=&fiscal_year=
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.tenantCtx(w, r)
	if !ok {
		return
	}

	entries, err := tc.Ledger.History(r.Context(), ledger.HistoryQuery{
		EmployeeID: chi.URLParam(r, "employeeID"),
		Category:   ledger.Category(r.URL.Query().Get("category")),
		FiscalYear: r.URL.Query().Get("fiscal_year"),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// CreateAllocation credits days to an employee's category.
// POST /api/tenants/{tenantID}/employees/{employeeID}/allocations
func (h *Handler) CreateAllocation(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.tenantCtx(w, r)
	if !ok {
		return
	}
	var req AllocationRequest
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := tc.Ledger.Allocate(r.Context(), chi.URLParam(r, "employeeID"),
		ledger.Category(req.Category), decimal.NewFromFloat(req.Days), req.Actor, req.Description)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// CreateAdjustment records a signed manual correction.
// POST /api/tenants/{tenantID}/employees/{employeeID}/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.tenantCtx(w, r)
	if !ok {
		return
	}
	var req AdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := tc.Ledger.Adjust(r.Context(), chi.URLParam(r, "employeeID"),
		ledger.Category(req.Category), decimal.NewFromFloat(req.Delta), req.Actor, req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// CreateEncashment pays out days instead of taking them.
// POST /api/tenants/{tenantID}/employees/{employeeID}/encashments
func (h *Handler) CreateEncashment(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.tenantCtx(w, r)
	if !ok {
		return
	}
	var req EncashmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := tc.Ledger.Encash(r.Context(), chi.URLParam(r, "employeeID"),
		ledger.Category(req.Category), decimal.NewFromFloat(req.Days), req.Actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// RetractEntry compensates an erroneous entry and soft-deletes it.
// POST /api/tenants/{tenantID}/ledger-entries/{entryID}/retract
func (h *Handler) RetractEntry(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.tenantCtx(w, r)
	if !ok {
		return
	}
	var req RetractionRequest
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := tc.Ledger.Retract(r.Context(), chi.URLParam(r, "entryID"), req.Actor, req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// =============================================================================
// LEAVE WORKFLOW ENDPOINTS
// =============================================================================

// SubmitLeave opens a new pending leave request.
// POST /api/tenants/{tenantID}/leave-requests
func (h *Handler) SubmitLeave(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.tenantCtx(w, r)
	if !ok {
		return
	}
	var req SubmitLeaveRequest
	if !h.decode(w, r, &req) {
		return
	}
	dates, err := parseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dates", err)
		return
	}

	created, err := tc.Workflow.Submit(r.Context(), leave.SubmitInput{
		EmployeeID: req.EmployeeID,
		Category:   ledger.Category(req.Category),
		Dates:      dates,
		HalfDay:    req.HalfDay,
		Reason:     req.Reason,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetLeave returns one request.
// GET /api/tenants/{tenantID}/leave-requests/{id}
func (h *Handler) GetLeave(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.tenantCtx(w, r)
	if !ok {
		return
	}

	req, err := tc.Workflow.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ListLeavesByEmployee returns an employee's requests, newest first.
// GET /api/tenants/{tenantID}/employees/{employeeID}/leave-requests
func (h *Handler) ListLeavesByEmployee(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.tenantCtx(w, r)
	if !ok {
		return
	}

	reqs, err := tc.Workflow.ListByEmployee(r.Context(), chi.URLParam(r, "employeeID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if reqs == nil {
		reqs = []leave.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

// ApproveLeave approves a pending request; the response carries the
// ledger entry and sync report for the side effects.
// POST /api/tenants/{tenantID}/leave-requests/{id}/approve
func (h *Handler) ApproveLeave(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(tc *tenant.Context, id, actor string) (*leave.ActionResult, error) {
		return tc.Workflow.Approve(r.Context(), id, actor)
	})
}

// RejectLeave rejects a pending request.
// POST /api/tenants/{tenantID}/leave-requests/{id}/reject
func (h *Handler) RejectLeave(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(tc *tenant.Context, id, actor string) (*leave.ActionResult, error) {
		return tc.Workflow.Reject(r.Context(), id, actor)
	})
}

// CancelLeave cancels a pending or approved request.
// POST /api/tenants/{tenantID}/leave-requests/{id}/cancel
func (h *Handler) CancelLeave(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(tc *tenant.Context, id, actor string) (*leave.ActionResult, error) {
		return tc.Workflow.Cancel(r.Context(), id, actor)
	})
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, fn func(tc *tenant.Context, id, actor string) (*leave.ActionResult, error)) {
	tc, ok := h.tenantCtx(w, r)
	if !ok {
		return
	}
	var req DecisionRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := fn(tc, chi.URLParam(r, "id"), req.Actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ModifyLeaveDates rewrites the date range of an approved request.
// PUT /api/tenants/{tenantID}/leave-requests/{id}/dates
func (h *Handler) ModifyLeaveDates(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.tenantCtx(w, r)
	if !ok {
		return
	}
	var req ModifyDatesRequest
	if !h.decode(w, r, &req) {
		return
	}
	dates, err := parseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dates", err)
		return
	}

	result, err := tc.Workflow.ModifyDates(r.Context(), chi.URLParam(r, "id"), dates, req.HalfDay, req.Actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// ATTENDANCE ENDPOINTS
// =============================================================================

// BackfillAttendance re-runs approval sync for every approved leave.
// POST /api/tenants/{tenantID}/attendance/backfill
func (h *Handler) BackfillAttendance(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.tenantCtx(w, r)
	if !ok {
		return
	}

	report, err := tc.Attendance.Backfill(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// CARRY-FORWARD ENDPOINTS
// =============================================================================

// PreviewCarryForward computes the carry-forward without writing.
// GET /api/tenants/{tenantID}/employees/{employeeID}/carry-forward/preview?fiscal_year=
func (h *Handler) PreviewCarryForward(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.tenantCtx(w, r)
	if !ok {
		return
	}
	from, ok := h.fiscalYear(w, tc, r.URL.Query().Get("fiscal_year"))
	if !ok {
		return
	}

	projections, err := tc.CarryForward.Calculate(r.Context(), chi.URLParam(r, "employeeID"), from)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projections)
}

// ExecuteCarryForward runs carry-forward for one employee.
// POST /api/tenants/{tenantID}/employees/{employeeID}/carry-forward
func (h *Handler) ExecuteCarryForward(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.tenantCtx(w, r)
	if !ok {
		return
	}
	var req CarryForwardRequest
	if !h.decode(w, r, &req) {
		return
	}
	from, ok := h.fiscalYear(w, tc, req.FiscalYear)
	if !ok {
		return
	}

	results, err := tc.CarryForward.Execute(r.Context(), chi.URLParam(r, "employeeID"), from, req.Actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// ExecuteTenantCarryForward runs carry-forward for every active
// employee of the tenant.
// POST /api/tenants/{tenantID}/carry-forward
func (h *Handler) ExecuteTenantCarryForward(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.tenantCtx(w, r)
	if !ok {
		return
	}
	var req CarryForwardRequest
	if !h.decode(w, r, &req) {
		return
	}
	from, ok := h.fiscalYear(w, tc, req.FiscalYear)
	if !ok {
		return
	}

	report, err := tc.CarryForward.ExecuteForTenant(r.Context(), from, req.Actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ExpireCarriedBalance lapses carried balance past its validity window.
// POST /api/tenants/{tenantID}/employees/{employeeID}/expirations
func (h *Handler) ExpireCarriedBalance(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.tenantCtx(w, r)
	if !ok {
		return
	}
	var req ExpirationRequest
	if !h.decode(w, r, &req) {
		return
	}
	from, ok := h.fiscalYear(w, tc, req.FiscalYear)
	if !ok {
		return
	}
	asOf := time.Now().UTC()
	if req.AsOf != "" {
		parsed, err := parseDate(req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid asOf", err)
			return
		}
		asOf = parsed
	}

	results, err := tc.CarryForward.ExpireLapsed(r.Context(), chi.URLParam(r, "employeeID"), from, asOf, req.Actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) fiscalYear(w http.ResponseWriter, tc *tenant.Context, label string) (fiscal.Year, bool) {
	if label == "" {
		writeError(w, http.StatusBadRequest, "fiscal_year is required", nil)
		return fiscal.Year{}, false
	}
	from, err := fiscal.ParseLabel(label, tc.FiscalStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fiscal_year", err)
		return fiscal.Year{}, false
	}
	return from, true
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tenant.ErrNotFound):
		writeError(w, http.StatusNotFound, "tenant not found", err)
	case errors.Is(err, leave.ErrNotFound):
		writeError(w, http.StatusNotFound, "leave request not found", err)
	case errors.Is(err, ledger.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, "ledger entry not found", err)
	case ledger.IsValidation(err):
		writeError(w, http.StatusBadRequest, "validation failed", err)
	case errors.Is(err, leave.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid request state", err)
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		writeError(w, http.StatusConflict, "duplicate transaction", err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, "insufficient balance", err)
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		writeError(w, http.StatusServiceUnavailable, "balance conflict, retry later", err)
	default:
		h.log.WithError(err).Error("unhandled API error")
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

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
