/*
workflow.go - Leave approval workflow

PURPOSE:
  Drives the request status machine and fans approved/cancelled/modified
  transitions out to the ledger and the attendance sync engine.

FAILURE SEMANTICS:
  The status transition commits first and is never rolled back. Ledger
  and attendance sync are compensating, best-effort side effects: their
  failures are logged, reported in ActionResult.SideEffects, and left for
  the operator to reconcile (re-run backfill, adjust the ledger). A
  caller sees an error only when the primary transition itself fails.
*/
package leave

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warp/leave-ledger/attendance"
	"github.com/warp/leave-ledger/fiscal"
	"github.com/warp/leave-ledger/ledger"
)

// SideEffects reports how the secondary writes of a transition went.
// LedgerError/SyncError are empty on success; a non-empty value means
// the leave status is committed but the ledger or attendance records
// need reconciliation.
type SideEffects struct {
	LedgerEntry *ledger.Entry      `json:"ledgerEntry,omitempty"`
	LedgerError string             `json:"ledgerError,omitempty"`
	Sync        *attendance.Report `json:"sync,omitempty"`
}

// ActionResult pairs the authoritative outcome (the request) with the
// side-effect report, so callers can tell "leave approved" apart from
// "leave approved and fully synced".
type ActionResult struct {
	Request     *Request    `json:"request"`
	SideEffects SideEffects `json:"sideEffects"`
}

// Workflow is the approval workflow for one tenant.
type Workflow struct {
	tenantID string
	store    Store
	ledger   *ledger.Service
	sync     *attendance.Engine
	log      logrus.FieldLogger
	now      func() time.Time
}

// WorkflowConfig wires a Workflow. Store, Ledger, Sync and TenantID are
// required.
type WorkflowConfig struct {
	TenantID string
	Store    Store
	Ledger   *ledger.Service
	Sync     *attendance.Engine
	Log      logrus.FieldLogger
	Now      func() time.Time
}

func NewWorkflow(cfg WorkflowConfig) *Workflow {
	w := &Workflow{
		tenantID: cfg.TenantID,
		store:    cfg.Store,
		ledger:   cfg.Ledger,
		sync:     cfg.Sync,
		log:      cfg.Log,
		now:      cfg.Now,
	}
	if w.log == nil {
		w.log = logrus.New()
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w
}

// =============================================================================
// SUBMIT
// =============================================================================

// SubmitInput describes a new leave application.
type SubmitInput struct {
	EmployeeID string
	Category   ledger.Category
	Dates      fiscal.DateRange
	HalfDay    bool
	Reason     string
}

// Submit creates a pending request. No balance is reserved until
// approval.
func (w *Workflow) Submit(ctx context.Context, in SubmitInput) (*Request, error) {
	if in.EmployeeID == "" {
		return nil, &ledger.ValidationError{Field: "employeeId", Reason: "required"}
	}
	if !in.Category.Valid() {
		return nil, &ledger.ValidationError{Field: "category", Reason: "unknown leave category: " + string(in.Category)}
	}
	if !in.Dates.Valid() {
		return nil, &ledger.ValidationError{Field: "dates", Reason: "end date before start date"}
	}
	if in.HalfDay && in.Dates.DaysInclusive() != 1 {
		return nil, &ledger.ValidationError{Field: "halfDay", Reason: "half-day leave must cover exactly one day"}
	}

	now := w.now()
	req := &Request{
		ID:           uuid.NewString(),
		TenantID:     w.tenantID,
		EmployeeID:   in.EmployeeID,
		Category:     in.Category,
		Dates:        in.Dates,
		HalfDay:      in.HalfDay,
		NumberOfDays: NumberOfDays(in.Dates, in.HalfDay),
		Reason:       in.Reason,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := w.store.Create(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

// Approve transitions a pending request to approved, then debits the
// ledger and creates on-leave attendance as side effects.
func (w *Workflow) Approve(ctx context.Context, requestID, approver string) (*ActionResult, error) {
	req, err := w.store.Get(ctx, w.tenantID, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, fmt.Errorf("approve %s request %s: %w", req.Status, requestID, ErrInvalidState)
	}

	// Primary action: the approval itself.
	if err := w.store.SetStatus(ctx, w.tenantID, requestID, StatusApproved, approver); err != nil {
		return nil, err
	}
	req.Status = StatusApproved
	req.ApprovedBy = approver
	req.UpdatedAt = w.now()

	result := &ActionResult{Request: req}

	// Side effect 1: ledger debit.
	entry, err := w.ledger.Append(ctx, ledger.AppendInput{
		EmployeeID:       req.EmployeeID,
		Category:         req.Category,
		Type:             ledger.TypeUsed,
		Amount:           req.NumberOfDays.Neg(),
		RelatedRequestID: req.ID,
		Description:      fmt.Sprintf("leave taken %s", req.Dates),
		Details:          &ledger.Details{Dates: &req.Dates, Reason: req.Reason},
		RecordedBy:       approver,
	})
	if err != nil {
		result.SideEffects.LedgerError = err.Error()
		w.log.WithField("request", req.ID).WithError(err).Error("approval committed but ledger debit failed; reconcile via adjustment")
	} else {
		result.SideEffects.LedgerEntry = entry
	}

	// Side effect 2: attendance sync.
	report := w.sync.CreateForLeave(ctx, req.Span())
	result.SideEffects.Sync = &report

	return result, nil
}

// Reject transitions a pending request to rejected. No side effects:
// nothing was debited and no attendance was written.
func (w *Workflow) Reject(ctx context.Context, requestID, actor string) (*ActionResult, error) {
	req, err := w.store.Get(ctx, w.tenantID, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, fmt.Errorf("reject %s request %s: %w", req.Status, requestID, ErrInvalidState)
	}
	if err := w.store.SetStatus(ctx, w.tenantID, requestID, StatusRejected, actor); err != nil {
		return nil, err
	}
	req.Status = StatusRejected
	req.UpdatedAt = w.now()
	return &ActionResult{Request: req}, nil
}

// Cancel transitions a pending or approved request to cancelled. For an
// approved request the consumed balance is restored and the attendance
// records reverted.
func (w *Workflow) Cancel(ctx context.Context, requestID, actor string) (*ActionResult, error) {
	req, err := w.store.Get(ctx, w.tenantID, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending && req.Status != StatusApproved {
		return nil, fmt.Errorf("cancel %s request %s: %w", req.Status, requestID, ErrInvalidState)
	}
	wasApproved := req.Status == StatusApproved

	if err := w.store.SetStatus(ctx, w.tenantID, requestID, StatusCancelled, actor); err != nil {
		return nil, err
	}
	req.Status = StatusCancelled
	req.UpdatedAt = w.now()

	result := &ActionResult{Request: req}
	if !wasApproved {
		return result, nil
	}

	entry, err := w.ledger.Append(ctx, ledger.AppendInput{
		EmployeeID:       req.EmployeeID,
		Category:         req.Category,
		Type:             ledger.TypeRestored,
		Amount:           req.NumberOfDays,
		RelatedRequestID: req.ID,
		Description:      fmt.Sprintf("leave cancelled %s", req.Dates),
		Details:          &ledger.Details{Dates: &req.Dates, Reason: req.Reason},
		RecordedBy:       actor,
	})
	if err != nil {
		result.SideEffects.LedgerError = err.Error()
		w.log.WithField("request", req.ID).WithError(err).Error("cancellation committed but ledger restore failed; reconcile via adjustment")
	} else {
		result.SideEffects.LedgerEntry = entry
	}

	report := w.sync.RemoveForLeave(ctx, req.Span())
	result.SideEffects.Sync = &report

	return result, nil
}

// ModifyDates rewrites the date range of an approved request. The day
// delta is settled with a ledger adjustment and attendance is moved to
// the new range.
func (w *Workflow) ModifyDates(ctx context.Context, requestID string, dates fiscal.DateRange, halfDay bool, actor string) (*ActionResult, error) {
	req, err := w.store.Get(ctx, w.tenantID, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusApproved {
		return nil, fmt.Errorf("modify dates of %s request %s: %w", req.Status, requestID, ErrInvalidState)
	}
	if !dates.Valid() {
		return nil, &ledger.ValidationError{Field: "dates", Reason: "end date before start date"}
	}
	if halfDay && dates.DaysInclusive() != 1 {
		return nil, &ledger.ValidationError{Field: "halfDay", Reason: "half-day leave must cover exactly one day"}
	}

	oldRange := req.Dates
	oldDays := req.NumberOfDays
	newDays := NumberOfDays(dates, halfDay)

	if err := w.store.SetDates(ctx, w.tenantID, requestID, dates, halfDay, newDays); err != nil {
		return nil, err
	}
	req.Dates = dates
	req.HalfDay = halfDay
	req.NumberOfDays = newDays
	req.UpdatedAt = w.now()

	result := &ActionResult{Request: req}

	// Side effect 1: settle the day-count delta. Taking fewer days
	// credits the difference back; taking more debits it.
	if delta := oldDays.Sub(newDays); !delta.IsZero() {
		entry, err := w.ledger.Append(ctx, ledger.AppendInput{
			EmployeeID:       req.EmployeeID,
			Category:         req.Category,
			Type:             ledger.TypeAdjustment,
			Amount:           delta,
			RelatedRequestID: req.ID,
			Description:      fmt.Sprintf("leave dates changed %s -> %s", oldRange, dates),
			Details:          &ledger.Details{Dates: &dates, Reason: req.Reason},
			RecordedBy:       actor,
		})
		if err != nil {
			result.SideEffects.LedgerError = err.Error()
			w.log.WithField("request", req.ID).WithError(err).Error("date change committed but ledger adjustment failed; reconcile via adjustment")
		} else {
			result.SideEffects.LedgerEntry = entry
		}
	}

	// Side effect 2: move the attendance records.
	report := w.sync.UpdateForLeave(ctx, req.Span(), oldRange)
	result.SideEffects.Sync = &report

	return result, nil
}

// Get returns one request.
func (w *Workflow) Get(ctx context.Context, requestID string) (*Request, error) {
	return w.store.Get(ctx, w.tenantID, requestID)
}

// ListByEmployee returns an employee's requests, newest first.
func (w *Workflow) ListByEmployee(ctx context.Context, employeeID string) ([]Request, error) {
	return w.store.ListByEmployee(ctx, w.tenantID, employeeID)
}
