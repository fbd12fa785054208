/*
Package leave owns the leave request aggregate and its approval workflow.

The request is the record a human approves or rejects; it is the source
of truth for the leave's dates and status. The ledger and attendance
stores only ever hold back-references to it. Status transitions are the
authoritative action; balance updates and attendance sync run afterwards
as best-effort side effects with their outcome reported to the caller.
*/
package leave

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/attendance"
	"github.com/warp/leave-ledger/fiscal"
	"github.com/warp/leave-ledger/ledger"
)

// =============================================================================
// REQUEST AGGREGATE
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Request is one leave application. Mutable, unlike ledger entries:
// pending requests move to exactly one terminal status, and approved
// requests may have their dates modified (which triggers a resync).
type Request struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenantId"`
	EmployeeID   string          `json:"employeeId"`
	Category     ledger.Category `json:"category"`
	Dates        fiscal.DateRange `json:"dates"`
	HalfDay      bool            `json:"halfDay"`
	NumberOfDays decimal.Decimal `json:"numberOfDays"`
	Reason       string          `json:"reason,omitempty"`
	Status       Status          `json:"status"`
	ApprovedBy   string          `json:"approvedBy,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// NumberOfDays derives the balance cost of a date range: the inclusive
// day count, or 0.5 for a half-day request (single day only).
func NumberOfDays(dates fiscal.DateRange, halfDay bool) decimal.Decimal {
	if halfDay {
		return decimal.NewFromFloat(0.5)
	}
	return decimal.NewFromInt(int64(dates.DaysInclusive()))
}

// Span returns the narrow view the attendance sync engine consumes.
func (r *Request) Span() attendance.LeaveSpan {
	return attendance.LeaveSpan{
		LeaveID:    r.ID,
		EmployeeID: r.EmployeeID,
		Dates:      r.Dates,
	}
}

var (
	// ErrNotFound is returned for unknown request IDs.
	ErrNotFound = errors.New("leave request not found")

	// ErrInvalidState is returned for transitions the status machine
	// does not allow (approving a cancelled request, modifying dates on
	// a pending one, and so on).
	ErrInvalidState = errors.New("invalid leave request state")
)

// =============================================================================
// STORE
// =============================================================================

// Store persists leave requests. Every method is tenant-scoped.
type Store interface {
	Create(ctx context.Context, r *Request) error

	// Get returns the request or ErrNotFound.
	Get(ctx context.Context, tenantID, requestID string) (*Request, error)

	// SetStatus records a status transition. actor becomes ApprovedBy for
	// approvals.
	SetStatus(ctx context.Context, tenantID, requestID string, status Status, actor string) error

	// SetDates rewrites the date range and derived day count of an
	// approved request.
	SetDates(ctx context.Context, tenantID, requestID string, dates fiscal.DateRange, halfDay bool, days decimal.Decimal) error

	// ListApproved returns every currently-approved request.
	ListApproved(ctx context.Context, tenantID string) ([]Request, error)

	// ListByEmployee returns an employee's requests, newest first.
	ListByEmployee(ctx context.Context, tenantID, employeeID string) ([]Request, error)
}
