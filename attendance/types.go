/*
Package attendance maintains per-day attendance records and keeps them in
sync with the leave lifecycle.

PURPOSE:
  When a leave is approved, its days become "on-leave" attendance records;
  when dates change or the leave is cancelled, those records are reverted.
  Sync is a best-effort side effect of the leave workflow: it never blocks
  an approval, tolerates per-day failures, and is safe to re-run.

PRECEDENCE RULE:
  A record with clock data (the employee actually clocked in or out) is
  never overwritten by sync. It is only annotated with the leave
  back-reference. Real attendance events outrank inferred status.

UNIQUENESS:
  One record per (tenant, employee, date), enforced by every store
  backend. Records are reverted, never deleted.
*/
package attendance

import (
	"context"
	"time"

	"github.com/warp/leave-ledger/fiscal"
)

// =============================================================================
// ATTENDANCE RECORD
// =============================================================================

type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusHalfDay Status = "half-day"
	StatusOnLeave Status = "on-leave"
	StatusHoliday Status = "holiday"
	StatusWeekend Status = "weekend"
)

// Record is one employee's attendance for one calendar day. LeaveID is a
// back-reference to the leave request that produced or annotated the
// record; it never implies ownership.
type Record struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenantId"`
	EmployeeID string     `json:"employeeId"`
	Date       time.Time  `json:"date"`
	Status     Status     `json:"status"`
	ClockIn    *time.Time `json:"clockIn,omitempty"`
	ClockOut   *time.Time `json:"clockOut,omitempty"`
	LeaveID    string     `json:"leaveId,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// HasClockData reports whether the employee actually clocked in or out
// this day. Such records are only ever annotated by sync.
func (r *Record) HasClockData() bool {
	return r.ClockIn != nil || r.ClockOut != nil
}

// Store persists attendance records for one backend.
//
// INVARIANT: one record per (tenant, employee, date). Put upserts on that
// key; implementations must make each Put atomic.
type Store interface {
	// Get returns the record for the day, or nil when none exists.
	Get(ctx context.Context, tenantID, employeeID string, day time.Time) (*Record, error)

	// Put inserts or replaces the record for (TenantID, EmployeeID, Date).
	Put(ctx context.Context, record *Record) error
}

// =============================================================================
// LEAVE VIEW - What sync needs to know about a leave
// =============================================================================

// LeaveSpan is the narrow view of a leave request the sync engine works
// with: who, which days, and the back-reference ID.
type LeaveSpan struct {
	LeaveID    string
	EmployeeID string
	Dates      fiscal.DateRange
}

// LeaveSource lists currently-approved leaves for backfill. Implemented
// by the leave store through a small adapter wired in the tenant
// resolver, keeping this package free of a leave dependency.
type LeaveSource interface {
	ListApprovedSpans(ctx context.Context, tenantID string) ([]LeaveSpan, error)
}

// =============================================================================
// SYNC REPORTS - Partial failure is data, not an error
// =============================================================================

// DayError records a single day that could not be synced. The loop
// continues past it.
type DayError struct {
	Date time.Time `json:"date"`
	Err  string    `json:"error"`
}

// Report summarizes one sync pass over a leave's date range.
type Report struct {
	Created int        `json:"created"`
	Updated int        `json:"updated"`
	Skipped int        `json:"skipped"`
	Errors  []DayError `json:"errors,omitempty"`
}

func (r *Report) merge(other Report) {
	r.Created += other.Created
	r.Updated += other.Updated
	r.Skipped += other.Skipped
	r.Errors = append(r.Errors, other.Errors...)
}

// Failed reports whether any day in the pass failed.
func (r *Report) Failed() bool { return len(r.Errors) > 0 }

// LeaveResult is one leave's outcome within a backfill batch.
type LeaveResult struct {
	LeaveID string `json:"leaveId"`
	Report  Report `json:"report"`
}

// BackfillReport aggregates a tenant-wide backfill run.
type BackfillReport struct {
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Results   []LeaveResult `json:"results"`
}
