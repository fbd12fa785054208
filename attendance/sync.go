/*
sync.go - The attendance sync engine

Three lifecycle hooks (approval, date modification, cancellation) plus a
tenant-wide backfill. All four are idempotent and best-effort: a failing
day is recorded in the report and the loop moves on, because sync runs
after the leave status change has already committed and must never undo
it. Writes for the same (employee, date) are serialized with a keyed
mutex so sync never races a concurrent clock-in on the precedence rule.
*/
package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warp/leave-ledger/fiscal"
	"github.com/warp/leave-ledger/keyed"
)

// Engine synchronizes attendance records for one tenant.
type Engine struct {
	tenantID string
	store    Store
	leaves   LeaveSource
	locks    *keyed.Mutex
	log      logrus.FieldLogger
	now      func() time.Time
}

// EngineConfig wires an Engine. Store and TenantID are required; Leaves
// is only needed for Backfill.
type EngineConfig struct {
	TenantID string
	Store    Store
	Leaves   LeaveSource
	Locks    *keyed.Mutex
	Log      logrus.FieldLogger
	Now      func() time.Time
}

func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		tenantID: cfg.TenantID,
		store:    cfg.Store,
		leaves:   cfg.Leaves,
		locks:    cfg.Locks,
		log:      cfg.Log,
		now:      cfg.Now,
	}
	if e.locks == nil {
		e.locks = keyed.NewMutex()
	}
	if e.log == nil {
		e.log = logrus.New()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// =============================================================================
// ON APPROVAL
// =============================================================================

// CreateForLeave marks every day of an approved leave as on-leave.
//
// Per day:
//   - no record:            create one (on-leave, back-reference set)
//   - record, no clock:     overwrite status to on-leave, set back-reference
//   - record with clock:    leave status alone, only annotate
//
// Re-running with the same leave changes nothing (days already pointing
// at this leave are counted as skipped).
func (e *Engine) CreateForLeave(ctx context.Context, span LeaveSpan) Report {
	var report Report
	if !span.Dates.Valid() {
		report.Errors = append(report.Errors, DayError{Err: "invalid date range " + span.Dates.String()})
		return report
	}

	for _, day := range span.Dates.Days() {
		if err := e.markOnLeave(ctx, span, day, &report); err != nil {
			report.Errors = append(report.Errors, DayError{Date: day, Err: err.Error()})
			e.log.WithFields(logrus.Fields{
				"leave": span.LeaveID, "employee": span.EmployeeID, "day": day.Format("2006-01-02"),
			}).WithError(err).Warn("attendance sync: day failed, continuing")
		}
	}
	return report
}

func (e *Engine) markOnLeave(ctx context.Context, span LeaveSpan, day time.Time, report *Report) error {
	key := e.dayKey(span.EmployeeID, day)
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	rec, err := e.store.Get(ctx, e.tenantID, span.EmployeeID, day)
	if err != nil {
		return err
	}

	switch {
	case rec == nil:
		now := e.now()
		rec = &Record{
			ID:         uuid.NewString(),
			TenantID:   e.tenantID,
			EmployeeID: span.EmployeeID,
			Date:       fiscal.Day(day),
			Status:     StatusOnLeave,
			LeaveID:    span.LeaveID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := e.store.Put(ctx, rec); err != nil {
			return err
		}
		report.Created++

	case rec.HasClockData():
		// Clock data wins: annotate only, never touch status.
		if rec.LeaveID == span.LeaveID {
			report.Skipped++
			return nil
		}
		rec.LeaveID = span.LeaveID
		rec.Notes = appendNote(rec.Notes, "approved leave overlaps clocked day")
		rec.UpdatedAt = e.now()
		if err := e.store.Put(ctx, rec); err != nil {
			return err
		}
		report.Skipped++

	case rec.Status == StatusOnLeave && rec.LeaveID == span.LeaveID:
		// Already synced for this leave.
		report.Skipped++

	default:
		rec.Status = StatusOnLeave
		rec.LeaveID = span.LeaveID
		rec.UpdatedAt = e.now()
		if err := e.store.Put(ctx, rec); err != nil {
			return err
		}
		report.Updated++
	}
	return nil
}

// =============================================================================
// ON DATE MODIFICATION
// =============================================================================

// UpdateForLeave moves an approved leave's attendance from oldRange to
// the span's current range: days dropped from the leave are reverted,
// then the new range is synced like a fresh approval. Running it twice
// with the same old/new ranges yields the same end state.
func (e *Engine) UpdateForLeave(ctx context.Context, span LeaveSpan, oldRange fiscal.DateRange) Report {
	var report Report

	for _, day := range oldRange.Days() {
		if span.Dates.Contains(day) {
			continue
		}
		if err := e.revertDay(ctx, span, day, &report); err != nil {
			report.Errors = append(report.Errors, DayError{Date: day, Err: err.Error()})
		}
	}

	report.merge(e.CreateForLeave(ctx, span))
	return report
}

// =============================================================================
// ON CANCELLATION
// =============================================================================

// RemoveForLeave reverts every day the cancelled leave had claimed. Days
// with clock data keep their status and only lose the back-reference.
// Records are never deleted.
func (e *Engine) RemoveForLeave(ctx context.Context, span LeaveSpan) Report {
	var report Report
	for _, day := range span.Dates.Days() {
		if err := e.revertDay(ctx, span, day, &report); err != nil {
			report.Errors = append(report.Errors, DayError{Date: day, Err: err.Error()})
			e.log.WithFields(logrus.Fields{
				"leave": span.LeaveID, "employee": span.EmployeeID, "day": day.Format("2006-01-02"),
			}).WithError(err).Warn("attendance revert: day failed, continuing")
		}
	}
	return report
}

// revertDay undoes this leave's claim on one day. Only records whose
// back-reference matches the leave are touched, which is what makes
// revert idempotent and safe around other leaves.
func (e *Engine) revertDay(ctx context.Context, span LeaveSpan, day time.Time, report *Report) error {
	key := e.dayKey(span.EmployeeID, day)
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	rec, err := e.store.Get(ctx, e.tenantID, span.EmployeeID, day)
	if err != nil {
		return err
	}
	if rec == nil || rec.LeaveID != span.LeaveID {
		report.Skipped++
		return nil
	}

	rec.LeaveID = ""
	if !rec.HasClockData() {
		rec.Status = StatusAbsent
	}
	rec.UpdatedAt = e.now()
	if err := e.store.Put(ctx, rec); err != nil {
		return err
	}
	report.Updated++
	return nil
}

// =============================================================================
// BACKFILL
// =============================================================================

// Backfill re-runs approval sync for every currently-approved leave in
// the tenant. Used for disaster recovery and migration; safe to run any
// number of times. One leave's failure never aborts the batch, but
// context cancellation stops cleanly between leaves.
func (e *Engine) Backfill(ctx context.Context) (*BackfillReport, error) {
	if e.leaves == nil {
		return nil, fmt.Errorf("backfill requires a leave source")
	}

	spans, err := e.leaves.ListApprovedSpans(ctx, e.tenantID)
	if err != nil {
		return nil, fmt.Errorf("list approved leaves: %w", err)
	}

	report := &BackfillReport{}
	for _, span := range spans {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result := LeaveResult{LeaveID: span.LeaveID, Report: e.CreateForLeave(ctx, span)}
		report.Processed++
		if result.Report.Failed() {
			report.Failed++
		}
		report.Results = append(report.Results, result)
	}

	e.log.WithFields(logrus.Fields{
		"processed": report.Processed, "failed": report.Failed,
	}).Info("attendance backfill finished")
	return report, nil
}

func (e *Engine) dayKey(employeeID string, day time.Time) string {
	return e.tenantID + "/" + employeeID + "/" + day.Format("2006-01-02")
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "; " + note
}
