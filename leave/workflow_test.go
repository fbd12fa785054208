package leave_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/attendance"
	"github.com/warp/leave-ledger/fiscal"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/ledger"
	"github.com/warp/leave-ledger/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	workflow *leave.Workflow
	ledger   *ledger.Service
	store    *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()

	ledgerSvc := ledger.NewService(ledger.Config{
		TenantID: "acme",
		Store:    st.Ledger(),
		BaseAllocation: func(c ledger.Category) decimal.Decimal {
			if c == ledger.CategoryEarned {
				return decimal.NewFromInt(15)
			}
			return decimal.NewFromInt(12)
		},
	})
	syncEngine := attendance.NewEngine(attendance.EngineConfig{
		TenantID: "acme",
		Store:    st.Attendance(),
	})
	wf := leave.NewWorkflow(leave.WorkflowConfig{
		TenantID: "acme",
		Store:    st.Leaves(),
		Ledger:   ledgerSvc,
		Sync:     syncEngine,
	})
	return &fixture{workflow: wf, ledger: ledgerSvc, store: st}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func days(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func submit(t *testing.T, f *fixture, start, end time.Time) *leave.Request {
	t.Helper()
	req, err := f.workflow.Submit(context.Background(), leave.SubmitInput{
		EmployeeID: "emp-1",
		Category:   ledger.CategoryEarned,
		Dates:      fiscal.NewDateRange(start, end),
		Reason:     "family visit",
	})
	require.NoError(t, err)
	return req
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestApproveThenCancel_RestoresBalanceAndRevertsAttendance(t *testing.T) {
	// GIVEN: A fresh employee with a 15-day earned allocation and a
	//        2-day leave for Jan 10-11
	// WHEN:  The leave is approved and later cancelled
	// THEN:  The ledger shows 15 -> 13 -> 15 and the attendance days
	//        are reverted

	f := newFixture(t)
	ctx := context.Background()

	req := submit(t, f, date(2025, time.January, 10), date(2025, time.January, 11))
	assert.Equal(t, leave.StatusPending, req.Status)
	assert.True(t, req.NumberOfDays.Equal(days(2)))

	// Approve: debit chains from the base allocation.
	approved, err := f.workflow.Approve(ctx, req.ID, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, approved.Request.Status)
	assert.Equal(t, "manager-1", approved.Request.ApprovedBy)

	entry := approved.SideEffects.LedgerEntry
	require.NotNil(t, entry)
	assert.Equal(t, ledger.TypeUsed, entry.Type)
	assert.True(t, entry.Amount.Equal(days(-2)))
	assert.True(t, entry.BalanceBefore.Equal(days(15)))
	assert.True(t, entry.BalanceAfter.Equal(days(13)))
	assert.Equal(t, req.ID, entry.RelatedRequestID)

	require.NotNil(t, approved.SideEffects.Sync)
	assert.Equal(t, 2, approved.SideEffects.Sync.Created)

	for _, d := range []time.Time{date(2025, time.January, 10), date(2025, time.January, 11)} {
		rec, err := f.store.Attendance().Get(ctx, "acme", "emp-1", d)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, attendance.StatusOnLeave, rec.Status)
		assert.Equal(t, req.ID, rec.LeaveID)
	}

	// Cancel: balance restored, attendance reverted.
	cancelled, err := f.workflow.Cancel(ctx, req.ID, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusCancelled, cancelled.Request.Status)

	restore := cancelled.SideEffects.LedgerEntry
	require.NotNil(t, restore)
	assert.Equal(t, ledger.TypeRestored, restore.Type)
	assert.True(t, restore.BalanceAfter.Equal(days(15)))

	balance, err := f.ledger.CurrentBalance(ctx, "emp-1", ledger.CategoryEarned)
	require.NoError(t, err)
	assert.True(t, balance.Equal(days(15)))

	for _, d := range []time.Time{date(2025, time.January, 10), date(2025, time.January, 11)} {
		rec, err := f.store.Attendance().Get(ctx, "acme", "emp-1", d)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, attendance.StatusAbsent, rec.Status)
		assert.Empty(t, rec.LeaveID)
	}
}

func TestCancelPending_NoSideEffects(t *testing.T) {
	// GIVEN: A pending request (nothing debited, nothing synced)
	// WHEN: It is cancelled
	// THEN: No ledger entry and no attendance writes happen

	f := newFixture(t)
	ctx := context.Background()

	req := submit(t, f, date(2025, time.February, 3), date(2025, time.February, 4))
	result, err := f.workflow.Cancel(ctx, req.ID, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusCancelled, result.Request.Status)
	assert.Nil(t, result.SideEffects.LedgerEntry)
	assert.Nil(t, result.SideEffects.Sync)

	entries, err := f.ledger.History(ctx, ledger.HistoryQuery{EmployeeID: "emp-1"})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReject_OnlyFromPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := submit(t, f, date(2025, time.February, 3), date(2025, time.February, 4))
	result, err := f.workflow.Reject(ctx, req.ID, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusRejected, result.Request.Status)

	// A rejected request cannot be approved or cancelled.
	_, err = f.workflow.Approve(ctx, req.ID, "manager-1")
	assert.ErrorIs(t, err, leave.ErrInvalidState)
	_, err = f.workflow.Cancel(ctx, req.ID, "emp-1")
	assert.ErrorIs(t, err, leave.ErrInvalidState)
}

func TestApprove_Twice_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := submit(t, f, date(2025, time.February, 3), date(2025, time.February, 3))
	_, err := f.workflow.Approve(ctx, req.ID, "manager-1")
	require.NoError(t, err)

	_, err = f.workflow.Approve(ctx, req.ID, "manager-1")
	assert.ErrorIs(t, err, leave.ErrInvalidState)
}

// =============================================================================
// HALF DAYS
// =============================================================================

func TestHalfDay_DebitsHalf(t *testing.T) {
	// GIVEN: A half-day request for one day
	// WHEN: It is approved
	// THEN: The ledger debits 0.5

	f := newFixture(t)
	ctx := context.Background()

	req, err := f.workflow.Submit(ctx, leave.SubmitInput{
		EmployeeID: "emp-1",
		Category:   ledger.CategoryCasual,
		Dates:      fiscal.NewDateRange(date(2025, time.March, 7), date(2025, time.March, 7)),
		HalfDay:    true,
	})
	require.NoError(t, err)
	assert.True(t, req.NumberOfDays.Equal(days(0.5)))

	result, err := f.workflow.Approve(ctx, req.ID, "manager-1")
	require.NoError(t, err)
	require.NotNil(t, result.SideEffects.LedgerEntry)
	assert.True(t, result.SideEffects.LedgerEntry.Amount.Equal(days(-0.5)))
	assert.True(t, result.SideEffects.LedgerEntry.BalanceAfter.Equal(days(11.5)))
}

func TestHalfDay_MultiDayRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.workflow.Submit(context.Background(), leave.SubmitInput{
		EmployeeID: "emp-1",
		Category:   ledger.CategoryCasual,
		Dates:      fiscal.NewDateRange(date(2025, time.March, 7), date(2025, time.March, 8)),
		HalfDay:    true,
	})
	require.Error(t, err)
	assert.True(t, ledger.IsValidation(err))
}

// =============================================================================
// DATE MODIFICATION
// =============================================================================

func TestModifyDates_SettlesDeltaAndMovesAttendance(t *testing.T) {
	// GIVEN: An approved 3-day leave (Jan 10-12)
	// WHEN: It shrinks to 2 days (Jan 11-12)
	// THEN: One day is credited back and Jan 10 reverted

	f := newFixture(t)
	ctx := context.Background()

	req := submit(t, f, date(2025, time.January, 10), date(2025, time.January, 12))
	_, err := f.workflow.Approve(ctx, req.ID, "manager-1")
	require.NoError(t, err)

	result, err := f.workflow.ModifyDates(ctx, req.ID,
		fiscal.NewDateRange(date(2025, time.January, 11), date(2025, time.January, 12)), false, "manager-1")
	require.NoError(t, err)
	assert.True(t, result.Request.NumberOfDays.Equal(days(2)))

	adj := result.SideEffects.LedgerEntry
	require.NotNil(t, adj)
	assert.Equal(t, ledger.TypeAdjustment, adj.Type)
	assert.True(t, adj.Amount.Equal(days(1)), "3 - 2 = 1 day back")

	balance, err := f.ledger.CurrentBalance(ctx, "emp-1", ledger.CategoryEarned)
	require.NoError(t, err)
	assert.True(t, balance.Equal(days(13)))

	dropped, err := f.store.Attendance().Get(ctx, "acme", "emp-1", date(2025, time.January, 10))
	require.NoError(t, err)
	require.NotNil(t, dropped)
	assert.Equal(t, attendance.StatusAbsent, dropped.Status)

	kept, err := f.store.Attendance().Get(ctx, "acme", "emp-1", date(2025, time.January, 11))
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, attendance.StatusOnLeave, kept.Status)
}

func TestModifyDates_PendingRejected(t *testing.T) {
	f := newFixture(t)
	req := submit(t, f, date(2025, time.January, 10), date(2025, time.January, 12))

	_, err := f.workflow.ModifyDates(context.Background(), req.ID,
		fiscal.NewDateRange(date(2025, time.January, 11), date(2025, time.January, 12)), false, "manager-1")
	assert.ErrorIs(t, err, leave.ErrInvalidState)
}

// =============================================================================
// VALIDATION AND LOOKUPS
// =============================================================================

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.workflow.Submit(ctx, leave.SubmitInput{
		Category: ledger.CategoryEarned,
		Dates:    fiscal.NewDateRange(date(2025, time.January, 10), date(2025, time.January, 11)),
	})
	assert.True(t, ledger.IsValidation(err), "missing employee")

	_, err = f.workflow.Submit(ctx, leave.SubmitInput{
		EmployeeID: "emp-1",
		Category:   "sabbatical",
		Dates:      fiscal.NewDateRange(date(2025, time.January, 10), date(2025, time.January, 11)),
	})
	assert.True(t, ledger.IsValidation(err), "unknown category")

	_, err = f.workflow.Submit(ctx, leave.SubmitInput{
		EmployeeID: "emp-1",
		Category:   ledger.CategoryEarned,
		Dates:      fiscal.NewDateRange(date(2025, time.January, 11), date(2025, time.January, 10)),
	})
	assert.True(t, ledger.IsValidation(err), "inverted range")
}

func TestGetAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := submit(t, f, date(2025, time.April, 1), date(2025, time.April, 2))

	got, err := f.workflow.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)

	_, err = f.workflow.Get(ctx, "nope")
	assert.ErrorIs(t, err, leave.ErrNotFound)

	list, err := f.workflow.ListByEmployee(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, req.ID, list[0].ID)
}
