package carryforward_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/carryforward"
	"github.com/warp/leave-ledger/fiscal"
	"github.com/warp/leave-ledger/ledger"
	"github.com/warp/leave-ledger/policy"
	"github.com/warp/leave-ledger/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	engine *carryforward.Engine
	ledger *ledger.Service
	store  *memory.Store
}

// Default policy: earned carries up to 10 days, sick up to 5, casual not
// at all. Base allocations mirror the annual allocations so a fresh
// employee's balance lines up with policy.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	policies := policy.NewStatic(map[string]policy.TenantConfig{"acme": {}})

	ledgerSvc := ledger.NewService(ledger.Config{
		TenantID: "acme",
		Store:    st.Ledger(),
		BaseAllocation: func(c ledger.Category) decimal.Decimal {
			switch c {
			case ledger.CategoryEarned:
				return decimal.NewFromInt(15)
			case ledger.CategorySick:
				return decimal.NewFromInt(12)
			default:
				return decimal.Zero
			}
		},
	})
	engine := carryforward.NewEngine(carryforward.EngineConfig{
		TenantID:  "acme",
		Ledger:    ledgerSvc,
		Policies:  policies,
		Employees: st,
	})
	return &fixture{engine: engine, ledger: ledgerSvc, store: st}
}

func days(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func findResult(t *testing.T, results []carryforward.Result, cat ledger.Category) carryforward.Result {
	t.Helper()
	for _, r := range results {
		if r.Category == cat {
			return r
		}
	}
	t.Fatalf("no result for category %s", cat)
	return carryforward.Result{}
}

// fy2025 is a January-start fiscal year; carried balance expires 3 months
// into 2026 under the default validity window.
var fy2025 = fiscal.NewYear(2025, time.January)

// =============================================================================
// CALCULATE
// =============================================================================

func TestCalculate_CapsAtPolicyMaximum(t *testing.T) {
	// GIVEN: An earned balance of 12 against a 10-day carry cap
	// WHEN: The year-end projection is computed
	// THEN: Only 10 days carry, and the projection names both years

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Adjust(ctx, "emp-1", ledger.CategoryEarned, days(-3), "hr-1", "correction")
	require.NoError(t, err)

	projections, err := f.engine.Calculate(ctx, "emp-1", fy2025)
	require.NoError(t, err)

	var earned *carryforward.Projection
	for i := range projections {
		if projections[i].Category == ledger.CategoryEarned {
			earned = &projections[i]
		}
	}
	require.NotNil(t, earned)
	assert.True(t, earned.FromBalance.Equal(days(12)))
	assert.True(t, earned.Amount.Equal(days(10)), "capped at MaxCarryableDays")
	assert.Equal(t, "2025", earned.FromYear)
	assert.Equal(t, "2026", earned.ToYear)
	assert.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), earned.ExpiryDate)
}

func TestCalculate_SkipsBelowEligibilityMinimum(t *testing.T) {
	// GIVEN: A sick balance of 0.5 against a minimum of 1
	// THEN: Sick leave produces no projection

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Adjust(ctx, "emp-1", ledger.CategorySick, days(-11.5), "hr-1", "correction")
	require.NoError(t, err)

	projections, err := f.engine.Calculate(ctx, "emp-1", fy2025)
	require.NoError(t, err)
	for _, p := range projections {
		assert.NotEqual(t, ledger.CategorySick, p.Category)
	}
}

func TestCalculate_SkipsDisabledCategories(t *testing.T) {
	f := newFixture(t)
	projections, err := f.engine.Calculate(context.Background(), "emp-1", fy2025)
	require.NoError(t, err)
	for _, p := range projections {
		assert.NotEqual(t, ledger.CategoryCasual, p.Category, "casual never carries")
	}
}

func TestCalculate_RequiresEmployee(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Calculate(context.Background(), "", fy2025)
	assert.True(t, ledger.IsValidation(err))
}

// =============================================================================
// EXECUTE
// =============================================================================

func TestExecute_AppendsCarryAndOpeningPair(t *testing.T) {
	// GIVEN: An employee who used 3 earned days in 2025 (balance 12)
	// WHEN: Carry-forward runs for 2025
	// THEN: 10 days carry (tagged 2025), the opening re-bases to 25
	//       (tagged 2026), and the balance lands on allocation + carried

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Adjust(ctx, "emp-1", ledger.CategoryEarned, days(-3), "hr-1", "correction")
	require.NoError(t, err)

	results, err := f.engine.Execute(ctx, "emp-1", fy2025, "system")
	require.NoError(t, err)

	earned := findResult(t, results, ledger.CategoryEarned)
	assert.False(t, earned.Skipped)
	assert.True(t, earned.Amount.Equal(days(10)))
	assert.True(t, earned.NewBalance.Equal(days(25)), "15 allocation + 10 carried")

	require.NotNil(t, earned.CarryEntry)
	assert.Equal(t, ledger.TypeCarryForward, earned.CarryEntry.Type)
	assert.Equal(t, "2025", earned.CarryEntry.FiscalYear)
	assert.True(t, earned.CarryEntry.Amount.Equal(days(10)))

	require.NotNil(t, earned.OpeningEntry)
	assert.Equal(t, ledger.TypeOpening, earned.OpeningEntry.Type)
	assert.Equal(t, "2026", earned.OpeningEntry.FiscalYear)

	balance, err := f.ledger.CurrentBalance(ctx, "emp-1", ledger.CategoryEarned)
	require.NoError(t, err)
	assert.True(t, balance.Equal(days(25)))
}

func TestExecute_Idempotent(t *testing.T) {
	// GIVEN: A carry-forward already executed for the year
	// WHEN: The same run fires again
	// THEN: Everything is skipped and the balance does not move

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Execute(ctx, "emp-1", fy2025, "system")
	require.NoError(t, err)
	before, err := f.ledger.CurrentBalance(ctx, "emp-1", ledger.CategoryEarned)
	require.NoError(t, err)

	results, err := f.engine.Execute(ctx, "emp-1", fy2025, "system")
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Skipped)
		assert.Contains(t, r.Reason, "already processed")
	}

	after, err := f.ledger.CurrentBalance(ctx, "emp-1", ledger.CategoryEarned)
	require.NoError(t, err)
	assert.True(t, after.Equal(before), "no double credit")
}

func TestExecute_RepairsHalfAppliedRun(t *testing.T) {
	// GIVEN: A crash left the carry entry recorded but no opening re-base
	// WHEN: The run is retried
	// THEN: The recorded amount is recovered and only the opening appended

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Append(ctx, ledger.AppendInput{
		EmployeeID: "emp-1",
		Category:   ledger.CategoryEarned,
		Type:       ledger.TypeCarryForward,
		Amount:     days(10),
		FiscalYear: "2025",
		RecordedBy: "system",
	})
	require.NoError(t, err)

	results, err := f.engine.Execute(ctx, "emp-1", fy2025, "system")
	require.NoError(t, err)

	earned := findResult(t, results, ledger.CategoryEarned)
	assert.False(t, earned.Skipped)
	assert.Contains(t, earned.Reason, "recovered partial run")
	assert.Nil(t, earned.CarryEntry, "carry was already recorded")
	require.NotNil(t, earned.OpeningEntry)
	assert.True(t, earned.NewBalance.Equal(days(25)))

	history, err := f.ledger.History(ctx, ledger.HistoryQuery{EmployeeID: "emp-1", Category: ledger.CategoryEarned})
	require.NoError(t, err)
	carries := 0
	for _, e := range history {
		if e.Type == ledger.TypeCarryForward {
			carries++
		}
	}
	assert.Equal(t, 1, carries, "repair never duplicates the carry")
}

func TestExecute_SkipsWhenNothingToCarry(t *testing.T) {
	// GIVEN: A sick balance drained to zero eligibility
	// THEN: Sick is skipped and no ledger entry is written

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Adjust(ctx, "emp-1", ledger.CategorySick, days(-12), "hr-1", "correction")
	require.NoError(t, err)

	results, err := f.engine.Execute(ctx, "emp-1", fy2025, "system")
	require.NoError(t, err)

	sick := findResult(t, results, ledger.CategorySick)
	assert.True(t, sick.Skipped)
	assert.Nil(t, sick.CarryEntry)
	assert.Nil(t, sick.OpeningEntry)
}

// =============================================================================
// TENANT-WIDE RUNS
// =============================================================================

func TestExecuteForTenant_CoversActiveEmployeesOnly(t *testing.T) {
	// GIVEN: Two active employees and one inactive
	// WHEN: The tenant-wide run fires
	// THEN: Only the active pair is processed

	f := newFixture(t)
	f.store.AddEmployee("acme", "emp-1", true)
	f.store.AddEmployee("acme", "emp-2", true)
	f.store.AddEmployee("acme", "emp-3", false)

	report, err := f.engine.ExecuteForTenant(context.Background(), fy2025, "system")
	require.NoError(t, err)
	assert.Equal(t, "2025", report.FiscalYear)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Outcomes, 2)
	for _, o := range report.Outcomes {
		assert.Empty(t, o.Err)
	}
}

func TestExecuteForTenant_StopsOnCancelledContext(t *testing.T) {
	f := newFixture(t)
	f.store.AddEmployee("acme", "emp-1", true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.engine.ExecuteForTenant(ctx, fy2025, "system")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, report.Processed)
}

// =============================================================================
// EXPIRY
// =============================================================================

func TestExpireLapsed_WritesOffRemainingCarriedBalance(t *testing.T) {
	// GIVEN: 10 earned days carried into 2026, 20 spent since (balance 5)
	// WHEN: Expiry runs after the 3-month validity window
	// THEN: Only the surviving 5 days lapse, never the full carry

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Execute(ctx, "emp-1", fy2025, "system")
	require.NoError(t, err)

	_, err = f.ledger.Adjust(ctx, "emp-1", ledger.CategoryEarned, days(-20), "hr-1", "spent in new year")
	require.NoError(t, err)

	results, err := f.engine.ExpireLapsed(ctx, "emp-1", fy2025,
		time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), "system")
	require.NoError(t, err)

	earned := findResult(t, results, ledger.CategoryEarned)
	assert.False(t, earned.Skipped)
	assert.True(t, earned.Amount.Equal(days(5)), "lapse capped at remaining balance")
	require.NotNil(t, earned.CarryEntry)
	assert.Equal(t, ledger.TypeExpired, earned.CarryEntry.Type)
	assert.Equal(t, "2026", earned.CarryEntry.FiscalYear)

	balance, err := f.ledger.CurrentBalance(ctx, "emp-1", ledger.CategoryEarned)
	require.NoError(t, err)
	assert.True(t, balance.Equal(days(0)))
}

func TestExpireLapsed_SkipsInsideValidityWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Execute(ctx, "emp-1", fy2025, "system")
	require.NoError(t, err)

	results, err := f.engine.ExpireLapsed(ctx, "emp-1", fy2025,
		time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC), "system")
	require.NoError(t, err)

	earned := findResult(t, results, ledger.CategoryEarned)
	assert.True(t, earned.Skipped)
	assert.Contains(t, earned.Reason, "validity window still open")
}

func TestExpireLapsed_Idempotent(t *testing.T) {
	// GIVEN: A lapse already written off
	// WHEN: Expiry runs again
	// THEN: Nothing further is debited

	f := newFixture(t)
	ctx := context.Background()
	asOf := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.engine.Execute(ctx, "emp-1", fy2025, "system")
	require.NoError(t, err)
	_, err = f.engine.ExpireLapsed(ctx, "emp-1", fy2025, asOf, "system")
	require.NoError(t, err)

	before, err := f.ledger.CurrentBalance(ctx, "emp-1", ledger.CategoryEarned)
	require.NoError(t, err)

	results, err := f.engine.ExpireLapsed(ctx, "emp-1", fy2025, asOf, "system")
	require.NoError(t, err)
	earned := findResult(t, results, ledger.CategoryEarned)
	assert.True(t, earned.Skipped)
	assert.Contains(t, earned.Reason, "already expired")

	after, err := f.ledger.CurrentBalance(ctx, "emp-1", ledger.CategoryEarned)
	require.NoError(t, err)
	assert.True(t, after.Equal(before))
}
