package tenant_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/ledger"
	"github.com/warp/leave-ledger/policy"
	"github.com/warp/leave-ledger/store/memory"
	"github.com/warp/leave-ledger/tenant"
)

func newResolver(t *testing.T) *tenant.Resolver {
	t.Helper()
	st := memory.New()
	return tenant.NewResolver(tenant.ResolverConfig{
		Tenants: []string{"acme", "globex"},
		Stores: tenant.Stores{
			Ledger:     st.Ledger(),
			Leaves:     st.Leaves(),
			Attendance: st.Attendance(),
			Employees:  st,
		},
		Policies: policy.NewStatic(map[string]policy.TenantConfig{
			"acme":   {},
			"globex": {FiscalYearStart: time.April},
		}),
	})
}

func TestResolve_UnknownTenant(t *testing.T) {
	// GIVEN: A registry of two tenants
	// WHEN: An unregistered or empty tenant is resolved
	// THEN: ErrNotFound, never an implicit empty tenant

	r := newResolver(t)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "initech")
	assert.ErrorIs(t, err, tenant.ErrNotFound)

	_, err = r.Resolve(ctx, "")
	assert.ErrorIs(t, err, tenant.ErrNotFound)
}

func TestResolve_CachesServiceGraph(t *testing.T) {
	// GIVEN: A tenant resolved once
	// WHEN: It is resolved again
	// THEN: The same graph comes back, so keyed locks stay stable

	r := newResolver(t)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "acme")
	require.NoError(t, err)
	second, err := r.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestResolve_TenantsAreIsolated(t *testing.T) {
	// GIVEN: The same employee ID in two tenants
	// WHEN: One tenant debits the employee's balance
	// THEN: The other tenant's balance never moves

	r := newResolver(t)
	ctx := context.Background()

	acme, err := r.Resolve(ctx, "acme")
	require.NoError(t, err)
	globex, err := r.Resolve(ctx, "globex")
	require.NoError(t, err)

	_, err = acme.Ledger.Adjust(ctx, "emp-1", ledger.CategoryEarned, decimal.NewFromInt(-4), "hr-1", "correction")
	require.NoError(t, err)

	acmeBalance, err := acme.Ledger.CurrentBalance(ctx, "emp-1", ledger.CategoryEarned)
	require.NoError(t, err)
	assert.Equal(t, "11", acmeBalance.String())

	globexBalance, err := globex.Ledger.CurrentBalance(ctx, "emp-1", ledger.CategoryEarned)
	require.NoError(t, err)
	assert.Equal(t, "15", globexBalance.String(), "untouched in the other tenant")
}

func TestResolve_FiscalStartFromPolicy(t *testing.T) {
	// GIVEN: globex runs an April fiscal year
	// THEN: Its resolved context labels years accordingly

	r := newResolver(t)
	ctx := context.Background()

	globex, err := r.Resolve(ctx, "globex")
	require.NoError(t, err)
	assert.Equal(t, time.April, globex.FiscalStart)
	assert.Equal(t, "2024-2025", globex.FiscalYear(time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)).Label())

	acme, err := r.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "2025", acme.FiscalYear(time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)).Label())
}

func TestResolve_BaseAllocationFollowsPolicy(t *testing.T) {
	// GIVEN: A fresh employee with no ledger history
	// THEN: The balance starts at the policy allocation, not zero

	r := newResolver(t)
	ctx := context.Background()

	acme, err := r.Resolve(ctx, "acme")
	require.NoError(t, err)

	balance, err := acme.Ledger.CurrentBalance(ctx, "emp-new", ledger.CategorySick)
	require.NoError(t, err)
	assert.Equal(t, "12", balance.String())
}

func TestTenants_SortedRegistry(t *testing.T) {
	r := newResolver(t)
	assert.Equal(t, []string{"acme", "globex"}, r.Tenants())
}
