/*
Package tenant binds the per-tenant service graph.

PURPOSE:
  Every service in this module (ledger, leave workflow, attendance sync,
  carry-forward) is constructed bound to exactly one tenant, and every
  store call it makes carries that tenant ID. The resolver is the only
  place the binding happens: it validates the tenant against the
  configured registry, builds the graph once, and caches it so the keyed
  mutexes inside the ledger and sync engine stay stable for the life of
  the process.

ISOLATION:
  An unknown tenant resolves to ErrNotFound, never to an empty implicit
  tenant. Cross-tenant reads are impossible by construction because no
  service holds more than its own tenant ID.
*/
package tenant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/leave-ledger/attendance"
	"github.com/warp/leave-ledger/carryforward"
	"github.com/warp/leave-ledger/fiscal"
	"github.com/warp/leave-ledger/keyed"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/ledger"
	"github.com/warp/leave-ledger/policy"
)

// ErrNotFound is returned when a tenant is not in the configured
// registry.
var ErrNotFound = errors.New("tenant not found")

// Stores bundles the storage backends the resolver wires into each
// tenant's service graph. All four share one backend in practice.
type Stores struct {
	Ledger     ledger.Store
	Leaves     leave.Store
	Attendance attendance.Store
	Employees  carryforward.EmployeeSource
}

// Context is the fully wired service graph for one tenant.
type Context struct {
	TenantID     string
	FiscalStart  time.Month
	Policies     policy.Source
	Ledger       *ledger.Service
	Attendance   *attendance.Engine
	Workflow     *leave.Workflow
	CarryForward *carryforward.Engine
	Leaves       leave.Store
}

// FiscalYear returns the tenant's fiscal year containing t.
func (c *Context) FiscalYear(t time.Time) fiscal.Year { return fiscal.ForDate(t, c.FiscalStart) }

// ResolverConfig wires a Resolver. Tenants is the registry; resolving
// any ID outside it fails.
type ResolverConfig struct {
	Tenants  []string
	Stores   Stores
	Policies policy.Source
	Log      logrus.FieldLogger
	Now      func() time.Time
}

// Resolver builds and caches tenant Contexts.
type Resolver struct {
	mu       sync.Mutex
	known    map[string]struct{}
	cache    map[string]*Context
	stores   Stores
	policies policy.Source
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewResolver(cfg ResolverConfig) *Resolver {
	r := &Resolver{
		known:    make(map[string]struct{}, len(cfg.Tenants)),
		cache:    make(map[string]*Context),
		stores:   cfg.Stores,
		policies: cfg.Policies,
		log:      cfg.Log,
		now:      cfg.Now,
	}
	for _, id := range cfg.Tenants {
		r.known[id] = struct{}{}
	}
	if r.log == nil {
		r.log = logrus.New()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Tenants returns the registered tenant IDs, sorted.
func (r *Resolver) Tenants() []string {
	out := make([]string, 0, len(r.known))
	for id := range r.known {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the cached service graph for the tenant, building it
// on first use. Unknown tenants get ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (*Context, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("empty tenant id: %w", ErrNotFound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if tc, ok := r.cache[tenantID]; ok {
		return tc, nil
	}
	if _, ok := r.known[tenantID]; !ok {
		return nil, fmt.Errorf("tenant %q: %w", tenantID, ErrNotFound)
	}

	tc, err := r.build(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	r.cache[tenantID] = tc
	return tc, nil
}

func (r *Resolver) build(ctx context.Context, tenantID string) (*Context, error) {
	fiscalStart, err := r.policies.FiscalYearStart(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve fiscal year start for %s: %w", tenantID, err)
	}

	log := r.log.WithField("tenant", tenantID)

	ledgerSvc := ledger.NewService(ledger.Config{
		TenantID:        tenantID,
		Store:           r.stores.Ledger,
		Locks:           keyed.NewMutex(),
		Log:             log,
		BaseAllocation:  r.baseAllocation(tenantID),
		FiscalYearStart: fiscalStart,
		Now:             r.now,
	})

	syncEngine := attendance.NewEngine(attendance.EngineConfig{
		TenantID: tenantID,
		Store:    r.stores.Attendance,
		Leaves:   &spanSource{store: r.stores.Leaves},
		Locks:    keyed.NewMutex(),
		Log:      log,
		Now:      r.now,
	})

	workflow := leave.NewWorkflow(leave.WorkflowConfig{
		TenantID: tenantID,
		Store:    r.stores.Leaves,
		Ledger:   ledgerSvc,
		Sync:     syncEngine,
		Log:      log,
		Now:      r.now,
	})

	carry := carryforward.NewEngine(carryforward.EngineConfig{
		TenantID:  tenantID,
		Ledger:    ledgerSvc,
		Policies:  r.policies,
		Employees: r.stores.Employees,
		Log:       log,
		Now:       r.now,
	})

	return &Context{
		TenantID:     tenantID,
		FiscalStart:  fiscalStart,
		Policies:     r.policies,
		Ledger:       ledgerSvc,
		Attendance:   syncEngine,
		Workflow:     workflow,
		CarryForward: carry,
		Leaves:       r.stores.Leaves,
	}, nil
}

// baseAllocation adapts the policy source into the ledger's
// fresh-employee default. Policy lookup failures fall back to zero;
// they are logged once at resolve time, not per balance read.
func (r *Resolver) baseAllocation(tenantID string) ledger.BaseAllocationFunc {
	return func(category ledger.Category) decimal.Decimal {
		p, err := r.policies.ForCategory(context.Background(), tenantID, category)
		if err != nil {
			return decimal.Zero
		}
		return p.AnnualAllocation
	}
}

// spanSource adapts the leave store to the narrow view the attendance
// backfill consumes.
type spanSource struct {
	store leave.Store
}

func (s *spanSource) ListApprovedSpans(ctx context.Context, tenantID string) ([]attendance.LeaveSpan, error) {
	reqs, err := s.store.ListApproved(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	spans := make([]attendance.LeaveSpan, 0, len(reqs))
	for i := range reqs {
		spans = append(spans, reqs[i].Span())
	}
	return spans, nil
}
