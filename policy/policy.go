/*
Package policy holds the per-tenant, per-category leave configuration
consumed by the ledger (base allocations) and the carry-forward engine
(caps, eligibility, validity windows).

Allocations and carry-forward reset values are policy-driven, never
hardcoded per category: tenants override the shipped defaults through
configuration, and the engines read whatever the Source returns.
*/
package policy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/ledger"
)

// CarryForward controls year-end balance transfer for one category.
type CarryForward struct {
	Enabled                bool
	MaxCarryableDays       decimal.Decimal
	ValidityMonths         int
	MinimumEligibleBalance decimal.Decimal
}

// LeavePolicy is the full per-category configuration.
type LeavePolicy struct {
	Category         ledger.Category
	AnnualAllocation decimal.Decimal // base allocation per fiscal year; also the fresh-employee default
	CarryForward     CarryForward
}

// Source resolves policy for a tenant. Implementations must never return
// state from another tenant.
type Source interface {
	// ForCategory returns the policy for one category, falling back to
	// the shipped defaults when the tenant has no override.
	ForCategory(ctx context.Context, tenantID string, category ledger.Category) (LeavePolicy, error)

	// All returns the policy for every known category.
	All(ctx context.Context, tenantID string) ([]LeavePolicy, error)

	// FiscalYearStart returns the month the tenant's fiscal year begins.
	FiscalYearStart(ctx context.Context, tenantID string) (time.Month, error)
}

// Defaults returns the shipped per-category policy. Maternity, paternity,
// bereavement, unpaid and special leave never carry forward.
func Defaults() []LeavePolicy {
	d := func(v int) decimal.Decimal { return decimal.NewFromInt(int64(v)) }
	carry := func(max, min int) CarryForward {
		return CarryForward{Enabled: true, MaxCarryableDays: d(max), ValidityMonths: 3, MinimumEligibleBalance: d(min)}
	}
	none := CarryForward{}

	return []LeavePolicy{
		{Category: ledger.CategoryCasual, AnnualAllocation: d(12), CarryForward: none},
		{Category: ledger.CategorySick, AnnualAllocation: d(12), CarryForward: carry(5, 1)},
		{Category: ledger.CategoryEarned, AnnualAllocation: d(15), CarryForward: carry(10, 1)},
		{Category: ledger.CategoryCompensatory, AnnualAllocation: d(0), CarryForward: none},
		{Category: ledger.CategoryMaternity, AnnualAllocation: d(182), CarryForward: none},
		{Category: ledger.CategoryPaternity, AnnualAllocation: d(15), CarryForward: none},
		{Category: ledger.CategoryBereavement, AnnualAllocation: d(7), CarryForward: none},
		{Category: ledger.CategoryUnpaid, AnnualAllocation: d(0), CarryForward: none},
		{Category: ledger.CategorySpecial, AnnualAllocation: d(0), CarryForward: none},
	}
}

// =============================================================================
// STATIC SOURCE - Config-driven, per-tenant overrides on top of defaults
// =============================================================================

// TenantConfig is one tenant's policy override set.
type TenantConfig struct {
	FiscalYearStart time.Month
	Overrides       []LeavePolicy
}

// Static is an in-memory Source built from configuration at startup.
// It is immutable after construction and safe for concurrent use.
type Static struct {
	tenants map[string]staticTenant
}

type staticTenant struct {
	fiscalStart time.Month
	byCategory  map[ledger.Category]LeavePolicy
}

// NewStatic builds a Static source. Every tenant starts from Defaults();
// overrides replace the default for their category.
func NewStatic(tenants map[string]TenantConfig) *Static {
	s := &Static{tenants: make(map[string]staticTenant, len(tenants))}
	for id, cfg := range tenants {
		t := staticTenant{
			fiscalStart: cfg.FiscalYearStart,
			byCategory:  make(map[ledger.Category]LeavePolicy),
		}
		if t.fiscalStart == 0 {
			t.fiscalStart = time.January
		}
		for _, p := range Defaults() {
			t.byCategory[p.Category] = p
		}
		for _, p := range cfg.Overrides {
			t.byCategory[p.Category] = p
		}
		s.tenants[id] = t
	}
	return s
}

func (s *Static) ForCategory(_ context.Context, tenantID string, category ledger.Category) (LeavePolicy, error) {
	t, ok := s.tenants[tenantID]
	if !ok {
		return LeavePolicy{}, &ledger.ValidationError{Field: "tenantId", Reason: "no policy configured for tenant " + tenantID}
	}
	p, ok := t.byCategory[category]
	if !ok {
		return LeavePolicy{Category: category}, nil
	}
	return p, nil
}

func (s *Static) All(_ context.Context, tenantID string) ([]LeavePolicy, error) {
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, &ledger.ValidationError{Field: "tenantId", Reason: "no policy configured for tenant " + tenantID}
	}
	out := make([]LeavePolicy, 0, len(t.byCategory))
	for _, cat := range ledger.Categories() {
		if p, ok := t.byCategory[cat]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Static) FiscalYearStart(_ context.Context, tenantID string) (time.Month, error) {
	t, ok := s.tenants[tenantID]
	if !ok {
		return 0, &ledger.ValidationError{Field: "tenantId", Reason: "no policy configured for tenant " + tenantID}
	}
	return t.fiscalStart, nil
}
