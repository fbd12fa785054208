/*
Package ledger maintains the append-only record of every change to an
employee's leave balance.

PURPOSE:
  Every balance-affecting event (allocation, usage, restoration,
  carry-forward, encashment, adjustment, expiry) is recorded as an
  immutable Entry. The current balance is always derived from the latest
  entry, never kept as a separate counter that can drift.

KEY CONCEPTS IN THIS FILE (types.go):
  - Category:  The leave category a balance belongs to (sick, earned, ...)
  - EntryType: What kind of balance event an entry records
  - Entry:     One immutable ledger record with its balance chain fields

DESIGN PRINCIPLES:
  1. Immutability: entries are never updated; erroneous entries are
     soft-deleted and compensated by a new reversing entry
  2. Precision: decimal.Decimal everywhere, half-days are exactly 0.5
  3. Chain invariant: BalanceAfter == BalanceBefore + Amount, always
  4. Tenant scoping: TenantID is a mandatory field on every entry

SEE ALSO:
  - ledger.go: The Service that owns append ordering and balance reads
  - store.go:  The persistence contract
*/
package ledger

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/fiscal"
)

// =============================================================================
// LEAVE CATEGORY
// =============================================================================

type Category string

const (
	CategoryCasual       Category = "casual"
	CategorySick         Category = "sick"
	CategoryEarned       Category = "earned"
	CategoryCompensatory Category = "compensatory"
	CategoryMaternity    Category = "maternity"
	CategoryPaternity    Category = "paternity"
	CategoryBereavement  Category = "bereavement"
	CategoryUnpaid       Category = "unpaid"
	CategorySpecial      Category = "special"
)

// Categories lists every known leave category, in a stable order.
func Categories() []Category {
	return []Category{
		CategoryCasual, CategorySick, CategoryEarned, CategoryCompensatory,
		CategoryMaternity, CategoryPaternity, CategoryBereavement,
		CategoryUnpaid, CategorySpecial,
	}
}

func (c Category) Valid() bool {
	switch c {
	case CategoryCasual, CategorySick, CategoryEarned, CategoryCompensatory,
		CategoryMaternity, CategoryPaternity, CategoryBereavement,
		CategoryUnpaid, CategorySpecial:
		return true
	}
	return false
}

// ParseCategory converts a wire string into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", &ValidationError{Field: "category", Reason: "unknown leave category: " + s}
	}
	return c, nil
}

// =============================================================================
// ENTRY TYPE
// =============================================================================

type EntryType string

const (
	TypeOpening      EntryType = "opening"       // re-bases a category's balance (new year, onboarding)
	TypeAllocated    EntryType = "allocated"     // periodic or ad hoc allocation credit
	TypeUsed         EntryType = "used"          // approved leave debit
	TypeRestored     EntryType = "restored"      // cancellation credit, reverses a used entry
	TypeCarryForward EntryType = "carry_forward" // balance moved in from the previous fiscal year
	TypeEncashed     EntryType = "encashed"      // balance paid out instead of taken
	TypeAdjustment   EntryType = "adjustment"    // manual correction by an operator
	TypeExpired      EntryType = "expired"       // carried balance lapsed past its validity window
)

func (t EntryType) Valid() bool {
	switch t {
	case TypeOpening, TypeAllocated, TypeUsed, TypeRestored,
		TypeCarryForward, TypeEncashed, TypeAdjustment, TypeExpired:
		return true
	}
	return false
}

// =============================================================================
// LEDGER ENTRY - Immutable, append-only
// =============================================================================

// Details carries the structured context of a balance event: the date
// range of the leave it relates to, and a free-form reason.
type Details struct {
	Dates  *fiscal.DateRange `json:"dates,omitempty"`
	Reason string            `json:"reason,omitempty"`
}

// Entry is one immutable record of a balance-affecting event.
//
// INVARIANTS:
//   - BalanceAfter == BalanceBefore + Amount
//   - Never mutated after creation; IsDeleted is the single exception,
//     flipped once to retract an erroneous entry (paired with a new
//     reversing entry, never a physical delete)
//   - RelatedRequestID is a back-reference for lookup, not ownership
type Entry struct {
	ID         string   `json:"id" validate:"required"`
	TenantID   string   `json:"tenantId" validate:"required"`
	EmployeeID string   `json:"employeeId" validate:"required"`
	Category   Category `json:"category" validate:"required"`

	Type          EntryType       `json:"type" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balanceBefore"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`

	RelatedRequestID string    `json:"relatedRequestId,omitempty"`
	OccurredAt       time.Time `json:"occurredAt" validate:"required"`
	FiscalYear       string    `json:"fiscalYear" validate:"required"`
	Description      string    `json:"description,omitempty"`
	Details          *Details  `json:"details,omitempty"`
	RecordedBy       string    `json:"recordedBy" validate:"required"`

	IsDeleted bool      `json:"isDeleted"`
	CreatedAt time.Time `json:"createdAt"`
}

var validate = validator.New()

// Validate checks an entry at the store boundary. Typed fields plus the
// balance chain arithmetic; stores must reject anything that fails here.
func (e *Entry) Validate() error {
	if err := validate.Struct(e); err != nil {
		return &ValidationError{Field: "entry", Reason: err.Error()}
	}
	if !e.Category.Valid() {
		return &ValidationError{Field: "category", Reason: "unknown leave category: " + string(e.Category)}
	}
	if !e.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "unknown transaction type: " + string(e.Type)}
	}
	if !e.BalanceAfter.Equal(e.BalanceBefore.Add(e.Amount)) {
		return &ValidationError{Field: "balanceAfter", Reason: "balance chain broken: after != before + amount"}
	}
	if e.Details != nil && e.Details.Dates != nil && !e.Details.Dates.Valid() {
		return &ValidationError{Field: "details.dates", Reason: "end date before start date"}
	}
	return nil
}

// =============================================================================
// BALANCE SUMMARY - Derived per-category view for reporting
// =============================================================================

// CategorySummary is the per-category view served to the admin/reporting
// API: how much was credited, how much consumed, and what remains.
type CategorySummary struct {
	Category          Category        `json:"category"`
	Total             decimal.Decimal `json:"total"`   // credits: opening, allocated, carry_forward, positive adjustments
	Used              decimal.Decimal `json:"used"`    // net usage: used minus restored
	Balance           decimal.Decimal `json:"balance"` // BalanceAfter of the latest entry
	LastTransactionAt time.Time       `json:"lastTransactionAt"`
}
