/*
ledger.go - The tenant-bound ledger service

PURPOSE:
  Owns the one true write path for balance changes. Appends are
  serialized per (employee, category) with a keyed mutex so the
  BalanceBefore/BalanceAfter chain never interleaves, and store-level
  conflicts (another process winning the race) are retried with a fresh
  balance read, bounded.

BALANCE MODEL:
  CurrentBalance is the BalanceAfter of the latest non-deleted entry.
  An employee with no history starts at the policy base allocation for
  the category (fresh onboarding), so the first debit chains from the
  allocation, not from zero.

CORRECTIONS:
  Entries are never edited. Retract appends a reversing adjustment and
  then flips the soft-delete flag on the original, preserving history.
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/leave-ledger/fiscal"
	"github.com/warp/leave-ledger/keyed"
)

// maxAppendRetries bounds how many times an append re-reads the latest
// balance after losing a cross-process race.
const maxAppendRetries = 3

// BaseAllocationFunc returns the policy-defined starting balance for a
// category, used when an employee has no ledger history yet.
type BaseAllocationFunc func(Category) decimal.Decimal

// Service is the ledger for one tenant. Construct it through the tenant
// resolver so the keyed mutex is shared by every caller in the process.
type Service struct {
	tenantID        string
	store           Store
	locks           *keyed.Mutex
	log             logrus.FieldLogger
	baseAllocation  BaseAllocationFunc
	fiscalStart     time.Month
	now             func() time.Time
}

// Config wires a Service. Store, TenantID and Locks are required.
type Config struct {
	TenantID        string
	Store           Store
	Locks           *keyed.Mutex
	Log             logrus.FieldLogger
	BaseAllocation  BaseAllocationFunc
	FiscalYearStart time.Month
	Now             func() time.Time // test hook; defaults to time.Now
}

func NewService(cfg Config) *Service {
	s := &Service{
		tenantID:       cfg.TenantID,
		store:          cfg.Store,
		locks:          cfg.Locks,
		log:            cfg.Log,
		baseAllocation: cfg.BaseAllocation,
		fiscalStart:    cfg.FiscalYearStart,
		now:            cfg.Now,
	}
	if s.locks == nil {
		s.locks = keyed.NewMutex()
	}
	if s.log == nil {
		s.log = logrus.New()
	}
	if s.baseAllocation == nil {
		s.baseAllocation = func(Category) decimal.Decimal { return decimal.Zero }
	}
	if s.fiscalStart == 0 {
		s.fiscalStart = time.January
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// TenantID returns the tenant this service is bound to.
func (s *Service) TenantID() string { return s.tenantID }

// =============================================================================
// APPEND
// =============================================================================

// AppendInput describes one balance transaction. Amount is signed:
// positive credits, negative debits.
type AppendInput struct {
	EmployeeID       string
	Category         Category
	Type             EntryType
	Amount           decimal.Decimal
	RelatedRequestID string
	Description      string
	Details          *Details
	RecordedBy       string
	OccurredAt       time.Time // defaults to now
	FiscalYear       string    // defaults to the fiscal year of OccurredAt
}

// Append records one balance transaction. It computes BalanceBefore from
// the latest non-deleted entry (or the base allocation for a fresh
// employee), inside a per (employee, category) critical section, and
// retries a bounded number of times if the store detects that another
// writer advanced the chain first.
func (s *Service) Append(ctx context.Context, in AppendInput) (*Entry, error) {
	if in.EmployeeID == "" {
		return nil, &ValidationError{Field: "employeeId", Reason: "required"}
	}
	if !in.Category.Valid() {
		return nil, &ValidationError{Field: "category", Reason: "unknown leave category: " + string(in.Category)}
	}
	if !in.Type.Valid() {
		return nil, &ValidationError{Field: "type", Reason: "unknown transaction type: " + string(in.Type)}
	}
	if in.RecordedBy == "" {
		return nil, &ValidationError{Field: "recordedBy", Reason: "required"}
	}

	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}
	fiscalYear := in.FiscalYear
	if fiscalYear == "" {
		fiscalYear = fiscal.ForDate(occurredAt, s.fiscalStart).Label()
	}

	key := s.key(in.EmployeeID, in.Category)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	var lastErr error
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		before, err := s.currentBalanceLocked(ctx, in.EmployeeID, in.Category)
		if err != nil {
			return nil, err
		}

		entry := &Entry{
			ID:               uuid.NewString(),
			TenantID:         s.tenantID,
			EmployeeID:       in.EmployeeID,
			Category:         in.Category,
			Type:             in.Type,
			Amount:           in.Amount,
			BalanceBefore:    before,
			BalanceAfter:     before.Add(in.Amount),
			RelatedRequestID: in.RelatedRequestID,
			OccurredAt:       occurredAt,
			FiscalYear:       fiscalYear,
			Description:      in.Description,
			Details:          in.Details,
			RecordedBy:       in.RecordedBy,
			CreatedAt:        s.now(),
		}
		if err := entry.Validate(); err != nil {
			return nil, err
		}

		err = s.store.AppendEntry(ctx, entry)
		if err == nil {
			return entry, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		s.log.WithFields(logrus.Fields{
			"employee": in.EmployeeID,
			"category": in.Category,
			"attempt":  attempt + 1,
		}).Warn("ledger append lost balance race, retrying")
	}
	return nil, fmt.Errorf("append for %s/%s exhausted %d retries: %w",
		in.EmployeeID, in.Category, maxAppendRetries, lastErr)
}

// =============================================================================
// READS
// =============================================================================

// CurrentBalance returns the BalanceAfter of the latest entry, or the
// policy base allocation when the employee has no history yet.
func (s *Service) CurrentBalance(ctx context.Context, employeeID string, category Category) (decimal.Decimal, error) {
	if !category.Valid() {
		return decimal.Zero, &ValidationError{Field: "category", Reason: "unknown leave category: " + string(category)}
	}
	return s.currentBalanceLocked(ctx, employeeID, category)
}

func (s *Service) currentBalanceLocked(ctx context.Context, employeeID string, category Category) (decimal.Decimal, error) {
	latest, err := s.store.LatestEntry(ctx, s.tenantID, employeeID, category)
	if err != nil {
		return decimal.Zero, err
	}
	if latest == nil {
		return s.baseAllocation(category), nil
	}
	return latest.BalanceAfter, nil
}

// History returns non-deleted entries matching the query, newest first.
func (s *Service) History(ctx context.Context, q HistoryQuery) ([]Entry, error) {
	if q.EmployeeID == "" {
		return nil, &ValidationError{Field: "employeeId", Reason: "required"}
	}
	if q.Category != "" && !q.Category.Valid() {
		return nil, &ValidationError{Field: "category", Reason: "unknown leave category: " + string(q.Category)}
	}
	return s.store.ListEntries(ctx, s.tenantID, q)
}

// HasEntry reports whether a non-deleted entry with the given type and
// fiscal-year tag exists. Used by idempotent year-end runs.
func (s *Service) HasEntry(ctx context.Context, employeeID string, category Category, entryType EntryType, fiscalYear string) (bool, error) {
	return s.store.HasEntry(ctx, s.tenantID, employeeID, category, entryType, fiscalYear)
}

// Summary builds the per-category reporting view from the full history.
//
// Definitions: Total sums credits that grant balance (opening, allocated,
// carry_forward, positive adjustments). Used is net consumption (used
// debits minus restored credits). Balance is the latest BalanceAfter.
func (s *Service) Summary(ctx context.Context, employeeID string) ([]CategorySummary, error) {
	if employeeID == "" {
		return nil, &ValidationError{Field: "employeeId", Reason: "required"}
	}

	var out []CategorySummary
	for _, cat := range Categories() {
		entries, err := s.store.ListEntries(ctx, s.tenantID, HistoryQuery{EmployeeID: employeeID, Category: cat})
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			continue
		}

		sum := CategorySummary{Category: cat}
		for _, e := range entries {
			switch e.Type {
			case TypeOpening, TypeAllocated, TypeCarryForward:
				sum.Total = sum.Total.Add(e.Amount)
			case TypeAdjustment:
				if e.Amount.IsPositive() {
					sum.Total = sum.Total.Add(e.Amount)
				}
			case TypeUsed:
				sum.Used = sum.Used.Add(e.Amount.Neg())
			case TypeRestored:
				sum.Used = sum.Used.Sub(e.Amount)
			}
			if e.OccurredAt.After(sum.LastTransactionAt) {
				sum.LastTransactionAt = e.OccurredAt
			}
		}
		// Entries are newest first.
		sum.Balance = entries[0].BalanceAfter
		out = append(out, sum)
	}
	return out, nil
}

// =============================================================================
// CONVENIENCE OPERATIONS
// =============================================================================

// Allocate credits days to a category (periodic or ad hoc allocation).
func (s *Service) Allocate(ctx context.Context, employeeID string, category Category, days decimal.Decimal, actor, description string) (*Entry, error) {
	if !days.IsPositive() {
		return nil, &ValidationError{Field: "days", Reason: "allocation must be positive"}
	}
	return s.Append(ctx, AppendInput{
		EmployeeID:  employeeID,
		Category:    category,
		Type:        TypeAllocated,
		Amount:      days,
		Description: description,
		RecordedBy:  actor,
	})
}

// Adjust records a signed manual correction.
func (s *Service) Adjust(ctx context.Context, employeeID string, category Category, delta decimal.Decimal, actor, reason string) (*Entry, error) {
	if delta.IsZero() {
		return nil, &ValidationError{Field: "delta", Reason: "adjustment must be non-zero"}
	}
	return s.Append(ctx, AppendInput{
		EmployeeID:  employeeID,
		Category:    category,
		Type:        TypeAdjustment,
		Amount:      delta,
		Description: reason,
		Details:     &Details{Reason: reason},
		RecordedBy:  actor,
	})
}

// Encash debits days that are paid out instead of taken. Rejected when it
// would push the balance negative.
func (s *Service) Encash(ctx context.Context, employeeID string, category Category, days decimal.Decimal, actor string) (*Entry, error) {
	if !days.IsPositive() {
		return nil, &ValidationError{Field: "days", Reason: "encashment must be positive"}
	}

	key := s.key(employeeID, category)
	s.locks.Lock(key)
	balance, err := s.currentBalanceLocked(ctx, employeeID, category)
	s.locks.Unlock(key)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(days) {
		return nil, fmt.Errorf("encash %s from balance %s: %w", days, balance, ErrInsufficientBalance)
	}

	return s.Append(ctx, AppendInput{
		EmployeeID:  employeeID,
		Category:    category,
		Type:        TypeEncashed,
		Amount:      days.Neg(),
		Description: "leave encashment",
		RecordedBy:  actor,
	})
}

// Retract compensates an erroneous entry: appends a reversing adjustment
// and then soft-deletes the original. The original stays in storage for
// audit; future appends chain past it.
func (s *Service) Retract(ctx context.Context, entryID, actor, reason string) (*Entry, error) {
	original, err := s.store.GetEntry(ctx, s.tenantID, entryID)
	if err != nil {
		return nil, err
	}
	if original.IsDeleted {
		return nil, fmt.Errorf("entry %s already retracted: %w", entryID, ErrDuplicateTransaction)
	}

	reversing, err := s.Append(ctx, AppendInput{
		EmployeeID:       original.EmployeeID,
		Category:         original.Category,
		Type:             TypeAdjustment,
		Amount:           original.Amount.Neg(),
		RelatedRequestID: original.RelatedRequestID,
		Description:      fmt.Sprintf("retraction of entry %s: %s", original.ID, reason),
		Details:          &Details{Reason: reason},
		RecordedBy:       actor,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.MarkDeleted(ctx, s.tenantID, original.ID); err != nil {
		// The reversing entry already landed, so the balance is correct
		// either way; report the flag failure for the operator.
		s.log.WithField("entry", original.ID).WithError(err).Warn("retraction: reversing entry recorded but delete flag failed")
		return reversing, err
	}
	return reversing, nil
}

func (s *Service) key(employeeID string, category Category) string {
	return s.tenantID + "/" + employeeID + "/" + string(category)
}
