/*
store.go - Persistence contract for ledger entries

APPEND-ONLY CONTRACT:
  - AppendEntry is the only way a balance changes
  - No update method exists; MarkDeleted flips the soft-delete flag and
    nothing else (retraction pairs it with a new reversing entry)
  - Reads filter IsDeleted entries out

CHAIN ENFORCEMENT:
  AppendEntry must atomically verify that the entry's BalanceBefore still
  equals the BalanceAfter of the latest non-deleted entry for the same
  (tenant, employee, category). A stale BalanceBefore means another writer
  got there first: the store returns ErrConcurrencyConflict and the
  Service retries with a fresh read. This is what keeps balance chains
  from interleaving even when the per-process lock doesn't cover all
  writers (multiple processes on one database).

TENANT SCOPING:
  Every method takes tenantID and implementations must filter on it.
  A read or write without a tenant filter is a programming error.

IMPLEMENTATIONS:
  - store/memory:   mutex-guarded maps, used by tests and dev mode
  - store/sqlite:   WAL-mode SQLite, chain check inside a transaction
  - store/postgres: pgx pool, chain check inside a transaction
*/
package ledger

import "context"

// HistoryQuery filters a ledger read. EmployeeID is required; Category
// and FiscalYear narrow the result when set.
type HistoryQuery struct {
	EmployeeID string
	Category   Category // optional
	FiscalYear string   // optional
}

// Store persists ledger entries for one backend. Append-only.
type Store interface {
	// AppendEntry persists a validated entry atomically. Returns
	// ErrConcurrencyConflict if entry.BalanceBefore no longer matches the
	// latest non-deleted entry's BalanceAfter for the same key.
	AppendEntry(ctx context.Context, entry *Entry) error

	// LatestEntry returns the most recent non-deleted entry for the key,
	// or nil when the employee has no history in this category.
	LatestEntry(ctx context.Context, tenantID, employeeID string, category Category) (*Entry, error)

	// ListEntries returns non-deleted entries matching the query, newest
	// first.
	ListEntries(ctx context.Context, tenantID string, q HistoryQuery) ([]Entry, error)

	// GetEntry returns an entry by ID, deleted or not, or ErrEntryNotFound.
	GetEntry(ctx context.Context, tenantID, entryID string) (*Entry, error)

	// HasEntry reports whether a non-deleted entry of the given type and
	// fiscal-year tag exists for the key. Drives idempotency checks for
	// carry-forward and expiry runs.
	HasEntry(ctx context.Context, tenantID, employeeID string, category Category, entryType EntryType, fiscalYear string) (bool, error)

	// MarkDeleted sets the soft-delete flag on an entry. The only
	// mutation the store permits.
	MarkDeleted(ctx context.Context, tenantID, entryID string) error
}
