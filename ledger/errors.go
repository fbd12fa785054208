/*
errors.go - Error taxonomy for the ledger and the engines built on it

CATEGORIES:
  1. Fatal to the call:       ValidationError
  2. Retried internally:      ErrConcurrencyConflict (bounded retries,
                              surfaced only when retries are exhausted)
  3. Treated as success:      ErrDuplicateTransaction (idempotent re-runs)
  4. Collected, never raised: per-day / per-employee partial failures are
                              reported in result payloads (attendance.Report,
                              carryforward.TenantReport), not as errors

Domain packages wrap these with errors.Is/As-compatible context.
*/
package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrencyConflict means an append lost the race on what the
	// "latest" entry was. The Service retries these internally; callers
	// only see it once the retry budget is exhausted, at which point the
	// whole operation is safe to retry.
	ErrConcurrencyConflict = errors.New("concurrent ledger append conflict")

	// ErrDuplicateTransaction means an idempotent operation found its
	// ledger entry already present (e.g. carry-forward re-run for a year
	// that was already processed). Treated as success by callers.
	ErrDuplicateTransaction = errors.New("duplicate ledger transaction")

	// ErrEntryNotFound is returned for lookups of unknown entry IDs.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrInsufficientBalance is returned when a debit would be rejected
	// by policy (e.g. encashing more than the available balance).
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// ValidationError marks input that can never succeed: malformed date
// ranges, unknown categories, missing actors. Fatal to the single call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// IsRetryable reports whether the operation may succeed if re-run as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsValidation reports whether the error is bad client input.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
