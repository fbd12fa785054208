/*
dto.go - Request bodies and response wrappers for the HTTP API

PURPOSE:
  Defines the JSON structures for API communication. Domain types
  (ledger.Entry, leave.ActionResult, the sync and carry-forward reports)
  already carry JSON tags and are served directly; the types here are
  the inbound request bodies plus the standard error envelope.

VALIDATION:
  Request bodies are validated with validator/v10 struct tags before any
  domain call. Dates travel as "2006-01-02" strings and are parsed into
  day-normalized ranges.

SEE ALSO:
  - handlers.go: Uses these types
  - server.go: Router setup and middleware
*/
package api

import (
	"fmt"
	"time"

	"github.com/warp/leave-ledger/fiscal"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// AllocationRequest credits days to a category.
type AllocationRequest struct {
	Category    string  `json:"category" validate:"required"`
	Days        float64 `json:"days" validate:"required,gt=0"`
	Actor       string  `json:"actor" validate:"required"`
	Description string  `json:"description"`
}

// AdjustmentRequest records a signed manual correction.
type AdjustmentRequest struct {
	Category string  `json:"category" validate:"required"`
	Delta    float64 `json:"delta" validate:"required"`
	Actor    string  `json:"actor" validate:"required"`
	Reason   string  `json:"reason" validate:"required"`
}

// EncashmentRequest pays out days instead of taking them.
type EncashmentRequest struct {
	Category string  `json:"category" validate:"required"`
	Days     float64 `json:"days" validate:"required,gt=0"`
	Actor    string  `json:"actor" validate:"required"`
}

// RetractionRequest compensates an erroneous ledger entry.
type RetractionRequest struct {
	Actor  string `json:"actor" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

// SubmitLeaveRequest opens a new leave application.
type SubmitLeaveRequest struct {
	EmployeeID string `json:"employeeId" validate:"required"`
	Category   string `json:"category" validate:"required"`
	StartDate  string `json:"startDate" validate:"required"`
	EndDate    string `json:"endDate" validate:"required"`
	HalfDay    bool   `json:"halfDay"`
	Reason     string `json:"reason"`
}

// DecisionRequest carries the acting user for approve/reject/cancel.
type DecisionRequest struct {
	Actor string `json:"actor" validate:"required"`
}

// ModifyDatesRequest rewrites an approved leave's date range.
type ModifyDatesRequest struct {
	StartDate string `json:"startDate" validate:"required"`
	EndDate   string `json:"endDate" validate:"required"`
	HalfDay   bool   `json:"halfDay"`
	Actor     string `json:"actor" validate:"required"`
}

// CarryForwardRequest runs year-end carry-forward out of the named
// fiscal year.
type CarryForwardRequest struct {
	FiscalYear string `json:"fiscalYear" validate:"required"`
	Actor      string `json:"actor" validate:"required"`
}

// ExpirationRequest lapses carried balance whose validity has passed.
// AsOf defaults to now.
type ExpirationRequest struct {
	FiscalYear string `json:"fiscalYear" validate:"required"`
	AsOf       string `json:"asOf"`
	Actor      string `json:"actor" validate:"required"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

func parseDateRange(start, end string) (fiscal.DateRange, error) {
	s, err := parseDate(start)
	if err != nil {
		return fiscal.DateRange{}, err
	}
	e, err := parseDate(end)
	if err != nil {
		return fiscal.DateRange{}, err
	}
	return fiscal.NewDateRange(s, e), nil
}
