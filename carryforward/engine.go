/*
Package carryforward moves unused leave balance across fiscal-year
boundaries under per-category policy caps.

PURPOSE:
  At year end, each eligible (employee, category) balance is carried into
  the new year as a pair of ledger entries: a carry_forward credit tagged
  with the closing year, then an opening entry that re-bases the new
  year's balance to (policy base allocation + carried amount). The old
  balance never silently rolls over; the re-base is explicit and
  auditable.

IDEMPOTENCY:
  Execute checks for an existing carry_forward entry with the closing
  year's tag before appending. A re-run for an already-processed
  employee/year is a no-op success, and a run that crashed between the
  pair's two entries is repaired on the next attempt (the missing opening
  entry is appended from the recorded carry amount).

BATCHES:
  ExecuteForTenant walks every active employee, isolating failures per
  employee and honoring context cancellation between iterations. Each
  employee's pair of appends is its own work unit; a cancelled batch
  leaves completed employees fully processed and untouched ones
  untouched.
*/
package carryforward

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/leave-ledger/fiscal"
	"github.com/warp/leave-ledger/ledger"
	"github.com/warp/leave-ledger/policy"
)

// EmployeeSource lists the employees a tenant-wide run covers.
type EmployeeSource interface {
	ListActive(ctx context.Context, tenantID string) ([]string, error)
}

// Engine runs carry-forward for one tenant.
type Engine struct {
	tenantID  string
	ledger    *ledger.Service
	policies  policy.Source
	employees EmployeeSource
	log       logrus.FieldLogger
	now       func() time.Time
}

// EngineConfig wires an Engine. Ledger, Policies and TenantID are
// required; Employees is only needed for ExecuteForTenant.
type EngineConfig struct {
	TenantID  string
	Ledger    *ledger.Service
	Policies  policy.Source
	Employees EmployeeSource
	Log       logrus.FieldLogger
	Now       func() time.Time
}

func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		tenantID:  cfg.TenantID,
		ledger:    cfg.Ledger,
		policies:  cfg.Policies,
		employees: cfg.Employees,
		log:       cfg.Log,
		now:       cfg.Now,
	}
	if e.log == nil {
		e.log = logrus.New()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// =============================================================================
// CALCULATE - Pure preview, no side effects
// =============================================================================

// Projection is one category's computed carry-forward.
type Projection struct {
	Category    ledger.Category `json:"category"`
	FromBalance decimal.Decimal `json:"fromBalance"`
	Amount      decimal.Decimal `json:"carryForwardAmount"`
	ExpiryDate  time.Time       `json:"expiryDate"`
	FromYear    string          `json:"fromFiscalYear"`
	ToYear      string          `json:"toFiscalYear"`
}

// Calculate previews the carry-forward for one employee at the end of
// fiscal year from. Categories without an enabled policy are skipped, as
// are balances below the minimum eligibility threshold. The carried
// amount is capped at MaxCarryableDays and expires ValidityMonths into
// the new year.
func (e *Engine) Calculate(ctx context.Context, employeeID string, from fiscal.Year) ([]Projection, error) {
	if employeeID == "" {
		return nil, &ledger.ValidationError{Field: "employeeId", Reason: "required"}
	}
	all, err := e.policies.All(ctx, e.tenantID)
	if err != nil {
		return nil, err
	}

	var out []Projection
	for _, p := range all {
		if !p.CarryForward.Enabled {
			continue
		}
		balance, err := e.ledger.CurrentBalance(ctx, employeeID, p.Category)
		if err != nil {
			return nil, err
		}
		if balance.LessThan(p.CarryForward.MinimumEligibleBalance) {
			continue
		}
		amount := decimal.Min(balance, p.CarryForward.MaxCarryableDays)
		if !amount.IsPositive() {
			continue
		}
		out = append(out, Projection{
			Category:    p.Category,
			FromBalance: balance,
			Amount:      amount,
			ExpiryDate:  e.expiry(from, p.CarryForward.ValidityMonths),
			FromYear:    from.Label(),
			ToYear:      from.Next().Label(),
		})
	}
	return out, nil
}

// =============================================================================
// EXECUTE - One employee, all categories
// =============================================================================

// Result is one category's outcome in an Execute run.
type Result struct {
	Category     ledger.Category `json:"category"`
	Amount       decimal.Decimal `json:"carryForwardAmount"`
	NewBalance   decimal.Decimal `json:"newBalance"`
	Skipped      bool            `json:"skipped"`
	Reason       string          `json:"reason,omitempty"`
	CarryEntry   *ledger.Entry   `json:"carryEntry,omitempty"`
	OpeningEntry *ledger.Entry   `json:"openingEntry,omitempty"`
}

// Execute applies the carry-forward for one employee. Per enabled
// category it appends the carry_forward credit (unless one already
// exists for the closing year) and the opening re-base for the new year
// (unless one already exists), so re-runs and crash recovery converge on
// the same ledger state without double-crediting.
func (e *Engine) Execute(ctx context.Context, employeeID string, from fiscal.Year, actor string) ([]Result, error) {
	if employeeID == "" {
		return nil, &ledger.ValidationError{Field: "employeeId", Reason: "required"}
	}
	if actor == "" {
		return nil, &ledger.ValidationError{Field: "actor", Reason: "required"}
	}
	all, err := e.policies.All(ctx, e.tenantID)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, p := range all {
		if !p.CarryForward.Enabled {
			continue
		}
		res, err := e.executeCategory(ctx, employeeID, from, actor, p)
		if err != nil {
			return results, fmt.Errorf("carry forward %s/%s: %w", employeeID, p.Category, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) executeCategory(ctx context.Context, employeeID string, from fiscal.Year, actor string, p policy.LeavePolicy) (Result, error) {
	fromLabel := from.Label()
	toLabel := from.Next().Label()
	res := Result{Category: p.Category}

	hasCarry, err := e.ledger.HasEntry(ctx, employeeID, p.Category, ledger.TypeCarryForward, fromLabel)
	if err != nil {
		return res, err
	}
	hasOpening, err := e.ledger.HasEntry(ctx, employeeID, p.Category, ledger.TypeOpening, toLabel)
	if err != nil {
		return res, err
	}

	if hasCarry && hasOpening {
		// Already processed for this year: no-op success, never a
		// double credit.
		res.Skipped = true
		res.Reason = "already processed for " + fromLabel
		return res, nil
	}

	carried := decimal.Zero
	switch {
	case hasCarry:
		// A previous run recorded the carry but crashed before the
		// re-base. Recover the amount and finish the pair.
		carried, err = e.recordedCarry(ctx, employeeID, p.Category, fromLabel)
		if err != nil {
			return res, err
		}
		res.Reason = "recovered partial run for " + fromLabel

	default:
		balance, err := e.ledger.CurrentBalance(ctx, employeeID, p.Category)
		if err != nil {
			return res, err
		}
		if balance.LessThan(p.CarryForward.MinimumEligibleBalance) {
			res.Skipped = true
			res.Reason = fmt.Sprintf("balance %s below eligibility minimum %s", balance, p.CarryForward.MinimumEligibleBalance)
			return res, nil
		}
		carried = decimal.Min(balance, p.CarryForward.MaxCarryableDays)
		if !carried.IsPositive() {
			// Zero carry produces no ledger entry at all.
			res.Skipped = true
			res.Reason = "nothing to carry"
			return res, nil
		}

		entry, err := e.ledger.Append(ctx, ledger.AppendInput{
			EmployeeID:  employeeID,
			Category:    p.Category,
			Type:        ledger.TypeCarryForward,
			Amount:      carried,
			FiscalYear:  fromLabel,
			Description: fmt.Sprintf("carry forward %s -> %s, expires %s", fromLabel, toLabel, e.expiry(from, p.CarryForward.ValidityMonths).Format("2006-01-02")),
			RecordedBy:  actor,
		})
		if err != nil {
			return res, err
		}
		res.CarryEntry = entry
	}
	res.Amount = carried

	if !hasOpening {
		// Explicit re-base: the new year starts at base allocation plus
		// the carried amount, regardless of where the old balance ended.
		current, err := e.ledger.CurrentBalance(ctx, employeeID, p.Category)
		if err != nil {
			return res, err
		}
		target := p.AnnualAllocation.Add(carried)
		entry, err := e.ledger.Append(ctx, ledger.AppendInput{
			EmployeeID:  employeeID,
			Category:    p.Category,
			Type:        ledger.TypeOpening,
			Amount:      target.Sub(current),
			FiscalYear:  toLabel,
			Description: fmt.Sprintf("opening balance for %s (allocation %s + carried %s)", toLabel, p.AnnualAllocation, carried),
			RecordedBy:  actor,
		})
		if err != nil {
			return res, err
		}
		res.OpeningEntry = entry
		res.NewBalance = target
	}
	return res, nil
}

// recordedCarry reads back the amount of an already-appended
// carry_forward entry for the year.
func (e *Engine) recordedCarry(ctx context.Context, employeeID string, category ledger.Category, fromLabel string) (decimal.Decimal, error) {
	entries, err := e.ledger.History(ctx, ledger.HistoryQuery{
		EmployeeID: employeeID,
		Category:   category,
		FiscalYear: fromLabel,
	})
	if err != nil {
		return decimal.Zero, err
	}
	for _, entry := range entries {
		if entry.Type == ledger.TypeCarryForward {
			return entry.Amount, nil
		}
	}
	return decimal.Zero, fmt.Errorf("carry_forward entry for %s not found: %w", fromLabel, ledger.ErrEntryNotFound)
}

// =============================================================================
// EXECUTE FOR TENANT - Batch with per-employee isolation
// =============================================================================

// EmployeeOutcome is one employee's slice of a tenant-wide run.
type EmployeeOutcome struct {
	EmployeeID string   `json:"employeeId"`
	Results    []Result `json:"results,omitempty"`
	Err        string   `json:"error,omitempty"`
}

// TenantReport aggregates a tenant-wide carry-forward run.
type TenantReport struct {
	FiscalYear string            `json:"fiscalYear"`
	Processed  int               `json:"processed"`
	Failed     int               `json:"failed"`
	Outcomes   []EmployeeOutcome `json:"outcomes"`
}

// ExecuteForTenant runs Execute for every active employee. One
// employee's failure is recorded and the batch continues; cancellation
// stops the batch between employees with completed work left intact.
func (e *Engine) ExecuteForTenant(ctx context.Context, from fiscal.Year, actor string) (*TenantReport, error) {
	if e.employees == nil {
		return nil, fmt.Errorf("tenant-wide carry forward requires an employee source")
	}
	ids, err := e.employees.ListActive(ctx, e.tenantID)
	if err != nil {
		return nil, fmt.Errorf("list active employees: %w", err)
	}

	report := &TenantReport{FiscalYear: from.Label()}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome := EmployeeOutcome{EmployeeID: id}
		results, err := e.Execute(ctx, id, from, actor)
		outcome.Results = results
		if err != nil {
			outcome.Err = err.Error()
			report.Failed++
			e.log.WithField("employee", id).WithError(err).Warn("carry forward failed for employee, continuing batch")
		}
		report.Processed++
		report.Outcomes = append(report.Outcomes, outcome)
	}

	e.log.WithFields(logrus.Fields{
		"fiscalYear": report.FiscalYear, "processed": report.Processed, "failed": report.Failed,
	}).Info("tenant carry forward finished")
	return report, nil
}

// =============================================================================
// EXPIRY - Lapse carried balance past its validity window
// =============================================================================

// ExpireLapsed writes off whatever remains of an employee's carried
// balance once its validity window has passed. The write-off is capped
// at the current balance (a balance already spent below the carried
// amount expires nothing extra) and is idempotent per employee,
// category and year.
func (e *Engine) ExpireLapsed(ctx context.Context, employeeID string, from fiscal.Year, asOf time.Time, actor string) ([]Result, error) {
	if employeeID == "" {
		return nil, &ledger.ValidationError{Field: "employeeId", Reason: "required"}
	}
	all, err := e.policies.All(ctx, e.tenantID)
	if err != nil {
		return nil, err
	}

	fromLabel := from.Label()
	toLabel := from.Next().Label()

	var results []Result
	for _, p := range all {
		if !p.CarryForward.Enabled {
			continue
		}
		res := Result{Category: p.Category}
		if asOf.Before(e.expiry(from, p.CarryForward.ValidityMonths)) {
			res.Skipped = true
			res.Reason = "validity window still open"
			results = append(results, res)
			continue
		}

		hasExpired, err := e.ledger.HasEntry(ctx, employeeID, p.Category, ledger.TypeExpired, toLabel)
		if err != nil {
			return results, err
		}
		if hasExpired {
			res.Skipped = true
			res.Reason = "already expired for " + toLabel
			results = append(results, res)
			continue
		}

		carried, err := e.recordedCarry(ctx, employeeID, p.Category, fromLabel)
		if err != nil {
			// No carry was ever recorded: nothing to lapse.
			res.Skipped = true
			res.Reason = "no carried balance for " + fromLabel
			results = append(results, res)
			continue
		}

		balance, err := e.ledger.CurrentBalance(ctx, employeeID, p.Category)
		if err != nil {
			return results, err
		}
		lapse := decimal.Min(carried, balance)
		if !lapse.IsPositive() {
			res.Skipped = true
			res.Reason = "carried balance already consumed"
			results = append(results, res)
			continue
		}

		entry, err := e.ledger.Append(ctx, ledger.AppendInput{
			EmployeeID:  employeeID,
			Category:    p.Category,
			Type:        ledger.TypeExpired,
			Amount:      lapse.Neg(),
			FiscalYear:  toLabel,
			Description: fmt.Sprintf("carried balance from %s lapsed", fromLabel),
			RecordedBy:  actor,
		})
		if err != nil {
			return results, err
		}
		res.Amount = lapse
		res.CarryEntry = entry
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) expiry(from fiscal.Year, validityMonths int) time.Time {
	return from.Next().Start().AddDate(0, validityMonths, 0)
}
