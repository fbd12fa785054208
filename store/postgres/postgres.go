/*
Package postgres provides the production PostgreSQL backend on pgx.

Same contract as the sqlite backend, with the dialect differences that
matter in production: the balance chain check runs inside a database
transaction with the latest entry row locked (FOR UPDATE), attendance
upserts ride the (tenant_id, employee_id, date) unique constraint, and
concurrency control is left to the database instead of a process mutex.
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/attendance"
	"github.com/warp/leave-ledger/fiscal"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/ledger"
)

// Store is the PostgreSQL backend. The typed views returned by Ledger,
// Leaves and Attendance share its pool; Store itself is the employee
// source for tenant-wide carry-forward.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool and ensures the schema exists.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Ledger returns the ledger.Store view.
func (s *Store) Ledger() ledger.Store { return &ledgerStore{s} }

// Leaves returns the leave.Store view.
func (s *Store) Leaves() leave.Store { return &leaveStore{s} }

// Attendance returns the attendance.Store view.
func (s *Store) Attendance() attendance.Store { return &attendanceStore{s} }

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		category TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount NUMERIC(10,2) NOT NULL,
		balance_before NUMERIC(10,2) NOT NULL,
		balance_after NUMERIC(10,2) NOT NULL,
		related_request_id TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL,
		fiscal_year TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		details_json JSONB,
		recorded_by TEXT NOT NULL,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_chain
		ON ledger_entries(tenant_id, employee_id, category, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_ledger_fiscal_year
		ON ledger_entries(tenant_id, employee_id, category, entry_type, fiscal_year);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		category TEXT NOT NULL,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		half_day BOOLEAN NOT NULL DEFAULT FALSE,
		number_of_days NUMERIC(10,2) NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		approved_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_employee
		ON leave_requests(tenant_id, employee_id);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON leave_requests(tenant_id, status);

	CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		date DATE NOT NULL,
		status TEXT NOT NULL,
		clock_in TIMESTAMPTZ,
		clock_out TIMESTAMPTZ,
		leave_id TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (tenant_id, employee_id, date)
	);

	CREATE TABLE IF NOT EXISTS employees (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// LEDGER STORE
// =============================================================================

type ledgerStore struct{ s *Store }

func (ls *ledgerStore) AppendEntry(ctx context.Context, entry *ledger.Entry) error {
	tx, err := ls.s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var after string
	err = tx.QueryRow(ctx, `
		SELECT balance_after::text FROM ledger_entries
		WHERE tenant_id = $1 AND employee_id = $2 AND category = $3 AND NOT is_deleted
		ORDER BY seq DESC LIMIT 1
		FOR UPDATE`,
		entry.TenantID, entry.EmployeeID, entry.Category,
	).Scan(&after)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("read balance chain: %w", err)
	}
	if err == nil {
		latest, err := decimal.NewFromString(after)
		if err != nil {
			return fmt.Errorf("corrupt balance_after %q: %w", after, err)
		}
		if !latest.Equal(entry.BalanceBefore) {
			return fmt.Errorf("balance chain moved from %s to %s: %w",
				entry.BalanceBefore, latest, ledger.ErrConcurrencyConflict)
		}
	}

	var detailsJSON any
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		detailsJSON = b
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_entries
		(id, tenant_id, employee_id, category, entry_type, amount, balance_before,
		 balance_after, related_request_id, occurred_at, fiscal_year, description,
		 details_json, recorded_by, is_deleted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, FALSE, $15)`,
		entry.ID, entry.TenantID, entry.EmployeeID, entry.Category, entry.Type,
		entry.Amount.String(), entry.BalanceBefore.String(), entry.BalanceAfter.String(),
		entry.RelatedRequestID, entry.OccurredAt, entry.FiscalYear, entry.Description,
		detailsJSON, entry.RecordedBy, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return tx.Commit(ctx)
}

func (ls *ledgerStore) LatestEntry(ctx context.Context, tenantID, employeeID string, category ledger.Category) (*ledger.Entry, error) {
	row := ls.s.pool.QueryRow(ctx, selectEntry+`
		WHERE tenant_id = $1 AND employee_id = $2 AND category = $3 AND NOT is_deleted
		ORDER BY seq DESC LIMIT 1`,
		tenantID, employeeID, category)

	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (ls *ledgerStore) ListEntries(ctx context.Context, tenantID string, q ledger.HistoryQuery) ([]ledger.Entry, error) {
	query := selectEntry + ` WHERE tenant_id = $1 AND employee_id = $2 AND NOT is_deleted`
	args := []any{tenantID, q.EmployeeID}
	if q.Category != "" {
		args = append(args, q.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if q.FiscalYear != "" {
		args = append(args, q.FiscalYear)
		query += fmt.Sprintf(" AND fiscal_year = $%d", len(args))
	}
	query += ` ORDER BY occurred_at DESC, seq DESC`

	rows, err := ls.s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func (ls *ledgerStore) GetEntry(ctx context.Context, tenantID, id string) (*ledger.Entry, error) {
	row := ls.s.pool.QueryRow(ctx, selectEntry+` WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("entry %s: %w", id, ledger.ErrEntryNotFound)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (ls *ledgerStore) HasEntry(ctx context.Context, tenantID, employeeID string, category ledger.Category, entryType ledger.EntryType, fiscalYear string) (bool, error) {
	var count int
	err := ls.s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM ledger_entries
		WHERE tenant_id = $1 AND employee_id = $2 AND category = $3
		  AND entry_type = $4 AND fiscal_year = $5 AND NOT is_deleted`,
		tenantID, employeeID, category, entryType, fiscalYear,
	).Scan(&count)
	return count > 0, err
}

func (ls *ledgerStore) MarkDeleted(ctx context.Context, tenantID, id string) error {
	tag, err := ls.s.pool.Exec(ctx,
		`UPDATE ledger_entries SET is_deleted = TRUE WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	if err != nil {
		return fmt.Errorf("mark entry deleted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entry %s: %w", id, ledger.ErrEntryNotFound)
	}
	return nil
}

const selectEntry = `
	SELECT id, tenant_id, employee_id, category, entry_type, amount::text,
	       balance_before::text, balance_after::text, related_request_id,
	       occurred_at, fiscal_year, description, details_json, recorded_by,
	       is_deleted, created_at
	FROM ledger_entries`

func scanEntry(row pgx.Row) (*ledger.Entry, error) {
	var (
		e           ledger.Entry
		amount      string
		before      string
		after       string
		detailsJSON []byte
	)
	err := row.Scan(
		&e.ID, &e.TenantID, &e.EmployeeID, &e.Category, &e.Type, &amount, &before,
		&after, &e.RelatedRequestID, &e.OccurredAt, &e.FiscalYear, &e.Description,
		&detailsJSON, &e.RecordedBy, &e.IsDeleted, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt amount %q: %w", amount, err)
	}
	if e.BalanceBefore, err = decimal.NewFromString(before); err != nil {
		return nil, fmt.Errorf("corrupt balance_before %q: %w", before, err)
	}
	if e.BalanceAfter, err = decimal.NewFromString(after); err != nil {
		return nil, fmt.Errorf("corrupt balance_after %q: %w", after, err)
	}
	if len(detailsJSON) > 0 {
		var d ledger.Details
		if err := json.Unmarshal(detailsJSON, &d); err != nil {
			return nil, fmt.Errorf("corrupt details_json: %w", err)
		}
		e.Details = &d
	}
	return &e, nil
}

// =============================================================================
// LEAVE STORE
// =============================================================================

type leaveStore struct{ s *Store }

func (ls *leaveStore) Create(ctx context.Context, r *leave.Request) error {
	_, err := ls.s.pool.Exec(ctx, `
		INSERT INTO leave_requests
		(id, tenant_id, employee_id, category, start_date, end_date, half_day,
		 number_of_days, reason, status, approved_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.TenantID, r.EmployeeID, r.Category, r.Dates.Start, r.Dates.End,
		r.HalfDay, r.NumberOfDays.String(), r.Reason, r.Status, r.ApprovedBy,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create leave request: %w", err)
	}
	return nil
}

func (ls *leaveStore) Get(ctx context.Context, tenantID, requestID string) (*leave.Request, error) {
	row := ls.s.pool.QueryRow(ctx, selectRequest+` WHERE tenant_id = $1 AND id = $2`, tenantID, requestID)
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("request %s: %w", requestID, leave.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (ls *leaveStore) SetStatus(ctx context.Context, tenantID, requestID string, status leave.Status, actor string) error {
	query := `UPDATE leave_requests SET status = $1, updated_at = NOW() WHERE tenant_id = $2 AND id = $3`
	args := []any{status, tenantID, requestID}
	if status == leave.StatusApproved {
		query = `UPDATE leave_requests SET status = $1, approved_by = $2, updated_at = NOW() WHERE tenant_id = $3 AND id = $4`
		args = []any{status, actor, tenantID, requestID}
	}

	tag, err := ls.s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update leave status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("request %s: %w", requestID, leave.ErrNotFound)
	}
	return nil
}

func (ls *leaveStore) SetDates(ctx context.Context, tenantID, requestID string, dates fiscal.DateRange, halfDay bool, days decimal.Decimal) error {
	tag, err := ls.s.pool.Exec(ctx, `
		UPDATE leave_requests
		SET start_date = $1, end_date = $2, half_day = $3, number_of_days = $4, updated_at = NOW()
		WHERE tenant_id = $5 AND id = $6`,
		dates.Start, dates.End, halfDay, days.String(), tenantID, requestID,
	)
	if err != nil {
		return fmt.Errorf("update leave dates: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("request %s: %w", requestID, leave.ErrNotFound)
	}
	return nil
}

func (ls *leaveStore) ListApproved(ctx context.Context, tenantID string) ([]leave.Request, error) {
	return ls.queryRequests(ctx, selectRequest+`
		WHERE tenant_id = $1 AND status = $2 ORDER BY created_at DESC`,
		tenantID, leave.StatusApproved)
}

func (ls *leaveStore) ListByEmployee(ctx context.Context, tenantID, employeeID string) ([]leave.Request, error) {
	return ls.queryRequests(ctx, selectRequest+`
		WHERE tenant_id = $1 AND employee_id = $2 ORDER BY created_at DESC`,
		tenantID, employeeID)
}

func (ls *leaveStore) queryRequests(ctx context.Context, query string, args ...any) ([]leave.Request, error) {
	rows, err := ls.s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query leave requests: %w", err)
	}
	defer rows.Close()

	var out []leave.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

const selectRequest = `
	SELECT id, tenant_id, employee_id, category, start_date, end_date, half_day,
	       number_of_days::text, reason, status, approved_by, created_at, updated_at
	FROM leave_requests`

func scanRequest(row pgx.Row) (*leave.Request, error) {
	var (
		r    leave.Request
		days string
	)
	err := row.Scan(
		&r.ID, &r.TenantID, &r.EmployeeID, &r.Category, &r.Dates.Start, &r.Dates.End,
		&r.HalfDay, &days, &r.Reason, &r.Status, &r.ApprovedBy, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if r.NumberOfDays, err = decimal.NewFromString(days); err != nil {
		return nil, fmt.Errorf("corrupt number_of_days %q: %w", days, err)
	}
	r.Dates.Start = fiscal.Day(r.Dates.Start)
	r.Dates.End = fiscal.Day(r.Dates.End)
	return &r, nil
}

// =============================================================================
// ATTENDANCE STORE
// =============================================================================

type attendanceStore struct{ s *Store }

func (as *attendanceStore) Get(ctx context.Context, tenantID, employeeID string, day time.Time) (*attendance.Record, error) {
	row := as.s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, employee_id, date, status, clock_in, clock_out,
		       leave_id, notes, created_at, updated_at
		FROM attendance_records
		WHERE tenant_id = $1 AND employee_id = $2 AND date = $3`,
		tenantID, employeeID, fiscal.Day(day))

	var r attendance.Record
	err := row.Scan(
		&r.ID, &r.TenantID, &r.EmployeeID, &r.Date, &r.Status, &r.ClockIn,
		&r.ClockOut, &r.LeaveID, &r.Notes, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Date = fiscal.Day(r.Date)
	return &r, nil
}

func (as *attendanceStore) Put(ctx context.Context, record *attendance.Record) error {
	_, err := as.s.pool.Exec(ctx, `
		INSERT INTO attendance_records
		(id, tenant_id, employee_id, date, status, clock_in, clock_out, leave_id,
		 notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, employee_id, date) DO UPDATE SET
			status = EXCLUDED.status,
			clock_in = EXCLUDED.clock_in,
			clock_out = EXCLUDED.clock_out,
			leave_id = EXCLUDED.leave_id,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at`,
		record.ID, record.TenantID, record.EmployeeID, fiscal.Day(record.Date),
		record.Status, record.ClockIn, record.ClockOut, record.LeaveID,
		record.Notes, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert attendance record: %w", err)
	}
	return nil
}

// =============================================================================
// EMPLOYEE ROSTER
// =============================================================================

// SeedEmployee registers an employee for tenant-wide year-end runs.
func (s *Store) SeedEmployee(ctx context.Context, tenantID, employeeID, name string, active bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO employees (tenant_id, id, name, active, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (tenant_id, id) DO UPDATE SET name = EXCLUDED.name, active = EXCLUDED.active`,
		tenantID, employeeID, name, active)
	if err != nil {
		return fmt.Errorf("seed employee: %w", err)
	}
	return nil
}

func (s *Store) ListActive(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM employees WHERE tenant_id = $1 AND active ORDER BY id`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("query employees: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
