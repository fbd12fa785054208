/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements every persistence interface (ledger.Store, leave.Store,
  attendance.Store, the employee source) using SQLite. The same
  patterns apply to the PostgreSQL backend - only dialect differences.

APPEND-ONLY ENFORCEMENT:
  The ledger table is never updated or deleted from, with one
  exception: the is_deleted soft-delete flag set by retraction. The
  balance chain is enforced at insert time, inside a database
  transaction, by comparing the incoming balance_before against the
  latest surviving entry's balance_after. A mismatch means another
  writer advanced the chain first and surfaces as
  ledger.ErrConcurrencyConflict for the service to retry.

KEY TABLES:
  ledger_entries:     Immutable balance transaction chain, per tenant
  leave_requests:     Mutable request aggregate (status machine)
  attendance_records: One row per (tenant, employee, date), upserted
  employees:          Roster for tenant-wide year-end runs

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better
  concurrency: multiple readers don't block, a single writer at a time,
  better crash recovery.

USAGE:
  st, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions and error contract
  - store/memory/memory.go: In-memory implementation for testing
  - store/postgres/postgres.go: Production backend
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/attendance"
	"github.com/warp/leave-ledger/fiscal"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/ledger"
)

// Store is the SQLite backend. The typed views returned by Ledger,
// Leaves and Attendance share its connection; Store itself is the
// employee source for tenant-wide carry-forward.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ledger returns the ledger.Store view.
func (s *Store) Ledger() ledger.Store { return &ledgerStore{s} }

// Leaves returns the leave.Store view.
func (s *Store) Leaves() leave.Store { return &leaveStore{s} }

// Attendance returns the attendance.Store view.
func (s *Store) Attendance() attendance.Store { return &attendanceStore{s} }

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Ledger entries (append-only balance chain)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		category TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		related_request_id TEXT NOT NULL DEFAULT '',
		occurred_at TEXT NOT NULL,
		fiscal_year TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		details_json TEXT,
		recorded_by TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Balance chain reads (hot path): latest surviving entry per key
	CREATE INDEX IF NOT EXISTS idx_ledger_chain
		ON ledger_entries(tenant_id, employee_id, category, seq DESC);

	-- Idempotency checks for year-end runs
	CREATE INDEX IF NOT EXISTS idx_ledger_fiscal_year
		ON ledger_entries(tenant_id, employee_id, category, entry_type, fiscal_year);

	CREATE INDEX IF NOT EXISTS idx_ledger_request
		ON ledger_entries(related_request_id) WHERE related_request_id != '';

	-- Leave requests (mutable status machine)
	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		category TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		half_day INTEGER NOT NULL DEFAULT 0,
		number_of_days TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		approved_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_employee
		ON leave_requests(tenant_id, employee_id);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON leave_requests(tenant_id, status);

	-- Attendance records
	CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL,
		clock_in TEXT,
		clock_out TEXT,
		leave_id TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one record per (tenant, employee, date); Put upserts on it
	CREATE UNIQUE INDEX IF NOT EXISTS idx_attendance_unique_day
		ON attendance_records(tenant_id, employee_id, date);

	-- Employees (roster for tenant-wide runs)
	CREATE TABLE IF NOT EXISTS employees (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

type ledgerStore struct{ s *Store }

// AppendEntry inserts one entry after verifying, inside a database
// transaction, that it extends the latest surviving entry's balance.
func (ls *ledgerStore) AppendEntry(ctx context.Context, entry *ledger.Entry) error {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()

	tx, err := ls.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var after sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT balance_after FROM ledger_entries
		WHERE tenant_id = ? AND employee_id = ? AND category = ? AND is_deleted = 0
		ORDER BY seq DESC LIMIT 1`,
		entry.TenantID, entry.EmployeeID, entry.Category,
	).Scan(&after)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read balance chain: %w", err)
	}
	if after.Valid {
		latest, err := decimal.NewFromString(after.String)
		if err != nil {
			return fmt.Errorf("corrupt balance_after %q: %w", after.String, err)
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
			return fmt.Errorf("failed to marshal details: %w", err)
		}
		detailsJSON = string(b)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, tenant_id, employee_id, category, entry_type, amount, balance_before,
		 balance_after, related_request_id, occurred_at, fiscal_year, description,
		 details_json, recorded_by, is_deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		entry.ID, entry.TenantID, entry.EmployeeID, entry.Category, entry.Type,
		entry.Amount.String(), entry.BalanceBefore.String(), entry.BalanceAfter.String(),
		entry.RelatedRequestID, entry.OccurredAt.UTC().Format(time.RFC3339Nano),
		entry.FiscalYear, entry.Description, detailsJSON, entry.RecordedBy,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return tx.Commit()
}

func (ls *ledgerStore) LatestEntry(ctx context.Context, tenantID, employeeID string, category ledger.Category) (*ledger.Entry, error) {
	ls.s.mu.RLock()
	defer ls.s.mu.RUnlock()

	row := ls.s.db.QueryRowContext(ctx, selectEntry+`
		WHERE tenant_id = ? AND employee_id = ? AND category = ? AND is_deleted = 0
		ORDER BY seq DESC LIMIT 1`,
		tenantID, employeeID, category)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (ls *ledgerStore) ListEntries(ctx context.Context, tenantID string, q ledger.HistoryQuery) ([]ledger.Entry, error) {
	ls.s.mu.RLock()
	defer ls.s.mu.RUnlock()

	query := selectEntry + ` WHERE tenant_id = ? AND employee_id = ? AND is_deleted = 0`
	args := []any{tenantID, q.EmployeeID}
	if q.Category != "" {
		query += ` AND category = ?`
		args = append(args, q.Category)
	}
	if q.FiscalYear != "" {
		query += ` AND fiscal_year = ?`
		args = append(args, q.FiscalYear)
	}
	query += ` ORDER BY occurred_at DESC, seq DESC`

	rows, err := ls.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
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
	ls.s.mu.RLock()
	defer ls.s.mu.RUnlock()

	row := ls.s.db.QueryRowContext(ctx, selectEntry+` WHERE tenant_id = ? AND id = ?`, tenantID, id)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entry %s: %w", id, ledger.ErrEntryNotFound)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (ls *ledgerStore) HasEntry(ctx context.Context, tenantID, employeeID string, category ledger.Category, entryType ledger.EntryType, fiscalYear string) (bool, error) {
	ls.s.mu.RLock()
	defer ls.s.mu.RUnlock()

	var count int
	err := ls.s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ledger_entries
		WHERE tenant_id = ? AND employee_id = ? AND category = ?
		  AND entry_type = ? AND fiscal_year = ? AND is_deleted = 0`,
		tenantID, employeeID, category, entryType, fiscalYear,
	).Scan(&count)
	return count > 0, err
}

// MarkDeleted flips the soft-delete flag. The only write the ledger
// table ever sees besides insert.
func (ls *ledgerStore) MarkDeleted(ctx context.Context, tenantID, id string) error {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()

	res, err := ls.s.db.ExecContext(ctx,
		`UPDATE ledger_entries SET is_deleted = 1 WHERE tenant_id = ? AND id = ?`,
		tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to mark entry deleted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("entry %s: %w", id, ledger.ErrEntryNotFound)
	}
	return nil
}

const selectEntry = `
	SELECT id, tenant_id, employee_id, category, entry_type, amount, balance_before,
	       balance_after, related_request_id, occurred_at, fiscal_year, description,
	       details_json, recorded_by, is_deleted, created_at
	FROM ledger_entries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*ledger.Entry, error) {
	var (
		e           ledger.Entry
		amount      string
		before      string
		after       string
		occurredAt  string
		detailsJSON sql.NullString
		createdAt   string
	)
	err := row.Scan(
		&e.ID, &e.TenantID, &e.EmployeeID, &e.Category, &e.Type, &amount, &before,
		&after, &e.RelatedRequestID, &occurredAt, &e.FiscalYear, &e.Description,
		&detailsJSON, &e.RecordedBy, &e.IsDeleted, &createdAt,
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
	if e.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt); err != nil {
		return nil, fmt.Errorf("corrupt occurred_at %q: %w", occurredAt, err)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at %q: %w", createdAt, err)
	}
	if detailsJSON.Valid && detailsJSON.String != "" {
		var d ledger.Details
		if err := json.Unmarshal([]byte(detailsJSON.String), &d); err != nil {
			return nil, fmt.Errorf("corrupt details_json: %w", err)
		}
		e.Details = &d
	}
	return &e, nil
}

// =============================================================================
// LEAVE STORE (leave.Store interface)
// =============================================================================

type leaveStore struct{ s *Store }

func (ls *leaveStore) Create(ctx context.Context, r *leave.Request) error {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()

	_, err := ls.s.db.ExecContext(ctx, `
		INSERT INTO leave_requests
		(id, tenant_id, employee_id, category, start_date, end_date, half_day,
		 number_of_days, reason, status, approved_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, r.EmployeeID, r.Category,
		r.Dates.Start.Format("2006-01-02"), r.Dates.End.Format("2006-01-02"),
		r.HalfDay, r.NumberOfDays.String(), r.Reason, r.Status, r.ApprovedBy,
		r.CreatedAt.UTC().Format(time.RFC3339Nano), r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to create leave request: %w", err)
	}
	return nil
}

func (ls *leaveStore) Get(ctx context.Context, tenantID, requestID string) (*leave.Request, error) {
	ls.s.mu.RLock()
	defer ls.s.mu.RUnlock()

	row := ls.s.db.QueryRowContext(ctx, selectRequest+` WHERE tenant_id = ? AND id = ?`, tenantID, requestID)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("request %s: %w", requestID, leave.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (ls *leaveStore) SetStatus(ctx context.Context, tenantID, requestID string, status leave.Status, actor string) error {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()

	query := `UPDATE leave_requests SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`
	args := []any{status, time.Now().UTC().Format(time.RFC3339Nano), tenantID, requestID}
	if status == leave.StatusApproved {
		query = `UPDATE leave_requests SET status = ?, approved_by = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`
		args = []any{status, actor, time.Now().UTC().Format(time.RFC3339Nano), tenantID, requestID}
	}

	res, err := ls.s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update leave status: %w", err)
	}
	return requireRow(res, requestID)
}

func (ls *leaveStore) SetDates(ctx context.Context, tenantID, requestID string, dates fiscal.DateRange, halfDay bool, days decimal.Decimal) error {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()

	res, err := ls.s.db.ExecContext(ctx, `
		UPDATE leave_requests
		SET start_date = ?, end_date = ?, half_day = ?, number_of_days = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		dates.Start.Format("2006-01-02"), dates.End.Format("2006-01-02"),
		halfDay, days.String(), time.Now().UTC().Format(time.RFC3339Nano),
		tenantID, requestID,
	)
	if err != nil {
		return fmt.Errorf("failed to update leave dates: %w", err)
	}
	return requireRow(res, requestID)
}

func (ls *leaveStore) ListApproved(ctx context.Context, tenantID string) ([]leave.Request, error) {
	ls.s.mu.RLock()
	defer ls.s.mu.RUnlock()

	return ls.queryRequests(ctx, selectRequest+`
		WHERE tenant_id = ? AND status = ? ORDER BY created_at DESC`,
		tenantID, leave.StatusApproved)
}

func (ls *leaveStore) ListByEmployee(ctx context.Context, tenantID, employeeID string) ([]leave.Request, error) {
	ls.s.mu.RLock()
	defer ls.s.mu.RUnlock()

	return ls.queryRequests(ctx, selectRequest+`
		WHERE tenant_id = ? AND employee_id = ? ORDER BY created_at DESC`,
		tenantID, employeeID)
}

func (ls *leaveStore) queryRequests(ctx context.Context, query string, args ...any) ([]leave.Request, error) {
	rows, err := ls.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave requests: %w", err)
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
	       number_of_days, reason, status, approved_by, created_at, updated_at
	FROM leave_requests`

func scanRequest(row rowScanner) (*leave.Request, error) {
	var (
		r         leave.Request
		start     string
		end       string
		days      string
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&r.ID, &r.TenantID, &r.EmployeeID, &r.Category, &start, &end, &r.HalfDay,
		&days, &r.Reason, &r.Status, &r.ApprovedBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if r.Dates.Start, err = time.ParseInLocation("2006-01-02", start, time.UTC); err != nil {
		return nil, fmt.Errorf("corrupt start_date %q: %w", start, err)
	}
	if r.Dates.End, err = time.ParseInLocation("2006-01-02", end, time.UTC); err != nil {
		return nil, fmt.Errorf("corrupt end_date %q: %w", end, err)
	}
	if r.NumberOfDays, err = decimal.NewFromString(days); err != nil {
		return nil, fmt.Errorf("corrupt number_of_days %q: %w", days, err)
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at %q: %w", createdAt, err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("corrupt updated_at %q: %w", updatedAt, err)
	}
	return &r, nil
}

// =============================================================================
// ATTENDANCE STORE (attendance.Store interface)
// =============================================================================

type attendanceStore struct{ s *Store }

func (as *attendanceStore) Get(ctx context.Context, tenantID, employeeID string, day time.Time) (*attendance.Record, error) {
	as.s.mu.RLock()
	defer as.s.mu.RUnlock()

	row := as.s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, employee_id, date, status, clock_in, clock_out,
		       leave_id, notes, created_at, updated_at
		FROM attendance_records
		WHERE tenant_id = ? AND employee_id = ? AND date = ?`,
		tenantID, employeeID, fiscal.Day(day).Format("2006-01-02"))

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Put upserts on the (tenant, employee, date) unique index, making the
// day-uniqueness invariant a database guarantee rather than a
// convention.
func (as *attendanceStore) Put(ctx context.Context, record *attendance.Record) error {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()

	_, err := as.s.db.ExecContext(ctx, `
		INSERT INTO attendance_records
		(id, tenant_id, employee_id, date, status, clock_in, clock_out, leave_id,
		 notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, employee_id, date) DO UPDATE SET
			status = excluded.status,
			clock_in = excluded.clock_in,
			clock_out = excluded.clock_out,
			leave_id = excluded.leave_id,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		record.ID, record.TenantID, record.EmployeeID,
		fiscal.Day(record.Date).Format("2006-01-02"), record.Status,
		nullTime(record.ClockIn), nullTime(record.ClockOut), record.LeaveID,
		record.Notes,
		record.CreatedAt.UTC().Format(time.RFC3339Nano),
		record.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert attendance record: %w", err)
	}
	return nil
}

func scanRecord(row rowScanner) (*attendance.Record, error) {
	var (
		r         attendance.Record
		date      string
		clockIn   sql.NullString
		clockOut  sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&r.ID, &r.TenantID, &r.EmployeeID, &date, &r.Status, &clockIn, &clockOut,
		&r.LeaveID, &r.Notes, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if r.Date, err = time.ParseInLocation("2006-01-02", date, time.UTC); err != nil {
		return nil, fmt.Errorf("corrupt date %q: %w", date, err)
	}
	if r.ClockIn, err = parseNullTime(clockIn); err != nil {
		return nil, err
	}
	if r.ClockOut, err = parseNullTime(clockOut); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at %q: %w", createdAt, err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("corrupt updated_at %q: %w", updatedAt, err)
	}
	return &r, nil
}

// =============================================================================
// EMPLOYEE ROSTER
// =============================================================================

// SeedEmployee registers an employee for tenant-wide year-end runs.
func (s *Store) SeedEmployee(ctx context.Context, tenantID, employeeID, name string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (tenant_id, id, name, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET name = excluded.name, active = excluded.active`,
		tenantID, employeeID, name, active, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to seed employee: %w", err)
	}
	return nil
}

func (s *Store) ListActive(ctx context.Context, tenantID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM employees WHERE tenant_id = ? AND active = 1 ORDER BY id`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
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

// =============================================================================
// HELPERS
// =============================================================================

func requireRow(res sql.Result, requestID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("request %s: %w", requestID, leave.ErrNotFound)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, fmt.Errorf("corrupt timestamp %q: %w", s.String, err)
	}
	return &t, nil
}
