// Package memory provides in-memory store implementations (for
// testing/dev). One Store value backs every persistence interface in the
// module, partitioned by tenant so cross-tenant reads are impossible.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/attendance"
	"github.com/warp/leave-ledger/fiscal"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/ledger"
)

// Store is the in-memory backend. The typed views returned by Ledger,
// Leaves and Attendance share its data and mutex; Store itself is the
// employee source for tenant-wide carry-forward.
type Store struct {
	mu        sync.RWMutex
	entries   map[ledgerKey][]*ledger.Entry // append order, oldest first
	byID      map[entryID]*ledger.Entry
	leaves    map[leaveKey]*leave.Request
	days      map[dayKey]*attendance.Record
	employees map[string][]employee // tenantID -> roster
}

type ledgerKey struct {
	tenantID   string
	employeeID string
	category   ledger.Category
}

type entryID struct {
	tenantID string
	id       string
}

type leaveKey struct {
	tenantID string
	id       string
}

type dayKey struct {
	tenantID   string
	employeeID string
	day        string // 2006-01-02
}

type employee struct {
	id     string
	active bool
}

func New() *Store {
	return &Store{
		entries:   make(map[ledgerKey][]*ledger.Entry),
		byID:      make(map[entryID]*ledger.Entry),
		leaves:    make(map[leaveKey]*leave.Request),
		days:      make(map[dayKey]*attendance.Record),
		employees: make(map[string][]employee),
	}
}

// Ledger returns the ledger.Store view.
func (m *Store) Ledger() ledger.Store { return &ledgerStore{m} }

// Leaves returns the leave.Store view.
func (m *Store) Leaves() leave.Store { return &leaveStore{m} }

// Attendance returns the attendance.Store view.
func (m *Store) Attendance() attendance.Store { return &attendanceStore{m} }

// =============================================================================
// LEDGER STORE
// =============================================================================

type ledgerStore struct{ m *Store }

// AppendEntry appends atomically, rejecting entries whose BalanceBefore
// does not extend the latest non-deleted entry's BalanceAfter.
func (s *ledgerStore) AppendEntry(_ context.Context, entry *ledger.Entry) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	k := ledgerKey{entry.TenantID, entry.EmployeeID, entry.Category}
	if latest := s.m.latestLocked(k); latest != nil && !latest.BalanceAfter.Equal(entry.BalanceBefore) {
		return fmt.Errorf("balance chain moved from %s to %s: %w",
			entry.BalanceBefore, latest.BalanceAfter, ledger.ErrConcurrencyConflict)
	}

	c := *entry
	s.m.entries[k] = append(s.m.entries[k], &c)
	s.m.byID[entryID{entry.TenantID, entry.ID}] = &c
	return nil
}

func (m *Store) latestLocked(k ledgerKey) *ledger.Entry {
	list := m.entries[k]
	for i := len(list) - 1; i >= 0; i-- {
		if !list[i].IsDeleted {
			return list[i]
		}
	}
	return nil
}

func (s *ledgerStore) LatestEntry(_ context.Context, tenantID, employeeID string, category ledger.Category) (*ledger.Entry, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	latest := s.m.latestLocked(ledgerKey{tenantID, employeeID, category})
	if latest == nil {
		return nil, nil
	}
	c := *latest
	return &c, nil
}

func (s *ledgerStore) ListEntries(_ context.Context, tenantID string, q ledger.HistoryQuery) ([]ledger.Entry, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	// Within a category, append order IS chain order; walking each
	// key's slice backwards yields exact newest-first even when
	// timestamps tie.
	var out []ledger.Entry
	collect := func(k ledgerKey) {
		list := s.m.entries[k]
		for i := len(list) - 1; i >= 0; i-- {
			e := list[i]
			if e.IsDeleted {
				continue
			}
			if q.FiscalYear != "" && e.FiscalYear != q.FiscalYear {
				continue
			}
			out = append(out, *e)
		}
	}

	if q.Category != "" {
		collect(ledgerKey{tenantID, q.EmployeeID, q.Category})
		return out, nil
	}

	for _, cat := range ledger.Categories() {
		collect(ledgerKey{tenantID, q.EmployeeID, cat})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	return out, nil
}

func (s *ledgerStore) GetEntry(_ context.Context, tenantID, id string) (*ledger.Entry, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	e, ok := s.m.byID[entryID{tenantID, id}]
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", id, ledger.ErrEntryNotFound)
	}
	c := *e
	return &c, nil
}

func (s *ledgerStore) HasEntry(_ context.Context, tenantID, employeeID string, category ledger.Category, entryType ledger.EntryType, fiscalYear string) (bool, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	for _, e := range s.m.entries[ledgerKey{tenantID, employeeID, category}] {
		if !e.IsDeleted && e.Type == entryType && e.FiscalYear == fiscalYear {
			return true, nil
		}
	}
	return false, nil
}

func (s *ledgerStore) MarkDeleted(_ context.Context, tenantID, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	e, ok := s.m.byID[entryID{tenantID, id}]
	if !ok {
		return fmt.Errorf("entry %s: %w", id, ledger.ErrEntryNotFound)
	}
	e.IsDeleted = true
	return nil
}

// =============================================================================
// LEAVE STORE
// =============================================================================

type leaveStore struct{ m *Store }

func (s *leaveStore) Create(_ context.Context, r *leave.Request) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	c := *r
	s.m.leaves[leaveKey{r.TenantID, r.ID}] = &c
	return nil
}

func (s *leaveStore) Get(_ context.Context, tenantID, requestID string) (*leave.Request, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	r, ok := s.m.leaves[leaveKey{tenantID, requestID}]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", requestID, leave.ErrNotFound)
	}
	c := *r
	return &c, nil
}

func (s *leaveStore) SetStatus(_ context.Context, tenantID, requestID string, status leave.Status, actor string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	r, ok := s.m.leaves[leaveKey{tenantID, requestID}]
	if !ok {
		return fmt.Errorf("request %s: %w", requestID, leave.ErrNotFound)
	}
	r.Status = status
	if status == leave.StatusApproved {
		r.ApprovedBy = actor
	}
	r.UpdatedAt = time.Now()
	return nil
}

func (s *leaveStore) SetDates(_ context.Context, tenantID, requestID string, dates fiscal.DateRange, halfDay bool, days decimal.Decimal) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	r, ok := s.m.leaves[leaveKey{tenantID, requestID}]
	if !ok {
		return fmt.Errorf("request %s: %w", requestID, leave.ErrNotFound)
	}
	r.Dates = dates
	r.HalfDay = halfDay
	r.NumberOfDays = days
	r.UpdatedAt = time.Now()
	return nil
}

func (s *leaveStore) ListApproved(_ context.Context, tenantID string) ([]leave.Request, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	var out []leave.Request
	for k, r := range s.m.leaves {
		if k.tenantID == tenantID && r.Status == leave.StatusApproved {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *leaveStore) ListByEmployee(_ context.Context, tenantID, employeeID string) ([]leave.Request, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	var out []leave.Request
	for k, r := range s.m.leaves {
		if k.tenantID == tenantID && r.EmployeeID == employeeID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// ATTENDANCE STORE
// =============================================================================

type attendanceStore struct{ m *Store }

func (s *attendanceStore) Get(_ context.Context, tenantID, employeeID string, day time.Time) (*attendance.Record, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	rec, ok := s.m.days[dayKey{tenantID, employeeID, fiscal.Day(day).Format("2006-01-02")}]
	if !ok {
		return nil, nil
	}
	c := *rec
	return &c, nil
}

// Put upserts on (tenant, employee, date): a single map slot per day
// under the store mutex keeps the record unique and the write atomic.
func (s *attendanceStore) Put(_ context.Context, record *attendance.Record) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	c := *record
	c.Date = fiscal.Day(record.Date)
	s.m.days[dayKey{record.TenantID, record.EmployeeID, c.Date.Format("2006-01-02")}] = &c
	return nil
}

// =============================================================================
// EMPLOYEE ROSTER
// =============================================================================

// AddEmployee registers an employee for tenant-wide runs. Tests and the
// dev server seed rosters through this.
func (m *Store) AddEmployee(tenantID, employeeID string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[tenantID] = append(m.employees[tenantID], employee{id: employeeID, active: active})
}

func (m *Store) ListActive(_ context.Context, tenantID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for _, e := range m.employees[tenantID] {
		if e.active {
			out = append(out, e.id)
		}
	}
	return out, nil
}
