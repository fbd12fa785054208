package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/api"
	"github.com/warp/leave-ledger/policy"
	"github.com/warp/leave-ledger/store/memory"
	"github.com/warp/leave-ledger/tenant"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	st := memory.New()

	log := logrus.New()
	log.SetOutput(io.Discard)

	resolver := tenant.NewResolver(tenant.ResolverConfig{
		Tenants: []string{"acme", "globex"},
		Stores: tenant.Stores{
			Ledger:     st.Ledger(),
			Leaves:     st.Leaves(),
			Attendance: st.Attendance(),
			Employees:  st,
		},
		Policies: policy.NewStatic(map[string]policy.TenantConfig{
			"acme":   {},
			"globex": {FiscalYearStart: time.April},
		}),
		Log: log,
	})

	srv := httptest.NewServer(api.NewRouter(api.NewHandler(resolver, log)))
	t.Cleanup(srv.Close)
	return srv, st
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

// =============================================================================
// LEDGER ENDPOINTS
// =============================================================================

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAllocationAndBalances(t *testing.T) {
	// GIVEN: A fresh employee (12 casual days by policy)
	// WHEN: 3 more days are allocated over the API
	// THEN: The balance summary reflects 15

	srv, _ := newTestServer(t)
	base := srv.URL + "/api/tenants/acme/employees/emp-1"

	resp := doJSON(t, http.MethodPost, base+"/allocations", map[string]any{
		"category": "casual", "days": 3, "actor": "hr-1", "description": "annual top-up",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var entry map[string]any
	decodeBody(t, resp, &entry)
	assert.Equal(t, "allocated", entry["type"])
	assert.Equal(t, "12", entry["balanceBefore"])
	assert.Equal(t, "15", entry["balanceAfter"])

	resp, err := http.Get(base + "/balances")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var summaries []map[string]any
	decodeBody(t, resp, &summaries)
	require.Len(t, summaries, 1)
	assert.Equal(t, "casual", summaries[0]["category"])
	assert.Equal(t, "15", summaries[0]["balance"])
}

func TestAllocation_ValidationFailure(t *testing.T) {
	srv, _ := newTestServer(t)

	// Negative days fail the body validation before any domain call.
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/tenants/acme/employees/emp-1/allocations",
		map[string]any{"category": "casual", "days": -3, "actor": "hr-1"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownTenant_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/tenants/initech/employees/emp-1/balances")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEncashment_InsufficientBalance_Conflicts(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/tenants/acme/employees/emp-1/encashments",
		map[string]any{"category": "earned", "days": 100, "actor": "hr-1"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLedgerHistory_EmptyIsJSONArray(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/tenants/acme/employees/emp-1/ledger")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []json.RawMessage
	decodeBody(t, resp, &entries)
	assert.Empty(t, entries)
}

// =============================================================================
// LEAVE WORKFLOW
// =============================================================================

func TestLeaveLifecycle_OverTheAPI(t *testing.T) {
	// GIVEN: A submitted 2-day earned leave
	// WHEN: It is approved
	// THEN: The response carries the debit entry and the sync report,
	//       and a second approve conflicts

	srv, _ := newTestServer(t)
	base := srv.URL + "/api/tenants/acme"

	resp := doJSON(t, http.MethodPost, base+"/leave-requests", map[string]any{
		"employeeId": "emp-1",
		"category":   "earned",
		"startDate":  "2025-01-10",
		"endDate":    "2025-01-11",
		"reason":     "family visit",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]any
	decodeBody(t, resp, &created)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "pending", created["status"])

	resp = doJSON(t, http.MethodPost, base+"/leave-requests/"+id+"/approve",
		map[string]any{"actor": "manager-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Request struct {
			Status string `json:"status"`
		} `json:"request"`
		SideEffects struct {
			LedgerEntry map[string]any `json:"ledgerEntry"`
			Sync        map[string]any `json:"sync"`
		} `json:"sideEffects"`
	}
	decodeBody(t, resp, &result)
	assert.Equal(t, "approved", result.Request.Status)
	require.NotNil(t, result.SideEffects.LedgerEntry)
	assert.Equal(t, "used", result.SideEffects.LedgerEntry["type"])
	assert.Equal(t, "13", result.SideEffects.LedgerEntry["balanceAfter"])
	assert.EqualValues(t, 2, result.SideEffects.Sync["created"])

	// Approving twice is an invalid state transition.
	resp = doJSON(t, http.MethodPost, base+"/leave-requests/"+id+"/approve",
		map[string]any{"actor": "manager-1"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSubmitLeave_BadDate(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/tenants/acme/leave-requests", map[string]any{
		"employeeId": "emp-1", "category": "earned",
		"startDate": "10/01/2025", "endDate": "2025-01-11",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetLeave_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/tenants/acme/leave-requests/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// CARRY-FORWARD
// =============================================================================

func TestCarryForward_PreviewAndExecute(t *testing.T) {
	// GIVEN: A fresh employee (15 earned days, 10-day carry cap)
	// WHEN: Preview and execute run for fiscal year 2025
	// THEN: Preview projects 10 days and execute lands the pair

	srv, _ := newTestServer(t)
	base := srv.URL + "/api/tenants/acme/employees/emp-1"

	resp, err := http.Get(base + "/carry-forward/preview?fiscal_year=2025")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var projections []map[string]any
	decodeBody(t, resp, &projections)
	require.NotEmpty(t, projections)
	found := false
	for _, p := range projections {
		if p["category"] == "earned" {
			found = true
			assert.Equal(t, "10", p["carryForwardAmount"])
			assert.Equal(t, "2025", p["fromFiscalYear"])
			assert.Equal(t, "2026", p["toFiscalYear"])
		}
	}
	assert.True(t, found)

	resp = doJSON(t, http.MethodPost, base+"/carry-forward",
		map[string]any{"fiscalYear": "2025", "actor": "system"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var results []map[string]any
	decodeBody(t, resp, &results)
	require.NotEmpty(t, results)
}

func TestCarryForward_MissingFiscalYear(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/tenants/acme/employees/emp-1/carry-forward/preview")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTenantCarryForward(t *testing.T) {
	srv, st := newTestServer(t)
	st.AddEmployee("acme", "emp-1", true)
	st.AddEmployee("acme", "emp-2", true)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/tenants/acme/carry-forward",
		map[string]any{"fiscalYear": "2025", "actor": "system"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var report map[string]any
	decodeBody(t, resp, &report)
	assert.EqualValues(t, 2, report["processed"])
	assert.EqualValues(t, 0, report["failed"])
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func TestBackfill_Empty(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/tenants/acme/attendance/backfill", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var report map[string]any
	decodeBody(t, resp, &report)
	assert.EqualValues(t, 0, report["processed"])
}
