/*
handlers_test.go - End-to-end tests for the endowment API

Tests drive the chi router with httptest against the in-memory store and a
hand-moved clock.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/waqf-engine/generic"
	"github.com/warp/waqf-engine/store/memory"
	"github.com/warp/waqf-engine/waqf"
)

// =============================================================================
// FIXTURES
// =============================================================================

var start = generic.NewTimePoint(2025, time.January, 15)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type testServer struct {
	t      *testing.T
	router http.Handler
	repo   *memory.Repository
	svc    *waqf.Service
	now    generic.TimePoint
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	ts := &testServer{t: t, repo: memory.New(), now: start}
	n := 0
	engine := &waqf.Engine{NewID: func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}}
	ts.svc = waqf.NewService(ts.repo, ts.repo,
		waqf.WithEngine(engine),
		waqf.WithClock(func() generic.TimePoint { return ts.now }),
		waqf.WithLogger(logrus.NewEntry(quiet)),
		waqf.WithRetry(2, time.Millisecond),
	)
	ts.router = NewRouter(NewHandler(ts.svc, ts.repo, ts.repo), nil)
	return ts
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		buf = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(ts.t, err)
		buf = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) addCause(id string) {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/api/causes", map[string]any{
		"id":       id,
		"name":     gofakeit.Company(),
		"category": "water",
	})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
}

// createRevolving creates a 12-month revolving endowment over water and
// returns it.
func (ts *testServer) createRevolving(extra map[string]any) waqf.Endowment {
	ts.t.Helper()
	details := map[string]any{
		"lock_period_months":       12,
		"principal_return_method":  "lump_sum",
		"early_withdrawal_allowed": true,
		"early_withdrawal_penalty": 0.1,
	}
	for k, v := range extra {
		details[k] = v
	}
	rec := ts.do(http.MethodPost, "/api/endowments", map[string]any{
		"name":              "Wells loan",
		"donor_id":          gofakeit.UUID(),
		"waqf_type":         "TemporaryRevolving",
		"principal":         "1000",
		"selected_causes":   []string{"water"},
		"revolving_details": details,
		"payment_id":        "pay-initial",
	})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[waqf.Endowment](ts.t, rec)
}

// =============================================================================
// CAUSES
// =============================================================================

func TestCauses_CreateAndList(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/causes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	ts.addCause("water")
	rec = ts.do(http.MethodPost, "/api/causes", map[string]any{
		"id": "school", "name": "School", "supported_waqf_types": []string{"Permanent"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodGet, "/api/causes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	causes := decodeBody[[]waqf.Cause](t, rec)
	require.Len(t, causes, 2)
	assert.Equal(t, waqf.CauseID("school"), causes[0].ID)
	assert.Equal(t, []waqf.WaqfType{waqf.TypePermanent}, causes[0].SupportedTypes)
}

func TestCauses_RejectsMissingName(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/api/causes", map[string]any{"id": "water"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ENDOWMENT LIFECYCLE
// =============================================================================

func TestEndowment_CreateAndRead(t *testing.T) {
	// GIVEN: A cause in the catalog
	ts := newTestServer(t)
	ts.addCause("water")

	// WHEN: Creating a revolving endowment
	e := ts.createRevolving(nil)

	// THEN: It is stored with one locked tranche
	assert.Equal(t, waqf.TypeRevolving, e.Type)
	require.NotNil(t, e.Revolving)
	require.Len(t, e.Revolving.Tranches, 1)
	assert.Equal(t, waqf.TrancheLocked, e.Revolving.Tranches[0].Status)

	rec := ts.do(http.MethodGet, "/api/endowments/"+string(e.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[waqf.Endowment](t, rec)
	assert.Equal(t, e.ID, got.ID)
	assert.True(t, got.Financial.CurrentBalance.Equal(dec("1000")))

	// AND: It shows up in filtered lists
	rec = ts.do(http.MethodGet, "/api/endowments?type=revolving", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]waqf.Endowment](t, rec), 1)

	rec = ts.do(http.MethodGet, "/api/endowments?type=permanent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]waqf.Endowment](t, rec))

	// AND: Its creation is in the ledger
	rec = ts.do(http.MethodGet, "/api/endowments/"+string(e.ID)+"/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decodeBody[[]TransactionDTO](t, rec)
	require.NotEmpty(t, txs)
	assert.Equal(t, string(generic.TxDonation), txs[0].Type)
}

func TestEndowment_CreateErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.addCause("water")

	tests := []struct {
		name string
		body any
		want int
	}{
		{"not json", "{", http.StatusBadRequest},
		{"no causes", map[string]any{"waqf_type": "permanent", "principal": 100}, http.StatusBadRequest},
		{"zero principal", map[string]any{"waqf_type": "permanent", "principal": 0, "selected_causes": []string{"water"}}, http.StatusBadRequest},
		{"unknown type", map[string]any{"waqf_type": "seasonal", "principal": 100, "selected_causes": []string{"water"}}, http.StatusUnprocessableEntity},
		{"lock too long", map[string]any{
			"waqf_type": "revolving", "principal": 100, "selected_causes": []string{"water"},
			"revolving_details": map[string]any{"lock_period_months": 500},
		}, http.StatusUnprocessableEntity},
		{"unknown cause", map[string]any{"waqf_type": "permanent", "principal": 100, "selected_causes": []string{"mars"}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/api/endowments", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			resp := decodeBody[ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestEndowment_NotFound(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{
		"/api/endowments/missing",
		"/api/endowments/missing/allocation",
		"/api/endowments/missing/tranches",
		"/api/endowments/missing/transactions",
	} {
		rec := ts.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestContribution_AddsTrancheOnce(t *testing.T) {
	// GIVEN: A revolving endowment
	ts := newTestServer(t)
	ts.addCause("water")
	e := ts.createRevolving(nil)
	path := "/api/endowments/" + string(e.ID) + "/contributions"

	// WHEN: A payment is confirmed
	rec := ts.do(http.MethodPost, path, map[string]any{"transaction_id": "pay-2", "amount": "500"})

	// THEN: A second tranche is created
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decodeBody[OutcomeDTO](t, rec)
	require.NotNil(t, out.Tranche)
	assert.True(t, out.Tranche.Amount.Equal(dec("500")))
	assert.Len(t, out.Endowment.Revolving.Tranches, 2)
	assert.True(t, out.Endowment.Financial.CurrentBalance.Equal(dec("1500")))
	assert.NotEmpty(t, out.Transactions)

	// AND: Replaying the same payment is refused
	rec = ts.do(http.MethodPost, path, map[string]any{"transaction_id": "pay-2", "amount": "500"})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	// AND: A payment without an id never reaches the engine
	rec = ts.do(http.MethodPost, path, map[string]any{"amount": "500"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTranche_ResolveAfterMaturity(t *testing.T) {
	// GIVEN: A revolving endowment with one locked tranche
	ts := newTestServer(t)
	ts.addCause("water")
	e := ts.createRevolving(nil)
	tid := e.Revolving.Tranches[0].ID
	path := fmt.Sprintf("/api/endowments/%s/tranches/%s/resolve", e.ID, tid)

	// WHEN: Resolving before the lock ends
	rec := ts.do(http.MethodPost, path, map[string]any{"action": "refund"})

	// THEN: The state refuses it
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	// WHEN: Classifying after the lock period
	rec = ts.do(http.MethodGet, fmt.Sprintf("/api/endowments/%s/tranches?at=%d", e.ID, start.AddMonths(13).Millis()), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	c := decodeBody[waqf.Classification](t, rec)
	require.Len(t, c.Matured, 1)
	assert.Empty(t, c.Locked)

	// WHEN: Refunding once matured
	ts.now = start.AddMonths(13)
	rec = ts.do(http.MethodPost, path, map[string]any{"action": "Return"})

	// THEN: The tranche is returned and the balance released
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[OutcomeDTO](t, rec)
	require.NotNil(t, out.Tranche)
	assert.Equal(t, waqf.TrancheReturned, out.Tranche.Status)
	assert.True(t, out.Endowment.Financial.CurrentBalance.IsZero())

	// AND: A second resolution is a conflict
	rec = ts.do(http.MethodPost, path, map[string]any{"action": "rollover"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTranche_EarlyWithdrawal(t *testing.T) {
	ts := newTestServer(t)
	ts.addCause("water")
	e := ts.createRevolving(nil)
	tid := e.Revolving.Tranches[0].ID

	rec := ts.do(http.MethodPost, fmt.Sprintf("/api/endowments/%s/tranches/%s/withdraw", e.ID, tid), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[OutcomeDTO](t, rec)
	assert.True(t, out.Tranche.PenaltyApplied.Equal(dec("100")))

	rec = ts.do(http.MethodPost, fmt.Sprintf("/api/endowments/%s/tranches/%s/withdraw", e.ID, "nope"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateLockPeriod_Validation(t *testing.T) {
	ts := newTestServer(t)
	ts.addCause("water")
	e := ts.createRevolving(nil)
	path := "/api/endowments/" + string(e.ID) + "/lock-period"

	rec := ts.do(http.MethodPut, path, map[string]any{"lock_period_months": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPut, path, map[string]any{"lock_period_months": 24})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[OutcomeDTO](t, rec)
	assert.Equal(t, 24, out.Endowment.Revolving.LockPeriodMonths)
}

func TestAudit_FreshEndowmentIsConsistent(t *testing.T) {
	ts := newTestServer(t)
	ts.addCause("water")
	e := ts.createRevolving(nil)

	rec := ts.do(http.MethodGet, "/api/endowments/"+string(e.ID)+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[waqf.AuditReport](t, rec)
	assert.True(t, report.Consistent, report.Differences)
}

// =============================================================================
// SWEEP
// =============================================================================

func TestSweep_AppliesDefaultPreferenceAndRecordsRun(t *testing.T) {
	// GIVEN: An endowment whose donor chose automatic rollover, past maturity
	ts := newTestServer(t)
	ts.addCause("water")
	e := ts.createRevolving(map[string]any{"auto_rollover_preference": "same_cause"})
	ts.now = start.AddMonths(12).AddDays(1)

	// WHEN: An admin triggers the sweep
	rec := ts.do(http.MethodPost, "/api/admin/sweep", nil)

	// THEN: The tranche rolled over
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[waqf.SweepReport](t, rec)
	assert.Equal(t, 1, report.Endowments)
	assert.Equal(t, 1, report.Applied)

	got, err := ts.svc.Get(context.Background(), e.ID)
	require.NoError(t, err)
	require.Len(t, got.Revolving.Tranches, 2)
	assert.Equal(t, waqf.TrancheRolledOver, got.Revolving.Tranches[0].Status)

	// AND: The run is listed
	rec = ts.do(http.MethodGet, "/api/admin/sweeps?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decodeBody[[]waqf.SweepReport](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Applied)

	rec = ts.do(http.MethodGet, "/api/admin/sweeps?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSweeper_RunOnceRecordsEmptyRun(t *testing.T) {
	ts := newTestServer(t)
	s := NewSweeper(ts.svc, ts.repo, time.Minute)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Endowments)

	runs, err := ts.repo.ListSweepRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSweeper_StartStop(t *testing.T) {
	ts := newTestServer(t)
	s := NewSweeper(ts.svc, ts.repo, time.Hour)

	s.Start()
	s.Start()
	assert.Eventually(t, func() bool {
		runs, _ := ts.repo.ListSweepRuns(context.Background(), 0)
		return len(runs) == 1
	}, time.Second, 10*time.Millisecond)
	s.Stop()
	s.Stop()
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{generic.ErrInvalidAllocation, http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", generic.ErrInvalidAmount), http.StatusUnprocessableEntity},
		{generic.ErrDuplicateIdempotencyKey, http.StatusConflict},
		{generic.ErrNotYetMatured, http.StatusConflict},
		{&generic.ConcurrentModificationError{EntityID: "e1"}, http.StatusConflict},
		{generic.ErrTrancheNotFound, http.StatusNotFound},
		{generic.ErrLedgerInconsistency, http.StatusInternalServerError},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
