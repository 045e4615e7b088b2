/*
handlers_test.go - End-to-end tests through the HTTP router

Tests for:
- Authentication and role separation
- Child account creation and manual adjustments
- Allowance payouts, once per period
- Spending: limit and insufficient funds errors, idempotent retries
- Savings goals: capped contributions and refunds
- Chores: complete, approve, reward
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/family-ledger/accounts"
	"github.com/warp/family-ledger/allowance"
	"github.com/warp/family-ledger/chores"
	"github.com/warp/family-ledger/goals"
	"github.com/warp/family-ledger/ledger"
	"github.com/warp/family-ledger/metrics"
	"github.com/warp/family-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	*httptest.Server
	auth  *Authenticator
	store *sqlite.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := ledger.NewEngine(store)
	engine.Now = func() time.Time { return time.Date(2025, time.March, 12, 15, 0, 0, 0, time.UTC) }
	m := metrics.New()
	engine.Observer = m

	accts := accounts.NewService(engine)
	h := NewHandler(
		accts,
		allowance.NewPayer(engine, accts),
		goals.NewService(engine),
		chores.NewService(engine, chores.RewardPolicy{}),
		store,
	)
	auth := NewAuthenticator("test-secret")
	srv := httptest.NewServer(NewRouter(h, Options{
		Auth:           auth,
		Metrics:        m,
		Logger:         zerolog.Nop(),
		AllowedOrigins: []string{"*"},
	}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, auth: auth, store: store}
}

func (s *testServer) token(t *testing.T, a ledger.Actor) string {
	t.Helper()
	tok, err := s.auth.Issue(a, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends body as JSON with a's token and decodes the response into out
// (if non-nil). It returns the status code.
func (s *testServer) do(t *testing.T, a *ledger.Actor, method, path string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if a != nil {
		req.Header.Set("Authorization", "Bearer "+s.token(t, *a))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

var parent = ledger.Actor{ID: "parent-1", Role: ledger.RoleParent}

// createChild creates a child via the API and returns it with its actor.
func (s *testServer) createChild(t *testing.T, body map[string]any) (ChildDTO, ledger.Actor) {
	t.Helper()
	var child ChildDTO
	require.Equal(t, http.StatusCreated, s.do(t, &parent, http.MethodPost, "/api/parent/children", body, &child))
	return child, ledger.Actor{ID: child.ID, Role: ledger.RoleChild}
}

// =============================================================================
// AUTH
// =============================================================================

func TestAuth_RequiresToken(t *testing.T) {
	s := newTestServer(t)

	var errResp ErrorResponse
	assert.Equal(t, http.StatusUnauthorized, s.do(t, nil, http.MethodGet, "/api/parent/children", nil, &errResp))
	assert.Equal(t, "unauthorized", errResp.Code)

	req, _ := http.NewRequest(http.MethodGet, s.URL+"/api/parent/children", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_RejectsForeignSignature(t *testing.T) {
	s := newTestServer(t)
	forged, err := NewAuthenticator("other-secret").Issue(parent, time.Hour)
	require.NoError(t, err)

	_, err = s.auth.Parse(forged)
	assert.Error(t, err)

	expired, err := s.auth.Issue(parent, -time.Minute)
	require.NoError(t, err)
	_, err = s.auth.Parse(expired)
	assert.Error(t, err)
}

func TestAuth_RoleTreesAreSeparate(t *testing.T) {
	s := newTestServer(t)
	_, kid := s.createChild(t, map[string]any{"name": "Kid"})

	var errResp ErrorResponse
	assert.Equal(t, http.StatusForbidden, s.do(t, &kid, http.MethodGet, "/api/parent/children", nil, &errResp))
	assert.Equal(t, "forbidden", errResp.Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, &parent, http.MethodGet, "/api/child/dashboard", nil, nil))
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestCreateChild_InitialBalanceAndDuplicates(t *testing.T) {
	s := newTestServer(t)
	child, _ := s.createChild(t, map[string]any{
		"name":                     "Ada",
		"initial_balance":          "10.00",
		"spending_limit":           15,
		"spending_limit_frequency": "Weekly",
	})
	assert.Equal(t, "10.00", child.Balance)
	require.NotNil(t, child.SpendingLimit)
	assert.Equal(t, "15.00", *child.SpendingLimit)

	var errResp ErrorResponse
	status := s.do(t, &parent, http.MethodPost, "/api/parent/children", map[string]any{"name": "Ada"}, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", errResp.Code)

	status = s.do(t, &parent, http.MethodPost, "/api/parent/children", map[string]any{"name": ""}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "name", errResp.Details["field"])
}

func TestAdjustBalance_NeverBelowZero(t *testing.T) {
	s := newTestServer(t)
	child, _ := s.createChild(t, map[string]any{"name": "Ada", "initial_balance": "5.00"})

	var res MutationResponse
	status := s.do(t, &parent, http.MethodPost, "/api/parent/children/"+child.ID+"/balance",
		map[string]any{"amount": "-2.00", "description": "Broke a window"}, &res)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "3.00", res.Balance)
	assert.Equal(t, "ManualAdjustment", res.Transaction.Type)

	var errResp ErrorResponse
	status = s.do(t, &parent, http.MethodPost, "/api/parent/children/"+child.ID+"/balance",
		map[string]any{"amount": "-4.00", "description": "Too much"}, &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "insufficient_funds", errResp.Code)
	assert.Equal(t, "1.00", errResp.Details["shortfall"])

	// Another parent cannot see the child at all
	other := ledger.Actor{ID: "parent-2", Role: ledger.RoleParent}
	assert.Equal(t, http.StatusNotFound, s.do(t, &other, http.MethodGet, "/api/parent/children/"+child.ID, nil, nil))
}

func TestAllowances_PayDueOncePerPeriod(t *testing.T) {
	// GIVEN: A child with a weekly allowance of 4.00
	// WHEN: The parent pays due allowances twice
	// THEN: The first call pays, the second skips

	s := newTestServer(t)
	child, _ := s.createChild(t, map[string]any{
		"name":                "Ada",
		"allowance_amount":    "4.00",
		"allowance_frequency": "Weekly",
	})

	var sum allowance.Summary
	require.Equal(t, http.StatusOK, s.do(t, &parent, http.MethodPost, "/api/parent/allowances/pay-due", nil, &sum))
	assert.Equal(t, allowance.Summary{Paid: 1}, sum)

	require.Equal(t, http.StatusOK, s.do(t, &parent, http.MethodPost, "/api/parent/allowances/pay-due", nil, &sum))
	assert.Equal(t, allowance.Summary{Skipped: 1}, sum)

	var got ChildDTO
	require.Equal(t, http.StatusOK, s.do(t, &parent, http.MethodGet, "/api/parent/children/"+child.ID, nil, &got))
	assert.Equal(t, "4.00", got.Balance)

	// Paying the same period by hand with the period key is a replay
	var res MutationResponse
	status := s.do(t, &parent, http.MethodPost, "/api/parent/children/"+child.ID+"/allowance",
		map[string]any{"idempotency_key": "allowance/2025-03-09"}, &res)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "4.00", res.Balance)
}

func TestSpending_LimitAndReplay(t *testing.T) {
	// GIVEN: Weekly limit 10.00, balance 20.00, 7.00 spent this week
	// WHEN: Spending 5.00
	// THEN: 422 policy_violation with 3.00 remaining; balance unchanged

	s := newTestServer(t)
	_, kid := s.createChild(t, map[string]any{
		"name":                     "Ada",
		"initial_balance":          "20.00",
		"spending_limit":           "10.00",
		"spending_limit_frequency": "Weekly",
	})

	var res MutationResponse
	body := map[string]any{"amount": 7, "description": "Comics", "idempotency_key": "comics-1"}
	require.Equal(t, http.StatusCreated, s.do(t, &kid, http.MethodPost, "/api/child/transactions", body, &res))
	assert.Equal(t, "13.00", res.Balance)
	assert.Equal(t, "-7.00", res.Transaction.Amount)

	// Retry with the same key replays
	var replay MutationResponse
	require.Equal(t, http.StatusOK, s.do(t, &kid, http.MethodPost, "/api/child/transactions", body, &replay))
	assert.True(t, replay.Replayed)
	assert.Equal(t, res.Transaction.ID, replay.Transaction.ID)

	var errResp ErrorResponse
	status := s.do(t, &kid, http.MethodPost, "/api/child/transactions",
		map[string]any{"amount": "5.00", "description": "Game"}, &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "policy_violation", errResp.Code)
	assert.Equal(t, "3.00", errResp.Details["remaining"])
	assert.Contains(t, errResp.Error, "remaining: 3.00")

	var dash DashboardDTO
	require.Equal(t, http.StatusOK, s.do(t, &kid, http.MethodGet, "/api/child/dashboard", nil, &dash))
	assert.Equal(t, "13.00", dash.Balance)
}

func TestTransactions_NewestFirstAndValidated(t *testing.T) {
	s := newTestServer(t)
	child, kid := s.createChild(t, map[string]any{"name": "Ada", "initial_balance": "10.00"})
	require.Equal(t, http.StatusCreated, s.do(t, &kid, http.MethodPost, "/api/child/transactions",
		map[string]any{"amount": "1.50", "description": "Gum"}, nil))

	var txs []TransactionDTO
	require.Equal(t, http.StatusOK, s.do(t, &parent, http.MethodGet, "/api/parent/transactions?child_id="+child.ID, nil, &txs))
	require.Len(t, txs, 2)
	assert.Equal(t, "Spending", txs[0].Type)
	assert.Equal(t, "InitialBalance", txs[1].Type)

	require.Equal(t, http.StatusOK, s.do(t, &kid, http.MethodGet, "/api/child/transactions?type=Spending", nil, &txs))
	assert.Len(t, txs, 1)

	assert.Equal(t, http.StatusBadRequest, s.do(t, &kid, http.MethodGet, "/api/child/transactions?limit=abc", nil, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(t, &kid, http.MethodGet, "/api/child/transactions?type=Bogus", nil, nil))
}

// =============================================================================
// GOALS
// =============================================================================

func TestGoals_CappedContributionAndRefund(t *testing.T) {
	s := newTestServer(t)
	_, kid := s.createChild(t, map[string]any{"name": "Ada", "initial_balance": "30.00"})

	var goal GoalDTO
	require.Equal(t, http.StatusCreated, s.do(t, &kid, http.MethodPost, "/api/child/savings-goals",
		map[string]any{"name": "Bike", "target_amount": "20.00"}, &goal))

	var out GoalOutcomeResponse
	require.Equal(t, http.StatusCreated, s.do(t, &kid, http.MethodPost, "/api/child/savings-goals/"+goal.ID+"/contribute",
		map[string]any{"amount": "15.00"}, &out))
	require.Equal(t, http.StatusCreated, s.do(t, &kid, http.MethodPost, "/api/child/savings-goals/"+goal.ID+"/contribute",
		map[string]any{"amount": "10.00"}, &out))
	assert.Equal(t, "20.00", out.Goal.CurrentAmount)
	assert.True(t, out.Goal.Complete)
	assert.Equal(t, "10.00", out.Balance)
	require.Len(t, out.Transactions, 1)
	assert.Equal(t, "-5.00", out.Transactions[0].Amount)

	var errResp ErrorResponse
	status := s.do(t, &kid, http.MethodPost, "/api/child/savings-goals/"+goal.ID+"/contribute",
		map[string]any{"amount": "1.00"}, &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, ledger.RuleGoalComplete, errResp.Details["rule"])

	require.Equal(t, http.StatusOK, s.do(t, &kid, http.MethodDelete, "/api/child/savings-goals/"+goal.ID, nil, &out))
	assert.True(t, out.Deleted)
	assert.Equal(t, "30.00", out.Balance)

	drifts, err := ledger.Reconcile(context.Background(), s.store)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

// =============================================================================
// CHORES
// =============================================================================

func TestChores_ApprovePaysReward(t *testing.T) {
	// GIVEN: A 100-point chore assigned to Ada
	// WHEN: Ada completes it and the parent approves
	// THEN: Ada's balance grows by 1.00

	s := newTestServer(t)
	child, kid := s.createChild(t, map[string]any{"name": "Ada"})

	var chore ChoreDTO
	require.Equal(t, http.StatusCreated, s.do(t, &parent, http.MethodPost, "/api/parent/chores",
		map[string]any{"title": "Dishes", "points": 100, "assigned_child_id": child.ID}, &chore))
	assert.Equal(t, "Pending", chore.Status)

	assert.Equal(t, http.StatusBadRequest, s.do(t, &parent, http.MethodPost, "/api/parent/chores",
		map[string]any{"title": "No points"}, nil))

	bo, _ := s.createChild(t, map[string]any{"name": "Bo"})
	require.Equal(t, http.StatusCreated, s.do(t, &parent, http.MethodPost, "/api/parent/chores",
		map[string]any{"title": "Laundry", "points": 20, "assigned_child_id": bo.ID}, nil))

	var listed []ChoreDTO
	require.Equal(t, http.StatusOK, s.do(t, &parent, http.MethodGet, "/api/parent/chores?child_id="+child.ID+"&status=Pending", nil, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, chore.ID, listed[0].ID)
	assert.Equal(t, http.StatusNotFound, s.do(t, &parent, http.MethodGet, "/api/parent/chores?child_id=nobody", nil, nil))

	require.Equal(t, http.StatusOK, s.do(t, &kid, http.MethodGet, "/api/child/chores", nil, &listed))
	require.Len(t, listed, 1)

	require.Equal(t, http.StatusOK, s.do(t, &kid, http.MethodPatch, "/api/child/chores/"+chore.ID+"/complete", nil, &chore))
	assert.Equal(t, "Completed", chore.Status)

	var approval ApprovalResponse
	require.Equal(t, http.StatusOK, s.do(t, &parent, http.MethodPatch, "/api/parent/chores/"+chore.ID+"/approve", nil, &approval))
	assert.Equal(t, "Approved", approval.Chore.Status)
	assert.Equal(t, "1.00", approval.Reward.Amount)
	assert.Equal(t, "1.00", approval.Balance)
	require.NotNil(t, approval.Reward.ChoreID)
	assert.Equal(t, chore.ID, *approval.Reward.ChoreID)

	var errResp ErrorResponse
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, &parent, http.MethodPatch, "/api/parent/chores/"+chore.ID+"/approve", nil, &errResp))
	assert.Equal(t, ledger.RuleChoreState, errResp.Details["rule"])
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, &parent, http.MethodDelete, "/api/parent/chores/"+chore.ID, nil, nil))
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	s.createChild(t, map[string]any{"name": "Ada", "initial_balance": "1.00"})

	assert.Equal(t, http.StatusOK, s.do(t, nil, http.MethodGet, "/healthz", nil, nil))

	resp, err := http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `family_ledger_transactions_total{operation="create_child",type="InitialBalance"} 1`)
	assert.Contains(t, string(body), `route="/api/parent/children`)
}
