package metrics_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/family-ledger/ledger"
	"github.com/warp/family-ledger/ledger/store"
	"github.com/warp/family-ledger/metrics"
)

func TestObserver_CountsEngineOutcomes(t *testing.T) {
	// GIVEN: An engine reporting to a fresh Metrics
	// WHEN: One spend commits and one is rejected
	// THEN: Both show up under their operation labels

	m := metrics.New()
	mem := store.NewMemory()
	engine := ledger.NewEngine(mem)
	engine.Observer = m
	ctx := context.Background()

	require.NoError(t, mem.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.CreateChild(ctx, ledger.Child{ID: "kid", ParentID: "p", Name: "Kid", Balance: decimal.Zero})
	}))
	parent := ledger.Actor{ID: "p", Role: ledger.RoleParent}
	child := ledger.Actor{ID: "kid", Role: ledger.RoleChild}

	_, err := engine.Apply(ctx, ledger.Mutation{ChildID: "kid", Actor: parent, Type: ledger.TxInitialBalance, Amount: ledger.MustMoney("5.00"), Description: "Initial balance"})
	require.NoError(t, err)
	_, err = engine.Apply(ctx, ledger.Mutation{ChildID: "kid", Actor: child, Type: ledger.TxSpending, Amount: ledger.MustMoney("-2.50"), Description: "Snack"})
	require.NoError(t, err)
	_, err = engine.Apply(ctx, ledger.Mutation{ChildID: "kid", Actor: child, Type: ledger.TxSpending, Amount: ledger.MustMoney("-9.00"), Description: "Toy"})
	require.Error(t, err)

	body := scrape(t, m)
	assert.Contains(t, body, `family_ledger_transactions_total{operation="apply_spending",type="Spending"} 1`)
	assert.Contains(t, body, `family_ledger_transaction_amount_total{type="Spending"} 2.5`)
	assert.Contains(t, body, `family_ledger_rejections_total{kind="insufficient_funds",operation="apply_spending"} 1`)
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	m := metrics.New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/children/{childID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/children/"+id, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}

	n, err := testutil.GatherAndCount(m.Registry(), "family_ledger_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, scrape(t, m), `family_ledger_http_requests_total{code="418",method="GET",route="/children/{childID}"} 2`)
}

func TestObserveAudit_KeepsLastGoodCount(t *testing.T) {
	m := metrics.New()

	m.ObserveAudit(2, nil)
	m.ObserveAudit(0, errors.New("store unavailable"))

	body := scrape(t, m)
	assert.Contains(t, body, "family_ledger_drifted_accounts 2")
	assert.Contains(t, body, "family_ledger_audit_failures_total 1")
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(b)
}
