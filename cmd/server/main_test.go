package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/family-ledger/chores"
	"github.com/warp/family-ledger/config"
	"github.com/warp/family-ledger/ledger"
	"github.com/warp/family-ledger/store/sqlite"
)

func TestSeedThenReconcile(t *testing.T) {
	// GIVEN: An empty SQLite database
	// WHEN: The demo family is seeded
	// THEN: Every balance matches its ledger and Ada holds 20 - 8 + 1.50

	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, seed(ctx, ledger.NewEngine(st), chores.RewardPolicy{}, "demo-parent", &out))
	assert.Contains(t, out.String(), "seeded parent demo-parent")

	children, err := st.ListChildren(ctx, "demo-parent")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "Ada", children[0].Name)
	assert.Equal(t, "13.50", ledger.FormatMoney(children[0].Balance))

	out.Reset()
	require.NoError(t, reconcile(ctx, st, &out))
	assert.Contains(t, out.String(), "ok")
}

// driftReader reports a child whose balance disagrees with its ledger.
type driftReader struct {
	ledger.Reader
}

func (driftReader) AllChildren(context.Context) ([]ledger.Child, error) {
	return []ledger.Child{{ID: "kid", Balance: ledger.MustMoney("12.00")}}, nil
}

func (driftReader) SumTransactions(context.Context, ledger.ChildID) (decimal.Decimal, error) {
	return ledger.MustMoney("10.00"), nil
}

func TestReconcile_DriftFails(t *testing.T) {
	var out bytes.Buffer
	err := reconcile(context.Background(), driftReader{}, &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errDrift))
	assert.Contains(t, out.String(), "child kid: balance 12.00, ledger sum 10.00")
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, err := openStore(context.Background(), config.Database{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)
}
