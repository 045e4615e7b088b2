package postgres_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/family-ledger/ledger"
	"github.com/warp/family-ledger/store/postgres"
)

// These tests need a disposable database:
//
//	FAMILY_LEDGER_TEST_POSTGRES=postgres://localhost/family_ledger_test go test ./store/postgres
func newTestStore(t *testing.T) *postgres.Store {
	url := os.Getenv("FAMILY_LEDGER_TEST_POSTGRES")
	if url == "" {
		t.Skip("FAMILY_LEDGER_TEST_POSTGRES not set")
	}

	ctx := context.Background()
	store, err := postgres.Connect(ctx, url)
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx))
	t.Cleanup(func() { store.Close() })
	return store
}

var parent = ledger.Actor{ID: "parent-1", Role: ledger.RoleParent}

func seedChild(t *testing.T, store *postgres.Store, engine *ledger.Engine, id ledger.ChildID, balance string) {
	ctx := context.Background()
	now := engine.Clock()
	require.NoError(t, store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.CreateChild(ctx, ledger.Child{
			ID: id, ParentID: "parent-1", Name: string(id),
			Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now,
		})
	}))
	_, err := engine.Apply(ctx, ledger.Mutation{
		ChildID: id, Actor: parent, Type: ledger.TxInitialBalance,
		Amount: ledger.MustMoney(balance), Description: "Initial balance",
	})
	require.NoError(t, err)
}

func TestPostgres_SpendAndReconcile(t *testing.T) {
	store := newTestStore(t)
	engine := ledger.NewEngine(store)
	seedChild(t, store, engine, "kid", "10.00")
	ctx := context.Background()

	res, err := engine.Apply(ctx, ledger.Mutation{
		ChildID: "kid", Actor: ledger.Actor{ID: "kid", Role: ledger.RoleChild},
		Type: ledger.TxSpending, Amount: ledger.MustMoney("-4.00"), Description: "snack",
	})
	require.NoError(t, err)
	assert.Equal(t, "6.00", ledger.FormatMoney(res.Balance))

	drifts, err := ledger.Reconcile(ctx, store)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestPostgres_WeeklyLimit(t *testing.T) {
	store := newTestStore(t)
	engine := ledger.NewEngine(store)
	engine.Now = func() time.Time { return time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC) }
	seedChild(t, store, engine, "kid", "50.00")
	ctx := context.Background()

	require.NoError(t, store.WithTx(ctx, func(tx ledger.Tx) error {
		c, err := tx.LockChild(ctx, "kid")
		if err != nil {
			return err
		}
		c.SpendingLimit = &ledger.SpendingLimit{Amount: ledger.MustMoney("10.00"), Frequency: ledger.Weekly}
		return tx.UpdateChild(ctx, *c)
	}))

	spend := func(amount string) error {
		_, err := engine.Apply(ctx, ledger.Mutation{
			ChildID: "kid", Actor: ledger.Actor{ID: "kid", Role: ledger.RoleChild},
			Type: ledger.TxSpending, Amount: ledger.MustMoney(amount).Neg(), Description: "spend",
		})
		return err
	}
	require.NoError(t, spend("7.00"))

	var limitErr *ledger.SpendingLimitError
	require.ErrorAs(t, spend("5.00"), &limitErr)
	assert.Equal(t, "3.00", ledger.FormatMoney(limitErr.Remaining))
}

func TestPostgres_DuplicateNameConflicts(t *testing.T) {
	store := newTestStore(t)
	engine := ledger.NewEngine(store)
	seedChild(t, store, engine, "kid", "1.00")
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.CreateChild(ctx, ledger.Child{
			ID: "kid-2", ParentID: "parent-1", Name: "kid", CreatedAt: engine.Clock(), UpdatedAt: engine.Clock(),
		})
	})
	assert.True(t, errors.Is(err, ledger.ErrConflict))
}

func TestPostgres_ConcurrentSpendsUseRowLock(t *testing.T) {
	store := newTestStore(t)
	engine := ledger.NewEngine(store)
	seedChild(t, store, engine, "kid", "10.00")
	ctx := context.Background()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Apply(ctx, ledger.Mutation{
				ChildID: "kid", Actor: ledger.Actor{ID: "kid", Role: ledger.RoleChild},
				Type: ledger.TxSpending, Amount: ledger.MustMoney("-1.00"), Description: "gum",
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	drifts, err := ledger.Reconcile(ctx, store)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}
