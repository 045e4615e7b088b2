package allowance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/family-ledger/accounts"
	"github.com/warp/family-ledger/allowance"
	"github.com/warp/family-ledger/ledger"
	"github.com/warp/family-ledger/ledger/store"
)

var dad = ledger.Actor{ID: "parent-1", Role: ledger.RoleParent}

type fixture struct {
	store    *store.Memory
	engine   *ledger.Engine
	accounts *accounts.Service
	payer    *allowance.Payer
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewMemory(),
		now:   time.Date(2025, time.March, 12, 15, 0, 0, 0, time.UTC), // Wednesday
	}
	f.engine = ledger.NewEngine(f.store)
	f.engine.Now = func() time.Time { return f.now }
	f.accounts = accounts.NewService(f.engine)
	f.payer = allowance.NewPayer(f.engine, f.accounts)
	return f
}

func (f *fixture) child(t *testing.T, parent ledger.Actor, name string, a *ledger.Allowance) *ledger.Child {
	t.Helper()
	c, err := f.accounts.CreateChild(context.Background(), parent, accounts.NewChild{Name: name, Allowance: a})
	require.NoError(t, err)
	return c
}

func (f *fixture) balance(t *testing.T, id ledger.ChildID) string {
	t.Helper()
	c, err := f.store.GetChild(context.Background(), id)
	require.NoError(t, err)
	return ledger.FormatMoney(c.Balance)
}

func TestKey_OnePerPeriod(t *testing.T) {
	wed := time.Date(2025, time.March, 12, 15, 0, 0, 0, time.UTC)
	sat := time.Date(2025, time.March, 15, 23, 0, 0, 0, time.UTC)
	sun := time.Date(2025, time.March, 16, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "allowance/2025-03-09", allowance.Key(ledger.Weekly, wed, time.UTC))
	assert.Equal(t, allowance.Key(ledger.Weekly, wed, time.UTC), allowance.Key(ledger.Weekly, sat, time.UTC))
	assert.Equal(t, "allowance/2025-03-16", allowance.Key(ledger.Weekly, sun, time.UTC))
	assert.Equal(t, "allowance/2025-03-01", allowance.Key(ledger.Monthly, wed, time.UTC))
}

func TestPayDue_OncePerPeriod(t *testing.T) {
	// GIVEN: One child with a weekly allowance of 5.00, one without
	// WHEN: The parent pays due allowances twice in one week, then next week
	// THEN: 5.00 per week, nothing for the other child

	f := newFixture(t)
	ctx := context.Background()
	kid := f.child(t, dad, "Kid", &ledger.Allowance{Amount: ledger.MustMoney("5.00"), Frequency: ledger.Weekly})
	other := f.child(t, dad, "Other", nil)

	sum, err := f.payer.PayDue(ctx, dad)
	require.NoError(t, err)
	assert.Equal(t, allowance.Summary{Paid: 1}, sum)

	sum, err = f.payer.PayDue(ctx, dad)
	require.NoError(t, err)
	assert.Equal(t, allowance.Summary{Skipped: 1}, sum)
	assert.Equal(t, "5.00", f.balance(t, kid.ID))

	f.now = f.now.AddDate(0, 0, 7)
	sum, err = f.payer.PayDue(ctx, dad)
	require.NoError(t, err)
	assert.Equal(t, allowance.Summary{Paid: 1}, sum)
	assert.Equal(t, "10.00", f.balance(t, kid.ID))
	assert.Equal(t, "0.00", f.balance(t, other.ID))

	txs, err := f.accounts.Transactions(ctx, dad, ledger.TransactionFilter{ChildID: &kid.ID})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "allowance/2025-03-16", txs[0].IdempotencyKey)
	assert.Equal(t, "Weekly allowance", txs[0].Description)
}

func TestPayDue_ManualPayoutWithSameKeyCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	kid := f.child(t, dad, "Kid", &ledger.Allowance{Amount: ledger.MustMoney("5.00"), Frequency: ledger.Monthly})

	_, err := f.accounts.PayAllowance(ctx, dad, kid.ID, allowance.Key(ledger.Monthly, f.now, time.UTC))
	require.NoError(t, err)

	sum, err := f.payer.PayDue(ctx, dad)
	require.NoError(t, err)
	assert.Equal(t, allowance.Summary{Skipped: 1}, sum)
	assert.Equal(t, "5.00", f.balance(t, kid.ID))
}

func TestPayDue_OnlyOwnChildren(t *testing.T) {
	// GIVEN: Two families with allowances configured
	// WHEN: One parent pays due allowances
	// THEN: The other family is untouched

	f := newFixture(t)
	ctx := context.Background()
	mum := ledger.Actor{ID: "parent-2", Role: ledger.RoleParent}
	mine := f.child(t, dad, "Kid", &ledger.Allowance{Amount: ledger.MustMoney("3.00"), Frequency: ledger.Weekly})
	theirs := f.child(t, mum, "Kid", &ledger.Allowance{Amount: ledger.MustMoney("4.00"), Frequency: ledger.Weekly})

	sum, err := f.payer.PayDue(ctx, dad)
	require.NoError(t, err)
	assert.Equal(t, allowance.Summary{Paid: 1}, sum)
	assert.Equal(t, "3.00", f.balance(t, mine.ID))
	assert.Equal(t, "0.00", f.balance(t, theirs.ID))
}

func TestPayDue_ParentOnly(t *testing.T) {
	f := newFixture(t)
	kid := f.child(t, dad, "Kid", &ledger.Allowance{Amount: ledger.MustMoney("3.00"), Frequency: ledger.Weekly})

	_, err := f.payer.PayDue(context.Background(), ledger.Actor{ID: string(kid.ID), Role: ledger.RoleChild})
	assert.ErrorIs(t, err, ledger.ErrForbidden)
	assert.Equal(t, "0.00", f.balance(t, kid.ID))
}
