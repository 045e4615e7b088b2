package ledger_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/family-ledger/ledger"
	"github.com/warp/family-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	parent = ledger.Actor{ID: "parent-1", Role: ledger.RoleParent}
	// Wednesday
	wednesday = time.Date(2025, time.March, 12, 15, 0, 0, 0, time.UTC)
)

func money(s string) decimal.Decimal { return ledger.MustMoney(s) }

func childActor(id ledger.ChildID) ledger.Actor {
	return ledger.Actor{ID: string(id), Role: ledger.RoleChild}
}

type fixture struct {
	store  *store.Memory
	engine *ledger.Engine
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemory(), now: wednesday}
	f.engine = ledger.NewEngine(f.store)
	f.engine.Now = func() time.Time { return f.now }
	return f
}

// addChild creates a child owned by parent-1 and funds it with an
// InitialBalance transaction so balance == ledger sum from the start.
func (f *fixture) addChild(t *testing.T, id ledger.ChildID, balance string, limit *ledger.SpendingLimit) {
	t.Helper()
	ctx := context.Background()
	err := f.store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.CreateChild(ctx, ledger.Child{
			ID:            id,
			ParentID:      ledger.ParentID(parent.ID),
			Name:          string(id),
			Balance:       decimal.Zero,
			SpendingLimit: limit,
			CreatedAt:     f.now,
			UpdatedAt:     f.now,
		})
	})
	require.NoError(t, err)

	if amt := money(balance); amt.IsPositive() {
		_, err := f.engine.Apply(ctx, ledger.Mutation{
			ChildID:     id,
			Actor:       parent,
			Type:        ledger.TxInitialBalance,
			Amount:      amt,
			Description: "Initial balance",
		})
		require.NoError(t, err)
	}
}

func (f *fixture) spend(id ledger.ChildID, amount string) (ledger.Result, error) {
	return f.engine.Apply(context.Background(), ledger.Mutation{
		ChildID:     id,
		Actor:       childActor(id),
		Type:        ledger.TxSpending,
		Amount:      money(amount).Neg(),
		Description: "spend",
	})
}

func (f *fixture) balance(t *testing.T, id ledger.ChildID) decimal.Decimal {
	t.Helper()
	c, err := f.store.GetChild(context.Background(), id)
	require.NoError(t, err)
	return c.Balance
}

func (f *fixture) assertReconciled(t *testing.T) {
	t.Helper()
	drifts, err := ledger.Reconcile(context.Background(), f.store)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

// =============================================================================
// SPENDING
// =============================================================================

func TestApply_Spending_DebitsBalance(t *testing.T) {
	// GIVEN: A child with 10.00
	// WHEN: The child spends 4.00
	// THEN: Balance is 6.00 and a -4.00 Spending transaction is recorded

	f := newFixture(t)
	f.addChild(t, "kid", "10.00", nil)

	res, err := f.spend("kid", "4.00")
	require.NoError(t, err)

	assert.Equal(t, "6.00", ledger.FormatMoney(res.Balance))
	assert.Equal(t, "-4.00", ledger.FormatMoney(res.Transaction.Amount))
	assert.Equal(t, ledger.TxSpending, res.Transaction.Type)
	assert.Equal(t, "kid", res.Transaction.ActorID)
	assert.Equal(t, ledger.RoleChild, res.Transaction.ActorRole)
	assert.False(t, res.Replayed)
	assert.True(t, f.balance(t, "kid").Equal(money("6.00")))
	f.assertReconciled(t)
}

func TestApply_Spending_InsufficientFunds(t *testing.T) {
	// GIVEN: A child with 5.00
	// WHEN: The child tries to spend 8.00
	// THEN: Rejected, balance and ledger untouched

	f := newFixture(t)
	f.addChild(t, "kid", "5.00", nil)

	_, err := f.spend("kid", "8.00")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrInsufficientFunds))

	var insuf *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &insuf)
	assert.Equal(t, "3.00", ledger.FormatMoney(insuf.Shortfall()))

	assert.True(t, f.balance(t, "kid").Equal(money("5.00")))
	txs, err := f.store.ListTransactions(context.Background(), ledger.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, txs, 1, "only the initial balance")
}

func TestApply_Spending_ExactBalanceAllowed(t *testing.T) {
	f := newFixture(t)
	f.addChild(t, "kid", "5.00", nil)

	res, err := f.spend("kid", "5.00")
	require.NoError(t, err)
	assert.True(t, res.Balance.IsZero())
	f.assertReconciled(t)
}

func TestApply_Spending_WeeklyLimitReportsRemaining(t *testing.T) {
	// GIVEN: Weekly limit 10.00, 7.00 already spent this week
	// WHEN: The child spends 5.00
	// THEN: Policy violation with remaining 3.00

	f := newFixture(t)
	f.addChild(t, "kid", "50.00", &ledger.SpendingLimit{Amount: money("10.00"), Frequency: ledger.Weekly})

	_, err := f.spend("kid", "7.00")
	require.NoError(t, err)

	_, err = f.spend("kid", "5.00")
	require.Error(t, err)
	assert.Equal(t, ledger.KindPolicyViolation, ledger.KindOf(err))

	var limitErr *ledger.SpendingLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "3.00", ledger.FormatMoney(limitErr.Remaining))
	assert.Contains(t, err.Error(), "remaining: 3.00")

	// Exactly the remainder is fine
	_, err = f.spend("kid", "3.00")
	require.NoError(t, err)
	assert.True(t, f.balance(t, "kid").Equal(money("40.00")))
}

func TestApply_Spending_LimitCheckedBeforeBalance(t *testing.T) {
	// GIVEN: Balance 2.00 and a weekly limit of 1.00
	// WHEN: Spending 5.00
	// THEN: The limit violation wins over insufficient funds

	f := newFixture(t)
	f.addChild(t, "kid", "2.00", &ledger.SpendingLimit{Amount: money("1.00"), Frequency: ledger.Weekly})

	_, err := f.spend("kid", "5.00")
	assert.True(t, errors.Is(err, ledger.ErrPolicyViolation))
}

func TestApply_Spending_PreviousWeekDoesNotCount(t *testing.T) {
	// GIVEN: 9.00 spent last Saturday against a weekly limit of 10.00
	// WHEN: Spending 9.00 on Wednesday
	// THEN: Allowed, the window started on Sunday

	f := newFixture(t)
	f.now = time.Date(2025, time.March, 8, 23, 59, 0, 0, time.UTC) // Saturday
	f.addChild(t, "kid", "50.00", &ledger.SpendingLimit{Amount: money("10.00"), Frequency: ledger.Weekly})

	_, err := f.spend("kid", "9.00")
	require.NoError(t, err)

	f.now = wednesday
	_, err = f.spend("kid", "9.00")
	require.NoError(t, err)
}

func TestApply_Spending_ZeroLimitForbidsSpending(t *testing.T) {
	f := newFixture(t)
	f.addChild(t, "kid", "5.00", &ledger.SpendingLimit{Amount: decimal.Zero, Frequency: ledger.Monthly})

	_, err := f.spend("kid", "0.01")
	var limitErr *ledger.SpendingLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.True(t, limitErr.Remaining.IsZero())
}

// =============================================================================
// VALIDATION AND OWNERSHIP
// =============================================================================

func TestApply_RejectsMalformedMutations(t *testing.T) {
	f := newFixture(t)
	f.addChild(t, "kid", "10.00", nil)

	cases := []struct {
		name string
		m    ledger.Mutation
	}{
		{"three decimal places", ledger.Mutation{ChildID: "kid", Actor: parent, Type: ledger.TxManualAdjustment, Amount: decimal.RequireFromString("1.005"), Description: "x"}},
		{"positive spending", ledger.Mutation{ChildID: "kid", Actor: parent, Type: ledger.TxSpending, Amount: money("1.00"), Description: "x"}},
		{"negative allowance", ledger.Mutation{ChildID: "kid", Actor: parent, Type: ledger.TxAllowance, Amount: money("-1.00"), Description: "x"}},
		{"zero adjustment", ledger.Mutation{ChildID: "kid", Actor: parent, Type: ledger.TxManualAdjustment, Amount: decimal.Zero, Description: "x"}},
		{"blank description", ledger.Mutation{ChildID: "kid", Actor: parent, Type: ledger.TxAllowance, Amount: money("1.00"), Description: "  "}},
		{"unknown type", ledger.Mutation{ChildID: "kid", Actor: parent, Type: "Gift", Amount: money("1.00"), Description: "x"}},
		{"missing actor", ledger.Mutation{ChildID: "kid", Type: ledger.TxAllowance, Amount: money("1.00"), Description: "x"}},
		{"description too long", ledger.Mutation{ChildID: "kid", Actor: parent, Type: ledger.TxAllowance, Amount: money("1.00"), Description: strings.Repeat("x", ledger.MaxDescriptionLen+1)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Apply(context.Background(), tc.m)
			assert.True(t, errors.Is(err, ledger.ErrValidation), "got %v", err)
		})
	}
	assert.True(t, f.balance(t, "kid").Equal(money("10.00")))
}

func TestApply_DescriptionLimitCountsRunes(t *testing.T) {
	// GIVEN: A description of exactly MaxDescriptionLen three-byte runes
	// WHEN: It is applied
	// THEN: It is accepted even though it is far over MaxDescriptionLen bytes

	f := newFixture(t)
	f.addChild(t, "kid", "0.00", nil)

	desc := strings.Repeat("貯", ledger.MaxDescriptionLen)
	res, err := f.engine.Apply(context.Background(), ledger.Mutation{
		ChildID: "kid", Actor: parent, Type: ledger.TxAllowance, Amount: money("1.00"), Description: desc,
	})
	require.NoError(t, err)
	assert.Equal(t, desc, res.Transaction.Description)
}

func TestApply_ZeroChoreRewardAllowed(t *testing.T) {
	f := newFixture(t)
	f.addChild(t, "kid", "1.00", nil)

	res, err := f.engine.Apply(context.Background(), ledger.Mutation{
		ChildID: "kid", Actor: parent, Type: ledger.TxChoreReward, Amount: decimal.Zero, Description: "free chore",
	})
	require.NoError(t, err)
	assert.True(t, res.Balance.Equal(money("1.00")))
}

func TestApply_ForeignAccountLooksMissing(t *testing.T) {
	// GIVEN: Two siblings and a stranger parent
	// WHEN: One acts on an account it does not own
	// THEN: Not found, nothing written

	f := newFixture(t)
	f.addChild(t, "kid", "10.00", nil)
	f.addChild(t, "sibling", "10.00", nil)

	_, err := f.engine.Apply(context.Background(), ledger.Mutation{
		ChildID: "kid", Actor: childActor("sibling"), Type: ledger.TxSpending, Amount: money("-1.00"), Description: "x",
	})
	assert.True(t, errors.Is(err, ledger.ErrNotFound))

	stranger := ledger.Actor{ID: "parent-2", Role: ledger.RoleParent}
	_, err = f.engine.Apply(context.Background(), ledger.Mutation{
		ChildID: "kid", Actor: stranger, Type: ledger.TxManualAdjustment, Amount: money("1.00"), Description: "x",
	})
	assert.True(t, errors.Is(err, ledger.ErrNotFound))

	assert.True(t, f.balance(t, "kid").Equal(money("10.00")))
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestApply_IdempotencyKey_ReplaysFirstResult(t *testing.T) {
	f := newFixture(t)
	f.addChild(t, "kid", "10.00", nil)

	m := ledger.Mutation{
		ChildID: "kid", Actor: childActor("kid"), Type: ledger.TxSpending,
		Amount: money("-4.00"), Description: "snack", IdempotencyKey: "req-1",
	}
	first, err := f.engine.Apply(context.Background(), m)
	require.NoError(t, err)

	second, err := f.engine.Apply(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.True(t, f.balance(t, "kid").Equal(money("6.00")), "debited once")
}

func TestApply_IdempotencyKey_DifferentAmountConflicts(t *testing.T) {
	f := newFixture(t)
	f.addChild(t, "kid", "10.00", nil)

	m := ledger.Mutation{
		ChildID: "kid", Actor: childActor("kid"), Type: ledger.TxSpending,
		Amount: money("-4.00"), Description: "snack", IdempotencyKey: "req-1",
	}
	_, err := f.engine.Apply(context.Background(), m)
	require.NoError(t, err)

	m.Amount = money("-5.00")
	_, err = f.engine.Apply(context.Background(), m)
	assert.True(t, errors.Is(err, ledger.ErrConflict))
}

// =============================================================================
// TRANSACT / ROLLBACK
// =============================================================================

func TestTransact_ErrorRollsBackEveryWrite(t *testing.T) {
	// GIVEN: A session that credits 5.00 then fails
	// WHEN: The session returns its error
	// THEN: Neither the balance nor the ledger changed

	f := newFixture(t)
	f.addChild(t, "kid", "10.00", nil)
	boom := errors.New("boom")

	err := f.engine.Transact(context.Background(), "test", func(s *ledger.Session) error {
		child, err := s.LockChild(context.Background(), parent, "kid")
		if err != nil {
			return err
		}
		if _, err := s.Apply(context.Background(), child, ledger.Mutation{
			ChildID: "kid", Actor: parent, Type: ledger.TxManualAdjustment, Amount: money("5.00"), Description: "bonus",
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, ledger.KindTransient, ledger.KindOf(err))

	assert.True(t, f.balance(t, "kid").Equal(money("10.00")))
	f.assertReconciled(t)
}

func TestSessionApply_SeesEarlierWritesInSameSession(t *testing.T) {
	f := newFixture(t)
	f.addChild(t, "kid", "1.00", nil)

	err := f.engine.Transact(context.Background(), "test", func(s *ledger.Session) error {
		child, err := s.LockChild(context.Background(), parent, "kid")
		if err != nil {
			return err
		}
		if _, err := s.Apply(context.Background(), child, ledger.Mutation{
			ChildID: "kid", Actor: parent, Type: ledger.TxParentTransfer, Amount: money("4.00"), Description: "from parent",
		}); err != nil {
			return err
		}
		_, err = s.Apply(context.Background(), child, ledger.Mutation{
			ChildID: "kid", Actor: parent, Type: ledger.TxGoalContribution, Amount: money("-5.00"), Description: "to goal",
		})
		return err
	})
	require.NoError(t, err)
	assert.True(t, f.balance(t, "kid").IsZero())
	f.assertReconciled(t)
}

type recordingObserver struct {
	mu        sync.Mutex
	committed map[string]int
	rejected  map[ledger.Kind]int
}

func (o *recordingObserver) Committed(op string, txs []ledger.Transaction) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.committed[op] += len(txs)
}

func (o *recordingObserver) Rejected(_ string, kind ledger.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected[kind]++
}

func TestEngine_ObserverSeesOutcomes(t *testing.T) {
	f := newFixture(t)
	obs := &recordingObserver{committed: map[string]int{}, rejected: map[ledger.Kind]int{}}
	f.engine.Observer = obs
	f.addChild(t, "kid", "5.00", nil)

	_, err := f.spend("kid", "1.00")
	require.NoError(t, err)
	_, err = f.spend("kid", "100.00")
	require.Error(t, err)

	assert.Equal(t, 1, obs.committed["apply_spending"])
	assert.Equal(t, 1, obs.committed["apply_initialbalance"])
	assert.Equal(t, 1, obs.rejected[ledger.KindInsufficientFunds])
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestApply_ConcurrentSpendsNeverOverdraw(t *testing.T) {
	// GIVEN: A child with 10.00
	// WHEN: 25 concurrent 1.00 spends race
	// THEN: Exactly 10 succeed, balance is 0.00, ledger matches

	f := newFixture(t)
	f.addChild(t, "kid", "10.00", nil)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.spend("kid", "1.00")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, ledger.ErrInsufficientFunds) {
				fail++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, 15, fail)
	assert.True(t, f.balance(t, "kid").IsZero())
	f.assertReconciled(t)
}

// =============================================================================
// RECONCILE
// =============================================================================

func TestReconcile_ReportsDrift(t *testing.T) {
	f := newFixture(t)
	f.addChild(t, "kid", "10.00", nil)
	f.addChild(t, "ok", "3.00", nil)

	ctx := context.Background()
	require.NoError(t, f.store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.UpdateBalance(ctx, "kid", money("12.00"))
	}))

	drifts, err := ledger.Reconcile(ctx, f.store)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, ledger.ChildID("kid"), drifts[0].ChildID)
	assert.Equal(t, "child kid: balance 12.00, ledger sum 10.00", drifts[0].String())
}
