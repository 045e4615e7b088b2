package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Drift is a child whose stored balance disagrees with its ledger.
type Drift struct {
	ChildID   ChildID
	Balance   decimal.Decimal
	LedgerSum decimal.Decimal
}

func (d Drift) String() string {
	return fmt.Sprintf("child %s: balance %s, ledger sum %s",
		d.ChildID, FormatMoney(d.Balance), FormatMoney(d.LedgerSum))
}

// Reconcile checks balance == sum(transactions) and balance >= 0 for every
// child. It reads without locks, so run it against a quiet database or
// expect in-flight mutations to show up as transient drift.
func Reconcile(ctx context.Context, r Reader) ([]Drift, error) {
	children, err := r.AllChildren(ctx)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}

	var drifts []Drift
	for _, c := range children {
		sum, err := r.SumTransactions(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("sum ledger for %s: %w", c.ID, err)
		}
		if !sum.Equal(c.Balance) || c.Balance.IsNegative() {
			drifts = append(drifts, Drift{ChildID: c.ID, Balance: c.Balance, LedgerSum: sum})
		}
	}
	return drifts, nil
}
