package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SPENDING LIMIT POLICY
// =============================================================================

// CheckSpendingLimit rejects spend (a positive amount) when it would push the
// child's Spending total for the current window past its limit. Children
// without a limit always pass. Must run on a locked child so the window
// total cannot move underneath it.
func CheckSpendingLimit(ctx context.Context, tx Tx, child *Child, spend decimal.Decimal, now time.Time, loc *time.Location) error {
	limit := child.SpendingLimit
	if limit == nil {
		return nil
	}

	window := PeriodFor(limit.Frequency, now, loc)
	spent, err := tx.SpendingSince(ctx, child.ID, window.Start)
	if err != nil {
		return err
	}

	if spent.Add(spend).GreaterThan(limit.Amount) {
		remaining := limit.Amount.Sub(spent)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		return &SpendingLimitError{
			Frequency: limit.Frequency,
			Limit:     limit.Amount,
			Spent:     spent,
			Remaining: remaining,
		}
	}
	return nil
}
