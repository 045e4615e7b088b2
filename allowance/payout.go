/*
payout.go - Allowance payouts, once per period

PURPOSE:
  Pays a parent's configured allowances for the current allowance period
  (weekly or monthly, same windows as spending limits). Payouts happen
  when a parent asks for them; nothing here runs on a timer.

KEY CONCEPT - PERIOD KEYS:
  Each payout carries the idempotency key "allowance/<period start>". A
  period is paid at most once per child however many times PayDue is
  called, and a manual payout made with the same key counts as paid.

SEE ALSO:
  - accounts/accounts.go: PayAllowance (single child)
  - ledger/period.go: PeriodFor
*/
package allowance

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/family-ledger/accounts"
	"github.com/warp/family-ledger/ledger"
)

const keyPrefix = "allowance/"

// Key is the idempotency key of the payout for the period containing now.
func Key(f ledger.Frequency, now time.Time, loc *time.Location) string {
	return keyPrefix + ledger.PeriodFor(f, now, loc).Start.Format("2006-01-02")
}

// Summary reports one PayDue call.
type Summary struct {
	Paid    int `json:"paid"`
	Skipped int `json:"skipped"` // already paid this period
	Failed  int `json:"failed"`
}

type Payer struct {
	engine   *ledger.Engine
	accounts *accounts.Service
}

func NewPayer(engine *ledger.Engine, svc *accounts.Service) *Payer {
	return &Payer{engine: engine, accounts: svc}
}

// PayDue pays every allowance of the parent's children that has not been
// paid in the current period. A failure for one child does not stop the
// others; it is logged and counted.
func (p *Payer) PayDue(ctx context.Context, parent ledger.Actor) (Summary, error) {
	var sum Summary
	if err := ledger.RequireRole(parent, ledger.RoleParent, "pay allowances"); err != nil {
		return sum, err
	}
	children, err := p.accounts.ListChildren(ctx, parent)
	if err != nil {
		return sum, err
	}

	logger := zerolog.Ctx(ctx)
	now := p.engine.Clock()
	for _, c := range children {
		if c.Allowance == nil {
			continue
		}
		key := Key(c.Allowance.Frequency, now, p.engine.Location)

		res, err := p.accounts.PayAllowance(ctx, parent, c.ID, key)
		switch {
		case ledger.KindOf(err) == ledger.KindConflict:
			// key used earlier this period by a different entry
			sum.Skipped++
		case ledger.KindOf(err) == ledger.KindPolicyViolation:
			// allowance removed since the list was read
			sum.Skipped++
		case err != nil:
			sum.Failed++
			logger.Error().Err(err).Str("child_id", string(c.ID)).Msg("allowance payout failed")
		case res.Replayed:
			sum.Skipped++
		default:
			sum.Paid++
			logger.Info().
				Str("child_id", string(c.ID)).
				Str("amount", ledger.FormatMoney(res.Transaction.Amount)).
				Str("key", key).
				Msg("allowance paid")
		}
	}
	return sum, nil
}
