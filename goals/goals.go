/*
Package goals implements savings goals on top of the mutation engine.

PURPOSE:
  A goal is a second aggregate next to the child's balance. Its
  current_amount only moves together with an opposite balance mutation
  recorded in the ledger, inside the same store transaction.

OPERATIONS:
  Create:     child opens an empty goal
  Contribute: child moves balance into the goal, or a parent sends money
              toward it; capped at what the goal still needs
  Delete:     current_amount is refunded to the balance, then the goal goes

PARENT CONTRIBUTIONS:
  The parent path writes a ParentTransfer credit and a GoalContribution
  debit of the same amount. Net balance effect is zero and
  balance == sum(transactions) keeps holding.

LOCK ORDER:
  The goal row is read once without a lock to learn its child, then the
  child is locked, then the goal. Every other call site locks child before
  goal too.
*/
package goals

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/family-ledger/ledger"
)

// transferKeySuffix derives the ParentTransfer key from the contribution key
// so both halves of a parent contribution replay together.
const transferKeySuffix = "/transfer"

type Service struct {
	engine *ledger.Engine
}

func NewService(engine *ledger.Engine) *Service {
	return &Service{engine: engine}
}

// Outcome is what a goal mutation returns: the goal after the change, the
// child's balance and the ledger entries written (or replayed).
type Outcome struct {
	Goal         ledger.Goal
	Deleted      bool
	Balance      decimal.Decimal
	Transactions []ledger.Transaction
	Replayed     bool
}

// =============================================================================
// CREATE
// =============================================================================

func (s *Service) Create(ctx context.Context, actor ledger.Actor, name string, target decimal.Decimal) (*ledger.Goal, error) {
	if err := ledger.RequireRole(actor, ledger.RoleChild, "create savings goals"); err != nil {
		return nil, err
	}
	name, err := ledger.RequireText("name", name, ledger.MaxNameLen)
	if err != nil {
		return nil, err
	}
	target, err = ledger.RequirePositive("target_amount", target)
	if err != nil {
		return nil, err
	}

	var goal ledger.Goal
	err = s.engine.Transact(ctx, "create_goal", func(sess *ledger.Session) error {
		child, err := sess.LockChild(ctx, actor, ledger.ChildID(actor.ID))
		if err != nil {
			return err
		}
		now := sess.Now()
		goal = ledger.Goal{
			ID:            ledger.GoalID(sess.NewID()),
			ChildID:       child.ID,
			Name:          name,
			TargetAmount:  target,
			CurrentAmount: decimal.Zero,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return sess.Tx.CreateGoal(ctx, goal)
	})
	if err != nil {
		return nil, err
	}
	return &goal, nil
}

// =============================================================================
// CONTRIBUTE
// =============================================================================

type Contribution struct {
	Amount         decimal.Decimal
	Description    string // optional
	IdempotencyKey string
}

// Contribute moves up to c.Amount into the goal. The effective amount is
// min(c.Amount, target - current); a complete goal rejects the call. The
// debit is checked against the locked balance, so a capped contribution
// the child cannot afford still fails with insufficient funds.
func (s *Service) Contribute(ctx context.Context, actor ledger.Actor, id ledger.GoalID, c Contribution) (*Outcome, error) {
	amount, err := ledger.RequirePositive("amount", c.Amount)
	if err != nil {
		return nil, err
	}

	peek, err := s.engine.Store.GetGoal(ctx, id)
	if err != nil {
		return nil, err
	}

	var out Outcome
	err = s.engine.Transact(ctx, "contribute_goal", func(sess *ledger.Session) error {
		child, goal, err := lockChildAndGoal(ctx, sess, actor, peek)
		if err != nil {
			return err
		}

		if c.IdempotencyKey != "" {
			prev, err := sess.Tx.FindTransactionByKey(ctx, child.ID, c.IdempotencyKey)
			if err != nil {
				return err
			}
			if prev != nil {
				if prev.Type != ledger.TxGoalContribution || prev.GoalID == nil || *prev.GoalID != goal.ID {
					return &ledger.ConflictError{Message: "idempotency key already used for a different mutation"}
				}
				out = Outcome{Goal: *goal, Balance: child.Balance, Transactions: []ledger.Transaction{*prev}, Replayed: true}
				return nil
			}
		}

		if goal.Complete() {
			return ledger.Violation(ledger.RuleGoalComplete, "savings goal %q has already been met", goal.Name)
		}
		effective := decimal.Min(amount, goal.Remaining())

		var txs []ledger.Transaction
		desc := c.Description
		if actor.IsParent() {
			if desc == "" {
				desc = "Parent contribution to goal: " + goal.Name
			}
			transferKey := ""
			if c.IdempotencyKey != "" {
				transferKey = c.IdempotencyKey + transferKeySuffix
			}
			res, err := sess.Apply(ctx, child, ledger.Mutation{
				ChildID:        child.ID,
				Actor:          actor,
				Type:           ledger.TxParentTransfer,
				Amount:         effective,
				Description:    desc,
				GoalID:         &goal.ID,
				IdempotencyKey: transferKey,
			})
			if err != nil {
				return err
			}
			txs = append(txs, res.Transaction)
		} else if desc == "" {
			desc = "Contribution to goal: " + goal.Name
		}

		res, err := sess.Apply(ctx, child, ledger.Mutation{
			ChildID:        child.ID,
			Actor:          actor,
			Type:           ledger.TxGoalContribution,
			Amount:         effective.Neg(),
			Description:    desc,
			GoalID:         &goal.ID,
			IdempotencyKey: c.IdempotencyKey,
		})
		if err != nil {
			return err
		}
		txs = append(txs, res.Transaction)

		goal.CurrentAmount = goal.CurrentAmount.Add(effective)
		goal.UpdatedAt = sess.Now()
		if err := sess.Tx.UpdateGoalAmount(ctx, goal.ID, goal.CurrentAmount); err != nil {
			return err
		}

		out = Outcome{Goal: *goal, Balance: child.Balance, Transactions: txs}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete removes the goal, first refunding its current amount to the
// child's balance as a GoalRefund.
func (s *Service) Delete(ctx context.Context, actor ledger.Actor, id ledger.GoalID) (*Outcome, error) {
	peek, err := s.engine.Store.GetGoal(ctx, id)
	if err != nil {
		return nil, err
	}

	var out Outcome
	err = s.engine.Transact(ctx, "delete_goal", func(sess *ledger.Session) error {
		child, goal, err := lockChildAndGoal(ctx, sess, actor, peek)
		if err != nil {
			return err
		}

		var txs []ledger.Transaction
		if goal.CurrentAmount.IsPositive() {
			res, err := sess.Apply(ctx, child, ledger.Mutation{
				ChildID:     child.ID,
				Actor:       actor,
				Type:        ledger.TxGoalRefund,
				Amount:      goal.CurrentAmount,
				Description: "Refund from deleted goal: " + goal.Name,
				GoalID:      &goal.ID,
			})
			if err != nil {
				return err
			}
			txs = append(txs, res.Transaction)
		}

		if err := sess.Tx.DeleteGoal(ctx, goal.ID); err != nil {
			return err
		}
		out = Outcome{Goal: *goal, Deleted: true, Balance: child.Balance, Transactions: txs}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// lockChildAndGoal locks in child -> goal order and re-checks that the goal
// still belongs to the child seen before the locks were taken.
func lockChildAndGoal(ctx context.Context, sess *ledger.Session, actor ledger.Actor, peek *ledger.Goal) (*ledger.Child, *ledger.Goal, error) {
	child, err := sess.LockChild(ctx, actor, peek.ChildID)
	if err != nil {
		if ledger.KindOf(err) == ledger.KindNotFound {
			return nil, nil, ledger.NotFound("goal", string(peek.ID))
		}
		return nil, nil, err
	}
	goal, err := sess.Tx.LockGoal(ctx, peek.ID)
	if err != nil {
		return nil, nil, err
	}
	if goal.ChildID != child.ID {
		return nil, nil, ledger.NotFound("goal", string(peek.ID))
	}
	return child, goal, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// List returns goals visible to the actor. Parents may narrow to one child.
func (s *Service) List(ctx context.Context, actor ledger.Actor, childID *ledger.ChildID) ([]ledger.Goal, error) {
	var f ledger.GoalFilter
	switch actor.Role {
	case ledger.RoleParent:
		if childID != nil {
			child, err := s.engine.Store.GetChild(ctx, *childID)
			if err != nil {
				return nil, err
			}
			if !actor.Owns(child) {
				return nil, ledger.NotFound("child", string(*childID))
			}
			f.ChildID = childID
		}
		pid := ledger.ParentID(actor.ID)
		f.ParentID = &pid
	case ledger.RoleChild:
		self := ledger.ChildID(actor.ID)
		f.ChildID = &self
	default:
		return nil, &ledger.ForbiddenError{Role: actor.Role, Operation: "list savings goals"}
	}
	return s.engine.Store.ListGoals(ctx, f)
}

func (s *Service) Get(ctx context.Context, actor ledger.Actor, id ledger.GoalID) (*ledger.Goal, error) {
	goal, err := s.engine.Store.GetGoal(ctx, id)
	if err != nil {
		return nil, err
	}
	child, err := s.engine.Store.GetChild(ctx, goal.ChildID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(child) {
		return nil, ledger.NotFound("goal", string(id))
	}
	return goal, nil
}
