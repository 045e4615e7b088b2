/*
Package accounts manages child accounts and the balance operations that act
on a single account: manual adjustments, allowance payouts and spending.

PURPOSE:
  Parents create and configure children (name, spending limit, allowance)
  and correct balances. Children spend. Both read the ledger. Every balance
  change goes through ledger.Engine, so this package only adds role checks,
  input validation and the account-level queries.

ROLES:
  Parent: CreateChild, UpdateChild, ListChildren, Adjust, PayAllowance
  Child:  Spend, Dashboard
  Either: GetChild, Transactions (parents see all their children,
          children see only themselves)

SEE ALSO:
  - ledger/engine.go: the mutation pattern every operation here uses
  - goals/, chores/: the other call sites
*/
package accounts

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/family-ledger/ledger"
)

type Service struct {
	engine *ledger.Engine
}

func NewService(engine *ledger.Engine) *Service {
	return &Service{engine: engine}
}

// =============================================================================
// CHILD PROFILES
// =============================================================================

type NewChild struct {
	Name           string
	InitialBalance decimal.Decimal // zero means no opening transaction
	SpendingLimit  *ledger.SpendingLimit
	Allowance      *ledger.Allowance
}

// CreateChild creates a child owned by the acting parent. A non-zero
// InitialBalance is recorded as an InitialBalance transaction in the same
// store transaction, so the account never exists without its ledger.
func (s *Service) CreateChild(ctx context.Context, actor ledger.Actor, in NewChild) (*ledger.Child, error) {
	if err := ledger.RequireRole(actor, ledger.RoleParent, "create children"); err != nil {
		return nil, err
	}
	name, err := ledger.RequireText("name", in.Name, ledger.MaxNameLen)
	if err != nil {
		return nil, err
	}
	initial := ledger.RoundMoney(in.InitialBalance)
	if initial.IsNegative() {
		return nil, ledger.Invalid("initial_balance", "must not be negative")
	}
	limit, err := ledger.ValidateSpendingLimit(in.SpendingLimit)
	if err != nil {
		return nil, err
	}
	allowance, err := ledger.ValidateAllowance(in.Allowance)
	if err != nil {
		return nil, err
	}

	var child ledger.Child
	err = s.engine.Transact(ctx, "create_child", func(sess *ledger.Session) error {
		now := sess.Now()
		child = ledger.Child{
			ID:            ledger.ChildID(sess.NewID()),
			ParentID:      ledger.ParentID(actor.ID),
			Name:          name,
			Balance:       decimal.Zero,
			SpendingLimit: limit,
			Allowance:     allowance,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := sess.Tx.CreateChild(ctx, child); err != nil {
			return err
		}
		if initial.IsZero() {
			return nil
		}
		_, err := sess.Apply(ctx, &child, ledger.Mutation{
			ChildID:     child.ID,
			Actor:       actor,
			Type:        ledger.TxInitialBalance,
			Amount:      initial,
			Description: "Initial balance",
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &child, nil
}

// ChildUpdate is a partial update. Nil fields are left alone; the Clear
// flags remove an optional policy.
type ChildUpdate struct {
	Name               *string
	SpendingLimit      *ledger.SpendingLimit
	ClearSpendingLimit bool
	Allowance          *ledger.Allowance
	ClearAllowance     bool
}

func (u ChildUpdate) empty() bool {
	return u.Name == nil && u.SpendingLimit == nil && !u.ClearSpendingLimit &&
		u.Allowance == nil && !u.ClearAllowance
}

func (s *Service) UpdateChild(ctx context.Context, actor ledger.Actor, id ledger.ChildID, u ChildUpdate) (*ledger.Child, error) {
	if err := ledger.RequireRole(actor, ledger.RoleParent, "update children"); err != nil {
		return nil, err
	}
	if u.empty() {
		return nil, ledger.Invalid("", "no update data provided")
	}

	var (
		name string
		err  error
	)
	if u.Name != nil {
		if name, err = ledger.RequireText("name", *u.Name, ledger.MaxNameLen); err != nil {
			return nil, err
		}
	}
	limit, err := ledger.ValidateSpendingLimit(u.SpendingLimit)
	if err != nil {
		return nil, err
	}
	allowance, err := ledger.ValidateAllowance(u.Allowance)
	if err != nil {
		return nil, err
	}

	var updated *ledger.Child
	err = s.engine.Transact(ctx, "update_child", func(sess *ledger.Session) error {
		child, err := sess.LockChild(ctx, actor, id)
		if err != nil {
			return err
		}
		if u.Name != nil {
			child.Name = name
		}
		switch {
		case u.ClearSpendingLimit:
			child.SpendingLimit = nil
		case limit != nil:
			child.SpendingLimit = limit
		}
		switch {
		case u.ClearAllowance:
			child.Allowance = nil
		case allowance != nil:
			child.Allowance = allowance
		}
		child.UpdatedAt = sess.Now()
		if err := sess.Tx.UpdateChild(ctx, *child); err != nil {
			return err
		}
		updated = child
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetChild returns the child if the actor owns it.
func (s *Service) GetChild(ctx context.Context, actor ledger.Actor, id ledger.ChildID) (*ledger.Child, error) {
	child, err := s.engine.Store.GetChild(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(child) {
		return nil, ledger.NotFound("child", string(id))
	}
	return child, nil
}

func (s *Service) ListChildren(ctx context.Context, actor ledger.Actor) ([]ledger.Child, error) {
	if err := ledger.RequireRole(actor, ledger.RoleParent, "list children"); err != nil {
		return nil, err
	}
	return s.engine.Store.ListChildren(ctx, ledger.ParentID(actor.ID))
}

// =============================================================================
// BALANCE OPERATIONS
// =============================================================================

// Entry is the caller-supplied part of a single-account mutation.
type Entry struct {
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
}

// Adjust records a ManualAdjustment of either sign. Negative adjustments
// cannot take the balance below zero.
func (s *Service) Adjust(ctx context.Context, actor ledger.Actor, id ledger.ChildID, e Entry) (ledger.Result, error) {
	if err := ledger.RequireRole(actor, ledger.RoleParent, "adjust balances"); err != nil {
		return ledger.Result{}, err
	}
	amount := ledger.RoundMoney(e.Amount)
	if amount.IsZero() {
		return ledger.Result{}, ledger.Invalid("amount", "must not be zero")
	}
	return s.engine.Apply(ctx, ledger.Mutation{
		ChildID:        id,
		Actor:          actor,
		Type:           ledger.TxManualAdjustment,
		Amount:         amount,
		Description:    e.Description,
		IdempotencyKey: e.IdempotencyKey,
	})
}

// Spend debits e.Amount (given as a positive number) from the acting
// child's own balance, subject to its spending limit.
func (s *Service) Spend(ctx context.Context, actor ledger.Actor, e Entry) (ledger.Result, error) {
	if err := ledger.RequireRole(actor, ledger.RoleChild, "record spending"); err != nil {
		return ledger.Result{}, err
	}
	amount, err := ledger.RequirePositive("amount", e.Amount)
	if err != nil {
		return ledger.Result{}, err
	}
	return s.engine.Apply(ctx, ledger.Mutation{
		ChildID:        ledger.ChildID(actor.ID),
		Actor:          actor,
		Type:           ledger.TxSpending,
		Amount:         amount.Neg(),
		Description:    e.Description,
		IdempotencyKey: e.IdempotencyKey,
	})
}

// PayAllowance credits the child's configured allowance once. Scheduling
// repeated payouts is left to the caller.
func (s *Service) PayAllowance(ctx context.Context, actor ledger.Actor, id ledger.ChildID, key string) (ledger.Result, error) {
	if err := ledger.RequireRole(actor, ledger.RoleParent, "pay allowance"); err != nil {
		return ledger.Result{}, err
	}

	var res ledger.Result
	err := s.engine.Transact(ctx, "pay_allowance", func(sess *ledger.Session) error {
		child, err := sess.LockChild(ctx, actor, id)
		if err != nil {
			return err
		}
		if child.Allowance == nil {
			return ledger.Violation(ledger.RuleNoAllowance, "no allowance configured for %s", child.Name)
		}
		res, err = sess.Apply(ctx, child, ledger.Mutation{
			ChildID:        child.ID,
			Actor:          actor,
			Type:           ledger.TxAllowance,
			Amount:         child.Allowance.Amount,
			Description:    string(child.Allowance.Frequency) + " allowance",
			IdempotencyKey: key,
		})
		return err
	})
	return res, err
}

// =============================================================================
// QUERIES
// =============================================================================

type Dashboard struct {
	Balance       decimal.Decimal
	PendingChores int // assigned and not yet approved
	ActiveGoals   int // not yet at target
}

// Dashboard summarizes the acting child's own account.
func (s *Service) Dashboard(ctx context.Context, actor ledger.Actor) (*Dashboard, error) {
	if err := ledger.RequireRole(actor, ledger.RoleChild, "view the child dashboard"); err != nil {
		return nil, err
	}
	id := ledger.ChildID(actor.ID)
	child, err := s.GetChild(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	chores, err := s.engine.Store.ListChores(ctx, ledger.ChoreFilter{AssignedChildID: &id})
	if err != nil {
		return nil, err
	}
	goals, err := s.engine.Store.ListGoals(ctx, ledger.GoalFilter{ChildID: &id})
	if err != nil {
		return nil, err
	}

	d := &Dashboard{Balance: child.Balance}
	for _, c := range chores {
		if c.Status != ledger.ChoreApproved {
			d.PendingChores++
		}
	}
	for _, g := range goals {
		if !g.Complete() {
			d.ActiveGoals++
		}
	}
	return d, nil
}

// Transactions lists ledger entries newest first. Parents see every child
// they own (optionally narrowed to one); children see only their own.
func (s *Service) Transactions(ctx context.Context, actor ledger.Actor, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	if f.Offset < 0 {
		return nil, ledger.Invalid("offset", "must not be negative")
	}
	switch {
	case f.Limit <= 0:
		f.Limit = ledger.DefaultPageSize
	case f.Limit > ledger.MaxPageSize:
		f.Limit = ledger.MaxPageSize
	}
	if f.Type != nil && !f.Type.Valid() {
		return nil, ledger.Invalid("type", "unknown transaction type "+strings.TrimSpace(string(*f.Type)))
	}

	switch actor.Role {
	case ledger.RoleParent:
		if f.ChildID != nil {
			if _, err := s.GetChild(ctx, actor, *f.ChildID); err != nil {
				return nil, err
			}
		}
		pid := ledger.ParentID(actor.ID)
		f.ParentID = &pid
	case ledger.RoleChild:
		self := ledger.ChildID(actor.ID)
		if f.ChildID != nil && *f.ChildID != self {
			return nil, ledger.NotFound("child", string(*f.ChildID))
		}
		f.ChildID = &self
		f.ParentID = nil
	default:
		return nil, &ledger.ForbiddenError{Role: actor.Role, Operation: "list transactions"}
	}

	return s.engine.Store.ListTransactions(ctx, f)
}
