/*
Package chores implements the chore workflow and its reward payout.

STATE MACHINE:

	Pending --MarkComplete(assigned child)--> Completed --Approve(parent)--> Approved

  Every other transition is a policy violation and changes nothing.
  Reassigning a Completed chore sends it back to Pending. Approved is
  terminal: the chore can no longer be edited or deleted, since its
  reward is already in the ledger.

REWARD:
  Approve credits round(points * RewardPolicy.Rate) to the assigned child
  as a ChoreReward and flips the status in the same store transaction.
  A chore is paid at most once because the status check runs on the
  locked chore row.
*/
package chores

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/warp/family-ledger/ledger"
)

const maxDescriptionLen = 500

// DefaultRate is one cent per point.
var DefaultRate = decimal.New(1, -2)

// RewardPolicy converts chore points to currency.
type RewardPolicy struct {
	Rate decimal.Decimal
}

// Reward returns points * Rate rounded to cents.
func (p RewardPolicy) Reward(points int) decimal.Decimal {
	return ledger.RoundMoney(decimal.NewFromInt(int64(points)).Mul(p.Rate))
}

type Service struct {
	engine *ledger.Engine
	policy RewardPolicy
}

func NewService(engine *ledger.Engine, policy RewardPolicy) *Service {
	if policy.Rate.IsZero() || policy.Rate.IsNegative() {
		policy.Rate = DefaultRate
	}
	return &Service{engine: engine, policy: policy}
}

// =============================================================================
// PARENT CRUD
// =============================================================================

type NewChore struct {
	Title           string
	Description     string
	Points          int
	AssignedChildID *ledger.ChildID
}

func (s *Service) Create(ctx context.Context, actor ledger.Actor, in NewChore) (*ledger.Chore, error) {
	if err := ledger.RequireRole(actor, ledger.RoleParent, "create chores"); err != nil {
		return nil, err
	}
	title, err := ledger.RequireText("title", in.Title, ledger.MaxNameLen)
	if err != nil {
		return nil, err
	}
	desc, err := cleanDescription(in.Description)
	if err != nil {
		return nil, err
	}
	if in.Points < 0 {
		return nil, ledger.Invalid("points", "must not be negative")
	}
	if err := s.checkAssignee(ctx, actor, in.AssignedChildID); err != nil {
		return nil, err
	}

	var chore ledger.Chore
	err = s.engine.Transact(ctx, "create_chore", func(sess *ledger.Session) error {
		now := sess.Now()
		chore = ledger.Chore{
			ID:              ledger.ChoreID(sess.NewID()),
			ParentID:        ledger.ParentID(actor.ID),
			Title:           title,
			Description:     desc,
			Points:          in.Points,
			AssignedChildID: in.AssignedChildID,
			Status:          ledger.ChorePending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return sess.Tx.CreateChore(ctx, chore)
	})
	if err != nil {
		return nil, err
	}
	return &chore, nil
}

// ChoreUpdate is a partial update; nil fields are left alone.
// Unassign clears the assignee.
type ChoreUpdate struct {
	Title           *string
	Description     *string
	Points          *int
	AssignedChildID *ledger.ChildID
	Unassign        bool
}

func (u ChoreUpdate) empty() bool {
	return u.Title == nil && u.Description == nil && u.Points == nil &&
		u.AssignedChildID == nil && !u.Unassign
}

func (s *Service) Update(ctx context.Context, actor ledger.Actor, id ledger.ChoreID, u ChoreUpdate) (*ledger.Chore, error) {
	if err := ledger.RequireRole(actor, ledger.RoleParent, "update chores"); err != nil {
		return nil, err
	}
	if u.empty() {
		return nil, ledger.Invalid("", "no update data provided")
	}
	var (
		title, desc string
		err         error
	)
	if u.Title != nil {
		if title, err = ledger.RequireText("title", *u.Title, ledger.MaxNameLen); err != nil {
			return nil, err
		}
	}
	if u.Description != nil {
		if desc, err = cleanDescription(*u.Description); err != nil {
			return nil, err
		}
	}
	if u.Points != nil && *u.Points < 0 {
		return nil, ledger.Invalid("points", "must not be negative")
	}
	if err := s.checkAssignee(ctx, actor, u.AssignedChildID); err != nil {
		return nil, err
	}

	var updated *ledger.Chore
	err = s.engine.Transact(ctx, "update_chore", func(sess *ledger.Session) error {
		chore, err := lockOwnChore(ctx, sess, actor, id)
		if err != nil {
			return err
		}
		if chore.Status == ledger.ChoreApproved {
			return ledger.Violation(ledger.RuleChoreLocked, "chore %q is approved and can no longer be changed", chore.Title)
		}
		if u.Title != nil {
			chore.Title = title
		}
		if u.Description != nil {
			chore.Description = desc
		}
		if u.Points != nil {
			chore.Points = *u.Points
		}
		before := chore.AssignedChildID
		switch {
		case u.Unassign:
			chore.AssignedChildID = nil
		case u.AssignedChildID != nil:
			chore.AssignedChildID = u.AssignedChildID
		}
		// completion belongs to the child who did it
		if chore.Status == ledger.ChoreCompleted && !sameChild(before, chore.AssignedChildID) {
			chore.Status = ledger.ChorePending
		}
		chore.UpdatedAt = sess.Now()
		if err := sess.Tx.UpdateChore(ctx, *chore); err != nil {
			return err
		}
		updated = chore
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, actor ledger.Actor, id ledger.ChoreID) error {
	if err := ledger.RequireRole(actor, ledger.RoleParent, "delete chores"); err != nil {
		return err
	}
	return s.engine.Transact(ctx, "delete_chore", func(sess *ledger.Session) error {
		chore, err := lockOwnChore(ctx, sess, actor, id)
		if err != nil {
			return err
		}
		if chore.Status == ledger.ChoreApproved {
			return ledger.Violation(ledger.RuleChoreLocked, "chore %q is approved and can no longer be deleted", chore.Title)
		}
		return sess.Tx.DeleteChore(ctx, id)
	})
}

// =============================================================================
// WORKFLOW
// =============================================================================

// MarkComplete moves an assigned chore from Pending to Completed.
func (s *Service) MarkComplete(ctx context.Context, actor ledger.Actor, id ledger.ChoreID) (*ledger.Chore, error) {
	if err := ledger.RequireRole(actor, ledger.RoleChild, "complete chores"); err != nil {
		return nil, err
	}

	var updated *ledger.Chore
	err := s.engine.Transact(ctx, "complete_chore", func(sess *ledger.Session) error {
		chore, err := sess.Tx.LockChore(ctx, id)
		if err != nil {
			return err
		}
		if chore.AssignedChildID == nil || string(*chore.AssignedChildID) != actor.ID {
			return ledger.NotFound("chore", string(id))
		}
		if chore.Status != ledger.ChorePending {
			return ledger.Violation(ledger.RuleChoreState, "chore %q is %s, only Pending chores can be completed", chore.Title, chore.Status)
		}
		chore.Status = ledger.ChoreCompleted
		chore.UpdatedAt = sess.Now()
		if err := sess.Tx.UpdateChore(ctx, *chore); err != nil {
			return err
		}
		updated = chore
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Approval is the result of Approve.
type Approval struct {
	Chore   ledger.Chore
	Reward  ledger.Transaction
	Balance decimal.Decimal
}

// Approve pays the reward for a Completed chore and marks it Approved.
// Locks chore then child.
func (s *Service) Approve(ctx context.Context, actor ledger.Actor, id ledger.ChoreID) (*Approval, error) {
	if err := ledger.RequireRole(actor, ledger.RoleParent, "approve chores"); err != nil {
		return nil, err
	}

	var out Approval
	err := s.engine.Transact(ctx, "approve_chore", func(sess *ledger.Session) error {
		chore, err := lockOwnChore(ctx, sess, actor, id)
		if err != nil {
			return err
		}
		if chore.AssignedChildID == nil {
			return ledger.Violation(ledger.RuleChoreUnassigned, "chore %q is not assigned to a child", chore.Title)
		}
		if chore.Status != ledger.ChoreCompleted {
			return ledger.Violation(ledger.RuleChoreState, "chore %q is %s, only Completed chores can be approved", chore.Title, chore.Status)
		}

		child, err := sess.LockChild(ctx, actor, *chore.AssignedChildID)
		if err != nil {
			return err
		}
		res, err := sess.Apply(ctx, child, ledger.Mutation{
			ChildID:     child.ID,
			Actor:       actor,
			Type:        ledger.TxChoreReward,
			Amount:      s.policy.Reward(chore.Points),
			Description: "Reward for chore: " + chore.Title,
			ChoreID:     &chore.ID,
		})
		if err != nil {
			return err
		}

		chore.Status = ledger.ChoreApproved
		chore.UpdatedAt = sess.Now()
		if err := sess.Tx.UpdateChore(ctx, *chore); err != nil {
			return err
		}
		out = Approval{Chore: *chore, Reward: res.Transaction, Balance: res.Balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// ChoreQuery narrows List. ChildID is only honoured for parents; a child
// always sees its own chores.
type ChoreQuery struct {
	Status  *ledger.ChoreStatus
	ChildID *ledger.ChildID
}

// List returns the parent's chores, or the chores assigned to a child.
func (s *Service) List(ctx context.Context, actor ledger.Actor, q ChoreQuery) ([]ledger.Chore, error) {
	if q.Status != nil && !q.Status.Valid() {
		return nil, ledger.Invalid("status", "must be Pending, Completed or Approved")
	}
	f := ledger.ChoreFilter{Status: q.Status}
	switch actor.Role {
	case ledger.RoleParent:
		if q.ChildID != nil {
			if err := s.checkAssignee(ctx, actor, q.ChildID); err != nil {
				return nil, err
			}
			f.AssignedChildID = q.ChildID
		}
		pid := ledger.ParentID(actor.ID)
		f.ParentID = &pid
	case ledger.RoleChild:
		self := ledger.ChildID(actor.ID)
		f.AssignedChildID = &self
	default:
		return nil, &ledger.ForbiddenError{Role: actor.Role, Operation: "list chores"}
	}
	return s.engine.Store.ListChores(ctx, f)
}

func (s *Service) Get(ctx context.Context, actor ledger.Actor, id ledger.ChoreID) (*ledger.Chore, error) {
	chore, err := s.engine.Store.GetChore(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visible(actor, chore) {
		return nil, ledger.NotFound("chore", string(id))
	}
	return chore, nil
}

func sameChild(a, b *ledger.ChildID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func visible(actor ledger.Actor, c *ledger.Chore) bool {
	switch actor.Role {
	case ledger.RoleParent:
		return string(c.ParentID) == actor.ID
	case ledger.RoleChild:
		return c.AssignedChildID != nil && string(*c.AssignedChildID) == actor.ID
	}
	return false
}

// =============================================================================
// HELPERS
// =============================================================================

func lockOwnChore(ctx context.Context, sess *ledger.Session, actor ledger.Actor, id ledger.ChoreID) (*ledger.Chore, error) {
	chore, err := sess.Tx.LockChore(ctx, id)
	if err != nil {
		return nil, err
	}
	if string(chore.ParentID) != actor.ID {
		return nil, ledger.NotFound("chore", string(id))
	}
	return chore, nil
}

// checkAssignee makes sure a parent only assigns chores to its own children.
func (s *Service) checkAssignee(ctx context.Context, actor ledger.Actor, id *ledger.ChildID) error {
	if id == nil {
		return nil
	}
	child, err := s.engine.Store.GetChild(ctx, *id)
	if err != nil {
		return err
	}
	if !actor.Owns(child) {
		return ledger.NotFound("child", string(*id))
	}
	return nil
}

func cleanDescription(s string) (string, error) {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxDescriptionLen {
		return "", ledger.Invalid("description", "is too long")
	}
	return s, nil
}
