/*
Package ledger provides the balance mutation engine for family accounts.

PURPOSE:
  Every change to a child's money goes through this package. Spending,
  chore rewards, allowance payouts, savings-goal contributions and refunds,
  and manual adjustments all funnel into one operation pattern: lock the
  child row, evaluate policy, write the new balance, append a transaction,
  commit.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amounts with exactly 2 fractional digits
  - Child: the account whose balance is mutated
  - Transaction: an immutable ledger entry (signed amount)
  - Goal / Chore: second aggregates that move in lockstep with the balance
  - Actor: who is asking (parent or child)

INVARIANTS:
  1. balance == sum(transactions.amount) for every child, at every commit
  2. balance >= 0 at every commit
  3. 0 <= goal.current <= goal.target
  4. Transactions are never updated or deleted

USAGE:
  engine := ledger.NewEngine(store)
  res, err := engine.Apply(ctx, ledger.Mutation{
      ChildID:     "child-1",
      Actor:       ledger.Actor{ID: "child-1", Role: ledger.RoleChild},
      Amount:      ledger.MustMoney("-4.00"),
      Type:        ledger.TxSpending,
      Description: "snack",
  })

SEE ALSO:
  - engine.go: Engine.Apply, Engine.Transact, Session.Apply
  - store.go: Store and Tx contracts
  - errors.go: error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point decimal, 2 fractional digits
// =============================================================================

// MoneyPlaces is the number of fractional digits every stored amount carries.
const MoneyPlaces = 2

// RoundMoney rounds d to 2 fractional digits, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// ParseMoney parses a decimal string and rounds it to 2 places.
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return RoundMoney(d), nil
}

// MustMoney is ParseMoney for literals in code and tests.
func MustMoney(s string) decimal.Decimal {
	d, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FormatMoney renders d with exactly 2 fractional digits.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyPlaces)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ParentID string
type ChildID string
type TransactionID string
type GoalID string
type ChoreID string

// =============================================================================
// ACTOR - Verified identity supplied by the authentication collaborator
// =============================================================================

type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

func (r Role) Valid() bool { return r == RoleParent || r == RoleChild }

type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsParent() bool { return a.Role == RoleParent }
func (a Actor) IsChild() bool  { return a.Role == RoleChild }

// Owns reports whether the actor may act on the child account: a child on
// itself, a parent on any of its children.
func (a Actor) Owns(c *Child) bool {
	switch a.Role {
	case RoleChild:
		return string(c.ID) == a.ID
	case RoleParent:
		return string(c.ParentID) == a.ID
	default:
		return false
	}
}

// =============================================================================
// CHILD ACCOUNT
// =============================================================================

type Frequency string

const (
	Weekly  Frequency = "Weekly"
	Monthly Frequency = "Monthly"
)

func (f Frequency) Valid() bool { return f == Weekly || f == Monthly }

// SpendingLimit caps Spending debits within a weekly or monthly window.
// A nil *SpendingLimit on a Child means the limit is disabled; a limit
// with a zero Amount forbids all spending.
type SpendingLimit struct {
	Amount    decimal.Decimal
	Frequency Frequency
}

// Allowance is the payout a parent has configured for a child.
type Allowance struct {
	Amount    decimal.Decimal
	Frequency Frequency
}

type Child struct {
	ID            ChildID
	ParentID      ParentID
	Name          string
	Balance       decimal.Decimal
	SpendingLimit *SpendingLimit
	Allowance     *Allowance
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// =============================================================================
// TRANSACTION - Append-only ledger entry
// =============================================================================

type TxType string

const (
	TxSpending         TxType = "Spending"         // Child spends money
	TxChoreReward      TxType = "ChoreReward"      // Approved chore payout
	TxManualAdjustment TxType = "ManualAdjustment" // Parent correction, either sign
	TxGoalContribution TxType = "GoalContribution" // Balance moved into a savings goal
	TxGoalRefund       TxType = "GoalRefund"       // Goal money returned on deletion
	TxParentTransfer   TxType = "ParentTransfer"   // Parent money sent toward a goal
	TxAllowance        TxType = "Allowance"        // Allowance payout
	TxInitialBalance   TxType = "InitialBalance"   // Opening balance on account creation
)

var txTypes = map[TxType]bool{
	TxSpending: true, TxChoreReward: true, TxManualAdjustment: true,
	TxGoalContribution: true, TxGoalRefund: true, TxParentTransfer: true,
	TxAllowance: true, TxInitialBalance: true,
}

func (t TxType) Valid() bool { return txTypes[t] }

// IsDebit reports whether the type always decreases the balance.
func (t TxType) IsDebit() bool {
	return t == TxSpending || t == TxGoalContribution
}

// IsCredit reports whether the type always increases the balance.
// ManualAdjustment is neither.
func (t TxType) IsCredit() bool {
	return t.Valid() && !t.IsDebit() && t != TxManualAdjustment
}

type Transaction struct {
	ID             TransactionID
	ChildID        ChildID
	Type           TxType
	Description    string
	Amount         decimal.Decimal // negative = debit, positive = credit
	ChoreID        *ChoreID
	GoalID         *GoalID
	IdempotencyKey string

	// Audit fields
	ActorID   string
	ActorRole Role
	CreatedAt time.Time
}

// =============================================================================
// SAVINGS GOAL
// =============================================================================

type Goal struct {
	ID            GoalID
	ChildID       ChildID
	Name          string
	TargetAmount  decimal.Decimal
	CurrentAmount decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Remaining is how much more the goal can accept.
func (g Goal) Remaining() decimal.Decimal {
	r := g.TargetAmount.Sub(g.CurrentAmount)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

func (g Goal) Complete() bool {
	return g.CurrentAmount.GreaterThanOrEqual(g.TargetAmount)
}

// =============================================================================
// CHORE
// =============================================================================

type ChoreStatus string

const (
	ChorePending   ChoreStatus = "Pending"
	ChoreCompleted ChoreStatus = "Completed"
	ChoreApproved  ChoreStatus = "Approved"
)

func (s ChoreStatus) Valid() bool {
	return s == ChorePending || s == ChoreCompleted || s == ChoreApproved
}

type Chore struct {
	ID              ChoreID
	ParentID        ParentID
	Title           string
	Description     string
	Points          int
	AssignedChildID *ChildID
	Status          ChoreStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
