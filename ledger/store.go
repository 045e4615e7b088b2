/*
store.go - Persistence contract for balances, the ledger, goals and chores

PURPOSE:
  Defines the interface between the engine and the database. The engine
  never touches SQL; it asks a Tx for locked rows and writes through it.

KEY INTERFACES:
  Reader: Non-locking reads (listing, dashboards, reconciliation)
  Tx:     Everything that must happen inside one ACID boundary
  Store:  Reader + WithTx

LOCKING:
  LockChild, LockGoal and LockChore hold an exclusive lock on the row until
  the surrounding WithTx returns. Callers always acquire them in the order
  chore -> child -> goal so two mutations never wait on each other.

APPEND-ONLY CONTRACT:
  Transactions have InsertTransaction and nothing else. There is no
  UpdateTransaction or DeleteTransaction on purpose.

ERRORS:
  - Missing rows:          *NotFoundError (wraps ErrNotFound)
  - Unique violations:     *ConflictError (wraps ErrConflict)
  - Anything else:         wrapped driver error (transient)

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, for tests
  - store/sqlite:           SQLite via database/sql
  - store/postgres:         PostgreSQL via pgx, SELECT ... FOR UPDATE
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FILTERS
// =============================================================================

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// TransactionFilter selects ledger entries, newest first.
type TransactionFilter struct {
	ParentID *ParentID // all children of this parent
	ChildID  *ChildID
	Type     *TxType
	Limit    int
	Offset   int
}

type GoalFilter struct {
	ParentID *ParentID
	ChildID  *ChildID
}

type ChoreFilter struct {
	ParentID        *ParentID
	AssignedChildID *ChildID
	Status          *ChoreStatus
}

// =============================================================================
// READER - Non-locking reads
// =============================================================================

type Reader interface {
	GetChild(ctx context.Context, id ChildID) (*Child, error)
	ListChildren(ctx context.Context, parentID ParentID) ([]Child, error)
	AllChildren(ctx context.Context) ([]Child, error)

	ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error)
	// SumTransactions returns the sum of every amount in the child's ledger.
	SumTransactions(ctx context.Context, childID ChildID) (decimal.Decimal, error)

	GetGoal(ctx context.Context, id GoalID) (*Goal, error)
	ListGoals(ctx context.Context, f GoalFilter) ([]Goal, error)

	GetChore(ctx context.Context, id ChoreID) (*Chore, error)
	ListChores(ctx context.Context, f ChoreFilter) ([]Chore, error)
}

// =============================================================================
// TX - Operations inside one store transaction
// =============================================================================

type Tx interface {
	Reader

	// Children
	CreateChild(ctx context.Context, c Child) error
	// UpdateChild persists name, spending limit and allowance. Balance is
	// only written by UpdateBalance.
	UpdateChild(ctx context.Context, c Child) error
	LockChild(ctx context.Context, id ChildID) (*Child, error)
	UpdateBalance(ctx context.Context, id ChildID, balance decimal.Decimal) error

	// Ledger
	InsertTransaction(ctx context.Context, t Transaction) error
	FindTransactionByKey(ctx context.Context, childID ChildID, key string) (*Transaction, error)
	// SpendingSince sums |amount| of Spending entries with CreatedAt >= since.
	SpendingSince(ctx context.Context, childID ChildID, since time.Time) (decimal.Decimal, error)

	// Savings goals
	CreateGoal(ctx context.Context, g Goal) error
	LockGoal(ctx context.Context, id GoalID) (*Goal, error)
	UpdateGoalAmount(ctx context.Context, id GoalID, current decimal.Decimal) error
	DeleteGoal(ctx context.Context, id GoalID) error

	// Chores
	CreateChore(ctx context.Context, c Chore) error
	LockChore(ctx context.Context, id ChoreID) (*Chore, error)
	UpdateChore(ctx context.Context, c Chore) error
	DeleteChore(ctx context.Context, id ChoreID) error
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	Reader

	// WithTx runs fn inside a store transaction. If fn returns an error the
	// transaction is rolled back and the error returned unchanged;
	// otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
