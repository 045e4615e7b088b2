/*
engine.go - The balance mutation engine

PURPOSE:
  One operation pattern for every balance change:

    1. Begin store transaction, lock the child row
    2. Check the actor owns the account
    3. Replay if the idempotency key was already used
    4. Evaluate policy (spending limit for Spending)
    5. newBalance = balance + amount; reject debits that go below zero
    6. Write balance, append transaction, commit

  Steps 3-6 are Session.Apply. Goals and chores open a Session with
  Engine.Transact, lock what they need, and call Session.Apply so their own
  writes (goal amount, chore status) commit or roll back together with the
  balance change.

WHY THE RE-CHECK UNDER THE LOCK:
  Callers may pre-validate against a stale read. Only the locked balance
  is authoritative, so step 5 always runs on the locked row.

CONCURRENCY:
  The engine holds no mutable state. Two requests against the same child
  serialize on the row lock; different children run in parallel.

SEE ALSO:
  - store.go: Tx contract used here
  - spending.go: Spending limit policy
  - goals/, chores/, accounts/: call sites
*/
package ledger

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MUTATION - A request to change one child's balance
// =============================================================================

const (
	// MaxDescriptionLen is counted in runes, like MaxNameLen, so any
	// generated "<prefix>: <name>" description fits.
	MaxDescriptionLen = 255
	maxKeyLen         = 128
)

type Mutation struct {
	ChildID     ChildID
	Actor       Actor
	Type        TxType
	Amount      decimal.Decimal // signed
	Description string
	ChoreID     *ChoreID
	GoalID      *GoalID

	// IdempotencyKey makes client retries safe: a second mutation with the
	// same key for the same child returns the first result unchanged.
	IdempotencyKey string
}

// Validate checks the command without touching the store.
func (m Mutation) Validate() error {
	if m.ChildID == "" {
		return Invalid("child_id", "is required")
	}
	if m.Actor.ID == "" || !m.Actor.Role.Valid() {
		return Invalid("actor", "is required")
	}
	if !m.Type.Valid() {
		return Invalid("type", "unknown transaction type "+string(m.Type))
	}
	if !m.Amount.Equal(RoundMoney(m.Amount)) {
		return Invalid("amount", "must have at most 2 fractional digits")
	}
	if err := checkSign(m.Type, m.Amount); err != nil {
		return err
	}
	desc := strings.TrimSpace(m.Description)
	if desc == "" {
		return Invalid("description", "is required")
	}
	if utf8.RuneCountInString(desc) > MaxDescriptionLen {
		return Invalid("description", "is too long")
	}
	if len(m.IdempotencyKey) > maxKeyLen {
		return Invalid("idempotency_key", "is too long")
	}
	return nil
}

func checkSign(t TxType, amount decimal.Decimal) error {
	switch {
	case t.IsDebit() && !amount.IsNegative():
		return Invalid("amount", string(t)+" must be negative")
	case t == TxChoreReward && amount.IsNegative():
		// zero-point chores still record their approval
		return Invalid("amount", string(t)+" must not be negative")
	case t.IsCredit() && t != TxChoreReward && !amount.IsPositive():
		return Invalid("amount", string(t)+" must be positive")
	case t == TxManualAdjustment && amount.IsZero():
		return Invalid("amount", "must not be zero")
	}
	return nil
}

// Result is what a committed (or replayed) mutation returns.
type Result struct {
	Transaction Transaction
	Balance     decimal.Decimal
	Replayed    bool
}

// =============================================================================
// OBSERVER - Hook for metrics
// =============================================================================

// Observer is told about every committed or rejected store transaction.
// It is called after commit/rollback, never while locks are held.
type Observer interface {
	Committed(operation string, txs []Transaction)
	Rejected(operation string, kind Kind)
}

type noopObserver struct{}

func (noopObserver) Committed(string, []Transaction) {}
func (noopObserver) Rejected(string, Kind)           {}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store Store

	// Location is where spending-limit windows are computed.
	Location *time.Location

	Now      func() time.Time
	NewID    func() string
	Observer Observer
}

func NewEngine(store Store) *Engine {
	return &Engine{
		Store:    store,
		Location: time.UTC,
		Now:      time.Now,
		NewID:    uuid.NewString,
		Observer: noopObserver{},
	}
}

// Clock returns the current time as stored: UTC, microsecond precision.
func (e *Engine) Clock() time.Time {
	return e.Now().UTC().Truncate(time.Microsecond)
}

// Apply runs a single mutation in its own store transaction.
func (e *Engine) Apply(ctx context.Context, m Mutation) (Result, error) {
	op := "apply_" + strings.ToLower(string(m.Type))
	if err := m.Validate(); err != nil {
		e.observer().Rejected(op, KindOf(err))
		return Result{}, err
	}

	var res Result
	err := e.Transact(ctx, op, func(s *Session) error {
		child, err := s.LockChild(ctx, m.Actor, m.ChildID)
		if err != nil {
			return err
		}
		res, err = s.Apply(ctx, child, m)
		return err
	})
	return res, err
}

// Transact opens a Session. operation names the call site in logs and
// metrics. fn's error rolls everything back.
func (e *Engine) Transact(ctx context.Context, operation string, fn func(s *Session) error) error {
	var session *Session
	err := e.Store.WithTx(ctx, func(tx Tx) error {
		session = &Session{Tx: tx, engine: e}
		return fn(session)
	})

	log := zerolog.Ctx(ctx)
	if err != nil {
		kind := KindOf(err)
		e.observer().Rejected(operation, kind)
		ev := log.Info()
		if kind == KindTransient {
			ev = log.Error()
		}
		ev.Err(err).Str("operation", operation).Str("kind", string(kind)).Msg("mutation rejected")
		return err
	}

	if session != nil && len(session.applied) > 0 {
		e.observer().Committed(operation, session.applied)
		for _, t := range session.applied {
			log.Debug().
				Str("operation", operation).
				Str("child_id", string(t.ChildID)).
				Str("tx_id", string(t.ID)).
				Str("type", string(t.Type)).
				Str("amount", FormatMoney(t.Amount)).
				Msg("mutation committed")
		}
	}
	return nil
}

func (e *Engine) observer() Observer {
	if e.Observer == nil {
		return noopObserver{}
	}
	return e.Observer
}

// =============================================================================
// SESSION - One store transaction's worth of mutations
// =============================================================================

type Session struct {
	Tx      Tx
	engine  *Engine
	applied []Transaction
}

// Now is the engine clock; every write in a session should use it.
func (s *Session) Now() time.Time { return s.engine.Clock() }

// NewID returns a fresh identifier for rows created in this session.
func (s *Session) NewID() string { return s.engine.NewID() }

// LockChild locks the child row and checks the actor owns it. A child the
// actor does not own is reported as not found.
func (s *Session) LockChild(ctx context.Context, actor Actor, id ChildID) (*Child, error) {
	child, err := s.Tx.LockChild(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(child) {
		return nil, NotFound("child", string(id))
	}
	return child, nil
}

// Apply performs steps 3-6 on an already locked child. child.Balance is
// updated in place so later calls in the same session see it.
func (s *Session) Apply(ctx context.Context, child *Child, m Mutation) (Result, error) {
	if err := m.Validate(); err != nil {
		return Result{}, err
	}
	if m.ChildID != child.ID {
		return Result{}, Invalid("child_id", "does not match locked account")
	}

	if m.IdempotencyKey != "" {
		prev, err := s.Tx.FindTransactionByKey(ctx, child.ID, m.IdempotencyKey)
		if err != nil {
			return Result{}, err
		}
		if prev != nil {
			if prev.Type != m.Type || !prev.Amount.Equal(m.Amount) {
				return Result{}, &ConflictError{Message: "idempotency key already used for a different mutation"}
			}
			return Result{Transaction: *prev, Balance: child.Balance, Replayed: true}, nil
		}
	}

	now := s.Now()
	if m.Type == TxSpending {
		if err := CheckSpendingLimit(ctx, s.Tx, child, m.Amount.Neg(), now, s.engine.Location); err != nil {
			return Result{}, err
		}
	}

	newBalance := child.Balance.Add(m.Amount)
	if m.Amount.IsNegative() && newBalance.IsNegative() {
		return Result{}, &InsufficientFundsError{
			ChildID:   child.ID,
			Available: child.Balance,
			Requested: m.Amount.Neg(),
		}
	}

	t := Transaction{
		ID:             TransactionID(s.engine.NewID()),
		ChildID:        child.ID,
		Type:           m.Type,
		Description:    strings.TrimSpace(m.Description),
		Amount:         m.Amount,
		ChoreID:        m.ChoreID,
		GoalID:         m.GoalID,
		IdempotencyKey: m.IdempotencyKey,
		ActorID:        m.Actor.ID,
		ActorRole:      m.Actor.Role,
		CreatedAt:      now,
	}

	if err := s.Tx.UpdateBalance(ctx, child.ID, newBalance); err != nil {
		return Result{}, err
	}
	if err := s.Tx.InsertTransaction(ctx, t); err != nil {
		return Result{}, err
	}

	child.Balance = newBalance
	child.UpdatedAt = now
	s.applied = append(s.applied, t)
	return Result{Transaction: t, Balance: newBalance}, nil
}
