// Package store provides an in-memory ledger.Store for tests and demos.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/family-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps everything in maps. WithTx holds the write lock for the whole
// transaction, which stands in for row locks: mutations are fully
// serialized, and a failed fn restores the snapshot taken at the start.
type Memory struct {
	mu       sync.RWMutex
	children map[ledger.ChildID]ledger.Child
	txs      []ledger.Transaction // append order
	goals    map[ledger.GoalID]ledger.Goal
	chores   map[ledger.ChoreID]ledger.Chore
}

func NewMemory() *Memory {
	return &Memory{
		children: make(map[ledger.ChildID]ledger.Child),
		goals:    make(map[ledger.GoalID]ledger.Goal),
		chores:   make(map[ledger.ChoreID]ledger.Chore),
	}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&view{m: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	children map[ledger.ChildID]ledger.Child
	txs      []ledger.Transaction
	goals    map[ledger.GoalID]ledger.Goal
	chores   map[ledger.ChoreID]ledger.Chore
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		children: make(map[ledger.ChildID]ledger.Child, len(m.children)),
		txs:      append([]ledger.Transaction(nil), m.txs...),
		goals:    make(map[ledger.GoalID]ledger.Goal, len(m.goals)),
		chores:   make(map[ledger.ChoreID]ledger.Chore, len(m.chores)),
	}
	for k, v := range m.children {
		s.children[k] = v
	}
	for k, v := range m.goals {
		s.goals[k] = v
	}
	for k, v := range m.chores {
		s.chores[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.children = s.children
	m.txs = s.txs
	m.goals = s.goals
	m.chores = s.chores
}

// =============================================================================
// READS (ledger.Reader)
// =============================================================================

func (m *Memory) GetChild(ctx context.Context, id ledger.ChildID) (*ledger.Child, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).GetChild(ctx, id)
}

func (m *Memory) ListChildren(ctx context.Context, parentID ledger.ParentID) ([]ledger.Child, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).ListChildren(ctx, parentID)
}

func (m *Memory) AllChildren(ctx context.Context) ([]ledger.Child, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).AllChildren(ctx)
}

func (m *Memory) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).ListTransactions(ctx, f)
}

func (m *Memory) SumTransactions(ctx context.Context, childID ledger.ChildID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).SumTransactions(ctx, childID)
}

func (m *Memory) GetGoal(ctx context.Context, id ledger.GoalID) (*ledger.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).GetGoal(ctx, id)
}

func (m *Memory) ListGoals(ctx context.Context, f ledger.GoalFilter) ([]ledger.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).ListGoals(ctx, f)
}

func (m *Memory) GetChore(ctx context.Context, id ledger.ChoreID) (*ledger.Chore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).GetChore(ctx, id)
}

func (m *Memory) ListChores(ctx context.Context, f ledger.ChoreFilter) ([]ledger.Chore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{m: m}).ListChores(ctx, f)
}

// =============================================================================
// VIEW - Unlocked access; callers hold m.mu
// =============================================================================

type view struct {
	m *Memory
}

func cloneChild(c ledger.Child) *ledger.Child {
	if c.SpendingLimit != nil {
		l := *c.SpendingLimit
		c.SpendingLimit = &l
	}
	if c.Allowance != nil {
		a := *c.Allowance
		c.Allowance = &a
	}
	return &c
}

func (v *view) GetChild(_ context.Context, id ledger.ChildID) (*ledger.Child, error) {
	c, ok := v.m.children[id]
	if !ok {
		return nil, ledger.NotFound("child", string(id))
	}
	return cloneChild(c), nil
}

func (v *view) ListChildren(_ context.Context, parentID ledger.ParentID) ([]ledger.Child, error) {
	var out []ledger.Child
	for _, c := range v.m.children {
		if c.ParentID == parentID {
			out = append(out, *cloneChild(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v *view) AllChildren(_ context.Context) ([]ledger.Child, error) {
	out := make([]ledger.Child, 0, len(v.m.children))
	for _, c := range v.m.children {
		out = append(out, *cloneChild(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) ListTransactions(_ context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for i := len(v.m.txs) - 1; i >= 0; i-- {
		t := v.m.txs[i]
		if f.ChildID != nil && t.ChildID != *f.ChildID {
			continue
		}
		if f.Type != nil && t.Type != *f.Type {
			continue
		}
		if f.ParentID != nil {
			c, ok := v.m.children[t.ChildID]
			if !ok || c.ParentID != *f.ParentID {
				continue
			}
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (v *view) SumTransactions(_ context.Context, childID ledger.ChildID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, t := range v.m.txs {
		if t.ChildID == childID {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

func (v *view) GetGoal(_ context.Context, id ledger.GoalID) (*ledger.Goal, error) {
	g, ok := v.m.goals[id]
	if !ok {
		return nil, ledger.NotFound("goal", string(id))
	}
	return &g, nil
}

func (v *view) ListGoals(_ context.Context, f ledger.GoalFilter) ([]ledger.Goal, error) {
	var out []ledger.Goal
	for _, g := range v.m.goals {
		if f.ChildID != nil && g.ChildID != *f.ChildID {
			continue
		}
		if f.ParentID != nil {
			c, ok := v.m.children[g.ChildID]
			if !ok || c.ParentID != *f.ParentID {
				continue
			}
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (v *view) GetChore(_ context.Context, id ledger.ChoreID) (*ledger.Chore, error) {
	c, ok := v.m.chores[id]
	if !ok {
		return nil, ledger.NotFound("chore", string(id))
	}
	return &c, nil
}

func (v *view) ListChores(_ context.Context, f ledger.ChoreFilter) ([]ledger.Chore, error) {
	var out []ledger.Chore
	for _, c := range v.m.chores {
		if f.ParentID != nil && c.ParentID != *f.ParentID {
			continue
		}
		if f.AssignedChildID != nil && (c.AssignedChildID == nil || *c.AssignedChildID != *f.AssignedChildID) {
			continue
		}
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// WRITES (ledger.Tx)
// =============================================================================

func (v *view) CreateChild(_ context.Context, c ledger.Child) error {
	if _, ok := v.m.children[c.ID]; ok {
		return &ledger.ConflictError{Message: "child " + string(c.ID) + " already exists"}
	}
	for _, other := range v.m.children {
		if other.ParentID == c.ParentID && other.Name == c.Name {
			return &ledger.ConflictError{Message: "a child named " + c.Name + " already exists"}
		}
	}
	v.m.children[c.ID] = *cloneChild(c)
	return nil
}

func (v *view) UpdateChild(_ context.Context, c ledger.Child) error {
	cur, ok := v.m.children[c.ID]
	if !ok {
		return ledger.NotFound("child", string(c.ID))
	}
	for _, other := range v.m.children {
		if other.ID != c.ID && other.ParentID == cur.ParentID && other.Name == c.Name {
			return &ledger.ConflictError{Message: "a child named " + c.Name + " already exists"}
		}
	}
	cur.Name = c.Name
	cur.SpendingLimit = c.SpendingLimit
	cur.Allowance = c.Allowance
	cur.UpdatedAt = c.UpdatedAt
	v.m.children[c.ID] = *cloneChild(cur)
	return nil
}

func (v *view) LockChild(ctx context.Context, id ledger.ChildID) (*ledger.Child, error) {
	return v.GetChild(ctx, id)
}

func (v *view) UpdateBalance(_ context.Context, id ledger.ChildID, balance decimal.Decimal) error {
	c, ok := v.m.children[id]
	if !ok {
		return ledger.NotFound("child", string(id))
	}
	c.Balance = balance
	c.UpdatedAt = time.Now().UTC()
	v.m.children[id] = c
	return nil
}

func (v *view) InsertTransaction(_ context.Context, t ledger.Transaction) error {
	for _, existing := range v.m.txs {
		if existing.ID == t.ID {
			return &ledger.ConflictError{Message: "transaction " + string(t.ID) + " already exists"}
		}
		if t.IdempotencyKey != "" && existing.ChildID == t.ChildID && existing.IdempotencyKey == t.IdempotencyKey {
			return &ledger.ConflictError{Message: "duplicate idempotency key"}
		}
	}
	v.m.txs = append(v.m.txs, t)
	return nil
}

func (v *view) FindTransactionByKey(_ context.Context, childID ledger.ChildID, key string) (*ledger.Transaction, error) {
	for _, t := range v.m.txs {
		if t.ChildID == childID && t.IdempotencyKey == key {
			found := t
			return &found, nil
		}
	}
	return nil, nil
}

func (v *view) SpendingSince(_ context.Context, childID ledger.ChildID, since time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, t := range v.m.txs {
		if t.ChildID == childID && t.Type == ledger.TxSpending && !t.CreatedAt.Before(since) {
			sum = sum.Add(t.Amount.Abs())
		}
	}
	return sum, nil
}

func (v *view) CreateGoal(_ context.Context, g ledger.Goal) error {
	if _, ok := v.m.goals[g.ID]; ok {
		return &ledger.ConflictError{Message: "goal " + string(g.ID) + " already exists"}
	}
	v.m.goals[g.ID] = g
	return nil
}

func (v *view) LockGoal(ctx context.Context, id ledger.GoalID) (*ledger.Goal, error) {
	return v.GetGoal(ctx, id)
}

func (v *view) UpdateGoalAmount(_ context.Context, id ledger.GoalID, current decimal.Decimal) error {
	g, ok := v.m.goals[id]
	if !ok {
		return ledger.NotFound("goal", string(id))
	}
	g.CurrentAmount = current
	g.UpdatedAt = time.Now().UTC()
	v.m.goals[id] = g
	return nil
}

func (v *view) DeleteGoal(_ context.Context, id ledger.GoalID) error {
	if _, ok := v.m.goals[id]; !ok {
		return ledger.NotFound("goal", string(id))
	}
	delete(v.m.goals, id)
	return nil
}

func (v *view) CreateChore(_ context.Context, c ledger.Chore) error {
	if _, ok := v.m.chores[c.ID]; ok {
		return &ledger.ConflictError{Message: "chore " + string(c.ID) + " already exists"}
	}
	v.m.chores[c.ID] = c
	return nil
}

func (v *view) LockChore(ctx context.Context, id ledger.ChoreID) (*ledger.Chore, error) {
	return v.GetChore(ctx, id)
}

func (v *view) UpdateChore(_ context.Context, c ledger.Chore) error {
	if _, ok := v.m.chores[c.ID]; !ok {
		return ledger.NotFound("chore", string(c.ID))
	}
	v.m.chores[c.ID] = c
	return nil
}

func (v *view) DeleteChore(_ context.Context, id ledger.ChoreID) error {
	if _, ok := v.m.chores[id]; !ok {
		return ledger.NotFound("chore", string(id))
	}
	delete(v.m.chores, id)
	return nil
}

var (
	_ ledger.Store = (*Memory)(nil)
	_ ledger.Tx    = (*view)(nil)
)
