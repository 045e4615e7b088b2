/*
Package postgres provides a PostgreSQL-backed implementation of ledger.Store.

PURPOSE:
  The multi-process deployment target. Same tables and contract as
  store/sqlite, but with real row-level locking so mutations on different
  children run in parallel.

LOCKING:
  LockChild, LockGoal and LockChore are SELECT ... FOR UPDATE inside the
  WithTx transaction. The engine acquires them in the order
  chore -> child -> goal, so there is no lock cycle.

AMOUNTS:
  NUMERIC(12,2) columns. Values cross the wire as text (::text on read,
  ::numeric on write) so no float ever touches a balance.

ERRORS:
  - pgx.ErrNoRows        -> *ledger.NotFoundError
  - SQLSTATE 23505       -> *ledger.ConflictError
  - anything else        -> wrapped, classified transient by the engine
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/family-ledger/ledger"
)

const uniqueViolation = "23505"

// Store implements ledger.Store on a pgx connection pool.
type Store struct {
	reader
	pool *pgxpool.Pool
}

// Connect opens a pool, checks the connection and migrates the schema.
func Connect(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	store := &Store{pool: pool, reader: reader{q: pool}}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Reset removes every row. Used by tests and demo environments.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE transactions, savings_goals, chores, children`)
	return err
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS children (
		id TEXT PRIMARY KEY,
		parent_id TEXT NOT NULL,
		name TEXT NOT NULL,
		balance NUMERIC(12,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		spending_limit_amount NUMERIC(12,2),
		spending_limit_frequency TEXT,
		allowance_amount NUMERIC(12,2),
		allowance_frequency TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (parent_id, name)
	);

	CREATE TABLE IF NOT EXISTS transactions (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		child_id TEXT NOT NULL REFERENCES children(id),
		tx_type TEXT NOT NULL,
		description TEXT NOT NULL,
		amount NUMERIC(12,2) NOT NULL,
		related_chore_id TEXT,
		related_goal_id TEXT,
		idempotency_key TEXT,
		actor_id TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON transactions(child_id, idempotency_key) WHERE idempotency_key IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_child_date
		ON transactions(child_id, created_at DESC, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_child_type_date
		ON transactions(child_id, tx_type, created_at);

	CREATE OR REPLACE FUNCTION transactions_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'transactions are append-only';
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS trg_transactions_append_only ON transactions;
	CREATE TRIGGER trg_transactions_append_only
		BEFORE UPDATE OR DELETE ON transactions
		FOR EACH ROW EXECUTE FUNCTION transactions_append_only();

	CREATE TABLE IF NOT EXISTS savings_goals (
		id TEXT PRIMARY KEY,
		child_id TEXT NOT NULL REFERENCES children(id),
		name TEXT NOT NULL,
		target_amount NUMERIC(12,2) NOT NULL CHECK (target_amount > 0),
		current_amount NUMERIC(12,2) NOT NULL DEFAULT 0
			CHECK (current_amount >= 0 AND current_amount <= target_amount),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_goals_child ON savings_goals(child_id);

	CREATE TABLE IF NOT EXISTS chores (
		id TEXT PRIMARY KEY,
		parent_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		points INTEGER NOT NULL CHECK (points >= 0),
		assigned_child_id TEXT REFERENCES children(id),
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chores_parent ON chores(parent_id);
	CREATE INDEX IF NOT EXISTS idx_chores_assigned ON chores(assigned_child_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer pgTx.Rollback(ctx)

	if err := fn(&txStore{reader: reader{q: pgTx}}); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// =============================================================================
// READS
// =============================================================================

type reader struct {
	q querier
}

const childColumns = `id, parent_id, name, balance::text, spending_limit_amount::text, spending_limit_frequency,
	allowance_amount::text, allowance_frequency, created_at, updated_at`

func (r reader) GetChild(ctx context.Context, id ledger.ChildID) (*ledger.Child, error) {
	return r.getChild(ctx, `SELECT `+childColumns+` FROM children WHERE id = $1`, id)
}

func (r reader) getChild(ctx context.Context, query string, id ledger.ChildID) (*ledger.Child, error) {
	c, err := scanChild(r.q.QueryRow(ctx, query, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.NotFound("child", string(id))
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r reader) ListChildren(ctx context.Context, parentID ledger.ParentID) ([]ledger.Child, error) {
	return r.queryChildren(ctx, `SELECT `+childColumns+` FROM children WHERE parent_id = $1 ORDER BY name`, string(parentID))
}

func (r reader) AllChildren(ctx context.Context) ([]ledger.Child, error) {
	return r.queryChildren(ctx, `SELECT `+childColumns+` FROM children ORDER BY id`)
}

func (r reader) queryChildren(ctx context.Context, query string, args ...any) ([]ledger.Child, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	defer rows.Close()

	var children []ledger.Child
	for rows.Next() {
		c, err := scanChild(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	return children, rows.Err()
}

func scanChild(row pgx.Row) (ledger.Child, error) {
	var (
		c                   ledger.Child
		id, parentID        string
		balance             string
		limitAmt, limitFreq *string
		allowAmt, allowFreq *string
	)
	err := row.Scan(&id, &parentID, &c.Name, &balance, &limitAmt, &limitFreq,
		&allowAmt, &allowFreq, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan child: %w", err)
	}
	c.ID = ledger.ChildID(id)
	c.ParentID = ledger.ParentID(parentID)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()

	if c.Balance, err = decimal.NewFromString(balance); err != nil {
		return c, err
	}
	if limitAmt != nil {
		amt, err := decimal.NewFromString(*limitAmt)
		if err != nil {
			return c, err
		}
		c.SpendingLimit = &ledger.SpendingLimit{Amount: amt, Frequency: ledger.Frequency(deref(limitFreq))}
	}
	if allowAmt != nil {
		amt, err := decimal.NewFromString(*allowAmt)
		if err != nil {
			return c, err
		}
		c.Allowance = &ledger.Allowance{Amount: amt, Frequency: ledger.Frequency(deref(allowFreq))}
	}
	return c, nil
}

const txColumns = `id, child_id, tx_type, description, amount::text, related_chore_id, related_goal_id,
	idempotency_key, actor_id, actor_role, created_at`

func (r reader) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.ParentID != nil {
		where = append(where, "child_id IN (SELECT id FROM children WHERE parent_id = "+arg(string(*f.ParentID))+")")
	}
	if f.ChildID != nil {
		where = append(where, "child_id = "+arg(string(*f.ChildID)))
	}
	if f.Type != nil {
		where = append(where, "tx_type = "+arg(string(*f.Type)))
	}

	var q strings.Builder
	q.WriteString(`SELECT ` + txColumns + ` FROM transactions`)
	if len(where) > 0 {
		q.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	q.WriteString(" ORDER BY created_at DESC, seq DESC")
	if f.Limit > 0 {
		q.WriteString(" LIMIT " + arg(f.Limit))
	}
	if f.Offset > 0 {
		q.WriteString(" OFFSET " + arg(f.Offset))
	}

	rows, err := r.q.Query(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var (
		t                      ledger.Transaction
		id, childID            string
		txType, role           string
		amount                 string
		choreID, goalID, idKey *string
	)
	err := row.Scan(&id, &childID, &txType, &t.Description, &amount, &choreID, &goalID,
		&idKey, &t.ActorID, &role, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("failed to scan transaction: %w", err)
	}
	t.ID = ledger.TransactionID(id)
	t.ChildID = ledger.ChildID(childID)
	t.Type = ledger.TxType(txType)
	t.ActorRole = ledger.Role(role)
	t.CreatedAt = t.CreatedAt.UTC()
	t.IdempotencyKey = deref(idKey)
	if choreID != nil {
		cid := ledger.ChoreID(*choreID)
		t.ChoreID = &cid
	}
	if goalID != nil {
		gid := ledger.GoalID(*goalID)
		t.GoalID = &gid
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return t, err
	}
	return t, nil
}

func (r reader) SumTransactions(ctx context.Context, childID ledger.ChildID) (decimal.Decimal, error) {
	return r.sum(ctx, `SELECT COALESCE(SUM(amount), 0)::text FROM transactions WHERE child_id = $1`, string(childID))
}

func (r reader) sum(ctx context.Context, query string, args ...any) (decimal.Decimal, error) {
	var s string
	if err := r.q.QueryRow(ctx, query, args...).Scan(&s); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return decimal.NewFromString(s)
}

const goalColumns = `id, child_id, name, target_amount::text, current_amount::text, created_at, updated_at`

func (r reader) GetGoal(ctx context.Context, id ledger.GoalID) (*ledger.Goal, error) {
	return r.getGoal(ctx, `SELECT `+goalColumns+` FROM savings_goals WHERE id = $1`, id)
}

func (r reader) getGoal(ctx context.Context, query string, id ledger.GoalID) (*ledger.Goal, error) {
	g, err := scanGoal(r.q.QueryRow(ctx, query, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.NotFound("goal", string(id))
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r reader) ListGoals(ctx context.Context, f ledger.GoalFilter) ([]ledger.Goal, error) {
	var (
		where []string
		args  []any
	)
	if f.ParentID != nil {
		args = append(args, string(*f.ParentID))
		where = append(where, fmt.Sprintf("child_id IN (SELECT id FROM children WHERE parent_id = $%d)", len(args)))
	}
	if f.ChildID != nil {
		args = append(args, string(*f.ChildID))
		where = append(where, fmt.Sprintf("child_id = $%d", len(args)))
	}

	query := `SELECT ` + goalColumns + ` FROM savings_goals`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, name"

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query goals: %w", err)
	}
	defer rows.Close()

	var goals []ledger.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

func scanGoal(row pgx.Row) (ledger.Goal, error) {
	var (
		g               ledger.Goal
		id, childID     string
		target, current string
	)
	err := row.Scan(&id, &childID, &g.Name, &target, &current, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return g, err
		}
		return g, fmt.Errorf("failed to scan goal: %w", err)
	}
	g.ID = ledger.GoalID(id)
	g.ChildID = ledger.ChildID(childID)
	g.CreatedAt = g.CreatedAt.UTC()
	g.UpdatedAt = g.UpdatedAt.UTC()
	if g.TargetAmount, err = decimal.NewFromString(target); err != nil {
		return g, err
	}
	if g.CurrentAmount, err = decimal.NewFromString(current); err != nil {
		return g, err
	}
	return g, nil
}

const choreColumns = `id, parent_id, title, description, points, assigned_child_id, status, created_at, updated_at`

func (r reader) GetChore(ctx context.Context, id ledger.ChoreID) (*ledger.Chore, error) {
	return r.getChore(ctx, `SELECT `+choreColumns+` FROM chores WHERE id = $1`, id)
}

func (r reader) getChore(ctx context.Context, query string, id ledger.ChoreID) (*ledger.Chore, error) {
	c, err := scanChore(r.q.QueryRow(ctx, query, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.NotFound("chore", string(id))
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r reader) ListChores(ctx context.Context, f ledger.ChoreFilter) ([]ledger.Chore, error) {
	var (
		where []string
		args  []any
	)
	if f.ParentID != nil {
		args = append(args, string(*f.ParentID))
		where = append(where, fmt.Sprintf("parent_id = $%d", len(args)))
	}
	if f.AssignedChildID != nil {
		args = append(args, string(*f.AssignedChildID))
		where = append(where, fmt.Sprintf("assigned_child_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + choreColumns + ` FROM chores`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chores: %w", err)
	}
	defer rows.Close()

	var chores []ledger.Chore
	for rows.Next() {
		c, err := scanChore(rows)
		if err != nil {
			return nil, err
		}
		chores = append(chores, c)
	}
	return chores, rows.Err()
}

func scanChore(row pgx.Row) (ledger.Chore, error) {
	var (
		c                    ledger.Chore
		id, parentID, status string
		assigned             *string
	)
	err := row.Scan(&id, &parentID, &c.Title, &c.Description, &c.Points, &assigned,
		&status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan chore: %w", err)
	}
	c.ID = ledger.ChoreID(id)
	c.ParentID = ledger.ParentID(parentID)
	c.Status = ledger.ChoreStatus(status)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if assigned != nil {
		cid := ledger.ChildID(*assigned)
		c.AssignedChildID = &cid
	}
	return c, nil
}

// =============================================================================
// WRITES
// =============================================================================

type txStore struct {
	reader
}

func (ts *txStore) CreateChild(ctx context.Context, c ledger.Child) error {
	limitAmt, limitFreq := limitArgs(c.SpendingLimit)
	allowAmt, allowFreq := allowanceArgs(c.Allowance)
	_, err := ts.q.Exec(ctx, `
		INSERT INTO children (id, parent_id, name, balance, spending_limit_amount, spending_limit_frequency,
			allowance_amount, allowance_frequency, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7::numeric, $8, $9, $10)`,
		string(c.ID), string(c.ParentID), c.Name, ledger.FormatMoney(c.Balance),
		limitAmt, limitFreq, allowAmt, allowFreq, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return writeError(err, "a child named "+c.Name+" already exists", "failed to create child")
	}
	return nil
}

func (ts *txStore) UpdateChild(ctx context.Context, c ledger.Child) error {
	limitAmt, limitFreq := limitArgs(c.SpendingLimit)
	allowAmt, allowFreq := allowanceArgs(c.Allowance)
	tag, err := ts.q.Exec(ctx, `
		UPDATE children
		SET name = $1, spending_limit_amount = $2::numeric, spending_limit_frequency = $3,
		    allowance_amount = $4::numeric, allowance_frequency = $5, updated_at = $6
		WHERE id = $7`,
		c.Name, limitAmt, limitFreq, allowAmt, allowFreq, c.UpdatedAt, string(c.ID),
	)
	if err != nil {
		return writeError(err, "a child named "+c.Name+" already exists", "failed to update child")
	}
	return requireRow(tag, "child", string(c.ID))
}

func (ts *txStore) LockChild(ctx context.Context, id ledger.ChildID) (*ledger.Child, error) {
	return ts.getChild(ctx, `SELECT `+childColumns+` FROM children WHERE id = $1 FOR UPDATE`, id)
}

func (ts *txStore) UpdateBalance(ctx context.Context, id ledger.ChildID, balance decimal.Decimal) error {
	tag, err := ts.q.Exec(ctx,
		`UPDATE children SET balance = $1::numeric, updated_at = now() WHERE id = $2`,
		ledger.FormatMoney(balance), string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return requireRow(tag, "child", string(id))
}

func (ts *txStore) InsertTransaction(ctx context.Context, t ledger.Transaction) error {
	_, err := ts.q.Exec(ctx, `
		INSERT INTO transactions (id, child_id, tx_type, description, amount, related_chore_id,
			related_goal_id, idempotency_key, actor_id, actor_role, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11)`,
		string(t.ID), string(t.ChildID), string(t.Type), t.Description, ledger.FormatMoney(t.Amount),
		optional(t.ChoreID), optional(t.GoalID), nullable(t.IdempotencyKey),
		t.ActorID, string(t.ActorRole), t.CreatedAt,
	)
	if err != nil {
		return writeError(err, "duplicate idempotency key", "failed to append transaction")
	}
	return nil
}

func (ts *txStore) FindTransactionByKey(ctx context.Context, childID ledger.ChildID, key string) (*ledger.Transaction, error) {
	row := ts.q.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE child_id = $1 AND idempotency_key = $2`,
		string(childID), key,
	)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (ts *txStore) SpendingSince(ctx context.Context, childID ledger.ChildID, since time.Time) (decimal.Decimal, error) {
	sum, err := ts.sum(ctx,
		`SELECT COALESCE(SUM(-amount), 0)::text FROM transactions
		 WHERE child_id = $1 AND tx_type = $2 AND created_at >= $3`,
		string(childID), string(ledger.TxSpending), since,
	)
	if err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

func (ts *txStore) CreateGoal(ctx context.Context, g ledger.Goal) error {
	_, err := ts.q.Exec(ctx, `
		INSERT INTO savings_goals (id, child_id, name, target_amount, current_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7)`,
		string(g.ID), string(g.ChildID), g.Name, ledger.FormatMoney(g.TargetAmount),
		ledger.FormatMoney(g.CurrentAmount), g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return writeError(err, "goal "+string(g.ID)+" already exists", "failed to create goal")
	}
	return nil
}

func (ts *txStore) LockGoal(ctx context.Context, id ledger.GoalID) (*ledger.Goal, error) {
	return ts.getGoal(ctx, `SELECT `+goalColumns+` FROM savings_goals WHERE id = $1 FOR UPDATE`, id)
}

func (ts *txStore) UpdateGoalAmount(ctx context.Context, id ledger.GoalID, current decimal.Decimal) error {
	tag, err := ts.q.Exec(ctx,
		`UPDATE savings_goals SET current_amount = $1::numeric, updated_at = now() WHERE id = $2`,
		ledger.FormatMoney(current), string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to update goal: %w", err)
	}
	return requireRow(tag, "goal", string(id))
}

func (ts *txStore) DeleteGoal(ctx context.Context, id ledger.GoalID) error {
	tag, err := ts.q.Exec(ctx, `DELETE FROM savings_goals WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete goal: %w", err)
	}
	return requireRow(tag, "goal", string(id))
}

func (ts *txStore) CreateChore(ctx context.Context, c ledger.Chore) error {
	_, err := ts.q.Exec(ctx, `
		INSERT INTO chores (id, parent_id, title, description, points, assigned_child_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(c.ID), string(c.ParentID), c.Title, c.Description, c.Points,
		optional(c.AssignedChildID), string(c.Status), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return writeError(err, "chore "+string(c.ID)+" already exists", "failed to create chore")
	}
	return nil
}

func (ts *txStore) LockChore(ctx context.Context, id ledger.ChoreID) (*ledger.Chore, error) {
	return ts.getChore(ctx, `SELECT `+choreColumns+` FROM chores WHERE id = $1 FOR UPDATE`, id)
}

func (ts *txStore) UpdateChore(ctx context.Context, c ledger.Chore) error {
	tag, err := ts.q.Exec(ctx, `
		UPDATE chores
		SET title = $1, description = $2, points = $3, assigned_child_id = $4, status = $5, updated_at = $6
		WHERE id = $7`,
		c.Title, c.Description, c.Points, optional(c.AssignedChildID), string(c.Status), c.UpdatedAt, string(c.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update chore: %w", err)
	}
	return requireRow(tag, "chore", string(c.ID))
}

func (ts *txStore) DeleteChore(ctx context.Context, id ledger.ChoreID) error {
	tag, err := ts.q.Exec(ctx, `DELETE FROM chores WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete chore: %w", err)
	}
	return requireRow(tag, "chore", string(id))
}

var (
	_ ledger.Store = (*Store)(nil)
	_ ledger.Tx    = (*txStore)(nil)
)

// Helper functions

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optional[T ~string](id *T) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}

func limitArgs(l *ledger.SpendingLimit) (*string, *string) {
	if l == nil {
		return nil, nil
	}
	amt := ledger.FormatMoney(l.Amount)
	freq := string(l.Frequency)
	return &amt, &freq
}

func allowanceArgs(a *ledger.Allowance) (*string, *string) {
	if a == nil {
		return nil, nil
	}
	amt := ledger.FormatMoney(a.Amount)
	freq := string(a.Frequency)
	return &amt, &freq
}

func requireRow(tag pgconn.CommandTag, resource, id string) error {
	if tag.RowsAffected() == 0 {
		return ledger.NotFound(resource, id)
	}
	return nil
}

func writeError(err error, conflictMsg, action string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return &ledger.ConflictError{Message: conflictMsg}
	}
	return fmt.Errorf("%s: %w", action, err)
}
