/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Persists child accounts, the transaction ledger, savings goals and chores.
  The PostgreSQL store (store/postgres) implements the same contract with
  real row locks; this one is the single-binary default.

KEY TABLES:
  children:       One row per child account, holds the running balance
  transactions:   Append-only ledger of every balance change
  savings_goals:  Goal progress, moved together with the balance
  chores:         Chore lifecycle (Pending -> Completed -> Approved)

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on the transactions table in this file
  - A trigger aborts any UPDATE or DELETE that reaches the table anyway

LOCKING:
  SQLite has no row locks. Every WithTx opens a BEGIN IMMEDIATE transaction
  (_txlock=immediate), which takes the database write lock up front, so
  the Lock* methods are plain reads: nothing else can write until commit.
  An in-process mutex additionally serializes writers so they queue in Go
  instead of spinning on SQLITE_BUSY.

TIMESTAMPS:
  Stored as fixed-width UTC text (timeLayout) so lexical order is
  chronological order.

AMOUNTS:
  Stored as TEXT with 2 fractional digits and summed in Go with
  shopspring/decimal. SQLite's SUM() would go through floating point.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/family-ledger/ledger"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

// Store implements ledger.Store using SQLite.
type Store struct {
	reader
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would get its own empty in-memory database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, reader: reader{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS children (
		id TEXT PRIMARY KEY,
		parent_id TEXT NOT NULL,
		name TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0.00',
		spending_limit_amount TEXT,
		spending_limit_frequency TEXT,
		allowance_amount TEXT,
		allowance_frequency TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (parent_id, name)
	);

	CREATE INDEX IF NOT EXISTS idx_children_parent ON children(parent_id);

	-- Transactions (append-only ledger)
	-- related_* columns carry no foreign key: history outlives deleted goals and chores
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		child_id TEXT NOT NULL REFERENCES children(id),
		tx_type TEXT NOT NULL,
		description TEXT NOT NULL,
		amount TEXT NOT NULL,
		related_chore_id TEXT,
		related_goal_id TEXT,
		idempotency_key TEXT,
		actor_id TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON transactions(child_id, idempotency_key) WHERE idempotency_key IS NOT NULL;

	-- Hot path: history listing and spending-window sums
	CREATE INDEX IF NOT EXISTS idx_transactions_child_date
		ON transactions(child_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_child_type_date
		ON transactions(child_id, tx_type, created_at);

	CREATE TRIGGER IF NOT EXISTS trg_transactions_no_update
		BEFORE UPDATE ON transactions
		BEGIN SELECT RAISE(ABORT, 'transactions are append-only'); END;
	CREATE TRIGGER IF NOT EXISTS trg_transactions_no_delete
		BEFORE DELETE ON transactions
		BEGIN SELECT RAISE(ABORT, 'transactions are append-only'); END;

	CREATE TABLE IF NOT EXISTS savings_goals (
		id TEXT PRIMARY KEY,
		child_id TEXT NOT NULL REFERENCES children(id),
		name TEXT NOT NULL,
		target_amount TEXT NOT NULL,
		current_amount TEXT NOT NULL DEFAULT '0.00',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_goals_child ON savings_goals(child_id);

	CREATE TABLE IF NOT EXISTS chores (
		id TEXT PRIMARY KEY,
		parent_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		points INTEGER NOT NULL,
		assigned_child_id TEXT REFERENCES children(id),
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chores_parent ON chores(parent_id);
	CREATE INDEX IF NOT EXISTS idx_chores_assigned ON chores(assigned_child_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.Store)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{reader: reader{q: sqlTx}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// READS (ledger.Reader)
// =============================================================================

type reader struct {
	q querier
}

const childColumns = `id, parent_id, name, balance, spending_limit_amount, spending_limit_frequency,
	allowance_amount, allowance_frequency, created_at, updated_at`

func (r reader) GetChild(ctx context.Context, id ledger.ChildID) (*ledger.Child, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+childColumns+` FROM children WHERE id = ?`, id)
	c, err := scanChild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.NotFound("child", string(id))
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r reader) ListChildren(ctx context.Context, parentID ledger.ParentID) ([]ledger.Child, error) {
	return r.queryChildren(ctx, `SELECT `+childColumns+` FROM children WHERE parent_id = ? ORDER BY name`, parentID)
}

func (r reader) AllChildren(ctx context.Context) ([]ledger.Child, error) {
	return r.queryChildren(ctx, `SELECT `+childColumns+` FROM children ORDER BY id`)
}

func (r reader) queryChildren(ctx context.Context, query string, args ...any) ([]ledger.Child, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
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

func scanChild(row rowScanner) (ledger.Child, error) {
	var (
		c                    ledger.Child
		balance              string
		limitAmt, limitFreq  sql.NullString
		allowAmt, allowFreq  sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.ParentID, &c.Name, &balance, &limitAmt, &limitFreq,
		&allowAmt, &allowFreq, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan child: %w", err)
	}

	if c.Balance, err = parseDecimal(balance); err != nil {
		return c, err
	}
	if limitAmt.Valid {
		amt, err := parseDecimal(limitAmt.String)
		if err != nil {
			return c, err
		}
		c.SpendingLimit = &ledger.SpendingLimit{Amount: amt, Frequency: ledger.Frequency(limitFreq.String)}
	}
	if allowAmt.Valid {
		amt, err := parseDecimal(allowAmt.String)
		if err != nil {
			return c, err
		}
		c.Allowance = &ledger.Allowance{Amount: amt, Frequency: ledger.Frequency(allowFreq.String)}
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

const txColumns = `id, child_id, tx_type, description, amount, related_chore_id, related_goal_id,
	idempotency_key, actor_id, actor_role, created_at`

func (r reader) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.ParentID != nil {
		where = append(where, "child_id IN (SELECT id FROM children WHERE parent_id = ?)")
		args = append(args, *f.ParentID)
	}
	if f.ChildID != nil {
		where = append(where, "child_id = ?")
		args = append(args, *f.ChildID)
	}
	if f.Type != nil {
		where = append(where, "tx_type = ?")
		args = append(args, *f.Type)
	}

	var q strings.Builder
	q.WriteString(`SELECT ` + txColumns + ` FROM transactions`)
	if len(where) > 0 {
		q.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	q.WriteString(" ORDER BY created_at DESC, rowid DESC")
	switch {
	case f.Limit > 0:
		q.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, f.Limit, f.Offset)
	case f.Offset > 0:
		q.WriteString(" LIMIT -1 OFFSET ?")
		args = append(args, f.Offset)
	}

	rows, err := r.q.QueryContext(ctx, q.String(), args...)
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

func scanTransaction(row rowScanner) (ledger.Transaction, error) {
	var (
		t              ledger.Transaction
		amount         string
		choreID        sql.NullString
		goalID         sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
	)
	err := row.Scan(&t.ID, &t.ChildID, &t.Type, &t.Description, &amount, &choreID, &goalID,
		&idempotencyKey, &t.ActorID, &t.ActorRole, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if t.Amount, err = parseDecimal(amount); err != nil {
		return t, err
	}
	if choreID.Valid {
		id := ledger.ChoreID(choreID.String)
		t.ChoreID = &id
	}
	if goalID.Valid {
		id := ledger.GoalID(goalID.String)
		t.GoalID = &id
	}
	t.IdempotencyKey = idempotencyKey.String
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

func (r reader) SumTransactions(ctx context.Context, childID ledger.ChildID) (decimal.Decimal, error) {
	return r.sumAmounts(ctx, `SELECT amount FROM transactions WHERE child_id = ?`, childID)
}

func (r reader) sumAmounts(ctx context.Context, query string, args ...any) (decimal.Decimal, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum transactions: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan amount: %w", err)
		}
		d, err := parseDecimal(s)
		if err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(d)
	}
	return sum, rows.Err()
}

const goalColumns = `id, child_id, name, target_amount, current_amount, created_at, updated_at`

func (r reader) GetGoal(ctx context.Context, id ledger.GoalID) (*ledger.Goal, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM savings_goals WHERE id = ?`, id)
	g, err := scanGoal(row)
	if errors.Is(err, sql.ErrNoRows) {
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
		where = append(where, "child_id IN (SELECT id FROM children WHERE parent_id = ?)")
		args = append(args, *f.ParentID)
	}
	if f.ChildID != nil {
		where = append(where, "child_id = ?")
		args = append(args, *f.ChildID)
	}

	query := `SELECT ` + goalColumns + ` FROM savings_goals`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, name"

	rows, err := r.q.QueryContext(ctx, query, args...)
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

func scanGoal(row rowScanner) (ledger.Goal, error) {
	var (
		g                    ledger.Goal
		target, current      string
		createdAt, updatedAt string
	)
	err := row.Scan(&g.ID, &g.ChildID, &g.Name, &target, &current, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return g, err
		}
		return g, fmt.Errorf("failed to scan goal: %w", err)
	}
	if g.TargetAmount, err = parseDecimal(target); err != nil {
		return g, err
	}
	if g.CurrentAmount, err = parseDecimal(current); err != nil {
		return g, err
	}
	g.CreatedAt = parseTime(createdAt)
	g.UpdatedAt = parseTime(updatedAt)
	return g, nil
}

const choreColumns = `id, parent_id, title, description, points, assigned_child_id, status, created_at, updated_at`

func (r reader) GetChore(ctx context.Context, id ledger.ChoreID) (*ledger.Chore, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+choreColumns+` FROM chores WHERE id = ?`, id)
	c, err := scanChore(row)
	if errors.Is(err, sql.ErrNoRows) {
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
		where = append(where, "parent_id = ?")
		args = append(args, *f.ParentID)
	}
	if f.AssignedChildID != nil {
		where = append(where, "assigned_child_id = ?")
		args = append(args, *f.AssignedChildID)
	}
	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *f.Status)
	}

	query := `SELECT ` + choreColumns + ` FROM chores`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := r.q.QueryContext(ctx, query, args...)
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

func scanChore(row rowScanner) (ledger.Chore, error) {
	var (
		c                    ledger.Chore
		assigned             sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.ParentID, &c.Title, &c.Description, &c.Points, &assigned,
		&c.Status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan chore: %w", err)
	}
	if assigned.Valid {
		id := ledger.ChildID(assigned.String)
		c.AssignedChildID = &id
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

// =============================================================================
// WRITES (ledger.Tx)
// =============================================================================

type txStore struct {
	reader
}

func (ts *txStore) CreateChild(ctx context.Context, c ledger.Child) error {
	limitAmt, limitFreq := limitColumns(c.SpendingLimit)
	allowAmt, allowFreq := allowanceColumns(c.Allowance)
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO children (`+childColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ParentID, c.Name, ledger.FormatMoney(c.Balance),
		limitAmt, limitFreq, allowAmt, allowFreq,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return writeError(err, "a child named "+c.Name+" already exists", "failed to create child")
	}
	return nil
}

func (ts *txStore) UpdateChild(ctx context.Context, c ledger.Child) error {
	limitAmt, limitFreq := limitColumns(c.SpendingLimit)
	allowAmt, allowFreq := allowanceColumns(c.Allowance)
	res, err := ts.q.ExecContext(ctx, `
		UPDATE children
		SET name = ?, spending_limit_amount = ?, spending_limit_frequency = ?,
		    allowance_amount = ?, allowance_frequency = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, limitAmt, limitFreq, allowAmt, allowFreq, formatTime(c.UpdatedAt), c.ID,
	)
	if err != nil {
		return writeError(err, "a child named "+c.Name+" already exists", "failed to update child")
	}
	return requireRow(res, "child", string(c.ID))
}

func (ts *txStore) LockChild(ctx context.Context, id ledger.ChildID) (*ledger.Child, error) {
	return ts.GetChild(ctx, id)
}

func (ts *txStore) UpdateBalance(ctx context.Context, id ledger.ChildID, balance decimal.Decimal) error {
	res, err := ts.q.ExecContext(ctx,
		`UPDATE children SET balance = ?, updated_at = ? WHERE id = ?`,
		ledger.FormatMoney(balance), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return requireRow(res, "child", string(id))
}

func (ts *txStore) InsertTransaction(ctx context.Context, t ledger.Transaction) error {
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ChildID, t.Type, t.Description, ledger.FormatMoney(t.Amount),
		nullID(t.ChoreID), nullID(t.GoalID), nullString(t.IdempotencyKey),
		t.ActorID, t.ActorRole, formatTime(t.CreatedAt),
	)
	if err != nil {
		return writeError(err, "duplicate idempotency key", "failed to append transaction")
	}
	return nil
}

func (ts *txStore) FindTransactionByKey(ctx context.Context, childID ledger.ChildID, key string) (*ledger.Transaction, error) {
	row := ts.q.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE child_id = ? AND idempotency_key = ?`,
		childID, key,
	)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (ts *txStore) SpendingSince(ctx context.Context, childID ledger.ChildID, since time.Time) (decimal.Decimal, error) {
	sum, err := ts.sumAmounts(ctx,
		`SELECT amount FROM transactions WHERE child_id = ? AND tx_type = ? AND created_at >= ?`,
		childID, ledger.TxSpending, formatTime(since),
	)
	if err != nil {
		return decimal.Zero, err
	}
	return sum.Abs(), nil
}

func (ts *txStore) CreateGoal(ctx context.Context, g ledger.Goal) error {
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO savings_goals (`+goalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.ChildID, g.Name, ledger.FormatMoney(g.TargetAmount), ledger.FormatMoney(g.CurrentAmount),
		formatTime(g.CreatedAt), formatTime(g.UpdatedAt),
	)
	if err != nil {
		return writeError(err, "goal "+string(g.ID)+" already exists", "failed to create goal")
	}
	return nil
}

func (ts *txStore) LockGoal(ctx context.Context, id ledger.GoalID) (*ledger.Goal, error) {
	return ts.GetGoal(ctx, id)
}

func (ts *txStore) UpdateGoalAmount(ctx context.Context, id ledger.GoalID, current decimal.Decimal) error {
	res, err := ts.q.ExecContext(ctx,
		`UPDATE savings_goals SET current_amount = ?, updated_at = ? WHERE id = ?`,
		ledger.FormatMoney(current), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update goal: %w", err)
	}
	return requireRow(res, "goal", string(id))
}

func (ts *txStore) DeleteGoal(ctx context.Context, id ledger.GoalID) error {
	res, err := ts.q.ExecContext(ctx, `DELETE FROM savings_goals WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete goal: %w", err)
	}
	return requireRow(res, "goal", string(id))
}

func (ts *txStore) CreateChore(ctx context.Context, c ledger.Chore) error {
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO chores (`+choreColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ParentID, c.Title, c.Description, c.Points, nullID(c.AssignedChildID),
		c.Status, formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return writeError(err, "chore "+string(c.ID)+" already exists", "failed to create chore")
	}
	return nil
}

func (ts *txStore) LockChore(ctx context.Context, id ledger.ChoreID) (*ledger.Chore, error) {
	return ts.GetChore(ctx, id)
}

func (ts *txStore) UpdateChore(ctx context.Context, c ledger.Chore) error {
	res, err := ts.q.ExecContext(ctx, `
		UPDATE chores
		SET title = ?, description = ?, points = ?, assigned_child_id = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		c.Title, c.Description, c.Points, nullID(c.AssignedChildID), c.Status, formatTime(c.UpdatedAt), c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update chore: %w", err)
	}
	return requireRow(res, "chore", string(c.ID))
}

func (ts *txStore) DeleteChore(ctx context.Context, id ledger.ChoreID) error {
	res, err := ts.q.ExecContext(ctx, `DELETE FROM chores WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete chore: %w", err)
	}
	return requireRow(res, "chore", string(id))
}

var (
	_ ledger.Store = (*Store)(nil)
	_ ledger.Tx    = (*txStore)(nil)
)

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullID[T ~string](id *T) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return nullString(string(*id))
}

func limitColumns(l *ledger.SpendingLimit) (sql.NullString, sql.NullString) {
	if l == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return nullString(ledger.FormatMoney(l.Amount)), nullString(string(l.Frequency))
}

func allowanceColumns(a *ledger.Allowance) (sql.NullString, sql.NullString) {
	if a == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return nullString(ledger.FormatMoney(a.Amount)), nullString(string(a.Frequency))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt amount %q: %w", s, err)
	}
	return d, nil
}

func requireRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.NotFound(resource, id)
	}
	return nil
}

// writeError maps unique-constraint failures to *ledger.ConflictError and
// wraps everything else.
func writeError(err error, conflictMsg, action string) error {
	if isUniqueConstraintError(err) {
		return &ledger.ConflictError{Message: conflictMsg}
	}
	return fmt.Errorf("%s: %w", action, err)
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
