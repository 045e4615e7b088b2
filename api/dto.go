/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the API. Money always leaves the server as a string with
  two decimals ("12.50"); incoming amounts may be JSON numbers or strings.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Wrappers around several DTOs

VALIDATION:
  DTOs are pure data carriers. Required fields are checked in handlers;
  business rules in the service packages.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/family-ledger/chores"
	"github.com/warp/family-ledger/goals"
	"github.com/warp/family-ledger/ledger"
)

const timeFormat = time.RFC3339Nano

// =============================================================================
// CHILDREN
// =============================================================================

type ChildDTO struct {
	ID                     string  `json:"id"`
	ParentID               string  `json:"parent_id"`
	Name                   string  `json:"name"`
	Balance                string  `json:"balance"`
	SpendingLimit          *string `json:"spending_limit"`
	SpendingLimitFrequency *string `json:"spending_limit_frequency"`
	AllowanceAmount        *string `json:"allowance_amount"`
	AllowanceFrequency     *string `json:"allowance_frequency"`
	CreatedAt              string  `json:"created_at"`
	UpdatedAt              string  `json:"updated_at"`
}

type CreateChildRequest struct {
	Name                   string           `json:"name"`
	InitialBalance         *decimal.Decimal `json:"initial_balance"`
	SpendingLimit          *decimal.Decimal `json:"spending_limit"`
	SpendingLimitFrequency string           `json:"spending_limit_frequency"`
	AllowanceAmount        *decimal.Decimal `json:"allowance_amount"`
	AllowanceFrequency     string           `json:"allowance_frequency"`
}

type UpdateChildRequest struct {
	Name                   *string          `json:"name"`
	SpendingLimit          *decimal.Decimal `json:"spending_limit"`
	SpendingLimitFrequency string           `json:"spending_limit_frequency"`
	ClearSpendingLimit     bool             `json:"clear_spending_limit"`
	AllowanceAmount        *decimal.Decimal `json:"allowance_amount"`
	AllowanceFrequency     string           `json:"allowance_frequency"`
	ClearAllowance         bool             `json:"clear_allowance"`
}

type DashboardDTO struct {
	Balance       string `json:"balance"`
	PendingChores int    `json:"pending_chores"`
	ActiveGoals   int    `json:"active_goals"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionDTO struct {
	ID             string  `json:"id"`
	ChildID        string  `json:"child_id"`
	Type           string  `json:"type"`
	Description    string  `json:"description"`
	Amount         string  `json:"amount"`
	ChoreID        *string `json:"chore_id,omitempty"`
	GoalID         *string `json:"goal_id,omitempty"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
	ActorRole      string  `json:"actor_role"`
	CreatedAt      string  `json:"created_at"`
}

// AmountRequest is the body of every single-amount mutation: adjustments,
// spending and goal contributions.
type AmountRequest struct {
	Amount         *decimal.Decimal `json:"amount"`
	Description    string           `json:"description"`
	IdempotencyKey string           `json:"idempotency_key"`
}

type AllowanceRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
}

type MutationResponse struct {
	Transaction TransactionDTO `json:"transaction"`
	Balance     string         `json:"balance"`
	Replayed    bool           `json:"replayed"`
}

// =============================================================================
// SAVINGS GOALS
// =============================================================================

type GoalDTO struct {
	ID            string `json:"id"`
	ChildID       string `json:"child_id"`
	Name          string `json:"name"`
	TargetAmount  string `json:"target_amount"`
	CurrentAmount string `json:"current_amount"`
	Remaining     string `json:"remaining"`
	Complete      bool   `json:"complete"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type CreateGoalRequest struct {
	Name         string           `json:"name"`
	TargetAmount *decimal.Decimal `json:"target_amount"`
}

type GoalOutcomeResponse struct {
	Goal         GoalDTO          `json:"goal"`
	Deleted      bool             `json:"deleted"`
	Balance      string           `json:"balance"`
	Transactions []TransactionDTO `json:"transactions"`
	Replayed     bool             `json:"replayed"`
}

// =============================================================================
// CHORES
// =============================================================================

type ChoreDTO struct {
	ID              string  `json:"id"`
	ParentID        string  `json:"parent_id"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Points          int     `json:"points"`
	AssignedChildID *string `json:"assigned_child_id"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

type CreateChoreRequest struct {
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Points          *int    `json:"points"`
	AssignedChildID *string `json:"assigned_child_id"`
}

type UpdateChoreRequest struct {
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	Points          *int    `json:"points"`
	AssignedChildID *string `json:"assigned_child_id"`
	Unassign        bool    `json:"unassign"`
}

type ApprovalResponse struct {
	Chore   ChoreDTO       `json:"chore"`
	Reward  TransactionDTO `json:"reward"`
	Balance string         `json:"balance"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response. Code is the error
// kind ("insufficient_funds", "policy_violation", ...).
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toChildDTO(c ledger.Child) ChildDTO {
	dto := ChildDTO{
		ID:        string(c.ID),
		ParentID:  string(c.ParentID),
		Name:      c.Name,
		Balance:   ledger.FormatMoney(c.Balance),
		CreatedAt: c.CreatedAt.Format(timeFormat),
		UpdatedAt: c.UpdatedAt.Format(timeFormat),
	}
	if l := c.SpendingLimit; l != nil {
		dto.SpendingLimit = strPtr(ledger.FormatMoney(l.Amount))
		dto.SpendingLimitFrequency = strPtr(string(l.Frequency))
	}
	if a := c.Allowance; a != nil {
		dto.AllowanceAmount = strPtr(ledger.FormatMoney(a.Amount))
		dto.AllowanceFrequency = strPtr(string(a.Frequency))
	}
	return dto
}

func toTransactionDTO(t ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:             string(t.ID),
		ChildID:        string(t.ChildID),
		Type:           string(t.Type),
		Description:    t.Description,
		Amount:         ledger.FormatMoney(t.Amount),
		IdempotencyKey: t.IdempotencyKey,
		ActorRole:      string(t.ActorRole),
		CreatedAt:      t.CreatedAt.Format(timeFormat),
	}
	if t.ChoreID != nil {
		dto.ChoreID = strPtr(string(*t.ChoreID))
	}
	if t.GoalID != nil {
		dto.GoalID = strPtr(string(*t.GoalID))
	}
	return dto
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, len(txs))
	for i, t := range txs {
		out[i] = toTransactionDTO(t)
	}
	return out
}

func toMutationResponse(r ledger.Result) MutationResponse {
	return MutationResponse{
		Transaction: toTransactionDTO(r.Transaction),
		Balance:     ledger.FormatMoney(r.Balance),
		Replayed:    r.Replayed,
	}
}

func toGoalDTO(g ledger.Goal) GoalDTO {
	return GoalDTO{
		ID:            string(g.ID),
		ChildID:       string(g.ChildID),
		Name:          g.Name,
		TargetAmount:  ledger.FormatMoney(g.TargetAmount),
		CurrentAmount: ledger.FormatMoney(g.CurrentAmount),
		Remaining:     ledger.FormatMoney(g.Remaining()),
		Complete:      g.Complete(),
		CreatedAt:     g.CreatedAt.Format(timeFormat),
		UpdatedAt:     g.UpdatedAt.Format(timeFormat),
	}
}

func toGoalOutcome(o *goals.Outcome) GoalOutcomeResponse {
	return GoalOutcomeResponse{
		Goal:         toGoalDTO(o.Goal),
		Deleted:      o.Deleted,
		Balance:      ledger.FormatMoney(o.Balance),
		Transactions: toTransactionDTOs(o.Transactions),
		Replayed:     o.Replayed,
	}
}

func toChoreDTO(c ledger.Chore) ChoreDTO {
	dto := ChoreDTO{
		ID:          string(c.ID),
		ParentID:    string(c.ParentID),
		Title:       c.Title,
		Description: c.Description,
		Points:      c.Points,
		Status:      string(c.Status),
		CreatedAt:   c.CreatedAt.Format(timeFormat),
		UpdatedAt:   c.UpdatedAt.Format(timeFormat),
	}
	if c.AssignedChildID != nil {
		dto.AssignedChildID = strPtr(string(*c.AssignedChildID))
	}
	return dto
}

func toApprovalResponse(a *chores.Approval) ApprovalResponse {
	return ApprovalResponse{
		Chore:   toChoreDTO(a.Chore),
		Reward:  toTransactionDTO(a.Reward),
		Balance: ledger.FormatMoney(a.Balance),
	}
}

func strPtr(s string) *string {
	return &s
}
