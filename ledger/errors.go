/*
errors.go - Error taxonomy for the mutation engine

PURPOSE:
  All error types in one place. Callers branch on errors.Is against the
  sentinels or on KindOf(err); the structured types carry the details a
  client needs (remaining spending allowance, shortfall, offending field).

ERROR KINDS:
  validation          Malformed input, rejected before any store access
  not_found           Account/goal/chore absent or not owned by the actor
  insufficient_funds  Debit exceeds the locked balance
  policy_violation    Spending limit, goal complete, chore in wrong state
  conflict            Duplicate name or idempotency key clash
  forbidden           Role may not perform the operation
  transient           Anything else (store, lock timeout, connection loss)

ROLLBACK:
  Every error returned from inside Store.WithTx rolls the store
  transaction back. None of these errors is ever observed together with a
  partial write.
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPolicyViolation   = errors.New("policy violation")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
)

// =============================================================================
// KINDS
// =============================================================================

type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindPolicyViolation   Kind = "policy_violation"
	KindConflict          Kind = "conflict"
	KindForbidden         Kind = "forbidden"
	KindTransient         Kind = "transient"
)

// KindOf classifies err. Unknown errors are transient.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrPolicyViolation):
		return KindPolicyViolation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	default:
		return KindTransient
	}
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// NotFoundError covers both "missing" and "not yours"; callers cannot tell
// them apart.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

type InsufficientFundsError struct {
	ChildID   ChildID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s",
		FormatMoney(e.Available), FormatMoney(e.Requested))
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// Shortfall is how much more the balance would need.
func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// Policy rule names reported in PolicyViolationError.Rule.
const (
	RuleSpendingLimit   = "spending_limit"
	RuleGoalComplete    = "goal_complete"
	RuleChoreState      = "chore_state"
	RuleChoreUnassigned = "chore_unassigned"
	RuleNoAllowance     = "allowance_not_configured"
	RuleChoreLocked     = "chore_approved"
)

type PolicyViolationError struct {
	Rule    string
	Message string
}

func (e *PolicyViolationError) Error() string { return e.Message }

func (e *PolicyViolationError) Unwrap() error { return ErrPolicyViolation }

func Violation(rule, format string, args ...any) error {
	return &PolicyViolationError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// SpendingLimitError is the spending-limit flavour of a policy violation.
// Remaining is what the child may still spend in the current window.
type SpendingLimitError struct {
	Frequency Frequency
	Limit     decimal.Decimal
	Spent     decimal.Decimal
	Remaining decimal.Decimal
}

func (e *SpendingLimitError) Error() string {
	return fmt.Sprintf("spending limit exceeded: remaining: %s this %s period",
		FormatMoney(e.Remaining), e.Frequency)
}

func (e *SpendingLimitError) Unwrap() error { return ErrPolicyViolation }

type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Unwrap() error { return ErrConflict }

type ForbiddenError struct {
	Role      Role
	Operation string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s may not %s", e.Role, e.Operation)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// RequireRole returns a ForbiddenError unless the actor has the role.
func RequireRole(a Actor, role Role, operation string) error {
	if a.Role != role {
		return &ForbiddenError{Role: a.Role, Operation: operation}
	}
	return nil
}
