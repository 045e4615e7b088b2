package ledger

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Input helpers shared by the service packages. Each returns a
// *ValidationError naming field.

const MaxNameLen = 100

// RequireText trims s and checks it is non-empty and at most max runes.
func RequireText(field, s string, max int) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", Invalid(field, "is required")
	}
	if utf8.RuneCountInString(s) > max {
		return "", Invalid(field, "is too long")
	}
	return s, nil
}

// RequirePositive rounds d to money precision and rejects anything <= 0.
// Amounts that round to zero (0.004) are rejected too.
func RequirePositive(field string, d decimal.Decimal) (decimal.Decimal, error) {
	d = RoundMoney(d)
	if !d.IsPositive() {
		return decimal.Zero, Invalid(field, "must be positive")
	}
	return d, nil
}

// ValidateSpendingLimit accepts nil (disabled) and any limit >= 0.
func ValidateSpendingLimit(l *SpendingLimit) (*SpendingLimit, error) {
	if l == nil {
		return nil, nil
	}
	if !l.Frequency.Valid() {
		return nil, Invalid("spending_limit_frequency", "must be Weekly or Monthly")
	}
	amt := RoundMoney(l.Amount)
	if amt.IsNegative() {
		return nil, Invalid("spending_limit", "must not be negative")
	}
	return &SpendingLimit{Amount: amt, Frequency: l.Frequency}, nil
}

// ValidateAllowance accepts nil (no allowance) and any positive amount.
func ValidateAllowance(a *Allowance) (*Allowance, error) {
	if a == nil {
		return nil, nil
	}
	if !a.Frequency.Valid() {
		return nil, Invalid("allowance_frequency", "must be Weekly or Monthly")
	}
	amt, err := RequirePositive("allowance", a.Amount)
	if err != nil {
		return nil, err
	}
	return &Allowance{Amount: amt, Frequency: a.Frequency}, nil
}
