// Package expense provides branch expense records.
package expense

import (
	"context"
	"time"

	"poscore/internal/core/apperror"
	"poscore/internal/core/entity"
	"poscore/internal/core/types"
)

// Expense is money spent by a branch.
type Expense struct {
	entity.BaseDocument

	Date        types.Date  `json:"date"`
	Category    string      `json:"category"`
	Description string      `json:"description,omitempty"`
	Amount      types.Money `json:"amount"`
}

// New returns an empty expense.
func New() *Expense {
	return &Expense{}
}

// BusinessDate implements domain.Dated.
func (e *Expense) BusinessDate() time.Time {
	return e.Date.Time
}

// Validate implements entity.Validatable interface.
func (e *Expense) Validate(ctx context.Context) error {
	if err := entity.Required("category", e.Category); err != nil {
		return err
	}
	if e.Date.IsZero() {
		return apperror.NewValidation("date is required").WithDetail("field", "date")
	}
	if !e.Amount.IsPositive() {
		return apperror.NewValidation("amount must be positive").WithDetail("field", "amount")
	}
	return nil
}
