// Package returns processes item returns against recorded sales.
package returns

import (
	"context"
	"fmt"

	"poscore/internal/core/apperror"
	"poscore/internal/core/entity"
	"poscore/internal/core/types"
)

// Status of a return.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusReviewed  Status = "reviewed"
	StatusDisputed  Status = "disputed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCompleted, StatusReviewed, StatusDisputed:
		return true
	}
	return false
}

// Line is one returned item.
type Line struct {
	ItemID         string       `json:"itemId"`
	Name           string       `json:"name"`
	ReturnQuantity types.Amount `json:"returnQuantity"`
}

// Return records items brought back against a transaction.
type Return struct {
	entity.BaseDocument

	TransactionID string      `json:"transactionId"`
	SalesID       string      `json:"salesId,omitempty"`
	Items         []Line      `json:"items"`
	Total         types.Money `json:"total"`
	Reason        string      `json:"reason,omitempty"`
	Status        Status      `json:"status"`
}

// New returns an empty return.
func New() *Return {
	return &Return{}
}

// Quantities aggregates return quantities per item, in first-seen order.
func (r *Return) Quantities() ([]string, map[string]types.Amount) {
	order := make([]string, 0, len(r.Items))
	qty := make(map[string]types.Amount, len(r.Items))
	for _, l := range r.Items {
		if _, seen := qty[l.ItemID]; !seen {
			order = append(order, l.ItemID)
			qty[l.ItemID] = types.Zero()
		}
		qty[l.ItemID] = qty[l.ItemID].Add(l.ReturnQuantity)
	}
	return order, qty
}

// Validate implements entity.Validatable interface.
func (r *Return) Validate(ctx context.Context) error {
	if err := entity.Required("transactionId", r.TransactionID); err != nil {
		return err
	}
	if len(r.Items) == 0 {
		return apperror.NewValidation("items must not be empty").WithDetail("field", "items")
	}
	for i, l := range r.Items {
		if l.ItemID == "" {
			return apperror.NewValidation("itemId is required").
				WithDetail("field", fmt.Sprintf("items[%d].itemId", i))
		}
		if !l.ReturnQuantity.IsPositive() {
			return apperror.NewValidation("returnQuantity must be positive").
				WithDetail("field", fmt.Sprintf("items[%d].returnQuantity", i))
		}
	}
	if r.Status != "" && !r.Status.Valid() {
		return apperror.NewValidation("unknown status").
			WithDetail("field", "status").
			WithDetail("value", string(r.Status))
	}
	return nil
}
