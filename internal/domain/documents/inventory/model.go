// Package inventory provides stock count documents.
package inventory

import (
	"context"

	"poscore/internal/core/apperror"
	"poscore/internal/core/entity"
	"poscore/internal/core/types"
)

// Check records a physical count of one item.
type Check struct {
	entity.BaseDocument

	ItemID       string       `json:"itemId"`
	SystemStock  types.Amount `json:"systemStock"`
	CountedStock types.Amount `json:"countedStock"`
	Discrepancy  types.Amount `json:"discrepancy"`
	Note         string       `json:"note,omitempty"`

	// Applied is set when the count was written to the item's stock.
	Applied bool `json:"applied"`
}

// New returns an empty check.
func New() *Check {
	return &Check{}
}

// Validate implements entity.Validatable interface.
func (c *Check) Validate(ctx context.Context) error {
	if err := entity.Required("itemId", c.ItemID); err != nil {
		return err
	}
	if c.CountedStock.IsNegative() {
		return apperror.NewValidation("countedStock cannot be negative").
			WithDetail("field", "countedStock")
	}
	return nil
}
