// Package sales records sale transactions against item stock.
package sales

import (
	"context"
	"fmt"

	"poscore/internal/core/apperror"
	"poscore/internal/core/entity"
	"poscore/internal/core/types"
)

// Line is a sold item frozen at sale time.
type Line struct {
	ItemID       string       `json:"itemId"`
	Name         string       `json:"name"`
	SellingPrice types.Money  `json:"sellingPrice"`
	QuantitySold types.Amount `json:"quantitySold"`
}

// Total returns the line amount.
func (l Line) Total() types.Money {
	return types.LineTotal(l.SellingPrice, l.QuantitySold)
}

// Transaction is a completed sale. It is created by the Processor and
// afterwards only reduced by returns.
type Transaction struct {
	entity.BaseDocument

	SalesID       string      `json:"salesId"`
	PaymentMethod string      `json:"paymentMethod,omitempty"`
	Total         types.Money `json:"total"`
	Items         []Line      `json:"items"`
}

// New returns an empty transaction.
func New() *Transaction {
	return &Transaction{}
}

// LinesTotal sums the line amounts.
func (t *Transaction) LinesTotal() types.Money {
	total := types.Zero()
	for _, l := range t.Items {
		total = total.Add(l.Total())
	}
	return total
}

// Sold returns the quantity of itemID still recorded on the transaction.
func (t *Transaction) Sold(itemID string) types.Amount {
	sold := types.Zero()
	for _, l := range t.Items {
		if l.ItemID == itemID {
			sold = sold.Add(l.QuantitySold)
		}
	}
	return sold
}

// Validate implements entity.Validatable interface.
func (t *Transaction) Validate(ctx context.Context) error {
	if len(t.Items) == 0 {
		return apperror.NewValidation("items must not be empty").WithDetail("field", "items")
	}
	for i, l := range t.Items {
		if l.ItemID == "" {
			return apperror.NewValidation("itemId is required").
				WithDetail("field", fmt.Sprintf("items[%d].itemId", i))
		}
		if !l.QuantitySold.IsPositive() {
			return apperror.NewValidation("quantitySold must be positive").
				WithDetail("field", fmt.Sprintf("items[%d].quantitySold", i))
		}
		if l.SellingPrice.IsNegative() {
			return apperror.NewValidation("sellingPrice cannot be negative").
				WithDetail("field", fmt.Sprintf("items[%d].sellingPrice", i))
		}
	}
	if t.Total.IsNegative() {
		return apperror.NewValidation("total cannot be negative").WithDetail("field", "total")
	}
	return nil
}
