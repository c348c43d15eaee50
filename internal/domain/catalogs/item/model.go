// Package item provides the Item catalog: sellable goods with managed stock.
package item

import (
	"context"
	"errors"

	"poscore/internal/core/apperror"
	"poscore/internal/core/entity"
	"poscore/internal/core/types"
	"poscore/internal/domain/stock"
)

// Ref is a denormalized reference to a department or category.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Item is a sellable good.
type Item struct {
	entity.BaseDocument

	Department  Ref    `json:"department"`
	Category    Ref    `json:"category"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	CostPrice     types.Money  `json:"costPrice"`
	SellingPrice  types.Money  `json:"sellingPrice"`
	DiscountPrice *types.Money `json:"discountPrice,omitempty"`

	StockManagement stock.Management `json:"stockManagement"`

	// InStock is derived from StockManagement on every write.
	InStock bool `json:"inStock"`
}

// New returns an empty item.
func New() *Item {
	return &Item{}
}

// DepartmentRef implements domain.DepartmentScoped.
func (i *Item) DepartmentRef() string {
	return i.Department.ID
}

// StockKind returns the item's stock kind.
func (i *Item) StockKind() stock.Kind {
	return stock.KindOf(i.StockManagement.Stock)
}

// Refresh recomputes derived fields.
func (i *Item) Refresh() {
	i.InStock = i.StockManagement.Stock != nil && i.StockManagement.InStock()
}

// ApplyDelta adjusts the item's stock and refreshes inStock.
func (i *Item) ApplyDelta(d stock.Delta) error {
	if i.StockManagement.Stock == nil {
		return apperror.NewValidation("item has no stock management").
			WithDetail("itemId", i.ID)
	}
	next, err := stock.Apply(i.StockManagement.Stock, d)
	if errors.Is(err, stock.ErrTypeMismatch) {
		return apperror.NewStockTypeMismatch(i.ID, string(i.StockKind()), string(d.Kind)).WithCause(err)
	}
	if err != nil {
		return err
	}
	i.StockManagement.Stock = next
	i.Refresh()
	return nil
}

// Validate implements entity.Validatable interface.
func (i *Item) Validate(ctx context.Context) error {
	if err := entity.Required("name", i.Name); err != nil {
		return err
	}
	if i.StockManagement.Stock == nil {
		return apperror.NewValidation("stockManagement is required").
			WithDetail("field", "stockManagement")
	}
	if i.SellingPrice.IsNegative() {
		return apperror.NewValidation("sellingPrice cannot be negative").
			WithDetail("field", "sellingPrice")
	}
	if i.CostPrice.IsNegative() {
		return apperror.NewValidation("costPrice cannot be negative").
			WithDetail("field", "costPrice")
	}
	if i.DiscountPrice != nil && i.DiscountPrice.IsNegative() {
		return apperror.NewValidation("discountPrice cannot be negative").
			WithDetail("field", "discountPrice")
	}
	return nil
}
