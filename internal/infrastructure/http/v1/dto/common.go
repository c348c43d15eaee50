// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"poscore/internal/core/revision"
	"poscore/internal/core/types"
	"poscore/internal/domain/returns"
	"poscore/internal/domain/stock"
)

// IDResponse identifies a written document.
type IDResponse struct {
	ID       string            `json:"id"`
	Revision revision.Revision `json:"revision,omitempty"`
}

// DeletedResponse is returned by DELETE.
type DeletedResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// SuccessResponse for operations without data.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse documents the error envelope rendered by middleware.ErrorHandler.
type ErrorResponse struct {
	Message string         `json:"message"`
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// AdjustStockRequest applies a signed delta to an item's stock.
type AdjustStockRequest struct {
	Type   stock.Kind   `json:"type" binding:"required"`
	Amount types.Amount `json:"amount"`
}

// Delta converts the request into a stock delta.
func (r AdjustStockRequest) Delta() stock.Delta {
	return stock.Delta{Kind: r.Type, Amount: r.Amount}
}

// AmendReturnRequest changes the mutable fields of a return.
type AmendReturnRequest struct {
	Reason   *string           `json:"reason"`
	Status   *returns.Status   `json:"status"`
	Revision revision.Revision `json:"revision"`
}
