// Package entity defines the fields shared by every stored document.
package entity

import (
	"context"
	"strings"
	"time"

	"poscore/internal/core/apperror"
	"poscore/internal/core/revision"
)

// Validatable is implemented by entities that support self-validation.
// Validation checks internal invariants (without store access).
type Validatable interface {
	// Validate checks entity invariants.
	// Returns nil if valid, AppError with details otherwise.
	Validate(ctx context.Context) error
}

// Document is a validatable entity with the shared base fields.
type Document interface {
	Validatable
	Base() *BaseDocument
}

// BaseDocument contains common fields for all documents.
// Revision and the timestamps are assigned by the store on every write.
type BaseDocument struct {
	ID       string            `json:"id"`
	Revision revision.Revision `json:"revision,omitempty"`

	// BranchID is the owning branch. Empty for branches themselves.
	BranchID string `json:"branchId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Base returns b. It lets embedding types satisfy Document.
func (b *BaseDocument) Base() *BaseDocument {
	return b
}

// Owner returns a fresh base owned by the same branch.
func (b BaseDocument) Owner() BaseDocument {
	return BaseDocument{BranchID: b.BranchID}
}

// OwnedBy reports whether the document belongs to branchID.
// An empty branchID matches any owner.
func (b *BaseDocument) OwnedBy(branchID string) bool {
	return branchID == "" || b.BranchID == branchID
}

// ValidateBranch checks that the document names its branch.
func (b *BaseDocument) ValidateBranch() error {
	if strings.TrimSpace(b.BranchID) == "" {
		return apperror.NewValidation("branchId is required").
			WithDetail("field", "branchId")
	}
	return nil
}

// Required returns a validation error when value is blank.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return apperror.NewValidation(field+" is required").
			WithDetail("field", field)
	}
	return nil
}
