// Package branch provides the Branch catalog. Branches own every other document.
package branch

import (
	"context"

	"poscore/internal/core/entity"
)

// Branch is a store location.
type Branch struct {
	entity.BaseDocument

	Name      string `json:"name"`
	Location  string `json:"location,omitempty"`
	Phone     string `json:"phone,omitempty"`
	CreatedBy string `json:"createdBy,omitempty"`
}

// New returns an empty branch.
func New() *Branch {
	return &Branch{}
}

// Validate implements entity.Validatable interface.
func (b *Branch) Validate(ctx context.Context) error {
	return entity.Required("name", b.Name)
}
