// Package department provides the Department catalog.
package department

import (
	"context"

	"poscore/internal/core/entity"
)

// Department groups categories within a branch.
type Department struct {
	entity.BaseDocument

	Name string `json:"name"`
}

// New returns an empty department.
func New() *Department {
	return &Department{}
}

// Validate implements entity.Validatable interface.
func (d *Department) Validate(ctx context.Context) error {
	return entity.Required("name", d.Name)
}
