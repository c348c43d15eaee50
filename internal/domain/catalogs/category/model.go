// Package category provides the Category catalog.
package category

import (
	"context"

	"poscore/internal/core/entity"
)

// Category groups items within a department.
type Category struct {
	entity.BaseDocument

	DepartmentID string `json:"departmentId"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
}

// New returns an empty category.
func New() *Category {
	return &Category{}
}

// DepartmentRef implements domain.DepartmentScoped.
func (c *Category) DepartmentRef() string {
	return c.DepartmentID
}

// Validate implements entity.Validatable interface.
func (c *Category) Validate(ctx context.Context) error {
	if err := entity.Required("name", c.Name); err != nil {
		return err
	}
	return entity.Required("departmentId", c.DepartmentID)
}
