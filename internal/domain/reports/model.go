// Package reports stores generated branch reports. Reports are opaque to the
// core: the payload is kept as submitted.
package reports

import (
	"context"
	"encoding/json"
	"time"

	"poscore/internal/core/apperror"
	"poscore/internal/core/entity"
	"poscore/internal/core/types"
)

// Report is a stored report.
type Report struct {
	entity.BaseDocument

	Title     string          `json:"title"`
	Kind      string          `json:"kind,omitempty"`
	StartDate types.Date      `json:"startDate"`
	EndDate   types.Date      `json:"endDate"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// New returns an empty report.
func New() *Report {
	return &Report{}
}

// BusinessDate implements domain.Dated.
func (r *Report) BusinessDate() time.Time {
	return r.StartDate.Time
}

// Validate implements entity.Validatable interface.
func (r *Report) Validate(ctx context.Context) error {
	if err := entity.Required("title", r.Title); err != nil {
		return err
	}
	if !r.StartDate.IsZero() && !r.EndDate.IsZero() && r.EndDate.Before(r.StartDate.Time) {
		return apperror.NewValidation("endDate must not precede startDate").
			WithDetail("field", "endDate")
	}
	return nil
}
