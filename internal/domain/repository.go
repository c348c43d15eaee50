// Package domain provides core business logic interfaces and types.
package domain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"poscore/internal/core/apperror"
	"poscore/internal/core/entity"
	"poscore/internal/core/revision"
)

// DateLayout is the query format of date filters.
const DateLayout = "2006-01-02"

// --- Filter ---

// ListFilter narrows list operations. The store has no secondary indexes, so
// filters are applied to every live document of the collection.
type ListFilter struct {
	BranchID     string
	DepartmentID string

	// From and To bound the document date; To is exclusive.
	From *time.Time
	To   *time.Time
}

// DepartmentScoped is implemented by documents that reference a department.
type DepartmentScoped interface {
	DepartmentRef() string
}

// Dated is implemented by documents whose business date differs from createdAt.
type Dated interface {
	BusinessDate() time.Time
}

// NewDateRange builds From/To from a single date or a start/end pair (both inclusive days).
func NewDateRange(date, start, end string) (from, to *time.Time, err error) {
	parse := func(field, v string) (*time.Time, error) {
		if v == "" {
			return nil, nil
		}
		t, err := time.Parse(DateLayout, v)
		if err != nil {
			return nil, apperror.NewValidation(fmt.Sprintf("%s must be formatted as YYYY-MM-DD", field)).
				WithDetail("field", field)
		}
		return &t, nil
	}
	nextDay := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		n := t.AddDate(0, 0, 1)
		return &n
	}

	if date != "" {
		day, err := parse("date", date)
		if err != nil {
			return nil, nil, err
		}
		return day, nextDay(day), nil
	}

	if from, err = parse("startDate", start); err != nil {
		return nil, nil, err
	}
	endDay, err := parse("endDate", end)
	if err != nil {
		return nil, nil, err
	}
	if from != nil && endDay != nil && endDay.Before(*from) {
		return nil, nil, apperror.NewValidation("endDate must not precede startDate").
			WithDetail("field", "endDate")
	}
	return from, nextDay(endDay), nil
}

// Matches reports whether doc passes the filter.
func (f ListFilter) Matches(doc entity.Document) bool {
	base := doc.Base()
	if f.BranchID != "" && base.BranchID != f.BranchID {
		return false
	}
	if f.DepartmentID != "" {
		scoped, ok := doc.(DepartmentScoped)
		if !ok || scoped.DepartmentRef() != f.DepartmentID {
			return false
		}
	}
	if f.From != nil || f.To != nil {
		at := base.CreatedAt
		if dated, ok := doc.(Dated); ok && !dated.BusinessDate().IsZero() {
			at = dated.BusinessDate()
		}
		if f.From != nil && at.Before(*f.From) {
			return false
		}
		if f.To != nil && !at.Before(*f.To) {
			return false
		}
	}
	return true
}

// CacheKey identifies the filter in the projection cache.
func (f ListFilter) CacheKey() string {
	var b strings.Builder
	fmt.Fprintf(&b, "branch=%s;department=%s", f.BranchID, f.DepartmentID)
	if f.From != nil {
		fmt.Fprintf(&b, ";from=%s", f.From.Format(DateLayout))
	}
	if f.To != nil {
		fmt.Fprintf(&b, ";to=%s", f.To.Format(DateLayout))
	}
	return b.String()
}

// SortByCreated orders documents oldest first, then by id.
func SortByCreated[T entity.Document](docs []T) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i].Base(), docs[j].Base()
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// --- Repository Interfaces ---

// Repository defines revisioned CRUD over one collection.
// Create and Update assign the new revision and timestamps to doc.
type Repository[T entity.Document] interface {
	// Create inserts a new document; an existing live id fails with Conflict.
	Create(ctx context.Context, doc T) error

	// Get retrieves a live document by id.
	Get(ctx context.Context, id string) (T, error)

	// Update writes doc over the revision it carries.
	Update(ctx context.Context, doc T) error

	// Delete writes a tombstone over rev.
	Delete(ctx context.Context, id string, rev revision.Revision) error

	// List returns live documents passing filter, oldest first.
	List(ctx context.Context, filter ListFilter) ([]T, error)
}

// --- Hooks ---

// HookEvent represents lifecycle event type.
type HookEvent string

const (
	BeforeCreate HookEvent = "before_create"
	AfterCreate  HookEvent = "after_create"
	BeforeUpdate HookEvent = "before_update"
	AfterUpdate  HookEvent = "after_update"
	BeforeDelete HookEvent = "before_delete"
	AfterDelete  HookEvent = "after_delete"
)

// Hook is a function that runs at specific lifecycle points.
type Hook[T any] func(ctx context.Context, entity T) error

// UpdateGuard inspects an update before it is written.
type UpdateGuard[T any] func(ctx context.Context, current, next T) error

// HookRegistry stores lifecycle hooks for an entity type.
type HookRegistry[T any] struct {
	hooks  map[HookEvent][]Hook[T]
	guards []UpdateGuard[T]
}

// NewHookRegistry creates an empty hook registry.
func NewHookRegistry[T any]() *HookRegistry[T] {
	return &HookRegistry[T]{
		hooks: make(map[HookEvent][]Hook[T]),
	}
}

// On registers a hook for the specified event.
func (r *HookRegistry[T]) On(event HookEvent, hook Hook[T]) {
	r.hooks[event] = append(r.hooks[event], hook)
}

// Run executes all hooks for the specified event.
func (r *HookRegistry[T]) Run(ctx context.Context, event HookEvent, entity T) error {
	for _, hook := range r.hooks[event] {
		if err := hook(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// Guard registers an update guard.
func (r *HookRegistry[T]) Guard(g UpdateGuard[T]) {
	r.guards = append(r.guards, g)
}

// RunGuards executes all update guards.
func (r *HookRegistry[T]) RunGuards(ctx context.Context, current, next T) error {
	for _, g := range r.guards {
		if err := g(ctx, current, next); err != nil {
			return err
		}
	}
	return nil
}

// OnBeforeCreate registers a hook to run before create.
func (r *HookRegistry[T]) OnBeforeCreate(hook Hook[T]) {
	r.On(BeforeCreate, hook)
}

// OnAfterCreate registers a hook to run after create.
func (r *HookRegistry[T]) OnAfterCreate(hook Hook[T]) {
	r.On(AfterCreate, hook)
}

// OnAfterUpdate registers a hook to run after update.
func (r *HookRegistry[T]) OnAfterUpdate(hook Hook[T]) {
	r.On(AfterUpdate, hook)
}

// OnBeforeDelete registers a hook to run before delete.
func (r *HookRegistry[T]) OnBeforeDelete(hook Hook[T]) {
	r.On(BeforeDelete, hook)
}

// OnAfterDelete registers a hook to run after delete.
func (r *HookRegistry[T]) OnAfterDelete(hook Hook[T]) {
	r.On(AfterDelete, hook)
}
