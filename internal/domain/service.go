// Package domain provides core business logic interfaces and types.
package domain

import (
	"context"

	"poscore/internal/core/apperror"
	"poscore/internal/core/entity"
	"poscore/internal/core/id"
	"poscore/internal/core/revision"
	"poscore/pkg/logger"
)

// DocumentService provides CRUD business logic for branch-scoped documents.
type DocumentService[T entity.Document] struct {
	repo  Repository[T]
	hooks *HookRegistry[T]

	// entityName for error messages
	entityName string

	// branchScoped documents must carry a branchId and lists must be filtered by it.
	branchScoped bool
}

// DocumentServiceConfig configures the document service.
type DocumentServiceConfig[T entity.Document] struct {
	Repo         Repository[T]
	EntityName   string
	BranchScoped bool
}

// NewDocumentService creates a new document service.
func NewDocumentService[T entity.Document](cfg DocumentServiceConfig[T]) *DocumentService[T] {
	return &DocumentService[T]{
		repo:         cfg.Repo,
		hooks:        NewHookRegistry[T](),
		entityName:   cfg.EntityName,
		branchScoped: cfg.BranchScoped,
	}
}

// Hooks returns the hook registry for external registration.
func (s *DocumentService[T]) Hooks() *HookRegistry[T] {
	return s.hooks
}

// EntityName returns the name used in errors.
func (s *DocumentService[T]) EntityName() string {
	return s.entityName
}

func (s *DocumentService[T]) normalizeValidationErr(err error) error {
	if err == nil {
		return nil
	}
	// If entity already returns structured AppError, keep it.
	if apperror.IsAppError(err) {
		return err
	}
	return apperror.NewValidation(err.Error())
}

func (s *DocumentService[T]) normalizeStoreErr(err error, docID string) error {
	if err == nil {
		return nil
	}
	if apperror.IsAppError(err) {
		return err
	}
	return apperror.NewInternal(err).WithDetail("entity", s.entityName).WithDetail("id", docID)
}

// checkOwner fails with BranchMismatch when doc does not belong to branchID.
func (s *DocumentService[T]) checkOwner(doc T, branchID string) error {
	base := doc.Base()
	if !base.OwnedBy(branchID) {
		return apperror.NewBranchMismatch(s.entityName, base.ID, base.BranchID, branchID)
	}
	return nil
}

// Create validates and stores a new document. A missing id is generated.
func (s *DocumentService[T]) Create(ctx context.Context, doc T) error {
	base := doc.Base()
	base.ID = id.OrNew(base.ID)
	base.Revision = revision.Zero

	// 1. Validate entity invariants
	if s.branchScoped {
		if err := base.ValidateBranch(); err != nil {
			return err
		}
	}
	if err := doc.Validate(ctx); err != nil {
		return s.normalizeValidationErr(err)
	}

	// 2. Run before-create hooks
	if err := s.hooks.Run(ctx, BeforeCreate, doc); err != nil {
		return err
	}

	// 3. Store
	if err := s.repo.Create(ctx, doc); err != nil {
		return s.normalizeStoreErr(err, base.ID)
	}

	// 4. Run after-create hooks; the document is already stored
	if err := s.hooks.Run(ctx, AfterCreate, doc); err != nil {
		logger.Warn(ctx, "after-create hook failed", "entity", s.entityName, "id", base.ID, "error", err)
	}
	return nil
}

// Get retrieves a document. A non-empty branchID must own it.
func (s *DocumentService[T]) Get(ctx context.Context, docID, branchID string) (T, error) {
	doc, err := s.repo.Get(ctx, docID)
	if err != nil {
		return doc, s.normalizeStoreErr(err, docID)
	}
	if err := s.checkOwner(doc, branchID); err != nil {
		var zero T
		return zero, err
	}
	return doc, nil
}

// Update replaces a document. When doc carries no revision the current one is
// used. The owning branch cannot change.
func (s *DocumentService[T]) Update(ctx context.Context, doc T, branchID string) error {
	base := doc.Base()

	current, err := s.Get(ctx, base.ID, branchID)
	if err != nil {
		return err
	}
	cur := current.Base()
	if base.BranchID == "" {
		base.BranchID = cur.BranchID
	}
	if base.BranchID != cur.BranchID {
		return apperror.NewBranchMismatch(s.entityName, base.ID, cur.BranchID, base.BranchID)
	}
	if base.Revision.IsZero() {
		base.Revision = cur.Revision
	}
	base.CreatedAt = cur.CreatedAt

	if err := doc.Validate(ctx); err != nil {
		return s.normalizeValidationErr(err)
	}
	if err := s.hooks.RunGuards(ctx, current, doc); err != nil {
		return err
	}
	if err := s.hooks.Run(ctx, BeforeUpdate, doc); err != nil {
		return err
	}

	if err := s.repo.Update(ctx, doc); err != nil {
		return s.normalizeStoreErr(err, base.ID)
	}

	if err := s.hooks.Run(ctx, AfterUpdate, doc); err != nil {
		logger.Warn(ctx, "after-update hook failed", "entity", s.entityName, "id", base.ID, "error", err)
	}
	return nil
}

// Delete removes a document. When rev is zero the current revision is used.
func (s *DocumentService[T]) Delete(ctx context.Context, docID, branchID string, rev revision.Revision) error {
	// 1. Get entity first (for ownership and hooks)
	doc, err := s.Get(ctx, docID, branchID)
	if err != nil {
		return err
	}
	if rev.IsZero() {
		rev = doc.Base().Revision
	}

	if err := s.hooks.Run(ctx, BeforeDelete, doc); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, docID, rev); err != nil {
		return s.normalizeStoreErr(err, docID)
	}

	if err := s.hooks.Run(ctx, AfterDelete, doc); err != nil {
		logger.Warn(ctx, "after-delete hook failed", "entity", s.entityName, "id", docID, "error", err)
	}
	return nil
}

// List retrieves documents passing filter.
func (s *DocumentService[T]) List(ctx context.Context, filter ListFilter) ([]T, error) {
	if s.branchScoped && filter.BranchID == "" {
		return nil, apperror.NewValidation("branchId is required").WithDetail("field", "branchId")
	}
	docs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, s.normalizeStoreErr(err, "")
	}
	return docs, nil
}
