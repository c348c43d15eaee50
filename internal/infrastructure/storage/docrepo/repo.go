// Package docrepo implements domain repositories over a docstore collection.
// Documents are stored as their JSON body; id, revision and timestamps come
// from the store envelope.
package docrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"poscore/internal/core/apperror"
	"poscore/internal/core/docstore"
	"poscore/internal/core/entity"
	"poscore/internal/core/revision"
	"poscore/internal/domain"
	"poscore/internal/infrastructure/cache"
	"poscore/pkg/logger"
)

// CacheObserver is told about every projection cache lookup.
type CacheObserver func(collection string, hit bool)

// Repo is a domain.Repository backed by a docstore.Collection.
type Repo[T entity.Document] struct {
	coll       docstore.Collection
	entityName string
	newDoc     func() T
	cache      cache.Cache
	observe    CacheObserver
}

// Option configures a Repo.
type Option func(*options)

type options struct {
	cache   cache.Cache
	observe CacheObserver
}

// WithCache serves List from c. Writes through the repo invalidate it.
func WithCache(c cache.Cache, observe CacheObserver) Option {
	return func(o *options) {
		if c != nil {
			o.cache = c
		}
		o.observe = observe
	}
}

// New creates a repository. newDoc must return a fresh, non-nil document.
func New[T entity.Document](coll docstore.Collection, entityName string, newDoc func() T, opts ...Option) *Repo[T] {
	o := options{cache: cache.Noop{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Repo[T]{
		coll:       coll,
		entityName: entityName,
		newDoc:     newDoc,
		cache:      o.cache,
		observe:    o.observe,
	}
}

// Collection returns the underlying collection name.
func (r *Repo[T]) Collection() string {
	return r.coll.Name()
}

func (r *Repo[T]) encode(doc T) (json.RawMessage, error) {
	base := doc.Base()
	rev := base.Revision
	base.Revision = revision.Zero
	body, err := json.Marshal(doc)
	base.Revision = rev
	if err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", r.entityName, base.ID, err)
	}
	return body, nil
}

func (r *Repo[T]) decode(env *docstore.Envelope) (T, error) {
	doc := r.newDoc()
	if err := json.Unmarshal(env.Body, doc); err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s %s: %w", r.entityName, env.ID, err)
	}
	stamp(doc, env)
	return doc, nil
}

func stamp[T entity.Document](doc T, env *docstore.Envelope) {
	base := doc.Base()
	base.ID = env.ID
	base.Revision = env.Rev
	base.CreatedAt = env.CreatedAt
	base.UpdatedAt = env.UpdatedAt
}

func (r *Repo[T]) mapErr(err error, docID string, rev revision.Revision, creating bool) error {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return apperror.NewNotFound(r.entityName, docID)
	case errors.Is(err, docstore.ErrConflict) && creating:
		return apperror.NewDuplicate(r.entityName, docID)
	case errors.Is(err, docstore.ErrConflict):
		return apperror.NewStaleRevision(r.entityName, docID, string(rev))
	default:
		return err
	}
}

func (r *Repo[T]) invalidate(ctx context.Context) {
	if err := r.cache.InvalidateCollection(ctx, r.coll.Name()); err != nil {
		logger.Warn(ctx, "projection cache invalidation failed", "collection", r.coll.Name(), "error", err)
	}
}

// Create inserts doc and stamps it with the stored revision.
func (r *Repo[T]) Create(ctx context.Context, doc T) error {
	base := doc.Base()
	body, err := r.encode(doc)
	if err != nil {
		return err
	}
	env, err := r.coll.Put(ctx, base.ID, body, revision.Zero)
	if err != nil {
		return r.mapErr(err, base.ID, revision.Zero, true)
	}
	stamp(doc, env)
	r.invalidate(ctx)
	return nil
}

// Get loads a live document.
func (r *Repo[T]) Get(ctx context.Context, docID string) (T, error) {
	env, err := r.coll.Get(ctx, docID)
	if err != nil {
		var zero T
		return zero, r.mapErr(err, docID, revision.Zero, false)
	}
	return r.decode(env)
}

// Update writes doc over its revision.
func (r *Repo[T]) Update(ctx context.Context, doc T) error {
	base := doc.Base()
	if base.Revision.IsZero() {
		return apperror.NewValidation("revision is required").WithDetail("field", "revision")
	}
	body, err := r.encode(doc)
	if err != nil {
		return err
	}
	env, err := r.coll.Put(ctx, base.ID, body, base.Revision)
	if err != nil {
		return r.mapErr(err, base.ID, base.Revision, false)
	}
	stamp(doc, env)
	r.invalidate(ctx)
	return nil
}

// Delete writes a tombstone.
func (r *Repo[T]) Delete(ctx context.Context, docID string, rev revision.Revision) error {
	if _, err := r.coll.Remove(ctx, docID, rev); err != nil {
		return r.mapErr(err, docID, rev, false)
	}
	r.invalidate(ctx)
	return nil
}

// List scans the collection, applying filter. Results are cached per filter.
func (r *Repo[T]) List(ctx context.Context, filter domain.ListFilter) ([]T, error) {
	key := filter.CacheKey()
	var cached []json.RawMessage
	hit, err := r.cache.Get(ctx, r.coll.Name(), key, &cached)
	if err != nil {
		logger.Warn(ctx, "projection cache read failed", "collection", r.coll.Name(), "error", err)
		hit = false
	}
	if r.observe != nil {
		r.observe(r.coll.Name(), hit)
	}
	if hit {
		docs := make([]T, 0, len(cached))
		for _, raw := range cached {
			doc := r.newDoc()
			if err := json.Unmarshal(raw, doc); err != nil {
				hit = false
				break
			}
			docs = append(docs, doc)
		}
		if hit {
			return docs, nil
		}
	}

	envs, err := r.coll.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.entityName, err)
	}
	docs := make([]T, 0, len(envs))
	for _, env := range envs {
		doc, err := r.decode(env)
		if err != nil {
			return nil, err
		}
		if filter.Matches(doc) {
			docs = append(docs, doc)
		}
	}
	domain.SortByCreated(docs)

	projection := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		raw, err := json.Marshal(doc)
		if err != nil {
			return docs, nil
		}
		projection = append(projection, raw)
	}
	if err := r.cache.Set(ctx, r.coll.Name(), key, projection); err != nil {
		logger.Warn(ctx, "projection cache write failed", "collection", r.coll.Name(), "error", err)
	}
	return docs, nil
}
