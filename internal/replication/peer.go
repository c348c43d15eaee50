// Package replication synchronizes a local document store with a remote peer.
package replication

import (
	"context"
	"errors"

	"poscore/internal/core/docstore"
	"poscore/internal/core/revision"
)

var (
	// ErrUnauthorized is returned by peers that reject our credentials. It is never retried.
	ErrUnauthorized = errors.New("replication peer rejected credentials")

	// ErrOffline is returned when the peer is considered unreachable.
	ErrOffline = errors.New("replication peer unreachable")
)

// Peer is the remote side of replication.
type Peer interface {
	Ping(ctx context.Context) error
	Changes(ctx context.Context, collection string, since int64, limit int) ([]docstore.Change, int64, error)
	RevsDiff(ctx context.Context, collection string, revs map[string][]revision.Revision) (map[string][]revision.Revision, error)
	Revisions(ctx context.Context, collection string, revs map[string][]revision.Revision) ([]docstore.Replica, error)
	BulkReplicate(ctx context.Context, collection string, replicas []docstore.Replica) (int, error)
}

// StorePeer exposes a docstore.Store as a Peer. The authority uses it to
// serve replication endpoints; tests use it to replicate in-process.
type StorePeer struct {
	store   docstore.Store
	onWrite []WriteHook
}

// WriteHook runs after BulkReplicate wrote at least one document.
type WriteHook func(ctx context.Context, collection string, written int)

// StorePeerOption configures a StorePeer.
type StorePeerOption func(*StorePeer)

// WithWriteHook registers a hook for documents written by BulkReplicate.
func WithWriteHook(hook WriteHook) StorePeerOption {
	return func(p *StorePeer) {
		if hook != nil {
			p.onWrite = append(p.onWrite, hook)
		}
	}
}

// NewStorePeer wraps store.
func NewStorePeer(store docstore.Store, opts ...StorePeerOption) *StorePeer {
	p := &StorePeer{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ping always succeeds for an in-process store.
func (p *StorePeer) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Changes delegates to the named collection.
func (p *StorePeer) Changes(ctx context.Context, collection string, since int64, limit int) ([]docstore.Change, int64, error) {
	c, err := p.store.Collection(collection)
	if err != nil {
		return nil, since, err
	}
	return c.Changes(ctx, since, limit)
}

// RevsDiff delegates to the named collection.
func (p *StorePeer) RevsDiff(ctx context.Context, collection string, revs map[string][]revision.Revision) (map[string][]revision.Revision, error) {
	c, err := p.store.Collection(collection)
	if err != nil {
		return nil, err
	}
	return c.RevsDiff(ctx, revs)
}

// Revisions delegates to the named collection.
func (p *StorePeer) Revisions(ctx context.Context, collection string, revs map[string][]revision.Revision) ([]docstore.Replica, error) {
	c, err := p.store.Collection(collection)
	if err != nil {
		return nil, err
	}
	return c.Revisions(ctx, revs)
}

// BulkReplicate delegates to the named collection and runs the write hooks.
func (p *StorePeer) BulkReplicate(ctx context.Context, collection string, replicas []docstore.Replica) (int, error) {
	c, err := p.store.Collection(collection)
	if err != nil {
		return 0, err
	}
	written, err := c.BulkReplicate(ctx, replicas)
	if err != nil {
		return 0, err
	}
	if written > 0 {
		for _, hook := range p.onWrite {
			hook(ctx, collection, written)
		}
	}
	return written, nil
}
