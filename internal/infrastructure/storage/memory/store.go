// Package memory provides the branch-local document store.
// State lives in memory and is optionally persisted to a zstd-compressed snapshot file.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"poscore/internal/core/docstore"
	"poscore/internal/core/revision"
)

var _ docstore.Store = (*Store)(nil)

// Store is an in-memory docstore.Store.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*Collection
	names       []string
	snapshot    *snapshotter
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithSnapshot persists the store to path after every mutation and restores it on open.
func WithSnapshot(path string) Option {
	return func(s *Store) {
		if path != "" {
			s.snapshot = &snapshotter{path: path}
		}
	}
}

// WithClock overrides the time source used for document timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store serving the named collections.
func New(names []string, opts ...Option) (*Store, error) {
	s := &Store{
		collections: make(map[string]*Collection, len(names)),
		names:       append([]string(nil), names...),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, name := range names {
		s.collections[name] = newCollection(s, name)
	}
	if s.snapshot != nil {
		if err := s.snapshot.restore(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Collection returns the named collection.
func (s *Store) Collection(name string) (docstore.Collection, error) {
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", docstore.ErrUnknownCollection, name)
	}
	return c, nil
}

// Collections returns the served collection names.
func (s *Store) Collections() []string {
	return append([]string(nil), s.names...)
}

// Close flushes the snapshot, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	if s.snapshot == nil {
		return nil
	}
	return s.snapshot.save(s)
}

// Collection is one named collection of a memory Store.
type Collection struct {
	docstore.Notifier

	store       *Store
	name        string
	docs        map[string]*docstore.Envelope
	seq         int64
	checkpoints map[string]int64
}

func newCollection(s *Store, name string) *Collection {
	return &Collection{
		store:       s,
		name:        name,
		docs:        make(map[string]*docstore.Envelope),
		checkpoints: make(map[string]int64),
	}
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Get returns the live document with id.
func (c *Collection) Get(ctx context.Context, id string) (*docstore.Envelope, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	doc, ok := c.docs[id]
	if !ok || doc.Deleted {
		return nil, fmt.Errorf("%s/%s: %w", c.name, id, docstore.ErrNotFound)
	}
	return doc.Clone(), nil
}

// Put creates or updates a document.
func (c *Collection) Put(ctx context.Context, id string, body json.RawMessage, expected revision.Revision) (*docstore.Envelope, error) {
	return c.write(id, body, expected, false)
}

// Remove writes a tombstone.
func (c *Collection) Remove(ctx context.Context, id string, expected revision.Revision) (*docstore.Envelope, error) {
	return c.write(id, nil, expected, true)
}

func (c *Collection) write(id string, body json.RawMessage, expected revision.Revision, deleted bool) (*docstore.Envelope, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	prev := c.docs[id]
	next, err := docstore.PrepareWrite(prev, id, body, expected, deleted, c.store.now())
	if err != nil {
		return nil, err
	}

	if err := c.commitLocked(prev, next); err != nil {
		return nil, err
	}
	c.Broadcast()
	return next.Clone(), nil
}

// commitLocked stores next with a fresh seq, rolling back if the snapshot cannot be written.
func (c *Collection) commitLocked(prev, next *docstore.Envelope) error {
	prevSeq := c.seq
	c.seq++
	next.Seq = c.seq
	c.docs[next.ID] = next

	if err := c.store.persistLocked(); err != nil {
		c.seq = prevSeq
		if prev == nil {
			delete(c.docs, next.ID)
		} else {
			c.docs[next.ID] = prev
		}
		return err
	}
	return nil
}

// ListAll returns every live document.
func (c *Collection) ListAll(ctx context.Context) ([]*docstore.Envelope, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	out := make([]*docstore.Envelope, 0, len(c.docs))
	for _, doc := range c.docs {
		if !doc.Deleted {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

// Changes returns the documents changed after since, oldest first.
func (c *Collection) Changes(ctx context.Context, since int64, limit int) ([]docstore.Change, int64, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	changed := make([]*docstore.Envelope, 0)
	for _, doc := range c.docs {
		if doc.Seq > since {
			changed = append(changed, doc)
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].Seq < changed[j].Seq })
	if limit > 0 && len(changed) > limit {
		changed = changed[:limit]
	}

	last := since
	out := make([]docstore.Change, 0, len(changed))
	for _, doc := range changed {
		revs := make([]revision.Revision, 0, 1+len(doc.Conflicts))
		for _, l := range doc.Leaves() {
			revs = append(revs, l.Rev)
		}
		out = append(out, docstore.Change{Seq: doc.Seq, ID: doc.ID, Revs: revs, Deleted: doc.Deleted})
		last = doc.Seq
	}
	return out, last, nil
}

// RevsDiff returns the revisions not known to this collection.
func (c *Collection) RevsDiff(ctx context.Context, revs map[string][]revision.Revision) (map[string][]revision.Revision, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	missing := make(map[string][]revision.Revision)
	for id, candidates := range revs {
		doc := c.docs[id]
		for _, rev := range candidates {
			if doc == nil || !doc.Knows(rev) {
				missing[id] = append(missing[id], rev)
			}
		}
	}
	return missing, nil
}

// Revisions loads the requested leaves. Revisions that are no longer leaves are skipped.
func (c *Collection) Revisions(ctx context.Context, revs map[string][]revision.Revision) ([]docstore.Replica, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	out := make([]docstore.Replica, 0, len(revs))
	for id, wanted := range revs {
		doc := c.docs[id]
		if doc == nil {
			continue
		}
		for _, leaf := range doc.Leaves() {
			for _, rev := range wanted {
				if leaf.Rev == rev {
					out = append(out, docstore.Replica{ID: id, Leaf: leaf})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return cloneReplicas(out), nil
}

// BulkReplicate merges foreign leaves.
func (c *Collection) BulkReplicate(ctx context.Context, replicas []docstore.Replica) (int, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	written := 0
	for _, r := range replicas {
		if !r.Rev.Valid() {
			return written, fmt.Errorf("replicate %s/%s: invalid revision %q", c.name, r.ID, r.Rev)
		}
		prev := c.docs[r.ID]
		next, outcome := docstore.Merge(prev, r)
		if outcome == docstore.OutcomeIgnored {
			continue
		}
		if err := c.commitLocked(prev, next); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// Checkpoint returns the stored checkpoint for key, 0 if unset.
func (c *Collection) Checkpoint(ctx context.Context, key string) (int64, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	return c.checkpoints[key], nil
}

// SetCheckpoint stores a checkpoint.
func (c *Collection) SetCheckpoint(ctx context.Context, key string, seq int64) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	prev, had := c.checkpoints[key]
	c.checkpoints[key] = seq
	if err := c.store.persistLocked(); err != nil {
		if had {
			c.checkpoints[key] = prev
		} else {
			delete(c.checkpoints, key)
		}
		return err
	}
	return nil
}

func cloneReplicas(in []docstore.Replica) []docstore.Replica {
	for i := range in {
		e := (&docstore.Envelope{ID: in[i].ID, Leaf: in[i].Leaf}).Clone()
		in[i].Leaf = e.Leaf
	}
	return in
}
