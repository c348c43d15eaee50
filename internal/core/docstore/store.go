// Package docstore defines the revisioned document store contract shared by
// the branch-local store and the remote authority.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"poscore/internal/core/revision"
)

// MaxHistory bounds the ancestry kept per leaf.
const MaxHistory = 64

var (
	// ErrNotFound is returned when a document is absent or tombstoned.
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned when a write does not match the current revision.
	ErrConflict = errors.New("document revision conflict")

	// ErrUnknownCollection is returned for collections the store does not serve.
	ErrUnknownCollection = errors.New("unknown collection")
)

// Leaf is one revision of a document together with its ancestry.
type Leaf struct {
	Rev       revision.Revision   `json:"rev"`
	Deleted   bool                `json:"deleted,omitempty"`
	Body      json.RawMessage     `json:"body,omitempty"`
	History   []revision.Revision `json:"history,omitempty"` // ancestors, newest first
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Descends reports whether l has rev among its ancestors.
func (l Leaf) Descends(rev revision.Revision) bool {
	for _, h := range l.History {
		if h == rev {
			return true
		}
	}
	return false
}

// Envelope is the stored form of a document: the winning leaf plus any
// conflicting leaves retained from replication.
type Envelope struct {
	ID string `json:"id"`
	Leaf
	Conflicts []Leaf `json:"conflicts,omitempty"`
	Seq       int64  `json:"seq"`
}

// Knows reports whether rev is the current revision, an ancestor of it, or a
// retained conflict leaf.
func (e *Envelope) Knows(rev revision.Revision) bool {
	if e.Rev == rev || e.Descends(rev) {
		return true
	}
	for _, c := range e.Conflicts {
		if c.Rev == rev || c.Descends(rev) {
			return true
		}
	}
	return false
}

// Leaves returns the winning leaf followed by conflict leaves.
func (e *Envelope) Leaves() []Leaf {
	leaves := make([]Leaf, 0, 1+len(e.Conflicts))
	leaves = append(leaves, e.Leaf)
	return append(leaves, e.Conflicts...)
}

// Clone returns a deep copy of e.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	out := *e
	out.Leaf = cloneLeaf(e.Leaf)
	if e.Conflicts != nil {
		out.Conflicts = make([]Leaf, len(e.Conflicts))
		for i, c := range e.Conflicts {
			out.Conflicts[i] = cloneLeaf(c)
		}
	}
	return &out
}

func cloneLeaf(l Leaf) Leaf {
	out := l
	if l.Body != nil {
		out.Body = append(json.RawMessage(nil), l.Body...)
	}
	if l.History != nil {
		out.History = append([]revision.Revision(nil), l.History...)
	}
	return out
}

// Change is an entry of a collection's change feed.
type Change struct {
	Seq     int64               `json:"seq"`
	ID      string              `json:"id"`
	Revs    []revision.Revision `json:"revs"`
	Deleted bool                `json:"deleted,omitempty"`
}

// Replica is a single leaf revision of a document as transferred between peers.
type Replica struct {
	ID string `json:"id"`
	Leaf
}

// Collection is a named set of revisioned documents.
type Collection interface {
	Name() string

	// Get returns the live document with id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Envelope, error)

	// Put creates (expected == revision.Zero) or updates the document.
	// Creating over a live document and updating with a stale revision both fail with ErrConflict.
	// Updating a missing or deleted document fails with ErrNotFound.
	Put(ctx context.Context, id string, body json.RawMessage, expected revision.Revision) (*Envelope, error)

	// Remove writes a tombstone revision. The tombstone replicates like any write.
	Remove(ctx context.Context, id string, expected revision.Revision) (*Envelope, error)

	// ListAll returns every live document in unspecified order.
	ListAll(ctx context.Context) ([]*Envelope, error)

	// Changes returns documents changed after seq, ordered by seq, and the last seq returned.
	Changes(ctx context.Context, since int64, limit int) ([]Change, int64, error)

	// RevsDiff returns, per document, the revisions this collection does not know.
	RevsDiff(ctx context.Context, revs map[string][]revision.Revision) (map[string][]revision.Revision, error)

	// Revisions loads the requested leaf revisions.
	Revisions(ctx context.Context, revs map[string][]revision.Revision) ([]Replica, error)

	// BulkReplicate merges foreign revisions without generating new ones.
	// Returns the number of replicas that changed local state.
	BulkReplicate(ctx context.Context, replicas []Replica) (int, error)

	// Checkpoint returns the local, non-replicated checkpoint stored under key.
	Checkpoint(ctx context.Context, key string) (int64, error)

	// SetCheckpoint stores a local checkpoint.
	SetCheckpoint(ctx context.Context, key string, seq int64) error

	// Subscribe returns a channel signalled after local writes and a function to unsubscribe.
	Subscribe() (<-chan struct{}, func())
}

// Store groups collections.
type Store interface {
	Collection(name string) (Collection, error)
	Collections() []string
	Close() error
}

// NewLeaf builds the child leaf of parent for a local write.
func NewLeaf(parent *Leaf, body json.RawMessage, deleted bool, now time.Time) Leaf {
	leaf := Leaf{
		Deleted:   deleted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !deleted {
		leaf.Body = body
	}
	var parentRev revision.Revision
	if parent != nil {
		parentRev = parent.Rev
		if !parent.Deleted {
			leaf.CreatedAt = parent.CreatedAt
		}
		leaf.History = TrimHistory(append([]revision.Revision{parent.Rev}, parent.History...))
	}
	leaf.Rev = revision.Next(parentRev, leaf.Body, deleted)
	return leaf
}

// TrimHistory bounds h to MaxHistory entries.
func TrimHistory(h []revision.Revision) []revision.Revision {
	if len(h) > MaxHistory {
		return h[:MaxHistory]
	}
	return h
}
