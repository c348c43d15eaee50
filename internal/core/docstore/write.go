package docstore

import (
	"encoding/json"
	"fmt"
	"time"

	"poscore/internal/core/revision"
)

// PrepareWrite applies the compare-and-swap rules of a local write to current
// and returns the envelope to persist. Seq is left for the caller to assign.
func PrepareWrite(current *Envelope, id string, body json.RawMessage, expected revision.Revision, deleted bool, now time.Time) (*Envelope, error) {
	live := current != nil && !current.Deleted

	switch {
	case deleted && !live:
		return nil, fmt.Errorf("remove %s: %w", id, ErrNotFound)
	case deleted && current.Rev != expected:
		return nil, fmt.Errorf("remove %s at %s: %w", id, expected, ErrConflict)
	case !deleted && expected.IsZero() && live:
		return nil, fmt.Errorf("create %s: %w", id, ErrConflict)
	case !deleted && !expected.IsZero() && !live:
		return nil, fmt.Errorf("update %s: %w", id, ErrNotFound)
	case !deleted && !expected.IsZero() && current.Rev != expected:
		return nil, fmt.Errorf("update %s at %s: %w", id, expected, ErrConflict)
	}

	next := &Envelope{ID: id}
	var parent *Leaf
	if current != nil {
		next = current.Clone()
		parent = &current.Leaf
	}
	next.Leaf = NewLeaf(parent, body, deleted, now)
	return next, nil
}
