package numerator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"poscore/internal/core/docstore"
	"poscore/internal/core/revision"
)

// MaxReserveAttempts bounds compare-and-swap retries of a reservation.
const MaxReserveAttempts = 16

// ErrContention is returned when a reservation keeps losing compare-and-swap races.
var ErrContention = errors.New("counter contention")

type counterDoc struct {
	Value int64 `json:"value"`
}

// DocumentSequence keeps counters as documents of a node-local collection and
// advances them with compare-and-swap writes.
type DocumentSequence struct {
	coll docstore.Collection
}

// NewDocumentSequence creates a sequence over coll.
func NewDocumentSequence(coll docstore.Collection) *DocumentSequence {
	return &DocumentSequence{coll: coll}
}

// Reserve implements Sequence.
func (d *DocumentSequence) Reserve(ctx context.Context, key string, n int64, floor Floor) (int64, error) {
	for attempt := 0; attempt < MaxReserveAttempts; attempt++ {
		var (
			current  int64
			expected = revision.Zero
		)

		env, err := d.coll.Get(ctx, key)
		switch {
		case errors.Is(err, docstore.ErrNotFound):
			if floor != nil {
				if current, err = floor(ctx); err != nil {
					return 0, fmt.Errorf("seed counter %s: %w", key, err)
				}
			}
		case err != nil:
			return 0, fmt.Errorf("read counter %s: %w", key, err)
		default:
			var doc counterDoc
			if err := json.Unmarshal(env.Body, &doc); err != nil {
				return 0, fmt.Errorf("decode counter %s: %w", key, err)
			}
			current, expected = doc.Value, env.Rev
		}

		next := current + n
		body, err := json.Marshal(counterDoc{Value: next})
		if err != nil {
			return 0, err
		}
		_, err = d.coll.Put(ctx, key, body, expected)
		if errors.Is(err, docstore.ErrConflict) || errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("write counter %s: %w", key, err)
		}
		return next, nil
	}
	return 0, fmt.Errorf("reserve %s: %w", key, ErrContention)
}
