// Package cache provides the list projection cache. Entries are grouped by
// collection so that a write or a completed sync can invalidate every
// projection of a collection at once.
package cache

import (
	"context"
)

// Cache stores JSON-serializable list projections.
type Cache interface {
	// Get loads the projection under key into dest. It reports false on a miss.
	Get(ctx context.Context, collection, key string, dest any) (bool, error)
	// Set stores value under key.
	Set(ctx context.Context, collection, key string, value any) error
	// InvalidateCollection drops every projection of collection.
	InvalidateCollection(ctx context.Context, collection string) error
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string, string, any) (bool, error) { return false, nil }
func (Noop) Set(context.Context, string, string, any) error         { return nil }
func (Noop) InvalidateCollection(context.Context, string) error     { return nil }
