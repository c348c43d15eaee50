// Package tx defines the transaction contract used by durable stores.
package tx

import (
	"context"
)

// Manager runs fn inside a transaction carried on the context.
// If fn returns an error, the transaction is rolled back.
// Nested calls reuse the existing transaction from context.
type Manager interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
