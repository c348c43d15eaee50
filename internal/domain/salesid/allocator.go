// Package salesid allocates per-branch sequential invoice numbers.
package salesid

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"poscore/internal/core/docstore"
	"poscore/pkg/numerator"
)

// Allocator returns the next sales id of a branch.
type Allocator interface {
	Next(ctx context.Context, branchID string) (string, error)
}

// ScanAllocator derives max(salesId)+1 from the stored documents of the
// branch. Allocation and the later transaction write are not atomic, so two
// concurrent sales of one branch can receive the same id.
type ScanAllocator struct {
	sources []docstore.Collection
}

// NewScanAllocator creates a scan allocator over transactions and any further
// collections whose documents carry a salesId. Returns keep the salesId of a
// transaction after a full return deletes it, so they are passed here too.
func NewScanAllocator(transactions docstore.Collection, more ...docstore.Collection) *ScanAllocator {
	return &ScanAllocator{sources: append([]docstore.Collection{transactions}, more...)}
}

type salesRef struct {
	BranchID string `json:"branchId"`
	SalesID  string `json:"salesId"`
}

// Max returns the highest numeric sales id of the branch, or 0.
// Ids that are not decimal integers are ignored.
func (a *ScanAllocator) Max(ctx context.Context, branchID string) (int64, error) {
	var highest int64
	for _, src := range a.sources {
		n, err := maxIn(ctx, src, branchID)
		if err != nil {
			return 0, err
		}
		if n > highest {
			highest = n
		}
	}
	return highest, nil
}

func maxIn(ctx context.Context, coll docstore.Collection, branchID string) (int64, error) {
	envs, err := coll.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", coll.Name(), err)
	}
	var highest int64
	for _, env := range envs {
		var ref salesRef
		if err := json.Unmarshal(env.Body, &ref); err != nil || ref.BranchID != branchID {
			continue
		}
		n, err := strconv.ParseInt(ref.SalesID, 10, 64)
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest, nil
}

// Next implements Allocator.
func (a *ScanAllocator) Next(ctx context.Context, branchID string) (string, error) {
	highest, err := a.Max(ctx, branchID)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(highest+1, 10), nil
}

// CounterAllocator reserves ids from a per-branch counter advanced by
// compare-and-swap, seeded from the scan maximum on first use. Ids are unique
// within one store; replicas allocating for the same branch can still collide.
type CounterAllocator struct {
	numbers *numerator.Service
	scan    *ScanAllocator
}

// NewCounterAllocator creates a counter allocator.
func NewCounterAllocator(numbers *numerator.Service, scan *ScanAllocator) *CounterAllocator {
	return &CounterAllocator{numbers: numbers, scan: scan}
}

// Next implements Allocator.
func (a *CounterAllocator) Next(ctx context.Context, branchID string) (string, error) {
	n, err := a.numbers.Next(ctx, "sales:"+branchID, func(ctx context.Context) (int64, error) {
		return a.scan.Max(ctx, branchID)
	})
	if err != nil {
		return "", fmt.Errorf("allocate sales id: %w", err)
	}
	return strconv.FormatInt(n, 10), nil
}
