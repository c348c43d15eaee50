package item

import (
	"context"

	"poscore/internal/core/apperror"
	"poscore/internal/core/types"
	"poscore/internal/domain"
	"poscore/internal/domain/stock"
)

// StockObserver is told about every applied stock delta.
type StockObserver func(kind string, negative bool)

// Service manages items and their stock.
type Service struct {
	*domain.DocumentService[*Item]
	observe StockObserver
}

// NewService creates the item service.
func NewService(repo domain.Repository[*Item], observe StockObserver) *Service {
	s := &Service{
		DocumentService: domain.NewDocumentService(domain.DocumentServiceConfig[*Item]{
			Repo:         repo,
			EntityName:   "Item",
			BranchScoped: true,
		}),
		observe: observe,
	}

	refresh := func(ctx context.Context, it *Item) error {
		it.Refresh()
		return nil
	}
	s.Hooks().OnBeforeCreate(refresh)
	s.Hooks().On(domain.BeforeUpdate, refresh)

	// The stock kind is fixed at creation.
	s.Hooks().Guard(func(ctx context.Context, current, next *Item) error {
		if current.StockKind() != next.StockKind() {
			return apperror.NewStockTypeMismatch(current.ID, string(current.StockKind()), string(next.StockKind()))
		}
		return nil
	})
	return s
}

// AdjustStock applies d to the item's stock and stores it. The write is a
// compare-and-swap on the revision just read; a concurrent change surfaces as
// Conflict and is not retried.
func (s *Service) AdjustStock(ctx context.Context, itemID, branchID string, d stock.Delta) (*Item, error) {
	it, err := s.Get(ctx, itemID, branchID)
	if err != nil {
		return nil, err
	}
	if err := it.ApplyDelta(d); err != nil {
		return nil, err
	}
	if err := s.Update(ctx, it, branchID); err != nil {
		return nil, err
	}
	if s.observe != nil {
		s.observe(string(d.Kind), d.Amount.IsNegative())
	}
	return it, nil
}

// SetLevel moves the item's stock to level and returns the delta applied.
// The delta is computed from the revision that the compare-and-swap writes
// over, so stock moved by a concurrent sale surfaces as Conflict instead of
// being overwritten.
func (s *Service) SetLevel(ctx context.Context, itemID, branchID string, level types.Amount) (*Item, types.Amount, error) {
	it, err := s.Get(ctx, itemID, branchID)
	if err != nil {
		return nil, types.Zero(), err
	}
	delta := level.Sub(it.StockManagement.Level())
	if delta.IsZero() {
		return it, delta, nil
	}
	d := stock.DeltaFor(it.StockManagement.Stock, delta)
	if err := it.ApplyDelta(d); err != nil {
		return nil, types.Zero(), err
	}
	if err := s.Update(ctx, it, branchID); err != nil {
		return nil, types.Zero(), err
	}
	if s.observe != nil {
		s.observe(string(d.Kind), d.Amount.IsNegative())
	}
	return it, delta, nil
}
