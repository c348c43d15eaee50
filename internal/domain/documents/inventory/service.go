package inventory

import (
	"context"

	"poscore/internal/domain"
	"poscore/internal/domain/audit"
	"poscore/internal/domain/catalogs/item"
)

// Service records stock counts.
type Service struct {
	*domain.DocumentService[*Check]
	items *item.Service
	audit *audit.Recorder
}

// NewService creates the inventory check service.
func NewService(repo domain.Repository[*Check], items *item.Service, recorder *audit.Recorder) *Service {
	s := &Service{
		DocumentService: domain.NewDocumentService(domain.DocumentServiceConfig[*Check]{
			Repo:         repo,
			EntityName:   "InventoryCheck",
			BranchScoped: true,
		}),
		items: items,
		audit: recorder,
	}

	// System stock is taken from the item at creation time.
	s.Hooks().OnBeforeCreate(func(ctx context.Context, c *Check) error {
		it, err := s.items.Get(ctx, c.ItemID, c.BranchID)
		if err != nil {
			return err
		}
		c.SystemStock = it.StockManagement.Level()
		c.Discrepancy = c.CountedStock.Sub(c.SystemStock)
		c.Applied = false
		return nil
	})
	return s
}

// Record stores a count. When apply is set the item's stock is moved to the
// counted level and the check is marked applied. A count matching the system
// stock at creation changes nothing.
func (s *Service) Record(ctx context.Context, c *Check, apply bool) error {
	if err := s.Create(ctx, c); err != nil {
		return err
	}
	if !apply || c.Discrepancy.IsZero() {
		return nil
	}

	_, delta, err := s.items.SetLevel(ctx, c.ItemID, c.BranchID, c.CountedStock)
	if err != nil {
		return err
	}

	// Stock may have moved since the check was created.
	c.SystemStock = c.CountedStock.Sub(delta)
	c.Discrepancy = delta
	c.Applied = true
	if err := s.Update(ctx, c, c.BranchID); err != nil {
		return err
	}
	s.audit.Record(ctx, &audit.Log{
		BaseDocument: c.BaseDocument.Owner(),
		Action:       audit.ActionStockCount,
		Entity:       "item",
		EntityID:     c.ItemID,
		Message:      "stock count applied: " + c.Discrepancy.String(),
	})
	return nil
}
