package handlers

import (
	"github.com/gin-gonic/gin"

	"poscore/internal/domain/catalogs/item"
	"poscore/internal/domain/documents/inventory"
	"poscore/internal/infrastructure/http/v1/dto"
)

// ItemHandler serves items and direct stock adjustments.
type ItemHandler struct {
	*DocumentHandler[*item.Item]
	items *item.Service
}

// NewItemHandler creates an item handler.
func NewItemHandler(base *BaseHandler, items *item.Service) *ItemHandler {
	return &ItemHandler{
		DocumentHandler: NewDocumentHandler(base, items.DocumentService, item.New),
		items:           items,
	}
}

// AdjustStock handles POST /items/:id/adjust-stock.
func (h *ItemHandler) AdjustStock(c *gin.Context) {
	var req dto.AdjustStockRequest
	if !h.BindJSON(c, &req) {
		return
	}

	it, err := h.items.AdjustStock(c.Request.Context(), c.Param("id"), h.BranchID(c), req.Delta())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, it)
}

// InventoryHandler serves inventory checks.
type InventoryHandler struct {
	*DocumentHandler[*inventory.Check]
	checks *inventory.Service
}

// NewInventoryHandler creates an inventory check handler.
func NewInventoryHandler(base *BaseHandler, checks *inventory.Service) *InventoryHandler {
	return &InventoryHandler{
		DocumentHandler: NewDocumentHandler(base, checks.DocumentService, inventory.New),
		checks:          checks,
	}
}

// Create handles POST /inventory-checks. With ?apply=true the counted
// discrepancy is written to the item's stock.
func (h *InventoryHandler) Create(c *gin.Context) {
	check := inventory.New()
	if !h.BindJSON(c, check) {
		return
	}

	if err := h.checks.Record(c.Request.Context(), check, c.Query("apply") == "true"); err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, check)
}
