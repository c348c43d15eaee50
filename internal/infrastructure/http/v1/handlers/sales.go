package handlers

import (
	"github.com/gin-gonic/gin"

	"poscore/internal/domain"
	"poscore/internal/domain/returns"
	"poscore/internal/domain/sales"
	"poscore/internal/infrastructure/http/v1/dto"
)

// TransactionHandler serves transactions. Transactions are created only
// through the sale workflow and are never updated or deleted directly.
type TransactionHandler struct {
	*DocumentHandler[*sales.Transaction]
	processor *sales.Processor
}

// NewTransactionHandler creates a transaction handler.
func NewTransactionHandler(base *BaseHandler, service *domain.DocumentService[*sales.Transaction], processor *sales.Processor) *TransactionHandler {
	return &TransactionHandler{
		DocumentHandler: NewDocumentHandler(base, service, sales.New),
		processor:       processor,
	}
}

// Create handles POST /transactions: allocates a sales id, decrements stock
// per line and stores the transaction.
func (h *TransactionHandler) Create(c *gin.Context) {
	req := sales.New()
	if !h.BindJSON(c, req) {
		return
	}

	tx, err := h.processor.Create(c.Request.Context(), req)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, tx)
}

// ReturnHandler serves returns.
type ReturnHandler struct {
	*DocumentHandler[*returns.Return]
	processor *returns.Processor
}

// NewReturnHandler creates a return handler.
func NewReturnHandler(base *BaseHandler, service *domain.DocumentService[*returns.Return], processor *returns.Processor) *ReturnHandler {
	return &ReturnHandler{
		DocumentHandler: NewDocumentHandler(base, service, returns.New),
		processor:       processor,
	}
}

// Create handles POST /returns: restocks the returned items and reduces the
// transaction before storing the return.
func (h *ReturnHandler) Create(c *gin.Context) {
	req := returns.New()
	if !h.BindJSON(c, req) {
		return
	}

	ret, err := h.processor.Process(c.Request.Context(), req)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, ret)
}

// Update handles PUT /returns/:id. Only reason and status can change.
func (h *ReturnHandler) Update(c *gin.Context) {
	var req dto.AmendReturnRequest
	if !h.BindJSON(c, &req) {
		return
	}

	ret, err := h.processor.Amend(c.Request.Context(), c.Param("id"), h.BranchID(c), req.Reason, req.Status, req.Revision)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, ret)
}
