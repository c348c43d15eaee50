// Package handlers provides HTTP request handlers.
package handlers

import (
	"github.com/gin-gonic/gin"

	"poscore/internal/core/entity"
	"poscore/internal/core/revision"
	"poscore/internal/domain"
	"poscore/internal/infrastructure/http/v1/dto"
)

// DocumentHandler provides generic HTTP handlers over a DocumentService.
// Request and response bodies are the documents themselves.
type DocumentHandler[T entity.Document] struct {
	*BaseHandler
	service *domain.DocumentService[T]
	newDoc  func() T
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler[T entity.Document](base *BaseHandler, service *domain.DocumentService[T], newDoc func() T) *DocumentHandler[T] {
	return &DocumentHandler[T]{
		BaseHandler: base,
		service:     service,
		newDoc:      newDoc,
	}
}

// List handles GET /{resource}.
func (h *DocumentHandler[T]) List(c *gin.Context) {
	filter, ok := h.ListFilter(c)
	if !ok {
		return
	}

	docs, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, docs)
}

// Get handles GET /{resource}/:id.
func (h *DocumentHandler[T]) Get(c *gin.Context) {
	doc, err := h.service.Get(c.Request.Context(), c.Param("id"), h.BranchID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, doc)
}

// Create handles POST /{resource}.
func (h *DocumentHandler[T]) Create(c *gin.Context) {
	doc := h.newDoc()
	if !h.BindJSON(c, doc) {
		return
	}

	if err := h.service.Create(c.Request.Context(), doc); err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, doc)
}

// Update handles PUT /{resource}/:id. The body replaces the document; a
// revision in the body makes the write conditional on it.
func (h *DocumentHandler[T]) Update(c *gin.Context) {
	doc := h.newDoc()
	if !h.BindJSON(c, doc) {
		return
	}
	doc.Base().ID = c.Param("id")

	if err := h.service.Update(c.Request.Context(), doc, h.BranchID(c)); err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, doc)
}

// Delete handles DELETE /{resource}/:id. An optional revision query
// parameter makes the delete conditional on it.
func (h *DocumentHandler[T]) Delete(c *gin.Context) {
	docID := c.Param("id")
	rev := revision.Revision(c.Query("revision"))

	if err := h.service.Delete(c.Request.Context(), docID, h.BranchID(c), rev); err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.DeletedResponse{ID: docID, Deleted: true})
}
