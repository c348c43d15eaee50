package handlers

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"poscore/internal/core/apperror"
	"poscore/internal/replication"
)

// SyncHandler triggers replication with the remote authority.
type SyncHandler struct {
	*BaseHandler
	engine *replication.Engine
}

// NewSyncHandler creates a sync handler. A nil engine means no remote is configured.
func NewSyncHandler(base *BaseHandler, engine *replication.Engine) *SyncHandler {
	return &SyncHandler{BaseHandler: base, engine: engine}
}

func (h *SyncHandler) configured(c *gin.Context) bool {
	if h.engine != nil {
		return true
	}
	appErr := apperror.NewSyncError("no replication remote is configured", true, nil)
	appErr.HTTPStatus = http.StatusServiceUnavailable
	h.Error(c, appErr)
	return false
}

// SyncAll handles POST /sync.
func (h *SyncHandler) SyncAll(c *gin.Context) {
	if !h.configured(c) {
		return
	}
	result, err := h.engine.SyncOnce(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

// SyncCollection returns a handler for POST /{resource}/sync.
func (h *SyncHandler) SyncCollection(collection string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.configured(c) {
			return
		}
		if !slices.Contains(h.engine.Collections(), collection) {
			h.Error(c, apperror.NewNotFound("collection", collection))
			return
		}
		result, err := h.engine.SyncOnce(c.Request.Context(), collection)
		if err != nil {
			h.Error(c, err)
			return
		}
		h.OK(c, result)
	}
}

// Status handles GET /sync/status.
func (h *SyncHandler) Status(c *gin.Context) {
	if !h.configured(c) {
		return
	}
	c.JSON(http.StatusOK, h.engine.Status())
}
