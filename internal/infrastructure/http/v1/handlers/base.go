package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"poscore/internal/core/apperror"
	"poscore/internal/domain"
	"poscore/internal/infrastructure/http/v1/middleware"
	"poscore/pkg/logger"
)

// BaseHandler provides common handler utilities.
type BaseHandler struct{}

// NewBaseHandler creates a new base handler.
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// BindJSON binds and validates JSON request body.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// Error registers err on the gin context and aborts the request.
// The JSON response is produced by middleware.ErrorHandler.
func (h *BaseHandler) Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// ParseIntQuery parses integer query parameter with default value.
func (h *BaseHandler) ParseIntQuery(c *gin.Context, key string, defaultVal int) int {
	val := c.Query(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}

// BranchID returns the branchId query parameter.
func (h *BaseHandler) BranchID(c *gin.Context) string {
	return c.Query("branchId")
}

// ListFilter builds a list filter from branchId, departmentId, date, startDate and endDate.
func (h *BaseHandler) ListFilter(c *gin.Context) (domain.ListFilter, bool) {
	from, to, err := domain.NewDateRange(c.Query("date"), c.Query("startDate"), c.Query("endDate"))
	if err != nil {
		h.Error(c, err)
		return domain.ListFilter{}, false
	}
	return domain.ListFilter{
		BranchID:     c.Query("branchId"),
		DepartmentID: c.Query("departmentId"),
		From:         from,
		To:           to,
	}, true
}

// CompleteIdempotency stores the response for replay under the request's
// idempotency key, if any.
func (h *BaseHandler) CompleteIdempotency(c *gin.Context, statusCode int, contentType string, response any) {
	key, store, ok := middleware.IdempotencyFromContext(c)
	if !ok {
		return
	}
	var body []byte
	if response != nil {
		raw, err := json.Marshal(response)
		if err != nil {
			logger.Warn(c.Request.Context(), "idempotency response not encodable", "key", key, "error", err)
			return
		}
		body = raw
	}
	if err := store.Complete(c.Request.Context(), key, statusCode, contentType, body); err != nil {
		logger.Warn(c.Request.Context(), "idempotency completion not recorded", "key", key, "error", err)
	}
}

// Created sends 201 response with data.
func (h *BaseHandler) Created(c *gin.Context, data any) {
	h.CompleteIdempotency(c, http.StatusCreated, "application/json", data)
	c.JSON(http.StatusCreated, data)
}

// OK sends 200 response with data.
func (h *BaseHandler) OK(c *gin.Context, data any) {
	h.CompleteIdempotency(c, http.StatusOK, "application/json", data)
	c.JSON(http.StatusOK, data)
}
