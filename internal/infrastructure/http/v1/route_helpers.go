// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"
)

// ReadRouteHandler serves list and get.
type ReadRouteHandler interface {
	List(c *gin.Context)
	Get(c *gin.Context)
}

// CreateRouteHandler serves create.
type CreateRouteHandler interface {
	Create(c *gin.Context)
}

// UpdateRouteHandler serves update.
type UpdateRouteHandler interface {
	Update(c *gin.Context)
}

// DeleteRouteHandler serves delete.
type DeleteRouteHandler interface {
	Delete(c *gin.Context)
}

// DocumentRouteHandler serves the full CRUD surface of a resource.
type DocumentRouteHandler interface {
	ReadRouteHandler
	CreateRouteHandler
	UpdateRouteHandler
	DeleteRouteHandler
}

// RouteOptions limits the routes registered for a resource.
type RouteOptions struct {
	NoUpdate bool
	NoDelete bool
}

// RegisterDocumentRoutes registers standard CRUD routes for a resource.
// Update and delete are registered when the handler implements them and
// opts does not exclude them.
//
// Usage:
//
//	handler := handlers.NewDocumentHandler(base, services.Departments, department.New)
//	RegisterDocumentRoutes(api.Group("/departments"), handler, RouteOptions{})
func RegisterDocumentRoutes(group *gin.RouterGroup, handler ReadRouteHandler, opts RouteOptions) {
	group.GET("", handler.List)
	group.GET("/:id", handler.Get)

	if h, ok := handler.(CreateRouteHandler); ok {
		group.POST("", h.Create)
	}
	if h, ok := handler.(UpdateRouteHandler); ok && !opts.NoUpdate {
		group.PUT("/:id", h.Update)
	}
	if h, ok := handler.(DeleteRouteHandler); ok && !opts.NoDelete {
		group.DELETE("/:id", h.Delete)
	}
}
