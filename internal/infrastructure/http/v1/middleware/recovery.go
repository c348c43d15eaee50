// Package middleware provides HTTP middleware components.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"poscore/internal/core/apperror"
	"poscore/pkg/logger"
)

// Recovery turns a handler panic into a 500 response. The stack trace is
// logged and never sent to the client.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			log.WithContext(c.Request.Context()).Errorw("panic recovered",
				"method", c.Request.Method,
				"path", c.FullPath(),
				"error", rec,
				"stack", string(debug.Stack()),
			)

			// ErrorHandler sits inside this middleware and was unwound by the panic.
			_ = c.Error(apperror.NewInternal(fmt.Errorf("panic: %v", rec)))
			if !c.Writer.Written() {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   apperror.CodeInternal,
					"message": "Internal server error",
					"details": map[string]any{"request_id": c.GetString(ContextKeyRequestID)},
				})
				return
			}
			c.Abort()
		}()
		c.Next()
	}
}
