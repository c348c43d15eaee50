package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"poscore/internal/core/apperror"
	appctx "poscore/internal/core/context"
)

// TokenValidator validates replication bearer tokens.
type TokenValidator interface {
	ValidateToken(tokenString string) (*appctx.PeerContext, error)
}

// ContextKeyPeerID is the gin context key of the authenticated node id.
const ContextKeyPeerID = "peer_id"

// PeerAuth requires a bearer token carrying scope and adds the peer to the
// request context.
func PeerAuth(validator TokenValidator, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abortUnauthorized(c, "invalid authorization header format")
			return
		}

		peer, err := validator.ValidateToken(parts[1])
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}

		ctx := appctx.WithPeer(c.Request.Context(), peer)
		c.Request = c.Request.WithContext(ctx)
		c.Set(ContextKeyPeerID, peer.NodeID)

		if scope != "" && !appctx.HasScope(ctx, scope) {
			_ = c.Error(
				apperror.NewForbidden("insufficient scope").
					WithDetail("required_scope", scope),
			)
			c.Abort()
			return
		}

		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	_ = c.Error(apperror.NewUnauthorized(message))
	c.Abort()
}
