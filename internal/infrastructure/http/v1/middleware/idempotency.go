package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"poscore/internal/core/apperror"
	appctx "poscore/internal/core/context"
	"poscore/internal/infrastructure/idempotency"
)

const HeaderIdempotencyKey = "X-Idempotency-Key"
const maxIdempotencyBodyBytes = 1 << 20 // 1 MiB

const (
	contextKeyIdempotencyKey   = "idempotency_key"
	contextKeyIdempotencyStore = "idempotency_store"
)

// Idempotency middleware replays the first response of requests repeated
// with the same X-Idempotency-Key. Only POST, PUT and PATCH are covered.
func Idempotency(store idempotency.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost &&
			c.Request.Method != http.MethodPut &&
			c.Request.Method != http.MethodPatch {
			c.Next()
			return
		}

		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}

		limited := io.LimitReader(c.Request.Body, maxIdempotencyBodyBytes+1)
		body, _ := io.ReadAll(limited)
		if len(body) > maxIdempotencyBodyBytes {
			appErr := apperror.NewValidation("request body too large for idempotency")
			appErr.HTTPStatus = http.StatusRequestEntityTooLarge
			_ = c.Error(appErr.WithDetail("max_bytes", maxIdempotencyBodyBytes))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		hash := sha256.Sum256(body)

		caller := ""
		if peer := appctx.GetPeer(c.Request.Context()); peer != nil {
			caller = peer.NodeID
		}
		fp := idempotency.Fingerprint{
			Caller:      caller,
			Operation:   c.Request.Method + " " + c.Request.URL.Path,
			RequestHash: hex.EncodeToString(hash[:]),
		}

		replay, err := store.Acquire(c.Request.Context(), key, fp)
		if err != nil {
			if appErr, ok := apperror.AsAppError(err); ok {
				_ = c.Error(appErr)
				c.Abort()
				return
			}
			_ = c.Error(apperror.NewInternal(err).WithDetail("component", "idempotency"))
			c.Abort()
			return
		}

		if replay != nil {
			c.Header("X-Idempotent-Replay", "true")
			c.Data(replay.StatusCode, replay.ContentType, replay.Body)
			c.Abort()
			return
		}

		c.Set(contextKeyIdempotencyKey, key)
		c.Set(contextKeyIdempotencyStore, store)

		c.Next()
	}
}

// IdempotencyFromContext returns the key acquired for this request.
func IdempotencyFromContext(c *gin.Context) (string, idempotency.Store, bool) {
	key, ok := c.Get(contextKeyIdempotencyKey)
	if !ok {
		return "", nil, false
	}
	store, ok := c.Get(contextKeyIdempotencyStore)
	if !ok {
		return "", nil, false
	}
	s, ok := store.(idempotency.Store)
	if !ok || s == nil {
		return "", nil, false
	}
	return key.(string), s, true
}
