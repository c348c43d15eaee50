package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"poscore/internal/core/apperror"
	"poscore/internal/core/docstore"
	"poscore/internal/infrastructure/codec"
	"poscore/internal/infrastructure/replication/httppeer"
	"poscore/internal/replication"
)

const maxReplicationBody = 64 << 20

// ReplicationHandler serves the replication endpoints of the authority.
// Bodies may be zstd-encoded in either direction.
type ReplicationHandler struct {
	*BaseHandler
	peer        *replication.StorePeer
	zstd        *codec.Zstd
	collections map[string]bool
}

// NewReplicationHandler serves the named collections of store.
func NewReplicationHandler(base *BaseHandler, store docstore.Store, collections []string, zstd *codec.Zstd, opts ...replication.StorePeerOption) *ReplicationHandler {
	allowed := make(map[string]bool, len(collections))
	for _, name := range collections {
		allowed[name] = true
	}
	return &ReplicationHandler{
		BaseHandler: base,
		peer:        replication.NewStorePeer(store, opts...),
		zstd:        zstd,
		collections: allowed,
	}
}

func (h *ReplicationHandler) collection(c *gin.Context) (string, bool) {
	name := c.Param("collection")
	if !h.collections[name] {
		h.Error(c, apperror.NewNotFound("collection", name))
		return "", false
	}
	return name, true
}

func (h *ReplicationHandler) bind(c *gin.Context, obj any) bool {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxReplicationBody))
	if err != nil {
		h.Error(c, apperror.NewValidation("unreadable request body"))
		return false
	}
	if c.GetHeader("Content-Encoding") == codec.ContentEncoding {
		if raw, err = h.zstd.Decode(raw); err != nil {
			h.Error(c, apperror.NewValidation("invalid zstd body"))
			return false
		}
	}
	if err := json.Unmarshal(raw, obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return false
	}
	return true
}

func (h *ReplicationHandler) respond(c *gin.Context, obj any) {
	raw, err := json.Marshal(obj)
	if err != nil {
		h.Error(c, apperror.NewInternal(err))
		return
	}
	if strings.Contains(c.GetHeader("Accept-Encoding"), codec.ContentEncoding) {
		c.Header("Content-Encoding", codec.ContentEncoding)
		raw = h.zstd.Encode(raw)
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func (h *ReplicationHandler) storeError(c *gin.Context, err error) {
	if errors.Is(err, docstore.ErrUnknownCollection) {
		h.Error(c, apperror.NewNotFound("collection", c.Param("collection")))
		return
	}
	h.Error(c, apperror.NewInternal(err))
}

// Ping handles GET /replication/ping.
func (h *ReplicationHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Changes handles GET /replication/:collection/changes.
func (h *ReplicationHandler) Changes(c *gin.Context) {
	name, ok := h.collection(c)
	if !ok {
		return
	}
	since, err := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil || since < 0 {
		h.Error(c, apperror.NewValidation("since must be a non-negative integer").WithDetail("field", "since"))
		return
	}
	limit := h.ParseIntQuery(c, "limit", replication.DefaultBatchSize)
	if limit <= 0 || limit > 10*replication.DefaultBatchSize {
		limit = replication.DefaultBatchSize
	}

	changes, last, err := h.peer.Changes(c.Request.Context(), name, since, limit)
	if err != nil {
		h.storeError(c, err)
		return
	}
	if changes == nil {
		changes = []docstore.Change{}
	}
	h.respond(c, httppeer.ChangesResponse{Changes: changes, Last: last})
}

// RevsDiff handles POST /replication/:collection/revs-diff.
func (h *ReplicationHandler) RevsDiff(c *gin.Context) {
	name, ok := h.collection(c)
	if !ok {
		return
	}
	var req httppeer.RevsRequest
	if !h.bind(c, &req) {
		return
	}

	missing, err := h.peer.RevsDiff(c.Request.Context(), name, req.Revs)
	if err != nil {
		h.storeError(c, err)
		return
	}
	h.respond(c, httppeer.RevsDiffResponse{Missing: missing})
}

// Revisions handles POST /replication/:collection/revisions.
func (h *ReplicationHandler) Revisions(c *gin.Context) {
	name, ok := h.collection(c)
	if !ok {
		return
	}
	var req httppeer.RevsRequest
	if !h.bind(c, &req) {
		return
	}

	replicas, err := h.peer.Revisions(c.Request.Context(), name, req.Revs)
	if err != nil {
		h.storeError(c, err)
		return
	}
	h.respond(c, httppeer.ReplicasBody{Replicas: replicas})
}

// Bulk handles POST /replication/:collection/bulk.
func (h *ReplicationHandler) Bulk(c *gin.Context) {
	name, ok := h.collection(c)
	if !ok {
		return
	}
	var req httppeer.ReplicasBody
	if !h.bind(c, &req) {
		return
	}

	written, err := h.peer.BulkReplicate(c.Request.Context(), name, req.Replicas)
	if err != nil {
		h.storeError(c, err)
		return
	}
	h.respond(c, httppeer.BulkResponse{Written: written})
}
