package httppeer_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscore/internal/core/docstore"
	"poscore/internal/core/revision"
	"poscore/internal/domain/auth"
	"poscore/internal/infrastructure/codec"
	"poscore/internal/infrastructure/http/v1/handlers"
	"poscore/internal/infrastructure/http/v1/middleware"
	"poscore/internal/infrastructure/replication/httppeer"
	"poscore/internal/infrastructure/storage/memory"
	"poscore/internal/replication"
)

const secret = "peer-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// authority serves the replication endpoints over a memory store.
func authority(t *testing.T, served ...string) (*memory.Store, *httptest.Server) {
	t.Helper()
	store, err := memory.New([]string{"items", "counters"})
	require.NoError(t, err)

	z, err := codec.NewZstd()
	require.NoError(t, err)

	h := handlers.NewReplicationHandler(handlers.NewBaseHandler(), store, served, z)
	r := gin.New()
	r.Use(middleware.ErrorHandler())
	g := r.Group("/api/v1/replication")
	g.Use(middleware.PeerAuth(auth.NewJWTService(auth.DefaultJWTConfig(secret)), auth.ScopeReplicate))
	g.GET("/ping", h.Ping)
	g.GET("/:collection/changes", h.Changes)
	g.POST("/:collection/revs-diff", h.RevsDiff)
	g.POST("/:collection/revisions", h.Revisions)
	g.POST("/:collection/bulk", h.Bulk)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return store, srv
}

func client(t *testing.T, baseURL, key string, compress bool) *httppeer.Client {
	t.Helper()
	tokens := auth.NewTokenSource(auth.NewJWTService(auth.DefaultJWTConfig(key)), "branch-1", auth.ScopeReplicate)
	c, err := httppeer.New(httppeer.Config{
		BaseURL:  baseURL + "/api/v1/replication",
		Timeout:  5 * time.Second,
		Compress: compress,
	}, tokens, nil)
	require.NoError(t, err)
	return c
}

func TestClient_EngineRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		compress := compress
		name := "plain"
		if compress {
			name = "zstd"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			remote, srv := authority(t, "items")

			local, err := memory.New([]string{"items"})
			require.NoError(t, err)
			items, err := local.Collection("items")
			require.NoError(t, err)
			_, err = items.Put(ctx, "a", json.RawMessage(`{"name":"a"}`), revision.Zero)
			require.NoError(t, err)

			remoteItems, err := remote.Collection("items")
			require.NoError(t, err)
			_, err = remoteItems.Put(ctx, "b", json.RawMessage(`{"name":"b"}`), revision.Zero)
			require.NoError(t, err)

			peer := client(t, srv.URL, secret, compress)
			require.NoError(t, peer.Ping(ctx))

			engine := replication.NewEngine(local, peer, replication.Config{PeerName: "authority"})
			res, err := engine.SyncOnce(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Pushed)
			assert.Equal(t, 1, res.Pulled)

			env, err := remoteItems.Get(ctx, "a")
			require.NoError(t, err)
			assert.JSONEq(t, `{"name":"a"}`, string(env.Body))

			_, err = items.Get(ctx, "b")
			require.NoError(t, err)

			res, err = engine.SyncOnce(ctx)
			require.NoError(t, err)
			assert.Zero(t, res.Pushed)
			assert.Zero(t, res.Pulled)
		})
	}
}

func TestClient_Changes(t *testing.T) {
	ctx := context.Background()
	remote, srv := authority(t, "items")
	coll, err := remote.Collection("items")
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		_, err := coll.Put(ctx, id, json.RawMessage(`{}`), revision.Zero)
		require.NoError(t, err)
	}

	peer := client(t, srv.URL, secret, true)
	changes, last, err := peer.Changes(ctx, "items", 0, 2)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "a", changes[0].ID)

	changes, _, err = peer.Changes(ctx, "items", last, 2)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "c", changes[0].ID)
}

func TestClient_Errors(t *testing.T) {
	ctx := context.Background()
	_, srv := authority(t, "items")

	t.Run("foreign secret is unauthorized", func(t *testing.T) {
		err := client(t, srv.URL, "other-secret", false).Ping(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, replication.ErrUnauthorized))

		var se *httppeer.StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusUnauthorized, se.Status)
		assert.Equal(t, "UNAUTHORIZED", se.Body.Code)
	})

	t.Run("collection not served", func(t *testing.T) {
		_, _, err := client(t, srv.URL, secret, false).Changes(ctx, "counters", 0, 10)
		require.Error(t, err)
		assert.True(t, errors.Is(err, docstore.ErrUnknownCollection))
	})

	t.Run("unreachable", func(t *testing.T) {
		err := client(t, "http://127.0.0.1:1", secret, false).Ping(ctx)
		require.Error(t, err)
		assert.False(t, errors.Is(err, replication.ErrUnauthorized))
	})
}

func TestNew_RejectsEmptyBaseURL(t *testing.T) {
	_, err := httppeer.New(httppeer.Config{}, nil, nil)
	assert.Error(t, err)
}
