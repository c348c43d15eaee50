package replication

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"poscore/internal/core/apperror"
	"poscore/internal/core/docstore"
	"poscore/internal/core/revision"
	"poscore/pkg/logger"
)

var tracer = otel.Tracer("poscore/replication")

// DefaultBatchSize is the number of changes moved per round trip.
const DefaultBatchSize = 200

// Result counts the documents transferred by one sync.
type Result struct {
	Pushed      int                         `json:"pushed"`
	Pulled      int                         `json:"pulled"`
	Collections map[string]CollectionResult `json:"collections,omitempty"`
}

// CollectionResult counts the documents transferred for one collection.
type CollectionResult struct {
	Pushed int `json:"pushed"`
	Pulled int `json:"pulled"`
}

// CompletionHook runs after every sync. When a collection fails, the
// result holds what was transferred before the failure.
type CompletionHook func(ctx context.Context, result Result)

// Metrics receives replication measurements.
type Metrics interface {
	SyncCompleted(collection string, pushed, pulled int)
	SyncFailed(collection string, terminal bool)
	RetryAttempt()
	StateChanged(state string)
}

type nopMetrics struct{}

func (nopMetrics) SyncCompleted(string, int, int) {}
func (nopMetrics) SyncFailed(string, bool)        {}
func (nopMetrics) RetryAttempt()                  {}
func (nopMetrics) StateChanged(string)            {}

// Config configures an Engine.
type Config struct {
	// PeerName keys the local checkpoints for this peer.
	PeerName string
	// Collections are replicated in order when no explicit list is given.
	Collections []string
	BatchSize   int
	Interval    time.Duration
	Retry       RetryConfig
	Breaker     BreakerConfig
}

// Engine replicates the local store with one remote peer.
type Engine struct {
	local   docstore.Store
	remote  Peer
	cfg     Config
	retry   RetryConfig
	breaker *gobreaker.CircuitBreaker
	flight  singleflight.Group
	metrics Metrics
	log     *logger.Logger

	hooksMu sync.RWMutex
	hooks   []CompletionHook

	statusMu sync.RWMutex
	status   Status
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine creates an engine replicating local with remote.
func NewEngine(local docstore.Store, remote Peer, cfg Config, opts ...Option) *Engine {
	if cfg.PeerName == "" {
		cfg.PeerName = "remote"
	}
	if len(cfg.Collections) == 0 {
		cfg.Collections = local.Collections()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Breaker == (BreakerConfig{}) {
		cfg.Breaker = DefaultBreakerConfig()
	}

	e := &Engine{
		local:   local,
		remote:  remote,
		cfg:     cfg,
		retry:   cfg.Retry,
		metrics: nopMetrics{},
		log:     logger.Default(),
		status:  Status{State: StateIdle},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithComponent("replication").With("peer", cfg.PeerName)
	e.breaker = newBreaker("replication:"+cfg.PeerName, cfg.Breaker, e.log)
	return e
}

// OnComplete registers a hook run after every sync, including failed ones.
func (e *Engine) OnComplete(hook CompletionHook) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.hooks = append(e.hooks, hook)
}

// Collections returns the replicated collection names.
func (e *Engine) Collections() []string {
	return append([]string(nil), e.cfg.Collections...)
}

func (e *Engine) pushKey() string { return "push:" + e.cfg.PeerName }
func (e *Engine) pullKey() string { return "pull:" + e.cfg.PeerName }

// SyncOnce pushes local changes and pulls remote changes for the given
// collections, or for every configured collection when none are given.
// Concurrent calls for the same collections share one run.
func (e *Engine) SyncOnce(ctx context.Context, collections ...string) (Result, error) {
	if len(collections) == 0 {
		collections = e.cfg.Collections
	}
	key := flightKey(collections)

	ch := e.flight.DoChan(key, func() (any, error) {
		// The run outlives any single caller that gives up waiting.
		return e.syncCollections(context.WithoutCancel(ctx), collections)
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	}
}

func flightKey(collections []string) string {
	sorted := append([]string(nil), collections...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func (e *Engine) syncCollections(ctx context.Context, collections []string) (Result, error) {
	ctx, span := tracer.Start(ctx, "replication.sync",
		trace.WithAttributes(attribute.StringSlice("collections", collections)))
	defer span.End()

	result := Result{Collections: make(map[string]CollectionResult, len(collections))}
	var syncErr error
	for _, name := range collections {
		cr, err := e.syncCollection(ctx, name)
		if cr != (CollectionResult{}) || err == nil {
			result.Collections[name] = cr
			result.Pushed += cr.Pushed
			result.Pulled += cr.Pulled
		}
		if err != nil {
			syncErr = e.wrapError(name, err)
			e.metrics.SyncFailed(name, apperror.IsTerminalSync(syncErr))
			span.RecordError(syncErr)
			e.log.Warnw("sync failed", "collection", name, "error", err)
			break
		}
		e.metrics.SyncCompleted(name, cr.Pushed, cr.Pulled)
	}

	span.SetAttributes(attribute.Int("pushed", result.Pushed), attribute.Int("pulled", result.Pulled))
	if syncErr == nil && (result.Pushed > 0 || result.Pulled > 0) {
		e.log.Infow("sync completed", "pushed", result.Pushed, "pulled", result.Pulled)
	}

	// Batches written before a failure are already checkpointed, so hooks see them too.
	e.hooksMu.RLock()
	hooks := append([]CompletionHook(nil), e.hooks...)
	e.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, result)
	}
	return result, syncErr
}

func (e *Engine) wrapError(collection string, err error) error {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return apperror.NewSyncError("remote rejected replication credentials", true, err).
			WithDetail("collection", collection)
	case errors.Is(err, ErrOffline):
		return apperror.NewSyncError("remote unreachable", false, err).
			WithDetail("collection", collection).
			WithDetail("offline", true)
	case errors.Is(err, docstore.ErrUnknownCollection):
		return apperror.NewSyncError("collection is not replicated", true, err).
			WithDetail("collection", collection)
	default:
		return apperror.NewSyncError("sync failed", false, err).
			WithDetail("collection", collection)
	}
}

func (e *Engine) syncCollection(ctx context.Context, name string) (CollectionResult, error) {
	local, err := e.local.Collection(name)
	if err != nil {
		return CollectionResult{}, err
	}

	pushed, err := e.push(ctx, local)
	if err != nil {
		return CollectionResult{Pushed: pushed}, fmt.Errorf("push %s: %w", name, err)
	}
	pulled, err := e.pull(ctx, local)
	if err != nil {
		return CollectionResult{Pushed: pushed, Pulled: pulled}, fmt.Errorf("pull %s: %w", name, err)
	}
	return CollectionResult{Pushed: pushed, Pulled: pulled}, nil
}

type changesPage struct {
	changes []docstore.Change
	last    int64
}

func revsOf(changes []docstore.Change) map[string][]revision.Revision {
	revs := make(map[string][]revision.Revision, len(changes))
	for _, ch := range changes {
		revs[ch.ID] = append(revs[ch.ID], ch.Revs...)
	}
	return revs
}

// push sends local changes the remote does not know. The checkpoint
// advances only after each batch has been written remotely.
func (e *Engine) push(ctx context.Context, local docstore.Collection) (int, error) {
	name := local.Name()
	since, err := local.Checkpoint(ctx, e.pushKey())
	if err != nil {
		return 0, err
	}

	pushed := 0
	for {
		changes, last, err := local.Changes(ctx, since, e.cfg.BatchSize)
		if err != nil {
			return pushed, err
		}
		if len(changes) == 0 {
			return pushed, nil
		}

		missing, err := call(ctx, e, func(ctx context.Context) (map[string][]revision.Revision, error) {
			return e.remote.RevsDiff(ctx, name, revsOf(changes))
		})
		if err != nil {
			return pushed, err
		}

		if len(missing) > 0 {
			replicas, err := local.Revisions(ctx, missing)
			if err != nil {
				return pushed, err
			}
			written, err := call(ctx, e, func(ctx context.Context) (int, error) {
				return e.remote.BulkReplicate(ctx, name, replicas)
			})
			if err != nil {
				return pushed, err
			}
			pushed += written
		}

		if err := local.SetCheckpoint(ctx, e.pushKey(), last); err != nil {
			return pushed, err
		}
		since = last
		if len(changes) < e.cfg.BatchSize {
			return pushed, nil
		}
	}
}

// pull fetches remote changes the local store does not know.
func (e *Engine) pull(ctx context.Context, local docstore.Collection) (int, error) {
	name := local.Name()
	since, err := local.Checkpoint(ctx, e.pullKey())
	if err != nil {
		return 0, err
	}

	pulled := 0
	for {
		page, err := call(ctx, e, func(ctx context.Context) (changesPage, error) {
			changes, last, err := e.remote.Changes(ctx, name, since, e.cfg.BatchSize)
			return changesPage{changes: changes, last: last}, err
		})
		if err != nil {
			return pulled, err
		}
		if len(page.changes) == 0 {
			return pulled, nil
		}

		missing, err := local.RevsDiff(ctx, revsOf(page.changes))
		if err != nil {
			return pulled, err
		}

		if len(missing) > 0 {
			replicas, err := call(ctx, e, func(ctx context.Context) ([]docstore.Replica, error) {
				return e.remote.Revisions(ctx, name, missing)
			})
			if err != nil {
				return pulled, err
			}
			written, err := local.BulkReplicate(ctx, replicas)
			if err != nil {
				return pulled, err
			}
			pulled += written
		}

		if err := local.SetCheckpoint(ctx, e.pullKey(), page.last); err != nil {
			return pulled, err
		}
		since = page.last
		if len(page.changes) < e.cfg.BatchSize {
			return pulled, nil
		}
	}
}

// Probe checks connectivity through the breaker without retries.
func (e *Engine) Probe(ctx context.Context) error {
	_, err := e.breaker.Execute(func() (interface{}, error) {
		return nil, e.remote.Ping(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOffline
	}
	return err
}
