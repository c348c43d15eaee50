// Package main is the entry point for the POS background worker.
// It drives live replication with the authority without serving HTTP and
// prunes expired idempotency keys.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"poscore/internal/app"
	"poscore/internal/config"
	"poscore/internal/replication"
	"poscore/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Infow("starting poscore worker", "node", cfg.NodeID)

	services, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize services", "error", err)
	}
	defer func() {
		if err := services.Close(); err != nil {
			log.Warnw("close failed", "error", err)
		}
	}()

	worker := NewWorker(services, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-worker.Done():
	}

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// expirer is implemented by idempotency stores that need explicit pruning.
type expirer interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Worker runs background jobs for one node.
type Worker struct {
	services *app.Services
	log      *logger.Logger
	done     chan struct{}
}

// NewWorker creates a worker.
func NewWorker(services *app.Services, log *logger.Logger) *Worker {
	return &Worker{
		services: services,
		log:      log.WithComponent("worker"),
		done:     make(chan struct{}),
	}
}

// Done is closed when live replication fails terminally.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Run starts live replication and the cleanup loop until ctx ends.
func (w *Worker) Run(ctx context.Context) {
	var live *replication.Handle
	if w.services.Engine != nil {
		live = w.services.Engine.StartLive(ctx)
		w.log.Infow("live replication started", "collections", w.services.Engine.Collections())
	} else {
		w.log.Info("no remote configured, replication disabled")
	}

	statusTicker := time.NewTicker(1 * time.Minute)
	defer statusTicker.Stop()

	cleanupTicker := time.NewTicker(1 * time.Hour)
	defer cleanupTicker.Stop()

	var liveDone <-chan struct{}
	if live != nil {
		liveDone = live.Done()
	}

	for {
		select {
		case <-ctx.Done():
			if live != nil {
				live.Cancel()
			}
			return
		case <-liveDone:
			status := w.services.Engine.Status()
			w.log.Errorw("live replication stopped", "state", status.State, "error", status.LastError)
			close(w.done)
			return
		case <-statusTicker.C:
			w.reportStatus()
		case <-cleanupTicker.C:
			w.cleanupIdempotency(ctx)
		}
	}
}

func (w *Worker) reportStatus() {
	if w.services.Engine == nil {
		return
	}
	status := w.services.Engine.Status()
	w.log.Debugw("replication status",
		"state", status.State,
		"last_sync_at", status.LastSyncAt,
		"last_error", status.LastError,
	)
}

func (w *Worker) cleanupIdempotency(ctx context.Context) {
	store, ok := w.services.Idempotency.(expirer)
	if !ok {
		return
	}
	count, err := store.CleanupExpired(ctx)
	if err != nil {
		w.log.Warnw("idempotency cleanup failed", "error", err)
		return
	}
	if count > 0 {
		w.log.Infow("cleaned up idempotency keys", "count", count)
	}
}
