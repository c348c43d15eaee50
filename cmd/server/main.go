// Package main is the entry point for the POS API server.
// Each node serves its local store; nodes with a REMOTE_URL replicate with
// the authority, nodes with a REPLICATION_SECRET serve replication peers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"poscore/internal/app"
	"poscore/internal/config"
	v1 "poscore/internal/infrastructure/http/v1"
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

	log.Infow("starting poscore server", "node", cfg.NodeID, "store", cfg.StoreDriver)

	services, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize services", "error", err)
	}
	defer func() {
		if err := services.Close(); err != nil {
			log.Warnw("close failed", "error", err)
		}
	}()

	router := v1.NewRouter(v1.RouterConfig{
		Services:         services,
		Logger:           log,
		ServeReplication: services.JWT != nil,
		Debug:            cfg.IsDevelopment(),
	})

	// --- Live replication ---
	var live *replication.Handle
	if cfg.LiveSync && services.Engine != nil {
		live = services.Engine.StartLive(ctx)
		log.Infow("live replication started", "remote", cfg.RemoteURL, "interval", cfg.SyncInterval)
	}

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.AppPort, "replication_peer", services.JWT != nil)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}
	if live != nil {
		live.Cancel()
	}

	log.Info("server stopped")
}
