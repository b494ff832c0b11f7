// Notes server - records transcripts, reconciles STT output and enhances notes over HTTP/WebSocket
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/config"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/llm"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/orchestrator"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/rowstore"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/server"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	store, err := rowstore.OpenSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	provider, err := llm.NewProvider(llm.Options{Provider: cfg.LLMProvider, BaseURL: cfg.LLMBaseURL})
	if err != nil {
		slog.Error("failed to create llm provider", "provider", cfg.LLMProvider, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr, err := orchestrator.New(ctx, cfg, store, provider)
	if err != nil {
		slog.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	srv := server.New(mgr)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		slog.Info("notes server starting", "http", cfg.HTTPAddr, "db", cfg.DBPath)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	mgr.Stop()
	slog.Info("shutdown complete")
}
