// Notes MCP server - exposes transcripts and note enhancement to agents over stdio
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/config"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/llm"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/mcptools"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/orchestrator"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/rowstore"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()

	// stdout carries the protocol
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("mcp server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := rowstore.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	provider, err := llm.NewProvider(llm.Options{Provider: cfg.LLMProvider, BaseURL: cfg.LLMBaseURL})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr, err := orchestrator.New(ctx, cfg, store, provider)
	if err != nil {
		return err
	}
	defer mgr.Stop()

	slog.Info("mcp server starting", "db", cfg.DBPath)
	return server.ServeStdio(mcptools.NewServer(mgr, version))
}
