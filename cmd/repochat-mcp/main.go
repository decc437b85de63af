// Package main provides the entry point for the repochat MCP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mkarlsen/repochat/internal/api"
	"github.com/mkarlsen/repochat/internal/config"
	"github.com/mkarlsen/repochat/internal/metrics"
	"github.com/mkarlsen/repochat/internal/server"
	"github.com/mkarlsen/repochat/internal/store"
	"github.com/mkarlsen/repochat/internal/tools"
)

const version = "0.1.0"

func main() {
	// Load configuration
	cfg := config.Load()

	// Stdio carries the MCP protocol, so logs go to the file only.
	logger, cleanup := config.SetupQuietLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	logger.Info("repochat-mcp starting",
		"version", version,
		"server_url", cfg.ServerURL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	collector := metrics.NewCollector()
	apiClient := api.New(cfg.ServerURL, cfg.HTTPTimeout, logger, collector)

	// The local repo registry is optional: tools still work by URL
	// without it.
	repoStore, err := store.Open(cfg.DataDir)
	if err != nil {
		logger.Warn("repo registry unavailable, resolving by URL only", "error", err)
	} else {
		defer func() {
			_ = repoStore.Close()
		}()
	}

	// Create and setup server
	srv := server.New(version, logger, collector)
	srv.Setup()

	// Register tools
	deps := &tools.Dependencies{
		API:    apiClient,
		Store:  repoStore,
		Logger: logger,
	}
	tools.RegisterAll(srv.MCPServer(), deps)
	logger.Info("tools registered", "count", 4)

	logger.Info("server ready, awaiting connections")

	// Run server (blocks until disconnect or context cancelled)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
