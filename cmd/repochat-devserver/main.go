// Package main runs the development stub of the Codebase Comprehender
// backend: the full wire protocol against canned answers, for offline
// work on the client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mkarlsen/repochat/internal/devstub"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	socketPath := flag.String("socket-path", "/ws", "websocket upgrade path")
	chunkSize := flag.Int("chunk-size", 24, "stream chunk length in runes")
	chunkDelay := flag.Duration("chunk-delay", 40*time.Millisecond, "pause between stream chunks")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug || os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	stub := devstub.New(devstub.Options{
		SocketPath: *socketPath,
		ChunkSize:  *chunkSize,
		ChunkDelay: *chunkDelay,
		Logger:     logger,
	})

	httpServer := &http.Server{
		Addr:         *addr,
		Handler:      stub,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // websocket connections stay open
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("devserver listening",
			"addr", *addr,
			"socket", fmt.Sprintf("ws://localhost%s%s", *addr, *socketPath))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down devserver")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("devserver error", "error", err)
		os.Exit(1)
	}
	logger.Info("devserver stopped")
}
