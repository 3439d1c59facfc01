// Package main provides the MCP server entry point for document processing status.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bull/doc-ingest/internal/app"
	"github.com/bull/doc-ingest/internal/config"
	"github.com/bull/doc-ingest/internal/logging"
	mcpserver "github.com/bull/doc-ingest/internal/mcp"
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	envErr := godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.Close()

	serverCfg := &mcpserver.Config{
		Documents: a.Documents,
		Vectors:   a.Index,
	}
	if a.Queue != nil {
		serverCfg.Jobs = a
	} else {
		logger.Warn("REDIS_ADDR not set, process_document is disabled")
	}
	server := mcpserver.NewServer(serverCfg)

	// Qdrant is unchecked when the in-memory index is selected.
	var qdrantCheck mcpserver.HealthChecker
	if a.Qdrant != nil {
		qdrantCheck = a.Qdrant
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(qdrantCheck, mcpserver.HealthFunc(a.Documents.Ping)))
	mux.Handle("/mcp", mcpserver.NewHTTPHandler(server, &mcpserver.HTTPHandlerOptions{Stateless: true}))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", httpServer.Addr, "server_mode", cfg.ServerMode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if cfg.ServerMode {
		// HTTP mode: serve MCP over HTTP for remote clients
		select {
		case <-ctx.Done():
			return nil
		case err := <-serveErr:
			return err
		}
	}

	// Stdio mode: the HTTP listener stays up for /health during local runs
	logger.Info("starting document status MCP server (stdio mode)")
	return server.Run(ctx)
}
