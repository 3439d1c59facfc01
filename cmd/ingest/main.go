// Package main provides the ingest CLI for registering, processing and inspecting documents.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/doc-ingest/internal/app"
	"github.com/bull/doc-ingest/internal/config"
	"github.com/bull/doc-ingest/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Document ingestion pipeline",
	Long: `CLI for the document ingestion pipeline: extract text, chunk, embed and index documents
in Qdrant, tracking each document's status in the documents table.

Environment variables:
  DATABASE_DRIVER  postgres or sqlite (default: sqlite)
  DATABASE_DSN     database connection string (default: file:ingest.db)
  VECTOR_STORE     qdrant or memory (default: qdrant)
  QDRANT_HOST      Qdrant hostname (default: localhost)
  QDRANT_PORT      Qdrant gRPC port (default: 6334)
  OPENAI_API_KEY   OpenAI API key for embeddings (required for processing)
  REDIS_ADDR       Redis address; enables the job queue and document leases
  PARTITION_URL    document partition service endpoint`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		slog.SetDefault(logging.New(cfg.LogLevel, cfg.LogFormat))
	},
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext cancels on SIGTERM/SIGINT.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// openApp loads configuration and connects to every configured backend.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, config.Load(), slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return a, nil
}
