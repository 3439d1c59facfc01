// Package app wires configuration into the concrete stores, clients and pipeline shared by the
// ingest CLI and the MCP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	goredis "github.com/redis/go-redis/v9"

	"github.com/bull/doc-ingest/internal/chunker"
	"github.com/bull/doc-ingest/internal/config"
	"github.com/bull/doc-ingest/internal/documents"
	"github.com/bull/doc-ingest/internal/embedding"
	"github.com/bull/doc-ingest/internal/extract"
	"github.com/bull/doc-ingest/internal/indexer"
	"github.com/bull/doc-ingest/internal/lease"
	"github.com/bull/doc-ingest/internal/queue"
	"github.com/bull/doc-ingest/internal/redisclient"
	"github.com/bull/doc-ingest/internal/retry"
	"github.com/bull/doc-ingest/internal/status"
	"github.com/bull/doc-ingest/internal/storage"
)

// App holds the long-lived connections. Redis and Queue are nil when REDIS_ADDR is unset;
// Qdrant is nil when the memory vector store is selected.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Documents *documents.Repository
	Index     storage.VectorIndex
	Qdrant    *storage.QdrantStorage
	Redis     *goredis.Client
	Queue     *queue.RedisQueue

	closers []func() error
}

// New connects to the database, the vector store and (if configured) Redis.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &App{Config: cfg, Logger: logger}

	db, err := documents.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	a.Documents = documents.NewRepository(db)
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if err := a.Documents.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate documents: %w", err)
	}

	switch cfg.VectorStore {
	case "memory":
		logger.Warn("using in-memory vector index, vectors are lost on exit")
		a.Index = storage.NewMemoryIndex()
	default:
		store, err := storage.NewQdrantStorage(storage.QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey,
			UseTLS:     cfg.QdrantUseTLS,
			Collection: cfg.QdrantCollection,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureCollection(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("ensure collection: %w", err)
		}
		a.Qdrant = store
		a.Index = store
	}

	if cfg.RedisEnabled() {
		rdb, err := redisclient.New(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		a.Redis = rdb
		a.Queue = queue.NewRedisQueue(rdb, cfg.RedisQueue)
	}

	return a, nil
}

// Policy returns the configured retry policy for a call site.
func (a *App) Policy(name string) retry.Policy {
	return retry.Policy{
		MaxAttempts: a.Config.RetryAttempts,
		Backoff:     retry.Linear(a.Config.RetryDelay),
		Name:        name,
	}
}

// Tracker returns a status tracker over the documents table.
func (a *App) Tracker() *status.Tracker {
	return status.NewTracker(a.Documents, a.Policy("status_write"), a.Logger)
}

// Leaser returns a Redis leaser when Redis is configured, otherwise a process-local one.
func (a *App) Leaser() lease.Leaser {
	if a.Redis != nil {
		return lease.NewRedisLeaser(a.Redis, "", a.Config.LeaseTTL)
	}
	return lease.NewLocalLeaser(a.Config.LeaseTTL)
}

// Extractor builds the extraction router. Document AI is attached only when configured.
func (a *App) Extractor(ctx context.Context) (*extract.Router, error) {
	httpClient := &http.Client{}
	router := &extract.Router{
		Direct: extract.NewFetcher(httpClient),
	}
	if a.Config.PartitionURL != "" {
		router.Partition = extract.NewPartitionClient(a.Config.PartitionURL, a.Config.PartitionAPIKey, httpClient)
	}
	if a.Config.DocumentAIEnabled() {
		dai, err := extract.NewDocumentAI(ctx, extract.DocumentAIConfig{
			ProjectID:   a.Config.DocumentAIProject,
			Location:    a.Config.DocumentAILocation,
			ProcessorID: a.Config.DocumentAIProcessor,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, dai.Close)
		router.DocumentAI = dai
	}
	return router, nil
}

// Pipeline assembles the document pipeline. It needs OPENAI_API_KEY.
func (a *App) Pipeline(ctx context.Context) (*indexer.Pipeline, error) {
	if err := a.Config.ValidatePipeline(); err != nil {
		return nil, err
	}

	client, err := embedding.NewClient(a.Config.OpenAIAPIKey)
	if err != nil {
		return nil, err
	}
	embedder := embedding.NewEmbedder(client,
		embedding.WithModel(a.Config.EmbeddingModel),
		embedding.WithTimeout(a.Config.EmbedTimeout),
		embedding.WithRetry(a.Policy("embed")),
	)

	router, err := a.Extractor(ctx)
	if err != nil {
		return nil, err
	}

	deps := indexer.Deps{
		Locator:   a.Documents,
		Extractor: router,
		Chunker:   chunker.New(chunker.WithSize(a.Config.ChunkSize), chunker.WithOverlap(a.Config.ChunkOverlap)),
		Embedder:  embedder,
		Vectors:   storage.NewUpserter(a.Index, a.Policy("upsert"), a.Config.UpsertTimeout, embedder.Dimension()),
		Status:    a.Tracker(),
		Leaser:    a.Leaser(),
	}
	cfg := indexer.Config{
		BatchSize:      a.Config.BatchSize,
		BatchDelay:     a.Config.BatchDelay,
		ExtractTimeout: a.Config.ExtractTimeout,
		ExtractRetry:   a.Policy("extract"),
		LeaseHeartbeat: a.Config.LeaseTTL / 3,
	}
	return indexer.NewPipeline(deps, cfg, a.Logger), nil
}

// Enqueue pushes a job onto the Redis queue.
func (a *App) Enqueue(ctx context.Context, job indexer.Job) error {
	if a.Queue == nil {
		return errors.New("job queue requires REDIS_ADDR")
	}
	if err := job.Validate(); err != nil {
		return err
	}
	body, err := job.Encode()
	if err != nil {
		return err
	}
	return a.Queue.Enqueue(ctx, body)
}

// Close releases every connection in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
