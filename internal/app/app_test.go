package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/doc-ingest/internal/config"
	"github.com/bull/doc-ingest/internal/indexer"
	"github.com/bull/doc-ingest/internal/lease"
	"github.com/bull/doc-ingest/internal/storage"
)

func testConfig() config.Config {
	return config.Config{
		VectorStore:    "memory",
		DatabaseDriver: "sqlite",
		DatabaseDSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		RedisQueue:     "test:jobs",
		EmbeddingModel: "text-embedding-3-small",
		ChunkSize:      1000,
		ChunkOverlap:   200,
		BatchSize:      5,
		RetryAttempts:  3,
		RetryDelay:     time.Millisecond,
		ExtractTimeout: time.Second,
		EmbedTimeout:   time.Second,
		UpsertTimeout:  time.Second,
		LeaseTTL:       time.Minute,
		Workers:        1,
		QdrantPort:     6334,
	}
}

func TestNew_MemoryStore(t *testing.T) {
	a, err := New(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.IsType(t, &storage.MemoryIndex{}, a.Index)
	assert.Nil(t, a.Qdrant)
	assert.Nil(t, a.Queue)
	assert.IsType(t, &lease.LocalLeaser{}, a.Leaser())
	require.NoError(t, a.Documents.Ping(context.Background()))

	err = a.Enqueue(context.Background(), indexer.Job{DocumentID: "doc-1", OwnerID: "owner-1", FileExtension: "pdf"})
	assert.ErrorContains(t, err, "REDIS_ADDR")
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.VectorStore = "pinecone"

	_, err := New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "VECTOR_STORE")
}

func TestNew_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisAddr = mr.Addr()

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NotNil(t, a.Queue)
	assert.IsType(t, &lease.RedisLeaser{}, a.Leaser())

	ctx := context.Background()
	require.NoError(t, a.Enqueue(ctx, indexer.Job{DocumentID: "doc-1", OwnerID: "owner-1", FileExtension: "pdf"}))
	assert.Error(t, a.Enqueue(ctx, indexer.Job{OwnerID: "owner-1"}))

	pending, inFlight, err := a.Queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
	assert.Equal(t, int64(0), inFlight)
}

func TestPipeline_RequiresAPIKey(t *testing.T) {
	a, err := New(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.Pipeline(context.Background())
	assert.ErrorContains(t, err, "OPENAI_API_KEY")
}

func TestPipeline_Builds(t *testing.T) {
	cfg := testConfig()
	cfg.OpenAIAPIKey = "sk-test"
	cfg.PartitionURL = "http://localhost:9999/partition"

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	p, err := a.Pipeline(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, p)

	router, err := a.Extractor(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, router.Partition)
	assert.Nil(t, router.DocumentAI)
}
