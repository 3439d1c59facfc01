//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStorage creates a test storage instance in a throwaway collection.
// Skips test if Qdrant is not running.
func setupTestStorage(t *testing.T) *QdrantStorage {
	storage, err := NewQdrantStorage(QdrantConfig{
		Host:       "localhost",
		Port:       6334,
		Collection: "test_" + uuid.NewString()[:8],
		Dimension:  3,
	})
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}

	err = storage.EnsureCollection(context.Background())
	require.NoError(t, err, "Failed to ensure collection")

	t.Cleanup(func() {
		_ = storage.client.DeleteCollection(context.Background(), storage.collection)
		storage.Close()
	})
	return storage
}

func TestQdrant_UpsertFetchRoundTrip(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	docID := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Second)
	r := VectorRecord{
		ID:     VectorID(docID, 0),
		Values: []float32{0.1, 0.2, 0.3},
		Metadata: RecordMetadata{
			DocumentID:  docID,
			ChunkIndex:  0,
			TotalChunks: 1,
			SourceName:  "manual.pdf",
			Text:        "chunk text",
			Timestamp:   now,
		},
	}
	require.NoError(t, storage.Upsert(ctx, []VectorRecord{r}))

	found, err := storage.Fetch(ctx, []string{r.ID, VectorID(docID, 1)})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, r.ID, found[0].ID)
	assert.Equal(t, r.Metadata, found[0].Metadata)
}

func TestQdrant_UpsertIsIdempotent(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()
	docID := uuid.NewString()

	for _, text := range []string{"first", "second"} {
		require.NoError(t, storage.Upsert(ctx, []VectorRecord{{
			ID:       VectorID(docID, 0),
			Values:   []float32{1, 0, 0},
			Metadata: RecordMetadata{DocumentID: docID, Text: text, TotalChunks: 1},
		}}))
	}

	count, err := storage.CountByDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	found, err := storage.Fetch(ctx, []string{VectorID(docID, 0)})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "second", found[0].Metadata.Text)
}

func TestQdrant_Delete(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()
	docID := uuid.NewString()

	var records []VectorRecord
	for i := 0; i < 3; i++ {
		records = append(records, VectorRecord{
			ID:       VectorID(docID, i),
			Values:   []float32{float32(i), 1, 0},
			Metadata: RecordMetadata{DocumentID: docID, ChunkIndex: i, TotalChunks: 3},
		})
	}
	require.NoError(t, storage.Upsert(ctx, records))
	require.NoError(t, storage.Delete(ctx, VectorIDs(docID, 1, 3)))

	count, err := storage.CountByDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestQdrant_DimensionMismatch(t *testing.T) {
	storage := setupTestStorage(t)

	err := storage.Upsert(context.Background(), []VectorRecord{{
		ID:     VectorID("doc", 0),
		Values: []float32{1, 2},
	}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestQdrant_EnsureCollectionIdempotent(t *testing.T) {
	storage := setupTestStorage(t)
	require.NoError(t, storage.EnsureCollection(context.Background()))

	info, err := storage.GetCollectionInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), info.PointsCount)
}
