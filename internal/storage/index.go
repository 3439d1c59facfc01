package storage

import "context"

// VectorIndex is the vector store the pipeline writes to. Upsert overwrites records with the
// same ID. Fetch returns only the records that exist, in no particular order.
type VectorIndex interface {
	Upsert(ctx context.Context, records []VectorRecord) error
	Fetch(ctx context.Context, ids []string) ([]VectorRecord, error)
	Delete(ctx context.Context, ids []string) error
	CountByDocument(ctx context.Context, documentID string) (int, error)
}

var (
	_ VectorIndex = (*QdrantStorage)(nil)
	_ VectorIndex = (*MemoryIndex)(nil)
)
