package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VectorRecord is one chunk embedding as written to the vector index.
type VectorRecord struct {
	ID       string    // Deterministic: "{documentId}_chunk_{chunkIndex}"
	Values   []float32 // VectorDimension floats
	Metadata RecordMetadata
}

// RecordMetadata is stored alongside each vector.
type RecordMetadata struct {
	DocumentID  string
	ChunkIndex  int // Zero-based
	TotalChunks int
	SourceName  string
	Text        string
	Timestamp   time.Time
}

// DefaultCollection is the Qdrant collection holding every document's chunks.
const DefaultCollection = "document_chunks"

// VectorDimension is the embedding size for text-embedding-3-small.
const VectorDimension = 1536

// VectorID returns the id of a document's chunk. Chunk indexes are zero-based, so a document
// with n chunks owns exactly the ids for [0, n).
func VectorID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, chunkIndex)
}

// VectorIDs returns the ids for chunk indexes [from, to).
func VectorIDs(documentID string, from, to int) []string {
	if to <= from {
		return nil
	}
	ids := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		ids = append(ids, VectorID(documentID, i))
	}
	return ids
}

// pointNamespace scopes the name-based UUIDs derived from vector ids.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("doc-ingest/vector"))

// PointID maps a vector id onto the UUID Qdrant stores it under. The mapping is stable, so
// writing the same vector id twice overwrites one point.
func PointID(vectorID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(vectorID)).String()
}
