package storage

import "errors"

var (
	ErrQdrantUnreachable  = errors.New("qdrant server unreachable")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")

	// ErrInvalidRecord is returned for a record with no vector id or document id.
	ErrInvalidRecord = errors.New("invalid vector record")
)
