package storage

import (
	"context"
	"slices"
	"sync"
)

// MemoryIndex is an in-process VectorIndex for local runs and tests.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[string]VectorRecord
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]VectorRecord)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, records []VectorRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		r.Values = slices.Clone(r.Values)
		m.records[r.ID] = r
	}
	return nil
}

func (m *MemoryIndex) Fetch(ctx context.Context, ids []string) ([]VectorRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found []VectorRecord
	for _, id := range ids {
		if r, ok := m.records[id]; ok {
			r.Values = slices.Clone(r.Values)
			found = append(found, r)
		}
	}
	return found, nil
}

func (m *MemoryIndex) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

func (m *MemoryIndex) CountByDocument(ctx context.Context, documentID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(m.IDs(documentID)), nil
}

// IDs returns the sorted vector ids stored for a document.
func (m *MemoryIndex) IDs(documentID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, r := range m.records {
		if r.Metadata.DocumentID == documentID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Len returns the total number of stored records.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
