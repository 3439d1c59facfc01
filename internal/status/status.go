// Package status persists each document's processing state so callers can poll progress.
package status

import (
	"context"
	"errors"
	"time"
)

// Status is a document's lifecycle state.
type Status string

const (
	Pending    Status = "pending"
	Processing Status = "processing"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

// Terminal reports whether s ends a processing run.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

// Valid reports whether s is a known state.
func (s Status) Valid() bool {
	switch s {
	case Pending, Processing, Completed, Failed:
		return true
	}
	return false
}

// ErrStatusWrite is returned when a status write still fails after every retry.
var ErrStatusWrite = errors.New("status write failed")

// ErrNotFound is returned by stores for unknown documents.
var ErrNotFound = errors.New("document not found")

// Record is the persisted status of one document.
type Record struct {
	DocumentID      string
	Status          Status
	Message         string
	TotalChunks     int
	ProcessedChunks int
	UpdatedAt       time.Time
}

// Update is a partial write. Nil counters and an empty Status are left unchanged.
type Update struct {
	Status          Status
	Message         string
	TotalChunks     *int
	ProcessedChunks *int
}

// Store reads and writes status records.
type Store interface {
	Read(ctx context.Context, documentID string) (*Record, error)
	Write(ctx context.Context, documentID string, u Update) error
}
