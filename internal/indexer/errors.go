package indexer

import (
	"errors"
	"fmt"
)

// Stage error kinds. Every StageError matches exactly one of these with errors.Is.
var (
	// ErrExtraction aborts the job: there is no text to process.
	ErrExtraction = errors.New("extraction error")

	// ErrChunking aborts the job: text produced no chunks.
	ErrChunking = errors.New("chunking error")

	// ErrEmbedding fails one chunk; sibling chunks continue.
	ErrEmbedding = errors.New("embedding error")

	// ErrIndex fails one processing batch after its retries; later batches continue.
	ErrIndex = errors.New("index error")

	// ErrVerification downgrades an otherwise successful run to failed.
	ErrVerification = errors.New("verification error")
)

var (
	// ErrDocumentBusy is returned when another worker holds the document's lease. No status is
	// written; the job should be delivered again later.
	ErrDocumentBusy = errors.New("document is being processed by another worker")

	// ErrInvalidJob is returned for payloads without a document id.
	ErrInvalidJob = errors.New("invalid job payload")

	// ErrPanic wraps a recovered panic from the job body.
	ErrPanic = errors.New("pipeline panic")
)

// StageError records which stage failed and why.
type StageError struct {
	Kind error  // One of the stage kinds above.
	Op   string // What was being done: "extract", "chunk 3", "batch 2"...
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func stageErr(kind error, op string, err error) *StageError {
	return &StageError{Kind: kind, Op: op, Err: err}
}
