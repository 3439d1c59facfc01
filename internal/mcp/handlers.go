package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/doc-ingest/internal/documents"
	"github.com/bull/doc-ingest/internal/indexer"
	"github.com/bull/doc-ingest/internal/status"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// makeStatusHandler creates the get_document_status tool handler.
// Unknown ids are reported with Found=false rather than as a tool error.
func makeStatusHandler(store DocumentStore, vectors VectorCounter) func(
	context.Context, *mcp.CallToolRequest, DocumentStatusInput,
) (*mcp.CallToolResult, DocumentStatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input DocumentStatusInput) (
		*mcp.CallToolResult, DocumentStatusOutput, error,
	) {
		id := strings.TrimSpace(input.DocumentID)
		if id == "" {
			return nil, DocumentStatusOutput{}, errors.New("document_id is required")
		}

		doc, err := store.Get(ctx, id)
		if errors.Is(err, documents.ErrNotFound) {
			return nil, DocumentStatusOutput{DocumentID: id, Found: false}, nil
		}
		if err != nil {
			return nil, DocumentStatusOutput{}, fmt.Errorf("database_error: failed to read document: %w", err)
		}

		out := DocumentStatusOutput{
			DocumentID:      doc.ID,
			Found:           true,
			Status:          doc.ProcessingStatus,
			Message:         doc.StatusMessage,
			TotalChunks:     doc.TotalChunks,
			ProcessedChunks: doc.ProcessedChunks,
			SourceName:      doc.FileName,
			UpdatedAt:       doc.UpdatedAt,
		}

		// A vector count is informational; an unreachable index leaves it unset.
		if vectors != nil {
			if count, err := vectors.CountByDocument(ctx, doc.ID); err == nil {
				out.IndexedVectors = &count
			}
		}

		return nil, out, nil
	}
}

// makeProcessHandler creates the process_document tool handler.
// The document must be registered; failed documents are reset to pending before queueing, which
// is the explicit retry trigger.
func makeProcessHandler(store DocumentStore, jobs JobSubmitter) func(
	context.Context, *mcp.CallToolRequest, ProcessDocumentInput,
) (*mcp.CallToolResult, ProcessDocumentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ProcessDocumentInput) (
		*mcp.CallToolResult, ProcessDocumentOutput, error,
	) {
		id := strings.TrimSpace(input.DocumentID)
		if id == "" {
			return nil, ProcessDocumentOutput{}, errors.New("document_id is required")
		}
		if jobs == nil {
			return nil, ProcessDocumentOutput{
				DocumentID: id,
				Message:    "No job queue is configured on this server.",
			}, nil
		}

		doc, err := store.Get(ctx, id)
		if errors.Is(err, documents.ErrNotFound) {
			return nil, ProcessDocumentOutput{
				DocumentID: id,
				Message:    "Document not found. Register it before processing.",
			}, nil
		}
		if err != nil {
			return nil, ProcessDocumentOutput{}, fmt.Errorf("database_error: failed to read document: %w", err)
		}

		if status.Status(doc.ProcessingStatus) == status.Failed {
			if err := store.Reset(ctx, id); err != nil {
				return nil, ProcessDocumentOutput{}, fmt.Errorf("database_error: failed to reset document: %w", err)
			}
		}

		job := indexer.Job{
			DocumentID:    id,
			OwnerID:       doc.OwnerID,
			FileExtension: input.FileExtension,
		}
		if err := jobs.Enqueue(ctx, job); err != nil {
			return nil, ProcessDocumentOutput{}, fmt.Errorf("queue_error: failed to queue document: %w", err)
		}

		return nil, ProcessDocumentOutput{
			DocumentID: id,
			Queued:     true,
			Message:    "Queued. Poll get_document_status for progress.",
		}, nil
	}
}

// makeListHandler creates the list_documents tool handler.
func makeListHandler(store DocumentStore) func(
	context.Context, *mcp.CallToolRequest, ListDocumentsInput,
) (*mcp.CallToolResult, ListDocumentsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListDocumentsInput) (
		*mcp.CallToolResult, ListDocumentsOutput, error,
	) {
		s := status.Status(strings.ToLower(strings.TrimSpace(input.Status)))
		if !s.Valid() {
			return nil, ListDocumentsOutput{}, fmt.Errorf("unknown status %q", input.Status)
		}
		limit := input.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		limit = min(limit, maxListLimit)

		docs, err := store.ListByStatus(ctx, s, limit)
		if err != nil {
			return nil, ListDocumentsOutput{}, fmt.Errorf("database_error: failed to list documents: %w", err)
		}

		out := ListDocumentsOutput{Documents: make([]DocumentSummary, 0, len(docs))}
		for _, doc := range docs {
			out.Documents = append(out.Documents, DocumentSummary{
				DocumentID:      doc.ID,
				Status:          doc.ProcessingStatus,
				Message:         doc.StatusMessage,
				TotalChunks:     doc.TotalChunks,
				ProcessedChunks: doc.ProcessedChunks,
				UpdatedAt:       doc.UpdatedAt,
			})
		}
		out.Count = len(out.Documents)
		return nil, out, nil
	}
}
