// Package mcp exposes document processing status and job submission as MCP tools.
package mcp

import "time"

// DocumentStatusInput defines the input parameters for the get_document_status tool.
type DocumentStatusInput struct {
	// DocumentID is the id assigned when the document was registered.
	DocumentID string `json:"document_id" jsonschema:"The id of the document to look up"`
}

// DocumentStatusOutput is the persisted processing state of one document.
type DocumentStatusOutput struct {
	DocumentID string `json:"document_id"`
	// Found is false when no document has this id; every other field is then empty.
	Found bool `json:"found"`
	// Status is one of pending, processing, completed, failed.
	Status string `json:"status,omitempty"`
	// Message is the human-readable diagnostic from the last status write.
	Message         string `json:"message,omitempty"`
	TotalChunks     int    `json:"total_chunks"`
	ProcessedChunks int    `json:"processed_chunks"`
	// IndexedVectors is the live count in the vector index, nil if the index could not be read.
	IndexedVectors *int      `json:"indexed_vectors,omitempty"`
	SourceName     string    `json:"source_name,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ProcessDocumentInput defines the input parameters for the process_document tool.
type ProcessDocumentInput struct {
	DocumentID string `json:"document_id" jsonschema:"The id of a registered document to process"`
	// FileExtension overrides the registered file type.
	FileExtension string `json:"file_extension,omitempty" jsonschema:"Optional file extension override such as pdf or md"`
}

// ProcessDocumentOutput reports whether the job was queued.
type ProcessDocumentOutput struct {
	DocumentID string `json:"document_id"`
	Queued     bool   `json:"queued"`
	Message    string `json:"message"`
}

// ListDocumentsInput defines the input parameters for the list_documents tool.
type ListDocumentsInput struct {
	Status string `json:"status" jsonschema:"One of pending, processing, completed, failed"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum number of documents to return, default 20"`
}

// ListDocumentsOutput lists documents in one state.
type ListDocumentsOutput struct {
	Documents []DocumentSummary `json:"documents"`
	Count     int               `json:"count"`
}

// DocumentSummary is one row of ListDocumentsOutput.
type DocumentSummary struct {
	DocumentID      string    `json:"document_id"`
	Status          string    `json:"status"`
	Message         string    `json:"message,omitempty"`
	TotalChunks     int       `json:"total_chunks"`
	ProcessedChunks int       `json:"processed_chunks"`
	UpdatedAt       time.Time `json:"updated_at"`
}
