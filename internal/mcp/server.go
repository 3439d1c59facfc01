package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/doc-ingest/internal/documents"
	"github.com/bull/doc-ingest/internal/indexer"
	"github.com/bull/doc-ingest/internal/status"
)

// DocumentStore reads document records and resets failed ones. *documents.Repository
// implements it.
type DocumentStore interface {
	Get(ctx context.Context, id string) (*documents.Document, error)
	ListByStatus(ctx context.Context, s status.Status, limit int) ([]documents.Document, error)
	Reset(ctx context.Context, id string) error
}

// VectorCounter counts indexed vectors per document. storage.VectorIndex implements it.
type VectorCounter interface {
	CountByDocument(ctx context.Context, documentID string) (int, error)
}

// JobSubmitter queues a job for the workers. *app.App implements it.
type JobSubmitter interface {
	Enqueue(ctx context.Context, job indexer.Job) error
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
}

// Config holds server dependencies. Jobs may be nil, in which case process_document reports
// that no queue is configured.
type Config struct {
	Documents DocumentStore
	Vectors   VectorCounter
	Jobs      JobSubmitter
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	impl := &mcp.Implementation{
		Name:    "doc-ingest-status",
		Version: "v0.1.0",
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_document_status",
		Description: "Get a document's processing status, progress in chunks, and the number of vectors currently indexed for it.",
	}, makeStatusHandler(cfg.Documents, cfg.Vectors))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "process_document",
		Description: "Queue a registered document for extraction, chunking, embedding and indexing. Poll get_document_status for progress.",
	}, makeProcessHandler(cfg.Documents, cfg.Jobs))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_documents",
		Description: "List documents in a processing state, oldest registered first.",
	}, makeListHandler(cfg.Documents))

	return &Server{server: server}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
