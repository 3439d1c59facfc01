package extract

import (
	"context"
	"fmt"
	"mime"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"
)

// DocumentAIConfig identifies the Document AI processor used for gs:// sources.
type DocumentAIConfig struct {
	ProjectID   string
	Location    string // Defaults to "us".
	ProcessorID string
}

// DocumentAI extracts text from files already stored in Google Cloud Storage.
type DocumentAI struct {
	client *documentai.DocumentProcessorClient
	name   string
}

// NewDocumentAI creates a Document AI processor client against the regional endpoint.
func NewDocumentAI(ctx context.Context, cfg DocumentAIConfig, opts ...option.ClientOption) (*DocumentAI, error) {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "us"
	}
	if cfg.ProjectID == "" || cfg.ProcessorID == "" {
		return nil, fmt.Errorf("documentai: project and processor are required")
	}

	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)
	opts = append([]option.ClientOption{option.WithEndpoint(endpoint)}, opts...)

	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}

	return &DocumentAI{
		client: client,
		name:   fmt.Sprintf("projects/%s/locations/%s/processors/%s", cfg.ProjectID, location, cfg.ProcessorID),
	}, nil
}

// Extract runs online processing on the gs:// object at src.URL.
func (d *DocumentAI) Extract(ctx context.Context, src Source) (string, error) {
	resp, err := d.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: d.name,
		Source: &documentaipb.ProcessRequest_GcsDocument{
			GcsDocument: &documentaipb.GcsDocument{
				GcsUri:   src.URL,
				MimeType: mimeType(src.FileType),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp == nil || resp.GetDocument() == nil {
		return "", nil
	}
	return resp.GetDocument().GetText(), nil
}

// Close releases the underlying gRPC connection.
func (d *DocumentAI) Close() error {
	return d.client.Close()
}

func mimeType(fileType string) string {
	ext := normalizeType(fileType)
	if ext == "" || ext == "pdf" {
		return "application/pdf"
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		// Document AI rejects parameters such as "; charset=utf-8".
		if i := strings.Index(t, ";"); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return "application/pdf"
}
