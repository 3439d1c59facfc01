package extract

import (
	"context"
	"net/http"

	"github.com/bull/doc-ingest/internal/markdown"
)

// Fetcher reads plain text and markdown sources directly. Markdown is rendered to plain text so
// markup never reaches the embedding model.
type Fetcher struct {
	http     *http.Client
	markdown *markdown.Converter
}

// NewFetcher creates a Fetcher. A nil httpClient uses http.DefaultClient.
func NewFetcher(httpClient *http.Client) *Fetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Fetcher{
		http:     httpClient,
		markdown: markdown.NewConverter(),
	}
}

// Extract downloads src and returns its text.
func (f *Fetcher) Extract(ctx context.Context, src Source) (string, error) {
	data, err := download(ctx, f.http, src.URL)
	if err != nil {
		return "", err
	}

	switch normalizeType(src.FileType) {
	case "md", "markdown":
		return f.markdown.PlainText(data), nil
	default:
		return string(data), nil
	}
}
