// Package extract turns stored files into plain text. Remote document-understanding services do
// the heavy lifting; plain text and markdown sources are fetched and read directly.
package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Source identifies a stored file to extract.
type Source struct {
	URL      string
	FileType string // Extension without the dot: "pdf", "md", "txt"...
	FileName string
}

// Extractor converts a stored file into plain text.
type Extractor interface {
	Extract(ctx context.Context, src Source) (string, error)
}

// Router dispatches each source to the extractor that handles it. Any extractor may be nil, in
// which case sources that would route to it fail with ErrUnsupportedSource.
type Router struct {
	// DocumentAI handles gs:// sources.
	DocumentAI Extractor

	// Direct handles text and markdown sources that need no document understanding.
	Direct Extractor

	// Partition handles everything else (pdf, docx, pptx, html...).
	Partition Extractor
}

var _ Extractor = (*Router)(nil)

// Extract routes src and guarantees a non-empty text result. Blank output is reported as
// ErrNoText, binary output as ErrNoText and ErrNotText.
func (r *Router) Extract(ctx context.Context, src Source) (string, error) {
	ex, name := r.route(src)
	if ex == nil {
		return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedSource, src.URL, src.FileType)
	}

	text, err := ex.Extract(ctx, src)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%s: %w", name, ErrNoText)
	}
	if !isText(text) {
		return "", fmt.Errorf("%s: %w: %w", name, ErrNoText, ErrNotText)
	}
	return text, nil
}

// isText rejects invalid UTF-8 and control characters other than whitespace.
func isText(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		switch r {
		case '\n', '\r', '\t', '\f', '\v':
			continue
		}
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func (r *Router) route(src Source) (Extractor, string) {
	if strings.HasPrefix(src.URL, "gs://") {
		return r.DocumentAI, "documentai"
	}
	switch normalizeType(src.FileType) {
	case "md", "markdown", "txt", "text":
		return r.Direct, "direct"
	default:
		return r.Partition, "partition"
	}
}

func normalizeType(fileType string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(fileType), "."))
}
