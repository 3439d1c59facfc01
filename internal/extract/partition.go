package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
)

const (
	// maxSourceBytes caps how much of a stored file is read into memory.
	maxSourceBytes = 64 << 20

	apiKeyHeader = "unstructured-api-key"
)

// PartitionClient extracts text through a document partitioning service. The stored file is
// downloaded, uploaded as multipart form data, and the returned elements are joined into
// paragraphs.
type PartitionClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewPartitionClient creates a client for the partition service at endpoint. A nil httpClient
// uses http.DefaultClient; per-call timeouts come from the context.
func NewPartitionClient(endpoint, apiKey string, httpClient *http.Client) *PartitionClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &PartitionClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     httpClient,
	}
}

// element is one structural piece of a partitioned document.
type element struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Extract downloads src and partitions it.
func (c *PartitionClient) Extract(ctx context.Context, src Source) (string, error) {
	data, err := download(ctx, c.http, src.URL)
	if err != nil {
		return "", err
	}

	name := src.FileName
	if name == "" {
		name = path.Base(src.URL)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("files", name)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	_ = writer.WriteField("strategy", "auto")
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("build partition request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("partition request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: partition %d: %s", ErrProviderStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var elements []element
	if err := json.NewDecoder(resp.Body).Decode(&elements); err != nil {
		return "", fmt.Errorf("decode partition response: %w", err)
	}

	parts := make([]string, 0, len(elements))
	for _, el := range elements {
		if t := strings.TrimSpace(el.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// download reads the stored file at url. Files over maxSourceBytes fail with ErrSourceTooLarge
// instead of being truncated.
func download(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: download %d", ErrProviderStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	if len(data) > maxSourceBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrSourceTooLarge, url, maxSourceBytes)
	}
	return data, nil
}
