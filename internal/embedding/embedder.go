package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/openai/openai-go"

	"github.com/bull/doc-ingest/internal/retry"
	"github.com/bull/doc-ingest/internal/storage"
)

const (
	// DefaultModel is the OpenAI model used for generating embeddings.
	DefaultModel = "text-embedding-3-small"

	// DefaultTimeout bounds a single embedding request.
	DefaultTimeout = 30 * time.Second
)

// Embedder generates one embedding per call. Rate limits, server errors, timeouts and dropped
// connections are retried; anything else fails the call immediately.
type Embedder struct {
	client    *Client
	model     string
	dimension int
	timeout   time.Duration
	policy    retry.Policy
}

// Option configures an Embedder.
type Option func(*Embedder)

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(e *Embedder) {
		if model != "" {
			e.model = model
		}
	}
}

// WithDimension sets the expected vector dimension. Responses of any other size are rejected.
func WithDimension(dim int) Option {
	return func(e *Embedder) {
		if dim > 0 {
			e.dimension = dim
		}
	}
}

// WithTimeout bounds each request attempt.
func WithTimeout(d time.Duration) Option {
	return func(e *Embedder) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithRetry replaces the retry policy. The policy's Retryable is always set by the Embedder.
func WithRetry(p retry.Policy) Option {
	return func(e *Embedder) {
		e.policy = p
	}
}

// NewEmbedder creates an Embedder with the default model, storage.VectorDimension and a
// 3-attempt linear retry policy.
func NewEmbedder(client *Client, opts ...Option) *Embedder {
	e := &Embedder{
		client:    client,
		model:     DefaultModel,
		dimension: storage.VectorDimension,
		timeout:   DefaultTimeout,
		policy:    retry.Default("embed", time.Second),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.policy.Retryable = isRetryable
	return e
}

// Dimension returns the vector size every Embed result has.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// Embed returns the embedding for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vector []float32

	err := e.policy.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		resp, err := e.client.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfString: openai.String(text),
			},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return fmt.Errorf("empty embedding response")
		}

		vector = toFloat32(resp.Data[0].Embedding)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	if len(vector) != e.dimension {
		return nil, fmt.Errorf("%w: got %d dimensions, expected %d",
			storage.ErrDimensionMismatch, len(vector), e.dimension)
	}
	return vector, nil
}

// isRetryable reports whether a failed request is worth another attempt:
// HTTP 429, 5xx, a timeout, or a transport failure such as a reset or dropped connection.
func isRetryable(err error) bool {
	if retry.IsTimeout(err) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// toFloat32 converts []float64 to []float32.
// OpenAI API returns float64, but storage uses float32 for memory efficiency.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
