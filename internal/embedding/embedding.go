// Package embedding provides the query embedding gateway. A failed embedding
// is fatal to a search: without a vector there is nothing to retrieve with.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrUnavailable is returned when the embedding provider cannot be reached
// or returns an unusable result. Callers surface it as a retryable service
// error and abort the search without charging.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Embedder converts text into fixed-dimension L2-normalized vectors.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Config holds provider settings for the OpenAI-compatible embedder.
type Config struct {
	Host      string
	Model     string
	APIKey    string
	Dimension int
	Timeout   time.Duration
}

// Client implements Embedder against an OpenAI-compatible embedding API.
type Client struct {
	embedder  embeddings.Embedder
	dimension int
	timeout   time.Duration
	logger    *slog.Logger
}

// NewClient creates a new embedding client. Local OpenAI-compatible services
// that don't require authentication accept any non-empty token.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dimension)
	}
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "none"
	}
	llm, err := openai.New(
		openai.WithBaseURL(cfg.Host),
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		embedder:  embedder,
		dimension: cfg.Dimension,
		timeout:   timeout,
		logger:    logger.With("component", "embedding"),
	}, nil
}

// Dimension returns the expected vector dimension.
func (c *Client) Dimension() int { return c.dimension }

// EmbedQuery embeds a single query text. Provider failures, dimension
// mismatches and empty results all collapse to ErrUnavailable.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	vectors, err := c.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		c.logger.Error("embedding call failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		c.logger.Error("embedding provider returned empty result")
		return nil, fmt.Errorf("%w: empty result", ErrUnavailable)
	}
	if len(vectors[0]) != c.dimension {
		c.logger.Error("embedding dimension mismatch",
			"got", len(vectors[0]), "want", c.dimension)
		return nil, fmt.Errorf("%w: dimension mismatch (%d != %d)",
			ErrUnavailable, len(vectors[0]), c.dimension)
	}

	return Normalize(vectors[0]), nil
}

// Normalize returns the L2-normalized copy of a vector. A zero vector is
// returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
