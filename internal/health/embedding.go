package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// EmbeddingChecker implements health checking for the embedding provider.
type EmbeddingChecker struct {
	url    string
	client *http.Client
}

// NewEmbeddingChecker creates a new embedding provider health checker.
// The url should be the base URL of the provider (e.g., "http://localhost:11434").
func NewEmbeddingChecker(url string) *EmbeddingChecker {
	return &EmbeddingChecker{
		url: url,
		client: &http.Client{
			Timeout: 3 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// HealthCheck performs a health check on the embedding provider by making an
// HTTP request. Providers differ in their health endpoints, so reachability
// of the base URL stands in for a dedicated probe.
func (e *EmbeddingChecker) HealthCheck(ctx context.Context) error {
	if e.url == "" {
		return fmt.Errorf("embedding url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach embedding provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("embedding provider unhealthy: unexpected status code %d", resp.StatusCode)
	}

	return nil
}
