package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEmbeddingChecker_EmptyURL(t *testing.T) {
	checker := NewEmbeddingChecker("")

	err := checker.HealthCheck(context.Background())
	if err == nil {
		t.Fatal("expected error with empty URL")
	}
	if err.Error() != "embedding url not configured" {
		t.Errorf("unexpected error message: %q", err.Error())
	}
}

func TestEmbeddingChecker_SuccessfulResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewEmbeddingChecker(server.URL)
	if err := checker.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v, want nil", err)
	}
}

func TestEmbeddingChecker_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	checker := NewEmbeddingChecker(server.URL)
	if err := checker.HealthCheck(context.Background()); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestEmbeddingChecker_Unreachable(t *testing.T) {
	checker := NewEmbeddingChecker("http://127.0.0.1:1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := checker.HealthCheck(ctx); err == nil {
		t.Error("expected error for unreachable provider")
	}
}
