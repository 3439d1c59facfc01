package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse represents the JSON response from the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Qdrant    string `json:"qdrant"`
	Database  string `json:"database"`
	Timestamp string `json:"timestamp"`
}

// HealthChecker interface defines a health check dependency.
// The Qdrant storage layer implements this via its Health() method.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthFunc adapts a function such as Repository.Ping to HealthChecker.
type HealthFunc func(ctx context.Context) error

// Health calls f.
func (f HealthFunc) Health(ctx context.Context) error {
	return f(ctx)
}

// NewHealthHandler creates an HTTP handler for the /health endpoint.
// It checks Qdrant and database connectivity and returns 503 if either is down. A nil qdrant
// checker (in-memory index) is reported as "disabled" and does not affect the status.
func NewHealthHandler(qdrant, database HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Create context with 3-second timeout for health check
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		response := HealthResponse{
			Status:    "healthy",
			Qdrant:    check(ctx, qdrant),
			Database:  check(ctx, database),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		code := http.StatusOK
		if response.Qdrant == "disconnected" || response.Database == "disconnected" {
			response.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(response)
	}
}

func check(ctx context.Context, c HealthChecker) string {
	if c == nil {
		return "disabled"
	}
	if err := c.Health(ctx); err != nil {
		return "disconnected"
	}
	return "connected"
}
