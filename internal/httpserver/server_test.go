package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"rtmp-ingest-core/internal/logger"
	"rtmp-ingest-core/internal/middleware"
	"rtmp-ingest-core/internal/server"
)

func newTestServer() *Server {
	return New(":0", logger.New(), &IngestStats{
		ConnLimiter: middleware.NewConnectionLimiter(10, 5),
		RateLimit:   middleware.NewRateLimiter(10, 20),
		Registry:    nil,
	}, nil)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("status field = %v", body["status"])
	}
}

func TestHandleReadyWithRegistry(t *testing.T) {
	s := newTestServer()
	s.stats.Registry = server.NewRegistry()

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.handleReady(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["ready"] != true {
		t.Fatalf("ready field = %v", body["ready"])
	}
	if body["active_connections"] != float64(0) {
		t.Fatalf("active_connections = %v", body["active_connections"])
	}
}

func TestHandleAdminStreamsEmpty(t *testing.T) {
	s := newTestServer()
	s.stats.Registry = server.NewRegistry()

	req := httptest.NewRequest(http.MethodGet, "/admin/streams", nil)
	rec := httptest.NewRecorder()
	s.handleAdminStreams(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["stream_count"] != float64(0) {
		t.Fatalf("stream_count = %v", body["stream_count"])
	}
}

func TestHandleAdminStreamsRejectsNonGet(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/admin/streams", nil)
	rec := httptest.NewRecorder()
	s.handleAdminStreams(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestHandleAdminCircuitBreakerNotConfigured(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/admin/circuit-breaker", nil)
	rec := httptest.NewRecorder()
	s.handleAdminCircuitBreaker(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["available"] != false {
		t.Fatalf("available = %v, want false", body["available"])
	}
}

func TestHandleAdminCircuitBreakerResetNotFound(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/admin/circuit-breaker/reset", nil)
	rec := httptest.NewRecorder()
	s.handleAdminCircuitBreakerReset(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleVersion(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()
	s.handleVersion(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
