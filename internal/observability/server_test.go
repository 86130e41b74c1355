package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func probe(s *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_HealthzAlwaysOK(t *testing.T) {
	s := NewServer(":0")
	if rec := probe(s, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestServer_ReadyzTracksReadiness(t *testing.T) {
	s := NewServer(":0")

	if rec := probe(s, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before the pipeline is ready, got %d", rec.Code)
	}

	s.SetReady(true)
	if rec := probe(s, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("expected 200 once ready, got %d", rec.Code)
	}

	s.SetReady(false)
	if rec := probe(s, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after readiness is withdrawn, got %d", rec.Code)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	s := NewServer(":0")
	if rec := probe(s, "/metrics"); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
