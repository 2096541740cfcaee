package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthyIgnoresUnconfiguredDeps(t *testing.T) {
	h := NewHealthStatus()
	if !h.Healthy() {
		t.Error("no dependencies configured: expected healthy")
	}

	h.mu.Lock()
	h.redisConfigured = true
	h.mu.Unlock()
	if h.Healthy() {
		t.Error("configured redis not yet reachable: expected unhealthy")
	}

	h.mu.Lock()
	h.RedisConnected = true
	h.mu.Unlock()
	if !h.Healthy() {
		t.Error("configured redis reachable, postgres unconfigured: expected healthy")
	}
}

func TestHealthzEndpointIgnoresUnconfiguredDeps(t *testing.T) {
	h := NewHealthStatus()
	h.SetWSConnected(true)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("no deps configured: status = %d, want 200", w.Code)
	}

	h.mu.Lock()
	h.postgresConfigured = true
	h.mu.Unlock()

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("configured postgres down: status = %d, want 503", w.Code)
	}
}
