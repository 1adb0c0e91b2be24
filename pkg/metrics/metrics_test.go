package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetricsRegisters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordSyncRequest("success")
	m.RecordSyncFailure("network")
	m.RecordEventProcessed("timeline")
	m.RecordEventDropped("state")
	m.RecordNotification("Room.timeline")
	m.SetActiveRooms(3)
	m.ObserveBackoff(1.5)
	m.RecordFatalError()
	m.RecordListenerPanic()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() returned error: %v", err)
	}

	found := make(map[string]bool)
	for _, mf := range families {
		found[mf.GetName()] = true
	}

	expected := []string{
		"matrixsync_sync_requests_total",
		"matrixsync_sync_failures_total",
		"matrixsync_fatal_errors_total",
		"matrixsync_events_processed_total",
		"matrixsync_events_dropped_total",
		"matrixsync_notifications_total",
		"matrixsync_rooms",
		"matrixsync_backoff_seconds",
		"matrixsync_listener_panics_total",
	}
	for _, name := range expected {
		if !found[name] {
			t.Errorf("Expected metric family %s to be registered", name)
		}
	}
}

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	healthHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("Expected healthy status body, got %q", rec.Body.String())
	}
}

func TestNewServerDefaults(t *testing.T) {
	server := NewServer(ServerConfig{})

	if server.addr != ":9090" {
		t.Errorf("Expected default addr ':9090', got %s", server.addr)
	}
	if server.GetMetrics() == nil {
		t.Error("Expected metrics instance")
	}
	if server.GetRegistry() == nil {
		t.Error("Expected registry instance")
	}
}
