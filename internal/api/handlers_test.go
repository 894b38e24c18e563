package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-structure-engine/internal/circuit"
	"market-structure-engine/internal/events"
	"market-structure-engine/internal/scoring"
	"market-structure-engine/internal/signal"
)

func newTestServer(t *testing.T) (*Server, *signal.MemoryStore) {
	t.Helper()
	records := signal.NewMemoryStore()
	server := NewServer(ServerConfig{Port: 0, ProductionMode: true}, Deps{
		Records:  records,
		Breakers: circuit.NewManager(circuit.Config{Enabled: true}),
		Holder:   scoring.NewTableHolder(nil),
		Bus:      events.NewEventBus(),
		Logger:   zerolog.Nop(),
	})
	return server, records
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected ok status, got %v", body["status"])
	}
}

func TestAuthStatusDisabled(t *testing.T) {
	server, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"enabled":false`) {
		t.Errorf("Expected auth disabled, got %s", w.Body.String())
	}
}

func TestGetSignalNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/signals/nonexistent", nil)
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}
}

func TestListSignals(t *testing.T) {
	server, records := newTestServer(t)

	for i := 0; i < 3; i++ {
		rec := signal.NewRecord("BTCUSDT", "1h", time.Now())
		rec.Score = float64(60 + i)
		if err := records.Save(context.Background(), rec); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/signals?limit=2", nil)
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body struct {
		Count   int              `json:"count"`
		Signals []*signal.Record `json:"signals"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body.Count != 2 {
		t.Errorf("Expected 2 signals, got %d", body.Count)
	}
}

func TestWeightsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/weights", nil)
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var table scoring.WeightTable
	if err := json.Unmarshal(w.Body.Bytes(), &table); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if table.Source != "baseline" {
		t.Errorf("Expected baseline table, got %s", table.Source)
	}
}

func TestBreakerResetEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/breakers/BTCUSDT/reset", nil)
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
}

func TestOutcomeInvalidValue(t *testing.T) {
	server, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/outcomes/some-id", strings.NewReader(`{"outcome":"maybe"}`))
	req.Header.Set("Content-Type", "application/json")
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
}
