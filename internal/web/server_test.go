package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/greenhouse-controller/internal/status"
)

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		PollMs:      500,
		HeartbeatMs: 900000,
		Broker:      "tcp://192.168.1.200:1883",
		HTTPAddr:    ":80",
	}
	tr := status.NewTracker(start, cfg)
	srv := New(":0", tr)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, tr
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.UpdateSafety("active", "soil sensor fault")
	tr.UpdateActuators([]status.ActuatorState{
		{ID: "pump1", Kind: "pump", Pin: 4, Stopped: true},
	})
	tr.UpdateBreakers(map[string]string{"mqtt": "closed"})
	tr.SetCounts(status.Counts{Emergencies: 1})
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/status.json")
	if err != nil {
		t.Fatalf("GET /status.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if doc["safety_state"] != "active" {
		t.Errorf("safety_state: got %v, want active", doc["safety_state"])
	}
	if doc["safety_reason"] != "soil sensor fault" {
		t.Errorf("safety_reason: got %v", doc["safety_reason"])
	}
	if doc["mqtt_connected"] != true {
		t.Error("expected mqtt_connected=true")
	}
	acts := doc["actuators"].([]any)
	if len(acts) != 1 {
		t.Fatalf("got %d actuators, want 1", len(acts))
	}
	if acts[0].(map[string]any)["stopped"] != true {
		t.Error("expected pump1 reported stopped")
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.UpdateSafety("normal", "")
	tr.UpdateActuators([]status.ActuatorState{
		{ID: "light1", Kind: "dimmer", Pin: 18, On: true, Level: 75},
	})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "light1") {
		t.Error("expected actuator id in HTML page")
	}
	if !strings.Contains(string(body), "ON (75%)") {
		t.Error("expected dimmer level in HTML page")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("expected default Go collector metrics in scrape output")
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr := newTestServer(t)

	resp1, _ := http.Get(ts.URL + "/status.json")
	var doc1 map[string]any
	json.NewDecoder(resp1.Body).Decode(&doc1)
	resp1.Body.Close()
	if doc1["safety_state"] != "normal" {
		t.Errorf("initial safety_state: got %v, want normal", doc1["safety_state"])
	}

	tr.UpdateSafety("clearing", "manual stop")

	resp2, _ := http.Get(ts.URL + "/status.json")
	var doc2 map[string]any
	json.NewDecoder(resp2.Body).Decode(&doc2)
	resp2.Body.Close()
	if doc2["safety_state"] != "clearing" {
		t.Errorf("safety_state after update: got %v, want clearing", doc2["safety_state"])
	}
}
