package status

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSnapshotCopiesState(t *testing.T) {
	tr := NewTracker(time.Now(), Config{PollMs: 500})

	tr.UpdateSafety("active", "overheat")
	tr.UpdateActuators([]ActuatorState{{ID: "pump1", Kind: "pump", Pin: 4, On: true}})
	tr.UpdateBreakers(map[string]string{"mqtt": "closed"})

	snap := tr.Snapshot()
	if snap.SafetyState != "active" || snap.SafetyReason != "overheat" {
		t.Errorf("safety = %q/%q, want active/overheat", snap.SafetyState, snap.SafetyReason)
	}
	if len(snap.Actuators) != 1 || snap.Actuators[0].ID != "pump1" {
		t.Errorf("unexpected actuators: %+v", snap.Actuators)
	}

	// Mutating the returned copy must not affect the tracker.
	snap.Actuators[0].ID = "mangled"
	snap.Breakers["mqtt"] = "open"
	again := tr.Snapshot()
	if again.Actuators[0].ID != "pump1" {
		t.Error("snapshot aliases internal actuator slice")
	}
	if again.Breakers["mqtt"] != "closed" {
		t.Error("snapshot aliases internal breaker map")
	}
}

func TestSnapshotDefaults(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	snap := tr.Snapshot()
	if snap.SafetyState != "normal" {
		t.Errorf("initial safety state = %q, want normal", snap.SafetyState)
	}
	if snap.Uptime() < 0 {
		t.Errorf("uptime = %v, want >= 0", snap.Uptime())
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Now().Add(-90 * time.Second)
	tr := NewTracker(start, Config{Broker: "tcp://localhost:1883"})
	tr.UpdateSafety("clearing", "manual stop")
	tr.UpdateActuators([]ActuatorState{
		{ID: "valve1", Kind: "valve", Pin: 17, Stopped: true},
		{ID: "light1", Kind: "dimmer", Pin: 18, On: true, Level: 60},
	})
	tr.UpdateBreakers(map[string]string{"mqtt": "half-open", "sensor": "closed"})
	tr.SetCounts(Counts{Emergencies: 2, DutyRefusals: 5})
	tr.SetMQTTConnected(true)

	out, err := FormatJSON(tr.Snapshot())
	if err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out)
	}
	if doc["safety_state"] != "clearing" {
		t.Errorf("safety_state = %v, want clearing", doc["safety_state"])
	}
	if doc["mqtt_connected"] != true {
		t.Error("mqtt_connected not set")
	}
	if doc["uptime_seconds"].(float64) < 89 {
		t.Errorf("uptime_seconds = %v, want >= 89", doc["uptime_seconds"])
	}

	// Breakers are emitted in name order so the document is stable.
	breakers := doc["breakers"].([]any)
	if len(breakers) != 2 {
		t.Fatalf("got %d breakers, want 2", len(breakers))
	}
	first := breakers[0].(map[string]any)
	if first["name"] != "mqtt" || first["state"] != "half-open" {
		t.Errorf("first breaker = %v", first)
	}

	counts := doc["counts"].(map[string]any)
	if counts["emergencies"].(float64) != 2 {
		t.Errorf("emergencies = %v, want 2", counts["emergencies"])
	}
}

func TestFormatStatusEvent(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.UpdateSafety("active", "frost alarm")

	out := FormatStatusEvent(tr.Snapshot(), "HEARTBEAT", "")
	if out == nil {
		t.Fatal("FormatStatusEvent returned nil")
	}

	var doc map[string]any
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	system := doc["system"].(map[string]any)
	if system["event"] != "HEARTBEAT" {
		t.Errorf("system.event = %v, want HEARTBEAT", system["event"])
	}
	if _, set := system["reason"]; set {
		t.Error("empty reason should be omitted")
	}
	inner := doc["status"].(map[string]any)
	if inner["safety_state"] != "active" {
		t.Errorf("status.safety_state = %v, want active", inner["safety_state"])
	}
}
