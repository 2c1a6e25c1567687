package status

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

type actuatorJSON struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Pin     int    `json:"pin"`
	On      bool   `json:"on"`
	Level   int    `json:"level,omitempty"`
	Stopped bool   `json:"stopped"`
}

type breakerJSON struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type countsJSON struct {
	Emergencies   int `json:"emergencies"`
	Recoveries    int `json:"recoveries"`
	DutyRefusals  int `json:"duty_refusals"`
	PinWarnings   int `json:"pin_warnings"`
	EventsDropped int `json:"events_dropped"`
}

type statusJSON struct {
	SafetyState   string         `json:"safety_state"`
	SafetyReason  string         `json:"safety_reason,omitempty"`
	Actuators     []actuatorJSON `json:"actuators"`
	Breakers      []breakerJSON  `json:"breakers"`
	Counts        countsJSON     `json:"counts"`
	MQTTConnected bool           `json:"mqtt_connected"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Time          string         `json:"time"`
}

// FormatJSON renders a snapshot as the /status.json document.
func FormatJSON(snap Snapshot) ([]byte, error) {
	doc := statusJSON{
		SafetyState:   snap.SafetyState,
		SafetyReason:  snap.SafetyReason,
		Actuators:     make([]actuatorJSON, 0, len(snap.Actuators)),
		Breakers:      make([]breakerJSON, 0, len(snap.Breakers)),
		MQTTConnected: snap.MQTTConnected,
		UptimeSeconds: int64(snap.Uptime() / time.Second),
		Time:          snap.Now.UTC().Format(time.RFC3339),
	}
	for _, a := range snap.Actuators {
		doc.Actuators = append(doc.Actuators, actuatorJSON{
			ID:      a.ID,
			Kind:    a.Kind,
			Pin:     a.Pin,
			On:      a.On,
			Level:   a.Level,
			Stopped: a.Stopped,
		})
	}
	names := make([]string, 0, len(snap.Breakers))
	for name := range snap.Breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		doc.Breakers = append(doc.Breakers, breakerJSON{Name: name, State: snap.Breakers[name]})
	}
	doc.Counts = countsJSON(snap.Counts)

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling status: %w", err)
	}
	return out, nil
}

type systemEventJSON struct {
	System struct {
		Timestamp string `json:"timestamp"`
		Event     string `json:"event"`
		Reason    string `json:"reason,omitempty"`
	} `json:"system"`
	Status json.RawMessage `json:"status"`
}

// FormatStatusEvent renders a snapshot wrapped in system event metadata.
// Used as the payload for STARTUP, SHUTDOWN and HEARTBEAT messages so the
// supervisor gets a full status document with each lifecycle event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner, err := FormatJSON(snap)
	if err != nil {
		return nil
	}
	var doc systemEventJSON
	doc.System.Timestamp = snap.Now.UTC().Format(time.RFC3339)
	doc.System.Event = event
	doc.System.Reason = reason
	doc.Status = inner
	out, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	return out
}
