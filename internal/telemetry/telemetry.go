// Package telemetry publishes safety events to MQTT and receives supervisor
// commands, with abstraction for testing.
package telemetry

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topic is the MQTT topic for safety events.
const Topic = "greenhouse/safety/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "greenhouse/safety/system"

// TopicCommand is the MQTT topic supervisor commands arrive on.
const TopicCommand = "greenhouse/safety/command"

// EventType names for safety events.
const (
	EventEmergency        = "EMERGENCY"
	EventActuatorStopped  = "ACTUATOR_STOPPED"
	EventCleared          = "CLEARED"
	EventRecoveryStarted  = "RECOVERY_STARTED"
	EventRecoveryComplete = "RECOVERY_COMPLETE"
	EventRecoveryAborted  = "RECOVERY_ABORTED"
	EventBreakerTripped   = "BREAKER_TRIPPED"
	EventBreakerRestored  = "BREAKER_RESTORED"
)

// Event is a safety event to be published. ID lets the supervisor
// deduplicate events replayed after a reconnect.
type Event struct {
	ID        string
	Timestamp time.Time
	Type      string
	Scope     string // empty for global events, actuator/dependency name otherwise
	Reason    string
	State     string // controller state after the event
}

// NewEvent creates an Event with a fresh id and the given timestamp.
func NewEvent(ts time.Time, eventType, scope, reason, state string) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: ts,
		Type:      eventType,
		Scope:     scope,
		Reason:    reason,
		State:     state,
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a safety event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown,
// heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Command is a supervisor instruction decoded from the command topic.
type Command struct {
	Action string `json:"action"`          // "estop", "stop", "clear", "recover"
	Scope  string `json:"scope,omitempty"` // actuator id for "stop"
	Reason string `json:"reason,omitempty"`
}

// Known command actions.
const (
	ActionEstop   = "estop"
	ActionStop    = "stop"
	ActionClear   = "clear"
	ActionRecover = "recover"
)

// Payload is the MQTT message envelope for safety events.
type Payload struct {
	Safety SafetyPayload `json:"safety"`
}

// SafetyPayload contains the safety event details.
type SafetyPayload struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Scope     string `json:"scope,omitempty"`
	Reason    string `json:"reason,omitempty"`
	State     string `json:"state"`
}

// FormatPayload creates the JSON payload for a safety event.
func FormatPayload(event Event) ([]byte, error) {
	payload := Payload{
		Safety: SafetyPayload{
			ID:        event.ID,
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Type,
			Scope:     event.Scope,
			Reason:    event.Reason,
			State:     event.State,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload is the MQTT message envelope for system events. Used for
// simple events that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status
// snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// ParseCommand decodes a supervisor command payload. Unknown actions are
// left for the dispatcher to refuse.
func ParseCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}
