// Package status provides a thread-safe status tracker for the
// greenhouse-controller daemon. It is read by HTTP handlers and by
// the heartbeat publisher.
package status

import (
	"sync"
	"time"
)

// Config holds the daemon settings shown on the status page.
type Config struct {
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
}

// ActuatorState is a point-in-time view of one actuator.
type ActuatorState struct {
	ID      string
	Kind    string
	Pin     int
	On      bool
	Level   int
	Stopped bool
}

// Counts accumulates daemon-lifetime event counters.
type Counts struct {
	Emergencies   int
	Recoveries    int
	DutyRefusals  int
	PinWarnings   int
	EventsDropped int
}

// Snapshot is a consistent copy of the tracked state.
type Snapshot struct {
	SafetyState   string
	SafetyReason  string
	Actuators     []ActuatorState
	Breakers      map[string]string
	Counts        Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns how long the daemon has been running.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds the latest daemon state behind a RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			SafetyState: "normal",
			Breakers:    map[string]string{},
			StartTime:   startTime,
			Config:      cfg,
		},
	}
}

func (t *Tracker) UpdateSafety(state, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.SafetyState = state
	t.snap.SafetyReason = reason
}

func (t *Tracker) UpdateActuators(rows []ActuatorState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Actuators = rows
}

func (t *Tracker) UpdateBreakers(states map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Breakers = states
}

func (t *Tracker) SetCounts(c Counts) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Counts = c
}

func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.MQTTConnected = connected
}

// Snapshot returns a copy of the current state. Slices and maps are
// copied so callers can read them without holding the lock.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := t.snap
	snap.Now = time.Now()
	snap.Actuators = append([]ActuatorState(nil), t.snap.Actuators...)
	snap.Breakers = make(map[string]string, len(t.snap.Breakers))
	for name, state := range t.snap.Breakers {
		snap.Breakers[name] = state
	}
	return snap
}
