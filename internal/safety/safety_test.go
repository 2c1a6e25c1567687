package safety

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeActuator is a scriptable Actuator for controller tests.
type fakeActuator struct {
	mu          sync.Mutex
	id          string
	critical    bool
	healthy     bool
	healthCalls int
	forceSafed  int
	onForceSafe func() // optional assertion hook
	onHealthy   func() // optional hook run during verification
}

func (f *fakeActuator) ID() string     { return f.id }
func (f *fakeActuator) Critical() bool { return f.critical }

func (f *fakeActuator) ForceSafe() {
	f.mu.Lock()
	f.forceSafed++
	hook := f.onForceSafe
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (f *fakeActuator) Healthy() bool {
	f.mu.Lock()
	f.healthCalls++
	healthy := f.healthy
	hook := f.onHealthy
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return healthy
}

func (f *fakeActuator) forceSafeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forceSafed
}

// fakePins counts EmergencySafeAll sweeps.
type fakePins struct {
	mu     sync.Mutex
	sweeps int
}

func (p *fakePins) EmergencySafeAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweeps++
	return 0
}

func fastConfig() RecoveryConfig {
	return RecoveryConfig{
		InterActuatorDelay:  time.Millisecond,
		VerificationTimeout: 10 * time.Millisecond,
		MaxRetryAttempts:    2,
	}
}

func TestTriggerEmergencyStopsEverything(t *testing.T) {
	pins := &fakePins{}
	c := New(pins, fastConfig())
	pump := &fakeActuator{id: "pump1", healthy: true}
	valve := &fakeActuator{id: "valve1", healthy: true}
	c.Register(pump)
	c.Register(valve)

	c.TriggerEmergency("overheat")

	if !c.IsActive() {
		t.Error("IsActive: got false after trigger")
	}
	if c.Reason() != "overheat" {
		t.Errorf("Reason: got %q, want overheat", c.Reason())
	}
	if pump.forceSafeCount() != 1 || valve.forceSafeCount() != 1 {
		t.Errorf("ForceSafe fan-out: pump=%d valve=%d, want 1 each", pump.forceSafeCount(), valve.forceSafeCount())
	}
	if pins.sweeps != 1 {
		t.Errorf("pin sweeps: got %d, want 1", pins.sweeps)
	}
	for _, id := range []string{"pump1", "valve1"} {
		if !c.IsActiveFor(id) {
			t.Errorf("IsActiveFor(%s): got false", id)
		}
	}
}

func TestStopFlagSetBeforeHardwareFanOut(t *testing.T) {
	c := New(&fakePins{}, fastConfig())
	pump := &fakeActuator{id: "pump1"}
	pump.onForceSafe = func() {
		// The safety flag must already be observable while de-energization
		// is still executing.
		if !c.IsActive() {
			t.Error("controller not Active during ForceSafe fan-out")
		}
	}
	c.Register(pump)

	c.TriggerEmergency("test")
}

func TestTriggerEmergencyForSingleActuator(t *testing.T) {
	c := New(&fakePins{}, fastConfig())
	pump := &fakeActuator{id: "pump1"}
	valve := &fakeActuator{id: "valve1"}
	c.Register(pump)
	c.Register(valve)

	c.TriggerEmergencyFor("pump1", "stall current")

	if c.IsActive() {
		t.Error("global state changed by per-actuator stop")
	}
	if !c.IsActiveFor("pump1") {
		t.Error("pump1 not stopped")
	}
	if c.IsActiveFor("valve1") {
		t.Error("valve1 stopped by a pump1-scoped trigger")
	}
	if pump.forceSafeCount() != 1 {
		t.Errorf("pump ForceSafe: got %d, want 1", pump.forceSafeCount())
	}
	if valve.forceSafeCount() != 0 {
		t.Errorf("valve ForceSafe: got %d, want 0", valve.forceSafeCount())
	}
}

func TestClearRequiresActive(t *testing.T) {
	c := New(&fakePins{}, fastConfig())
	pump := &fakeActuator{id: "pump1"}
	c.Register(pump)

	if err := c.Clear(); !errors.Is(err, ErrNotActive) {
		t.Errorf("Clear from Normal: got %v, want ErrNotActive", err)
	}

	c.TriggerEmergency("test")
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear from Active: %v", err)
	}
	if c.State() != Clearing {
		t.Errorf("state: got %s, want clearing", c.State())
	}
	// Clearing only acknowledges; actuators stay stopped.
	if !c.IsActiveFor("pump1") {
		t.Error("clear re-enabled an actuator")
	}
}

func TestBeginRecoveryRequiresClearing(t *testing.T) {
	c := New(&fakePins{}, fastConfig())
	if _, err := c.BeginRecovery(nil); !errors.Is(err, ErrNotClearing) {
		t.Errorf("got %v, want ErrNotClearing", err)
	}
	c.TriggerEmergency("test")
	if _, err := c.BeginRecovery(nil); !errors.Is(err, ErrNotClearing) {
		t.Errorf("from Active: got %v, want ErrNotClearing", err)
	}
}

func TestRecoverySkipsFailingActuator(t *testing.T) {
	// Two actuators, one failing verification: recovery completes, the
	// healthy one resumes, the failing one stays stopped with a reason.
	c := New(&fakePins{}, fastConfig())
	pump := &fakeActuator{id: "pump1", healthy: true}
	valve := &fakeActuator{id: "valve1", healthy: false}
	c.Register(pump)
	c.Register(valve)

	c.TriggerEmergency("overheat")
	if err := c.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}

	report, err := c.BeginRecovery(nil)
	if err != nil {
		t.Fatalf("recovery: %v", err)
	}

	if c.State() != Normal {
		t.Errorf("state: got %s, want normal", c.State())
	}
	if len(report.Resumed) != 1 || report.Resumed[0] != "pump1" {
		t.Errorf("resumed: got %v, want [pump1]", report.Resumed)
	}
	if len(report.Skipped) != 1 || report.Skipped[0].ID != "valve1" {
		t.Fatalf("skipped: got %v, want valve1", report.Skipped)
	}
	if !strings.Contains(report.Skipped[0].Reason, "verification failed") {
		t.Errorf("skip reason: got %q", report.Skipped[0].Reason)
	}
	if c.IsActiveFor("pump1") {
		t.Error("pump1 still stopped after recovery")
	}
	if !c.IsActiveFor("valve1") {
		t.Error("valve1 was re-enabled despite failing verification")
	}
	if valve.healthCalls < 2 {
		t.Errorf("valve verification attempts: got %d, want >= 2", valve.healthCalls)
	}
}

func TestRecoveryCriticalFirst(t *testing.T) {
	cfg := fastConfig()
	cfg.CriticalFirst = true
	c := New(&fakePins{}, cfg)

	var order []string
	mk := func(id string, critical bool) *fakeActuator {
		a := &fakeActuator{id: id, critical: critical, healthy: true}
		return a
	}
	a1 := mk("fan1", false)
	a2 := mk("pump1", true)
	a3 := mk("light1", false)
	c.Register(a1)
	c.Register(a2)
	c.Register(a3)

	c.TriggerEmergency("test")
	c.Clear()
	report, err := c.BeginRecovery(nil)
	if err != nil {
		t.Fatalf("recovery: %v", err)
	}
	order = report.Resumed

	want := []string{"pump1", "fan1", "light1"}
	if len(order) != len(want) {
		t.Fatalf("resumed: got %v, want %v", order, want)
	}
	for i, w := range want {
		if order[i] != w {
			t.Errorf("resume order[%d]: got %s, want %s", i, order[i], w)
		}
	}
}

func TestRecoveryAbortsOnPrecondition(t *testing.T) {
	c := New(&fakePins{}, fastConfig())
	pump := &fakeActuator{id: "pump1", healthy: true}
	c.Register(pump)

	c.TriggerEmergency("test")
	c.Clear()

	report, err := c.BeginRecovery(func() bool { return false })
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("got %v, want ErrAborted", err)
	}
	if !report.Aborted {
		t.Error("report not marked aborted")
	}
	if c.State() != Active {
		t.Errorf("state: got %s, want active", c.State())
	}
	if len(report.Resumed) != 0 {
		t.Errorf("resumed: got %v, want none", report.Resumed)
	}
}

func TestTriggerDuringRecoveryDelayAborts(t *testing.T) {
	cfg := RecoveryConfig{
		InterActuatorDelay:  200 * time.Millisecond,
		VerificationTimeout: 10 * time.Millisecond,
		MaxRetryAttempts:    1,
	}
	c := New(&fakePins{}, cfg)
	pump := &fakeActuator{id: "pump1", healthy: true}
	valve := &fakeActuator{id: "valve1", healthy: true}
	c.Register(pump)
	c.Register(valve)

	c.TriggerEmergency("test")
	c.Clear()

	done := make(chan struct{})
	var report RecoveryReport
	var rerr error
	go func() {
		report, rerr = c.BeginRecovery(nil)
		close(done)
	}()

	// Let the first actuator resume, then re-trigger mid-delay.
	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	c.TriggerEmergency("pressure spike")

	select {
	case <-done:
	case <-time.After(150 * time.Millisecond):
		t.Fatal("recovery did not abandon the pending delay")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("abort latency: %v", elapsed)
	}
	if !errors.Is(rerr, ErrAborted) {
		t.Errorf("got %v, want ErrAborted", rerr)
	}
	if !report.Aborted {
		t.Error("report not marked aborted")
	}
	if c.State() != Active {
		t.Errorf("state: got %s, want active", c.State())
	}
	// The re-trigger re-stopped everything, including the resumed pump.
	if !c.IsActiveFor("pump1") {
		t.Error("pump1 not re-stopped by the second trigger")
	}
}

func TestTriggerDuringVerificationKeepsActuatorStopped(t *testing.T) {
	// A trigger landing between a successful verification and the flag
	// update must win: the actuator stays stopped and the next recovery
	// verifies it again.
	c := New(&fakePins{}, fastConfig())
	pump := &fakeActuator{id: "pump1", healthy: true}
	c.Register(pump)

	fired := false
	pump.onHealthy = func() {
		if !fired {
			fired = true
			c.TriggerEmergency("pressure spike")
		}
	}

	c.TriggerEmergency("first")
	c.Clear()
	report, err := c.BeginRecovery(nil)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("got %v, want ErrAborted", err)
	}
	if !report.Aborted {
		t.Error("report not marked aborted")
	}
	if len(report.Resumed) != 0 {
		t.Errorf("resumed: got %v, want none", report.Resumed)
	}
	if !c.IsActiveFor("pump1") {
		t.Error("pump1 re-enabled despite the mid-verification trigger")
	}

	// The second cycle must consult the predicate again; an unhealthy
	// actuator stays stopped.
	pump.mu.Lock()
	pump.healthy = false
	callsBefore := pump.healthCalls
	pump.mu.Unlock()

	c.Clear()
	report, err = c.BeginRecovery(nil)
	if err != nil {
		t.Fatalf("second recovery: %v", err)
	}
	if len(report.Skipped) != 1 || report.Skipped[0].ID != "pump1" {
		t.Fatalf("skipped: got %v, want pump1", report.Skipped)
	}
	if !c.IsActiveFor("pump1") {
		t.Error("pump1 re-enabled without passing verification")
	}
	pump.mu.Lock()
	callsAfter := pump.healthCalls
	pump.mu.Unlock()
	if callsAfter <= callsBefore {
		t.Error("second recovery never re-verified pump1")
	}
}

func TestTransitionHooks(t *testing.T) {
	c := New(&fakePins{}, fastConfig())
	pump := &fakeActuator{id: "pump1", healthy: true}
	c.Register(pump)

	var mu sync.Mutex
	var events []Event
	c.OnTransition(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	c.TriggerEmergency("overheat")
	c.Clear()
	if _, err := c.BeginRecovery(nil); err != nil {
		t.Fatalf("recovery: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	wantTo := []GlobalState{Active, Clearing, Resuming, Normal}
	if len(events) != len(wantTo) {
		t.Fatalf("events: got %d, want %d (%v)", len(events), len(wantTo), events)
	}
	for i, w := range wantTo {
		if events[i].To != w {
			t.Errorf("event[%d].To: got %s, want %s", i, events[i].To, w)
		}
	}
	if events[0].Reason != "overheat" {
		t.Errorf("trigger reason: got %q", events[0].Reason)
	}
}

func TestReTriggerFromAnyState(t *testing.T) {
	c := New(&fakePins{}, fastConfig())

	c.TriggerEmergency("first")
	c.Clear()
	// Force back to Active from Clearing, instantly.
	c.TriggerEmergency("second")
	if c.State() != Active {
		t.Errorf("state: got %s, want active", c.State())
	}
	if c.Reason() != "second" {
		t.Errorf("reason: got %q, want second", c.Reason())
	}
	if c.Triggers() != 2 {
		t.Errorf("triggers: got %d, want 2", c.Triggers())
	}
}
