// Command greenhouse-controller drives pumps, valves and dimmers over GPIO
// with safety interlocks, publishing safety events to MQTT and serving a
// status page over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/greenhouse-controller/internal/actuator"
	"github.com/sweeney/greenhouse-controller/internal/breaker"
	"github.com/sweeney/greenhouse-controller/internal/config"
	"github.com/sweeney/greenhouse-controller/internal/hal"
	"github.com/sweeney/greenhouse-controller/internal/metrics"
	"github.com/sweeney/greenhouse-controller/internal/pinmgr"
	"github.com/sweeney/greenhouse-controller/internal/safety"
	"github.com/sweeney/greenhouse-controller/internal/status"
	"github.com/sweeney/greenhouse-controller/internal/telemetry"
	"github.com/sweeney/greenhouse-controller/internal/web"
)

func main() {
	configPath := flag.String("config", "/etc/greenhouse-controller.yaml", "Configuration file path")
	broker := flag.String("broker", "", "MQTT broker address (overrides config)")
	httpAddr := flag.String("http", "", "HTTP status address (overrides config)")
	poll := flag.Duration("poll", 0, "Status poll interval (overrides config)")
	heartbeat := flag.Duration("heartbeat", 0, "Heartbeat interval, 0 to disable (overrides config)")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "broker":
			cfg.Broker = *broker
		case "http":
			cfg.HTTPAddr = *httpAddr
		case "poll":
			cfg.PollMs = poll.Milliseconds()
		case "heartbeat":
			cfg.HeartbeatMs = heartbeat.Milliseconds()
		}
	})

	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// device is the view of an actuator the daemon needs for wiring and for
// status reporting. All three driver kinds satisfy it.
type device interface {
	safety.Actuator
	Init() error
	Shutdown() error
	Status() actuator.Status
	DutyRefusals() int
}

func buildActuators(cfg *config.Config, pins *pinmgr.Manager, sup actuator.Supervisor) []device {
	devices := make([]device, 0, len(cfg.Actuators))
	for _, a := range cfg.Actuators {
		acfg := actuator.Config{
			ID:       a.ID,
			Pin:      a.Pin,
			Critical: a.Critical,
			Duty:     a.Duty.GuardConfig(),
		}
		switch a.Kind {
		case "pump":
			devices = append(devices, actuator.NewPump(acfg, pins, sup))
		case "valve":
			devices = append(devices, actuator.NewValve(acfg, pins, sup))
		case "dimmer":
			devices = append(devices, actuator.NewDimmer(acfg, pins, sup))
		}
	}
	return devices
}

// checkChipSize compares the configured pin_count with the pins the opened
// chip actually exposes. Config validation bounds every pin by pin_count, so
// a chip with fewer lines would otherwise surface as claim failures halfway
// through init. A bare mismatch is logged; a configured pin beyond the chip
// is fatal.
func checkChipSize(cfg *config.Config, chipPins int) error {
	if chipPins == cfg.PinCount {
		return nil
	}
	log.Printf("config: pin_count %d does not match chip %q (%d lines)", cfg.PinCount, cfg.Chip, chipPins)
	for _, a := range cfg.Actuators {
		if a.Pin >= chipPins {
			return fmt.Errorf("actuator %s: pin %d out of range for chip %q (%d lines)", a.ID, a.Pin, cfg.Chip, chipPins)
		}
	}
	for _, p := range cfg.SystemPins {
		if p >= chipPins {
			return fmt.Errorf("system pin %d out of range for chip %q (%d lines)", p, cfg.Chip, chipPins)
		}
	}
	return nil
}

func run(cfg *config.Config) error {
	chip, err := hal.NewRealChip(cfg.Chip)
	if err != nil {
		return fmt.Errorf("open gpio chip: %w", err)
	}
	defer chip.Close()

	if err := checkChipSize(cfg, chip.PinCount()); err != nil {
		return err
	}

	pins := pinmgr.New(chip, cfg.SystemPins)
	pins.SetSettle(time.Duration(cfg.SettleMs)*time.Millisecond, time.Sleep)
	if warnings := pins.InitializeAllSafe(); warnings > 0 {
		log.Printf("startup: %d pin(s) failed safe-state verification", warnings)
	}

	metrics.Init(pins.Warnings)

	ctrl := safety.New(pins, safety.RecoveryConfig{
		InterActuatorDelay:  time.Duration(cfg.Recovery.InterActuatorDelayMs) * time.Millisecond,
		VerificationTimeout: time.Duration(cfg.Recovery.VerificationTimeoutMs) * time.Millisecond,
		MaxRetryAttempts:    cfg.Recovery.MaxRetryAttempts,
		CriticalFirst:       cfg.Recovery.CriticalFirst,
	})

	devices := buildActuators(cfg, pins, ctrl)
	for _, dev := range devices {
		if err := dev.Init(); err != nil {
			return fmt.Errorf("init actuator: %w", err)
		}
		ctrl.Register(dev)
	}
	defer func() {
		for _, dev := range devices {
			if err := dev.Shutdown(); err != nil {
				log.Printf("shutdown %s: %v", dev.ID(), err)
			}
		}
	}()

	registry := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  time.Duration(cfg.Breaker.RecoveryTimeoutMs) * time.Millisecond,
		ProbeTimeout:     time.Duration(cfg.Breaker.ProbeTimeoutMs) * time.Millisecond,
		OnTransition: func(name string, from, to breaker.State) {
			log.Printf("breaker %s: %s -> %s", name, from, to)
			metrics.SetBreakerState(name, to)
			if to == breaker.Open {
				metrics.IncBreakerTrip(name)
			}
		},
	})

	// The command channel feeds slow commands (clear, recover) to the
	// control loop. Emergency stops never queue: the MQTT handler calls
	// the controller directly so an estop cannot wait behind a recovery.
	cmdCh := make(chan telemetry.Command, 8)
	real, err := telemetry.NewRealPublisher(cfg.Broker, func(cmd telemetry.Command) {
		dispatchCommand(ctrl, cmdCh, cmd)
	})
	if err != nil {
		return fmt.Errorf("connect mqtt: %w", err)
	}
	publisher := telemetry.NewGuarded(real, registry.Get("mqtt"))
	defer publisher.Close()

	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:      cfg.PollMs,
		HeartbeatMs: cfg.HeartbeatMs,
		Broker:      cfg.Broker,
		HTTPAddr:    cfg.HTTPAddr,
	})

	d := &daemon{
		ctrl:          ctrl,
		devices:       devices,
		pins:          pins,
		pub:           publisher,
		conn:          real,
		dropped:       real.DroppedEvents,
		tracker:       tracker,
		registry:      registry,
		now:           time.Now,
		lastRefusals:  make(map[string]int),
		breakerStates: make(map[string]breaker.State),
	}
	ctrl.OnTransition(d.publishTransition)

	// Publish startup event with full status snapshot
	d.refreshTracker()
	snap := tracker.Snapshot()
	startup := telemetry.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTPAddr)
	}

	log.Printf("started: %d actuator(s) poll=%dms broker=%s heartbeat=%dms",
		len(devices), cfg.PollMs, cfg.Broker, cfg.HeartbeatMs)

	ticker := time.NewTicker(time.Duration(cfg.PollMs) * time.Millisecond)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return d.runLoop(time.Duration(cfg.HeartbeatMs)*time.Millisecond, ticker.C, cmdCh, sigCh)
}

// dispatchCommand routes a supervisor command. Emergency stops run
// immediately on the MQTT handler goroutine; clear and recover are queued
// for the control loop because recovery blocks.
func dispatchCommand(ctrl *safety.Controller, cmdCh chan<- telemetry.Command, cmd telemetry.Command) {
	switch cmd.Action {
	case telemetry.ActionEstop:
		ctrl.TriggerEmergency(commandReason(cmd, "supervisor estop"))
	case telemetry.ActionStop:
		if cmd.Scope == "" {
			log.Printf("command: stop without scope ignored")
			return
		}
		ctrl.TriggerEmergencyFor(cmd.Scope, commandReason(cmd, "supervisor stop"))
	case telemetry.ActionClear, telemetry.ActionRecover:
		select {
		case cmdCh <- cmd:
		default:
			log.Printf("command: queue full, dropping %s", cmd.Action)
		}
	default:
		log.Printf("command: unknown action %q ignored", cmd.Action)
	}
}

func commandReason(cmd telemetry.Command, fallback string) string {
	if cmd.Reason != "" {
		return cmd.Reason
	}
	return fallback
}

// daemon ties the safety core to telemetry, metrics and the status tracker.
type daemon struct {
	ctrl     *safety.Controller
	devices  []device
	pins     *pinmgr.Manager
	pub      telemetry.Publisher
	conn     telemetry.ConnectionStatus
	dropped  func() int
	tracker  *status.Tracker
	registry *breaker.Registry
	now      func() time.Time

	recoveries    int
	lastDropped   int
	lastRefusals  map[string]int
	breakerStates map[string]breaker.State
}

func (d *daemon) runLoop(heartbeat time.Duration, tick <-chan time.Time, cmds <-chan telemetry.Command, sig <-chan os.Signal) error {
	lastHeartbeat := d.now()

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			d.refreshTracker()
			snap := d.tracker.Snapshot()
			event := telemetry.SystemEvent{
				Timestamp:  d.now(),
				Event:      "SHUTDOWN",
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
			}
			if err := d.pub.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case cmd := <-cmds:
			d.handleCommand(cmd)

		case <-tick:
			d.refreshTracker()
			d.publishBreakerChanges()

			if heartbeat > 0 && d.now().Sub(lastHeartbeat) >= heartbeat {
				lastHeartbeat = d.now()
				d.publishHeartbeat()
			}
		}
	}
}

// handleCommand runs clear and recover on the loop goroutine. A recovery
// blocks the loop for its staged duration; emergency stops still land
// because they arrive on the MQTT handler goroutine.
func (d *daemon) handleCommand(cmd telemetry.Command) {
	switch cmd.Action {
	case telemetry.ActionClear:
		if err := d.ctrl.Clear(); err != nil {
			log.Printf("clear refused: %v", err)
		}

	case telemetry.ActionRecover:
		report, err := d.ctrl.BeginRecovery(nil)
		switch {
		case err == nil:
			d.recoveries++
			metrics.IncRecovery("completed")
			metrics.AddSkippedActuators(len(report.Skipped))
			log.Printf("recovery complete: %d resumed, %d skipped",
				len(report.Resumed), len(report.Skipped))
		case errors.Is(err, safety.ErrAborted):
			d.recoveries++
			metrics.IncRecovery("aborted")
			metrics.AddSkippedActuators(len(report.Skipped))
			ev := telemetry.NewEvent(d.now(), telemetry.EventRecoveryAborted,
				"", d.ctrl.Reason(), d.ctrl.State().String())
			if perr := d.pub.Publish(ev); perr != nil {
				log.Printf("publish %s: %v", telemetry.EventRecoveryAborted, perr)
			}
		default:
			log.Printf("recovery refused: %v", err)
		}
	}
}

// publishTransition is the safety controller's transition hook. It updates
// metrics and the tracker and publishes the matching telemetry event.
func (d *daemon) publishTransition(ev safety.Event) {
	metrics.SetSafetyState(int(d.ctrl.State()))
	if ev.Scope == "" {
		d.tracker.UpdateSafety(ev.To.String(), ev.Reason)
		if ev.To == safety.Active {
			metrics.IncEmergency("global")
		}
	} else {
		metrics.IncEmergency(ev.Scope)
	}

	eventType, ok := transitionEvent(ev)
	if !ok {
		return
	}
	event := telemetry.NewEvent(d.now(), eventType, ev.Scope, ev.Reason, ev.To.String())
	if err := d.pub.Publish(event); err != nil {
		log.Printf("publish %s: %v", eventType, err)
	}
}

func transitionEvent(ev safety.Event) (string, bool) {
	if ev.Scope != "" {
		return telemetry.EventActuatorStopped, true
	}
	switch {
	case ev.To == safety.Active:
		return telemetry.EventEmergency, true
	case ev.To == safety.Clearing:
		return telemetry.EventCleared, true
	case ev.To == safety.Resuming:
		return telemetry.EventRecoveryStarted, true
	case ev.To == safety.Normal && ev.From == safety.Resuming:
		return telemetry.EventRecoveryComplete, true
	}
	return "", false
}

// refreshTracker pushes the current actuator, breaker and counter state
// into the tracker for the HTTP and heartbeat consumers.
func (d *daemon) refreshTracker() {
	rows := make([]status.ActuatorState, 0, len(d.devices))
	refusals := 0
	for _, dev := range d.devices {
		st := dev.Status()
		rows = append(rows, status.ActuatorState{
			ID:      st.ID,
			Kind:    string(st.Kind),
			Pin:     st.Pin,
			On:      st.On,
			Level:   st.Level,
			Stopped: d.ctrl.IsActiveFor(st.ID),
		})
		n := dev.DutyRefusals()
		refusals += n
		metrics.AddDutyRefusals(st.ID, n-d.lastRefusals[st.ID])
		d.lastRefusals[st.ID] = n
	}
	d.tracker.UpdateActuators(rows)
	metrics.SetSafetyState(int(d.ctrl.State()))

	states := d.registry.States()
	rendered := make(map[string]string, len(states))
	for name, st := range states {
		rendered[name] = st.String()
	}
	d.tracker.UpdateBreakers(rendered)

	droppedTotal := 0
	if d.dropped != nil {
		droppedTotal = d.dropped()
		metrics.AddEventsDropped(droppedTotal - d.lastDropped)
		d.lastDropped = droppedTotal
	}
	d.tracker.SetCounts(status.Counts{
		Emergencies:   d.ctrl.Triggers(),
		Recoveries:    d.recoveries,
		DutyRefusals:  refusals,
		PinWarnings:   d.pins.Warnings(),
		EventsDropped: droppedTotal,
	})
	if d.conn != nil {
		d.tracker.SetMQTTConnected(d.conn.IsConnected())
	}
	d.tracker.UpdateSafety(d.ctrl.State().String(), d.ctrl.Reason())
}

// publishBreakerChanges diffs breaker states against the last tick and
// publishes trip and restore events. Half-open probes are not published.
func (d *daemon) publishBreakerChanges() {
	for name, st := range d.registry.States() {
		prev, seen := d.breakerStates[name]
		if seen && prev == st {
			continue
		}
		d.breakerStates[name] = st
		if !seen && st == breaker.Closed {
			continue
		}
		var eventType string
		switch st {
		case breaker.Open:
			eventType = telemetry.EventBreakerTripped
		case breaker.Closed:
			eventType = telemetry.EventBreakerRestored
		default:
			continue
		}
		ev := telemetry.NewEvent(d.now(), eventType, name, "", d.ctrl.State().String())
		if err := d.pub.Publish(ev); err != nil {
			log.Printf("publish %s: %v", eventType, err)
		}
	}
}

func (d *daemon) publishHeartbeat() {
	snap := d.tracker.Snapshot()
	event := telemetry.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
	}
	if err := d.pub.PublishSystem(event); err != nil {
		log.Printf("heartbeat publish error: %v", err)
	}
}
