// Package metrics registers Prometheus instrumentation for the
// greenhouse-controller daemon. Values are scraped through the web
// server's /metrics endpoint.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/greenhouse-controller/internal/breaker"
)

const metricPrefix = "greenhouse_"

// Breaker state values as exported gauge levels.
const (
	stateClosedValue   = 0
	stateOpenValue     = 1
	stateHalfOpenValue = 2
)

var (
	registerOnce sync.Once

	emergenciesTotal  *prometheus.CounterVec
	recoveriesTotal   *prometheus.CounterVec
	actuatorsSkipped  prometheus.Counter
	dutyRefusalsTotal *prometheus.CounterVec
	breakerTrips      *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
	eventsDropped     prometheus.Counter
	safetyState       prometheus.Gauge
)

// Init registers all daemon metrics. pinWarnings, when non-nil, backs a
// gauge reporting how many pins failed safe-state verification.
func Init(pinWarnings func() int) {
	registerOnce.Do(func() {
		emergenciesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "emergencies_total",
				Help: "Total emergency stops by scope",
			},
			[]string{"scope"},
		)
		recoveriesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "recovery_runs_total",
				Help: "Total recovery runs by outcome",
			},
			[]string{"outcome"},
		)
		actuatorsSkipped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "recovery_actuators_skipped_total",
				Help: "Total actuators skipped during recovery",
			},
		)
		dutyRefusalsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "duty_refusals_total",
				Help: "Total activations refused by duty-cycle limits",
			},
			[]string{"actuator"},
		)
		breakerTrips = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "breaker_trips_total",
				Help: "Total circuit breaker trips by name",
			},
			[]string{"name"},
		)
		breakerState = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		)
		eventsDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_events_dropped_total",
				Help: "Total telemetry events dropped from the offline backlog",
			},
		)
		safetyState = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "safety_state",
				Help: "Safety controller state (0=normal, 1=active, 2=clearing, 3=resuming)",
			},
		)

		prometheus.MustRegister(
			emergenciesTotal,
			recoveriesTotal,
			actuatorsSkipped,
			dutyRefusalsTotal,
			breakerTrips,
			breakerState,
			eventsDropped,
			safetyState,
		)

		if pinWarnings != nil {
			prometheus.MustRegister(prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: metricPrefix + "pin_safe_state_warnings",
					Help: "Pins that failed safe-state verification",
				},
				func() float64 { return float64(pinWarnings()) },
			))
		}
	})
}

// IncEmergency increments the emergency counter for the given scope.
func IncEmergency(scope string) {
	if scope == "" {
		scope = "global"
	}
	if emergenciesTotal != nil {
		emergenciesTotal.WithLabelValues(scope).Inc()
	}
}

// IncRecovery increments the recovery run counter for the given outcome.
func IncRecovery(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if recoveriesTotal != nil {
		recoveriesTotal.WithLabelValues(outcome).Inc()
	}
}

// AddSkippedActuators increments the skipped actuator counter by count.
func AddSkippedActuators(count int) {
	if count <= 0 {
		return
	}
	if actuatorsSkipped != nil {
		actuatorsSkipped.Add(float64(count))
	}
}

// AddDutyRefusals adds count duty refusals for one actuator. The control
// loop polls cumulative per-driver counts and reports the delta.
func AddDutyRefusals(actuator string, count int) {
	if count <= 0 {
		return
	}
	if actuator == "" {
		actuator = "unknown"
	}
	if dutyRefusalsTotal != nil {
		dutyRefusalsTotal.WithLabelValues(actuator).Add(float64(count))
	}
}

// IncBreakerTrip increments the trip counter for a named breaker.
func IncBreakerTrip(name string) {
	if breakerTrips != nil {
		breakerTrips.WithLabelValues(name).Inc()
	}
}

// SetBreakerState updates the state gauge for a named breaker.
func SetBreakerState(name string, state breaker.State) {
	if breakerState == nil {
		return
	}
	value := stateClosedValue
	switch state {
	case breaker.Open:
		value = stateOpenValue
	case breaker.HalfOpen:
		value = stateHalfOpenValue
	}
	breakerState.WithLabelValues(name).Set(float64(value))
}

// AddEventsDropped counts telemetry events lost to backlog overflow.
func AddEventsDropped(count int) {
	if count <= 0 {
		return
	}
	if eventsDropped != nil {
		eventsDropped.Add(float64(count))
	}
}

// SetSafetyState updates the global safety state gauge.
func SetSafetyState(state int) {
	if safetyState != nil {
		safetyState.Set(float64(state))
	}
}
