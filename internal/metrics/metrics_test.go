package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sweeney/greenhouse-controller/internal/breaker"
)

func TestCountersAndGauges(t *testing.T) {
	Init(func() int { return 2 })

	IncEmergency("")
	IncEmergency("pump1")
	IncEmergency("pump1")
	if got := testutil.ToFloat64(emergenciesTotal.WithLabelValues("global")); got != 1 {
		t.Errorf("emergencies(global) = %v, want 1", got)
	}
	if got := testutil.ToFloat64(emergenciesTotal.WithLabelValues("pump1")); got != 2 {
		t.Errorf("emergencies(pump1) = %v, want 2", got)
	}

	IncRecovery("completed")
	if got := testutil.ToFloat64(recoveriesTotal.WithLabelValues("completed")); got != 1 {
		t.Errorf("recoveries(completed) = %v, want 1", got)
	}

	AddSkippedActuators(0)
	AddSkippedActuators(-1)
	AddSkippedActuators(3)
	if got := testutil.ToFloat64(actuatorsSkipped); got != 3 {
		t.Errorf("actuatorsSkipped = %v, want 3", got)
	}

	AddDutyRefusals("pump1", 0)
	AddDutyRefusals("pump1", 2)
	AddDutyRefusals("pump1", 1)
	if got := testutil.ToFloat64(dutyRefusalsTotal.WithLabelValues("pump1")); got != 3 {
		t.Errorf("dutyRefusals(pump1) = %v, want 3", got)
	}

	SetBreakerState("mqtt", breaker.HalfOpen)
	if got := testutil.ToFloat64(breakerState.WithLabelValues("mqtt")); got != 2 {
		t.Errorf("breakerState(mqtt) = %v, want 2 (half-open)", got)
	}
	SetBreakerState("mqtt", breaker.Closed)
	if got := testutil.ToFloat64(breakerState.WithLabelValues("mqtt")); got != 0 {
		t.Errorf("breakerState(mqtt) = %v, want 0 (closed)", got)
	}
}

func TestInitOnlyRegistersOnce(t *testing.T) {
	// A second Init must not panic on duplicate registration.
	Init(nil)
	Init(nil)
}
