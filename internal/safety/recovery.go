package safety

import (
	"fmt"
	"log"
	"time"
)

// BeginRecovery walks the registered actuators in priority order and
// re-enables each one whose health verification passes. A single failing
// actuator is skipped after the retry budget and never blocks the others.
//
// precheck is the caller-supplied global precondition; if it returns false
// at any point, recovery aborts through the emergency path and the state
// returns to Active. precheck may be nil.
//
// The call is synchronous and blocks for the duration of the staged
// sequence. Every wait in it selects against the abort channel closed by
// TriggerEmergency, so a re-trigger cancels the run immediately.
func (c *Controller) BeginRecovery(precheck func() bool) (RecoveryReport, error) {
	c.mu.Lock()
	if c.state != Clearing {
		c.mu.Unlock()
		return RecoveryReport{}, fmt.Errorf("%w: state is %s", ErrNotClearing, c.state)
	}
	from := c.state
	c.state = Resuming
	abort := make(chan struct{})
	c.abort = abort
	order := c.recoveryOrder()
	c.mu.Unlock()

	c.fire(Event{From: from, To: Resuming})

	var report RecoveryReport
	for _, a := range order {
		if precheck != nil && !precheck() {
			// Single abort path: re-enter Active through the same code
			// that handles any other emergency.
			c.TriggerEmergency("recovery aborted: precondition failed")
			report.Aborted = true
			c.finishRecovery(report)
			return report, ErrAborted
		}

		id := a.ID()
		if !c.IsActiveFor(id) {
			// Never stopped (registered after the trigger); nothing to do.
			continue
		}

		if c.verify(a, abort) {
			// A trigger may land between the verification and this point.
			// The stop flag it set must stand, so the flag is only cleared
			// while the run still owns the state.
			c.mu.Lock()
			resumed := c.state == Resuming
			if resumed {
				c.stopped[id] = false
			}
			c.mu.Unlock()
			if !resumed {
				report.Aborted = true
				c.finishRecovery(report)
				return report, ErrAborted
			}
			report.Resumed = append(report.Resumed, id)
			log.Printf("safety: resumed %s", id)

			if !c.pause(c.cfg.InterActuatorDelay, abort) {
				report.Aborted = true
				c.finishRecovery(report)
				return report, ErrAborted
			}
			continue
		}

		if c.aborted(abort) {
			report.Aborted = true
			c.finishRecovery(report)
			return report, ErrAborted
		}

		reason := fmt.Sprintf("verification failed after %d attempt(s)", c.cfg.MaxRetryAttempts)
		report.Skipped = append(report.Skipped, SkipRecord{ID: id, Reason: reason})
		log.Printf("safety: skipped %s: %s", id, reason)
	}

	c.mu.Lock()
	completed := c.state == Resuming
	if completed {
		c.state = Normal
		c.reason = ""
		c.abort = nil
	}
	c.lastRun = &report
	c.mu.Unlock()

	if completed {
		c.fire(Event{From: Resuming, To: Normal})
		return report, nil
	}
	// A trigger landed between the last verification and here.
	report.Aborted = true
	return report, ErrAborted
}

// verify runs the actuator's health predicate up to MaxRetryAttempts times
// within VerificationTimeout, waiting between attempts. Returns false on
// timeout, retry exhaustion, or abort.
func (c *Controller) verify(a Actuator, abort <-chan struct{}) bool {
	deadline := c.now().Add(c.cfg.VerificationTimeout)
	retryWait := c.cfg.VerificationTimeout / time.Duration(c.cfg.MaxRetryAttempts)

	for attempt := 1; ; attempt++ {
		if c.aborted(abort) {
			return false
		}
		if a.Healthy() {
			return true
		}
		if attempt >= c.cfg.MaxRetryAttempts {
			return false
		}
		if !c.pause(retryWait, abort) {
			return false
		}
		if c.now().After(deadline) {
			return false
		}
	}
}

// pause waits for d as a cooperative, cancellable yield point. Returns false
// if the wait was abandoned by an emergency trigger.
func (c *Controller) pause(d time.Duration, abort <-chan struct{}) bool {
	if d <= 0 {
		return !c.aborted(abort)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-abort:
		return false
	}
}

func (c *Controller) aborted(abort <-chan struct{}) bool {
	select {
	case <-abort:
		return true
	default:
		return false
	}
}

// finishRecovery records the report of an aborted run. The state was
// already forced back to Active by the trigger.
func (c *Controller) finishRecovery(report RecoveryReport) {
	c.mu.Lock()
	c.lastRun = &report
	c.mu.Unlock()
}

// recoveryOrder returns actuators critical-first when configured, otherwise
// in registration order. Caller holds c.mu.
func (c *Controller) recoveryOrder() []Actuator {
	order := append([]Actuator(nil), c.order...)
	if !c.cfg.CriticalFirst {
		return order
	}
	sorted := make([]Actuator, 0, len(order))
	for _, a := range order {
		if a.Critical() {
			sorted = append(sorted, a)
		}
	}
	for _, a := range order {
		if !a.Critical() {
			sorted = append(sorted, a)
		}
	}
	return sorted
}
