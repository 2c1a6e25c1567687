package telemetry

import (
	"errors"

	"github.com/sweeney/greenhouse-controller/internal/breaker"
)

// ErrPublishRefused is returned when the broker's circuit breaker is open.
var ErrPublishRefused = errors.New("telemetry: publish refused, breaker open")

// Guarded wraps a Publisher with a circuit breaker so repeated broker
// failures cannot saturate the control loop with retry latency. A refused
// publish is an ordinary outcome for the caller to log.
type Guarded struct {
	inner Publisher
	br    *breaker.Breaker
}

// NewGuarded wraps the publisher with the given breaker.
func NewGuarded(inner Publisher, br *breaker.Breaker) *Guarded {
	return &Guarded{inner: inner, br: br}
}

// Publish attempts the publish if the breaker admits it.
func (g *Guarded) Publish(event Event) error {
	attempt, ok := g.br.Allow()
	if !ok {
		return ErrPublishRefused
	}
	if err := g.inner.Publish(event); err != nil {
		attempt.Failure()
		return err
	}
	attempt.Success()
	return nil
}

// PublishSystem attempts the publish if the breaker admits it.
func (g *Guarded) PublishSystem(event SystemEvent) error {
	attempt, ok := g.br.Allow()
	if !ok {
		return ErrPublishRefused
	}
	if err := g.inner.PublishSystem(event); err != nil {
		attempt.Failure()
		return err
	}
	attempt.Success()
	return nil
}

// Close closes the wrapped publisher.
func (g *Guarded) Close() error {
	return g.inner.Close()
}
