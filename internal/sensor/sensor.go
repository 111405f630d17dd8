package sensor

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrUnavailable is returned by operations on a sensor whose backend
	// could not be reached or has been lost.
	ErrUnavailable = errors.New("sensor unavailable")
	// ErrClosed is returned by operations on a closed sensor.
	ErrClosed = errors.New("sensor closed")
)

// Sensor is the capability every backend variant of one sensor kind offers.
type Sensor[R any] interface {
	// Kind reports which sensor class this is.
	Kind() Kind
	// Available reports whether the backend is connected and streaming is
	// possible.
	Available() bool
	// Register installs handler as the reading callback, replacing any
	// previous one. Cancelling the returned registration restores the no-op
	// handler.
	Register(handler func(R)) (*Registration, error)
	// Enable starts streaming. It blocks until the backend has applied the
	// change.
	Enable(ctx context.Context) error
	// Disable stops streaming. It blocks until the backend has applied the
	// change.
	Disable(ctx context.Context) error
	// Latest returns the most recent reading, if any.
	Latest(ctx context.Context) (R, bool, error)
	// Done is closed once the sensor can no longer deliver readings.
	Done() <-chan struct{}
	// Close releases the backend.
	Close() error
}

type (
	AccelerometerSensor = Sensor[AccelerometerReading]
	LightSensor         = Sensor[LightReading]
	CompassSensor       = Sensor[CompassReading]
	ProximitySensor     = Sensor[ProximityReading]
)

// Registration is a handle on an installed handler. Cancel runs the
// unregister function exactly once, however many times it is called.
type Registration struct {
	once   sync.Once
	cancel func()
}

// NewRegistration wraps cancel in a Registration.
func NewRegistration(cancel func()) *Registration {
	return &Registration{cancel: cancel}
}

// Cancel unregisters the handler. It is safe to call on a nil Registration.
func (r *Registration) Cancel() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
	})
}

// Null is the backend variant for a sensor kind that is not present.
type Null[R any] struct {
	kind Kind
	done chan struct{}
}

// NewNull returns an unavailable sensor of the given kind.
func NewNull[R any](kind Kind) *Null[R] {
	done := make(chan struct{})
	close(done)
	return &Null[R]{kind: kind, done: done}
}

func (n *Null[R]) Kind() Kind      { return n.kind }
func (n *Null[R]) Available() bool { return false }

func (n *Null[R]) Register(func(R)) (*Registration, error) {
	return NewRegistration(nil), nil
}

func (n *Null[R]) Enable(context.Context) error  { return ErrUnavailable }
func (n *Null[R]) Disable(context.Context) error { return ErrUnavailable }

func (n *Null[R]) Latest(context.Context) (R, bool, error) {
	var zero R
	return zero, false, nil
}

func (n *Null[R]) Done() <-chan struct{} { return n.done }
func (n *Null[R]) Close() error          { return nil }
