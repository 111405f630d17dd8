// Package notify owns the published sensor state and turns changes to it
// into PropertiesChanged updates.
package notify

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/mil-ad/sensorproxy/internal/sensor"
)

// Emitter sends one property update for an endpoint.
type Emitter interface {
	Emit(ep Endpoint, changed map[string]dbus.Variant) error
}

// State is the full set of published values.
type State struct {
	Available     [sensor.NumKinds]bool
	Orientation   sensor.Orientation
	LightLevel    float64
	LightUnit     sensor.LightUnit
	Heading       float64
	ProximityNear bool
}

// Notifier is the only writer of State. Every mutator compares, stores and
// publishes under one lock so updates leave in the order they were applied.
type Notifier struct {
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	emitter Emitter
}

// New returns a notifier with every sensor unavailable.
func New(unit sensor.LightUnit, logger *zap.Logger) *Notifier {
	return &Notifier{
		logger: logger,
		state:  State{LightUnit: unit},
	}
}

// Attach sets the emitter. Until it is called Publish does nothing.
func (n *Notifier) Attach(e Emitter) {
	n.mu.Lock()
	n.emitter = e
	n.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (n *Notifier) Snapshot() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Publish emits the fields selected by mask. It panics if mask mixes
// endpoints.
func (n *Notifier) Publish(mask Mask) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.publishLocked(mask)
}

func (n *Notifier) publishLocked(mask Mask) {
	if mask == 0 || n.emitter == nil {
		return
	}
	if err := mask.Validate(); err != nil {
		panic(fmt.Sprintf("notify: publish %s: %v", mask, err))
	}

	s := &n.state
	changed := make(map[string]dbus.Variant)

	if mask&HasAccelerometer != 0 {
		has := s.Available[sensor.Accelerometer]
		changed["HasAccelerometer"] = dbus.MakeVariant(has)
		if has {
			mask |= AccelerometerOrientation
		} else {
			n.resetLocked(sensor.Accelerometer)
		}
	}
	if mask&AccelerometerOrientation != 0 {
		changed["AccelerometerOrientation"] = dbus.MakeVariant(s.Orientation.String())
	}

	if mask&HasAmbientLight != 0 {
		has := s.Available[sensor.Light]
		changed["HasAmbientLight"] = dbus.MakeVariant(has)
		if has {
			mask |= LightLevel
		} else {
			n.resetLocked(sensor.Light)
		}
	}
	if mask&LightLevel != 0 {
		changed["LightLevelUnit"] = dbus.MakeVariant(s.LightUnit.String())
		changed["LightLevel"] = dbus.MakeVariant(s.LightLevel)
	}

	if mask&HasCompass != 0 {
		has := s.Available[sensor.Compass]
		changed["HasCompass"] = dbus.MakeVariant(has)
		if has {
			mask |= CompassHeading
		} else {
			n.resetLocked(sensor.Compass)
		}
	}
	if mask&CompassHeading != 0 {
		changed["CompassHeading"] = dbus.MakeVariant(s.Heading)
	}

	if mask&HasProximity != 0 {
		has := s.Available[sensor.Proximity]
		changed["HasProximity"] = dbus.MakeVariant(has)
		if has {
			mask |= ProximityNear
		} else {
			n.resetLocked(sensor.Proximity)
		}
	}
	if mask&ProximityNear != 0 {
		changed["ProximityNear"] = dbus.MakeVariant(s.ProximityNear)
	}

	if err := n.emitter.Emit(mask.Endpoint(), changed); err != nil {
		n.logger.Warn("emit property update", zap.Stringer("mask", mask), zap.Error(err))
	}
}

// Init records the startup availability of every sensor without publishing
// anything. Values of absent sensors are reset.
func (n *Notifier) Init(available [sensor.NumKinds]bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state.Available = available
	for _, kind := range sensor.Kinds() {
		if !available[kind] {
			n.resetLocked(kind)
		}
	}
}

// SetAvailable records whether kind is present and publishes its presence
// flag if that changed.
func (n *Notifier) SetAvailable(kind sensor.Kind, available bool) {
	if !kind.Valid() {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state.Available[kind] == available {
		return
	}
	n.state.Available[kind] = available
	if !available {
		n.resetLocked(kind)
	}
	n.publishLocked(HasBit(kind))
}

func (n *Notifier) resetLocked(kind sensor.Kind) {
	switch kind {
	case sensor.Accelerometer:
		n.state.Orientation = sensor.OrientationUndefined
	case sensor.Light:
		n.state.LightLevel = 0
	case sensor.Compass:
		n.state.Heading = 0
	case sensor.Proximity:
		n.state.ProximityNear = false
	}
}

// SetOrientation stores o and publishes it if it changed. Values for an
// absent accelerometer are ignored. It reports whether an update was made.
func (n *Notifier) SetOrientation(o sensor.Orientation) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.state.Available[sensor.Accelerometer] || n.state.Orientation == o {
		return false
	}
	n.state.Orientation = o
	n.publishLocked(AccelerometerOrientation)
	return true
}

// SetLightLevel stores level and publishes it if it changed.
func (n *Notifier) SetLightLevel(level float64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.state.Available[sensor.Light] || n.state.LightLevel == level {
		return false
	}
	n.state.LightLevel = level
	n.publishLocked(LightLevel)
	return true
}

// SetLightUnit changes the unit LightLevel is reported in.
func (n *Notifier) SetLightUnit(unit sensor.LightUnit) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state.LightUnit == unit {
		return false
	}
	n.state.LightUnit = unit
	if n.state.Available[sensor.Light] {
		n.publishLocked(LightLevel)
	}
	return true
}

// SetHeading stores the compass heading in degrees and publishes it if it
// changed.
func (n *Notifier) SetHeading(deg float64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.state.Available[sensor.Compass] || n.state.Heading == deg {
		return false
	}
	n.state.Heading = deg
	n.publishLocked(CompassHeading)
	return true
}

// SetProximityNear stores the proximity state and publishes it if it
// changed.
func (n *Notifier) SetProximityNear(near bool) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.state.Available[sensor.Proximity] || n.state.ProximityNear == near {
		return false
	}
	n.state.ProximityNear = near
	n.publishLocked(ProximityNear)
	return true
}

// Properties returns every property of ep.
func (n *Notifier) Properties(ep Endpoint) map[string]dbus.Variant {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := n.state
	switch ep {
	case MainEndpoint:
		return map[string]dbus.Variant{
			"HasAccelerometer":         dbus.MakeVariant(s.Available[sensor.Accelerometer]),
			"AccelerometerOrientation": dbus.MakeVariant(s.Orientation.String()),
			"HasAmbientLight":          dbus.MakeVariant(s.Available[sensor.Light]),
			"LightLevelUnit":           dbus.MakeVariant(s.LightUnit.String()),
			"LightLevel":               dbus.MakeVariant(s.LightLevel),
			"HasProximity":             dbus.MakeVariant(s.Available[sensor.Proximity]),
			"ProximityNear":            dbus.MakeVariant(s.ProximityNear),
		}
	case CompassEndpoint:
		return map[string]dbus.Variant{
			"HasCompass":     dbus.MakeVariant(s.Available[sensor.Compass]),
			"CompassHeading": dbus.MakeVariant(s.Heading),
		}
	}
	return nil
}

// Property returns a single property of ep.
func (n *Notifier) Property(ep Endpoint, name string) (dbus.Variant, bool) {
	v, ok := n.Properties(ep)[name]
	return v, ok
}
