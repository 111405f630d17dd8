// Package orientation turns raw accelerometer vectors into one of the
// discrete screen orientations.
package orientation

import (
	"math"

	"github.com/mil-ad/sensorproxy/internal/sensor"
)

// StandardGravity in m/s².
const StandardGravity = 9.80665

// DefaultScale converts sensord's milli-g counts to m/s².
const DefaultScale = 1 / 101.971621298

// Policy holds the thresholds the classifier compares against. Angles are in
// degrees of tilt out of the screen plane, gravity in m/s².
type Policy struct {
	// EnterAngle is the tilt an axis must reach before its orientation is
	// entered.
	EnterAngle float64 `yaml:"enter_angle"`
	// Hysteresis is how far below EnterAngle the current orientation's tilt
	// may sink before it is given up.
	Hysteresis float64 `yaml:"hysteresis"`
	// MinGravity is the smallest vector magnitude treated as a valid reading.
	// Anything weaker (free fall, sensor noise) keeps the previous state.
	MinGravity float64 `yaml:"min_gravity"`
}

// DefaultPolicy is the policy Classify uses.
var DefaultPolicy = Policy{
	EnterAngle: 35,
	Hysteresis: 10,
	MinGravity: 0.4 * StandardGravity,
}

// Classify applies DefaultPolicy.
func Classify(prev sensor.Orientation, x, y, z int32, scale float64) sensor.Orientation {
	return DefaultPolicy.Classify(prev, x, y, z, scale)
}

// Classify maps the accelerometer vector (x, y, z) in raw counts to an
// orientation. scale converts counts to m/s². The previous orientation is
// kept while the device stays near it and no other orientation clearly
// dominates, so readings around a boundary do not flap between two states.
func (p Policy) Classify(prev sensor.Orientation, x, y, z int32, scale float64) sensor.Orientation {
	gx := float64(x) * scale
	gy := float64(y) * scale
	gz := float64(z) * scale

	if math.Sqrt(gx*gx+gy*gy+gz*gz) < p.MinGravity {
		return prev
	}

	portrait := degrees(math.Atan2(gx, math.Hypot(gy, gz)))
	landscape := degrees(math.Atan2(gy, math.Hypot(gx, gz)))

	var next sensor.Orientation
	var angle float64
	if math.Abs(portrait) >= math.Abs(landscape) {
		angle = portrait
		next = sensor.OrientationRightUp
		if portrait > 0 {
			next = sensor.OrientationLeftUp
		}
	} else {
		angle = landscape
		next = sensor.OrientationNormal
		if landscape > 0 {
			next = sensor.OrientationBottomUp
		}
	}

	// The held orientation survives inside the band unless another one has
	// been entered and leans further by at least the hysteresis.
	if prev != sensor.OrientationUndefined && next != prev {
		held := tilt(prev, portrait, landscape)
		if held >= p.EnterAngle-p.Hysteresis &&
			(math.Abs(angle) < p.EnterAngle || math.Abs(angle) < held+p.Hysteresis) {
			return prev
		}
	}

	if math.Abs(angle) < p.EnterAngle {
		// Lying flat or in between: nothing is dominant enough.
		return prev
	}
	return next
}

// tilt returns how far the device leans towards o, negative when it leans
// away.
func tilt(o sensor.Orientation, portrait, landscape float64) float64 {
	switch o {
	case sensor.OrientationLeftUp:
		return portrait
	case sensor.OrientationRightUp:
		return -portrait
	case sensor.OrientationBottomUp:
		return landscape
	case sensor.OrientationNormal:
		return -landscape
	}
	return math.Inf(-1)
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
