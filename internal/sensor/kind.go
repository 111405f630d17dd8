// Package sensor defines the fixed set of sensor kinds the proxy serves, the
// readings each kind produces and the capability interface every backend
// variant implements.
package sensor

import "fmt"

// Kind identifies one of the sensor classes the proxy multiplexes.
type Kind int

const (
	Accelerometer Kind = iota
	Light
	Compass
	Proximity
)

// NumKinds is the number of sensor kinds. Tables indexed by Kind use it as
// their length.
const NumKinds = int(Proximity) + 1

// Kinds returns every sensor kind in declaration order.
func Kinds() []Kind {
	return []Kind{Accelerometer, Light, Compass, Proximity}
}

func (k Kind) String() string {
	switch k {
	case Accelerometer:
		return "accelerometer"
	case Light:
		return "ambient light sensor"
	case Compass:
		return "compass"
	case Proximity:
		return "proximity"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k >= Accelerometer && k <= Proximity
}

// Orientation is the discrete screen orientation derived from the
// accelerometer.
type Orientation int

const (
	OrientationUndefined Orientation = iota
	OrientationNormal
	OrientationBottomUp
	OrientationLeftUp
	OrientationRightUp
)

var orientationNames = [...]string{
	OrientationUndefined: "undefined",
	OrientationNormal:    "normal",
	OrientationBottomUp:  "bottom-up",
	OrientationLeftUp:    "left-up",
	OrientationRightUp:   "right-up",
}

// String returns the wire representation published on the bus.
func (o Orientation) String() string {
	if o < 0 || int(o) >= len(orientationNames) {
		return orientationNames[OrientationUndefined]
	}
	return orientationNames[o]
}

// ParseOrientation maps a wire string back to an Orientation. Unknown strings
// map to OrientationUndefined.
func ParseOrientation(s string) Orientation {
	for i, name := range orientationNames {
		if name == s {
			return Orientation(i)
		}
	}
	return OrientationUndefined
}

// LightUnit is the unit LightLevel is reported in.
type LightUnit int

const (
	LightUnitLux LightUnit = iota
	LightUnitVendor
)

func (u LightUnit) String() string {
	if u == LightUnitVendor {
		return "vendor"
	}
	return "lux"
}

// ParseLightUnit accepts "lux" or "vendor".
func ParseLightUnit(s string) (LightUnit, error) {
	switch s {
	case "", "lux":
		return LightUnitLux, nil
	case "vendor":
		return LightUnitVendor, nil
	}
	return LightUnitLux, fmt.Errorf("unknown light unit %q", s)
}

// AccelerometerReading is one raw accelerometer sample, in device counts.
type AccelerometerReading struct {
	X, Y, Z   int32
	Timestamp uint64 // monotonic, microseconds
}

// LightReading is one ambient light sample.
type LightReading struct {
	Value     uint32
	Timestamp uint64
}

// CompassReading is one compass sample. Degrees is the value clients use;
// it may or may not be declination corrected.
type CompassReading struct {
	Degrees          int32
	RawDegrees       int32
	CorrectedDegrees int32
	Level            int32 // calibration level, higher is better
	Timestamp        uint64
}

// ProximityReading is one proximity sample.
type ProximityReading struct {
	Value     uint32
	Near      bool
	Timestamp uint64
}
