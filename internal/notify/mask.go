package notify

import (
	"errors"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/mil-ad/sensorproxy/internal/sensor"
)

// Mask selects published fields that changed and go out in one update.
type Mask uint32

const (
	HasAccelerometer Mask = 1 << iota
	AccelerometerOrientation
	HasAmbientLight
	LightLevel // LightLevel and LightLevelUnit
	HasCompass
	CompassHeading
	HasProximity
	ProximityNear
)

// The two groups are published on different endpoints.
const (
	AllMain    = HasAccelerometer | AccelerometerOrientation | HasAmbientLight | LightLevel | HasProximity | ProximityNear
	AllCompass = HasCompass | CompassHeading
)

// ErrMixedGroups is returned for a mask carrying fields of both endpoints.
var ErrMixedGroups = errors.New("mask mixes main and compass fields")

// NewMask combines bits into a mask, rejecting combinations that span both
// endpoints.
func NewMask(bits ...Mask) (Mask, error) {
	var m Mask
	for _, b := range bits {
		m |= b
	}
	if err := m.Validate(); err != nil {
		return 0, err
	}
	return m, nil
}

// Validate returns ErrMixedGroups if m touches both endpoints.
func (m Mask) Validate() error {
	if m&AllMain != 0 && m&AllCompass != 0 {
		return ErrMixedGroups
	}
	return nil
}

// Endpoint returns the endpoint m is published on.
func (m Mask) Endpoint() Endpoint {
	if m&AllCompass != 0 {
		return CompassEndpoint
	}
	return MainEndpoint
}

var maskNames = []struct {
	bit  Mask
	name string
}{
	{HasAccelerometer, "HasAccelerometer"},
	{AccelerometerOrientation, "AccelerometerOrientation"},
	{HasAmbientLight, "HasAmbientLight"},
	{LightLevel, "LightLevel"},
	{HasCompass, "HasCompass"},
	{CompassHeading, "CompassHeading"},
	{HasProximity, "HasProximity"},
	{ProximityNear, "ProximityNear"},
}

func (m Mask) String() string {
	var names []string
	for _, n := range maskNames {
		if m&n.bit != 0 {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// HasBit returns the presence bit for kind.
func HasBit(kind sensor.Kind) Mask {
	switch kind {
	case sensor.Accelerometer:
		return HasAccelerometer
	case sensor.Light:
		return HasAmbientLight
	case sensor.Compass:
		return HasCompass
	case sensor.Proximity:
		return HasProximity
	}
	return 0
}

// Endpoint is one addressable object the proxy publishes properties on.
type Endpoint struct {
	Path      dbus.ObjectPath
	Interface string
}

const (
	BusName = "net.hadess.SensorProxy"
)

var (
	MainEndpoint = Endpoint{
		Path:      "/net/hadess/SensorProxy",
		Interface: BusName,
	}
	CompassEndpoint = Endpoint{
		Path:      "/net/hadess/SensorProxy/Compass",
		Interface: BusName + ".Compass",
	}
)
