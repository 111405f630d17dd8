package main

import (
	"github.com/godbus/dbus/v5"
)

// Status is the proxy state as printed by the status command.
type Status struct {
	HasAccelerometer         bool    `json:"has_accelerometer"`
	AccelerometerOrientation string  `json:"accelerometer_orientation"` // "undefined" | "normal" | "bottom-up" | "left-up" | "right-up"
	HasAmbientLight          bool    `json:"has_ambient_light"`
	LightLevelUnit           string  `json:"light_level_unit"` // "lux" | "vendor"
	LightLevel               float64 `json:"light_level"`
	HasProximity             bool    `json:"has_proximity"`
	ProximityNear            bool    `json:"proximity_near"`
	HasCompass               bool    `json:"has_compass"`
	CompassHeading           float64 `json:"compass_heading"`
}

// statusFromProperties fills a Status from the two endpoints' GetAll
// replies. Missing or mistyped properties keep their zero value.
func statusFromProperties(mainProps, compassProps map[string]dbus.Variant) Status {
	var st Status
	store(mainProps, "HasAccelerometer", &st.HasAccelerometer)
	store(mainProps, "AccelerometerOrientation", &st.AccelerometerOrientation)
	store(mainProps, "HasAmbientLight", &st.HasAmbientLight)
	store(mainProps, "LightLevelUnit", &st.LightLevelUnit)
	store(mainProps, "LightLevel", &st.LightLevel)
	store(mainProps, "HasProximity", &st.HasProximity)
	store(mainProps, "ProximityNear", &st.ProximityNear)
	store(compassProps, "HasCompass", &st.HasCompass)
	store(compassProps, "CompassHeading", &st.CompassHeading)
	return st
}

func store[T any](props map[string]dbus.Variant, name string, dst *T) {
	v, ok := props[name]
	if !ok {
		return
	}
	if val, ok := v.Value().(T); ok {
		*dst = val
	}
}
