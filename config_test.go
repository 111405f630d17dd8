package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mil-ad/sensorproxy/internal/orientation"
	"github.com/mil-ad/sensorproxy/internal/sensor"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigMissingFileGivesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
	assert.NoError(t, cfg.validate())
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
bus: session
log_level: debug
light_unit: vendor
power_on_demand: true
drain_window: 50ms
sensord:
  socket: /tmp/sensord.sock
  timeout: 2s
orientation:
  enter_angle: 40
sensors:
  compass: false
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "session", cfg.Bus)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "vendor", cfg.LightUnit)
	assert.True(t, cfg.PowerOnDemand)
	assert.Equal(t, 50*time.Millisecond, cfg.DrainWindow)
	assert.Equal(t, "/tmp/sensord.sock", cfg.Sensord.Socket)
	assert.Equal(t, "com.nokia.SensorService", cfg.Sensord.Service, "unset keys keep their default")
	assert.Equal(t, 2*time.Second, cfg.Sensord.Timeout)
	assert.Equal(t, 40.0, cfg.Orientation.EnterAngle)
	assert.Equal(t, orientation.DefaultPolicy.Hysteresis, cfg.Orientation.Hysteresis)
	assert.Equal(t, orientation.DefaultScale, cfg.AccelerometerScale)

	assert.False(t, cfg.Sensors.Enabled(sensor.Compass))
	assert.True(t, cfg.Sensors.Enabled(sensor.Light))
	assert.False(t, cfg.Sensors.Enabled(sensor.Kind(9)))
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bus", "bus: nowhere"},
		{"log level", "log_level: loud"},
		{"light unit", "light_unit: candela"},
		{"drain window", "drain_window: -1s"},
		{"scale", "accelerometer_scale: 0"},
		{"enter angle", "orientation: {enter_angle: 95}"},
		{"hysteresis", "orientation: {enter_angle: 30, hysteresis: 30}"},
		{"timeout", "sensord: {timeout: 0s}"},
		{"syntax", "bus: [system"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("SENSORPROXY_CONFIG", "")
	assert.Equal(t, defaultConfigPath, configPath(""))

	t.Setenv("SENSORPROXY_CONFIG", "/run/env.yaml")
	assert.Equal(t, "/run/env.yaml", configPath(""))
	assert.Equal(t, "/opt/flag.yaml", configPath("/opt/flag.yaml"))
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))

	_, err = newLogger("chatty")
	assert.Error(t, err)
}
