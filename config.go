package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/mil-ad/sensorproxy/internal/frame"
	"github.com/mil-ad/sensorproxy/internal/orientation"
	"github.com/mil-ad/sensorproxy/internal/sensor"
	"github.com/mil-ad/sensorproxy/internal/sensorfw"
)

const defaultConfigPath = "/etc/sensorproxy/config.yaml"

type Config struct {
	Bus                string             `yaml:"bus"`
	LogLevel           string             `yaml:"log_level"`
	LightUnit          string             `yaml:"light_unit"`
	PowerOnDemand      bool               `yaml:"power_on_demand"`
	DrainWindow        time.Duration      `yaml:"drain_window"`
	AccelerometerScale float64            `yaml:"accelerometer_scale"`
	Orientation        orientation.Policy `yaml:"orientation"`
	Sensord            SensordConfig      `yaml:"sensord"`
	Sensors            SensorsConfig      `yaml:"sensors"`
}

type SensordConfig struct {
	Service string        `yaml:"service"`
	Socket  string        `yaml:"socket"`
	Timeout time.Duration `yaml:"timeout"`
}

// SensorsConfig switches individual sensor kinds off.
type SensorsConfig struct {
	Accelerometer bool `yaml:"accelerometer"`
	Light         bool `yaml:"light"`
	Compass       bool `yaml:"compass"`
	Proximity     bool `yaml:"proximity"`
}

func (s SensorsConfig) Enabled(kind sensor.Kind) bool {
	switch kind {
	case sensor.Accelerometer:
		return s.Accelerometer
	case sensor.Light:
		return s.Light
	case sensor.Compass:
		return s.Compass
	case sensor.Proximity:
		return s.Proximity
	}
	return false
}

func defaultConfig() *Config {
	return &Config{
		Bus:                "system",
		LogLevel:           "info",
		LightUnit:          "lux",
		DrainWindow:        frame.DefaultDrainWindow,
		AccelerometerScale: orientation.DefaultScale,
		Orientation:        orientation.DefaultPolicy,
		Sensord: SensordConfig{
			Service: sensorfw.DefaultService,
			Socket:  sensorfw.DefaultSocket,
			Timeout: 5 * time.Second,
		},
		Sensors: SensorsConfig{
			Accelerometer: true,
			Light:         true,
			Compass:       true,
			Proximity:     true,
		},
	}
}

// configPath picks the config file: the -config flag, then
// $SENSORPROXY_CONFIG, then the system default.
func configPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv("SENSORPROXY_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

// loadConfig reads path over the defaults. A missing file yields the
// defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Bus {
	case "system", "session":
	default:
		return fmt.Errorf("bus must be system or session, got %q", c.Bus)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := sensor.ParseLightUnit(c.LightUnit); err != nil {
		return fmt.Errorf("light_unit: %w", err)
	}
	if c.DrainWindow < 0 {
		return fmt.Errorf("drain_window must not be negative")
	}
	if c.AccelerometerScale <= 0 {
		return fmt.Errorf("accelerometer_scale must be positive")
	}
	p := c.Orientation
	if p.EnterAngle <= 0 || p.EnterAngle >= 90 {
		return fmt.Errorf("orientation.enter_angle must be between 0 and 90 degrees")
	}
	if p.Hysteresis < 0 || p.Hysteresis >= p.EnterAngle {
		return fmt.Errorf("orientation.hysteresis must be below enter_angle")
	}
	if p.MinGravity < 0 {
		return fmt.Errorf("orientation.min_gravity must not be negative")
	}
	if c.Sensord.Timeout <= 0 {
		return fmt.Errorf("sensord.timeout must be positive")
	}
	return nil
}
