// Package service ties the sensor backends, the claim registry and the
// published state together and exposes them as the proxy's bus endpoints.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mil-ad/sensorproxy/internal/claims"
	"github.com/mil-ad/sensorproxy/internal/notify"
	"github.com/mil-ad/sensorproxy/internal/orientation"
	"github.com/mil-ad/sensorproxy/internal/sensor"
)

const powerTimeout = 5 * time.Second

// Config tunes how readings are interpreted and when backends stream.
type Config struct {
	// Scale converts accelerometer counts to m/s². Zero means
	// orientation.DefaultScale.
	Scale float64
	// Policy holds the orientation thresholds. The zero value means
	// orientation.DefaultPolicy.
	Policy orientation.Policy
	// PowerOnDemand streams a backend only while at least one client has
	// claimed it.
	PowerOnDemand bool
}

// Sensors are the backends the service reads from. Nil entries are treated
// as absent.
type Sensors struct {
	Accelerometer sensor.AccelerometerSensor
	Light         sensor.LightSensor
	Compass       sensor.CompassSensor
	Proximity     sensor.ProximitySensor
}

// backend is the reading-independent part of sensor.Sensor.
type backend interface {
	Kind() sensor.Kind
	Available() bool
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Done() <-chan struct{}
	Close() error
}

// Service is the sensor proxy.
type Service struct {
	logger   *zap.Logger
	cfg      Config
	sensors  Sensors
	backends [sensor.NumKinds]backend
	registry *claims.Registry
	notifier *notify.Notifier

	quit chan struct{}
	wg   sync.WaitGroup

	mu   sync.Mutex
	regs []*sensor.Registration

	// powerMu serializes Enable and Disable under PowerOnDemand.
	powerMu sync.Mutex
}

// New builds a service over sensors. registry and notifier become owned by
// the service.
func New(sensors Sensors, registry *claims.Registry, notifier *notify.Notifier, cfg Config, logger *zap.Logger) *Service {
	if sensors.Accelerometer == nil {
		sensors.Accelerometer = sensor.NewNull[sensor.AccelerometerReading](sensor.Accelerometer)
	}
	if sensors.Light == nil {
		sensors.Light = sensor.NewNull[sensor.LightReading](sensor.Light)
	}
	if sensors.Compass == nil {
		sensors.Compass = sensor.NewNull[sensor.CompassReading](sensor.Compass)
	}
	if sensors.Proximity == nil {
		sensors.Proximity = sensor.NewNull[sensor.ProximityReading](sensor.Proximity)
	}
	if cfg.Scale == 0 {
		cfg.Scale = orientation.DefaultScale
	}
	if cfg.Policy == (orientation.Policy{}) {
		cfg.Policy = orientation.DefaultPolicy
	}

	s := &Service{
		logger:   logger,
		cfg:      cfg,
		sensors:  sensors,
		registry: registry,
		notifier: notifier,
		quit:     make(chan struct{}),
	}
	s.backends[sensor.Accelerometer] = sensors.Accelerometer
	s.backends[sensor.Light] = sensors.Light
	s.backends[sensor.Compass] = sensors.Compass
	s.backends[sensor.Proximity] = sensors.Proximity

	if cfg.PowerOnDemand {
		registry.OnChange = s.claimsChanged
	}
	return s
}

// Start installs the reading handlers, publishes the initial state and,
// unless backends are powered on demand, starts streaming.
func (s *Service) Start(ctx context.Context) error {
	s.powerMu.Lock()
	defer s.powerMu.Unlock()

	var available [sensor.NumKinds]bool
	for kind, b := range s.backends {
		available[kind] = b.Available()
	}
	s.notifier.Init(available)

	var err error
	err = multierr.Append(err, register(s, s.sensors.Accelerometer, s.onAcceleration))
	err = multierr.Append(err, register(s, s.sensors.Light, s.onLight))
	err = multierr.Append(err, register(s, s.sensors.Compass, s.onCompass))
	err = multierr.Append(err, register(s, s.sensors.Proximity, s.onProximity))
	if err != nil {
		return err
	}

	s.notifier.Publish(notify.AllMain)
	s.notifier.Publish(notify.HasCompass)

	for kind, b := range s.backends {
		if !b.Available() {
			s.logger.Info("sensor not present", zap.Stringer("sensor", sensor.Kind(kind)))
			continue
		}
		if s.cfg.PowerOnDemand && s.registry.Count(sensor.Kind(kind)) == 0 {
			continue
		}
		if err := b.Enable(ctx); err != nil {
			s.logger.Warn("start sensor", zap.Stringer("sensor", sensor.Kind(kind)), zap.Error(err))
		}
	}
	return nil
}

func register[R any](s *Service, sn sensor.Sensor[R], handler func(R)) error {
	if !sn.Available() {
		return nil
	}
	reg, err := sn.Register(handler)
	if err != nil {
		return fmt.Errorf("register %s handler: %w", sn.Kind(), err)
	}
	s.mu.Lock()
	s.regs = append(s.regs, reg)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.watchLost(sn)
	return nil
}

func (s *Service) watchLost(b backend) {
	defer s.wg.Done()
	select {
	case <-b.Done():
		s.logger.Warn("sensor lost", zap.Stringer("sensor", b.Kind()))
		s.notifier.SetAvailable(b.Kind(), false)
	case <-s.quit:
	}
}

func (s *Service) onAcceleration(r sensor.AccelerometerReading) {
	prev := s.notifier.Snapshot().Orientation
	o := s.cfg.Policy.Classify(prev, r.X, r.Y, r.Z, s.cfg.Scale)
	if s.notifier.SetOrientation(o) {
		s.logger.Debug("orientation changed",
			zap.Stringer("from", prev), zap.Stringer("to", o))
	}
}

func (s *Service) onLight(r sensor.LightReading) {
	s.notifier.SetLightLevel(float64(r.Value))
}

func (s *Service) onCompass(r sensor.CompassReading) {
	s.notifier.SetHeading(float64(r.Degrees))
}

func (s *Service) onProximity(r sensor.ProximityReading) {
	s.notifier.SetProximityNear(r.Near)
}

// Claim records client's interest in kind.
func (s *Service) Claim(kind sensor.Kind, client string) error {
	return s.registry.Claim(kind, client)
}

// Release drops client's interest in kind.
func (s *Service) Release(kind sensor.Kind, client string) {
	s.registry.Release(kind, client)
}

// claimsChanged streams a backend while it has claimants. The passed count
// may be stale by the time powerMu is held, so the current one decides.
func (s *Service) claimsChanged(kind sensor.Kind, _ int) {
	b := s.backends[kind]
	if !b.Available() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), powerTimeout)
	defer cancel()

	s.powerMu.Lock()
	defer s.powerMu.Unlock()
	claimants := s.registry.Count(kind)
	var err error
	if claimants == 0 {
		err = b.Disable(ctx)
	} else {
		err = b.Enable(ctx)
	}
	if err != nil {
		s.logger.Warn("switch sensor power",
			zap.Stringer("sensor", kind), zap.Int("claimants", claimants), zap.Error(err))
	}
}

// Close drops all claims and handlers, then stops and releases every
// backend.
func (s *Service) Close() error {
	close(s.quit)
	s.wg.Wait()

	s.registry.Close()

	s.mu.Lock()
	regs := s.regs
	s.regs = nil
	s.mu.Unlock()
	for _, reg := range regs {
		reg.Cancel()
	}

	var err error
	for _, b := range s.backends {
		err = multierr.Append(err, b.Close())
	}
	return err
}
