package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mil-ad/sensorproxy/internal/bus"
	"github.com/mil-ad/sensorproxy/internal/claims"
	"github.com/mil-ad/sensorproxy/internal/frame"
	"github.com/mil-ad/sensorproxy/internal/notify"
	"github.com/mil-ad/sensorproxy/internal/sensor"
	"github.com/mil-ad/sensorproxy/internal/sensorfw"
	"github.com/mil-ad/sensorproxy/internal/service"
)

const startupTimeout = 30 * time.Second

// connect opens the sensord session for kind, falling back to an absent
// sensor when the kind is disabled or the backend cannot serve it.
func connect[R any](ctx context.Context, opener sensorfw.Opener, kind sensor.Kind, layout frame.Layout[R], cfg *Config, logger *zap.Logger) sensor.Sensor[R] {
	if !cfg.Sensors.Enabled(kind) {
		logger.Info("sensor disabled by config", zap.Stringer("sensor", kind))
		return sensor.NewNull[R](kind)
	}
	s, err := sensorfw.Connect(ctx, opener, kind, layout, logger, sensorfw.Options{
		DrainWindow: cfg.DrainWindow,
	})
	if err != nil {
		logger.Info("sensor not available", zap.Stringer("sensor", kind), zap.Error(err))
		return sensor.NewNull[R](kind)
	}
	return s
}

func connectSensors(ctx context.Context, opener sensorfw.Opener, cfg *Config, logger *zap.Logger) service.Sensors {
	return service.Sensors{
		Accelerometer: connect(ctx, opener, sensor.Accelerometer, frame.Acceleration, cfg, logger),
		Light:         connect(ctx, opener, sensor.Light, frame.Light, cfg, logger),
		Compass:       connect(ctx, opener, sensor.Compass, frame.Compass, cfg, logger),
		Proximity:     connect(ctx, opener, sensor.Proximity, frame.Proximity, cfg, logger),
	}
}

func runDaemon(cfg *Config) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	unit, err := sensor.ParseLightUnit(cfg.LightUnit)
	if err != nil {
		return err
	}

	conn, err := bus.Connect(cfg.Bus)
	if err != nil {
		return err
	}
	defer conn.Close()

	watcher, err := bus.NewNameWatcher(conn, logger.Named("bus"))
	if err != nil {
		return err
	}
	defer watcher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	mgr := sensorfw.NewManager(conn, sensorfw.ManagerOptions{
		Service: cfg.Sensord.Service,
		Socket:  cfg.Sensord.Socket,
		Timeout: cfg.Sensord.Timeout,
	}, logger.Named("sensorfw"))
	sensors := connectSensors(ctx, mgr, cfg, logger.Named("sensorfw"))

	registry := claims.NewRegistry(watcher, logger.Named("claims"))
	notifier := notify.New(unit, logger.Named("notify"))
	svc := service.New(sensors, registry, notifier, service.Config{
		Scale:         cfg.AccelerometerScale,
		Policy:        cfg.Orientation,
		PowerOnDemand: cfg.PowerOnDemand,
	}, logger.Named("service"))

	if err := svc.Export(conn); err != nil {
		return multierr.Append(err, svc.Close())
	}
	notifier.Attach(bus.NewEmitter(conn))

	if err := bus.RequestName(conn, notify.BusName); err != nil {
		closeErr := svc.Close()
		if errors.Is(err, bus.ErrNameTaken) {
			logger.Info("another sensor proxy is running, exiting", zap.String("name", notify.BusName))
			return closeErr
		}
		return multierr.Append(err, closeErr)
	}

	if err := svc.Start(ctx); err != nil {
		return multierr.Append(fmt.Errorf("start service: %w", err), svc.Close())
	}

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("serving", zap.String("name", notify.BusName), zap.String("bus", cfg.Bus))
	<-quit
	logger.Info("shutting down")
	return svc.Close()
}
