// Package sensorfw talks to sensord: it negotiates data sessions over D-Bus
// and runs one receive loop per sensor on the resulting sockets.
package sensorfw

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/mil-ad/sensorproxy/internal/frame"
	"github.com/mil-ad/sensorproxy/internal/sensor"
)

const (
	DefaultService = "com.nokia.SensorService"
	DefaultSocket  = "/run/sensord.sock"

	managerPath  = "/SensorManager"
	managerIface = "local.SensorManager"
)

type plugin struct {
	id    string // plugin and sensor id on sensord
	iface string // D-Bus interface of the sensor object
}

var plugins = [sensor.NumKinds]plugin{
	sensor.Accelerometer: {"accelerometersensor", "local.AccelerometerSensor"},
	sensor.Light:         {"alssensor", "local.ALSSensor"},
	sensor.Compass:       {"compasssensor", "local.CompassSensor"},
	sensor.Proximity:     {"proximitysensor", "local.ProximitySensor"},
}

func pluginFor(kind sensor.Kind) (plugin, error) {
	if !kind.Valid() {
		return plugin{}, fmt.Errorf("no sensord plugin for %v", kind)
	}
	return plugins[kind], nil
}

func sensorPath(p plugin) dbus.ObjectPath {
	return dbus.ObjectPath(managerPath + "/" + p.id)
}

// Controller toggles streaming on an open sensord session.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Release ends the session on sensord.
	Release(ctx context.Context) error
}

// Channel is an open data session: the socket readings arrive on and the
// controller for the session.
type Channel struct {
	SessionID int32
	Conn      net.Conn
	Control   Controller
}

// Opener negotiates data sessions.
type Opener interface {
	Open(ctx context.Context, kind sensor.Kind) (*Channel, error)
}

// ManagerOptions configures a Manager. Zero fields take defaults.
type ManagerOptions struct {
	Service string        // bus name of sensord
	Socket  string        // path of sensord's data socket
	Timeout time.Duration // per D-Bus call
}

// Manager wraps a bus connection for sensord session negotiation.
type Manager struct {
	conn   *dbus.Conn
	opts   ManagerOptions
	dialer net.Dialer
	logger *zap.Logger
	pid    int64
}

// NewManager returns a Manager using conn.
func NewManager(conn *dbus.Conn, opts ManagerOptions, logger *zap.Logger) *Manager {
	if opts.Service == "" {
		opts.Service = DefaultService
	}
	if opts.Socket == "" {
		opts.Socket = DefaultSocket
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Manager{
		conn:   conn,
		opts:   opts,
		logger: logger,
		pid:    int64(os.Getpid()),
	}
}

func (m *Manager) call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) *dbus.Call {
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()
	obj := m.conn.Object(m.opts.Service, path)
	return obj.CallWithContext(ctx, method, 0, args...)
}

func (m *Manager) errorString(ctx context.Context) string {
	var msg string
	if err := m.call(ctx, managerPath, managerIface+".errorString").Store(&msg); err != nil {
		return err.Error()
	}
	return msg
}

// Probe reports whether sensord can serve kind by asking it to load the
// matching plugin.
func (m *Manager) Probe(ctx context.Context, kind sensor.Kind) error {
	p, err := pluginFor(kind)
	if err != nil {
		return err
	}
	var loaded bool
	if err := m.call(ctx, managerPath, managerIface+".loadPlugin", p.id).Store(&loaded); err != nil {
		return fmt.Errorf("load plugin %s: %w", p.id, err)
	}
	if !loaded {
		return fmt.Errorf("load plugin %s: %s", p.id, m.errorString(ctx))
	}
	return nil
}

// Open negotiates a session for kind and attaches to its data socket. The
// socket's leading tag byte is left for the caller to read.
func (m *Manager) Open(ctx context.Context, kind sensor.Kind) (*Channel, error) {
	if err := m.Probe(ctx, kind); err != nil {
		return nil, err
	}
	p, _ := pluginFor(kind)

	var session int32
	if err := m.call(ctx, managerPath, managerIface+".requestSensor", p.id, m.pid).Store(&session); err != nil {
		return nil, fmt.Errorf("request sensor %s: %w", p.id, err)
	}
	if session < 0 {
		return nil, fmt.Errorf("request sensor %s: %s", p.id, m.errorString(ctx))
	}

	ctl := &control{m: m, plugin: p, session: session}
	conn, err := m.dialer.DialContext(ctx, "unix", m.opts.Socket)
	if err != nil {
		ctl.Release(ctx)
		return nil, fmt.Errorf("dial %s: %w", m.opts.Socket, err)
	}
	if _, err := conn.Write(frame.AppendChannelHeader(nil, session)); err != nil {
		conn.Close()
		ctl.Release(ctx)
		return nil, fmt.Errorf("attach session %d: %w", session, err)
	}

	m.logger.Debug("opened sensord session",
		zap.Stringer("sensor", kind), zap.Int32("session", session))
	return &Channel{SessionID: session, Conn: conn, Control: ctl}, nil
}

// control drives one sensord session's sensor object.
type control struct {
	m       *Manager
	plugin  plugin
	session int32
}

func (c *control) Start(ctx context.Context) error {
	return c.m.call(ctx, sensorPath(c.plugin), c.plugin.iface+".start", c.session).Err
}

func (c *control) Stop(ctx context.Context) error {
	return c.m.call(ctx, sensorPath(c.plugin), c.plugin.iface+".stop", c.session).Err
}

func (c *control) Release(ctx context.Context) error {
	var ok bool
	if err := c.m.call(ctx, managerPath, managerIface+".releaseSensor", c.plugin.id, c.session, c.m.pid).Store(&ok); err != nil {
		return fmt.Errorf("release sensor %s: %w", c.plugin.id, err)
	}
	if !ok {
		return fmt.Errorf("release sensor %s: %s", c.plugin.id, c.m.errorString(ctx))
	}
	return nil
}
