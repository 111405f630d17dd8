package service

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"go.uber.org/zap"

	"github.com/mil-ad/sensorproxy/internal/notify"
	"github.com/mil-ad/sensorproxy/internal/sensor"
)

const (
	propsIface = "org.freedesktop.DBus.Properties"

	errUnknownInterface = "org.freedesktop.DBus.Error.UnknownInterface"
	errUnknownProperty  = "org.freedesktop.DBus.Error.UnknownProperty"
	errReadOnly         = "org.freedesktop.DBus.Error.PropertyReadOnly"
)

// Exporter publishes Go values as bus objects. *dbus.Conn implements it.
type Exporter interface {
	Export(v interface{}, path dbus.ObjectPath, iface string) error
}

// mainObject carries the methods of the main endpoint.
type mainObject struct{ s *Service }

func (o mainObject) ClaimAccelerometer(sender dbus.Sender) *dbus.Error {
	return o.s.claim(sensor.Accelerometer, sender)
}

func (o mainObject) ReleaseAccelerometer(sender dbus.Sender) *dbus.Error {
	return o.s.release(sensor.Accelerometer, sender)
}

func (o mainObject) ClaimLight(sender dbus.Sender) *dbus.Error {
	return o.s.claim(sensor.Light, sender)
}

func (o mainObject) ReleaseLight(sender dbus.Sender) *dbus.Error {
	return o.s.release(sensor.Light, sender)
}

func (o mainObject) ClaimProximity(sender dbus.Sender) *dbus.Error {
	return o.s.claim(sensor.Proximity, sender)
}

func (o mainObject) ReleaseProximity(sender dbus.Sender) *dbus.Error {
	return o.s.release(sensor.Proximity, sender)
}

// compassObject carries the methods of the compass endpoint.
type compassObject struct{ s *Service }

func (o compassObject) ClaimCompass(sender dbus.Sender) *dbus.Error {
	return o.s.claim(sensor.Compass, sender)
}

func (o compassObject) ReleaseCompass(sender dbus.Sender) *dbus.Error {
	return o.s.release(sensor.Compass, sender)
}

func (s *Service) claim(kind sensor.Kind, sender dbus.Sender) *dbus.Error {
	if err := s.Claim(kind, string(sender)); err != nil {
		s.logger.Warn("claim failed",
			zap.Stringer("sensor", kind), zap.String("client", string(sender)), zap.Error(err))
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (s *Service) release(kind sensor.Kind, sender dbus.Sender) *dbus.Error {
	s.Release(kind, string(sender))
	return nil
}

// properties serves org.freedesktop.DBus.Properties for one endpoint. All
// properties are read-only.
type properties struct {
	n  *notify.Notifier
	ep notify.Endpoint
}

func (p properties) checkInterface(iface string) *dbus.Error {
	if iface != p.ep.Interface {
		return dbus.NewError(errUnknownInterface, []interface{}{
			fmt.Sprintf("no interface %s on %s", iface, p.ep.Path),
		})
	}
	return nil
}

func (p properties) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	if err := p.checkInterface(iface); err != nil {
		return dbus.Variant{}, err
	}
	v, ok := p.n.Property(p.ep, name)
	if !ok {
		return dbus.Variant{}, dbus.NewError(errUnknownProperty, []interface{}{
			fmt.Sprintf("no property %s on %s", name, iface),
		})
	}
	return v, nil
}

func (p properties) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if err := p.checkInterface(iface); err != nil {
		return nil, err
	}
	return p.n.Properties(p.ep), nil
}

func (p properties) Set(iface, name string, _ dbus.Variant) *dbus.Error {
	if _, err := p.Get(iface, name); err != nil {
		return err
	}
	return dbus.NewError(errReadOnly, []interface{}{
		fmt.Sprintf("property %s is read-only", name),
	})
}

func method(name string) introspect.Method { return introspect.Method{Name: name} }

func readOnly(name, sig string) introspect.Property {
	return introspect.Property{Name: name, Type: sig, Access: "read"}
}

var propertiesIntrospection = introspect.Interface{
	Name: propsIface,
	Methods: []introspect.Method{
		{Name: "Get", Args: []introspect.Arg{
			{Name: "interface", Type: "s", Direction: "in"},
			{Name: "name", Type: "s", Direction: "in"},
			{Name: "value", Type: "v", Direction: "out"},
		}},
		{Name: "GetAll", Args: []introspect.Arg{
			{Name: "interface", Type: "s", Direction: "in"},
			{Name: "props", Type: "a{sv}", Direction: "out"},
		}},
		{Name: "Set", Args: []introspect.Arg{
			{Name: "interface", Type: "s", Direction: "in"},
			{Name: "name", Type: "s", Direction: "in"},
			{Name: "value", Type: "v", Direction: "in"},
		}},
	},
	Signals: []introspect.Signal{
		{Name: "PropertiesChanged", Args: []introspect.Arg{
			{Name: "interface", Type: "s"},
			{Name: "changed_properties", Type: "a{sv}"},
			{Name: "invalidated_properties", Type: "as"},
		}},
	},
}

func mainNode() *introspect.Node {
	return &introspect.Node{
		Name: string(notify.MainEndpoint.Path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			propertiesIntrospection,
			{
				Name: notify.MainEndpoint.Interface,
				Methods: []introspect.Method{
					method("ClaimAccelerometer"), method("ReleaseAccelerometer"),
					method("ClaimLight"), method("ReleaseLight"),
					method("ClaimProximity"), method("ReleaseProximity"),
				},
				Properties: []introspect.Property{
					readOnly("HasAccelerometer", "b"),
					readOnly("AccelerometerOrientation", "s"),
					readOnly("HasAmbientLight", "b"),
					readOnly("LightLevelUnit", "s"),
					readOnly("LightLevel", "d"),
					readOnly("HasProximity", "b"),
					readOnly("ProximityNear", "b"),
				},
			},
		},
		Children: []introspect.Node{{Name: "Compass"}},
	}
}

func compassNode() *introspect.Node {
	return &introspect.Node{
		Name: string(notify.CompassEndpoint.Path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			propertiesIntrospection,
			{
				Name:    notify.CompassEndpoint.Interface,
				Methods: []introspect.Method{method("ClaimCompass"), method("ReleaseCompass")},
				Properties: []introspect.Property{
					readOnly("HasCompass", "b"),
					readOnly("CompassHeading", "d"),
				},
			},
		},
	}
}

// Export publishes the main and compass endpoints on conn.
func (s *Service) Export(conn Exporter) error {
	exports := []struct {
		v     interface{}
		path  dbus.ObjectPath
		iface string
	}{
		{mainObject{s}, notify.MainEndpoint.Path, notify.MainEndpoint.Interface},
		{properties{s.notifier, notify.MainEndpoint}, notify.MainEndpoint.Path, propsIface},
		{introspect.NewIntrospectable(mainNode()), notify.MainEndpoint.Path, introspect.IntrospectData.Name},
		{compassObject{s}, notify.CompassEndpoint.Path, notify.CompassEndpoint.Interface},
		{properties{s.notifier, notify.CompassEndpoint}, notify.CompassEndpoint.Path, propsIface},
		{introspect.NewIntrospectable(compassNode()), notify.CompassEndpoint.Path, introspect.IntrospectData.Name},
	}
	for _, e := range exports {
		if err := conn.Export(e.v, e.path, e.iface); err != nil {
			return fmt.Errorf("export %s on %s: %w", e.iface, e.path, err)
		}
	}
	return nil
}
