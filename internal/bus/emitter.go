package bus

import (
	"github.com/godbus/dbus/v5"

	"github.com/mil-ad/sensorproxy/internal/notify"
)

// Emitter sends PropertiesChanged signals on a bus connection.
type Emitter struct {
	conn *dbus.Conn
}

func NewEmitter(conn *dbus.Conn) *Emitter {
	return &Emitter{conn: conn}
}

// Emit signals that the properties in changed now hold the given values.
// Nothing is ever invalidated.
func (e *Emitter) Emit(ep notify.Endpoint, changed map[string]dbus.Variant) error {
	return e.conn.Emit(ep.Path, propsSignal, ep.Interface, changed, []string{})
}
