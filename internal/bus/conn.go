// Package bus holds the D-Bus plumbing shared by the daemon: connecting,
// owning the well-known name, watching clients and emitting property
// updates.
package bus

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	dbusName   = "org.freedesktop.DBus"
	propsIface = "org.freedesktop.DBus.Properties"

	propsSignal = propsIface + ".PropertiesChanged"
	ownerSignal = dbusName + ".NameOwnerChanged"
)

// ErrNameTaken is returned by RequestName when another process already owns
// the name.
var ErrNameTaken = errors.New("bus name already owned")

// Connect opens the named bus, "system" or "session".
func Connect(which string) (*dbus.Conn, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	switch which {
	case "", "system":
		conn, err = dbus.ConnectSystemBus()
	case "session":
		conn, err = dbus.ConnectSessionBus()
	default:
		return nil, fmt.Errorf("unknown bus %q", which)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s bus: %w", which, err)
	}
	return conn, nil
}

// RequestName takes ownership of name without queueing behind a current
// owner.
func RequestName(conn *dbus.Conn, name string) error {
	reply, err := conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request name %s: %w", name, err)
	}
	switch reply {
	case dbus.RequestNameReplyPrimaryOwner, dbus.RequestNameReplyAlreadyOwner:
		return nil
	}
	return fmt.Errorf("request name %s: %w", name, ErrNameTaken)
}
