package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/mil-ad/sensorproxy/internal/bus"
	"github.com/mil-ad/sensorproxy/internal/notify"
)

const statusTimeout = 5 * time.Second

func getAll(ctx context.Context, conn *dbus.Conn, ep notify.Endpoint) (map[string]dbus.Variant, error) {
	obj := conn.Object(notify.BusName, ep.Path)
	var props map[string]dbus.Variant
	err := obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.GetAll", 0, ep.Interface).Store(&props)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w (is `sensorproxy daemon` running?)", ep.Path, err)
	}
	return props, nil
}

func runStatus(cfg *Config) error {
	conn, err := bus.Connect(cfg.Bus)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	mainProps, err := getAll(ctx, conn, notify.MainEndpoint)
	if err != nil {
		return err
	}
	compassProps, err := getAll(ctx, conn, notify.CompassEndpoint)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(statusFromProperties(mainProps, compassProps))
}
