package sensorfw

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mil-ad/sensorproxy/internal/frame"
	"github.com/mil-ad/sensorproxy/internal/sensor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeControl counts session control calls.
type fakeControl struct {
	mu                     sync.Mutex
	starts, stops, release int
	startErr               error
}

func (c *fakeControl) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.starts++
	return nil
}

func (c *fakeControl) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return nil
}

func (c *fakeControl) Release(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.release++
	return nil
}

func (c *fakeControl) counts() (starts, stops, release int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops, c.release
}

// fakeSensord hands out one side of a pipe and keeps the other to play the
// backend.
type fakeSensord struct {
	backend net.Conn
	client  net.Conn
	ctl     *fakeControl
	openErr error
}

func newFakeSensord() *fakeSensord {
	client, backend := net.Pipe()
	return &fakeSensord{backend: backend, client: client, ctl: &fakeControl{}}
}

func (f *fakeSensord) Open(context.Context, sensor.Kind) (*Channel, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &Channel{SessionID: 7, Conn: f.client, Control: f.ctl}, nil
}

func (f *fakeSensord) write(t *testing.T, b []byte) {
	t.Helper()
	_, err := f.backend.Write(b)
	require.NoError(t, err)
}

func connectProximity(t *testing.T, f *fakeSensord, logger *zap.Logger, opts Options) *Session[sensor.ProximityReading] {
	t.Helper()
	go f.backend.Write([]byte{'\n'})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := Connect(ctx, f, sensor.Proximity, frame.Proximity, logger, opts)
	require.NoError(t, err)
	return s
}

func receive[R any](t *testing.T, ch <-chan R) R {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reading")
	}
	var zero R
	return zero
}

func TestSessionDeliversReadings(t *testing.T) {
	f := newFakeSensord()
	s := connectProximity(t, f, zaptest.NewLogger(t), Options{})
	defer s.Close()

	assert.Equal(t, sensor.Proximity, s.Kind())
	assert.True(t, s.Available())

	got := make(chan sensor.ProximityReading, 4)
	reg, err := s.Register(func(r sensor.ProximityReading) { got <- r })
	require.NoError(t, err)
	defer reg.Cancel()

	f.write(t, frame.AppendFrame(nil, frame.Proximity,
		sensor.ProximityReading{Value: 1},
		sensor.ProximityReading{Value: 9, Near: true},
	))

	r := receive(t, got)
	assert.Equal(t, uint32(9), r.Value, "the freshest record of a frame wins")
	assert.True(t, r.Near)

	latest, ok, err := s.Latest(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, r, latest)
}

func TestSessionEmptyFrameSkipsHandler(t *testing.T) {
	f := newFakeSensord()
	s := connectProximity(t, f, zaptest.NewLogger(t), Options{})
	defer s.Close()

	got := make(chan sensor.ProximityReading, 4)
	_, err := s.Register(func(r sensor.ProximityReading) { got <- r })
	require.NoError(t, err)

	f.write(t, frame.AppendFrame[sensor.ProximityReading](nil, frame.Proximity))
	f.write(t, frame.AppendFrame(nil, frame.Proximity, sensor.ProximityReading{Value: 2}))

	assert.Equal(t, uint32(2), receive(t, got).Value)
	assert.Empty(t, got)
}

func TestSessionEnableDisableIdempotent(t *testing.T) {
	f := newFakeSensord()
	s := connectProximity(t, f, zaptest.NewLogger(t), Options{})

	ctx := context.Background()
	require.NoError(t, s.Enable(ctx))
	require.NoError(t, s.Enable(ctx))
	starts, stops, _ := f.ctl.counts()
	assert.Equal(t, 1, starts)
	assert.Zero(t, stops)

	require.NoError(t, s.Disable(ctx))
	require.NoError(t, s.Disable(ctx))
	_, stops, _ = f.ctl.counts()
	assert.Equal(t, 1, stops)

	require.NoError(t, s.Enable(ctx))
	require.NoError(t, s.Close())
	starts, stops, release := f.ctl.counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 2, stops, "close stops a streaming session")
	assert.Equal(t, 1, release)
}

func TestSessionEnableError(t *testing.T) {
	f := newFakeSensord()
	f.ctl.startErr = errors.New("no such session")
	s := connectProximity(t, f, zaptest.NewLogger(t), Options{})
	defer s.Close()

	err := s.Enable(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such session")
}

func TestSessionOverflowKeepsConnection(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFakeSensord()
	s := connectProximity(t, f, zap.New(core), Options{DrainWindow: 5 * time.Millisecond})
	defer s.Close()

	got := make(chan sensor.ProximityReading, 4)
	_, err := s.Register(func(r sensor.ProximityReading) { got <- r })
	require.NoError(t, err)

	junk := binary.LittleEndian.AppendUint32(nil, 5000)
	junk = append(junk, bytes.Repeat([]byte{0xee}, 200)...)
	f.write(t, junk)

	require.Eventually(t, func() bool {
		return logs.FilterMessage("discarded frame").Len() == 1
	}, time.Second, time.Millisecond)
	assert.Empty(t, got, "a discarded frame reaches no handler")

	f.write(t, frame.AppendFrame(nil, frame.Proximity, sensor.ProximityReading{Value: 4, Near: true}))
	assert.Equal(t, uint32(4), receive(t, got).Value)
	assert.True(t, s.Available())
	select {
	case <-s.Done():
		t.Fatal("overflow stopped the session")
	default:
	}
}

func TestSessionLostOnShortRead(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	f := newFakeSensord()
	s := connectProximity(t, f, zap.New(core), Options{})

	// Announce two records, deliver one, hang up.
	partial := binary.LittleEndian.AppendUint32(nil, 2)
	partial = frame.Proximity.Append(partial, sensor.ProximityReading{Value: 1})
	f.write(t, partial)
	require.NoError(t, f.backend.Close())

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
	}
	lost := logs.FilterMessage("backend connection lost").All()
	require.Len(t, lost, 1)
	err, ok := lost[0].ContextMap()["error"].(string)
	require.True(t, ok)
	assert.Contains(t, err, io.ErrUnexpectedEOF.Error())

	assert.False(t, s.Available())
	assert.ErrorIs(t, s.Enable(context.Background()), sensor.ErrUnavailable)

	_, regErr := s.Register(func(sensor.ProximityReading) {})
	assert.ErrorIs(t, regErr, sensor.ErrUnavailable)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Enable(context.Background()), sensor.ErrClosed)
}

func TestRegistrationCancel(t *testing.T) {
	f := newFakeSensord()
	s := connectProximity(t, f, zaptest.NewLogger(t), Options{})
	defer s.Close()

	first := make(chan sensor.ProximityReading, 4)
	second := make(chan sensor.ProximityReading, 4)

	reg1, err := s.Register(func(r sensor.ProximityReading) { first <- r })
	require.NoError(t, err)
	reg2, err := s.Register(func(r sensor.ProximityReading) { second <- r })
	require.NoError(t, err)

	// Cancelling a superseded registration leaves the current handler alone.
	reg1.Cancel()
	f.write(t, frame.AppendFrame(nil, frame.Proximity, sensor.ProximityReading{Value: 1}))
	assert.Equal(t, uint32(1), receive(t, second).Value)

	reg2.Cancel()
	reg2.Cancel()
	f.write(t, frame.AppendFrame(nil, frame.Proximity, sensor.ProximityReading{Value: 2}))

	// The reading still lands in Latest even with no handler.
	require.Eventually(t, func() bool {
		r, ok, err := s.Latest(context.Background())
		return err == nil && ok && r.Value == 2
	}, time.Second, time.Millisecond)
	assert.Empty(t, first)
	assert.Empty(t, second)
}

func TestConnectOpenError(t *testing.T) {
	f := newFakeSensord()
	defer f.backend.Close()
	defer f.client.Close()
	f.openErr = errors.New("sensord not running")

	_, err := Connect(context.Background(), f, sensor.Light, frame.Light, zaptest.NewLogger(t), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sensord not running")
}

func TestConnectTagFailureReleases(t *testing.T) {
	f := newFakeSensord()
	require.NoError(t, f.backend.Close())

	_, err := Connect(context.Background(), f, sensor.Compass, frame.Compass, zaptest.NewLogger(t), Options{})
	require.Error(t, err)
	_, _, release := f.ctl.counts()
	assert.Equal(t, 1, release)
}

func TestConnectTagTimeout(t *testing.T) {
	f := newFakeSensord()
	defer f.backend.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Connect(ctx, f, sensor.Accelerometer, frame.Acceleration, zaptest.NewLogger(t), Options{})
	require.Error(t, err)
}

func TestLatestBeforeAnyReading(t *testing.T) {
	f := newFakeSensord()
	s := connectProximity(t, f, zaptest.NewLogger(t), Options{})
	defer s.Close()

	_, ok, err := s.Latest(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPluginTable(t *testing.T) {
	p, err := pluginFor(sensor.Light)
	require.NoError(t, err)
	assert.Equal(t, "alssensor", p.id)
	assert.Equal(t, "/SensorManager/alssensor", string(sensorPath(p)))

	_, err = pluginFor(sensor.Kind(12))
	assert.Error(t, err)
}
