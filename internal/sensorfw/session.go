package sensorfw

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mil-ad/sensorproxy/internal/frame"
	"github.com/mil-ad/sensorproxy/internal/sensor"
)

const closeTimeout = 2 * time.Second

// Options tunes a Session.
type Options struct {
	// DrainWindow bounds the overflow drain. Zero uses frame.DefaultDrainWindow.
	DrainWindow time.Duration
}

type command struct {
	fn  func() error
	ack chan error
}

// Session is the live backend of one sensor kind. A single goroutine owns
// the handler, the streaming flag and the latest reading; callers reach it
// through a command queue and wait for the acknowledgement. A second
// goroutine does the blocking frame reads.
type Session[R any] struct {
	kind   sensor.Kind
	layout frame.Layout[R]
	ch     *Channel
	reader *frame.Reader
	logger *zap.Logger

	cmds     chan command
	readings chan R
	readErr  chan error
	quit     chan struct{}
	done     chan struct{}

	available atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup

	// Owned by the loop goroutine.
	handler   func(R)
	gen       uint64
	started   bool
	latest    R
	hasLatest bool
}

// Connect opens a session for kind through opener and consumes the socket
// tag. On error nothing is left open.
func Connect[R any](ctx context.Context, opener Opener, kind sensor.Kind, layout frame.Layout[R], logger *zap.Logger, opts Options) (*Session[R], error) {
	ch, err := opener.Open(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", kind, err)
	}

	drain := opts.DrainWindow
	if drain <= 0 {
		drain = frame.DefaultDrainWindow
	}
	reader := frame.NewReader(ch.Conn, drain)

	if deadline, ok := ctx.Deadline(); ok {
		_ = ch.Conn.SetReadDeadline(deadline)
	}
	if _, err := reader.ReadTag(); err != nil {
		return nil, multierr.Combine(
			fmt.Errorf("connect %s: %w", kind, err),
			ch.Conn.Close(),
			ch.Control.Release(ctx),
		)
	}
	_ = ch.Conn.SetReadDeadline(time.Time{})

	s := &Session[R]{
		kind:     kind,
		layout:   layout,
		ch:       ch,
		reader:   reader,
		logger:   logger.With(zap.Stringer("sensor", kind), zap.Int32("session", ch.SessionID)),
		cmds:     make(chan command),
		readings: make(chan R),
		readErr:  make(chan error),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		handler:  func(R) {},
	}
	s.available.Store(true)

	s.wg.Add(2)
	go s.loop()
	go s.receive()
	return s, nil
}

func (s *Session[R]) loop() {
	defer s.wg.Done()
	defer close(s.done)
	for {
		select {
		case cmd := <-s.cmds:
			cmd.ack <- cmd.fn()
		case rec := <-s.readings:
			s.latest, s.hasLatest = rec, true
			s.handler(rec)
		case err := <-s.readErr:
			select {
			case <-s.quit:
				return
			default:
			}
			s.available.Store(false)
			s.logger.Error("backend connection lost", zap.Error(err))
			return
		case <-s.quit:
			return
		}
	}
}

func (s *Session[R]) receive() {
	defer s.wg.Done()
	for {
		rec, ok, err := frame.ReadLast(s.reader, s.layout)
		if err != nil {
			if !frame.IsFatal(err) {
				s.logger.Warn("discarded frame", zap.Error(err))
				continue
			}
			select {
			case s.readErr <- err:
			case <-s.quit:
			}
			return
		}
		if !ok {
			continue
		}
		select {
		case s.readings <- rec:
		case <-s.quit:
			return
		}
	}
}

// do runs fn on the session goroutine and waits for its result.
func (s *Session[R]) do(ctx context.Context, fn func() error) error {
	ack := make(chan error, 1)
	select {
	case s.cmds <- command{fn: fn, ack: ack}:
	case <-s.done:
		return s.deadErr()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session[R]) deadErr() error {
	if s.closed.Load() {
		return sensor.ErrClosed
	}
	return sensor.ErrUnavailable
}

func (s *Session[R]) Kind() sensor.Kind { return s.kind }

func (s *Session[R]) Available() bool {
	return s.available.Load() && !s.closed.Load()
}

func (s *Session[R]) Done() <-chan struct{} { return s.done }

// Register installs handler. Cancelling the registration restores the no-op
// handler unless a newer handler has been registered since.
func (s *Session[R]) Register(handler func(R)) (*sensor.Registration, error) {
	if handler == nil {
		handler = func(R) {}
	}
	var gen uint64
	err := s.do(context.Background(), func() error {
		s.gen++
		gen = s.gen
		s.handler = handler
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sensor.NewRegistration(func() {
		_ = s.do(context.Background(), func() error {
			if s.gen == gen {
				s.handler = func(R) {}
			}
			return nil
		})
	}), nil
}

// Enable starts streaming. Enabling a streaming session is a no-op.
func (s *Session[R]) Enable(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.started {
			return nil
		}
		if err := s.ch.Control.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", s.kind, err)
		}
		s.started = true
		s.logger.Debug("streaming started")
		return nil
	})
}

// Disable stops streaming. Disabling an idle session is a no-op.
func (s *Session[R]) Disable(ctx context.Context) error {
	return s.do(ctx, func() error {
		return s.stop(ctx)
	})
}

func (s *Session[R]) stop(ctx context.Context) error {
	if !s.started {
		return nil
	}
	if err := s.ch.Control.Stop(ctx); err != nil {
		return fmt.Errorf("stop %s: %w", s.kind, err)
	}
	s.started = false
	s.logger.Debug("streaming stopped")
	return nil
}

// Latest returns the most recent reading received.
func (s *Session[R]) Latest(ctx context.Context) (R, bool, error) {
	var (
		rec R
		ok  bool
	)
	err := s.do(ctx, func() error {
		rec, ok = s.latest, s.hasLatest
		return nil
	})
	return rec, ok, err
}

// Close stops streaming, releases the sensord session and closes the
// socket. It waits for the session goroutines to exit.
func (s *Session[R]) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		stopErr := s.do(ctx, func() error { return s.stop(ctx) })
		if errors.Is(stopErr, sensor.ErrUnavailable) {
			stopErr = nil
		}
		s.closed.Store(true)
		close(s.quit)

		s.closeErr = multierr.Combine(
			stopErr,
			s.ch.Control.Release(ctx),
			s.ch.Conn.Close(),
		)
		s.wg.Wait()
	})
	return s.closeErr
}
