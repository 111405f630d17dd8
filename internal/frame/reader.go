// Package frame implements the count-prefixed record framing sensord uses on
// its per-session data sockets.
//
// Every frame starts with a 4-byte little-endian record count followed by
// that many fixed-size records. A fresh connection additionally carries one
// leading tag byte before the first frame.
package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// MaxRecords is the largest record count a frame may announce. Larger counts
// mean the backend is misbehaving or the stream is out of sync.
const MaxRecords = 1000

// DefaultDrainWindow bounds how long an overflow drain keeps reading bytes
// that are already in flight on the socket.
const DefaultDrainWindow = 20 * time.Millisecond

// ErrOverflow is returned when a frame announces more than MaxRecords
// records. The buffered input has been discarded; the connection is still
// usable.
var ErrOverflow = errors.New("frame: record count exceeds limit")

// IsFatal reports whether err from ReadFrame or ReadTag means the connection
// can no longer be used.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrOverflow)
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Reader decodes frames from a backend connection.
type Reader struct {
	src         io.Reader
	br          *bufio.Reader
	tagRead     bool
	drainWindow time.Duration
	countBuf    [4]byte
}

// NewReader returns a Reader over src. If src supports read deadlines (as
// net.Conn does) an overflow drain also discards bytes arriving within
// drainWindow; otherwise only already-buffered bytes are dropped.
func NewReader(src io.Reader, drainWindow time.Duration) *Reader {
	return &Reader{
		src:         src,
		br:          bufio.NewReader(src),
		drainWindow: drainWindow,
	}
}

// TagRead reports whether the connection's leading tag byte has been
// consumed.
func (r *Reader) TagRead() bool { return r.tagRead }

// ReadTag consumes the one-time tag byte. Calling it again after success is
// a no-op that returns zero.
func (r *Reader) ReadTag() (byte, error) {
	if r.tagRead {
		return 0, nil
	}
	tag, err := r.br.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("read socket tag: %w", err)
	}
	r.tagRead = true
	return tag, nil
}

// ReadFrame blocks until one whole frame of recordSize-byte records has been
// read and returns its payload and record count. A count above MaxRecords
// drains the connection and returns ErrOverflow.
func (r *Reader) ReadFrame(recordSize int) ([]byte, int, error) {
	if recordSize <= 0 {
		return nil, 0, fmt.Errorf("frame: invalid record size %d", recordSize)
	}
	if !r.tagRead {
		if _, err := r.ReadTag(); err != nil {
			return nil, 0, err
		}
	}

	if _, err := io.ReadFull(r.br, r.countBuf[:]); err != nil {
		return nil, 0, fmt.Errorf("read frame count: %w", err)
	}
	count := binary.LittleEndian.Uint32(r.countBuf[:])
	if count > MaxRecords {
		r.drain()
		return nil, 0, fmt.Errorf("%w: %d records announced", ErrOverflow, count)
	}

	payload := make([]byte, int(count)*recordSize)
	if _, err := io.ReadFull(r.br, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, 0, fmt.Errorf("read %d records: %w", count, err)
	}
	return payload, int(count), nil
}

// drain throws away everything buffered and everything the peer has already
// sent, returning the number of bytes dropped.
func (r *Reader) drain() int {
	dropped, _ := r.br.Discard(r.br.Buffered())

	d, ok := r.src.(deadliner)
	if !ok || r.drainWindow <= 0 {
		return dropped
	}
	if err := d.SetReadDeadline(time.Now().Add(r.drainWindow)); err != nil {
		return dropped
	}
	n, _ := io.Copy(io.Discard, r.src)
	_ = d.SetReadDeadline(time.Time{})
	return dropped + int(n)
}
