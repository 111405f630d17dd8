package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mil-ad/sensorproxy/internal/sensor"
)

// Record sizes include the trailing padding sensord's native structs carry.
const (
	AccelerationSize = 24 // ts u64, x i32, y i32, z i32, pad
	LightSize        = 16 // ts u64, value u32, pad
	CompassSize      = 24 // ts u64, degrees, raw, corrected, level (i32 each)
	ProximitySize    = 16 // ts u64, value u32, within u8, pad
)

// Layout describes how one record type is laid out on the wire.
type Layout[R any] struct {
	Size   int
	Decode func(b []byte) R
	Append func(dst []byte, rec R) []byte
}

var le = binary.LittleEndian

var Acceleration = Layout[sensor.AccelerometerReading]{
	Size: AccelerationSize,
	Decode: func(b []byte) sensor.AccelerometerReading {
		return sensor.AccelerometerReading{
			Timestamp: le.Uint64(b[0:]),
			X:         int32(le.Uint32(b[8:])),
			Y:         int32(le.Uint32(b[12:])),
			Z:         int32(le.Uint32(b[16:])),
		}
	},
	Append: func(dst []byte, rec sensor.AccelerometerReading) []byte {
		dst = le.AppendUint64(dst, rec.Timestamp)
		dst = le.AppendUint32(dst, uint32(rec.X))
		dst = le.AppendUint32(dst, uint32(rec.Y))
		dst = le.AppendUint32(dst, uint32(rec.Z))
		return append(dst, 0, 0, 0, 0)
	},
}

var Light = Layout[sensor.LightReading]{
	Size: LightSize,
	Decode: func(b []byte) sensor.LightReading {
		return sensor.LightReading{
			Timestamp: le.Uint64(b[0:]),
			Value:     le.Uint32(b[8:]),
		}
	},
	Append: func(dst []byte, rec sensor.LightReading) []byte {
		dst = le.AppendUint64(dst, rec.Timestamp)
		dst = le.AppendUint32(dst, rec.Value)
		return append(dst, 0, 0, 0, 0)
	},
}

var Compass = Layout[sensor.CompassReading]{
	Size: CompassSize,
	Decode: func(b []byte) sensor.CompassReading {
		return sensor.CompassReading{
			Timestamp:        le.Uint64(b[0:]),
			Degrees:          int32(le.Uint32(b[8:])),
			RawDegrees:       int32(le.Uint32(b[12:])),
			CorrectedDegrees: int32(le.Uint32(b[16:])),
			Level:            int32(le.Uint32(b[20:])),
		}
	},
	Append: func(dst []byte, rec sensor.CompassReading) []byte {
		dst = le.AppendUint64(dst, rec.Timestamp)
		dst = le.AppendUint32(dst, uint32(rec.Degrees))
		dst = le.AppendUint32(dst, uint32(rec.RawDegrees))
		dst = le.AppendUint32(dst, uint32(rec.CorrectedDegrees))
		return le.AppendUint32(dst, uint32(rec.Level))
	},
}

var Proximity = Layout[sensor.ProximityReading]{
	Size: ProximitySize,
	Decode: func(b []byte) sensor.ProximityReading {
		return sensor.ProximityReading{
			Timestamp: le.Uint64(b[0:]),
			Value:     le.Uint32(b[8:]),
			Near:      b[12] != 0,
		}
	},
	Append: func(dst []byte, rec sensor.ProximityReading) []byte {
		dst = le.AppendUint64(dst, rec.Timestamp)
		dst = le.AppendUint32(dst, rec.Value)
		var within byte
		if rec.Near {
			within = 1
		}
		return append(dst, within, 0, 0, 0)
	},
}

// Records decodes every record in payload.
func Records[R any](l Layout[R], payload []byte) []R {
	out := make([]R, 0, len(payload)/l.Size)
	for off := 0; off+l.Size <= len(payload); off += l.Size {
		out = append(out, l.Decode(payload[off:off+l.Size]))
	}
	return out
}

// Last decodes only the final record in payload. ok is false for an empty
// frame.
func Last[R any](l Layout[R], payload []byte) (rec R, ok bool) {
	if len(payload) < l.Size {
		return rec, false
	}
	off := (len(payload)/l.Size - 1) * l.Size
	return l.Decode(payload[off : off+l.Size]), true
}

// ReadLast reads one frame from r and returns its freshest record.
// ok is false when the frame carried no records.
func ReadLast[R any](r *Reader, l Layout[R]) (rec R, ok bool, err error) {
	payload, _, err := r.ReadFrame(l.Size)
	if err != nil {
		return rec, false, err
	}
	rec, ok = Last(l, payload)
	return rec, ok, nil
}

// AppendFrame appends a count-prefixed frame holding records to dst.
func AppendFrame[R any](dst []byte, l Layout[R], records ...R) []byte {
	dst = le.AppendUint32(dst, uint32(len(records)))
	for _, rec := range records {
		dst = l.Append(dst, rec)
	}
	return dst
}

// WriteFrame writes one frame holding records to w.
func WriteFrame[R any](w io.Writer, l Layout[R], records ...R) error {
	if len(records) > MaxRecords {
		return fmt.Errorf("%w: %d records", ErrOverflow, len(records))
	}
	_, err := w.Write(AppendFrame(nil, l, records...))
	return err
}

// ChannelID is the prefix a client writes when attaching to a sensord data
// socket, followed by its little-endian int32 session id.
const ChannelID = "_SENSORCHANNEL_"

// AppendChannelHeader appends the attach header for sessionID to dst.
func AppendChannelHeader(dst []byte, sessionID int32) []byte {
	dst = append(dst, ChannelID...)
	return le.AppendUint32(dst, uint32(sessionID))
}
