// Package raw implements the fixed-width, uncompressed ADΔER stream format.
//
// A raw stream is a header followed by event records. Records have a fixed
// size, so a stream can be seeked by arithmetic on byte offsets. The stream
// ends with a record whose coordinates are EOFPixelAddress, or at the end of
// the data.
//
// All multi-byte values are big-endian.
package raw

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	adder "github.com/mrjoshuak/go-adder"
)

// Magic identifies a raw stream.
const Magic = "adder"

// HeaderSize is the encoded size of a stream header in bytes.
const HeaderSize = len(Magic) + 2 + 2 + 4 + 4 + 4 + 1 + 1 + 1

// Errors returned by the raw codec.
var (
	ErrEndOfStream        = errors.New("raw: end of stream")
	ErrBadMagic           = errors.New("raw: bad magic")
	ErrMisaligned         = errors.New("raw: position is not on an event boundary")
	ErrCoordOutOfBounds   = errors.New("raw: coordinate out of bounds")
	ErrChannelOutOfBounds = errors.New("raw: channel out of bounds")
	ErrDeltaTOutOfRange   = errors.New("raw: delta_t exceeds delta_t_max")
	ErrInvalidHeader      = errors.New("raw: invalid header")
)

// Header describes a stream.
type Header struct {
	Width          uint16
	Height         uint16
	TicksPerSecond uint32
	// RefInterval is the number of ticks in one source frame.
	RefInterval uint32
	// DeltaTMax is the largest delta_t an event may carry.
	DeltaTMax    uint32
	Channels     uint8
	CodecVersion uint8
	SourceCamera adder.SourceCamera
}

// Plane returns the geometry of the stream.
func (h Header) Plane() adder.PlaneSize {
	return adder.PlaneSize{Width: h.Width, Height: h.Height, Channels: h.Channels}
}

// Validate checks the header for consistency.
func (h Header) Validate() error {
	if err := h.Plane().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if h.TicksPerSecond == 0 {
		return fmt.Errorf("%w: zero ticks per second", ErrInvalidHeader)
	}
	if h.RefInterval == 0 {
		return fmt.Errorf("%w: zero reference interval", ErrInvalidHeader)
	}
	if h.DeltaTMax == 0 {
		return fmt.Errorf("%w: zero delta_t_max", ErrInvalidHeader)
	}
	if !h.SourceCamera.Valid() {
		return fmt.Errorf("%w: unknown source camera %d", ErrInvalidHeader, h.SourceCamera)
	}
	return nil
}

// EventSize returns the size of one event record in bytes. The channel byte
// is only present for multi-channel streams.
func (h Header) EventSize() int {
	if h.Channels > 1 {
		return 10
	}
	return 9
}

// WriteHeader writes h preceded by magic. Other containers share the header
// layout and differ only in their magic.
func WriteHeader(w io.Writer, magic string, h Header) error {
	buf := make([]byte, 0, len(magic)+HeaderSize-len(Magic))
	buf = append(buf, magic...)
	buf = binary.BigEndian.AppendUint16(buf, h.Width)
	buf = binary.BigEndian.AppendUint16(buf, h.Height)
	buf = binary.BigEndian.AppendUint32(buf, h.TicksPerSecond)
	buf = binary.BigEndian.AppendUint32(buf, h.RefInterval)
	buf = binary.BigEndian.AppendUint32(buf, h.DeltaTMax)
	buf = append(buf, h.Channels, h.CodecVersion, byte(h.SourceCamera))
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// ReadHeader reads and validates a header that must start with magic.
func ReadHeader(r io.Reader, magic string) (Header, error) {
	buf := make([]byte, len(magic)+HeaderSize-len(Magic))
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, fmt.Errorf("failed to read header: %w", err)
	}
	if string(buf[:len(magic)]) != magic {
		return Header{}, fmt.Errorf("%w: %q", ErrBadMagic, buf[:len(magic)])
	}
	b := buf[len(magic):]
	h := Header{
		Width:          binary.BigEndian.Uint16(b[0:2]),
		Height:         binary.BigEndian.Uint16(b[2:4]),
		TicksPerSecond: binary.BigEndian.Uint32(b[4:8]),
		RefInterval:    binary.BigEndian.Uint32(b[8:12]),
		DeltaTMax:      binary.BigEndian.Uint32(b[12:16]),
		Channels:       b[16],
		CodecVersion:   b[17],
		SourceCamera:   adder.SourceCamera(b[18]),
	}
	if err := h.Validate(); err != nil {
		return Header{}, err
	}
	return h, nil
}

// checkEvent validates e against the header.
func (h Header) checkEvent(e adder.Event) error {
	if e.Coord.X >= h.Width || e.Coord.Y >= h.Height {
		return fmt.Errorf("%w: (%d, %d) in %dx%d", ErrCoordOutOfBounds, e.Coord.X, e.Coord.Y, h.Width, h.Height)
	}
	if e.Coord.C >= h.Channels {
		return fmt.Errorf("%w: channel %d of %d", ErrChannelOutOfBounds, e.Coord.C, h.Channels)
	}
	if e.DeltaT > h.DeltaTMax {
		return fmt.Errorf("%w: %d > %d", ErrDeltaTOutOfRange, e.DeltaT, h.DeltaTMax)
	}
	return nil
}

// appendEvent appends the record for e.
func (h Header) appendEvent(buf []byte, e adder.Event) []byte {
	buf = binary.BigEndian.AppendUint16(buf, e.Coord.X)
	buf = binary.BigEndian.AppendUint16(buf, e.Coord.Y)
	if h.Channels > 1 {
		buf = append(buf, e.Coord.C)
	}
	buf = append(buf, e.D)
	return binary.BigEndian.AppendUint32(buf, e.DeltaT)
}

// parseEvent decodes one record.
func (h Header) parseEvent(b []byte) adder.Event {
	var e adder.Event
	e.Coord.X = binary.BigEndian.Uint16(b[0:2])
	e.Coord.Y = binary.BigEndian.Uint16(b[2:4])
	b = b[4:]
	if h.Channels > 1 {
		e.Coord.C = b[0]
		b = b[1:]
	}
	e.D = b[0]
	e.DeltaT = binary.BigEndian.Uint32(b[1:5])
	return e
}
