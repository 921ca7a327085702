package raw

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	adder "github.com/mrjoshuak/go-adder"
)

// Decoder reads a raw stream.
type Decoder struct {
	r   io.ReadSeeker
	br  *bufio.Reader
	h   Header
	pos int64
	buf []byte
}

// NewDecoder reads the header at the start of r. Positions reported by the
// decoder are byte offsets from the start of r.
func NewDecoder(r io.ReadSeeker) (*Decoder, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to start: %w", err)
	}
	br := bufio.NewReader(r)
	h, err := ReadHeader(br, Magic)
	if err != nil {
		return nil, err
	}
	return &Decoder{
		r:   r,
		br:  br,
		h:   h,
		pos: int64(HeaderSize),
		buf: make([]byte, h.EventSize()),
	}, nil
}

// Header returns the stream header.
func (d *Decoder) Header() Header {
	return d.h
}

// HeaderSize returns the size of the stream header in bytes.
func (d *Decoder) HeaderSize() int {
	return HeaderSize
}

// EventSize returns the size of one event record in bytes.
func (d *Decoder) EventSize() int {
	return d.h.EventSize()
}

// DecodeEvent reads the next event. It returns ErrEndOfStream at the end of
// the data or at an EOF record.
func (d *Decoder) DecodeEvent() (adder.Event, error) {
	n, err := io.ReadFull(d.br, d.buf)
	d.pos += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return adder.Event{}, ErrEndOfStream
		}
		return adder.Event{}, fmt.Errorf("failed to read event at offset %d: %w", d.pos-int64(n), err)
	}

	ev := d.h.parseEvent(d.buf)
	if ev.Coord.IsEOF() {
		return adder.Event{}, ErrEndOfStream
	}
	if ev.Coord.X >= d.h.Width || ev.Coord.Y >= d.h.Height {
		return ev, fmt.Errorf("malformed event at offset %d: %w", d.pos-int64(n), ErrCoordOutOfBounds)
	}
	if ev.Coord.C >= d.h.Channels {
		return ev, fmt.Errorf("malformed event at offset %d: %w", d.pos-int64(n), ErrChannelOutOfBounds)
	}
	return ev, nil
}

// InputStreamPosition returns the byte offset of the next record.
func (d *Decoder) InputStreamPosition() int64 {
	return d.pos
}

// SetInputStreamPosition moves to the record at byte offset pos. The offset
// must lie on an event boundary after the header.
func (d *Decoder) SetInputStreamPosition(pos int64) error {
	size := int64(d.h.EventSize())
	if pos < int64(HeaderSize) || (pos-int64(HeaderSize))%size != 0 {
		return fmt.Errorf("%w: offset %d", ErrMisaligned, pos)
	}
	if _, err := d.r.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to %d: %w", pos, err)
	}
	d.br.Reset(d.r)
	d.pos = pos
	return nil
}

// EOFPosition returns the byte offset of the EOF record, or of the end of the
// last complete record if the stream has none. The read position is
// unchanged.
func (d *Decoder) EOFPosition() (int64, error) {
	end, err := d.r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("failed to seek to end: %w", err)
	}
	size := int64(d.h.EventSize())
	eof := int64(HeaderSize) + (end-int64(HeaderSize))/size*size
	if eof > int64(HeaderSize) {
		last := eof - size
		if _, err := d.r.Seek(last, io.SeekStart); err != nil {
			return 0, fmt.Errorf("failed to seek to %d: %w", last, err)
		}
		if _, err := io.ReadFull(d.r, d.buf); err != nil {
			return 0, fmt.Errorf("failed to read final record: %w", err)
		}
		if d.h.parseEvent(d.buf).Coord.IsEOF() {
			eof = last
		}
	}
	if _, err := d.r.Seek(d.pos, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to restore position: %w", err)
	}
	d.br.Reset(d.r)
	return eof, nil
}

// EventCount returns the number of events in the stream, excluding the EOF
// record.
func (d *Decoder) EventCount() (int64, error) {
	eof, err := d.EOFPosition()
	if err != nil {
		return 0, err
	}
	return (eof - int64(HeaderSize)) / int64(d.h.EventSize()), nil
}
