package raw

import (
	"bufio"
	"fmt"
	"io"

	adder "github.com/mrjoshuak/go-adder"
)

// Encoder writes a raw stream.
type Encoder struct {
	w      *bufio.Writer
	h      Header
	buf    []byte
	count  int64
	closed bool
}

// NewEncoder validates h and writes it to w.
func NewEncoder(w io.Writer, h Header) (*Encoder, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	bw := bufio.NewWriter(w)
	if err := WriteHeader(bw, Magic, h); err != nil {
		return nil, err
	}
	return &Encoder{
		w:   bw,
		h:   h,
		buf: make([]byte, 0, h.EventSize()),
	}, nil
}

// Header returns the stream header.
func (e *Encoder) Header() Header {
	return e.h
}

// Count returns the number of events written, excluding the EOF record.
func (e *Encoder) Count() int64 {
	return e.count
}

// EncodeEvent validates and writes a single event.
func (e *Encoder) EncodeEvent(ev adder.Event) error {
	if e.closed {
		return fmt.Errorf("encode after EOF: %w", ErrEndOfStream)
	}
	if err := e.h.checkEvent(ev); err != nil {
		return err
	}
	return e.write(ev)
}

func (e *Encoder) write(ev adder.Event) error {
	e.buf = e.h.appendEvent(e.buf[:0], ev)
	if _, err := e.w.Write(e.buf); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	e.count++
	return nil
}

// EncodeEvents writes events in order, stopping at the first invalid one.
func (e *Encoder) EncodeEvents(events []adder.Event) error {
	for i, ev := range events {
		if err := e.EncodeEvent(ev); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

// EncodeEventsEvents writes groups of events, one group after another.
func (e *Encoder) EncodeEventsEvents(groups [][]adder.Event) error {
	for _, events := range groups {
		if err := e.EncodeEvents(events); err != nil {
			return err
		}
	}
	return nil
}

// WriteEOF terminates the stream with an EOF record. Further events are
// rejected.
func (e *Encoder) WriteEOF() error {
	if e.closed {
		return nil
	}
	eof := adder.Event{Coord: adder.Coord{X: adder.EOFPixelAddress, Y: adder.EOFPixelAddress}}
	if err := e.write(eof); err != nil {
		return err
	}
	e.count--
	e.closed = true
	return nil
}

// Flush writes any buffered data to the underlying writer.
func (e *Encoder) Flush() error {
	return e.w.Flush()
}

// Close writes the EOF record if needed and flushes. It does not close the
// underlying writer.
func (e *Encoder) Close() error {
	if err := e.WriteEOF(); err != nil {
		return err
	}
	return e.Flush()
}
