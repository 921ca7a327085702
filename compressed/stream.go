package compressed

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	adder "github.com/mrjoshuak/go-adder"
	"github.com/mrjoshuak/go-adder/internal/bio"
	"github.com/mrjoshuak/go-adder/raw"
)

// Magic identifies a compressed stream.
const Magic = "addec"

// eofRecord terminates the record sequence.
const eofRecord = 0xFFFFFFFF

// MaxBlocksPerRecord bounds the number of blocks coded into one payload.
// Longer block vectors are split across consecutive records.
const MaxBlocksPerRecord = 4096

// maxPayload bounds the payload length accepted by the Reader.
const maxPayload = 1 << 26

// maxOverrun is the number of padding bytes the decoder may read past a
// payload before the payload is considered truncated.
const maxOverrun = 64

// Writer aggregates events into cubes and writes them as a compressed stream
// on Close.
//
// The stream is a raw header with Magic, the block size as one byte, then
// records of the form
//
//	varint(cube index) | channel u8 | varint(block count) | varint(len) | payload
//
// ordered by cube index and channel, and finally varint(0xFFFFFFFF).
type Writer struct {
	w         *bufio.Writer
	vw        *bio.VariableLengthWriter
	h         raw.Header
	blockSize int
	cols      int
	rows      int
	cubes     []*Cube
	enc       *ModelEncoder
	count     int64
	closed    bool
}

// NewWriter validates h and writes the stream header to w.
func NewWriter(w io.Writer, h raw.Header, blockSize int) (*Writer, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if blockSize <= 0 || blockSize > 0xFF {
		return nil, fmt.Errorf("%w: block size %d", ErrValueOutOfRange, blockSize)
	}
	enc, err := NewModelEncoder(blockSize, DefaultModelParams(h.DeltaTMax))
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriter(w)
	if err := raw.WriteHeader(bw, Magic, h); err != nil {
		return nil, err
	}
	if err := bw.WriteByte(byte(blockSize)); err != nil {
		return nil, fmt.Errorf("failed to write block size: %w", err)
	}
	cols := (int(h.Width) + blockSize - 1) / blockSize
	rows := (int(h.Height) + blockSize - 1) / blockSize
	return &Writer{
		w:         bw,
		vw:        bio.NewVariableLengthWriter(bw),
		h:         h,
		blockSize: blockSize,
		cols:      cols,
		rows:      rows,
		cubes:     make([]*Cube, cols*rows),
		enc:       enc,
	}, nil
}

// Count returns the number of events accepted so far.
func (w *Writer) Count() int64 {
	return w.count
}

// WriteEvent adds an event to the stream. Events of one pixel must be
// written in order.
func (w *Writer) WriteEvent(e adder.Event) error {
	if w.closed {
		return fmt.Errorf("write after close: %w", ErrEndOfStream)
	}
	if !w.h.Plane().Contains(e.Coord) {
		return fmt.Errorf("%w: (%d, %d, %d)", ErrOutOfCube, e.Coord.X, e.Coord.Y, e.Coord.C)
	}
	if e.DeltaT > w.h.DeltaTMax {
		return fmt.Errorf("%w: delta_t %d", ErrValueOutOfRange, e.DeltaT)
	}
	if e.D > adder.DMax && e.D != adder.DEmpty && e.D != adder.DZeroIntegration {
		return fmt.Errorf("%w: D %d", ErrValueOutOfRange, e.D)
	}

	by := int(e.Coord.Y) / w.blockSize
	bx := int(e.Coord.X) / w.blockSize
	i := by*w.cols + bx
	if w.cubes[i] == nil {
		w.cubes[i] = NewCube(by, bx, w.blockSize)
	}
	if err := w.cubes[i].SetEvent(e); err != nil {
		return err
	}
	w.count++
	return nil
}

// WriteEvents adds events in order.
func (w *Writer) WriteEvents(events []adder.Event) error {
	for _, e := range events {
		if err := w.WriteEvent(e); err != nil {
			return err
		}
	}
	return nil
}

// Close codes every cube, terminates the stream and flushes. It does not
// close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	for i, cube := range w.cubes {
		if cube == nil {
			continue
		}
		for ch := 0; ch < int(w.h.Channels); ch++ {
			if cube.Count(ch) == 0 {
				continue
			}
			blocks := cube.Blocks(ch)
			for start := 0; start < len(blocks); start += MaxBlocksPerRecord {
				end := min(start+MaxBlocksPerRecord, len(blocks))
				for _, b := range blocks[start:end] {
					if err := w.enc.EncodeBlock(b); err != nil {
						return fmt.Errorf("cube %d channel %d: %w", i, ch, err)
					}
				}
				payload := w.enc.Flush()

				if err := w.writeRecordHeader(uint32(i), byte(ch), uint32(end-start), uint32(len(payload))); err != nil {
					return fmt.Errorf("failed to write record header: %w", err)
				}
				if _, err := w.w.Write(payload); err != nil {
					return fmt.Errorf("failed to write payload: %w", err)
				}
			}
		}
		w.cubes[i] = nil
	}

	if err := w.vw.Write(eofRecord); err != nil {
		return fmt.Errorf("failed to write EOF record: %w", err)
	}
	return w.w.Flush()
}

func (w *Writer) writeRecordHeader(idx uint32, ch byte, nblocks, n uint32) error {
	if err := w.vw.Write(idx); err != nil {
		return err
	}
	if err := w.w.WriteByte(ch); err != nil {
		return err
	}
	if err := w.vw.Write(nblocks); err != nil {
		return err
	}
	return w.vw.Write(n)
}

// Reader decodes a compressed stream. Events of each pixel are returned in
// the order they were written; events of different pixels are not.
type Reader struct {
	br        *bufio.Reader
	vr        *bio.VariableLengthReader
	h         raw.Header
	blockSize int
	cols      int
	rows      int
	dec       *ModelDecoder
	pending   []adder.Event
	payload   []byte
	done      bool
}

// NewReader reads the stream header from r.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	h, err := raw.ReadHeader(br, Magic)
	if err != nil {
		return nil, err
	}
	bs, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("failed to read block size: %w", err)
	}
	if bs == 0 {
		return nil, fmt.Errorf("%w: zero block size", ErrCorrupt)
	}
	blockSize := int(bs)
	dec, err := NewModelDecoder(blockSize, DefaultModelParams(h.DeltaTMax))
	if err != nil {
		return nil, err
	}
	return &Reader{
		br:        br,
		vr:        bio.NewVariableLengthReader(br),
		h:         h,
		blockSize: blockSize,
		cols:      (int(h.Width) + blockSize - 1) / blockSize,
		rows:      (int(h.Height) + blockSize - 1) / blockSize,
		dec:       dec,
	}, nil
}

// Header returns the stream header.
func (r *Reader) Header() raw.Header {
	return r.h
}

// BlockSize returns the block edge length of the stream.
func (r *Reader) BlockSize() int {
	return r.blockSize
}

// ReadEvent returns the next event, or ErrEndOfStream after the EOF record.
func (r *Reader) ReadEvent() (adder.Event, error) {
	for len(r.pending) == 0 {
		if r.done {
			return adder.Event{}, ErrEndOfStream
		}
		if err := r.readRecord(); err != nil {
			return adder.Event{}, err
		}
	}
	e := r.pending[0]
	r.pending = r.pending[1:]
	return e, nil
}

// ReadAll returns every remaining event.
func (r *Reader) ReadAll() ([]adder.Event, error) {
	var events []adder.Event
	for {
		e, err := r.ReadEvent()
		if errors.Is(err, ErrEndOfStream) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, e)
	}
}

func (r *Reader) readRecord() error {
	idx, err := r.vr.Read()
	if err != nil {
		return fmt.Errorf("%w: record header: %v", ErrCorrupt, err)
	}
	if idx == eofRecord {
		r.done = true
		return nil
	}
	if int(idx) >= r.cols*r.rows {
		return fmt.Errorf("%w: cube index %d", ErrCorrupt, idx)
	}
	ch, err := r.br.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: record channel: %v", ErrCorrupt, err)
	}
	if ch >= r.h.Channels {
		return fmt.Errorf("%w: channel %d", ErrCorrupt, ch)
	}
	nblocks, err := r.vr.Read()
	if err != nil {
		return fmt.Errorf("%w: block count: %v", ErrCorrupt, err)
	}
	if nblocks == 0 || nblocks > MaxBlocksPerRecord {
		return fmt.Errorf("%w: block count %d", ErrCorrupt, nblocks)
	}
	n, err := r.vr.Read()
	if err != nil {
		return fmt.Errorf("%w: payload length: %v", ErrCorrupt, err)
	}
	if n > maxPayload {
		return fmt.Errorf("%w: payload length %d", ErrCorrupt, n)
	}
	// Length is unverified until the bytes arrive.
	pb := bytes.NewBuffer(r.payload[:0])
	if _, err := io.CopyN(pb, r.br, int64(n)); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrCorrupt, err)
	}
	r.payload = pb.Bytes()

	originY := int(idx) / r.cols * r.blockSize
	originX := int(idx) % r.cols * r.blockSize
	r.pending = r.pending[:0]
	r.dec.Reset(r.payload)
	for k := uint32(0); k < nblocks; k++ {
		b, err := r.dec.DecodeBlock()
		if err != nil {
			return fmt.Errorf("cube %d block %d: %w", idx, k, err)
		}
		if r.dec.Overrun() > maxOverrun {
			return fmt.Errorf("%w: cube %d payload truncated", ErrCorrupt, idx)
		}
		for slot := 0; slot < b.Len(); slot++ {
			ev, ok := b.Event(slot)
			if !ok {
				continue
			}
			x := originX + slot%r.blockSize
			y := originY + slot/r.blockSize
			if x >= int(r.h.Width) || y >= int(r.h.Height) {
				return fmt.Errorf("%w: event at (%d, %d) outside plane", ErrCorrupt, x, y)
			}
			r.pending = append(r.pending, ev.WithCoord(adder.Coord{
				X: adder.PixelAddress(x),
				Y: adder.PixelAddress(y),
				C: ch,
			}))
		}
	}
	return nil
}
