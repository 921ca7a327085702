package raw

import (
	"bytes"
	"errors"
	"io"
	"testing"

	adder "github.com/mrjoshuak/go-adder"
)

func testHeader(channels uint8) Header {
	return Header{
		Width:          50,
		Height:         100,
		TicksPerSecond: 53000,
		RefInterval:    4000,
		DeltaTMax:      50000,
		Channels:       channels,
		CodecVersion:   1,
		SourceCamera:   adder.FramedU8,
	}
}

func TestHeader_Roundtrip(t *testing.T) {
	tests := []struct {
		name string
		h    Header
	}{
		{"gray", testHeader(1)},
		{"color", testHeader(3)},
		{"dvs", Header{Width: 346, Height: 260, TicksPerSecond: 1000000, RefInterval: 1000000, DeltaTMax: 1 << 30, Channels: 1, SourceCamera: adder.Dvs}},
		{"max dims", Header{Width: 0xFFFF, Height: 0xFFFF, TicksPerSecond: 0xFFFFFFFF, RefInterval: 1, DeltaTMax: 0xFFFFFFFF, Channels: 3, CodecVersion: 0xFF, SourceCamera: adder.Asint}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteHeader(&buf, Magic, tt.h); err != nil {
				t.Fatal(err)
			}
			if buf.Len() != HeaderSize {
				t.Errorf("header length = %d, want %d", buf.Len(), HeaderSize)
			}
			got, err := ReadHeader(&buf, Magic)
			if err != nil {
				t.Fatalf("ReadHeader() error: %v", err)
			}
			if got != tt.h {
				t.Errorf("ReadHeader() = %+v, want %+v", got, tt.h)
			}
		})
	}
}

func TestHeader_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Header)
	}{
		{"zero width", func(h *Header) { h.Width = 0 }},
		{"two channels", func(h *Header) { h.Channels = 2 }},
		{"zero tps", func(h *Header) { h.TicksPerSecond = 0 }},
		{"zero ref", func(h *Header) { h.RefInterval = 0 }},
		{"zero dtm", func(h *Header) { h.DeltaTMax = 0 }},
		{"bad camera", func(h *Header) { h.SourceCamera = 42 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testHeader(1)
			tt.modify(&h)
			if err := h.Validate(); !errors.Is(err, ErrInvalidHeader) {
				t.Errorf("Validate() = %v, want ErrInvalidHeader", err)
			}
			if _, err := NewEncoder(io.Discard, h); !errors.Is(err, ErrInvalidHeader) {
				t.Errorf("NewEncoder() = %v, want ErrInvalidHeader", err)
			}
		})
	}
}

func TestReadHeader_Errors(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHeader(&buf, "addec", testHeader(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadHeader(bytes.NewReader(buf.Bytes()), Magic); !errors.Is(err, ErrBadMagic) {
		t.Errorf("wrong magic: got %v, want ErrBadMagic", err)
	}
	if _, err := ReadHeader(bytes.NewReader(buf.Bytes()[:10]), "addec"); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("short header: got %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestEncodeEvent_Invalid(t *testing.T) {
	tests := []struct {
		name string
		ev   adder.Event
		want error
	}{
		{"x out of bounds", adder.Event{Coord: adder.Coord{X: 100, Y: 30}, D: 5, DeltaT: 1000}, ErrCoordOutOfBounds},
		{"y out of bounds", adder.Event{Coord: adder.Coord{X: 10, Y: 100}, D: 5, DeltaT: 1000}, ErrCoordOutOfBounds},
		{"channel on gray plane", adder.Event{Coord: adder.Coord{X: 10, Y: 30, C: 1}, D: 5, DeltaT: 1000}, ErrChannelOutOfBounds},
		{"delta_t too large", adder.Event{Coord: adder.Coord{X: 10, Y: 30}, D: 5, DeltaT: 1000000}, ErrDeltaTOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			enc, err := NewEncoder(&buf, testHeader(1))
			if err != nil {
				t.Fatal(err)
			}
			if err := enc.EncodeEvent(tt.ev); !errors.Is(err, tt.want) {
				t.Errorf("EncodeEvent() = %v, want %v", err, tt.want)
			}
			if enc.Count() != 0 {
				t.Errorf("Count() = %d after rejected event", enc.Count())
			}
		})
	}
}

func encodeStream(t *testing.T, h Header, events []adder.Event, eof bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, h)
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.EncodeEvents(events); err != nil {
		t.Fatal(err)
	}
	if eof {
		err = enc.Close()
	} else {
		err = enc.Flush()
	}
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestEvent_Roundtrip(t *testing.T) {
	tests := []struct {
		name     string
		channels uint8
		events   []adder.Event
	}{
		{"gray", 1, []adder.Event{
			{Coord: adder.Coord{X: 10, Y: 30}, D: 5, DeltaT: 1000},
			{Coord: adder.Coord{X: 49, Y: 99}, D: adder.DEmpty, DeltaT: 50000},
			{Coord: adder.Coord{X: 0, Y: 0}, D: adder.DZeroIntegration, DeltaT: 0},
		}},
		{"color", 3, []adder.Event{
			{Coord: adder.Coord{X: 10, Y: 30, C: 2}, D: 5, DeltaT: 1000},
			{Coord: adder.Coord{X: 10, Y: 30, C: 0}, D: 20, DeltaT: 1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testHeader(tt.channels)
			data := encodeStream(t, h, tt.events, true)
			if want := HeaderSize + (len(tt.events)+1)*h.EventSize(); len(data) != want {
				t.Errorf("stream length = %d, want %d", len(data), want)
			}

			dec, err := NewDecoder(bytes.NewReader(data))
			if err != nil {
				t.Fatal(err)
			}
			if dec.Header() != h {
				t.Errorf("Header() = %+v, want %+v", dec.Header(), h)
			}
			for i, want := range tt.events {
				got, err := dec.DecodeEvent()
				if err != nil {
					t.Fatalf("event %d: %v", i, err)
				}
				if got != want {
					t.Errorf("event %d = %+v, want %+v", i, got, want)
				}
			}
			if _, err := dec.DecodeEvent(); !errors.Is(err, ErrEndOfStream) {
				t.Errorf("after last event: %v, want ErrEndOfStream", err)
			}
		})
	}
}

func TestEncodeAfterEOF(t *testing.T) {
	var buf bytes.Buffer
	enc, _ := NewEncoder(&buf, testHeader(1))
	if err := enc.WriteEOF(); err != nil {
		t.Fatal(err)
	}
	if err := enc.EncodeEvent(adder.Event{}); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("EncodeEvent after EOF = %v, want ErrEndOfStream", err)
	}
}

func TestDecodeEvent_Truncated(t *testing.T) {
	data := encodeStream(t, testHeader(1), []adder.Event{{Coord: adder.Coord{X: 1, Y: 2}, D: 3, DeltaT: 4}}, false)
	dec, err := NewDecoder(bytes.NewReader(data[:len(data)-3]))
	if err != nil {
		t.Fatal(err)
	}
	_, err = dec.DecodeEvent()
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("DecodeEvent() = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestDecodeEvent_Malformed(t *testing.T) {
	data := encodeStream(t, testHeader(1), []adder.Event{{Coord: adder.Coord{X: 1, Y: 2}, D: 3, DeltaT: 4}}, false)
	// Corrupt x to lie outside the plane.
	data[HeaderSize] = 0x10
	dec, err := NewDecoder(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dec.DecodeEvent(); !errors.Is(err, ErrCoordOutOfBounds) {
		t.Errorf("DecodeEvent() = %v, want ErrCoordOutOfBounds", err)
	}
}

func TestSeek(t *testing.T) {
	h := testHeader(1)
	events := make([]adder.Event, 20)
	for i := range events {
		events[i] = adder.Event{Coord: adder.Coord{X: uint16(i), Y: uint16(2 * i)}, D: uint8(i % 21), DeltaT: uint32(100 * i)}
	}

	tests := []struct {
		name string
		eof  bool
	}{
		{"with EOF record", true},
		{"without EOF record", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := NewDecoder(bytes.NewReader(encodeStream(t, h, events, tt.eof)))
			if err != nil {
				t.Fatal(err)
			}
			size := int64(dec.EventSize())

			eof, err := dec.EOFPosition()
			if err != nil {
				t.Fatal(err)
			}
			if want := int64(HeaderSize) + 20*size; eof != want {
				t.Errorf("EOFPosition() = %d, want %d", eof, want)
			}
			n, err := dec.EventCount()
			if err != nil || n != 20 {
				t.Errorf("EventCount() = %d, %v; want 20", n, err)
			}

			// EOFPosition must not disturb the read position.
			if got, err := dec.DecodeEvent(); err != nil || got != events[0] {
				t.Errorf("first event = %+v, %v", got, err)
			}

			pos := int64(HeaderSize) + 7*size
			if err := dec.SetInputStreamPosition(pos); err != nil {
				t.Fatal(err)
			}
			if dec.InputStreamPosition() != pos {
				t.Errorf("InputStreamPosition() = %d, want %d", dec.InputStreamPosition(), pos)
			}
			if got, err := dec.DecodeEvent(); err != nil || got != events[7] {
				t.Errorf("event after seek = %+v, %v; want %+v", got, err, events[7])
			}
			if dec.InputStreamPosition() != pos+size {
				t.Errorf("InputStreamPosition() = %d, want %d", dec.InputStreamPosition(), pos+size)
			}

			for _, bad := range []int64{0, int64(HeaderSize) - 1, pos + 1} {
				if err := dec.SetInputStreamPosition(bad); !errors.Is(err, ErrMisaligned) {
					t.Errorf("SetInputStreamPosition(%d) = %v, want ErrMisaligned", bad, err)
				}
			}
		})
	}
}

func TestEncodeEventsEvents(t *testing.T) {
	h := testHeader(3)
	groups := [][]adder.Event{
		{{Coord: adder.Coord{X: 1, C: 0}, D: 1, DeltaT: 1}},
		{},
		{{Coord: adder.Coord{X: 2, C: 1}, D: 2, DeltaT: 2}, {Coord: adder.Coord{X: 3, C: 2}, D: 3, DeltaT: 3}},
	}
	var buf bytes.Buffer
	enc, _ := NewEncoder(&buf, h)
	if err := enc.EncodeEventsEvents(groups); err != nil {
		t.Fatal(err)
	}
	if enc.Count() != 3 {
		t.Errorf("Count() = %d, want 3", enc.Count())
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	dec, _ := NewDecoder(bytes.NewReader(buf.Bytes()))
	n, _ := dec.EventCount()
	if n != 3 {
		t.Errorf("EventCount() = %d, want 3", n)
	}
}

func FuzzDecoder(f *testing.F) {
	var buf bytes.Buffer
	enc, _ := NewEncoder(&buf, testHeader(3))
	_ = enc.EncodeEvent(adder.Event{Coord: adder.Coord{X: 1, Y: 1, C: 1}, D: 4, DeltaT: 10})
	_ = enc.Close()
	f.Add(buf.Bytes())
	f.Add([]byte("adder"))

	f.Fuzz(func(t *testing.T, data []byte) {
		dec, err := NewDecoder(bytes.NewReader(data))
		if err != nil {
			return
		}
		if _, err := dec.EOFPosition(); err != nil {
			t.Fatalf("EOFPosition() on in-memory stream: %v", err)
		}
		for i := 0; i < 1000; i++ {
			ev, err := dec.DecodeEvent()
			if err != nil {
				return
			}
			if !dec.Header().Plane().Contains(ev.Coord) {
				t.Fatalf("decoded event outside plane: %+v", ev)
			}
		}
	})
}
