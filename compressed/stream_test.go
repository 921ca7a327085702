package compressed

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	adder "github.com/mrjoshuak/go-adder"
	"github.com/mrjoshuak/go-adder/raw"
)

func streamHeader(w, h uint16, channels uint8) raw.Header {
	return raw.Header{
		Width:          w,
		Height:         h,
		TicksPerSecond: 120000,
		RefInterval:    5000,
		DeltaTMax:      240000,
		Channels:       channels,
		CodecVersion:   1,
		SourceCamera:   adder.FramedU8,
	}
}

// perPixel groups events by coordinate, preserving order.
func perPixel(events []adder.Event) map[adder.Coord][]adder.EventCoordless {
	m := make(map[adder.Coord][]adder.EventCoordless)
	for _, e := range events {
		m[e.Coord] = append(m[e.Coord], e.Coordless())
	}
	return m
}

func TestStream_Roundtrip(t *testing.T) {
	tests := []struct {
		name      string
		h         raw.Header
		blockSize int
		events    int
	}{
		{"gray small blocks", streamHeader(40, 20, 1), BlockSize, 2000},
		{"color big blocks", streamHeader(33, 70, 3), BlockSizeBig, 3000},
		{"single pixel", streamHeader(1, 1, 1), BlockSize, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(3))
			events := make([]adder.Event, tt.events)
			for i := range events {
				events[i] = adder.Event{
					Coord: adder.Coord{
						X: uint16(rng.Intn(int(tt.h.Width))),
						Y: uint16(rng.Intn(int(tt.h.Height))),
						C: uint8(rng.Intn(int(tt.h.Channels))),
					},
					D:      uint8(rng.Intn(int(adder.DMax) + 1)),
					DeltaT: uint32(rng.Intn(int(tt.h.DeltaTMax) + 1)),
				}
				if i%17 == 0 {
					events[i].D = adder.DEmpty
				}
			}

			var buf bytes.Buffer
			w, err := NewWriter(&buf, tt.h, tt.blockSize)
			if err != nil {
				t.Fatal(err)
			}
			if err := w.WriteEvents(events); err != nil {
				t.Fatal(err)
			}
			if w.Count() != int64(len(events)) {
				t.Errorf("Count() = %d", w.Count())
			}
			if err := w.Close(); err != nil {
				t.Fatal(err)
			}

			r, err := NewReader(bytes.NewReader(buf.Bytes()))
			if err != nil {
				t.Fatal(err)
			}
			if r.Header() != tt.h {
				t.Errorf("Header() = %+v", r.Header())
			}
			if r.BlockSize() != tt.blockSize {
				t.Errorf("BlockSize() = %d", r.BlockSize())
			}
			got, err := r.ReadAll()
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(events) {
				t.Fatalf("read %d events, want %d", len(got), len(events))
			}
			want := perPixel(events)
			have := perPixel(got)
			for c, seq := range want {
				if len(have[c]) != len(seq) {
					t.Fatalf("pixel %+v: %d events, want %d", c, len(have[c]), len(seq))
				}
				for i := range seq {
					if have[c][i] != seq[i] {
						t.Fatalf("pixel %+v event %d = %+v, want %+v", c, i, have[c][i], seq[i])
					}
				}
			}
			if _, err := r.ReadEvent(); !errors.Is(err, ErrEndOfStream) {
				t.Errorf("after EOF: %v, want ErrEndOfStream", err)
			}
		})
	}
}

func TestStream_SplitRecords(t *testing.T) {
	h := streamHeader(2, 2, 1)
	var buf bytes.Buffer
	w, _ := NewWriter(&buf, h, BlockSize)
	n := MaxBlocksPerRecord + 10
	for i := 0; i < n; i++ {
		if err := w.WriteEvent(adder.Event{Coord: adder.Coord{X: 1, Y: 1}, D: 4, DeltaT: uint32(i % 100)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	r, err := NewReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != n {
		t.Fatalf("read %d events, want %d", len(got), n)
	}
	for i, e := range got {
		if e.DeltaT != uint32(i%100) {
			t.Fatalf("event %d delta_t = %d", i, e.DeltaT)
		}
	}
}

func TestWriter_Invalid(t *testing.T) {
	h := streamHeader(10, 10, 1)
	tests := []struct {
		name string
		ev   adder.Event
		want error
	}{
		{"outside plane", adder.Event{Coord: adder.Coord{X: 10}}, ErrOutOfCube},
		{"bad channel", adder.Event{Coord: adder.Coord{C: 1}}, ErrOutOfCube},
		{"delta_t", adder.Event{DeltaT: 240001}, ErrValueOutOfRange},
		{"D", adder.Event{D: 40}, ErrValueOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, h, BlockSize)
			if err != nil {
				t.Fatal(err)
			}
			if err := w.WriteEvent(tt.ev); !errors.Is(err, tt.want) {
				t.Errorf("WriteEvent() = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := NewWriter(&bytes.Buffer{}, h, 0); !errors.Is(err, ErrValueOutOfRange) {
		t.Errorf("zero block size: %v", err)
	}
	if _, err := NewWriter(&bytes.Buffer{}, raw.Header{}, BlockSize); !errors.Is(err, raw.ErrInvalidHeader) {
		t.Errorf("bad header: %v", err)
	}
}

func TestWriter_RecordLayout(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, streamHeader(40, 20, 3), BlockSize)
	if err != nil {
		t.Fatal(err)
	}
	// Cube 2 is the third tile of the first block row.
	e := adder.Event{Coord: adder.Coord{X: 35, Y: 3, C: 2}, D: 7, DeltaT: 1000}
	if err := w.WriteEvent(e); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	data := buf.Bytes()
	body := data[raw.HeaderSize:]
	if body[0] != BlockSize {
		t.Fatalf("block size byte = %d", body[0])
	}
	rec := body[1:]
	// varint(2) | channel 2 | varint(1) | varint(len)
	if rec[0] != 2 || rec[1] != 2 || rec[2] != 1 {
		t.Fatalf("record header = % x", rec[:4])
	}
	n := int(rec[3])
	if n == 0 || n >= 0x80 {
		t.Fatalf("payload length %d", n)
	}
	eof := rec[4+n:]
	if !bytes.Equal(eof, []byte{0x8F, 0xFF, 0xFF, 0xFF, 0x7F}) {
		t.Errorf("EOF record = % x", eof)
	}

	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != e {
		t.Errorf("ReadAll() = %+v, want [%+v]", got, e)
	}
}

func TestReader_Truncated(t *testing.T) {
	h := streamHeader(8, 8, 1)
	var buf bytes.Buffer
	w, _ := NewWriter(&buf, h, BlockSize)
	for i := 0; i < 20; i++ {
		_ = w.WriteEvent(adder.Event{Coord: adder.Coord{X: uint16(i % 8), Y: uint16(i / 8)}, D: 5, DeltaT: 1000})
	}
	_ = w.Close()
	data := buf.Bytes()

	// Drop the EOF record.
	r, err := NewReader(bytes.NewReader(data[:len(data)-5]))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadAll(); !errors.Is(err, ErrCorrupt) {
		t.Errorf("ReadAll() = %v, want ErrCorrupt", err)
	}
}

func FuzzReader(f *testing.F) {
	var buf bytes.Buffer
	w, _ := NewWriter(&buf, streamHeader(4, 4, 3), 2)
	_ = w.WriteEvent(adder.Event{Coord: adder.Coord{X: 3, Y: 1, C: 2}, D: 6, DeltaT: 10})
	_ = w.Close()
	f.Add(buf.Bytes())

	f.Fuzz(func(t *testing.T, data []byte) {
		r, err := NewReader(bytes.NewReader(data))
		if err != nil {
			return
		}
		events, _ := r.ReadAll()
		plane := r.Header().Plane()
		for _, e := range events {
			if !plane.Contains(e.Coord) {
				t.Fatalf("event outside plane: %+v", e)
			}
		}
	})
}
