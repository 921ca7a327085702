// Package framer reconstructs dense frames from an ADΔER event stream.
//
// A FrameSequence divides the plane into horizontal chunks of rows. Each
// chunk keeps its own queue of pending frames and per-pixel trackers, so
// chunks can ingest events independently and in parallel. Frames are written
// out once every pixel of every chunk has been set.
package framer

import (
	"errors"
	"fmt"
	"runtime"

	adder "github.com/mrjoshuak/go-adder"
)

// Errors returned by the frame sequence.
var (
	ErrInvalidIndex            = errors.New("framer: invalid frame index")
	ErrUninitializedFrame      = errors.New("framer: uninitialized frame")
	ErrUninitializedFrameChunk = errors.New("framer: uninitialized frame chunk")
	ErrBadFillCount            = errors.New("framer: bad fill count")
	ErrChunkMismatch           = errors.New("framer: event groups do not match chunks")
	ErrInvalidBuilder          = errors.New("framer: invalid builder")
)

// Mode selects how events become frame values.
type Mode int

const (
	// Instantaneous sets each frame pixel to the value of the event that
	// covers the start of the frame.
	Instantaneous Mode = iota
	// Integration sets each frame pixel to the light collected over the
	// whole frame.
	Integration
)

func (m Mode) String() string {
	switch m {
	case Instantaneous:
		return "instantaneous"
	case Integration:
		return "integration"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ViewMode selects which event property a frame shows.
type ViewMode int

const (
	// ViewIntensity shows the light intensity of each event.
	ViewIntensity ViewMode = iota
	// ViewD shows the decimation of each event.
	ViewD
	// ViewDeltaT shows the delta_t of each event.
	ViewDeltaT
)

func (v ViewMode) String() string {
	switch v {
	case ViewIntensity:
		return "intensity"
	case ViewD:
		return "d"
	case ViewDeltaT:
		return "delta_t"
	}
	return fmt.Sprintf("ViewMode(%d)", int(v))
}

// SourceType is the sample type of the framed source the events came from.
// It sets the value range of reconstructed frames.
type SourceType int

const (
	U8 SourceType = iota
	U16
	U32
	U64
	F32
	F64
)

func (s SourceType) String() string {
	switch s {
	case U8:
		return "u8"
	case U16:
		return "u16"
	case U32:
		return "u32"
	case U64:
		return "u64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	}
	return fmt.Sprintf("SourceType(%d)", int(s))
}

// Builder configures a FrameSequence.
type Builder struct {
	plane        adder.PlaneSize
	chunkRows    int
	tps          adder.DeltaT
	outputFPS    float64
	mode         Mode
	viewMode     ViewMode
	source       SourceType
	sourceCamera adder.SourceCamera
	codecVersion uint8
	refInterval  adder.DeltaT
	deltaTMax    adder.DeltaT
	workers      int
}

// NewBuilder returns a builder for plane split into chunks of chunkRows
// rows, with 150000 ticks per second at 30 frames per second, a reference
// interval and delta_t_max of 5000, instantaneous intensity frames from an
// 8-bit framed source, and one worker per CPU.
func NewBuilder(plane adder.PlaneSize, chunkRows int) *Builder {
	return &Builder{
		plane:        plane,
		chunkRows:    chunkRows,
		tps:          150000,
		outputFPS:    30,
		mode:         Instantaneous,
		viewMode:     ViewIntensity,
		source:       U8,
		sourceCamera: adder.FramedU8,
		codecVersion: 1,
		refInterval:  5000,
		deltaTMax:    5000,
		workers:      runtime.GOMAXPROCS(0),
	}
}

// TimeParameters sets the tick rate, reference interval, delta_t_max and
// output frame rate.
func (b *Builder) TimeParameters(tps, refInterval, deltaTMax adder.DeltaT, outputFPS float64) *Builder {
	b.tps = tps
	b.refInterval = refInterval
	b.deltaTMax = deltaTMax
	b.outputFPS = outputFPS
	return b
}

// Mode sets the framing mode.
func (b *Builder) Mode(m Mode) *Builder {
	b.mode = m
	return b
}

// ViewMode sets the frame view.
func (b *Builder) ViewMode(v ViewMode) *Builder {
	b.viewMode = v
	return b
}

// Source sets the source sample type and camera.
func (b *Builder) Source(s SourceType, camera adder.SourceCamera) *Builder {
	b.source = s
	b.sourceCamera = camera
	return b
}

// CodecVersion sets the codec version of the stream.
func (b *Builder) CodecVersion(v uint8) *Builder {
	b.codecVersion = v
	return b
}

// Workers sets the number of goroutines used by IngestEventsEvents.
func (b *Builder) Workers(n int) *Builder {
	b.workers = n
	return b
}

// TicksPerFrame returns the number of ticks in one output frame.
func (b *Builder) TicksPerFrame() adder.DeltaT {
	if !(b.outputFPS >= 1) || b.outputFPS > float64(b.tps) {
		return 0
	}
	return b.tps / adder.DeltaT(b.outputFPS)
}

func (b *Builder) validate() error {
	if err := b.plane.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBuilder, err)
	}
	if b.chunkRows <= 0 {
		return fmt.Errorf("%w: chunk rows %d", ErrInvalidBuilder, b.chunkRows)
	}
	if !(b.outputFPS > 0) {
		return fmt.Errorf("%w: output fps %v", ErrInvalidBuilder, b.outputFPS)
	}
	if b.TicksPerFrame() == 0 {
		return fmt.Errorf("%w: zero ticks per frame (%d tps at %v fps)", ErrInvalidBuilder, b.tps, b.outputFPS)
	}
	if b.refInterval == 0 {
		return fmt.Errorf("%w: zero reference interval", ErrInvalidBuilder)
	}
	if b.source < U8 || b.source > F64 {
		return fmt.Errorf("%w: source type %d", ErrInvalidBuilder, b.source)
	}
	if b.mode != Instantaneous && b.mode != Integration {
		return fmt.Errorf("%w: mode %d", ErrInvalidBuilder, b.mode)
	}
	return nil
}
