// Package adder provides the core data model for ADΔER event streams.
//
// ADΔER (Address, Decimation, Δt Event Representation) describes video as a
// sparse stream of per-pixel events. Each event states that a pixel
// accumulated 2^D units of light over DeltaT ticks since its previous event.
// Framed video and neuromorphic (DVS/DAVIS) cameras are both transcoded into
// this representation.
//
// The subpackages build on this model:
//
//   - pixeltree converts continuous intensity samples into events
//   - raw is the fixed-width uncompressed stream codec
//   - compressed groups events into spatial blocks and entropy-codes them
//   - framer reconstructs dense frames from an event stream
//
// Basic usage for reconstructing frames from a raw stream:
//
//	f, _ := os.Open("video.adder")
//	dec, err := raw.NewDecoder(f)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	seq, _ := framer.Build[uint8](framer.NewBuilder(dec.Header().Plane(), 64))
//	for {
//	    ev, err := dec.DecodeEvent()
//	    if err != nil {
//	        break
//	    }
//	    if seq.IngestEvent(ev) {
//	        seq.WriteMultiFrameBytes(out)
//	    }
//	}
package adder

import (
	"errors"
	"fmt"
)

// D is a decimation value: a pixel fires once it has integrated 2^D units of
// light.
type D = uint8

// DeltaT is the number of ticks elapsed since a pixel last fired an event.
type DeltaT = uint32

// BigT is a large tick count, used for running timestamps.
type BigT = uint64

// Intensity is a measure of light intensity.
type Intensity = float64

// PixelAddress is a pixel x- or y-coordinate.
type PixelAddress = uint16

const (
	// DMax is the largest decimation value an event may carry.
	DMax D = 20

	// DStart is the decimation value every pixel begins a transcode with.
	DStart D = 7

	// DZeroIntegration marks an event for a pixel that integrated no light
	// over its DeltaT.
	DZeroIntegration D = 0xFE

	// DEmpty marks an empty event: the pixel repeats its previous intensity
	// and only time advances.
	DEmpty D = 0xFF

	// MaxIntensity is the largest input intensity for 8-bit framed sources.
	MaxIntensity float32 = 255.0

	// EOFPixelAddress is the coordinate used by end-of-stream records.
	EOFPixelAddress PixelAddress = 0xFFFF
)

// DShift holds the intensity to integrate before firing, indexed by D.
var DShift [DMax + 1]uint32

func init() {
	for d := range DShift {
		DShift[d] = 1 << d
	}
}

// Coord is a pixel address. C selects the channel of a color plane and is
// always 0 for single-channel planes.
type Coord struct {
	X PixelAddress
	Y PixelAddress
	C uint8
}

// Channel returns the channel index of the coordinate.
func (c Coord) Channel() int {
	return int(c.C)
}

// IsEOF reports whether the coordinate is an end-of-stream marker.
func (c Coord) IsEOF() bool {
	return c.X == EOFPixelAddress && c.Y == EOFPixelAddress
}

// Event is a single ADΔER event.
type Event struct {
	Coord  Coord
	D      D
	DeltaT DeltaT
}

// Coordless drops the coordinate from the event.
func (e Event) Coordless() EventCoordless {
	return EventCoordless{D: e.D, DeltaT: e.DeltaT}
}

// IsEmpty reports whether e is an empty (repeat) event.
func (e Event) IsEmpty() bool {
	return e.D == DEmpty
}

// EventCoordless is an event whose position is implied by where it is stored.
type EventCoordless struct {
	D      D
	DeltaT DeltaT
}

// WithCoord attaches a coordinate to the event.
func (e EventCoordless) WithCoord(c Coord) Event {
	return Event{Coord: c, D: e.D, DeltaT: e.DeltaT}
}

// Intensity returns the light intensity per tick the event represents.
// Events with no usable D (empty or zero-integration) and events with a zero
// DeltaT map to zero.
func (e EventCoordless) Intensity() Intensity {
	if int(e.D) >= len(DShift) || e.DeltaT == 0 {
		return 0
	}
	return Intensity(DShift[e.D]) / Intensity(e.DeltaT)
}

// EventToIntensity returns the light intensity per tick for e.
func EventToIntensity(e Event) Intensity {
	return e.Coordless().Intensity()
}

// ErrInvalidPlane is returned for plane geometry that cannot describe a source.
var ErrInvalidPlane = errors.New("adder: invalid plane size")

// PlaneSize describes the geometry of a source.
type PlaneSize struct {
	Width    uint16
	Height   uint16
	Channels uint8
}

// NewPlaneSize validates and returns a plane geometry. Channels must be 1
// (gray) or 3 (color).
func NewPlaneSize(width, height uint16, channels uint8) (PlaneSize, error) {
	p := PlaneSize{Width: width, Height: height, Channels: channels}
	if err := p.Validate(); err != nil {
		return PlaneSize{}, err
	}
	return p, nil
}

// Validate checks the plane for consistency.
func (p PlaneSize) Validate() error {
	if p.Width == 0 || p.Height == 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidPlane, p.Width, p.Height)
	}
	if p.Channels != 1 && p.Channels != 3 {
		return fmt.Errorf("%w: %d channels", ErrInvalidPlane, p.Channels)
	}
	return nil
}

// Area returns the number of pixels in a single channel.
func (p PlaneSize) Area() int {
	return int(p.Width) * int(p.Height)
}

// Volume returns the number of samples across all channels.
func (p PlaneSize) Volume() int {
	return p.Area() * int(p.Channels)
}

// Contains reports whether c addresses a sample inside the plane.
func (p PlaneSize) Contains(c Coord) bool {
	return c.X < p.Width && c.Y < p.Height && c.C < p.Channels
}

// SourceCamera identifies the kind of source an event stream was transcoded from.
type SourceCamera uint8

const (
	// FramedU8 is framed video with 8-bit unsigned pixels.
	FramedU8 SourceCamera = iota
	// FramedU16 is framed video with 16-bit unsigned pixels.
	FramedU16
	// FramedU32 is framed video with 32-bit unsigned pixels.
	FramedU32
	// FramedU64 is framed video with 64-bit unsigned pixels.
	FramedU64
	// FramedF32 is framed video with 32-bit floating point pixels.
	FramedF32
	// FramedF64 is framed video with 64-bit floating point pixels.
	FramedF64
	// Dvs is a Dynamic Vision System camera.
	Dvs
	// DavisU8 is a DAVIS camera with 8-bit active frames.
	DavisU8
	// Atis is an Asynchronous Time-Based Image Sensor.
	Atis
	// Asint is an asynchronous integration camera.
	Asint
)

// String returns a human readable description of the camera.
func (s SourceCamera) String() string {
	switch s {
	case FramedU8:
		return "FramedU8 - Framed video with 8-bit pixel depth, unsigned integer"
	case FramedU16:
		return "FramedU16 - Framed video with 16-bit pixel depth, unsigned integer"
	case FramedU32:
		return "FramedU32 - Framed video with 32-bit pixel depth, unsigned integer"
	case FramedU64:
		return "FramedU64 - Framed video with 64-bit pixel depth, unsigned integer"
	case FramedF32:
		return "FramedF32 - Framed video with 32-bit pixel depth, floating point"
	case FramedF64:
		return "FramedF64 - Framed video with 64-bit pixel depth, floating point"
	case Dvs:
		return "Dvs - Dynamic Vision System camera"
	case DavisU8:
		return "DavisU8 - Dynamic and Active Vision System camera. Active frames with 8-bit pixel depth, unsigned integer"
	case Atis:
		return "Atis - Asynchronous Time-Based Image Sensor camera"
	case Asint:
		return "Asint - Asynchronous Integration camera"
	default:
		return "Unknown"
	}
}

// IsFramed reports whether the camera produces frame-quantized intensities.
func (s SourceCamera) IsFramed() bool {
	return s <= FramedF64
}

// Valid reports whether s is a known camera.
func (s SourceCamera) Valid() bool {
	return s <= Asint
}
