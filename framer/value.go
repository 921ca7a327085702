package framer

import (
	"math"
	"reflect"

	adder "github.com/mrjoshuak/go-adder"
)

// Value is the element type of a reconstructed frame.
type Value interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// maxUint64Float is the largest float64 below 2^64.
var maxUint64Float = math.Nextafter(1<<64, 0)

// frameMax returns the largest frame value for a source type. Floating point
// frames are normalised to [0, 1].
func frameMax(s SourceType) float64 {
	switch s {
	case U16:
		return math.MaxUint16
	case U32:
		return math.MaxUint32
	case U64:
		return maxUint64Float
	case F32, F64:
		return 1
	}
	return math.MaxUint8
}

// valueMapper converts events to frame values.
type valueMapper struct {
	view          ViewMode
	refInterval   float64
	deltaTMax     float64
	max           float64
	practicalDMax float64
}

// newValueMapper builds the mapper for b. limit is the largest value of the
// frame element type.
func newValueMapper(b *Builder, limit float64) valueMapper {
	m := valueMapper{
		view:        b.viewMode,
		refInterval: float64(b.refInterval),
		deltaTMax:   float64(b.deltaTMax),
		max:         frameMax(b.source),
	}
	// The largest D a pixel can reach within delta_t_max at full intensity.
	top := m.max
	if top < math.MaxUint8 {
		top = math.MaxUint8
	}
	intervals := float64(max(b.deltaTMax/b.refInterval, 1))
	m.practicalDMax = math.Log2(top * intervals)
	if limit < m.max {
		m.max = limit
	}
	return m
}

// intensity maps a per-tick intensity to a frame value.
func (m valueMapper) intensity(perTick float64) float64 {
	// Intensity over one source frame, relative to an 8-bit source.
	return m.clamp(perTick * m.refInterval / float64(adder.MaxIntensity) * m.max)
}

// event maps a single event according to the view mode.
func (m valueMapper) event(e adder.Event) float64 {
	switch m.view {
	case ViewD:
		d := float64(e.D)
		if e.D > adder.DMax {
			d = 0
		}
		return m.clamp(d / m.practicalDMax * m.max)
	case ViewDeltaT:
		if m.deltaTMax == 0 {
			return 0
		}
		return m.clamp(float64(e.DeltaT) / m.deltaTMax * m.max)
	}
	return m.intensity(adder.EventToIntensity(e))
}

func (m valueMapper) clamp(v float64) float64 {
	if !(v > 0) {
		return 0
	}
	if v > m.max {
		return m.max
	}
	if m.max > 1 {
		return math.Round(v)
	}
	return v
}

// typeLimit returns the largest value of T as a float64 that converts back
// to T without overflow.
func typeLimit[T Value]() float64 {
	var zero T
	switch reflect.TypeOf(zero).Kind() {
	case reflect.Uint8:
		return math.MaxUint8
	case reflect.Uint16:
		return math.MaxUint16
	case reflect.Uint32:
		return math.MaxUint32
	case reflect.Uint64:
		return maxUint64Float
	case reflect.Float32:
		return math.MaxFloat32
	}
	return math.MaxFloat64
}
