// Package report summarises an event stream: its header, size, event count
// and, optionally, the dynamic range its events cover.
package report

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/fxamacker/cbor/v2"

	adder "github.com/mrjoshuak/go-adder"
	"github.com/mrjoshuak/go-adder/compressed"
	"github.com/mrjoshuak/go-adder/raw"
)

// Output formats accepted by Info.Encode.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// Info describes a stream.
type Info struct {
	Format         string  `json:"format"`
	Width          uint16  `json:"width"`
	Height         uint16  `json:"height"`
	Channels       uint8   `json:"channels"`
	SourceCamera   string  `json:"source_camera"`
	CodecVersion   uint8   `json:"codec_version"`
	TicksPerSecond uint32  `json:"tps"`
	RefInterval    uint32  `json:"ref_interval"`
	DeltaTMax      uint32  `json:"delta_t_max"`
	FileSize       int64   `json:"file_size,omitempty"`
	HeaderSize     int     `json:"header_size"`
	EventCount     int64   `json:"event_count"`
	EventsPerPixel float64 `json:"events_per_pixel"`

	DynamicRange *DynamicRange `json:"dynamic_range,omitempty"`
}

// DynamicRange compares the intensity range the stream parameters allow with
// the range its events actually span. Ratios are given in decibels (power)
// and bits.
type DynamicRange struct {
	TheoreticalDB   float64 `json:"theoretical_db"`
	TheoreticalBits float64 `json:"theoretical_bits"`
	RealizedDB      float64 `json:"realized_db"`
	RealizedBits    float64 `json:"realized_bits"`
	MinIntensity    float64 `json:"min_intensity"`
	MaxIntensity    float64 `json:"max_intensity"`
}

// Scan reports on a raw stream. The event count comes from the stream
// length; with dynamicRange set every event is also read. The read position
// of dec is restored before returning.
func Scan(dec *raw.Decoder, dynamicRange bool) (Info, error) {
	info := newInfo("raw", dec.Header(), dec.HeaderSize())
	count, err := dec.EventCount()
	if err != nil {
		return info, err
	}
	info.setCount(count)
	if !dynamicRange {
		return info, nil
	}

	pos := dec.InputStreamPosition()
	var r rangeTracker
	for {
		e, err := dec.DecodeEvent()
		if errors.Is(err, raw.ErrEndOfStream) {
			break
		}
		if err != nil {
			return info, err
		}
		r.add(e)
	}
	if err := dec.SetInputStreamPosition(pos); err != nil {
		return info, err
	}
	info.DynamicRange = r.result(dec.Header().DeltaTMax)
	return info, nil
}

// ScanCompressed reports on a compressed stream. The stream has no fixed
// record size, so every event is read.
func ScanCompressed(rd *compressed.Reader, dynamicRange bool) (Info, error) {
	info := newInfo("compressed", rd.Header(), raw.HeaderSize+1)
	var (
		r     rangeTracker
		count int64
	)
	for {
		e, err := rd.ReadEvent()
		if errors.Is(err, compressed.ErrEndOfStream) {
			break
		}
		if err != nil {
			return info, err
		}
		count++
		r.add(e)
	}
	info.setCount(count)
	if dynamicRange {
		info.DynamicRange = r.result(rd.Header().DeltaTMax)
	}
	return info, nil
}

func newInfo(format string, h raw.Header, headerSize int) Info {
	return Info{
		Format:         format,
		Width:          h.Width,
		Height:         h.Height,
		Channels:       h.Channels,
		SourceCamera:   h.SourceCamera.String(),
		CodecVersion:   h.CodecVersion,
		TicksPerSecond: h.TicksPerSecond,
		RefInterval:    h.RefInterval,
		DeltaTMax:      h.DeltaTMax,
		HeaderSize:     headerSize,
	}
}

func (i *Info) setCount(n int64) {
	i.EventCount = n
	if px := int64(i.Width) * int64(i.Height); px > 0 {
		i.EventsPerPixel = float64(n) / float64(px)
	}
}

// rangeTracker follows the smallest and largest event intensities.
type rangeTracker struct {
	min, max float64
	seen     bool
}

func (r *rangeTracker) add(e adder.Event) {
	var v float64
	switch e.D {
	case adder.DEmpty:
		return
	case adder.DZeroIntegration:
		// Less than one unit of light over delta_t.
		if e.DeltaT == 0 {
			return
		}
		v = 1 / float64(e.DeltaT)
	default:
		v = adder.EventToIntensity(e)
		if v == 0 {
			return
		}
	}
	if !r.seen {
		r.min, r.max, r.seen = v, v, true
		return
	}
	r.min = math.Min(r.min, v)
	r.max = math.Max(r.max, v)
}

func (r *rangeTracker) result(deltaTMax uint32) *DynamicRange {
	// Brightest: 2^DMax units in one tick. Darkest: one unit in delta_t_max.
	theory := float64(adder.DShift[adder.DMax]) * float64(deltaTMax)
	dr := &DynamicRange{
		TheoreticalDB:   10 * math.Log10(theory),
		TheoreticalBits: math.Log2(theory),
	}
	if r.seen {
		ratio := r.max / r.min
		dr.MinIntensity = r.min
		dr.MaxIntensity = r.max
		dr.RealizedDB = 10 * math.Log10(ratio)
		dr.RealizedBits = math.Log2(ratio)
	}
	return dr
}

// Encode writes the report to w in format.
func (i Info) Encode(w io.Writer, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(i)
	case FormatCBOR:
		b, err := cbor.Marshal(i)
		if err != nil {
			return fmt.Errorf("report: cbor: %w", err)
		}
		_, err = w.Write(b)
		return err
	case FormatText, "":
		return i.writeText(w)
	}
	return fmt.Errorf("report: unknown format %q", format)
}

// Decode parses a report written by Encode in the JSON or CBOR format.
func Decode(data []byte, format string) (Info, error) {
	var i Info
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &i)
	case FormatCBOR:
		err = cbor.Unmarshal(data, &i)
	default:
		err = fmt.Errorf("report: cannot decode format %q", format)
	}
	return i, err
}

func (i Info) writeText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "Dimensions")
	fmt.Fprintf(bw, "\tWidth: %d\n", i.Width)
	fmt.Fprintf(bw, "\tHeight: %d\n", i.Height)
	fmt.Fprintf(bw, "\tColor channels: %d\n", i.Channels)
	fmt.Fprintf(bw, "Source camera: %s\n", i.SourceCamera)
	fmt.Fprintln(bw, "ADΔER transcoder parameters")
	fmt.Fprintf(bw, "\tCodec version: %d\n", i.CodecVersion)
	fmt.Fprintf(bw, "\tTicks per second: %d\n", i.TicksPerSecond)
	fmt.Fprintf(bw, "\tReference ticks per source interval: %d\n", i.RefInterval)
	fmt.Fprintf(bw, "\tΔt_max: %d\n", i.DeltaTMax)
	fmt.Fprintln(bw, "File metadata")
	fmt.Fprintf(bw, "\tStream format: %s\n", i.Format)
	if i.FileSize > 0 {
		fmt.Fprintf(bw, "\tFile size: %d\n", i.FileSize)
	}
	fmt.Fprintf(bw, "\tHeader size: %d\n", i.HeaderSize)
	fmt.Fprintf(bw, "\tADΔER event count: %d\n", i.EventCount)
	fmt.Fprintf(bw, "\tEvents per pixel: %.2f\n", i.EventsPerPixel)
	if dr := i.DynamicRange; dr != nil {
		fmt.Fprintln(bw, "Dynamic range")
		fmt.Fprintln(bw, "\tTheoretical range:")
		fmt.Fprintf(bw, "\t\t%d dB (power)\n", int(dr.TheoreticalDB))
		fmt.Fprintf(bw, "\t\t%d bits\n", int(dr.TheoreticalBits))
		fmt.Fprintln(bw, "\tRealized range:")
		fmt.Fprintf(bw, "\t\t%d dB (power)\n", int(dr.RealizedDB))
		fmt.Fprintf(bw, "\t\t%d bits\n", int(dr.RealizedBits))
	}
	return bw.Flush()
}
