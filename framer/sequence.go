package framer

import (
	"fmt"
	"sync"

	adder "github.com/mrjoshuak/go-adder"
)

// frame is one output frame of a chunk.
type frame[T Value] struct {
	values []T
	set    []bool
	filled int
}

func newFrame[T Value](n int) *frame[T] {
	return &frame[T]{values: make([]T, n), set: make([]bool, n)}
}

// put sets slot i unless it is already set.
func (f *frame[T]) put(i int, v T) {
	if f.set[i] {
		return
	}
	f.values[i] = v
	f.set[i] = true
	f.filled++
}

// chunk is a horizontal band of rows with its own frame queue and per-pixel
// trackers. A chunk is only ever touched by one goroutine at a time.
type chunk[T Value] struct {
	rows   int
	frames []*frame[T]
	// offset is the absolute index of the newest frame in the queue.
	offset int64
	filled bool

	ts         []adder.BigT
	lastFilled []int64
	lastValue  []T

	// Integration mode only
	acc      []float64
	lastRate []float64

	skipped  int64
	rejected int64
}

// FrameSequence reconstructs frames of T from events.
type FrameSequence[T Value] struct {
	chunks        []*chunk[T]
	chunkRows     int
	width         int
	channels      int
	framesWritten int64

	mode         Mode
	tpf          adder.DeltaT
	refInterval  adder.DeltaT
	codecVersion uint8
	camera       adder.SourceCamera
	mapper       valueMapper
	workers      int
}

// Build creates a FrameSequence from the builder.
func Build[T Value](b *Builder) (*FrameSequence[T], error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	height := int(b.plane.Height)
	width := int(b.plane.Width)
	channels := int(b.plane.Channels)
	numChunks := (height + b.chunkRows - 1) / b.chunkRows

	s := &FrameSequence[T]{
		chunks:       make([]*chunk[T], numChunks),
		chunkRows:    b.chunkRows,
		width:        width,
		channels:     channels,
		mode:         b.mode,
		tpf:          b.TicksPerFrame(),
		refInterval:  b.refInterval,
		codecVersion: b.codecVersion,
		camera:       b.sourceCamera,
		mapper:       newValueMapper(b, typeLimit[T]()),
		workers:      max(b.workers, 1),
	}
	for i := range s.chunks {
		rows := b.chunkRows
		// The last chunk takes whatever rows remain.
		if i == numChunks-1 {
			rows = height - i*b.chunkRows
		}
		n := rows * width * channels
		c := &chunk[T]{
			rows:       rows,
			frames:     []*frame[T]{newFrame[T](n)},
			ts:         make([]adder.BigT, n),
			lastFilled: make([]int64, n),
			lastValue:  make([]T, n),
		}
		for j := range c.lastFilled {
			c.lastFilled[j] = -1
		}
		if b.mode == Integration {
			c.acc = make([]float64, n)
			c.lastRate = make([]float64, n)
		}
		s.chunks[i] = c
	}
	return s, nil
}

// IngestEvent adds one event. It returns true when the oldest pending frame
// of every chunk is completely filled.
//
// Events outside the plane are dropped and counted by RejectedEvents.
func (s *FrameSequence[T]) IngestEvent(e adder.Event) bool {
	if int(e.Coord.X) >= s.width || int(e.Coord.C) >= s.channels {
		s.chunks[0].rejected++
		return s.IsFrame0Filled()
	}
	n := int(e.Coord.Y) / s.chunkRows
	if n >= len(s.chunks) {
		s.chunks[0].rejected++
		return s.IsFrame0Filled()
	}
	c := s.chunks[n]
	c.filled = s.ingest(c, e, int(e.Coord.Y)-n*s.chunkRows)
	return s.IsFrame0Filled()
}

// IngestEventsEvents ingests one group of events per chunk, processing the
// chunks concurrently. Events must belong to the chunk of their group;
// others are dropped and counted by RejectedEvents.
func (s *FrameSequence[T]) IngestEventsEvents(groups [][]adder.Event) (bool, error) {
	if len(groups) != len(s.chunks) {
		return false, fmt.Errorf("%w: %d groups for %d chunks", ErrChunkMismatch, len(groups), len(s.chunks))
	}

	work := func(n int) {
		c := s.chunks[n]
		lo := n * s.chunkRows
		for _, e := range groups[n] {
			y := int(e.Coord.Y) - lo
			if y < 0 || y >= c.rows || int(e.Coord.X) >= s.width || int(e.Coord.C) >= s.channels {
				c.rejected++
				continue
			}
			c.filled = s.ingest(c, e, y)
		}
	}

	numWorkers := min(s.workers, len(s.chunks))
	if numWorkers <= 1 {
		for n := range s.chunks {
			work(n)
		}
		return s.IsFrame0Filled(), nil
	}

	// Pre-fill job channel before starting workers
	jobs := make(chan int, len(s.chunks))
	for n := range s.chunks {
		jobs <- n
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range jobs {
				work(n)
			}
		}()
	}
	wg.Wait()

	return s.IsFrame0Filled(), nil
}

// ingest applies e to chunk c at chunk-local row y and reports whether the
// oldest frame of the chunk is filled.
func (s *FrameSequence[T]) ingest(c *chunk[T], e adder.Event, y int) bool {
	i := (y*s.width+int(e.Coord.X))*s.channels + int(e.Coord.C)
	if s.mode == Integration {
		s.integrate(c, e, i)
	} else {
		s.sample(c, e, i)
	}
	front := c.frames[0]
	return front.filled == len(front.set)
}

// sample implements instantaneous mode: every frame the pixel's timestamp
// moves past takes the value the pixel held when the frame started.
func (s *FrameSequence[T]) sample(c *chunk[T], e adder.Event, i int) {
	prev := c.lastFilled[i]
	c.ts[i] += adder.BigT(e.DeltaT)

	var cur int64
	if c.ts[i] > 0 {
		cur = int64((c.ts[i] - 1) / adder.BigT(s.tpf))
	}
	if cur > prev {
		// Empty events repeat the previous value.
		if e.D != adder.DEmpty {
			c.lastValue[i] = T(s.mapper.event(e))
		}
		c.lastFilled[i] = cur
		s.grow(c, cur)
		for f := prev; f < cur; f++ {
			s.put(c, f+1, i, c.lastValue[i])
		}
	}
	s.halveRate(c, i)
}

// integrate implements integration mode: the light of each event is spread
// over the frames it overlaps, and a frame slot is written once the pixel's
// timestamp passes the end of the frame.
func (s *FrameSequence[T]) integrate(c *chunk[T], e adder.Event, i int) {
	switch e.D {
	case adder.DEmpty:
	case adder.DZeroIntegration:
		c.lastRate[i] = 0
	default:
		c.lastRate[i] = adder.EventToIntensity(e)
	}
	rate := c.lastRate[i]

	start := c.ts[i]
	c.ts[i] += adder.BigT(e.DeltaT)
	s.halveRate(c, i)
	end := c.ts[i]

	tpf := adder.BigT(s.tpf)
	for start < end {
		f := int64(start / tpf)
		frameEnd := adder.BigT(f+1) * tpf
		stop := min(end, frameEnd)
		c.acc[i] += rate * float64(stop-start)
		start = stop
		if stop == frameEnd {
			v := T(s.mapper.intensity(c.acc[i] / float64(tpf)))
			c.acc[i] = 0
			c.lastFilled[i] = f
			s.grow(c, f)
			s.put(c, f, i, v)
		}
	}
}

// halveRate rounds the timestamp of a framed source up to the next
// reference interval. Framed intensities are already quantised to source
// frames, so the skipped ticks carry no information.
func (s *FrameSequence[T]) halveRate(c *chunk[T], i int) {
	if s.codecVersion == 0 || !s.camera.IsFramed() {
		return
	}
	ref := adder.BigT(s.refInterval)
	if c.ts[i]%ref > 0 {
		c.ts[i] = (c.ts[i]/ref + 1) * ref
	}
}

// grow appends empty frames so that absolute frame f is queued.
func (s *FrameSequence[T]) grow(c *chunk[T], f int64) {
	for ; c.offset < f; c.offset++ {
		c.frames = append(c.frames, newFrame[T](len(c.frames[0].set)))
	}
}

// put writes v into slot i of absolute frame f. Frames that were already
// popped are skipped.
func (s *FrameSequence[T]) put(c *chunk[T], f int64, i int, v T) {
	idx := f - s.framesWritten
	if idx < 0 || idx >= int64(len(c.frames)) {
		c.skipped++
		return
	}
	c.frames[idx].put(i, v)
}
