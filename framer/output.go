package framer

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
)

// FrameChunk is the popped frame of one chunk. Values of pixels that were
// never set are zero.
type FrameChunk[T Value] struct {
	Rows     int
	Width    int
	Channels int
	Values   []T
	Set      []bool
}

// At returns the value at chunk-local row y.
func (f FrameChunk[T]) At(y, x, c int) (T, bool) {
	i := (y*f.Width+x)*f.Channels + c
	return f.Values[i], f.Set[i]
}

// FramesLen returns the number of frames queued in every chunk.
func (s *FrameSequence[T]) FramesLen() int {
	n := -1
	for _, c := range s.chunks {
		if n < 0 || len(c.frames) < n {
			n = len(c.frames)
		}
	}
	return max(n, 0)
}

// ChunksNum returns the number of chunks.
func (s *FrameSequence[T]) ChunksNum() int {
	return len(s.chunks)
}

// TicksPerFrame returns the number of ticks in one output frame.
func (s *FrameSequence[T]) TicksPerFrame() uint32 {
	return s.tpf
}

// FramesWritten returns the number of whole frames popped or written.
func (s *FrameSequence[T]) FramesWritten() int64 {
	return s.framesWritten
}

// SkippedWrites returns how many pixel values were dropped because their
// frame had already been popped. This happens when frames are popped before
// they are full, or when pixels arrive far out of step with each other.
func (s *FrameSequence[T]) SkippedWrites() int64 {
	var n int64
	for _, c := range s.chunks {
		n += c.skipped
	}
	return n
}

// RejectedEvents returns how many events were dropped for lying outside the
// plane or outside the chunk of their group.
func (s *FrameSequence[T]) RejectedEvents() int64 {
	var n int64
	for _, c := range s.chunks {
		n += c.rejected
	}
	return n
}

func (s *FrameSequence[T]) locate(y, x, c int) (*chunk[T], int, error) {
	if y < 0 || x < 0 || c < 0 || x >= s.width || c >= s.channels {
		return nil, 0, fmt.Errorf("%w: pixel (%d, %d, %d)", ErrInvalidIndex, x, y, c)
	}
	n := y / s.chunkRows
	if n >= len(s.chunks) {
		return nil, 0, fmt.Errorf("%w: row %d", ErrInvalidIndex, y)
	}
	local := y - n*s.chunkRows
	return s.chunks[n], (local*s.width+x)*s.channels + c, nil
}

// PxAtCurrent returns the value of a pixel in the oldest pending frame and
// whether it has been set.
func (s *FrameSequence[T]) PxAtCurrent(y, x, c int) (T, bool, error) {
	return s.PxAtFrame(y, x, c, 0)
}

// PxAtFrame returns the value of a pixel in the pending frame at idx and
// whether it has been set.
func (s *FrameSequence[T]) PxAtFrame(y, x, c, idx int) (T, bool, error) {
	var zero T
	if len(s.chunks) == 0 {
		return zero, false, ErrUninitializedFrame
	}
	ch, i, err := s.locate(y, x, c)
	if err != nil {
		return zero, false, err
	}
	if len(ch.frames) == 0 {
		return zero, false, ErrUninitializedFrame
	}
	if idx < 0 || idx >= len(ch.frames) {
		return zero, false, fmt.Errorf("%w: frame %d of %d", ErrInvalidIndex, idx, len(ch.frames))
	}
	f := ch.frames[idx]
	return f.values[i], f.set[i], nil
}

// IsFrameFilled reports whether the pending frame at idx is filled in every
// chunk.
func (s *FrameSequence[T]) IsFrameFilled(idx int) (bool, error) {
	for n, c := range s.chunks {
		if idx < 0 || idx >= len(c.frames) {
			return false, fmt.Errorf("%w: frame %d of %d in chunk %d", ErrInvalidIndex, idx, len(c.frames), n)
		}
		f := c.frames[idx]
		switch {
		case f.filled == len(f.set):
		case f.filled > len(f.set):
			return false, fmt.Errorf("%w: %d of %d in chunk %d", ErrBadFillCount, f.filled, len(f.set), n)
		default:
			return false, nil
		}
	}
	return true, nil
}

// IsFrame0Filled reports whether the oldest frame of every chunk is filled,
// as of the last event each chunk ingested.
func (s *FrameSequence[T]) IsFrame0Filled() bool {
	for _, c := range s.chunks {
		if !c.filled {
			return false
		}
	}
	return true
}

// PopNextFrameForChunk removes and returns the oldest frame of chunk n. The
// queue is replenished with an empty frame if it would become empty.
func (s *FrameSequence[T]) PopNextFrameForChunk(n int) (FrameChunk[T], error) {
	if n < 0 || n >= len(s.chunks) || len(s.chunks[n].frames) == 0 {
		return FrameChunk[T]{}, fmt.Errorf("%w: chunk %d", ErrUninitializedFrameChunk, n)
	}
	c := s.chunks[n]
	f := c.frames[0]
	c.frames[0] = nil
	c.frames = c.frames[1:]
	if len(c.frames) == 0 {
		c.frames = append(c.frames, newFrame[T](len(f.set)))
		c.offset++
	}
	front := c.frames[0]
	c.filled = front.filled == len(front.set)
	return FrameChunk[T]{
		Rows:     c.rows,
		Width:    s.width,
		Channels: s.channels,
		Values:   f.values,
		Set:      f.set,
	}, nil
}

// PopNextFrame removes the oldest frame of every chunk.
func (s *FrameSequence[T]) PopNextFrame() []FrameChunk[T] {
	out := make([]FrameChunk[T], 0, len(s.chunks))
	for n := range s.chunks {
		f, err := s.PopNextFrameForChunk(n)
		if err != nil {
			log.Printf("framer: couldn't pop chunk %d: %v", n, err)
			continue
		}
		out = append(out, f)
	}
	s.framesWritten++
	return out
}

// WriteFrameBytes pops the oldest frame and writes it to w as big-endian
// values in row, column, channel order. Unset pixels are written as zero.
func (s *FrameSequence[T]) WriteFrameBytes(w io.Writer) error {
	for n := range s.chunks {
		f, err := s.PopNextFrameForChunk(n)
		if err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, f.Values); err != nil {
			return fmt.Errorf("failed to write frame %d chunk %d: %w", s.framesWritten, n, err)
		}
	}
	s.framesWritten++
	return nil
}

// WriteMultiFrameBytes writes frames for as long as the oldest frame is
// filled and returns how many were written.
func (s *FrameSequence[T]) WriteMultiFrameBytes(w io.Writer) (int, error) {
	count := 0
	for {
		filled, err := s.IsFrameFilled(0)
		if err != nil {
			return count, err
		}
		if !filled {
			return count, nil
		}
		if err := s.WriteFrameBytes(w); err != nil {
			return count, err
		}
		count++
	}
}

// FrameBytes returns the size in bytes of one frame written by
// WriteFrameBytes.
func (s *FrameSequence[T]) FrameBytes() int {
	var zero T
	return binary.Size(zero) * s.width * s.channels * s.rows()
}

func (s *FrameSequence[T]) rows() int {
	n := 0
	for _, c := range s.chunks {
		n += c.rows
	}
	return n
}
