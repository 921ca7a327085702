// Package sink writes reconstructed frame bytes to files, optionally
// zstd-compressed.
package sink

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Compression kinds.
const (
	None = "none"
	Zstd = "zstd"
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// Writer is a buffered frame sink. Close must be called to flush it.
type Writer struct {
	f      *os.File
	enc    *zstd.Encoder
	w      *bufio.Writer
	frames int
	bytes  int64
}

// Create opens path for writing, truncating it, and wraps it for the given
// compression. level ranges from 1 (fastest) to 4 (best compression) and
// only applies to zstd.
func Create(path, compression string, level int) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := newWriter(f, compression, level)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w.f = f
	return w, nil
}

// NewWriter wraps dst. Closing the Writer does not close dst.
func NewWriter(dst io.Writer, compression string, level int) (*Writer, error) {
	return newWriter(dst, compression, level)
}

func newWriter(dst io.Writer, compression string, level int) (*Writer, error) {
	switch compression {
	case None, "":
		return &Writer{w: bufio.NewWriterSize(dst, 128*1024)}, nil
	case Zstd:
		if level < int(zstd.SpeedFastest) || level > int(zstd.SpeedBestCompression) {
			return nil, fmt.Errorf("sink: zstd level %d out of range", level)
		}
		enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
		if err != nil {
			return nil, err
		}
		return &Writer{enc: enc, w: bufio.NewWriterSize(enc, 128*1024)}, nil
	}
	return nil, fmt.Errorf("sink: unknown compression %q", compression)
}

// Write writes p uncompressed bytes.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.bytes += int64(n)
	return n, err
}

// WriteFrame writes one frame and counts it.
func (w *Writer) WriteFrame(p []byte) error {
	if _, err := w.Write(p); err != nil {
		return err
	}
	w.frames++
	return nil
}

// Frames returns the number of frames written with WriteFrame.
func (w *Writer) Frames() int {
	return w.frames
}

// Bytes returns the number of uncompressed bytes written.
func (w *Writer) Bytes() int64 {
	return w.bytes
}

// Close flushes all buffered data and closes the file, if the Writer owns
// one.
func (w *Writer) Close() error {
	err := w.w.Flush()
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	return err
}

// NewReader returns a reader of the uncompressed bytes of r, detecting zstd
// input by its frame magic.
func NewReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF {
		return nil, err
	}
	if !bytes.Equal(head, zstdMagic) {
		return io.NopCloser(br), nil
	}
	dec, err := zstd.NewReader(br)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}
