// Package source opens raw or compressed event streams behind one reader.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"

	adder "github.com/mrjoshuak/go-adder"
	"github.com/mrjoshuak/go-adder/compressed"
	"github.com/mrjoshuak/go-adder/raw"
)

// Format names a stream container.
type Format string

const (
	Raw        Format = "raw"
	Compressed Format = "compressed"
)

// Stream reads events from a file in either container.
type Stream struct {
	f      *os.File
	format Format
	raw    *raw.Decoder
	comp   *compressed.Reader
}

// Open detects the container of the file at path by its magic.
func Open(path string) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := newStream(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.f = f
	return s, nil
}

func newStream(r io.ReadSeeker) (*Stream, error) {
	magic := make([]byte, len(raw.Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	switch string(magic) {
	case raw.Magic:
		dec, err := raw.NewDecoder(r)
		if err != nil {
			return nil, err
		}
		return &Stream{format: Raw, raw: dec}, nil
	case compressed.Magic:
		rd, err := compressed.NewReader(r)
		if err != nil {
			return nil, err
		}
		return &Stream{format: Compressed, comp: rd}, nil
	}
	return nil, fmt.Errorf("%w: %q", raw.ErrBadMagic, magic)
}

// Format returns the container of the stream.
func (s *Stream) Format() Format {
	return s.format
}

// Header returns the stream header.
func (s *Stream) Header() raw.Header {
	if s.raw != nil {
		return s.raw.Header()
	}
	return s.comp.Header()
}

// Raw returns the raw decoder, or nil for a compressed stream.
func (s *Stream) Raw() *raw.Decoder {
	return s.raw
}

// Compressed returns the compressed reader, or nil for a raw stream.
func (s *Stream) Compressed() *compressed.Reader {
	return s.comp
}

// Next returns the next event, or io.EOF at the end of the stream.
func (s *Stream) Next() (adder.Event, error) {
	var (
		e   adder.Event
		err error
	)
	if s.raw != nil {
		e, err = s.raw.DecodeEvent()
	} else {
		e, err = s.comp.ReadEvent()
	}
	if errors.Is(err, raw.ErrEndOfStream) || errors.Is(err, compressed.ErrEndOfStream) {
		return e, io.EOF
	}
	return e, err
}

// Size returns the size of the underlying file in bytes.
func (s *Stream) Size() (int64, error) {
	if s.f == nil {
		return 0, nil
	}
	st, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Close closes the underlying file.
func (s *Stream) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}
